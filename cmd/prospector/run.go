package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alvmarrod/lead-weaver/internal/budget"
	"github.com/alvmarrod/lead-weaver/internal/checkpoint"
	"github.com/alvmarrod/lead-weaver/internal/classify"
	"github.com/alvmarrod/lead-weaver/internal/config"
	"github.com/alvmarrod/lead-weaver/internal/contact"
	"github.com/alvmarrod/lead-weaver/internal/crawler"
	"github.com/alvmarrod/lead-weaver/internal/extract"
	"github.com/alvmarrod/lead-weaver/internal/fetch"
	"github.com/alvmarrod/lead-weaver/internal/memory"
	"github.com/alvmarrod/lead-weaver/internal/metrics"
	"github.com/alvmarrod/lead-weaver/internal/relevance"
	"github.com/alvmarrod/lead-weaver/internal/search"
	"github.com/alvmarrod/lead-weaver/internal/storage"
	"github.com/alvmarrod/lead-weaver/internal/version"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const progressInterval = 30 * time.Second

type runOptions struct {
	testMode bool
	fresh    bool
}

func newRunCommand() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run or resume the crawl until it completes or the daily budget runs out",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			if opts.testMode {
				cfg.ApplyTestMode()
			}
			return runProspector(cmd.Context(), cfg, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.testMode, "test-mode", false, "limit the plan to 2 keywords, 2 macro-regions and 2 sub-regions each")
	cmd.Flags().BoolVar(&opts.fresh, "fresh", false, "discard the saved checkpoint and start from the first region")
	return cmd
}

// plan builds the traversal from the configured keywords and regions
func plan(cfg *config.Config) crawler.Plan {
	return crawler.Plan{
		Keywords: cfg.Keywords,
		Macros:   cfg.Regions.Macro,
		Subs:     cfg.Regions.Sub,
	}
}

func runProspector(parent context.Context, cfg *config.Config, opts runOptions) error {
	if err := cfg.RequireSearch(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logrus.Infof("Prospector v%s starting...", version.Version)
	p := plan(cfg)
	logrus.Infof("Configuration loaded: %d keywords, %d macro-regions, %d search units, daily limit %d, test mode %v",
		len(p.Keywords), len(p.Macros), p.Size(), cfg.Budget.DailyLimit, cfg.TestMode)

	// State
	ledger, err := budget.Open(cfg.Budget.LedgerPath, cfg.Budget.DailyLimit)
	if err != nil {
		return err
	}
	checkpoints := checkpoint.NewStore(cfg.Checkpoint.Path)
	if opts.fresh {
		logrus.Info("Discarding saved checkpoint")
		if err := checkpoints.Reset(); err != nil {
			return err
		}
	}

	// Sinks
	exporter, err := storage.NewFileExporter(cfg.Output.Dir, cfg.Output.Prefix)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Output.SQLitePath), 0o755); err != nil {
		return fmt.Errorf("failed to create database dir: %w", err)
	}
	store, err := storage.NewStorage(cfg.Output.SQLitePath)
	if err != nil {
		return err
	}
	defer store.Close()
	logrus.Infof("Database initialized: %s", cfg.Output.SQLitePath)

	runID := uuid.NewString()
	records := memory.NewRecordStore(memory.Options{
		RequirePhone:  cfg.Records.RequirePhone,
		FlushInterval: cfg.Records.FlushInterval,
		RunID:         runID,
		Usage: func() (int, int) {
			return ledger.Spent(), ledger.Limit()
		},
	}, exporter, store)

	// Fetching and extraction
	staticCfg := fetch.StaticConfig{
		Timeout:      cfg.Fetch.Timeout,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		UserAgents:   cfg.Fetch.UserAgents,
	}
	pages := fetch.NewStaticFetcher(staticCfg)
	probeCfg := staticCfg
	probeCfg.Timeout = cfg.Fetch.ProbeTimeout
	probe := fetch.NewStaticFetcher(probeCfg)

	renderer, err := fetch.NewRenderer(fetch.BrowserConfig{
		Engine:    cfg.Browser.Engine,
		Headless:  cfg.Browser.Headless,
		Timeout:   cfg.Browser.Timeout,
		ExecPath:  cfg.Browser.ExecPath,
		UserAgent: cfg.Browser.UserAgent,
		SettleMin: cfg.Delays.RenderSettle.Min,
		SettleMax: cfg.Delays.RenderSettle.Max,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := renderer.Close(); err != nil {
			logrus.Warnf("Failed to close browser: %v", err)
		}
	}()

	extractOpts := extract.Options{
		WhatsAppMessage: cfg.Records.WhatsAppMessage,
		DelayMin:        cfg.Delays.Extraction.Min,
		DelayMax:        cfg.Delays.Extraction.Max,
	}
	if cfg.Fetch.RespectRobots {
		extractOpts.Robots = fetch.NewRobotsPolicy(probe, "")
	}
	if cfg.Records.ValidateMX {
		extractOpts.MX = contact.NewMXVerifier(nil, 0)
	}

	classifier := classify.New(classify.Config{
		DynamicDomains: cfg.Classifier.DynamicDomains,
		LargePageBytes: cfg.Classifier.LargePageBytes,
	}, probe)
	extractor := extract.NewDispatcher(classifier,
		extract.NewStaticExtractor(pages, extractOpts),
		extract.NewDynamicExtractor(renderer, extractOpts))

	var scorer crawler.Scorer
	if cfg.Relevance.Enabled {
		s := relevance.NewScorer(cfg.Relevance.Sector, cfg.Sectors, cfg.Relevance.Threshold)
		logrus.Infof("Relevance filter on: sector %s, threshold %d", s.Sector(), cfg.Relevance.Threshold)
		scorer = s
	}

	// Search
	provider, err := search.NewGoogle(search.Config{
		APIKey:            cfg.Search.APIKey,
		CX:                cfg.Search.CX,
		Endpoint:          cfg.Search.Endpoint,
		QueryTemplate:     cfg.Search.QueryTemplate,
		MaxResults:        cfg.Search.MaxResults,
		RequestsPerMinute: cfg.Search.RequestsPerMinute,
		DelayMin:          cfg.Delays.Search.Min,
		DelayMax:          cfg.Delays.Search.Max,
	}, fetch.NewStaticFetcher(fetch.StaticConfig{Timeout: cfg.Search.Timeout}))
	if err != nil {
		return err
	}

	tracker := metrics.NewTracker()
	c := crawler.NewCrawler(p, crawler.Deps{
		Search:      provider,
		Extractor:   extractor,
		Scorer:      scorer,
		Records:     records,
		Ledger:      ledger,
		Checkpoints: checkpoints,
		Metrics:     tracker,
	})

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// First signal stops the run gracefully, a second one forces an exit
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case sig := <-sigChan:
			logrus.Warnf("Received signal (%v), saving progress after the current step...", sig)
			cancel()
		case <-done:
			return
		}

		select {
		case sig := <-sigChan:
			logrus.Warnf("Received second signal (%v) - forcing immediate exit!", sig)
			logrus.Warn("Attempting emergency save...")
			if err := c.EmergencySave(); err != nil {
				logrus.Errorf("Emergency save failed: %v", err)
			} else {
				logrus.Info("Emergency save succeeded")
			}
			if err := tracker.WriteToFile(cfg.Output.MetricsPath, "forced_exit"); err != nil {
				logrus.Errorf("Emergency metrics save failed: %v", err)
			}
			os.Exit(1)
		case <-done:
		}
	}()

	// Progress logger
	go func() {
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				logrus.Info(tracker.LogProgress())
			case <-done:
				return
			}
		}
	}()

	started := time.Now()
	summary, runErr := c.Run(ctx)

	reason := terminationReason(summary.State)
	if runErr != nil {
		reason = "failed"
	}
	logrus.Info("Final stats: " + tracker.LogProgress())
	if err := tracker.WriteToFile(cfg.Output.MetricsPath, reason); err != nil {
		logrus.Errorf("Failed to write metrics: %v", err)
	} else {
		logrus.Infof("Metrics written to %s", cfg.Output.MetricsPath)
	}
	if cfg.Output.PrometheusPath != "" {
		if err := tracker.WritePrometheus(cfg.Output.PrometheusPath); err != nil {
			logrus.Errorf("Failed to write Prometheus metrics: %v", err)
		}
	}

	if flushes, err := store.CountFlushes(runID); err != nil {
		logrus.Warnf("Failed to count flushes: %v", err)
	} else {
		logrus.Infof("Run %s saved %d snapshots to %s", runID, flushes, cfg.Output.SQLitePath)
	}

	renderSummary(os.Stdout, summary, tracker.GetSnapshot(), ledger.Snapshot(), ledger.Limit(), time.Since(started))

	if runErr != nil {
		return fmt.Errorf("run %s ended with errors: %w", runID, runErr)
	}
	return nil
}

func terminationReason(state crawler.State) string {
	switch state {
	case crawler.StateComplete:
		return "complete"
	case crawler.StateBudgetExhausted:
		return "budget_exhausted"
	case crawler.StateInterrupted:
		return "signal"
	case crawler.StateFailed:
		return "failed"
	default:
		return string(state)
	}
}
