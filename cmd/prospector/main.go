package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/alvmarrod/lead-weaver/internal/config"
	"github.com/alvmarrod/lead-weaver/internal/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	// Configure logging; log.level and log.file are applied once the config is read
	logrus.SetLevel(logrus.InfoLevel)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	rootCmd := &cobra.Command{
		Use:   "prospector",
		Short: "Resumable lead-generation crawler for regional business contacts",
		Long: `prospector searches every keyword in every macro-region and sub-region,
extracts contact details from the result pages and keeps the ones relevant
to the configured sector. A daily search budget is enforced across runs and
an interrupted or exhausted run resumes where it stopped.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./config.yaml or ./config/config.yaml)")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newResetCommand())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		logrus.Errorf("%v", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "prospector %s\n", version.Version)
		},
	}
}

// loadConfig reads the configuration and applies its logging settings.
// The returned closer releases the log file, if any.
func loadConfig() (*config.Config, func(), error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	closeLog, err := setupLogging(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, closeLog, nil
}

// setupLogging sets the level and, when a log file is configured, tees
// output to stderr and the file
func setupLogging(cfg config.LogConfig) (func(), error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)

	if cfg.File == "" {
		return func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logrus.SetOutput(io.MultiWriter(os.Stderr, f))

	return func() {
		logrus.SetOutput(os.Stderr)
		f.Close()
	}, nil
}
