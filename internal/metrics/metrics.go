package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alvmarrod/lead-weaver/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
)

// Tracker holds and manages run metrics. Every counter is mirrored into a
// Prometheus registry so the run can also be exported as a textfile.
type Tracker struct {
	mu                    sync.Mutex
	data                  storage.Metrics
	totalExtractionTimeMs int64
	extractionCount       int

	registry    *prometheus.Registry
	searches    *prometheus.CounterVec
	visited     prometheus.Counter
	extractions *prometheus.CounterVec
	records     *prometheus.CounterVec
	duration    prometheus.Histogram
}

// NewTracker creates a new metrics tracker
func NewTracker() *Tracker {
	t := &Tracker{
		data: storage.Metrics{
			StartTime: time.Now(),
		},
		registry: prometheus.NewRegistry(),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prospector_searches_total",
			Help: "Search API calls issued, by outcome.",
		}, []string{"outcome"}),
		visited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prospector_urls_visited_total",
			Help: "Result URLs routed through extraction.",
		}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prospector_extractions_total",
			Help: "Extractions performed, by mode.",
		}, []string{"mode"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prospector_records_total",
			Help: "Records offered to the store, by result.",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "prospector_extraction_seconds",
			Help:    "Time spent extracting a single URL.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		}),
	}
	t.registry.MustRegister(t.searches, t.visited, t.extractions, t.records, t.duration)
	return t
}

// IncrementSearchesIssued increments the issued searches counter
func (t *Tracker) IncrementSearchesIssued() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.SearchesIssued++
	t.searches.WithLabelValues("issued").Inc()
}

// IncrementSearchesFailed increments the failed searches counter
func (t *Tracker) IncrementSearchesFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.SearchesFailed++
	t.searches.WithLabelValues("failed").Inc()
}

// IncrementURLsVisited increments the visited URLs counter
func (t *Tracker) IncrementURLsVisited() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.URLsVisited++
	t.visited.Inc()
}

// RecordExtraction counts one extraction and its duration
func (t *Tracker) RecordExtraction(dynamic bool, duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	mode := "static"
	if dynamic {
		mode = "dynamic"
		t.data.DynamicExtractions++
	} else {
		t.data.StaticExtractions++
	}
	t.extractions.WithLabelValues(mode).Inc()
	t.duration.Observe(duration.Seconds())

	t.totalExtractionTimeMs += duration.Milliseconds()
	t.extractionCount++
}

// RecordOutcome counts a record accepted or rejected by the store
func (t *Tracker) RecordOutcome(accepted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if accepted {
		t.data.RecordsAccepted++
		t.records.WithLabelValues("accepted").Inc()
		return
	}
	t.data.RecordsRejected++
	t.records.WithLabelValues("rejected").Inc()
}

// GetSnapshot returns a copy of current metrics
func (t *Tracker) GetSnapshot() storage.Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := t.data
	snapshot.TotalFetchTimeMs = t.totalExtractionTimeMs
	if t.extractionCount > 0 {
		snapshot.AvgFetchTimeMs = t.totalExtractionTimeMs / int64(t.extractionCount)
	}
	return snapshot
}

// Registry exposes the Prometheus registry backing the tracker
func (t *Tracker) Registry() *prometheus.Registry {
	return t.registry
}

// WriteToFile exports metrics to a JSON file
func (t *Tracker) WriteToFile(path, reason string) error {
	t.mu.Lock()
	t.data.EndTime = time.Now()
	t.data.TerminationReason = reason
	t.mu.Unlock()

	jsonData, err := json.MarshalIndent(t.GetSnapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics dir: %w", err)
	}
	if err := os.WriteFile(path, jsonData, 0o644); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}

	return nil
}

// WritePrometheus exports the registry in the node_exporter textfile format
func (t *Tracker) WritePrometheus(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, t.registry); err != nil {
		return fmt.Errorf("failed to write prometheus textfile: %w", err)
	}
	return nil
}

// LogProgress formats current metrics for periodic log lines
func (t *Tracker) LogProgress() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return fmt.Sprintf("Searches: %d issued, %d failed | URLs: %d (%d static, %d dynamic) | Records: %d accepted, %d rejected",
		t.data.SearchesIssued,
		t.data.SearchesFailed,
		t.data.URLsVisited,
		t.data.StaticExtractions,
		t.data.DynamicExtractions,
		t.data.RecordsAccepted,
		t.data.RecordsRejected,
	)
}
