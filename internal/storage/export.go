package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// timestampLayout names every export file of a flush after the flush time
const timestampLayout = "20060102_150405"

var contactColumns = []string{
	"url", "region", "region_kind", "parent_macro", "keyword",
	"email", "phone", "whatsapp_link", "display_name", "extracted_at",
	"relevance_score", "is_relevant", "relevance_reason",
}

// FileExporter writes tabular (CSV) and structured (JSON) exports of
// the record collection and of its statistics snapshot
type FileExporter struct {
	dir    string
	prefix string
}

// NewFileExporter creates an exporter writing into dir, creating it if needed
func NewFileExporter(dir, prefix string) (*FileExporter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	if prefix == "" {
		prefix = "contacts"
	}
	return &FileExporter{dir: dir, prefix: prefix}, nil
}

// Name identifies the sink in logs
func (e *FileExporter) Name() string {
	return "files:" + e.dir
}

// Write exports records and stats under names stamped with at
func (e *FileExporter) Write(records []ContactRecord, stats Stats, at time.Time) error {
	stamp := at.Format(timestampLayout)
	base := filepath.Join(e.dir, e.prefix+"_"+stamp)
	statsBase := filepath.Join(e.dir, e.prefix+"_stats_"+stamp)

	if err := writeContactsCSV(base+".csv", records); err != nil {
		return err
	}
	if err := writeJSON(base+".json", records); err != nil {
		return err
	}
	if err := writeStatsCSV(statsBase+".csv", stats); err != nil {
		return err
	}
	if err := writeJSON(statsBase+".json", stats); err != nil {
		return err
	}
	return nil
}

func writeContactsCSV(path string, records []ContactRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create csv export: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(contactColumns); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, r := range records {
		if err := w.Write(contactRow(r)); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush csv export: %w", err)
	}
	return nil
}

func contactRow(r ContactRecord) []string {
	var extractedAt, score, relevant string
	if !r.ExtractedAt.IsZero() {
		extractedAt = r.ExtractedAt.Format("2006-01-02 15:04:05")
	}
	if r.RelevanceScore != nil {
		score = strconv.Itoa(*r.RelevanceScore)
	}
	if r.IsRelevant != nil {
		relevant = strconv.FormatBool(*r.IsRelevant)
	}

	return []string{
		r.URL, r.Region, string(r.RegionKind), r.ParentMacro, r.Keyword,
		r.Email, r.Phone, r.WhatsAppLink, r.DisplayName, extractedAt,
		score, relevant, r.RelevanceReason,
	}
}

func writeStatsCSV(path string, s Stats) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create stats export: %w", err)
	}
	defer file.Close()

	rows := [][]string{
		{"metric", "value"},
		{"run_id", s.RunID},
		{"generated_at", s.GeneratedAt.Format(time.RFC3339)},
		{"total", strconv.Itoa(s.Total)},
		{"with_email", strconv.Itoa(s.WithEmail)},
		{"with_phone", strconv.Itoa(s.WithPhone)},
		{"macro_regions", strconv.Itoa(s.MacroRegions)},
		{"sub_regions", strconv.Itoa(s.SubRegions)},
		{"scored", strconv.Itoa(s.Scored)},
		{"high_relevance", strconv.Itoa(s.HighRelevance)},
		{"medium_relevance", strconv.Itoa(s.MedRelevance)},
		{"low_relevance", strconv.Itoa(s.LowRelevance)},
		{"mean_relevance", strconv.FormatFloat(s.MeanRelevance, 'f', 2, 64)},
		{"searches_used", strconv.Itoa(s.SearchesUsed)},
		{"searches_limit", strconv.Itoa(s.SearchesLimit)},
	}

	w := csv.NewWriter(file)
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write stats csv: %w", err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal export: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write export %s: %w", path, err)
	}
	return nil
}
