package storage

import "time"

// RegionKind distinguishes top-level regions from the localities nested in them
type RegionKind string

const (
	RegionMacro RegionKind = "macro"
	RegionSub   RegionKind = "sub"
)

// SearchUnit is one (region, keyword) pair of the traversal
type SearchUnit struct {
	Region      string
	Kind        RegionKind
	Keyword     string
	ParentMacro string // empty for macro units
}

// ContactRecord is the result of visiting a single search-result URL.
// Optional fields are left empty when the page did not expose them.
type ContactRecord struct {
	URL             string     `json:"url"`
	Region          string     `json:"region"`
	RegionKind      RegionKind `json:"region_kind"`
	ParentMacro     string     `json:"parent_macro,omitempty"`
	Keyword         string     `json:"keyword"`
	Email           string     `json:"email,omitempty"`
	Phone           string     `json:"phone,omitempty"`
	WhatsAppLink    string     `json:"whatsapp_link,omitempty"`
	DisplayName     string     `json:"display_name,omitempty"`
	ExtractedAt     time.Time  `json:"extracted_at,omitempty"`
	RelevanceScore  *int       `json:"relevance_score,omitempty"`
	IsRelevant      *bool      `json:"is_relevant,omitempty"`
	RelevanceReason string     `json:"relevance_reason,omitempty"`
}

// NewRecord returns a record carrying only the identifying fields of a unit
func NewRecord(url string, unit SearchUnit) ContactRecord {
	return ContactRecord{
		URL:         url,
		Region:      unit.Region,
		RegionKind:  unit.Kind,
		ParentMacro: unit.ParentMacro,
		Keyword:     unit.Keyword,
	}
}

// MacroRegion returns the top-level region the record belongs to
func (r ContactRecord) MacroRegion() string {
	if r.RegionKind == RegionSub {
		return r.ParentMacro
	}
	return r.Region
}

// Stats is the aggregate snapshot written alongside every flush
type Stats struct {
	RunID         string    `json:"run_id"`
	GeneratedAt   time.Time `json:"generated_at"`
	Total         int       `json:"total"`
	WithEmail     int       `json:"with_email"`
	WithPhone     int       `json:"with_phone"`
	MacroRegions  int       `json:"macro_regions"`
	SubRegions    int       `json:"sub_regions"`
	Scored        int       `json:"scored"`
	HighRelevance int       `json:"high_relevance"`
	MedRelevance  int       `json:"medium_relevance"`
	LowRelevance  int       `json:"low_relevance"`
	MeanRelevance float64   `json:"mean_relevance"`
	SearchesUsed  int       `json:"searches_used"`
	SearchesLimit int       `json:"searches_limit"`
}

// Metrics tracks run statistics for export on exit
type Metrics struct {
	StartTime          time.Time `json:"start_time"`
	EndTime            time.Time `json:"end_time"`
	SearchesIssued     int       `json:"searches_issued"`
	SearchesFailed     int       `json:"searches_failed"`
	URLsVisited        int       `json:"urls_visited"`
	StaticExtractions  int       `json:"static_extractions"`
	DynamicExtractions int       `json:"dynamic_extractions"`
	RecordsAccepted    int       `json:"records_accepted"`
	RecordsRejected    int       `json:"records_rejected"`
	TotalFetchTimeMs   int64     `json:"total_fetch_time_ms"`
	AvgFetchTimeMs     int64     `json:"avg_fetch_time_ms"`
	TerminationReason  string    `json:"termination_reason"`
}
