package memory

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alvmarrod/lead-weaver/internal/storage"
	"github.com/sirupsen/logrus"
)

// Sink persists a full snapshot of the collected records
type Sink interface {
	Name() string
	Write(records []storage.ContactRecord, stats storage.Stats, at time.Time) error
}

// Reasons Add can turn a record down
var (
	ErrDuplicateURL   = errors.New("duplicate url")
	ErrDuplicatePhone = errors.New("duplicate phone")
	ErrNotRelevant    = errors.New("not relevant")
	ErrMissingPhone   = errors.New("missing phone")
)

// Options configures a RecordStore
type Options struct {
	RequirePhone  bool
	FlushInterval time.Duration // zero disables periodic flushes
	RunID         string
	Now           func() time.Time
	// Usage reports searches spent and the daily ceiling for the stats snapshot
	Usage func() (used, limit int)
}

// RecordStore holds the accepted records of a run, deduplicated by URL and
// by phone number, and writes them to its sinks
type RecordStore struct {
	opts  Options
	sinks []Sink

	records    []storage.ContactRecord
	seenURLs   map[string]bool
	seenPhones map[string]bool
	lastFlush  time.Time
	mu         sync.RWMutex

	// flushMu keeps sink writes from overlapping
	flushMu sync.Mutex
}

// NewRecordStore creates an empty store
func NewRecordStore(opts Options, sinks ...Sink) *RecordStore {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &RecordStore{
		opts:       opts,
		sinks:      sinks,
		seenURLs:   make(map[string]bool),
		seenPhones: make(map[string]bool),
		lastFlush:  opts.Now(),
	}
}

// Add stores rec unless it repeats a URL or phone already seen, was scored
// as not relevant, or lacks a phone when one is required. Accepting a record
// may trigger a periodic flush.
func (s *RecordStore) Add(rec storage.ContactRecord) (bool, error) {
	s.mu.Lock()
	if err := s.admit(rec); err != nil {
		s.mu.Unlock()
		logrus.Debugf("Record %s rejected: %v", rec.URL, err)
		return false, err
	}

	s.records = append(s.records, rec)
	s.seenURLs[rec.URL] = true
	if rec.Phone != "" {
		s.seenPhones[rec.Phone] = true
	}
	due := s.opts.FlushInterval > 0 && s.opts.Now().Sub(s.lastFlush) >= s.opts.FlushInterval
	s.mu.Unlock()

	logrus.Infof("Contact added: %s", rec.URL)

	if due {
		logrus.Info("Flush interval elapsed, saving results")
		if err := s.Flush(); err != nil {
			logrus.Errorf("Periodic flush failed: %v", err)
		}
	}
	return true, nil
}

func (s *RecordStore) admit(rec storage.ContactRecord) error {
	if s.seenURLs[rec.URL] {
		return ErrDuplicateURL
	}
	if rec.Phone != "" && s.seenPhones[rec.Phone] {
		return ErrDuplicatePhone
	}
	if rec.IsRelevant != nil && !*rec.IsRelevant {
		return ErrNotRelevant
	}
	if s.opts.RequirePhone && rec.Phone == "" {
		return ErrMissingPhone
	}
	return nil
}

// Len returns the number of accepted records
func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Records returns a copy of the accepted records
func (s *RecordStore) Records() []storage.ContactRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]storage.ContactRecord(nil), s.records...)
}

// Flush re-checks the collection for duplicates and writes it, with a
// stats snapshot, to every sink. All sinks are attempted; the first error
// is returned.
func (s *RecordStore) Flush() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	s.dedup()
	records := append([]storage.ContactRecord(nil), s.records...)
	now := s.opts.Now()
	s.lastFlush = now
	s.mu.Unlock()

	if len(records) == 0 {
		logrus.Warn("No contacts to save")
		return nil
	}

	startTime := time.Now()
	logrus.Infof("Starting flush of %d contacts...", len(records))

	stats := s.Stats()
	var firstErr error
	for _, sink := range s.sinks {
		if err := sink.Write(records, stats, now); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s sink: %w", sink.Name(), err)
			}
			logrus.Errorf("Failed to flush to %s: %v", sink.Name(), err)
		}
	}

	logrus.Infof("Flush complete: %d contacts written to %d sinks in %v", len(records), len(s.sinks), time.Since(startTime))
	return firstErr
}

// dedup drops any record whose URL or phone repeats an earlier one.
// Caller holds the write lock.
func (s *RecordStore) dedup() {
	urls := make(map[string]bool, len(s.records))
	phones := make(map[string]bool, len(s.records))
	unique := s.records[:0]

	for _, rec := range s.records {
		if urls[rec.URL] || (rec.Phone != "" && phones[rec.Phone]) {
			continue
		}
		urls[rec.URL] = true
		if rec.Phone != "" {
			phones[rec.Phone] = true
		}
		unique = append(unique, rec)
	}

	if removed := len(s.records) - len(unique); removed > 0 {
		logrus.Infof("Duplicates removed: %d. Unique contacts: %d", removed, len(unique))
	}
	s.records = unique
}

// Stats computes the aggregate snapshot of the collection
func (s *RecordStore) Stats() storage.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := storage.Stats{
		RunID:       s.opts.RunID,
		GeneratedAt: s.opts.Now(),
		Total:       len(s.records),
	}

	macros := make(map[string]bool)
	subs := make(map[string]bool)
	scoreSum := 0

	for _, rec := range s.records {
		if rec.Email != "" {
			st.WithEmail++
		}
		if rec.Phone != "" {
			st.WithPhone++
		}

		if m := rec.MacroRegion(); m != "" {
			macros[m] = true
		}
		if rec.RegionKind == storage.RegionSub {
			subs[rec.ParentMacro+"/"+rec.Region] = true
		}

		if rec.RelevanceScore == nil {
			continue
		}
		score := *rec.RelevanceScore
		st.Scored++
		scoreSum += score
		switch {
		case score >= 70:
			st.HighRelevance++
		case score >= 40:
			st.MedRelevance++
		default:
			st.LowRelevance++
		}
	}

	st.MacroRegions = len(macros)
	st.SubRegions = len(subs)
	if st.Scored > 0 {
		st.MeanRelevance = float64(scoreSum) / float64(st.Scored)
	}
	if s.opts.Usage != nil {
		st.SearchesUsed, st.SearchesLimit = s.opts.Usage()
	}
	return st
}
