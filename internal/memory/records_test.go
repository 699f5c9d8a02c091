package memory

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alvmarrod/lead-weaver/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	name    string
	err     error
	batches [][]storage.ContactRecord
	stats   []storage.Stats
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Write(records []storage.ContactRecord, stats storage.Stats, _ time.Time) error {
	s.batches = append(s.batches, records)
	s.stats = append(s.stats, stats)
	return s.err
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func record(url, region string, kind storage.RegionKind, phone string) storage.ContactRecord {
	return storage.ContactRecord{URL: url, Region: region, RegionKind: kind, Phone: phone}
}

func ptr[T any](v T) *T { return &v }

func TestAddRejectsDuplicates(t *testing.T) {
	t.Parallel()
	s := NewRecordStore(Options{})

	ok, err := s.Add(record("https://a.es/", "Madrid", storage.RegionMacro, "+34666112233"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Add(record("https://a.es/", "Madrid", storage.RegionMacro, ""))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrDuplicateURL)

	ok, err = s.Add(record("https://b.es/", "Getafe", storage.RegionSub, "+34666112233"))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrDuplicatePhone)

	// Records without a phone never collide on it
	ok, _ = s.Add(record("https://c.es/", "Madrid", storage.RegionMacro, ""))
	assert.True(t, ok)
	ok, _ = s.Add(record("https://d.es/", "Madrid", storage.RegionMacro, ""))
	assert.True(t, ok)

	assert.Equal(t, 3, s.Len())
}

func TestAddFilters(t *testing.T) {
	t.Parallel()

	s := NewRecordStore(Options{RequirePhone: true})

	ok, err := s.Add(record("https://a.es/", "Madrid", storage.RegionMacro, ""))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrMissingPhone)

	rejected := record("https://b.es/", "Madrid", storage.RegionMacro, "+34666112233")
	rejected.IsRelevant = ptr(false)
	ok, err = s.Add(rejected)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNotRelevant)

	// A rejected record does not reserve its keys
	accepted := record("https://b.es/", "Madrid", storage.RegionMacro, "+34666112233")
	accepted.IsRelevant = ptr(true)
	ok, err = s.Add(accepted)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFlushWritesAllSinks(t *testing.T) {
	t.Parallel()
	failing := &recordingSink{name: "broken", err: errors.New("disk full")}
	files := &recordingSink{name: "files"}
	s := NewRecordStore(Options{RunID: "run-1", Usage: func() (int, int) { return 7, 95 }}, failing, files)

	_, _ = s.Add(record("https://a.es/", "Madrid", storage.RegionMacro, "+34666112233"))

	err := s.Flush()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")

	require.Len(t, files.batches, 1)
	assert.Len(t, files.batches[0], 1)
	assert.Equal(t, "run-1", files.stats[0].RunID)
	assert.Equal(t, 7, files.stats[0].SearchesUsed)
	assert.Equal(t, 95, files.stats[0].SearchesLimit)
}

func TestFlushSkipsEmptyStore(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{name: "files"}
	s := NewRecordStore(Options{}, sink)

	require.NoError(t, s.Flush())
	assert.Empty(t, sink.batches)
}

func TestPeriodicFlush(t *testing.T) {
	t.Parallel()
	clock := newClock()
	sink := &recordingSink{name: "files"}
	s := NewRecordStore(Options{FlushInterval: 5 * time.Minute, Now: clock.Now}, sink)

	_, _ = s.Add(record("https://a.es/", "Madrid", storage.RegionMacro, ""))
	assert.Empty(t, sink.batches)

	clock.Advance(5 * time.Minute)
	_, _ = s.Add(record("https://b.es/", "Madrid", storage.RegionMacro, ""))
	require.Len(t, sink.batches, 1)
	assert.Len(t, sink.batches[0], 2)

	// The interval restarts after each flush
	clock.Advance(time.Minute)
	_, _ = s.Add(record("https://c.es/", "Madrid", storage.RegionMacro, ""))
	assert.Len(t, sink.batches, 1)
}

func TestStats(t *testing.T) {
	t.Parallel()
	s := NewRecordStore(Options{})

	recs := []storage.ContactRecord{
		{URL: "https://a.es/", Region: "Andalucía", RegionKind: storage.RegionMacro, Email: "a@a.es", RelevanceScore: ptr(80)},
		{URL: "https://b.es/", Region: "Andalucía", RegionKind: storage.RegionMacro, Phone: "+34666000001", RelevanceScore: ptr(50)},
		{URL: "https://c.es/", Region: "Sevilla", RegionKind: storage.RegionSub, ParentMacro: "Andalucía", Email: "c@c.es", Phone: "+34666000002", RelevanceScore: ptr(20)},
		{URL: "https://d.es/", Region: "Cádiz", RegionKind: storage.RegionSub, ParentMacro: "Andalucía"},
		{URL: "https://e.es/", Region: "Madrid", RegionKind: storage.RegionMacro},
	}
	for _, r := range recs {
		_, err := s.Add(r)
		require.NoError(t, err)
	}

	st := s.Stats()
	assert.Equal(t, 5, st.Total)
	assert.Equal(t, 2, st.WithEmail)
	assert.Equal(t, 2, st.WithPhone)
	assert.Equal(t, 2, st.MacroRegions)
	assert.Equal(t, 2, st.SubRegions)
	assert.Equal(t, 3, st.Scored)
	assert.Equal(t, 1, st.HighRelevance)
	assert.Equal(t, 1, st.MedRelevance)
	assert.Equal(t, 1, st.LowRelevance)
	assert.InDelta(t, 50.0, st.MeanRelevance, 0.001)
}

func TestDedupRepass(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{name: "files"}
	s := NewRecordStore(Options{}, sink)

	// Bypass Add to simulate a collection that drifted
	s.records = []storage.ContactRecord{
		record("https://a.es/", "Madrid", storage.RegionMacro, "+34666112233"),
		record("https://a.es/", "Madrid", storage.RegionMacro, ""),
		record("https://b.es/", "Madrid", storage.RegionMacro, "+34666112233"),
		record("https://c.es/", "Madrid", storage.RegionMacro, ""),
	}

	require.NoError(t, s.Flush())
	assert.Equal(t, 2, s.Len())
	assert.Len(t, sink.batches[0], 2)
}

func TestStatsKeepsSameNamedSubRegionsApart(t *testing.T) {
	t.Parallel()
	s := NewRecordStore(Options{})

	_, _ = s.Add(storage.ContactRecord{URL: "https://a.es/", Region: "San Juan", RegionKind: storage.RegionSub, ParentMacro: "Alicante"})
	_, _ = s.Add(storage.ContactRecord{URL: "https://b.es/", Region: "San Juan", RegionKind: storage.RegionSub, ParentMacro: "Tenerife"})
	_, _ = s.Add(storage.ContactRecord{URL: "https://c.es/", Region: "San Juan", RegionKind: storage.RegionSub, ParentMacro: "Tenerife"})

	st := s.Stats()
	assert.Equal(t, 2, st.MacroRegions)
	assert.Equal(t, 2, st.SubRegions)
}

// slowSink notes the most writes it ever saw in flight at once
type slowSink struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *slowSink) Name() string { return "slow" }

func (s *slowSink) Write([]storage.ContactRecord, storage.Stats, time.Time) error {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	return nil
}

func TestConcurrentFlushesDoNotOverlap(t *testing.T) {
	t.Parallel()
	sink := &slowSink{}
	s := NewRecordStore(Options{}, sink)
	_, err := s.Add(record("https://a.es/", "Madrid", storage.RegionMacro, ""))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Flush())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), sink.peak.Load())
}
