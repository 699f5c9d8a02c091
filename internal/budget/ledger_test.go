package budget

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alvmarrod/lead-weaver/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newLedger(t *testing.T, path string, limit int, c *clock) *Ledger {
	t.Helper()
	l, err := Open(path, limit, WithClock(c.Now))
	require.NoError(t, err)
	return l
}

func TestMissingFileIsFresh(t *testing.T) {
	t.Parallel()
	c := &clock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	l := newLedger(t, filepath.Join(t.TempDir(), "state", "ledger.json"), 5, c)

	assert.Equal(t, 5, l.Remaining())
	assert.Equal(t, State{Date: "2026-03-02", Spent: 0}, l.Snapshot())
}

func TestTrySpendFailsClosed(t *testing.T) {
	t.Parallel()
	c := &clock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	l := newLedger(t, filepath.Join(t.TempDir(), "ledger.json"), 3, c)

	for range 3 {
		ok, err := l.TrySpend(1)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := l.TrySpend(1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, l.Spent())
	assert.Zero(t, l.Remaining())

	ok, _ = l.TrySpend(0)
	assert.True(t, ok)
}

func TestTrySpendDoesNotOvershoot(t *testing.T) {
	t.Parallel()
	c := &clock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	l := newLedger(t, filepath.Join(t.TempDir(), "ledger.json"), 3, c)

	ok, _ := l.TrySpend(2)
	assert.True(t, ok)
	ok, _ = l.TrySpend(2)
	assert.False(t, ok)
	assert.Equal(t, 2, l.Spent())
}

func TestSpendSurvivesRestart(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "ledger.json")
	c := &clock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}

	l := newLedger(t, path, 5, c)
	_, err := l.TrySpend(1)
	require.NoError(t, err)
	_, err = l.TrySpend(1)
	require.NoError(t, err)

	var saved State
	found, err := storage.ReadJSONState(path, &saved)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, State{Date: "2026-03-02", Spent: 2}, saved)

	reopened := newLedger(t, path, 5, c)
	assert.Equal(t, 3, reopened.Remaining())
}

func TestRolloverResetsCount(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "ledger.json")
	c := &clock{now: time.Date(2026, 3, 2, 23, 59, 0, 0, time.UTC)}

	l := newLedger(t, path, 2, c)
	_, _ = l.TrySpend(2)
	assert.Zero(t, l.Remaining())

	c.now = c.now.Add(2 * time.Minute)
	assert.Equal(t, 2, l.Remaining())
	ok, err := l.TrySpend(1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, State{Date: "2026-03-03", Spent: 1}, l.Snapshot())

	// A ledger written yesterday starts the day at zero
	require.NoError(t, storage.WriteJSONState(path, State{Date: "2026-03-01", Spent: 2}))
	reopened := newLedger(t, path, 2, c)
	assert.Equal(t, 2, reopened.Remaining())
}

func TestNeverExceedsCeiling(t *testing.T) {
	t.Parallel()
	c := &clock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
	l := newLedger(t, filepath.Join(t.TempDir(), "ledger.json"), 4, c)

	for _, n := range []int{1, 3, 2, 1, 1, 5, 1} {
		_, _ = l.TrySpend(n)
		assert.LessOrEqual(t, l.Spent(), l.Limit())
	}
	assert.Equal(t, 4, l.Spent())
}

func TestResetAndCorruptFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "ledger.json")
	c := &clock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}

	l := newLedger(t, path, 4, c)
	_, _ = l.TrySpend(3)
	require.NoError(t, l.Reset())
	assert.Equal(t, 4, l.Remaining())

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := Open(path, 4, WithClock(c.Now))
	assert.Error(t, err)
}

func TestTrySpendRefusesWhenSaveFails(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "state")
	c := &clock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
	l := newLedger(t, filepath.Join(dir, "ledger.json"), 4, c)

	// A plain file where the state directory should be
	require.NoError(t, os.WriteFile(dir, []byte("x"), 0o644))

	ok, err := l.TrySpend(1)
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Zero(t, l.Spent())
}
