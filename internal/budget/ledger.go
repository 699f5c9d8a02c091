// Package budget enforces the daily search quota across process restarts.
package budget

import (
	"fmt"
	"sync"
	"time"

	"github.com/alvmarrod/lead-weaver/internal/storage"
	"github.com/sirupsen/logrus"
)

const dateLayout = "2006-01-02"

// State is the persisted form of the ledger
type State struct {
	Date  string `json:"date"`
	Spent int    `json:"searches_spent"`
}

// Ledger counts searches spent today against a daily ceiling. The count
// is saved after every spend, and restarts at zero when the date changes.
type Ledger struct {
	path  string
	limit int
	now   func() time.Time

	mu    sync.Mutex
	state State
}

// Option customizes a Ledger
type Option func(*Ledger)

// WithClock replaces time.Now, mostly for tests
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// Open loads the ledger at path. A missing file is a fresh ledger.
func Open(path string, limit int, opts ...Option) (*Ledger, error) {
	l := &Ledger{path: path, limit: limit, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}

	found, err := storage.ReadJSONState(path, &l.state)
	if err != nil {
		return nil, fmt.Errorf("failed to load search ledger: %w", err)
	}
	if !found {
		l.state = State{}
	}

	l.rollover()
	logrus.Infof("Search ledger: %d/%d searches used on %s", l.state.Spent, l.limit, l.state.Date)
	return l, nil
}

// rollover resets the count when the stored date is not today.
// Caller holds the lock or owns l exclusively.
func (l *Ledger) rollover() {
	today := l.now().Format(dateLayout)
	if l.state.Date != today {
		if l.state.Date != "" {
			logrus.Infof("New day %s, search counter reset (was %d on %s)", today, l.state.Spent, l.state.Date)
		}
		l.state = State{Date: today}
	}
}

// Limit returns the daily ceiling
func (l *Ledger) Limit() int {
	return l.limit
}

// Spent returns today's count
func (l *Ledger) Spent() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	return l.state.Spent
}

// Remaining returns how many searches are still allowed today
func (l *Ledger) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	return max(0, l.limit-l.state.Spent)
}

// TrySpend reserves n searches. It returns false, changing nothing, when
// that would go over the ceiling or when the new count cannot be saved.
func (l *Ledger) TrySpend(n int) (bool, error) {
	if n <= 0 {
		return true, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollover()
	if l.state.Spent+n > l.limit {
		return false, nil
	}
	l.state.Spent += n
	if err := l.save(); err != nil {
		l.state.Spent -= n
		return false, err
	}
	return true, nil
}

// Reset sets today's count back to zero
func (l *Ledger) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = State{Date: l.now().Format(dateLayout)}
	return l.save()
}

// Snapshot returns a copy of the current state
func (l *Ledger) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	return l.state
}

func (l *Ledger) save() error {
	if err := storage.WriteJSONState(l.path, l.state); err != nil {
		return fmt.Errorf("failed to save search ledger: %w", err)
	}
	return nil
}
