// Package crawler drives the resumable, quota-limited traversal of regions
// and keywords, feeding every search result through extraction and scoring.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/alvmarrod/lead-weaver/internal/checkpoint"
	"github.com/alvmarrod/lead-weaver/internal/extract"
	"github.com/alvmarrod/lead-weaver/internal/relevance"
	"github.com/alvmarrod/lead-weaver/internal/search"
	"github.com/alvmarrod/lead-weaver/internal/storage"
	"github.com/sirupsen/logrus"
)

// State is a phase of the orchestrator
type State string

const (
	StateFreshStart      State = "FRESH_START"
	StateResuming        State = "RESUMING"
	StateMacroLoop       State = "MACRO_LOOP"
	StateSubLoop         State = "SUB_LOOP"
	StateBudgetExhausted State = "BUDGET_EXHAUSTED"
	StateComplete        State = "COMPLETE"
	StateInterrupted     State = "INTERRUPTED"
	StateFailed          State = "FAILED"
)

// Ledger grants searches against the daily ceiling
type Ledger interface {
	TrySpend(n int) (bool, error)
	Remaining() int
	Spent() int
	Limit() int
}

// CheckpointStore persists the traversal position
type CheckpointStore interface {
	Load() (checkpoint.Checkpoint, error)
	Save(checkpoint.Checkpoint) error
}

// Records collects accepted contacts
type Records interface {
	Add(storage.ContactRecord) (bool, error)
	Len() int
	Flush() error
	Stats() storage.Stats
}

// Scorer rates page relevance; a nil Scorer disables relevance filtering
type Scorer interface {
	Score(text, title string) relevance.Result
}

// Metrics receives run counters; optional
type Metrics interface {
	IncrementSearchesIssued()
	IncrementSearchesFailed()
	IncrementURLsVisited()
	RecordExtraction(dynamic bool, duration time.Duration)
	RecordOutcome(accepted bool)
}

// Deps are the collaborators of a Crawler
type Deps struct {
	Search      search.Provider
	Extractor   extract.Extractor
	Scorer      Scorer
	Records     Records
	Ledger      Ledger
	Checkpoints CheckpointStore
	Metrics     Metrics
	Now         func() time.Time
}

// Summary describes how a run ended
type Summary struct {
	State      State
	UnitsRun   int
	Stats      storage.Stats
	Checkpoint checkpoint.Checkpoint
}

// Crawler orchestrates the traversal. Units run strictly one at a time.
type Crawler struct {
	plan Plan
	deps Deps

	mu       sync.Mutex
	position checkpoint.Checkpoint
	state    State
}

// NewCrawler creates a crawler for plan
func NewCrawler(plan Plan, deps Deps) *Crawler {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Crawler{plan: plan, deps: deps, position: checkpoint.Fresh()}
}

// Run walks the plan from the saved checkpoint until it completes, the
// daily budget runs out, or ctx is cancelled. Cancellation is observed
// between units: the unit in progress always runs to the end. In every case
// results are flushed and the position saved before returning, also when a
// panic escapes the traversal.
func (c *Crawler) Run(ctx context.Context) (summary Summary, err error) {
	units := 0
	defer func() {
		if r := recover(); r != nil {
			summary, err = c.fail(units, r)
		}
	}()

	saved, err := c.deps.Checkpoints.Load()
	if err != nil {
		logrus.Errorf("Ignoring unreadable checkpoint, starting fresh: %v", err)
		saved = checkpoint.Fresh()
	}

	if saved.Active {
		c.setState(StateResuming)
		logrus.Infof("Resuming from checkpoint: %s (completed: %v)", saved, saved.CompletedMacros)
	} else {
		c.setState(StateFreshStart)
		logrus.Infof("Starting fresh: %d search units planned", c.plan.Size())
	}

	pos := Start(c.plan, saved)
	c.setPosition(pos)

	if c.deps.Ledger.Remaining() <= 0 {
		logrus.Warnf("Daily search limit of %d already reached, nothing to do", c.deps.Ledger.Limit())
		return c.finish(StateBudgetExhausted, 0, nil)
	}

	// Units are not cut short by cancellation
	unitCtx := context.WithoutCancel(ctx)
	for {
		if ctx.Err() != nil {
			logrus.Warn("Interrupted, saving position")
			return c.finish(StateInterrupted, units, c.save(c.Position()))
		}

		step := Walk(c.plan, pos)
		switch step.Kind {
		case StepFinished:
			logrus.Info("All regions processed")
			return c.finish(StateComplete, units, c.save(checkpoint.Fresh()))

		case StepMacroDone:
			logrus.Infof("Macro-region %s complete", step.Macro)
			pos = step.Next
			c.setPosition(pos)
			if err := c.save(pos); err != nil {
				logrus.Errorf("Failed to record completion of %s: %v", step.Macro, err)
			}

		case StepSearch:
			if step.Unit.Kind == storage.RegionSub {
				c.setState(StateSubLoop)
			} else {
				c.setState(StateMacroLoop)
			}

			ok, err := c.deps.Ledger.TrySpend(1)
			if !ok {
				if err != nil {
					logrus.Errorf("Search ledger not persisted, stopping before %s: %v", step.At, err)
				} else {
					logrus.Warnf("Daily search limit of %d reached before %s", c.deps.Ledger.Limit(), step.At)
				}
				c.setPosition(step.At)
				return c.finish(StateBudgetExhausted, units, c.save(step.At))
			}

			units++
			logrus.Infof("Unit %d: '%s' in '%s' (%s) | searches %d/%d",
				units, step.Unit.Keyword, step.Unit.Region, step.Unit.Kind,
				c.deps.Ledger.Spent(), c.deps.Ledger.Limit())
			c.runUnit(unitCtx, step.Unit)

			// Only a finished unit moves the resume position past it
			pos = step.Next
			c.setPosition(pos)
		}
	}
}

// runUnit searches one unit and processes its results. A panic anywhere in
// the unit is contained here and the unit yields no results.
func (c *Crawler) runUnit(ctx context.Context, unit storage.SearchUnit) {
	log := logrus.WithFields(logrus.Fields{
		"region":  unit.Region,
		"kind":    unit.Kind,
		"keyword": unit.Keyword,
	})

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Unit failed: %v\n%s", r, debug.Stack())
		}
	}()

	if c.deps.Metrics != nil {
		c.deps.Metrics.IncrementSearchesIssued()
	}
	urls, err := c.deps.Search.Search(ctx, unit.Keyword, unit.Region)
	if err != nil {
		if c.deps.Metrics != nil {
			c.deps.Metrics.IncrementSearchesFailed()
		}
		if errors.Is(err, search.ErrQuotaRejected) {
			log.Errorf("Search rejected by provider quota: %v", err)
		} else {
			log.Warnf("Search failed: %v", err)
		}
		return
	}

	accepted := 0
	for _, u := range urls {
		if c.process(ctx, unit, u) {
			accepted++
		}
	}
	log.Infof("Unit done: %d/%d results accepted, %d contacts collected", accepted, len(urls), c.deps.Records.Len())
}

// process extracts, scores and stores a single result URL
func (c *Crawler) process(ctx context.Context, unit storage.SearchUnit, rawURL string) bool {
	start := time.Now()
	res := c.deps.Extractor.Extract(ctx, rawURL, unit)
	if c.deps.Metrics != nil {
		c.deps.Metrics.IncrementURLsVisited()
		c.deps.Metrics.RecordExtraction(res.Dynamic, time.Since(start))
	}

	if !res.Complete() {
		logrus.Debugf("Bare record for %s: %v", rawURL, res.Err)
	}

	rec := res.Record
	if c.deps.Scorer != nil {
		verdict := c.deps.Scorer.Score(res.Text, res.Title)
		rec.RelevanceScore = &verdict.Score
		rec.IsRelevant = &verdict.Accepted
		rec.RelevanceReason = verdict.Reason
	}

	ok, err := c.deps.Records.Add(rec)
	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordOutcome(ok)
	}
	if !ok {
		logrus.Debugf("Discarded %s: %v", rawURL, err)
	}
	return ok
}

// finish flushes results and builds the summary. saveErr is the outcome of
// the checkpoint write that preceded it.
func (c *Crawler) finish(state State, units int, saveErr error) (Summary, error) {
	c.setState(state)

	flushErr := c.deps.Records.Flush()
	if flushErr != nil {
		logrus.Errorf("Failed to save results: %v", flushErr)
	}

	summary := Summary{
		State:      state,
		UnitsRun:   units,
		Stats:      c.deps.Records.Stats(),
		Checkpoint: c.Position(),
	}
	if state == StateComplete {
		summary.Checkpoint = checkpoint.Fresh()
	}

	logrus.Infof("Run finished in state %s after %d units", state, units)
	return summary, errors.Join(saveErr, flushErr)
}

// fail handles a panic that escaped Run: it saves the last finished position
// and whatever results were collected, then reports the run as failed.
func (c *Crawler) fail(units int, r any) (Summary, error) {
	logrus.Errorf("Run failed: %v\n%s", r, debug.Stack())
	c.setState(StateFailed)

	pos := c.Position()
	saveErr := guard("checkpoint", func() error { return c.save(pos) })
	flushErr := guard("flush", c.deps.Records.Flush)
	if flushErr != nil {
		logrus.Errorf("Failed to save results: %v", flushErr)
	}

	summary := Summary{
		State:      StateFailed,
		UnitsRun:   units,
		Stats:      c.deps.Records.Stats(),
		Checkpoint: pos,
	}
	return summary, errors.Join(fmt.Errorf("run failed: %v", r), saveErr, flushErr)
}

// guard runs fn, turning a panic into an error
func guard(what string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", what, r)
		}
	}()
	return fn()
}

// EmergencySave flushes results and saves the last attempted position.
// It is safe to call from another goroutine while Run is active.
func (c *Crawler) EmergencySave() error {
	pos := c.Position()
	var errs []error
	if c.State() != StateComplete {
		errs = append(errs, c.save(pos))
	}
	errs = append(errs, c.deps.Records.Flush())
	return errors.Join(errs...)
}

func (c *Crawler) save(pos checkpoint.Checkpoint) error {
	pos.Timestamp = c.deps.Now()
	if err := c.deps.Checkpoints.Save(pos); err != nil {
		logrus.Errorf("Checkpoint not saved, this run cannot be resumed: %v", err)
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

// Position returns the current resume position
func (c *Crawler) Position() checkpoint.Checkpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

// State returns the current phase
func (c *Crawler) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Crawler) setPosition(pos checkpoint.Checkpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.position = pos
}

func (c *Crawler) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != s {
		logrus.Debugf("State %s -> %s", c.state, s)
	}
	c.state = s
}
