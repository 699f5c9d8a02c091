// Package checkpoint persists the traversal position of a crawl so an
// interrupted or quota-limited run can resume where it stopped.
package checkpoint

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/alvmarrod/lead-weaver/internal/storage"
	"github.com/sirupsen/logrus"
)

// Checkpoint is an immutable snapshot of where the traversal stands.
// When Active is false every other field is meaningless.
type Checkpoint struct {
	Active          bool      `json:"active"`
	MacroIndex      int       `json:"macro_index"`
	MacroName       string    `json:"macro_name"`
	KeywordIndex    int       `json:"keyword_index"`
	Keyword         string    `json:"keyword"`
	InSubRegion     bool      `json:"in_sub_region"`
	SubIndex        int       `json:"sub_index"`
	SubName         string    `json:"sub_name"`
	CompletedMacros []string  `json:"completed_macros"`
	Timestamp       time.Time `json:"timestamp"`
}

// Fresh returns the inactive checkpoint of a run that starts from scratch
func Fresh() Checkpoint {
	return Checkpoint{CompletedMacros: []string{}}
}

// IsCompleted reports whether macro finished in an earlier session
func (c Checkpoint) IsCompleted(macro string) bool {
	return slices.Contains(c.CompletedMacros, macro)
}

// WithCompleted returns a copy with macro added to the completed set
func (c Checkpoint) WithCompleted(macro string) Checkpoint {
	out := c
	out.CompletedMacros = slices.Clone(c.CompletedMacros)
	if !slices.Contains(out.CompletedMacros, macro) {
		out.CompletedMacros = append(out.CompletedMacros, macro)
	}
	return out
}

// String describes the position for logs and the status command
func (c Checkpoint) String() string {
	if !c.Active {
		return "no active checkpoint"
	}
	if c.InSubRegion {
		return fmt.Sprintf("macro %d (%s), sub-region %d (%s), keyword %d (%s)",
			c.MacroIndex, c.MacroName, c.SubIndex, c.SubName, c.KeywordIndex, c.Keyword)
	}
	return fmt.Sprintf("macro %d (%s), keyword %d (%s)", c.MacroIndex, c.MacroName, c.KeywordIndex, c.Keyword)
}

// Store reads and writes the checkpoint file
type Store struct {
	path string
}

// NewStore creates a Store for path
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the checkpoint file location
func (s *Store) Path() string {
	return s.path
}

// Load returns the saved checkpoint, or Fresh when there is none
func (s *Store) Load() (Checkpoint, error) {
	var cp Checkpoint
	found, err := storage.ReadJSONState(s.path, &cp)
	if err != nil {
		return Fresh(), fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if !found || !cp.Active {
		return Fresh(), nil
	}
	if cp.CompletedMacros == nil {
		cp.CompletedMacros = []string{}
	}
	return cp, nil
}

// Save writes cp atomically
func (s *Store) Save(cp Checkpoint) error {
	if cp.CompletedMacros == nil {
		cp.CompletedMacros = []string{}
	}
	if err := storage.WriteJSONState(s.path, cp); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	logrus.Debugf("Checkpoint saved: %s", cp)
	return nil
}

// Reset removes the checkpoint file so the next run starts fresh
func (s *Store) Reset() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove checkpoint: %w", err)
	}
	return nil
}
