package crawler

import (
	"testing"

	"github.com/alvmarrod/lead-weaver/internal/checkpoint"
	"github.com/alvmarrod/lead-weaver/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// walkAll drives Walk to the end, returning the units and the completed macros in order
func walkAll(t *testing.T, plan Plan, from checkpoint.Checkpoint) ([]storage.SearchUnit, []string) {
	t.Helper()
	var units []storage.SearchUnit
	var done []string

	pos := from
	for i := 0; i < 1000; i++ {
		step := Walk(plan, pos)
		switch step.Kind {
		case StepFinished:
			return units, done
		case StepMacroDone:
			done = append(done, step.Macro)
		case StepSearch:
			units = append(units, step.Unit)
		}
		pos = step.Next
	}
	t.Fatal("walk did not terminate")
	return nil, nil
}

func TestWalkOrder(t *testing.T) {
	t.Parallel()
	plan := Plan{
		Keywords: []string{"pan", "horno"},
		Macros:   []string{"Andalucía", "Aragón"},
		Subs:     map[string][]string{"Andalucía": {"Sevilla"}},
	}

	units, done := walkAll(t, plan, Start(plan, checkpoint.Fresh()))

	assert.Equal(t, []storage.SearchUnit{
		{Region: "Andalucía", Kind: storage.RegionMacro, Keyword: "pan"},
		{Region: "Andalucía", Kind: storage.RegionMacro, Keyword: "horno"},
		{Region: "Sevilla", Kind: storage.RegionSub, Keyword: "pan", ParentMacro: "Andalucía"},
		{Region: "Sevilla", Kind: storage.RegionSub, Keyword: "horno", ParentMacro: "Andalucía"},
		{Region: "Aragón", Kind: storage.RegionMacro, Keyword: "pan"},
		{Region: "Aragón", Kind: storage.RegionMacro, Keyword: "horno"},
	}, units)
	assert.Equal(t, []string{"Andalucía", "Aragón"}, done)
	assert.Equal(t, 6, plan.Size())
}

func TestWalkDoesNotMutateInput(t *testing.T) {
	t.Parallel()
	plan := Plan{Keywords: []string{"pan"}, Macros: []string{"Madrid", "Murcia"}}
	pos := Start(plan, checkpoint.Fresh())
	pos.KeywordIndex = 1

	step := Walk(plan, pos)

	require.Equal(t, StepMacroDone, step.Kind)
	assert.Empty(t, pos.CompletedMacros)
	assert.Equal(t, []string{"Madrid"}, step.Next.CompletedMacros)
	assert.Equal(t, "Murcia", step.Next.MacroName)
}

func TestWalkEmptyPlan(t *testing.T) {
	t.Parallel()

	step := Walk(Plan{}, Start(Plan{}, checkpoint.Fresh()))
	assert.Equal(t, StepFinished, step.Kind)

	// Regions without keywords still complete
	plan := Plan{Macros: []string{"Madrid"}, Subs: map[string][]string{"Madrid": {"Getafe"}}}
	units, done := walkAll(t, plan, Start(plan, checkpoint.Fresh()))
	assert.Empty(t, units)
	assert.Equal(t, []string{"Madrid"}, done)
}

func TestSearchStepPositions(t *testing.T) {
	t.Parallel()
	plan := Plan{Keywords: []string{"pan", "horno"}, Macros: []string{"Madrid"}}

	step := Walk(plan, Start(plan, checkpoint.Fresh()))

	assert.Equal(t, 0, step.At.KeywordIndex)
	assert.Equal(t, "pan", step.At.Keyword)
	assert.Equal(t, "Madrid", step.At.MacroName)
	assert.Equal(t, 1, step.Next.KeywordIndex)
	assert.Equal(t, "horno", step.Next.Keyword)
	assert.True(t, step.Next.Active)
}

func TestStartReanchorsOnNames(t *testing.T) {
	t.Parallel()
	// The plan gained a macro-region and reordered its keywords since the checkpoint
	plan := Plan{
		Keywords: []string{"obrador", "pan", "horno"},
		Macros:   []string{"Asturias", "Andalucía", "Aragón"},
		Subs:     map[string][]string{"Andalucía": {"Málaga", "Sevilla"}},
	}
	cp := checkpoint.Checkpoint{
		Active:       true,
		MacroIndex:   0,
		MacroName:    "Andalucía",
		KeywordIndex: 1,
		Keyword:      "horno",
		InSubRegion:  true,
		SubIndex:     0,
		SubName:      "Sevilla",
	}

	pos := Start(plan, cp)

	assert.Equal(t, 1, pos.MacroIndex)
	assert.Equal(t, 1, pos.SubIndex)
	assert.Equal(t, 2, pos.KeywordIndex)
	assert.Equal(t, "horno", pos.Keyword)
}

func TestStartResetsWhenNamesDisappear(t *testing.T) {
	t.Parallel()
	plan := Plan{
		Keywords: []string{"pan", "horno"},
		Macros:   []string{"Andalucía", "Aragón"},
		Subs:     map[string][]string{"Andalucía": {"Sevilla"}},
	}

	// Macro-region removed: stay at its index, restart it from the top
	pos := Start(plan, checkpoint.Checkpoint{
		Active: true, MacroIndex: 1, MacroName: "Baleares", KeywordIndex: 1, Keyword: "horno",
	})
	assert.Equal(t, 1, pos.MacroIndex)
	assert.Equal(t, 0, pos.KeywordIndex)
	assert.Equal(t, "Aragón", pos.MacroName)

	// Sub-region removed: restart the sub-region loop
	pos = Start(plan, checkpoint.Checkpoint{
		Active: true, MacroIndex: 0, MacroName: "Andalucía", InSubRegion: true,
		SubIndex: 3, SubName: "Cádiz", KeywordIndex: 1, Keyword: "horno",
	})
	assert.True(t, pos.InSubRegion)
	assert.Equal(t, 0, pos.SubIndex)
	assert.Equal(t, 0, pos.KeywordIndex)

	// Keyword removed
	pos = Start(plan, checkpoint.Checkpoint{
		Active: true, MacroIndex: 0, MacroName: "Andalucía", KeywordIndex: 1, Keyword: "bollería",
	})
	assert.Equal(t, 0, pos.KeywordIndex)
}

func TestStartFromInactiveCheckpoint(t *testing.T) {
	t.Parallel()
	plan := Plan{Keywords: []string{"pan"}, Macros: []string{"Madrid"}}

	pos := Start(plan, checkpoint.Checkpoint{Active: false, MacroIndex: 5, CompletedMacros: []string{"Madrid"}})

	assert.True(t, pos.Active)
	assert.Zero(t, pos.MacroIndex)
	assert.Empty(t, pos.CompletedMacros)
	assert.Equal(t, "Madrid", pos.MacroName)
}
