package crawler

import (
	"slices"

	"github.com/alvmarrod/lead-weaver/internal/checkpoint"
	"github.com/alvmarrod/lead-weaver/internal/storage"
)

// Plan is the geographic hierarchy crossed with the keyword list.
// Every macro-region runs its keywords first, then each of its sub-regions
// runs the full keyword list.
type Plan struct {
	Keywords []string
	Macros   []string
	Subs     map[string][]string
}

// Size returns the number of search units in the plan
func (p Plan) Size() int {
	n := 0
	for _, m := range p.Macros {
		n += len(p.Keywords) * (1 + len(p.Subs[m]))
	}
	return n
}

// StepKind says what the traversal wants done next
type StepKind int

const (
	// StepSearch asks for Unit to be searched
	StepSearch StepKind = iota
	// StepMacroDone reports that Macro has no units left
	StepMacroDone
	// StepFinished means every macro-region has been processed
	StepFinished
)

// Step is the result of Walk. At names the position of the step itself,
// Next the position that follows it.
type Step struct {
	Kind  StepKind
	Unit  storage.SearchUnit
	Macro string
	At    checkpoint.Checkpoint
	Next  checkpoint.Checkpoint
}

// Walk returns the next step from position at. It never mutates its inputs:
// the caller moves on by passing Step.Next back in.
func Walk(plan Plan, at checkpoint.Checkpoint) Step {
	pos := at
	pos.CompletedMacros = slices.Clone(at.CompletedMacros)

	for {
		if pos.MacroIndex >= len(plan.Macros) {
			return Step{Kind: StepFinished, At: pos, Next: pos}
		}
		macro := plan.Macros[pos.MacroIndex]

		if pos.IsCompleted(macro) {
			pos = nextMacro(plan, pos)
			continue
		}

		if !pos.InSubRegion {
			if pos.KeywordIndex < len(plan.Keywords) {
				unit := storage.SearchUnit{
					Region:  macro,
					Kind:    storage.RegionMacro,
					Keyword: plan.Keywords[pos.KeywordIndex],
				}
				return searchStep(plan, pos, unit)
			}
			pos.InSubRegion = true
			pos.SubIndex = 0
			pos.KeywordIndex = 0
			continue
		}

		subs := plan.Subs[macro]
		if pos.SubIndex >= len(subs) {
			done := pos.WithCompleted(macro)
			return Step{Kind: StepMacroDone, Macro: macro, At: pos, Next: nextMacro(plan, done)}
		}
		if pos.KeywordIndex >= len(plan.Keywords) {
			pos.SubIndex++
			pos.KeywordIndex = 0
			continue
		}

		unit := storage.SearchUnit{
			Region:      subs[pos.SubIndex],
			Kind:        storage.RegionSub,
			Keyword:     plan.Keywords[pos.KeywordIndex],
			ParentMacro: macro,
		}
		return searchStep(plan, pos, unit)
	}
}

func searchStep(plan Plan, pos checkpoint.Checkpoint, unit storage.SearchUnit) Step {
	at := label(plan, pos)
	next := at
	next.KeywordIndex++
	return Step{Kind: StepSearch, Unit: unit, At: at, Next: label(plan, next)}
}

// nextMacro points pos at the start of the following macro-region
func nextMacro(plan Plan, pos checkpoint.Checkpoint) checkpoint.Checkpoint {
	pos.MacroIndex++
	pos.KeywordIndex = 0
	pos.InSubRegion = false
	pos.SubIndex = 0
	return label(plan, pos)
}

// label fills the name fields from the indices; out-of-range indices get empty names
func label(plan Plan, pos checkpoint.Checkpoint) checkpoint.Checkpoint {
	pos.MacroName, pos.Keyword, pos.SubName = "", "", ""

	if pos.MacroIndex >= 0 && pos.MacroIndex < len(plan.Macros) {
		pos.MacroName = plan.Macros[pos.MacroIndex]
	}
	if pos.KeywordIndex >= 0 && pos.KeywordIndex < len(plan.Keywords) {
		pos.Keyword = plan.Keywords[pos.KeywordIndex]
	}
	if pos.InSubRegion {
		subs := plan.Subs[pos.MacroName]
		if pos.SubIndex >= 0 && pos.SubIndex < len(subs) {
			pos.SubName = subs[pos.SubIndex]
		}
	}
	return pos
}

// Start returns the position a run begins from: the origin for an inactive
// checkpoint, or the checkpoint re-anchored on its names. A name that moved
// to another index (the plan was edited between runs) is followed; a name no
// longer in the plan resets the levels below it.
func Start(plan Plan, cp checkpoint.Checkpoint) checkpoint.Checkpoint {
	if !cp.Active {
		return label(plan, checkpoint.Checkpoint{Active: true, CompletedMacros: []string{}})
	}

	pos := cp
	pos.CompletedMacros = slices.Clone(cp.CompletedMacros)
	if pos.CompletedMacros == nil {
		pos.CompletedMacros = []string{}
	}
	pos.MacroIndex = max(0, pos.MacroIndex)
	pos.KeywordIndex = max(0, pos.KeywordIndex)
	pos.SubIndex = max(0, pos.SubIndex)

	if cp.MacroName != "" && nameAt(plan.Macros, pos.MacroIndex) != cp.MacroName {
		if i := slices.Index(plan.Macros, cp.MacroName); i >= 0 {
			pos.MacroIndex = i
		} else {
			return resetWithin(plan, pos)
		}
	}

	if pos.InSubRegion && cp.SubName != "" {
		subs := plan.Subs[nameAt(plan.Macros, pos.MacroIndex)]
		if nameAt(subs, pos.SubIndex) != cp.SubName {
			if i := slices.Index(subs, cp.SubName); i >= 0 {
				pos.SubIndex = i
			} else {
				pos.SubIndex = 0
				pos.KeywordIndex = 0
				return label(plan, pos)
			}
		}
	}

	if cp.Keyword != "" && nameAt(plan.Keywords, pos.KeywordIndex) != cp.Keyword {
		if i := slices.Index(plan.Keywords, cp.Keyword); i >= 0 {
			pos.KeywordIndex = i
		} else {
			pos.KeywordIndex = 0
		}
	}

	return label(plan, pos)
}

func resetWithin(plan Plan, pos checkpoint.Checkpoint) checkpoint.Checkpoint {
	pos.KeywordIndex = 0
	pos.InSubRegion = false
	pos.SubIndex = 0
	return label(plan, pos)
}

func nameAt(names []string, i int) string {
	if i < 0 || i >= len(names) {
		return ""
	}
	return names[i]
}
