package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/alvmarrod/lead-weaver/internal/budget"
	"github.com/alvmarrod/lead-weaver/internal/checkpoint"
	"github.com/alvmarrod/lead-weaver/internal/crawler"
	"github.com/alvmarrod/lead-weaver/internal/storage"
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
)

func count(n int) string {
	return humanize.Comma(int64(n))
}

func newTable(w io.Writer, title string) table.Writer {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.SetTitle(title)
	return tbl
}

// renderSummary prints the end-of-run report
func renderSummary(w io.Writer, s crawler.Summary, m storage.Metrics, usage budget.State, limit int, elapsed time.Duration) {
	tbl := newTable(w, "Run summary")
	tbl.AppendRows([]table.Row{
		{"State", string(s.State)},
		{"Elapsed", elapsed.Round(time.Second).String()},
		{"Search units run", count(s.UnitsRun)},
		{"Searches today", fmt.Sprintf("%s / %s", count(usage.Spent), count(limit))},
		{"Searches failed", count(m.SearchesFailed)},
		{"URLs visited", fmt.Sprintf("%s (%s static, %s dynamic)",
			count(m.URLsVisited), count(m.StaticExtractions), count(m.DynamicExtractions))},
	})
	tbl.AppendSeparator()
	tbl.AppendRows([]table.Row{
		{"Contacts", count(s.Stats.Total)},
		{"With email", count(s.Stats.WithEmail)},
		{"With phone", count(s.Stats.WithPhone)},
		{"Macro-regions", count(s.Stats.MacroRegions)},
		{"Sub-regions", count(s.Stats.SubRegions)},
	})
	if s.Stats.Scored > 0 {
		tbl.AppendSeparator()
		tbl.AppendRows([]table.Row{
			{"Relevance high/medium/low", fmt.Sprintf("%s / %s / %s",
				count(s.Stats.HighRelevance), count(s.Stats.MedRelevance), count(s.Stats.LowRelevance))},
			{"Mean relevance", fmt.Sprintf("%.1f", s.Stats.MeanRelevance)},
		})
	}
	if s.State != crawler.StateComplete && s.Checkpoint.Active {
		tbl.AppendSeparator()
		tbl.AppendRow(table.Row{"Resumes at", s.Checkpoint.String()})
	}
	tbl.Render()
}

// renderStatus prints the saved checkpoint and today's search usage
func renderStatus(w io.Writer, cp checkpoint.Checkpoint, usage budget.State, limit, stored int) {
	tbl := newTable(w, "Prospector status")
	tbl.AppendRow(table.Row{"Searches today", fmt.Sprintf("%s / %s (%s)",
		count(usage.Spent), count(limit), usage.Date)})
	if stored >= 0 {
		tbl.AppendRow(table.Row{"Stored contacts", count(stored)})
	}

	if !cp.Active {
		tbl.AppendRow(table.Row{"Checkpoint", "none, next run starts fresh"})
		tbl.Render()
		return
	}

	tbl.AppendRows([]table.Row{
		{"Checkpoint", cp.String()},
		{"Saved", humanize.Time(cp.Timestamp)},
		{"Completed macro-regions", completed(cp.CompletedMacros)},
	})
	tbl.Render()
}

func completed(macros []string) string {
	if len(macros) == 0 {
		return "-"
	}
	return fmt.Sprintf("%d (%s)", len(macros), strings.Join(macros, ", "))
}
