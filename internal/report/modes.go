package report

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"

	"github.com/conflictmonitor/viewbench/internal/baseline"
)

// WriteCorrectness renders a standalone audit.
func WriteCorrectness(w io.Writer, c *CorrectnessSummary, format Format) error {
	if format != FormatTable {
		return WriteJSON(w, c)
	}
	if _, err := fmt.Fprintln(w, checkTable(c.Rows)); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "dates=%d k=%d consistent=%t max_abs_diff=%s min_match_rate=%.2f failed_checks=%d\n",
		len(c.Dates), c.K, c.Consistent, humanize.Comma(c.MaxAbsDiff), c.MinMatchRate, c.FailedChecks)
	return err
}

// WriteBaseline renders a standalone baseline measurement.
func WriteBaseline(w io.Writer, r *baseline.Result, format Format) error {
	if format != FormatTable {
		return WriteJSON(w, r)
	}
	t := uitable.New()
	for _, col := range []int{1, 2, 3} {
		t.RightAlign(col)
	}
	t.AddRow("DERIVATION", "MEAN", "MEDIAN", "GROUPS")
	for _, tm := range r.Timings {
		t.AddRow(tm.Name, FormatSeconds(tm.Mean), FormatSeconds(tm.Median), humanize.Comma(tm.Groups))
	}
	t.AddRow("total", FormatSeconds(r.TotalSeconds), "", "")
	_, err := fmt.Fprintln(w, t)
	return err
}

// WriteReadPath renders view-versus-source read timings.
func WriteReadPath(w io.Writer, cmps []baseline.ReadComparison, format Format) error {
	if format != FormatTable {
		return WriteJSON(w, cmps)
	}
	t := uitable.New()
	for _, col := range []int{1, 2, 3} {
		t.RightAlign(col)
	}
	t.AddRow("DERIVATION", "SOURCE", "VIEW", "SPEEDUP")
	for _, c := range cmps {
		speedup := "n/a"
		if c.Speedup != nil {
			speedup = fmt.Sprintf("%.1fx", *c.Speedup)
		}
		t.AddRow(c.Name, FormatSeconds(c.SourceSeconds), FormatSeconds(c.ViewSeconds), speedup)
	}
	_, err := fmt.Fprintln(w, t)
	return err
}
