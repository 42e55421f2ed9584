package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"

	"github.com/conflictmonitor/viewbench/internal/audit"
	"github.com/conflictmonitor/viewbench/internal/derivation"
)

// Format selects a renderer.
type Format string

const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
)

// Write renders r in the given format.
func Write(w io.Writer, r *BenchmarkResult, format Format) error {
	switch format {
	case FormatJSON, "":
		return WriteJSON(w, r)
	case FormatTable:
		return WriteTable(w, r)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

// WriteJSON writes indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// FormatSeconds renders a duration in seconds as s, ms or µs.
func FormatSeconds(seconds float64) string {
	switch {
	case seconds >= 1:
		return fmt.Sprintf("%.3fs", seconds)
	case seconds >= 0.001:
		return fmt.Sprintf("%.2fms", seconds*1000)
	default:
		return fmt.Sprintf("%.2fµs", seconds*1_000_000)
	}
}

func optSeconds(v *float64, missing string) string {
	if v == nil {
		return missing
	}
	return FormatSeconds(*v)
}

// WriteTable writes the human-readable report.
func WriteTable(w io.Writer, r *BenchmarkResult) error {
	table := uitable.New()
	table.MaxColWidth = 80
	table.Wrap = true

	table.AddRow("Batch", r.BatchID)
	table.AddRow("Marker", r.Marker)
	table.AddRow("Requested", fmt.Sprintf("insert=%s update=%s delete=%s",
		humanize.Comma(int64(r.Inserts)), humanize.Comma(int64(r.Updates)), humanize.Comma(int64(r.Deletes))))
	if r.Late {
		table.AddRow("Late date", r.LateDate)
	}
	table.AddRow("Target date", r.TargetDate)
	table.AddRow("Apply", FormatSeconds(r.ApplySeconds))
	table.AddRow("Catch-up", optSeconds(r.CatchupSeconds, "not converged"))
	table.AddRow("Baseline", optSeconds(r.BaselineSeconds, "skipped"))
	if r.Speedup != nil {
		table.AddRow("Speedup", fmt.Sprintf("%.2fx", *r.Speedup))
	} else {
		table.AddRow("Speedup", "n/a")
	}
	table.AddRow("Produced", fmt.Sprintf("%s (%s)", r.Timestamp.Format("2006-01-02 15:04:05Z07:00"), humanize.Time(r.Timestamp)))
	if _, err := fmt.Fprintln(w, table); err != nil {
		return err
	}

	if len(r.Derivations) > 0 {
		names := make([]string, 0, len(r.Derivations))
		for n := range r.Derivations {
			names = append(names, string(n))
		}
		sort.Strings(names)
		bt := uitable.New()
		bt.AddRow("DERIVATION", "BASELINE")
		for _, n := range names {
			bt.AddRow(n, FormatSeconds(r.Derivations[derivation.Name(n)]))
		}
		if _, err := fmt.Fprintln(w, bt); err != nil {
			return err
		}
	}

	if c := r.Correctness; c != nil {
		if _, err := fmt.Fprintln(w, checkTable(c.Rows)); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "consistent=%t max_abs_diff=%s min_match_rate=%.2f failed_checks=%d\n",
			c.Consistent, humanize.Comma(c.MaxAbsDiff), c.MinMatchRate, c.FailedChecks); err != nil {
			return err
		}
	}

	for _, warn := range r.Warnings {
		if _, err := fmt.Fprintf(w, "WARNING: %s\n", warn); err != nil {
			return err
		}
	}
	return nil
}

func checkTable(rows []audit.Row) *uitable.Table {
	t := uitable.New()
	t.MaxColWidth = 60
	t.Wrap = true
	for _, col := range []int{3, 4, 5} {
		t.RightAlign(col)
	}
	t.AddRow("DATE", "CHECK", "BUCKET", "SOURCE", "VIEW", "DIFF", "MATCH")
	for _, row := range rows {
		if row.Failed() {
			t.AddRow(row.Date, row.Check, row.Bucket, "", "", "", "error: "+row.Error)
			continue
		}
		match := ""
		if row.MatchRate != nil {
			match = fmt.Sprintf("%.0f%%", *row.MatchRate*100)
		}
		t.AddRow(row.Date, row.Check, row.Bucket, comma(row.Source), comma(row.View), comma(row.Diff), match)
	}
	return t
}

func comma(v *int64) string {
	if v == nil {
		return ""
	}
	return humanize.Comma(*v)
}

// Lines renders the warnings and headline figures as log lines.
func Lines(r *BenchmarkResult) []string {
	var b strings.Builder
	fmt.Fprintf(&b, "batch %s apply=%s catchup=%s baseline=%s",
		r.BatchID, FormatSeconds(r.ApplySeconds), optSeconds(r.CatchupSeconds, "timeout"), optSeconds(r.BaselineSeconds, "skipped"))
	if r.Speedup != nil {
		fmt.Fprintf(&b, " speedup=%.2fx", *r.Speedup)
	}
	return append([]string{b.String()}, r.Warnings...)
}
