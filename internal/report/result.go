// Package report composes the outcome of one benchmark invocation and
// renders it for terminals, JSON consumers and object archives.
package report

import (
	"fmt"
	"time"

	"github.com/conflictmonitor/viewbench/internal/audit"
	"github.com/conflictmonitor/viewbench/internal/baseline"
	"github.com/conflictmonitor/viewbench/internal/convergence"
	"github.com/conflictmonitor/viewbench/internal/derivation"
	"github.com/conflictmonitor/viewbench/internal/workload"
	"github.com/conflictmonitor/viewbench/pkg/types"
)

// CheckRow is one audited comparison.
type CheckRow = audit.Row

// CorrectnessSummary condenses the audit of the impacted dates.
type CorrectnessSummary struct {
	Dates        []types.PartitionDate `json:"dates"`
	K            int                   `json:"k"`
	Consistent   bool                  `json:"consistent"`
	MaxAbsDiff   int64                 `json:"max_abs_diff"`
	MinMatchRate float64               `json:"min_match_rate"`
	FailedChecks int                   `json:"failed_checks"`
	Rows         []CheckRow            `json:"rows"`
}

// BenchmarkResult is the immutable record of one invocation. Nil durations
// mean the step did not produce a value; nil Speedup means it could not be
// derived.
type BenchmarkResult struct {
	BatchID    string              `json:"batch_id"`
	Marker     string              `json:"marker"`
	Inserts    int                 `json:"inserts"`
	Updates    int                 `json:"updates"`
	Deletes    int                 `json:"deletes"`
	Late       bool                `json:"late"`
	LateDate   types.PartitionDate `json:"late_date,omitempty"`
	BaseDate   types.PartitionDate `json:"base_date,omitempty"`
	TargetDate types.PartitionDate `json:"target_date,omitempty"`
	MarkerDate types.PartitionDate `json:"marker_date,omitempty"`
	Seed       int64               `json:"seed"`

	ApplySeconds    float64                     `json:"apply_seconds"`
	CatchupSeconds  *float64                    `json:"catchup_seconds"`
	Converged       bool                        `json:"converged"`
	PollAttempts    int                         `json:"poll_attempts"`
	BaselineSeconds *float64                    `json:"baseline_seconds"`
	Derivations     map[derivation.Name]float64 `json:"baseline_derivations,omitempty"`
	BaselineError   string                      `json:"baseline_error,omitempty"`
	Speedup         *float64                    `json:"speedup"`

	Workload    *workload.Summary   `json:"workload,omitempty"`
	Correctness *CorrectnessSummary `json:"correctness,omitempty"`
	AuditError  string              `json:"audit_error,omitempty"`

	Warnings  []string  `json:"warnings,omitempty"`
	States    []string  `json:"states,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Inputs are the step outputs a result is composed from. Convergence,
// Baseline and Audit may be nil when the step was skipped or failed.
type Inputs struct {
	Batch         types.Batch
	Workload      *workload.Summary
	Apply         time.Duration
	Convergence   *convergence.Result
	Timeout       time.Duration
	Baseline      *baseline.Result
	BaselineError error
	Audit         *audit.Summary
	AuditError    error
	States        []string
	Now           time.Time
}

// Compose builds the result. It performs no I/O.
func Compose(in Inputs) *BenchmarkResult {
	b := in.Batch
	r := &BenchmarkResult{
		BatchID:      b.ID,
		Marker:       b.Marker.Actor(),
		Inserts:      b.Inserts,
		Updates:      b.Updates,
		Deletes:      b.Deletes,
		Late:         b.Late,
		LateDate:     b.LateDate,
		BaseDate:     b.BaseDate,
		TargetDate:   b.TargetDate,
		MarkerDate:   b.MarkerDate,
		Seed:         b.Seed,
		ApplySeconds: in.Apply.Seconds(),
		Workload:     in.Workload,
		States:       append([]string(nil), in.States...),
		Timestamp:    in.Now.UTC(),
	}
	if b.Marker.IsZero() {
		r.Marker = ""
	}

	if c := in.Convergence; c != nil {
		r.PollAttempts = c.Attempts
		if c.Converged {
			r.Converged = true
			r.CatchupSeconds = ptr(c.Elapsed.Seconds())
		} else {
			r.Warnings = append(r.Warnings, fmt.Sprintf(
				"marker %s not visible at %s after %s (%d polls); pipeline may be stalled",
				r.Marker, b.MarkerDate, in.Timeout, c.Attempts))
		}
	}

	switch {
	case in.BaselineError != nil:
		r.BaselineError = in.BaselineError.Error()
		r.Warnings = append(r.Warnings, "baseline failed: "+r.BaselineError)
	case in.Baseline != nil:
		r.BaselineSeconds = ptr(in.Baseline.TotalSeconds)
		r.Derivations = make(map[derivation.Name]float64, len(in.Baseline.Seconds))
		for k, v := range in.Baseline.Seconds {
			r.Derivations[k] = v
		}
	}

	if r.CatchupSeconds != nil && r.BaselineSeconds != nil {
		r.Speedup = Speedup(*r.BaselineSeconds, r.ApplySeconds, *r.CatchupSeconds)
	}

	if in.Audit != nil {
		r.Correctness = Summarize(in.Audit)
	}
	if in.AuditError != nil {
		r.AuditError = in.AuditError.Error()
		r.Warnings = append(r.Warnings, "audit failed: "+r.AuditError)
	}
	return r
}

// Speedup is baseline / (apply + catchup), or nil when the denominator is
// not positive.
func Speedup(baselineSeconds, applySeconds, catchupSeconds float64) *float64 {
	denom := applySeconds + catchupSeconds
	if denom <= 0 {
		return nil
	}
	return ptr(baselineSeconds / denom)
}

// Summarize condenses an audit.
func Summarize(s *audit.Summary) *CorrectnessSummary {
	return &CorrectnessSummary{
		Dates:        s.Dates,
		K:            s.K,
		Consistent:   s.Consistent(),
		MaxAbsDiff:   s.MaxAbsDiff(),
		MinMatchRate: s.MinMatchRate(),
		FailedChecks: s.FailedRows(),
		Rows:         s.Rows,
	}
}

// TimedOut reports whether the convergence wait ran out of time.
func (r *BenchmarkResult) TimedOut() bool {
	return r.CatchupSeconds == nil && r.PollAttempts > 0
}

func ptr(f float64) *float64 { return &f }
