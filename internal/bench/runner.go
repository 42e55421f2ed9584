// Package bench drives one benchmark invocation end to end: apply a batch,
// wait for its marker, optionally time the baseline, audit the touched
// partitions and report.
package bench

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/loggo"

	"github.com/conflictmonitor/viewbench/internal/audit"
	"github.com/conflictmonitor/viewbench/internal/baseline"
	"github.com/conflictmonitor/viewbench/internal/convergence"
	vberrors "github.com/conflictmonitor/viewbench/internal/errors"
	"github.com/conflictmonitor/viewbench/internal/report"
	"github.com/conflictmonitor/viewbench/internal/workload"
	"github.com/conflictmonitor/viewbench/pkg/types"
)

var logger = loggo.GetLogger("viewbench.bench")

// Waiter is the convergence step.
type Waiter interface {
	Wait(ctx context.Context, marker types.Marker, date types.PartitionDate, timeout, interval time.Duration) (convergence.Result, error)
}

// Baseline is the recompute step.
type Baseline interface {
	Run(ctx context.Context, opts baseline.Options) (*baseline.Result, error)
}

// Auditor is the correctness step.
type Auditor interface {
	Audit(ctx context.Context, dates []types.PartitionDate, k int) (*audit.Summary, error)
}

// Sink receives every produced result.
type Sink interface {
	Save(ctx context.Context, r *report.BenchmarkResult) error
}

// Params are the invocation parameters.
type Params struct {
	Inserts  int                 `json:"inserts"`
	Updates  int                 `json:"updates"`
	Deletes  int                 `json:"deletes"`
	Late     bool                `json:"late"`
	LateDate types.PartitionDate `json:"late_date,omitempty"`
	BaseDate types.PartitionDate `json:"base_date,omitempty"`

	TopK         int           `json:"top_k"`
	Timeout      time.Duration `json:"timeout"`
	PollInterval time.Duration `json:"poll_interval"`

	RunBaseline        bool `json:"run_baseline"`
	BaselineIterations int  `json:"baseline_iterations,omitempty"`

	// Seed fixes the workload randomness; zero means time based.
	Seed int64 `json:"seed,omitempty"`
}

// Validate checks the parameters.
func (p Params) Validate() error {
	switch {
	case p.Inserts < 0 || p.Updates < 0 || p.Deletes < 0:
		return vberrors.NewValidationError(vberrors.CodeInvalidRequest, "counts must be non-negative")
	case p.TopK <= 0:
		return vberrors.NewValidationError(vberrors.CodeInvalidRequest, "top_k must be positive")
	case p.Timeout <= 0:
		return vberrors.NewValidationError(vberrors.CodeInvalidRequest, "timeout must be positive")
	case p.PollInterval <= 0:
		return vberrors.NewValidationError(vberrors.CodeInvalidRequest, "poll interval must be positive")
	}
	return nil
}

// ErrBusy is returned when an invocation is already in flight.
var ErrBusy = vberrors.New(vberrors.ErrCategoryValidation, vberrors.CodeBusy, "a benchmark is already running")

// Runner executes benchmark invocations one at a time.
type Runner struct {
	workload workload.Generator
	waiter   Waiter
	baseline Baseline
	auditor  Auditor
	sinks    []Sink
	clock    clock.Clock

	running atomic.Bool
}

// NewRunner wires the steps together. baseline may be nil when the
// recompute step is never requested.
func NewRunner(gen workload.Generator, waiter Waiter, base Baseline, auditor Auditor, clk clock.Clock, sinks ...Sink) *Runner {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Runner{
		workload: gen,
		waiter:   waiter,
		baseline: base,
		auditor:  auditor,
		sinks:    sinks,
		clock:    clk,
	}
}

// Running reports whether an invocation is in flight.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Run executes one invocation. A workload failure ends in the error state
// and is returned together with a partial result. Convergence timeouts,
// baseline failures and audit query failures are recorded in the result.
func (r *Runner) Run(ctx context.Context, p Params) (*report.BenchmarkResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer r.running.Store(false)

	batch, err := r.newBatch(p)
	if err != nil {
		return nil, err
	}
	m := newMachine()
	in := report.Inputs{Batch: batch, Timeout: p.Timeout}
	finish := func() *report.BenchmarkResult {
		in.States = m.names()
		in.Now = r.clock.Now()
		return report.Compose(in)
	}

	logger.Infof("benchmark %s: insert=%d update=%d delete=%d late=%t", batch.ID, p.Inserts, p.Updates, p.Deletes, batch.Late)

	if err := m.to(StateApplying); err != nil {
		return nil, err
	}
	start := r.clock.Now()
	summary, err := r.workload.Apply(ctx, workload.Request{
		Inserts:  p.Inserts,
		Updates:  p.Updates,
		Deletes:  p.Deletes,
		Late:     p.Late,
		LateDate: p.LateDate,
		BaseDate: p.BaseDate,
		Marker:   batch.Marker,
		Seed:     batch.Seed,
	})
	in.Apply = r.clock.Now().Sub(start)
	in.Workload = summary
	if summary != nil {
		batch.BaseDate, batch.TargetDate, batch.MarkerDate = summary.BaseDate, summary.TargetDate, summary.MarkerDate
		in.Batch = batch
	}
	if err != nil {
		logger.Errorf("benchmark %s: workload failed: %v", batch.ID, err)
		m.fail()
		return finish(), err
	}

	if err := m.to(StateWaiting); err != nil {
		return nil, err
	}
	conv, err := r.waiter.Wait(ctx, batch.Marker, batch.MarkerDate, p.Timeout, p.PollInterval)
	if err != nil {
		m.fail()
		return finish(), err
	}
	in.Convergence = &conv
	next := StateConverged
	if !conv.Converged {
		next = StateTimedOut
		logger.Warningf("benchmark %s: marker not visible after %s", batch.ID, p.Timeout)
	}
	if err := m.to(next); err != nil {
		return nil, err
	}

	if p.RunBaseline {
		if err := m.to(StateBaselineRunning); err != nil {
			return nil, err
		}
		if r.baseline == nil {
			in.BaselineError = fmt.Errorf("baseline timer not configured")
		} else {
			res, err := r.baseline.Run(ctx, baseline.Options{Iterations: p.BaselineIterations})
			if err != nil {
				logger.Warningf("benchmark %s: baseline failed: %v", batch.ID, err)
				in.BaselineError = err
			} else {
				in.Baseline = res
			}
		}
	}

	if err := m.to(StateAuditing); err != nil {
		return nil, err
	}
	dates := ImpactedDates(batch, summary)
	sum, err := r.auditor.Audit(ctx, dates, p.TopK)
	if err != nil {
		in.AuditError = err
	}
	in.Audit = sum

	if err := m.to(StateReported); err != nil {
		return nil, err
	}
	result := finish()
	for _, line := range report.Lines(result) {
		logger.Infof("%s", line)
	}
	r.deliver(ctx, result)
	return result, nil
}

func (r *Runner) deliver(ctx context.Context, result *report.BenchmarkResult) {
	for _, s := range r.sinks {
		if err := s.Save(ctx, result); err != nil {
			logger.Errorf("benchmark %s: failed to save result: %v", result.BatchID, err)
		}
	}
}

func (r *Runner) newBatch(p Params) (types.Batch, error) {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	marker, err := types.NewMarker(id)
	if err != nil {
		return types.Batch{}, vberrors.NewInternalError("failed to create marker", err)
	}
	now := r.clock.Now()
	seed := p.Seed
	if seed == 0 {
		seed = now.UnixNano()
	}
	return types.Batch{
		ID:        id,
		Inserts:   p.Inserts,
		Updates:   p.Updates,
		Deletes:   p.Deletes,
		Late:      p.Late || p.LateDate != 0,
		LateDate:  p.LateDate,
		BaseDate:  p.BaseDate,
		Marker:    marker,
		Seed:      seed,
		StartedAt: now,
	}, nil
}

// ImpactedDates is the sorted, de-duplicated union of the base, target and
// marker dates and every partition the workload phases touched.
func ImpactedDates(batch types.Batch, summary *workload.Summary) []types.PartitionDate {
	dates := []types.PartitionDate{batch.BaseDate, batch.TargetDate, batch.MarkerDate}
	if summary != nil {
		dates = append(dates, summary.ImpactedDates...)
	}
	return types.UniqueSortedDates(dates...)
}
