package bench

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conflictmonitor/viewbench/internal/audit"
	"github.com/conflictmonitor/viewbench/internal/baseline"
	"github.com/conflictmonitor/viewbench/internal/convergence"
	vberrors "github.com/conflictmonitor/viewbench/internal/errors"
	"github.com/conflictmonitor/viewbench/internal/report"
	"github.com/conflictmonitor/viewbench/internal/workload"
	"github.com/conflictmonitor/viewbench/pkg/types"
)

type fakeGenerator struct {
	clk     *testclock.Clock
	cost    time.Duration
	summary *workload.Summary
	err     error
	got     workload.Request
}

func (f *fakeGenerator) Apply(_ context.Context, req workload.Request) (*workload.Summary, error) {
	f.got = req
	f.clk.Advance(f.cost)
	s := *f.summary
	if !req.Marker.IsZero() && s.MarkerDate == 0 {
		s.MarkerDate = s.TargetDate
	}
	return &s, f.err
}

type fakeWaiter struct {
	result convergence.Result
	marker types.Marker
	date   types.PartitionDate
}

func (f *fakeWaiter) Wait(_ context.Context, marker types.Marker, date types.PartitionDate, _, _ time.Duration) (convergence.Result, error) {
	f.marker, f.date = marker, date
	return f.result, nil
}

type fakeBaseline struct {
	result *baseline.Result
	err    error
	calls  int
}

func (f *fakeBaseline) Run(context.Context, baseline.Options) (*baseline.Result, error) {
	f.calls++
	return f.result, f.err
}

type fakeAuditor struct {
	dates []types.PartitionDate
	k     int
}

func (f *fakeAuditor) Audit(_ context.Context, dates []types.PartitionDate, k int) (*audit.Summary, error) {
	f.dates, f.k = dates, k
	return &audit.Summary{Dates: dates, K: k}, nil
}

type memSink struct{ saved []*report.BenchmarkResult }

func (m *memSink) Save(_ context.Context, r *report.BenchmarkResult) error {
	m.saved = append(m.saved, r)
	return nil
}

type failingSink struct{}

func (failingSink) Save(context.Context, *report.BenchmarkResult) error {
	return errors.New("disk full")
}

type fixture struct {
	clk      *testclock.Clock
	gen      *fakeGenerator
	waiter   *fakeWaiter
	baseline *fakeBaseline
	auditor  *fakeAuditor
	sink     *memSink
	runner   *Runner
}

func newFixture() *fixture {
	clk := testclock.NewClock(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	f := &fixture{
		clk: clk,
		gen: &fakeGenerator{
			clk:  clk,
			cost: 2 * time.Second,
			summary: &workload.Summary{
				BaseDate:      20240601,
				TargetDate:    20240601,
				ImpactedDates: []types.PartitionDate{20240530, 20240601},
			},
		},
		waiter:   &fakeWaiter{result: convergence.Result{Converged: true, Elapsed: 3 * time.Second, Attempts: 12}},
		baseline: &fakeBaseline{result: &baseline.Result{TotalSeconds: 25}},
		auditor:  &fakeAuditor{},
		sink:     &memSink{},
	}
	f.runner = NewRunner(f.gen, f.waiter, f.baseline, f.auditor, clk, f.sink, failingSink{})
	return f
}

func params() Params {
	return Params{Inserts: 20000, Updates: 10, TopK: 10, Timeout: 15 * time.Minute, PollInterval: 250 * time.Millisecond, RunBaseline: true, Seed: 7}
}

func TestRun_HappyPath(t *testing.T) {
	f := newFixture()

	r, err := f.runner.Run(context.Background(), params())
	require.NoError(t, err)

	assert.Equal(t, []string{"idle", "applying", "waiting", "converged", "baseline_running", "auditing", "reported"}, r.States)
	require.NotNil(t, r.Speedup)
	assert.InDelta(t, 5.0, *r.Speedup, 1e-9)
	assert.InDelta(t, 2.0, r.ApplySeconds, 1e-9)

	assert.Equal(t, f.gen.got.Marker, f.waiter.marker)
	assert.Equal(t, types.PartitionDate(20240601), f.waiter.date)
	assert.Equal(t, int64(7), f.gen.got.Seed)
	assert.Equal(t, []types.PartitionDate{20240530, 20240601}, f.auditor.dates)
	assert.Equal(t, 10, f.auditor.k)

	require.Len(t, f.sink.saved, 1, "a failing sink must not block the others")
	assert.Same(t, r, f.sink.saved[0])
	assert.False(t, f.runner.Running())
}

func TestRun_TimeoutStillReports(t *testing.T) {
	f := newFixture()
	f.waiter.result = convergence.Result{Attempts: 5}

	r, err := f.runner.Run(context.Background(), params())
	require.NoError(t, err)

	assert.Contains(t, r.States, "timed_out")
	assert.Equal(t, "reported", r.States[len(r.States)-1])
	assert.Nil(t, r.CatchupSeconds)
	assert.Nil(t, r.Speedup)
	assert.NotEmpty(t, r.Warnings)
}

func TestRun_BaselineSkipped(t *testing.T) {
	f := newFixture()
	p := params()
	p.RunBaseline = false

	r, err := f.runner.Run(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, 0, f.baseline.calls)
	assert.NotContains(t, r.States, "baseline_running")
	assert.Nil(t, r.BaselineSeconds)
	assert.Nil(t, r.Speedup)
}

func TestRun_BaselineFailureIsNotFatal(t *testing.T) {
	f := newFixture()
	f.baseline.result = nil
	f.baseline.err = vberrors.NewBaselineError("by_actor", errors.New("canceling statement"))

	r, err := f.runner.Run(context.Background(), params())
	require.NoError(t, err)

	assert.Contains(t, r.BaselineError, "by_actor")
	assert.Nil(t, r.Speedup)
	assert.Equal(t, "reported", r.States[len(r.States)-1])
}

func TestRun_WorkloadFailureEndsInError(t *testing.T) {
	f := newFixture()
	f.gen.err = vberrors.NewWorkloadError(vberrors.PhaseUpdate, errors.New("deadlock detected"))

	r, err := f.runner.Run(context.Background(), params())
	require.Error(t, err)

	phase, ok := vberrors.FailedPhase(err)
	require.True(t, ok)
	assert.Equal(t, vberrors.PhaseUpdate, phase)
	require.NotNil(t, r)
	assert.Equal(t, []string{"idle", "applying", "error"}, r.States)
	assert.Empty(t, f.sink.saved)
	assert.Nil(t, f.auditor.dates)
}

func TestRun_LateBatchAuditsBothDates(t *testing.T) {
	f := newFixture()
	f.gen.summary = &workload.Summary{
		BaseDate:      20240601,
		TargetDate:    19900101,
		ImpactedDates: []types.PartitionDate{19900101},
	}
	p := params()
	p.Late = true
	p.LateDate = 19900101

	_, err := f.runner.Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []types.PartitionDate{19900101, 20240601}, f.auditor.dates)
	assert.Equal(t, types.PartitionDate(19900101), f.waiter.date)
}

func TestRun_RejectsInvalidParams(t *testing.T) {
	f := newFixture()
	p := params()
	p.TopK = 0
	_, err := f.runner.Run(context.Background(), p)
	assert.Equal(t, vberrors.ErrCategoryValidation, vberrors.GetCategory(err))
}

func TestRun_Busy(t *testing.T) {
	f := newFixture()
	f.runner.running.Store(true)
	_, err := f.runner.Run(context.Background(), params())
	assert.ErrorIs(t, err, ErrBusy)
}

func TestMachine_IllegalTransition(t *testing.T) {
	m := newMachine()
	err := m.to(StateAuditing)
	require.Error(t, err)
	assert.Equal(t, vberrors.CodeIllegalTransition, vberrors.GetCode(err))

	require.NoError(t, m.to(StateApplying))
	m.fail()
	assert.Equal(t, StateError, m.state)
	assert.Error(t, m.to(StateWaiting), "terminal states have no exits")
}

func TestImpactedDates(t *testing.T) {
	b := types.Batch{BaseDate: 20240601, TargetDate: 20240601, MarkerDate: 20240602}
	s := &workload.Summary{ImpactedDates: []types.PartitionDate{20240101, 20240601}}
	assert.Equal(t, []types.PartitionDate{20240101, 20240601, 20240602}, ImpactedDates(b, s))
	assert.Equal(t, []types.PartitionDate{20240601, 20240602}, ImpactedDates(b, nil))
}
