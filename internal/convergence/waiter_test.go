package convergence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vberrors "github.com/conflictmonitor/viewbench/internal/errors"
	"github.com/conflictmonitor/viewbench/pkg/types"
)

// scriptedChecker becomes visible on attempt visibleAt (1-based); zero never.
type scriptedChecker struct {
	mu        sync.Mutex
	calls     int
	visibleAt int
	failUntil int
}

func (p *scriptedChecker) MarkerVisible(context.Context, types.Marker, types.PartitionDate) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failUntil {
		return false, errors.New("connection refused")
	}
	return p.visibleAt > 0 && p.calls >= p.visibleAt, nil
}

func marker(t *testing.T) types.Marker {
	t.Helper()
	m, err := types.NewMarker("abc123")
	require.NoError(t, err)
	return m
}

// runWait drives Wait on a test clock. Whenever the waiter parks it advances
// by interval, or by what is left of the timeout when that is shorter.
func runWait(t *testing.T, w *Waiter, clk *testclock.Clock, m types.Marker, timeout, interval time.Duration) (Result, error) {
	t.Helper()
	type out struct {
		res Result
		err error
	}
	start := clk.Now()
	done := make(chan out, 1)
	go func() {
		res, err := w.Wait(context.Background(), m, 20240601, timeout, interval)
		done <- out{res, err}
	}()

	for {
		select {
		case o := <-done:
			return o.res, o.err
		case <-clk.Alarms():
			step := interval
			if remaining := timeout - clk.Now().Sub(start); remaining > 0 && remaining < step {
				step = remaining
			}
			clk.Advance(step)
		case <-time.After(10 * time.Second):
			t.Fatal("wait did not finish")
		}
	}
}

func TestWait_ConvergesAfterSomePolls(t *testing.T) {
	clk := testclock.NewClock(time.Unix(0, 0))
	checker := &scriptedChecker{visibleAt: 4}
	w := NewWaiter(checker, clk)

	res, err := runWait(t, w, clk, marker(t), 15*time.Minute, 250*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Equal(t, 4, res.Attempts)
	assert.Equal(t, 750*time.Millisecond, res.Elapsed)
}

func TestWait_ImmediateMatch(t *testing.T) {
	clk := testclock.NewClock(time.Unix(0, 0))
	w := NewWaiter(&scriptedChecker{visibleAt: 1}, clk)

	res, err := w.Wait(context.Background(), marker(t), 20240601, time.Minute, time.Second)
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Equal(t, time.Duration(0), res.Elapsed)
}

func TestWait_TimesOutWithinBound(t *testing.T) {
	clk := testclock.NewClock(time.Unix(0, 0))
	checker := &scriptedChecker{}
	w := NewWaiter(checker, clk)
	timeout, interval := 10*time.Second, 3*time.Second

	res, err := runWait(t, w, clk, marker(t), timeout, interval)
	require.NoError(t, err, "timing out is a result, not an error")
	assert.False(t, res.Converged)
	assert.LessOrEqual(t, res.Elapsed, timeout+interval)
	assert.Equal(t, timeout, res.Elapsed, "the last check lands on the deadline")
	assert.Equal(t, 5, res.Attempts)
}

// clockChecker becomes visible once the clock reaches visibleAfter.
type clockChecker struct {
	clock        clock.Clock
	start        time.Time
	visibleAfter time.Duration
}

func (p *clockChecker) MarkerVisible(context.Context, types.Marker, types.PartitionDate) (bool, error) {
	return p.clock.Now().Sub(p.start) >= p.visibleAfter, nil
}

func TestWait_ChecksUpToTheDeadline(t *testing.T) {
	for _, tc := range []struct {
		name         string
		timeout      time.Duration
		interval     time.Duration
		visibleAfter time.Duration
		attempts     int
	}{
		{"visible between last interval and deadline", time.Second, 600 * time.Millisecond, 700 * time.Millisecond, 3},
		{"interval longer than timeout", time.Second, 5 * time.Second, 900 * time.Millisecond, 2},
		{"visible exactly at deadline", 10 * time.Second, 3 * time.Second, 10 * time.Second, 5},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clk := testclock.NewClock(time.Unix(0, 0))
			w := NewWaiter(&clockChecker{clock: clk, start: clk.Now(), visibleAfter: tc.visibleAfter}, clk)

			res, err := runWait(t, w, clk, marker(t), tc.timeout, tc.interval)
			require.NoError(t, err)
			assert.True(t, res.Converged)
			assert.Equal(t, tc.attempts, res.Attempts)
			assert.Equal(t, tc.timeout, res.Elapsed)
		})
	}
}

func TestWait_CancelledContextStops(t *testing.T) {
	clk := testclock.NewClock(time.Unix(0, 0))
	w := NewWaiter(&scriptedChecker{}, clk)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := w.Wait(ctx, marker(t), 20240601, time.Hour, time.Second)
		done <- err
	}()
	select {
	case <-clk.Alarms():
	case <-time.After(10 * time.Second):
		t.Fatal("waiter never parked")
	}
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("cancelled wait did not return")
	}
}

func TestWait_SwallowsCheckErrors(t *testing.T) {
	clk := testclock.NewClock(time.Unix(0, 0))
	checker := &scriptedChecker{failUntil: 2, visibleAt: 3}
	w := NewWaiter(checker, clk)

	res, err := runWait(t, w, clk, marker(t), time.Minute, time.Second)
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Equal(t, "connection refused", res.LastError)
}

func TestWait_RejectsUnboundedArguments(t *testing.T) {
	w := NewWaiter(&scriptedChecker{}, nil)
	_, err := w.Wait(context.Background(), marker(t), 20240601, 0, time.Second)
	assert.Equal(t, vberrors.ErrCategoryValidation, vberrors.GetCategory(err))

	_, err = w.Wait(context.Background(), marker(t), 20240601, time.Second, 0)
	assert.Equal(t, vberrors.ErrCategoryValidation, vberrors.GetCategory(err))

	_, err = w.Wait(context.Background(), types.Marker{}, 20240601, time.Second, time.Second)
	assert.Equal(t, vberrors.ErrCategoryValidation, vberrors.GetCategory(err))
}

func TestWait_WallClockNeverHangs(t *testing.T) {
	if testing.Short() {
		t.Skip("uses real time")
	}
	w := NewWaiter(&scriptedChecker{}, clock.WallClock)
	timeout, interval := 120*time.Millisecond, 25*time.Millisecond

	start := time.Now()
	res, err := w.Wait(context.Background(), marker(t), 20240601, timeout, interval)
	require.NoError(t, err)
	assert.False(t, res.Converged)
	assert.Less(t, time.Since(start), timeout+interval+time.Second)
}

func TestRecheck_MarkerStaysVisible(t *testing.T) {
	clk := testclock.NewClock(time.Unix(0, 0))
	w := NewWaiter(&scriptedChecker{visibleAt: 1}, clk)

	res, err := w.Wait(context.Background(), marker(t), 20240601, time.Minute, time.Second)
	require.NoError(t, err)
	require.True(t, res.Converged)

	visible, err := w.Recheck(context.Background(), marker(t), 20240601)
	require.NoError(t, err)
	assert.True(t, visible)
}
