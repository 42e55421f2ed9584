// Package convergence waits for a batch's marker row to become visible in
// the by-actor materialized view.
package convergence

import (
	"context"
	"errors"
	"time"

	"github.com/juju/clock"
	"github.com/juju/loggo"
	"github.com/juju/retry"

	vberrors "github.com/conflictmonitor/viewbench/internal/errors"
	"github.com/conflictmonitor/viewbench/pkg/types"
)

var logger = loggo.GetLogger("viewbench.convergence")

var errNotVisible = errors.New("marker not visible yet")

// MarkerChecker checks one marker at one date. *pgstore.Reader satisfies it.
type MarkerChecker interface {
	MarkerVisible(ctx context.Context, marker types.Marker, date types.PartitionDate) (bool, error)
}

// Result is the outcome of a wait. A wait that runs out of time is a
// result with Converged unset, not an error.
type Result struct {
	Converged bool          `json:"converged"`
	Elapsed   time.Duration `json:"elapsed"`
	Attempts  int           `json:"attempts"`

	// LastError is the most recent check failure, if any.
	LastError string `json:"last_error,omitempty"`
}

// Waiter polls a MarkerChecker until the marker appears or the timeout ends.
type Waiter struct {
	checker MarkerChecker
	clock   clock.Clock
}

// NewWaiter creates a waiter. A nil clock means wall time.
func NewWaiter(checker MarkerChecker, clk clock.Clock) *Waiter {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Waiter{checker: checker, clock: clk}
}

// Wait polls every interval until the marker is visible at date. Elapsed is
// measured from the first attempt to the first successful match. The last
// delay is shortened so one check always lands on the deadline. Check errors
// are logged and retried. Apart from the timeout only ctx cancellation
// (process shutdown) ends the loop, and that is reported as an error.
func (w *Waiter) Wait(ctx context.Context, marker types.Marker, date types.PartitionDate, timeout, interval time.Duration) (Result, error) {
	if marker.IsZero() {
		return Result{}, vberrors.NewValidationError(vberrors.CodeInvalidRequest, "marker is required")
	}
	if timeout <= 0 || interval <= 0 {
		return Result{}, vberrors.NewValidationError(vberrors.CodeInvalidRequest, "timeout and poll interval must be positive")
	}

	var res Result
	start := w.clock.Now()
	// Poll at interval, but never sleep past the deadline.
	backoff := func(time.Duration, int) time.Duration {
		if remaining := timeout - w.clock.Now().Sub(start); remaining > 0 && remaining < interval {
			return remaining
		}
		return interval
	}
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			res.Attempts++
			visible, err := w.checker.MarkerVisible(ctx, marker, date)
			if err != nil {
				res.LastError = err.Error()
				return err
			}
			if !visible {
				return errNotVisible
			}
			return nil
		},
		NotifyFunc: func(err error, attempt int) {
			if !errors.Is(err, errNotVisible) {
				logger.Debugf("attempt %d: check for %s failed: %v", attempt, marker, err)
			}
		},
		Attempts:    -1,
		Delay:       interval,
		BackoffFunc: backoff,
		MaxDuration: timeout,
		Clock:       w.clock,
		Stop:        ctx.Done(),
	})
	res.Elapsed = w.clock.Now().Sub(start)

	switch {
	case err == nil:
		res.Converged = true
		logger.Infof("marker %s visible at %s after %v (%d attempts)", marker, date, res.Elapsed, res.Attempts)
		return res, nil
	case retry.IsRetryStopped(err):
		return res, vberrors.NewInternalError("convergence wait cancelled", ctx.Err())
	case retry.IsDurationExceeded(err) || retry.IsAttemptsExceeded(err):
		logger.Warningf("marker %s not visible at %s after %v; the pipeline may be stalled", marker, date, res.Elapsed)
		return res, nil
	default:
		return res, vberrors.NewInternalError("convergence wait", err)
	}
}

// Recheck reports whether a previously observed marker is still visible.
func (w *Waiter) Recheck(ctx context.Context, marker types.Marker, date types.PartitionDate) (bool, error) {
	return w.checker.MarkerVisible(ctx, marker, date)
}
