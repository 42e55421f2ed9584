// Package baseline times full, non-incremental recomputation of every
// derivation directly over the source table.
package baseline

import (
	"context"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juju/clock"
	"github.com/juju/loggo"

	"github.com/conflictmonitor/viewbench/internal/derivation"
	vberrors "github.com/conflictmonitor/viewbench/internal/errors"
)

var logger = loggo.GetLogger("viewbench.baseline")

// Conn is one acquired database connection.
type Conn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Release()
}

// Acquirer hands out a dedicated connection.
type Acquirer interface {
	Acquire(ctx context.Context) (Conn, error)
}

type poolAcquirer struct {
	pool *pgxpool.Pool
}

func (a poolAcquirer) Acquire(ctx context.Context) (Conn, error) {
	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// PoolAcquirer adapts a pgx pool.
func PoolAcquirer(pool *pgxpool.Pool) Acquirer {
	return poolAcquirer{pool: pool}
}

// Options control a baseline run.
type Options struct {
	// Iterations repeats each derivation; values below 1 mean once.
	Iterations int

	// Derivations restricts the run; empty means all four.
	Derivations []derivation.Name
}

// Timing is the measurement of one derivation.
type Timing struct {
	Name   derivation.Name `json:"name"`
	Runs   []float64       `json:"runs"`
	Mean   float64         `json:"mean_seconds"`
	Median float64         `json:"median_seconds"`
	Groups int64           `json:"groups"`
}

// Result is a completed baseline measurement. Seconds maps each derivation
// to its mean time; TotalSeconds is their sum.
type Result struct {
	Timings      []Timing                    `json:"timings"`
	Seconds      map[derivation.Name]float64 `json:"seconds"`
	TotalSeconds float64                     `json:"total_seconds"`
	Iterations   int                         `json:"iterations"`
}

// Timer runs the baseline derivations.
type Timer struct {
	acq    Acquirer
	schema derivation.Schema
	clock  clock.Clock
}

// NewTimer creates a timer. A nil clock means wall time.
func NewTimer(acq Acquirer, schema derivation.Schema, clk clock.Clock) *Timer {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Timer{acq: acq, schema: schema, clock: clk}
}

func (t *Timer) descriptors(names []derivation.Name) ([]derivation.Descriptor, error) {
	all := t.schema.Descriptors()
	if len(names) == 0 {
		return all, nil
	}
	out := make([]derivation.Descriptor, 0, len(names))
	for _, n := range names {
		d, ok := t.schema.Descriptor(n)
		if !ok {
			return nil, vberrors.NewValidationError(vberrors.CodeInvalidRequest, "unknown derivation "+string(n))
		}
		out = append(out, d)
	}
	return out, nil
}

// Run measures every selected derivation on one connection. Any failure
// aborts the whole measurement and names the derivation that failed.
func (t *Timer) Run(ctx context.Context, opts Options) (*Result, error) {
	descs, err := t.descriptors(opts.Derivations)
	if err != nil {
		return nil, err
	}
	iterations := max(opts.Iterations, 1)

	conn, err := t.acq.Acquire(ctx)
	if err != nil {
		return nil, vberrors.NewConnectivityError(vberrors.CodeConnectFailed, "acquire baseline connection", err)
	}
	defer conn.Release()

	res := &Result{Seconds: make(map[derivation.Name]float64, len(descs)), Iterations: iterations}
	for _, d := range descs {
		timing := Timing{Name: d.Name}
		sql := t.schema.BaselineSQL(d)
		for i := 0; i < iterations; i++ {
			secs, groups, err := t.timeQuery(ctx, conn, sql)
			if err != nil {
				return nil, vberrors.NewBaselineError(string(d.Name), err)
			}
			timing.Runs = append(timing.Runs, secs)
			timing.Groups = groups
		}
		timing.Mean, timing.Median = mean(timing.Runs), median(timing.Runs)
		logger.Infof("baseline %s: mean %.4fs median %.4fs over %d runs (%d groups)",
			d.Name, timing.Mean, timing.Median, iterations, timing.Groups)

		res.Timings = append(res.Timings, timing)
		res.Seconds[d.Name] = timing.Mean
		res.TotalSeconds += timing.Mean
	}
	return res, nil
}

func (t *Timer) timeQuery(ctx context.Context, conn Conn, sql string) (float64, int64, error) {
	start := t.clock.Now()
	var groups int64
	if err := conn.QueryRow(ctx, sql).Scan(&groups); err != nil {
		return 0, 0, err
	}
	return t.clock.Now().Sub(start).Seconds(), groups, nil
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := slices.Clone(xs)
	slices.Sort(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}

// elapsedSeconds is shared with the read path comparison.
func (t *Timer) elapsedSeconds(start time.Time) float64 {
	return t.clock.Now().Sub(start).Seconds()
}
