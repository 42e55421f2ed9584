package baseline

import (
	"context"

	"github.com/conflictmonitor/viewbench/internal/derivation"
	vberrors "github.com/conflictmonitor/viewbench/internal/errors"
)

// ReadComparison contrasts serving one aggregate from its materialized view
// with recomputing it from the source table.
type ReadComparison struct {
	Name          derivation.Name `json:"name"`
	SourceSeconds float64         `json:"source_seconds"`
	ViewSeconds   float64         `json:"view_seconds"`
	SourceGroups  int64           `json:"source_groups"`
	ViewGroups    int64           `json:"view_groups"`

	// Speedup is SourceSeconds / ViewSeconds, absent when the view read took no measurable time.
	Speedup *float64 `json:"speedup,omitempty"`
}

// CompareReadPath times every selected derivation from both sides on one
// connection, repeating each Iterations times and comparing means.
func (t *Timer) CompareReadPath(ctx context.Context, opts Options) ([]ReadComparison, error) {
	descs, err := t.descriptors(opts.Derivations)
	if err != nil {
		return nil, err
	}
	iterations := max(opts.Iterations, 1)

	conn, err := t.acq.Acquire(ctx)
	if err != nil {
		return nil, vberrors.NewConnectivityError(vberrors.CodeConnectFailed, "acquire read path connection", err)
	}
	defer conn.Release()

	out := make([]ReadComparison, 0, len(descs))
	for _, d := range descs {
		cmp := ReadComparison{Name: d.Name}
		var srcRuns, viewRuns []float64
		for i := 0; i < iterations; i++ {
			secs, groups, err := t.timeQuery(ctx, conn, t.schema.BaselineSQL(d))
			if err != nil {
				return nil, vberrors.NewBaselineError(string(d.Name), err)
			}
			srcRuns, cmp.SourceGroups = append(srcRuns, secs), groups

			start := t.clock.Now()
			if err := conn.QueryRow(ctx, derivation.ViewReadSQL(d)).Scan(&cmp.ViewGroups); err != nil {
				return nil, vberrors.NewBaselineError(string(d.Name)+" (view)", err)
			}
			viewRuns = append(viewRuns, t.elapsedSeconds(start))
		}
		cmp.SourceSeconds, cmp.ViewSeconds = mean(srcRuns), mean(viewRuns)
		if cmp.ViewSeconds > 0 {
			s := cmp.SourceSeconds / cmp.ViewSeconds
			cmp.Speedup = &s
		}
		logger.Infof("read path %s: source %.4fs view %.4fs", d.Name, cmp.SourceSeconds, cmp.ViewSeconds)
		out = append(out, cmp)
	}
	return out, nil
}
