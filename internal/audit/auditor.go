// Package audit compares source-truth aggregates against the materialized
// views for a set of impacted partition dates.
package audit

import (
	"context"
	"fmt"

	"github.com/juju/loggo"

	"github.com/conflictmonitor/viewbench/internal/derivation"
	vberrors "github.com/conflictmonitor/viewbench/internal/errors"
	"github.com/conflictmonitor/viewbench/internal/pgstore"
	"github.com/conflictmonitor/viewbench/pkg/types"
)

var logger = loggo.GetLogger("viewbench.audit")

// Reader serves both representations. *pgstore.Reader satisfies it.
type Reader interface {
	Totals(ctx context.Context, side pgstore.Side, date types.PartitionDate) (pgstore.Totals, error)
	Buckets(ctx context.Context, side pgstore.Side, date types.PartitionDate) (map[types.QuadClass]int64, error)
	TopK(ctx context.Context, side pgstore.Side, name derivation.Name, date types.PartitionDate, k int, excludeMarkers bool) ([]pgstore.Ranked, error)
}

// Check names one comparison.
type Check string

const (
	CheckTotalCount   Check = "total_count"
	CheckSecondarySum Check = "secondary_sum"
	CheckQuadClass    Check = "quad_class"
	CheckTopCategory  Check = "top_k_category"
	CheckTopActor     Check = "top_k_actor"
)

// Row is one comparison result. Numeric checks fill Source, View and Diff
// (view minus source); ranking checks fill MatchRate and the key lists.
// A failed query leaves only Error set.
type Row struct {
	Date   types.PartitionDate `json:"date"`
	Check  Check               `json:"check"`
	Bucket string              `json:"bucket,omitempty"`

	Source *int64 `json:"source,omitempty"`
	View   *int64 `json:"view,omitempty"`
	Diff   *int64 `json:"diff,omitempty"`

	MatchRate  *float64 `json:"match_rate,omitempty"`
	SourceKeys []string `json:"source_keys,omitempty"`
	ViewKeys   []string `json:"view_keys,omitempty"`

	Error string `json:"error,omitempty"`
}

// Failed reports whether the row's query failed.
func (r Row) Failed() bool { return r.Error != "" }

// Summary is the full audit outcome.
type Summary struct {
	Dates []types.PartitionDate `json:"dates"`
	K     int                   `json:"k"`
	Rows  []Row                 `json:"rows"`
}

// Auditor runs the comparisons.
type Auditor struct {
	reader Reader
}

// NewAuditor creates an auditor.
func NewAuditor(reader Reader) *Auditor {
	return &Auditor{reader: reader}
}

// Audit compares every check for every date. Only the given dates are
// queried. A failing query becomes an error row and the remaining checks
// and dates still run.
func (a *Auditor) Audit(ctx context.Context, dates []types.PartitionDate, k int) (*Summary, error) {
	if k <= 0 {
		return nil, vberrors.NewValidationError(vberrors.CodeInvalidRequest, fmt.Sprintf("top-K size must be positive, got %d", k))
	}
	dates = types.UniqueSortedDates(dates...)
	s := &Summary{Dates: dates, K: k}

	for _, date := range dates {
		if ctx.Err() != nil {
			return s, ctx.Err()
		}
		s.Rows = append(s.Rows, a.totals(ctx, date)...)
		s.Rows = append(s.Rows, a.buckets(ctx, date)...)
		s.Rows = append(s.Rows, a.topK(ctx, date, CheckTopCategory, derivation.ByCategory, k, false))
		s.Rows = append(s.Rows, a.topK(ctx, date, CheckTopActor, derivation.ByActor, k, true))
	}

	if n := s.FailedRows(); n > 0 {
		logger.Warningf("audit of %d dates finished with %d failed checks", len(dates), n)
	} else {
		logger.Infof("audit of %d dates finished (consistent=%t)", len(dates), s.Consistent())
	}
	return s, nil
}

func errRow(date types.PartitionDate, check Check, err error) Row {
	logger.Warningf("audit %s %s: %v", date, check, err)
	return Row{Date: date, Check: check, Error: vberrors.NewAuditError(string(check), err).Error()}
}

func diffRow(date types.PartitionDate, check Check, bucket string, src, view int64) Row {
	d := view - src
	return Row{Date: date, Check: check, Bucket: bucket, Source: &src, View: &view, Diff: &d}
}

func (a *Auditor) totals(ctx context.Context, date types.PartitionDate) []Row {
	src, err := a.reader.Totals(ctx, pgstore.SideSource, date)
	if err != nil {
		return []Row{errRow(date, CheckTotalCount, err)}
	}
	view, err := a.reader.Totals(ctx, pgstore.SideView, date)
	if err != nil {
		return []Row{errRow(date, CheckTotalCount, err)}
	}
	return []Row{
		diffRow(date, CheckTotalCount, "", src.Count, view.Count),
		diffRow(date, CheckSecondarySum, "", src.Secondary, view.Secondary),
	}
}

// buckets always reports all four classes; a class absent on one side counts as zero.
func (a *Auditor) buckets(ctx context.Context, date types.PartitionDate) []Row {
	src, err := a.reader.Buckets(ctx, pgstore.SideSource, date)
	if err != nil {
		return []Row{errRow(date, CheckQuadClass, err)}
	}
	view, err := a.reader.Buckets(ctx, pgstore.SideView, date)
	if err != nil {
		return []Row{errRow(date, CheckQuadClass, err)}
	}
	rows := make([]Row, 0, 4)
	for _, q := range types.AllQuadClasses() {
		rows = append(rows, diffRow(date, CheckQuadClass, fmt.Sprintf("%d", q), src[q], view[q]))
	}
	return rows
}

func (a *Auditor) topK(ctx context.Context, date types.PartitionDate, check Check, name derivation.Name, k int, excludeMarkers bool) Row {
	src, err := a.reader.TopK(ctx, pgstore.SideSource, name, date, k, excludeMarkers)
	if err != nil {
		return errRow(date, check, err)
	}
	view, err := a.reader.TopK(ctx, pgstore.SideView, name, date, k, excludeMarkers)
	if err != nil {
		return errRow(date, check, err)
	}
	srcKeys, viewKeys := keys(src, k, excludeMarkers), keys(view, k, excludeMarkers)
	rate := MatchRate(srcKeys, viewKeys, k)
	return Row{Date: date, Check: check, MatchRate: &rate, SourceKeys: srcKeys, ViewKeys: viewKeys}
}

// keys trims a ranking to k entries, dropping marker sentinels when asked
// even if the query already filtered them.
func keys(ranked []pgstore.Ranked, k int, excludeMarkers bool) []string {
	out := make([]string, 0, min(len(ranked), k))
	for _, r := range ranked {
		if len(out) == k {
			break
		}
		if excludeMarkers && types.IsMarkerActor(r.Key) {
			continue
		}
		out = append(out, r.Key)
	}
	return out
}

// MatchRate is |top-K(src) ∩ top-K(view)| divided by min(k, max(|src|, |view|)).
// Two empty rankings agree fully. The result always lies in [0, 1].
func MatchRate(src, view []string, k int) float64 {
	if k <= 0 {
		return 0
	}
	if len(src) > k {
		src = src[:k]
	}
	if len(view) > k {
		view = view[:k]
	}
	denom := min(k, max(len(src), len(view)))
	if denom == 0 {
		return 1
	}
	inSrc := make(map[string]struct{}, len(src))
	for _, s := range src {
		inSrc[s] = struct{}{}
	}
	var hits int
	seen := make(map[string]struct{}, len(view))
	for _, v := range view {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		if _, ok := inSrc[v]; ok {
			hits++
		}
	}
	return float64(min(hits, denom)) / float64(denom)
}

// FailedRows counts rows whose query failed.
func (s *Summary) FailedRows() int {
	var n int
	for _, r := range s.Rows {
		if r.Failed() {
			n++
		}
	}
	return n
}

// Consistent reports whether every numeric diff is zero and no query failed.
func (s *Summary) Consistent() bool {
	for _, r := range s.Rows {
		if r.Failed() || (r.Diff != nil && *r.Diff != 0) {
			return false
		}
	}
	return true
}

// MaxAbsDiff returns the largest absolute numeric diff.
func (s *Summary) MaxAbsDiff() int64 {
	var m int64
	for _, r := range s.Rows {
		if r.Diff == nil {
			continue
		}
		d := *r.Diff
		if d < 0 {
			d = -d
		}
		m = max(m, d)
	}
	return m
}

// MinMatchRate returns the lowest top-K match rate, or 1 when there is none.
func (s *Summary) MinMatchRate() float64 {
	m := 1.0
	for _, r := range s.Rows {
		if r.MatchRate != nil {
			m = min(m, *r.MatchRate)
		}
	}
	return m
}

// RowsFor returns the rows of one date.
func (s *Summary) RowsFor(date types.PartitionDate) []Row {
	var out []Row
	for _, r := range s.Rows {
		if r.Date == date {
			out = append(out, r)
		}
	}
	return out
}
