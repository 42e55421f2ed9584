package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conflictmonitor/viewbench/internal/derivation"
	"github.com/conflictmonitor/viewbench/internal/pgstore"
	"github.com/conflictmonitor/viewbench/pkg/types"
)

type sideData struct {
	totals   pgstore.Totals
	buckets  map[types.QuadClass]int64
	category []pgstore.Ranked
	actor    []pgstore.Ranked
}

type fakeReader struct {
	data      map[pgstore.Side]map[types.PartitionDate]sideData
	failTotal map[types.PartitionDate]bool
	calls     []types.PartitionDate
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		data: map[pgstore.Side]map[types.PartitionDate]sideData{
			pgstore.SideSource: {},
			pgstore.SideView:   {},
		},
		failTotal: map[types.PartitionDate]bool{},
	}
}

func (f *fakeReader) set(side pgstore.Side, date types.PartitionDate, d sideData) {
	f.data[side][date] = d
}

func (f *fakeReader) Totals(_ context.Context, side pgstore.Side, date types.PartitionDate) (pgstore.Totals, error) {
	f.calls = append(f.calls, date)
	if f.failTotal[date] {
		return pgstore.Totals{}, errors.New("relation does not exist")
	}
	return f.data[side][date].totals, nil
}

func (f *fakeReader) Buckets(_ context.Context, side pgstore.Side, date types.PartitionDate) (map[types.QuadClass]int64, error) {
	return f.data[side][date].buckets, nil
}

func (f *fakeReader) TopK(_ context.Context, side pgstore.Side, name derivation.Name, date types.PartitionDate, k int, excludeMarkers bool) ([]pgstore.Ranked, error) {
	d := f.data[side][date]
	if name == derivation.ByCategory {
		return d.category, nil
	}
	return d.actor, nil
}

func ranked(keys ...string) []pgstore.Ranked {
	out := make([]pgstore.Ranked, len(keys))
	for i, k := range keys {
		out[i] = pgstore.Ranked{Key: k, Total: int64(100 - i)}
	}
	return out
}

const day = types.PartitionDate(20240115)

func viewSample() sideData {
	return sideData{
		totals:   pgstore.Totals{Count: 120, Secondary: 340},
		buckets:  map[types.QuadClass]int64{types.VerbalCooperation: 70, types.MaterialConflict: 50},
		category: ranked("010", "020", "190"),
		actor:    ranked("USA", "RUS", "CHN"),
	}
}

func findRow(t *testing.T, rows []Row, check Check, bucket string) Row {
	t.Helper()
	for _, r := range rows {
		if r.Check == check && r.Bucket == bucket {
			return r
		}
	}
	t.Fatalf("no %s row for bucket %q", check, bucket)
	return Row{}
}

func TestAudit_ViewAgainstItselfIsConsistent(t *testing.T) {
	r := newFakeReader()
	r.set(pgstore.SideSource, day, viewSample())
	r.set(pgstore.SideView, day, viewSample())

	s, err := NewAuditor(r).Audit(context.Background(), []types.PartitionDate{day}, 10)
	require.NoError(t, err)

	assert.True(t, s.Consistent())
	assert.Equal(t, int64(0), s.MaxAbsDiff())
	assert.Equal(t, 1.0, s.MinMatchRate())
	// totals + secondary + four quad classes + two rankings
	assert.Len(t, s.Rows, 8)
}

func TestAudit_ReportsDiffsAsViewMinusSource(t *testing.T) {
	r := newFakeReader()
	src := viewSample()
	src.totals = pgstore.Totals{Count: 125, Secondary: 340}
	src.buckets = map[types.QuadClass]int64{types.VerbalCooperation: 75, types.MaterialConflict: 50}
	r.set(pgstore.SideSource, day, src)
	r.set(pgstore.SideView, day, viewSample())

	s, err := NewAuditor(r).Audit(context.Background(), []types.PartitionDate{day}, 10)
	require.NoError(t, err)

	total := findRow(t, s.Rows, CheckTotalCount, "")
	assert.Equal(t, int64(-5), *total.Diff)
	assert.Equal(t, int64(0), *findRow(t, s.Rows, CheckSecondarySum, "").Diff)
	assert.Equal(t, int64(-5), *findRow(t, s.Rows, CheckQuadClass, "1").Diff)
	assert.False(t, s.Consistent())
	assert.Equal(t, int64(5), s.MaxAbsDiff())
}

func TestAudit_MissingBucketCountsAsZero(t *testing.T) {
	r := newFakeReader()
	src := viewSample()
	src.buckets = map[types.QuadClass]int64{types.VerbalCooperation: 70, types.MaterialConflict: 50, types.VerbalConflict: 3}
	r.set(pgstore.SideSource, day, src)
	r.set(pgstore.SideView, day, viewSample())

	s, err := NewAuditor(r).Audit(context.Background(), []types.PartitionDate{day}, 10)
	require.NoError(t, err)

	row := findRow(t, s.Rows, CheckQuadClass, "3")
	assert.Equal(t, int64(3), *row.Source)
	assert.Equal(t, int64(0), *row.View)
	assert.Equal(t, int64(-3), *row.Diff)

	empty := findRow(t, s.Rows, CheckQuadClass, "2")
	assert.Equal(t, int64(0), *empty.Diff)
}

func TestAudit_FailureIsolatedToOneDate(t *testing.T) {
	other := day.AddDays(1)
	r := newFakeReader()
	for _, d := range []types.PartitionDate{day, other} {
		r.set(pgstore.SideSource, d, viewSample())
		r.set(pgstore.SideView, d, viewSample())
	}
	r.failTotal[day] = true

	s, err := NewAuditor(r).Audit(context.Background(), []types.PartitionDate{other, day}, 10)
	require.NoError(t, err)

	assert.Equal(t, 1, s.FailedRows())
	failed := findRow(t, s.RowsFor(day), CheckTotalCount, "")
	assert.Contains(t, failed.Error, "relation does not exist")
	assert.Nil(t, failed.Diff)

	// remaining checks on the failing date still ran
	assert.NotNil(t, findRow(t, s.RowsFor(day), CheckTopActor, "").MatchRate)
	assert.Len(t, s.RowsFor(other), 8)
	assert.False(t, s.Consistent())
}

func TestAudit_OnlyImpactedDatesQueried(t *testing.T) {
	r := newFakeReader()
	dates := []types.PartitionDate{day, day, day.AddDays(-3)}

	s, err := NewAuditor(r).Audit(context.Background(), dates, 5)
	require.NoError(t, err)

	assert.Equal(t, []types.PartitionDate{day.AddDays(-3), day}, s.Dates)
	for _, d := range r.calls {
		assert.Contains(t, s.Dates, d)
	}
}

func TestAudit_RejectsNonPositiveK(t *testing.T) {
	_, err := NewAuditor(newFakeReader()).Audit(context.Background(), []types.PartitionDate{day}, 0)
	assert.Error(t, err)
}

func TestAudit_MarkersDroppedFromActorRanking(t *testing.T) {
	r := newFakeReader()
	view := viewSample()
	marker, err := types.NewMarker("b1")
	require.NoError(t, err)
	view.actor = ranked(marker.Actor(), "USA", "RUS", "CHN")
	r.set(pgstore.SideSource, day, viewSample())
	r.set(pgstore.SideView, day, view)

	s, err := NewAuditor(r).Audit(context.Background(), []types.PartitionDate{day}, 3)
	require.NoError(t, err)

	row := findRow(t, s.Rows, CheckTopActor, "")
	assert.Equal(t, []string{"USA", "RUS", "CHN"}, row.ViewKeys)
	assert.Equal(t, 1.0, *row.MatchRate)
}

func TestMatchRate(t *testing.T) {
	tests := []struct {
		name      string
		src, view []string
		k         int
		want      float64
	}{
		{"identical", []string{"a", "b"}, []string{"a", "b"}, 10, 1},
		{"both empty", nil, nil, 10, 1},
		{"one empty", []string{"a"}, nil, 10, 0},
		{"half", []string{"a", "b"}, []string{"a", "c"}, 10, 0.5},
		{"order ignored", []string{"a", "b", "c"}, []string{"c", "b", "a"}, 3, 1},
		{"truncated to k", []string{"a", "b", "x"}, []string{"a", "b", "y"}, 2, 1},
		{"short side", []string{"a"}, []string{"a", "b", "c"}, 5, 1.0 / 3.0},
		{"duplicates counted once", []string{"a", "b"}, []string{"a", "a"}, 2, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, MatchRate(tt.src, tt.view, tt.k), 1e-9)
		})
	}
}

func TestMatchRate_Bounded(t *testing.T) {
	properties := gopter.NewProperties(nil)
	keyGen := gen.SliceOf(gen.OneConstOf("a", "b", "c", "d", "e", "f"))

	properties.Property("match rate lies in [0,1]", prop.ForAll(
		func(src, view []string, k int) bool {
			r := MatchRate(src, view, k)
			return r >= 0 && r <= 1
		},
		keyGen, keyGen, gen.IntRange(1, 8),
	))
	properties.Property("ranking matches itself", prop.ForAll(
		func(src []string, k int) bool {
			uniq := dedupe(src)
			return MatchRate(uniq, uniq, k) == 1
		},
		keyGen, gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
