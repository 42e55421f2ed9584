package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/conflictmonitor/viewbench/internal/derivation"
	"github.com/conflictmonitor/viewbench/pkg/types"
)

// Side selects which representation a read targets.
type Side int

const (
	SideSource Side = iota
	SideView
)

func (s Side) String() string {
	if s == SideView {
		return "view"
	}
	return "source"
}

// Totals is the per-date total count and secondary metric sum.
type Totals struct {
	Count     int64
	Secondary int64
}

// Ranked is one entry of a top-K ranking.
type Ranked struct {
	Key   string
	Total int64
}

// Reader runs the read queries used by the waiter, auditor and watcher.
type Reader struct {
	q      Querier
	schema derivation.Schema
}

// NewReader creates a reader over any pgx query surface.
func NewReader(q Querier, schema derivation.Schema) *Reader {
	return &Reader{q: q, schema: schema}
}

// MaxViewDate returns the newest partition date of a derivation's view.
func (r *Reader) MaxViewDate(ctx context.Context, name derivation.Name) (types.PartitionDate, bool, error) {
	d, ok := r.schema.Descriptor(name)
	if !ok {
		return 0, false, fmt.Errorf("unknown derivation %q", name)
	}
	var max *int64
	if err := r.q.QueryRow(ctx, derivation.MaxViewDateSQL(d.View)).Scan(&max); err != nil {
		return 0, false, err
	}
	if max == nil {
		return 0, false, nil
	}
	return types.PartitionDate(*max), true, nil
}

// MarkerVisible reports whether the marker's sentinel actor has reached the
// by-actor view at date.
func (r *Reader) MarkerVisible(ctx context.Context, marker types.Marker, date types.PartitionDate) (bool, error) {
	var visible bool
	err := r.q.QueryRow(ctx, r.schema.MarkerVisibleSQL(), marker.Actor(), int32(date)).Scan(&visible)
	return visible, err
}

// Totals returns the total count and secondary sum for one date.
func (r *Reader) Totals(ctx context.Context, side Side, date types.PartitionDate) (Totals, error) {
	sql := r.schema.SourceTotalsSQL()
	if side == SideView {
		sql = derivation.ViewTotalsSQL(r.schema.DateClass)
	}
	var t Totals
	err := r.q.QueryRow(ctx, sql, int32(date)).Scan(&t.Count, &t.Secondary)
	return t, err
}

// Buckets returns per-quad-class totals for one date. Classes without rows
// are absent from the map.
func (r *Reader) Buckets(ctx context.Context, side Side, date types.PartitionDate) (map[types.QuadClass]int64, error) {
	sql := r.schema.SourceBucketSQL()
	if side == SideView {
		sql = derivation.ViewBucketSQL(r.schema.DateClass)
	}
	rows, err := r.q.Query(ctx, sql, int32(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[types.QuadClass]int64, 4)
	for rows.Next() {
		var class, total int64
		if err := rows.Scan(&class, &total); err != nil {
			return nil, err
		}
		out[types.QuadClass(class)] += total
	}
	return out, rows.Err()
}

// TopK ranks a derivation's leading key for one date, highest total first
// with ties broken by ascending key.
func (r *Reader) TopK(ctx context.Context, side Side, name derivation.Name, date types.PartitionDate, k int, excludeMarkers bool) ([]Ranked, error) {
	d, ok := r.schema.Descriptor(name)
	if !ok {
		return nil, fmt.Errorf("unknown derivation %q", name)
	}
	sql := r.schema.SourceTopKSQL(d, excludeMarkers)
	if side == SideView {
		sql = derivation.ViewTopKSQL(d, excludeMarkers)
	}
	args := []any{int32(date), k}
	if excludeMarkers {
		args = append(args, derivation.MarkerPattern())
	}

	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Ranked, error) {
		var rk Ranked
		err := row.Scan(&rk.Key, &rk.Total)
		return rk, err
	})
}
