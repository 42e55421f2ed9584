package derivation

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/conflictmonitor/viewbench/pkg/types"
)

// ident quotes a possibly schema-qualified identifier.
func ident(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

func idents(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = ident(n)
	}
	return out
}

// MarkerPattern is the regex bound to the marker filters (`!~`). It is the
// same pattern types.IsMarkerActor applies.
func MarkerPattern() string {
	return types.MarkerActorPattern
}

// MaxSourceDateSQL returns the newest partition date of the source table.
func (s Schema) MaxSourceDateSQL() string {
	return fmt.Sprintf("SELECT MAX(%s) FROM %s", ident(s.Source.Date), ident(s.Source.Table))
}

// MaxViewDateSQL returns the newest partition date of a view.
func MaxViewDateSQL(v View) string {
	return fmt.Sprintf("SELECT MAX(%s) FROM %s", ident(v.Date), ident(v.Table))
}

// BaselineSQL recomputes the derivation over the whole source table. The
// grouped result is wrapped in a COUNT so only one row crosses the wire.
func (s Schema) BaselineSQL(d Descriptor) string {
	src := s.Source
	groupCols := append([]string{ident(src.Date)}, idents(d.SourceKeys)...)
	var where string
	if len(d.NotNull) > 0 {
		conds := make([]string, len(d.NotNull))
		for i, c := range d.NotNull {
			conds[i] = ident(c) + " IS NOT NULL"
		}
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	return fmt.Sprintf(
		"SELECT COUNT(*) FROM (SELECT %s, SUM(CAST(%s AS BIGINT)) AS total_events, AVG(%s) AS avg_sentiment FROM %s%s GROUP BY %s) AS derived",
		strings.Join(groupCols, ", "),
		ident(src.Count),
		ident(src.Sentiment),
		ident(src.Table),
		where,
		strings.Join(groupCols, ", "),
	)
}

// ViewReadSQL serves the same grouping from the materialized view.
func ViewReadSQL(d Descriptor) string {
	v := d.View
	groupCols := append([]string{ident(v.Date)}, idents(v.Keys)...)
	return fmt.Sprintf(
		"SELECT COUNT(*) FROM (SELECT %s, SUM(%s) AS total_events, AVG(%s) AS avg_sentiment FROM %s GROUP BY %s) AS served",
		strings.Join(groupCols, ", "),
		ident(v.Count),
		ident(sentimentOrCount(v)),
		ident(v.Table),
		strings.Join(groupCols, ", "),
	)
}

func sentimentOrCount(v View) string {
	if v.Sentiment != "" {
		return v.Sentiment
	}
	return v.Count
}

// SourceTotalsSQL sums count and article metrics for one date ($1).
func (s Schema) SourceTotalsSQL() string {
	src := s.Source
	return fmt.Sprintf(
		"SELECT COALESCE(SUM(CAST(%s AS BIGINT)), 0), COALESCE(SUM(CAST(%s AS BIGINT)), 0) FROM %s WHERE %s = $1",
		ident(src.Count), ident(src.Articles), ident(src.Table), ident(src.Date),
	)
}

// ViewTotalsSQL sums count and secondary metrics of a view for one date ($1).
// A view without a secondary column reports zero for it.
func ViewTotalsSQL(v View) string {
	secondary := "0"
	if v.Secondary != "" {
		secondary = fmt.Sprintf("COALESCE(CAST(SUM(%s) AS BIGINT), 0)", ident(v.Secondary))
	}
	return fmt.Sprintf(
		"SELECT COALESCE(CAST(SUM(%s) AS BIGINT), 0), %s FROM %s WHERE %s = $1",
		ident(v.Count), secondary, ident(v.Table), ident(v.Date),
	)
}

// SourceBucketSQL returns (quad_class, total) pairs for one date ($1).
// Rows without a quad class are left out.
func (s Schema) SourceBucketSQL() string {
	src := s.Source
	return fmt.Sprintf(
		"SELECT CAST(%s AS BIGINT), COALESCE(SUM(CAST(%s AS BIGINT)), 0) FROM %s WHERE %s = $1 AND %s IS NOT NULL GROUP BY 1",
		ident(src.QuadClass), ident(src.Count), ident(src.Table), ident(src.Date), ident(src.QuadClass),
	)
}

// ViewBucketSQL returns (quad_class, total) pairs of the by-date-class view.
func ViewBucketSQL(v View) string {
	return fmt.Sprintf(
		"SELECT CAST(%s AS BIGINT), COALESCE(CAST(SUM(%s) AS BIGINT), 0) FROM %s WHERE %s = $1 AND %s IS NOT NULL GROUP BY 1",
		ident(v.Keys[0]), ident(v.Count), ident(v.Table), ident(v.Date), ident(v.Keys[0]),
	)
}

// SourceTopKSQL ranks the descriptor's first key on the source table for a
// date ($1), limited to $2 rows. When excludeMarkers is set the query takes
// the marker regex as $3.
func (s Schema) SourceTopKSQL(d Descriptor, excludeMarkers bool) string {
	src := s.Source
	return topKSQL(src.Table, src.Date, d.SourceKeys[0], "CAST("+ident(src.Count)+" AS BIGINT)", excludeMarkers)
}

// ViewTopKSQL ranks the view's first key for a date, with the same
// parameters as SourceTopKSQL.
func ViewTopKSQL(d Descriptor, excludeMarkers bool) string {
	v := d.View
	return topKSQL(v.Table, v.Date, v.Keys[0], ident(v.Count), excludeMarkers)
}

func topKSQL(table, date, key, count string, excludeMarkers bool) string {
	k := ident(key)
	filter := k + " IS NOT NULL"
	if excludeMarkers {
		filter += " AND " + k + " !~ $3"
	}
	return fmt.Sprintf(
		"SELECT CAST(%s AS TEXT), CAST(SUM(%s) AS BIGINT) AS total FROM %s WHERE %s = $1 AND %s GROUP BY 1 ORDER BY total DESC, 1 ASC LIMIT $2",
		k, count, ident(table), ident(date), filter,
	)
}

// MarkerVisibleSQL checks for the sentinel actor ($1) at a date ($2) in the
// by-actor view.
func (s Schema) MarkerVisibleSQL() string {
	v := s.Actor
	return fmt.Sprintf(
		"SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1 AND %s = $2)",
		ident(v.Table), ident(v.Keys[0]), ident(v.Date),
	)
}
