package pgstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/conflictmonitor/viewbench/internal/derivation"
	"github.com/conflictmonitor/viewbench/pkg/types"
)

// Mutation is a freshly sampled overwrite for one updated row.
type Mutation struct {
	Sentiment float64
	Count     int32
}

// Affected reports the rows touched by one workload phase.
type Affected struct {
	Rows  int
	Dates []types.PartitionDate
}

// SourceStore mutates the source-of-truth table. Every method runs in its
// own transaction.
type SourceStore struct {
	pool   *pgxpool.Pool
	source derivation.SourceTable
	schema derivation.Schema
}

// NewSourceStore creates a store bound to the schema's source table.
func NewSourceStore(pool *pgxpool.Pool, schema derivation.Schema) *SourceStore {
	return &SourceStore{pool: pool, source: schema.Source, schema: schema}
}

func (s *SourceStore) table() pgx.Identifier {
	return pgx.Identifier(strings.Split(s.source.Table, "."))
}

// MaxDate returns the newest partition date in the source table. ok is
// false when the table is empty.
func (s *SourceStore) MaxDate(ctx context.Context) (types.PartitionDate, bool, error) {
	var max *int64
	if err := s.pool.QueryRow(ctx, s.schema.MaxSourceDateSQL()).Scan(&max); err != nil {
		return 0, false, fmt.Errorf("max source date: %w", err)
	}
	if max == nil {
		return 0, false, nil
	}
	return types.PartitionDate(*max), true, nil
}

// Insert copies records into the source table in one transaction.
func (s *SourceStore) Insert(ctx context.Context, records []types.SourceRecord) (Affected, error) {
	if len(records) == 0 {
		return Affected{}, nil
	}
	cols := []string{
		s.source.Date, s.source.SourceActor, s.source.TargetActor, s.source.Category,
		s.source.Count, s.source.Articles, s.source.QuadClass, s.source.Sentiment,
	}
	dates := make([]types.PartitionDate, 0, 1)

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		n, err := tx.CopyFrom(ctx, s.table(), cols, pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			r := records[i]
			dates = append(dates, r.EventDate)
			return []any{
				int32(r.EventDate), r.SourceActor, r.TargetActor, r.CategoryCode,
				r.CountMetric, r.ArticleMetric, int16(r.QuadClass), r.SentimentScore,
			}, nil
		}))
		if err != nil {
			return err
		}
		if int(n) != len(records) {
			return fmt.Errorf("copied %d of %d rows", n, len(records))
		}
		return nil
	})
	if err != nil {
		return Affected{}, err
	}
	return Affected{Rows: len(records), Dates: types.UniqueSortedDates(dates...)}, nil
}

// sampleIDs draws up to n non-marker ids uniformly without replacement. The
// server-side random() stream is seeded first so a fixed seed over a fixed
// table yields the same sample.
func (s *SourceStore) sampleIDs(ctx context.Context, tx pgx.Tx, n int, seed float64) ([]int64, error) {
	if _, err := tx.Exec(ctx, "SELECT setseed($1)", seed); err != nil {
		return nil, fmt.Errorf("setseed: %w", err)
	}
	actor := pgx.Identifier{s.source.SourceActor}.Sanitize()
	sql := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s IS NULL OR %s !~ $2 ORDER BY random() LIMIT $1",
		pgx.Identifier{s.source.ID}.Sanitize(), s.table().Sanitize(), actor, actor,
	)
	rows, err := tx.Query(ctx, sql, n, derivation.MarkerPattern())
	if err != nil {
		return nil, fmt.Errorf("sample ids: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// UpdateSample overwrites sentiment and count on min(n, available) randomly
// chosen rows. next is called once per sampled row.
func (s *SourceStore) UpdateSample(ctx context.Context, n int, seed float64, next func() Mutation) (Affected, error) {
	var out Affected
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		ids, err := s.sampleIDs(ctx, tx, n, seed)
		if err != nil || len(ids) == 0 {
			return err
		}
		sentiments := make([]float64, len(ids))
		counts := make([]int32, len(ids))
		for i := range ids {
			m := next()
			sentiments[i], counts[i] = m.Sentiment, m.Count
		}

		sql := fmt.Sprintf(
			"UPDATE %[1]s AS t SET %[2]s = v.sentiment, %[3]s = v.cnt FROM unnest($1::bigint[], $2::float8[], $3::int[]) AS v(id, sentiment, cnt) WHERE t.%[4]s = v.id RETURNING t.%[5]s",
			s.table().Sanitize(),
			pgx.Identifier{s.source.Sentiment}.Sanitize(),
			pgx.Identifier{s.source.Count}.Sanitize(),
			pgx.Identifier{s.source.ID}.Sanitize(),
			pgx.Identifier{s.source.Date}.Sanitize(),
		)
		rows, err := tx.Query(ctx, sql, ids, sentiments, counts)
		if err != nil {
			return err
		}
		dates, err := pgx.CollectRows(rows, pgx.RowTo[int64])
		if err != nil {
			return err
		}
		out = affected(dates)
		return nil
	})
	return out, err
}

// DeleteSample removes min(n, available) randomly chosen rows.
func (s *SourceStore) DeleteSample(ctx context.Context, n int, seed float64) (Affected, error) {
	var out Affected
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		ids, err := s.sampleIDs(ctx, tx, n, seed)
		if err != nil || len(ids) == 0 {
			return err
		}
		sql := fmt.Sprintf("DELETE FROM %s WHERE %s = ANY($1) RETURNING %s",
			s.table().Sanitize(),
			pgx.Identifier{s.source.ID}.Sanitize(),
			pgx.Identifier{s.source.Date}.Sanitize(),
		)
		rows, err := tx.Query(ctx, sql, ids)
		if err != nil {
			return err
		}
		dates, err := pgx.CollectRows(rows, pgx.RowTo[int64])
		if err != nil {
			return err
		}
		out = affected(dates)
		return nil
	})
	return out, err
}

func affected(raw []int64) Affected {
	dates := make([]types.PartitionDate, len(raw))
	for i, d := range raw {
		dates[i] = types.PartitionDate(d)
	}
	return Affected{Rows: len(raw), Dates: types.UniqueSortedDates(dates...)}
}
