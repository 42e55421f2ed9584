package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/juju/loggo"
	_ "github.com/mattn/go-sqlite3"

	vberrors "github.com/conflictmonitor/viewbench/internal/errors"
	"github.com/conflictmonitor/viewbench/internal/report"
)

var logger = loggo.GetLogger("viewbench.history")

// ErrNotFound is returned by Get for an unknown batch.
var ErrNotFound = errors.New("history: result not found")

// Entry is the listing form of a stored result.
type Entry struct {
	BatchID         string   `json:"batch_id"`
	Marker          string   `json:"marker"`
	TargetDate      int64    `json:"target_date"`
	Converged       bool     `json:"converged"`
	ApplySeconds    float64  `json:"apply_seconds"`
	CatchupSeconds  *float64 `json:"catchup_seconds"`
	BaselineSeconds *float64 `json:"baseline_seconds"`
	Speedup         *float64 `json:"speedup"`
	Consistent      *bool    `json:"consistent"`
	CreatedAt       int64    `json:"created_at"`
}

// Store is the SQLite-backed ledger.
type Store struct {
	db *sql.DB
	mu sync.Mutex // single writer
}

// Open opens or creates the ledger at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("history: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(CreateResultsTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: failed to create results table: %w", err)
	}
	for _, stmt := range CreateResultsIndexesSQL {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("history: failed to create index: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Save inserts or replaces the result of a batch.
func (s *Store) Save(ctx context.Context, r *report.BenchmarkResult) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return vberrors.NewStorageError(vberrors.CodeHistoryFailed, "failed to marshal result", err)
	}
	var consistent *bool
	if r.Correctness != nil {
		consistent = &r.Correctness.Consistent
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO results (
			batch_id, marker, target_date, inserts, updates, deletes,
			converged, apply_seconds, catchup_seconds, baseline_seconds, speedup,
			consistent, created_at, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.BatchID, r.Marker, int64(r.TargetDate), r.Inserts, r.Updates, r.Deletes,
		r.Converged, r.ApplySeconds, r.CatchupSeconds, r.BaselineSeconds, r.Speedup,
		consistent, r.Timestamp.UnixNano(), string(payload),
	)
	if err != nil {
		return vberrors.NewStorageError(vberrors.CodeHistoryFailed, "failed to save result "+r.BatchID, err)
	}
	logger.Debugf("saved result %s", r.BatchID)
	return nil
}

// Get returns the stored result of a batch.
func (s *Store) Get(ctx context.Context, batchID string) (*report.BenchmarkResult, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM results WHERE batch_id = ?`, batchID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, vberrors.NewStorageError(vberrors.CodeHistoryFailed, "failed to read result "+batchID, err)
	}
	var r report.BenchmarkResult
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return nil, vberrors.NewStorageError(vberrors.CodeHistoryFailed, "corrupt payload for "+batchID, err)
	}
	return &r, nil
}

// List returns the newest entries first. A non-positive limit means 50.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT batch_id, marker, target_date, converged, apply_seconds,
			catchup_seconds, baseline_seconds, speedup, consistent, created_at
		FROM results
		ORDER BY created_at DESC, batch_id ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, vberrors.NewStorageError(vberrors.CodeHistoryFailed, "failed to list results", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e          Entry
			targetDate sql.NullInt64
			consistent sql.NullBool
		)
		if err := rows.Scan(&e.BatchID, &e.Marker, &targetDate, &e.Converged, &e.ApplySeconds,
			&e.CatchupSeconds, &e.BaselineSeconds, &e.Speedup, &consistent, &e.CreatedAt); err != nil {
			return nil, vberrors.NewStorageError(vberrors.CodeHistoryFailed, "failed to scan result", err)
		}
		e.TargetDate = targetDate.Int64
		if consistent.Valid {
			e.Consistent = &consistent.Bool
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
