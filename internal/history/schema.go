// Package history keeps a SQLite ledger of produced benchmark results.
package history

// CreateResultsTableSQL creates the results ledger. The full result is kept
// as JSON; the scalar columns exist for listing and filtering.
const CreateResultsTableSQL = `
CREATE TABLE IF NOT EXISTS results (
    batch_id TEXT PRIMARY KEY,
    marker TEXT NOT NULL,
    target_date INTEGER,
    inserts INTEGER NOT NULL,
    updates INTEGER NOT NULL,
    deletes INTEGER NOT NULL,
    converged INTEGER NOT NULL,
    apply_seconds REAL NOT NULL,
    catchup_seconds REAL,
    baseline_seconds REAL,
    speedup REAL,
    consistent INTEGER,
    created_at INTEGER NOT NULL,
    payload TEXT NOT NULL
)`

var CreateResultsIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_results_created ON results(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_results_target ON results(target_date)`,
}
