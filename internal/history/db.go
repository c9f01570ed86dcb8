// Package history keeps a local ledger of finished agent runs in SQLite,
// for the status command and after-the-fact cost review.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Run is one finished agent run.
type Run struct {
	ID         int64
	TaskSlug   string
	IssueID    string
	Phase      string
	Status     string
	CostUSD    float64
	RetryCount int
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Store is the SQLite-backed run ledger.
type Store struct {
	db *sql.DB
}

// Open creates or opens the ledger at path, creating parent directories as
// needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	// Single-writer daemon; WAL keeps the status command from blocking it.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_slug TEXT NOT NULL,
	issue_id TEXT NOT NULL,
	phase TEXT NOT NULL,
	status TEXT NOT NULL,
	cost_usd REAL NOT NULL DEFAULT 0,
	retry_count INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	started_at INTEGER NOT NULL,
	finished_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_finished_at ON runs(finished_at);
CREATE INDEX IF NOT EXISTS idx_runs_issue ON runs(issue_id);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate history db: %w", err)
	}
	return nil
}

// RecordRun appends one run to the ledger.
func (s *Store) RecordRun(run Run) error {
	_, err := s.db.Exec(`
INSERT INTO runs (task_slug, issue_id, phase, status, cost_usd, retry_count, error, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.TaskSlug, run.IssueID, run.Phase, run.Status, run.CostUSD,
		run.RetryCount, run.Error, run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// RecentRuns returns the most recently finished runs, newest first.
func (s *Store) RecentRuns(limit int) ([]Run, error) {
	rows, err := s.db.Query(`
SELECT id, task_slug, issue_id, phase, status, cost_usd, retry_count, error, started_at, finished_at
FROM runs ORDER BY finished_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var startedAt, finishedAt int64
		if err := rows.Scan(&run.ID, &run.TaskSlug, &run.IssueID, &run.Phase, &run.Status,
			&run.CostUSD, &run.RetryCount, &run.Error, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.StartedAt = time.UnixMilli(startedAt)
		run.FinishedAt = time.UnixMilli(finishedAt)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// SpendSince sums the cost of runs finished at or after the cutoff.
func (s *Store) SpendSince(cutoff time.Time) (float64, error) {
	var total sql.NullFloat64
	err := s.db.QueryRow(`SELECT SUM(cost_usd) FROM runs WHERE finished_at >= ?`, cutoff.UnixMilli()).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum spend: %w", err)
	}
	return total.Float64, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
