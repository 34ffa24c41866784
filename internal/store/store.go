// Package store keeps a SQLite history of pipeline runs.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store is safe for concurrent use.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Run summarizes one pipeline run.
type Run struct {
	ID         int64     `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Sources    int       `json:"sources"`
	Calendars  int       `json:"calendars"`
	Events     int       `json:"events"`
	Errors     int       `json:"errors"`
	// Results is filled by RecentRuns only when requested via Results.
	Results []SourceResult `json:"results,omitempty"`
}

// SourceResult is one source's outcome within a run.
type SourceResult struct {
	Source string `json:"source"`
	Events int    `json:"events"`
	Errors int    `json:"errors"`
	// Failure is the fatal error that stopped the source, if any.
	Failure string `json:"failure,omitempty"`
}

// Open creates a new Store with the given database path and creates tables
// if they don't exist. File-based databases use WAL mode.
func Open(dbPath string) (*Store, error) {
	connStr := dbPath
	if dbPath == ":memory:" {
		connStr = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		sources INTEGER NOT NULL,
		calendars INTEGER NOT NULL,
		events INTEGER NOT NULL,
		errors INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

	CREATE TABLE IF NOT EXISTS source_results (
		run_id INTEGER NOT NULL,
		source TEXT NOT NULL,
		events INTEGER NOT NULL,
		errors INTEGER NOT NULL,
		failure TEXT,
		PRIMARY KEY (run_id, source),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// RecordRun stores a run and its per-source results, returning the run id.
func (s *Store) RecordRun(ctx context.Context, run Run) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs (started_at, finished_at, sources, calendars, events, errors)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.StartedAt.UTC(), run.FinishedAt.UTC(), run.Sources, run.Calendars, run.Events, run.Errors)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO source_results (run_id, source, events, errors, failure)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, r := range run.Results {
		if _, err := stmt.ExecContext(ctx, id, r.Source, r.Events, r.Errors, r.Failure); err != nil {
			return 0, fmt.Errorf("insert result %s: %w", r.Source, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// RecentRuns returns up to limit runs, newest first, with their results.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, sources, calendars, events, errors
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	index := make(map[int64]int)
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Sources, &r.Calendars, &r.Events, &r.Errors); err != nil {
			return nil, err
		}
		index[r.ID] = len(runs)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return runs, nil
	}

	results, err := s.db.QueryContext(ctx, `
		SELECT run_id, source, events, errors, COALESCE(failure, '')
		FROM source_results WHERE run_id >= ? ORDER BY run_id, source`, runs[len(runs)-1].ID)
	if err != nil {
		return nil, err
	}
	defer results.Close()
	for results.Next() {
		var runID int64
		var sr SourceResult
		if err := results.Scan(&runID, &sr.Source, &sr.Events, &sr.Errors, &sr.Failure); err != nil {
			return nil, err
		}
		if i, ok := index[runID]; ok {
			runs[i].Results = append(runs[i].Results, sr)
		}
	}
	return runs, results.Err()
}

// Prune deletes runs started before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM source_results WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)`, cutoff.UTC()); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
