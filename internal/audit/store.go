// Package audit provides an optional SQLite-backed audit trail for
// pipeline runs and cross-source conflict records. Conflict records stay
// outside the extraction record itself; this store is the sink that keeps
// them around for diagnostic consumers. A nil *Store disables auditing.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"

	"github.com/credex-io/credex/internal/fuse"
)

// Run is one recorded pipeline invocation.
type Run struct {
	ID            string
	Kind          string // "document" or "fusion"
	Status        string // "ok" or "failed"
	ChunkCount    int
	PartialCount  int
	ConflictCount int
	Method        string // fusion resolution method, empty for document runs
	Error         string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Store writes audit rows to a SQLite database.
type Store struct {
	db *sql.DB
}

// Open creates or opens the audit database at path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating audit db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging audit database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			chunk_count INTEGER NOT NULL DEFAULT 0,
			partial_count INTEGER NOT NULL DEFAULT 0,
			conflict_count INTEGER NOT NULL DEFAULT 0,
			method TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conflicts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id),
			field_path TEXT NOT NULL,
			resolution TEXT NOT NULL,
			resolved TEXT NOT NULL DEFAULT '',
			candidates TEXT NOT NULL DEFAULT '[]',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conflicts_run ON conflicts(run_id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("audit migration: %w", err)
		}
	}
	return nil
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// RecordRun inserts one pipeline run. Safe to call on a nil store.
func (s *Store) RecordRun(ctx context.Context, run Run) error {
	if s == nil {
		return nil
	}
	if run.ID == "" {
		run.ID = NewRunID()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, kind, status, chunk_count, partial_count, conflict_count, method, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Kind, run.Status, run.ChunkCount, run.PartialCount, run.ConflictCount,
		run.Method, run.Error, run.StartedAt.UTC(), run.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}
	return nil
}

// RecordConflicts stores the conflict records of one fusion run. Safe to
// call on a nil store.
func (s *Store) RecordConflicts(ctx context.Context, runID string, conflicts []fuse.ConflictRecord) error {
	if s == nil || len(conflicts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning conflict transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO conflicts (run_id, field_path, resolution, resolved, candidates) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing conflict insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range conflicts {
		candidates, err := json.Marshal(c.Values)
		if err != nil {
			return fmt.Errorf("marshaling candidates for %s: %w", c.FieldPath, err)
		}
		resolved, err := json.Marshal(c.Resolved)
		if err != nil {
			return fmt.Errorf("marshaling resolved value for %s: %w", c.FieldPath, err)
		}
		if _, err := stmt.ExecContext(ctx, runID, c.FieldPath, c.Resolution, string(resolved), string(candidates)); err != nil {
			return fmt.Errorf("inserting conflict %s: %w", c.FieldPath, err)
		}
	}
	return tx.Commit()
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, status, chunk_count, partial_count, conflict_count, method, error, started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Kind, &r.Status, &r.ChunkCount, &r.PartialCount,
			&r.ConflictCount, &r.Method, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
