package history

import (
	"context"
	"database/sql"
	"fmt"

	"souviens/internal/history/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// MemoryPath opens a private in-memory history database.
const MemoryPath = ":memory:"

// SQLiteHistory stores runs in a SQLite database.
type SQLiteHistory struct {
	db   *sql.DB
	path string
}

// NewSQLiteHistory opens the history database at path, applying any pending
// migrations. path can be a file path or MemoryPath.
func NewSQLiteHistory(path string) (*SQLiteHistory, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating history database: %w", err)
	}
	if err := migrations.CheckStatus(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("history database schema: %w", err)
	}

	return &SQLiteHistory{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every pooled connection to :memory: would get its own empty database.
	if path == MemoryPath {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Record stores a run and its units. Recording the same run ID twice
// replaces the earlier record.
func (h *SQLiteHistory) Record(ctx context.Context, run *Run) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, run.ID); err != nil {
		return fmt.Errorf("replacing run %s: %w", run.ID, err)
	}

	var finished sql.NullTime
	if run.FinishedAt != nil {
		finished = sql.NullTime{Time: run.FinishedAt.UTC(), Valid: true}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, kind, label, source, started_at, finished_at, status, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Kind, run.Label, run.Source, run.StartedAt.UTC(), finished, run.Status, run.Error)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}

	for i, u := range run.Units {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO run_units (run_id, position, kind, name, status, succeeded, errors, note)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, i, u.Kind, u.Name, u.Status, u.Succeeded, u.Errors, u.Note)
		if err != nil {
			return fmt.Errorf("inserting %s %s of run %s: %w", u.Kind, u.Name, run.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// List returns the most recent runs, newest first. limit <= 0 returns all.
func (h *SQLiteHistory) List(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := h.db.QueryContext(ctx,
		`SELECT id, kind, label, source, started_at, finished_at, status, error
		 FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var (
			r        Run
			finished sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.Kind, &r.Label, &r.Source, &r.StartedAt, &finished, &r.Status, &r.Error); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.StartedAt = r.StartedAt.UTC()
		if finished.Valid {
			t := finished.Time.UTC()
			r.FinishedAt = &t
		}
		runs = append(runs, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	rows.Close()

	for _, r := range runs {
		units, err := h.units(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		r.Units = units
	}
	return runs, nil
}

func (h *SQLiteHistory) units(ctx context.Context, runID string) ([]Unit, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT kind, name, status, succeeded, errors, note
		 FROM run_units WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing units of run %s: %w", runID, err)
	}
	defer rows.Close()

	var units []Unit
	for rows.Next() {
		var u Unit
		if err := rows.Scan(&u.Kind, &u.Name, &u.Status, &u.Succeeded, &u.Errors, &u.Note); err != nil {
			return nil, fmt.Errorf("scanning unit: %w", err)
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

// Path returns the database file path, or MemoryPath.
func (h *SQLiteHistory) Path() string {
	return h.path
}

// Close closes the database connection.
func (h *SQLiteHistory) Close() error {
	if h.db != nil {
		return h.db.Close()
	}
	return nil
}
