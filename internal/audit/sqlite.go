package audit

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const maxErrorLen = 512

const timeLayout = "2006-01-02T15:04:05.000"

// SQLiteAuditor implements Auditor using a local SQLite database.
type SQLiteAuditor struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS merge_runs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp   TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%f','now')),
    tool        TEXT    NOT NULL,
    scope       TEXT    NOT NULL DEFAULT '',
    output      TEXT    NOT NULL DEFAULT '',
    input_count INTEGER NOT NULL,
    key_count   INTEGER NOT NULL DEFAULT 0,
    outcome     TEXT    NOT NULL,
    error_kind  TEXT    NOT NULL DEFAULT '',
    reason      TEXT    NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS run_inputs (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id       INTEGER NOT NULL REFERENCES merge_runs(id),
    input_index  INTEGER NOT NULL,
    path         TEXT    NOT NULL,
    key_count    INTEGER NOT NULL DEFAULT 0,
    outcome      TEXT    NOT NULL,
    error        TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_run_ts ON merge_runs(timestamp);
CREATE INDEX IF NOT EXISTS idx_input_run ON run_inputs(run_id);
`

// DefaultDBPath returns the default audit database path.
// It checks $JSONMERGE_AUDIT_DB, then $XDG_DATA_HOME/jsonmerge/audit.db,
// then falls back to ~/.local/share/jsonmerge/audit.db.
func DefaultDBPath() string {
	if p := os.Getenv("JSONMERGE_AUDIT_DB"); p != "" {
		return p
	}
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "jsonmerge", "audit.db")
}

// Open opens (or creates) a SQLite audit database at the given path.
// It creates the schema and configures WAL mode with a 5-second busy timeout.
func Open(dbPath string) (*SQLiteAuditor, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: create directory %q: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("audit: open database %q: %w", dbPath, err)
	}

	for _, step := range []struct {
		name string
		stmt string
	}{
		{"set WAL mode", "PRAGMA journal_mode=WAL"},
		{"set busy_timeout", "PRAGMA busy_timeout=5000"},
		{"create schema", schema},
	} {
		if _, err := db.Exec(step.stmt); err != nil {
			closeErr := db.Close()
			if closeErr != nil {
				return nil, fmt.Errorf("audit: %s: %w (also failed to close: %v)", step.name, err, closeErr)
			}
			return nil, fmt.Errorf("audit: %s: %w", step.name, err)
		}
	}

	return &SQLiteAuditor{db: db}, nil
}

// DB returns the underlying *sql.DB for use with query helpers.
// Returns nil if the receiver is nil.
func (a *SQLiteAuditor) DB() *sql.DB {
	if a == nil {
		return nil
	}
	return a.db
}

// RecordRun inserts a run and its input results in a single transaction.
// Nil receiver is a no-op.
func (a *SQLiteAuditor) RecordRun(entry RunRecord) error {
	if a == nil {
		return nil
	}

	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("audit: begin transaction: %w", err)
	}
	defer func() {
		// Rollback is a no-op if the transaction was already committed.
		_ = tx.Rollback()
	}()

	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	result, err := tx.Exec(
		`INSERT INTO merge_runs (timestamp, tool, scope, output, input_count, key_count, outcome, error_kind, reason, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.UTC().Format(timeLayout),
		entry.Tool,
		entry.Scope,
		entry.Output,
		entry.InputCount,
		entry.KeyCount,
		entry.Outcome,
		entry.Kind,
		Truncate(entry.Reason, maxErrorLen),
		entry.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("audit: insert merge_run: %w", err)
	}

	runID, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("audit: get last insert id: %w", err)
	}

	for _, in := range entry.Inputs {
		_, err := tx.Exec(
			`INSERT INTO run_inputs (run_id, input_index, path, key_count, outcome, error)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			runID,
			in.InputIndex,
			in.Path,
			in.KeyCount,
			in.Outcome,
			Truncate(in.Error, maxErrorLen),
		)
		if err != nil {
			return fmt.Errorf("audit: insert run_input %q: %w", in.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("audit: commit transaction: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
// Nil receiver is a no-op.
func (a *SQLiteAuditor) Close() error {
	if a == nil {
		return nil
	}
	if err := a.db.Close(); err != nil {
		return fmt.Errorf("audit: close database: %w", err)
	}
	return nil
}
