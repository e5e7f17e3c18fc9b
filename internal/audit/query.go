package audit

import (
	"database/sql"
	"fmt"
	"time"
)

const runColumns = "id, timestamp, tool, scope, output, input_count, key_count, outcome, error_kind, reason, duration_ms"

func scanRun(scan func(dest ...any) error) (RunRecord, error) {
	var r RunRecord
	var tsStr string
	if err := scan(&r.ID, &tsStr, &r.Tool, &r.Scope, &r.Output, &r.InputCount, &r.KeyCount, &r.Outcome, &r.Kind, &r.Reason, &r.DurationMs); err != nil {
		return RunRecord{}, err
	}
	ts, err := time.Parse(timeLayout, tsStr)
	if err != nil {
		return RunRecord{}, fmt.Errorf("parse timestamp %q: %w", tsStr, err)
	}
	r.Timestamp = ts
	return r, nil
}

// ListRuns returns merge runs with optional filtering by tool and outcome.
// Results are ordered by timestamp descending (newest first). A limit of 0
// returns every row; offset only applies together with a limit.
func ListRuns(db *sql.DB, limit, offset int, filterTool, filterOutcome string) ([]RunRecord, error) {
	if db == nil {
		return nil, fmt.Errorf("audit: ListRuns called with nil db")
	}

	query := "SELECT " + runColumns + " FROM merge_runs WHERE 1=1"
	var args []any

	if filterTool != "" {
		query += " AND tool = ?"
		args = append(args, filterTool)
	}
	if filterOutcome != "" {
		query += " AND outcome = ?"
		args = append(args, filterOutcome)
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
		if offset > 0 {
			query += " OFFSET ?"
			args = append(args, offset)
		}
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []RunRecord
	for rows.Next() {
		r, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("audit: scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate run rows: %w", err)
	}

	return runs, nil
}

// GetRun returns a single merge run by ID, including its input results.
func GetRun(db *sql.DB, id int64) (*RunRecord, error) {
	if db == nil {
		return nil, fmt.Errorf("audit: GetRun called with nil db")
	}

	r, err := scanRun(db.QueryRow("SELECT "+runColumns+" FROM merge_runs WHERE id = ?", id).Scan)
	if err != nil {
		return nil, fmt.Errorf("audit: get run %d: %w", id, err)
	}

	rows, err := db.Query(
		"SELECT id, run_id, input_index, path, key_count, outcome, error FROM run_inputs WHERE run_id = ? ORDER BY input_index",
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("audit: get inputs for run %d: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var in InputRecord
		if err := rows.Scan(&in.ID, &in.RunID, &in.InputIndex, &in.Path, &in.KeyCount, &in.Outcome, &in.Error); err != nil {
			return nil, fmt.Errorf("audit: scan run input: %w", err)
		}
		r.Inputs = append(r.Inputs, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate run inputs: %w", err)
	}

	return &r, nil
}

// Tail returns the last n merge runs ordered by timestamp descending (newest first).
func Tail(db *sql.DB, n int) ([]RunRecord, error) {
	return ListRuns(db, n, 0, "", "")
}

// Prune deletes merge runs (and their inputs) older than the given duration.
// Returns the number of runs deleted.
func Prune(db *sql.DB, olderThan time.Duration) (int64, error) {
	return PruneBefore(db, time.Now().UTC().Add(-olderThan))
}

// PruneBefore deletes merge runs recorded before cutoff, together with their
// inputs, in one transaction.
func PruneBefore(db *sql.DB, cutoff time.Time) (int64, error) {
	if db == nil {
		return 0, fmt.Errorf("audit: PruneBefore called with nil db")
	}

	cutoffStr := cutoff.UTC().Format(timeLayout)

	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("audit: begin prune transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Delete inputs for old runs first (foreign key reference).
	_, err = tx.Exec(
		"DELETE FROM run_inputs WHERE run_id IN (SELECT id FROM merge_runs WHERE timestamp < ?)",
		cutoffStr,
	)
	if err != nil {
		return 0, fmt.Errorf("audit: prune run inputs: %w", err)
	}

	result, err := tx.Exec("DELETE FROM merge_runs WHERE timestamp < ?", cutoffStr)
	if err != nil {
		return 0, fmt.Errorf("audit: prune merge runs: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("audit: prune rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("audit: commit prune: %w", err)
	}

	return count, nil
}

// Stats returns aggregate statistics from the audit database.
func Stats(db *sql.DB) (*AuditStats, error) {
	if db == nil {
		return nil, fmt.Errorf("audit: Stats called with nil db")
	}

	stats := &AuditStats{
		CountByOutcome: make(map[string]int64),
		CountByTool:    make(map[string]int64),
	}

	err := db.QueryRow("SELECT COALESCE(COUNT(*), 0), COALESCE(AVG(duration_ms), 0) FROM merge_runs").
		Scan(&stats.TotalRuns, &stats.AvgDurationMs)
	if err != nil {
		return nil, fmt.Errorf("audit: stats totals: %w", err)
	}

	if stats.TotalRuns == 0 {
		return stats, nil
	}

	var oldestStr, newestStr string
	err = db.QueryRow("SELECT MIN(timestamp), MAX(timestamp) FROM merge_runs").
		Scan(&oldestStr, &newestStr)
	if err != nil {
		return nil, fmt.Errorf("audit: stats min/max timestamp: %w", err)
	}

	if stats.OldestEntry, err = time.Parse(timeLayout, oldestStr); err != nil {
		return nil, fmt.Errorf("audit: parse oldest timestamp %q: %w", oldestStr, err)
	}
	if stats.NewestEntry, err = time.Parse(timeLayout, newestStr); err != nil {
		return nil, fmt.Errorf("audit: parse newest timestamp %q: %w", newestStr, err)
	}

	if err := countBy(db, "outcome", stats.CountByOutcome); err != nil {
		return nil, err
	}
	if err := countBy(db, "tool", stats.CountByTool); err != nil {
		return nil, err
	}

	return stats, nil
}

// countBy fills out with row counts grouped by column. column is always a
// constant from this package.
func countBy(db *sql.DB, column string, out map[string]int64) error {
	rows, err := db.Query(fmt.Sprintf("SELECT %s, COUNT(*) FROM merge_runs GROUP BY %s", column, column))
	if err != nil {
		return fmt.Errorf("audit: stats by %s: %w", column, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("audit: scan %s count: %w", column, err)
		}
		out[key] = count
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("audit: iterate %s rows: %w", column, err)
	}
	return nil
}
