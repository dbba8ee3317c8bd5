package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ShayCichocki/squire/internal/subagent"
)

// RecordRun persists one terminal run. Implements subagent.RunRecorder.
func (db *DB) RecordRun(rec subagent.RunRecord) error {
	_, err := db.Exec(`
		INSERT OR REPLACE INTO runs
			(id, kind, task, status, error, output, input_tokens, output_tokens, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Kind, rec.Task, rec.Status, rec.Error, rec.Output,
		rec.InputTokens, rec.OutputTokens,
		formatTime(rec.CreatedAt), formatTime(rec.CompletedAt))
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// GetRun returns the run with the given id.
func (db *DB) GetRun(id string) (*subagent.RunRecord, error) {
	row := db.QueryRow(`
		SELECT id, kind, task, status, error, output, input_tokens, output_tokens, created_at, completed_at
		FROM runs WHERE id = ?
	`, id)

	rec, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return rec, nil
}

// ListRuns returns the most recent runs, newest first. A limit of zero or
// less returns everything.
func (db *DB) ListRuns(limit int) ([]subagent.RunRecord, error) {
	query := `
		SELECT id, kind, task, status, error, output, input_tokens, output_tokens, created_at, completed_at
		FROM runs ORDER BY created_at DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []subagent.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *rec)
	}
	return runs, rows.Err()
}

// ClearRuns deletes all run history. Returns the number of rows removed.
func (db *DB) ClearRuns() (int64, error) {
	result, err := db.Exec("DELETE FROM runs")
	if err != nil {
		return 0, fmt.Errorf("clear runs: %w", err)
	}
	return result.RowsAffected()
}

// PurgeOldRuns deletes runs older than the specified duration.
// Returns the number of runs deleted.
func (db *DB) PurgeOldRuns(olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))

	result, err := db.Exec("DELETE FROM runs WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge old runs: %w", err)
	}
	return result.RowsAffected()
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*subagent.RunRecord, error) {
	var rec subagent.RunRecord
	var errMsg, output sql.NullString
	var createdAt, completedAt string

	err := s.Scan(&rec.ID, &rec.Kind, &rec.Task, &rec.Status, &errMsg, &output,
		&rec.InputTokens, &rec.OutputTokens, &createdAt, &completedAt)
	if err != nil {
		return nil, err
	}

	rec.Error = errMsg.String
	rec.Output = output.String
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.CompletedAt, err = parseTime(completedAt); err != nil {
		return nil, fmt.Errorf("parse completed_at: %w", err)
	}
	return &rec, nil
}
