package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	// Ensure schema exists for convenience.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS runs (
  id           TEXT PRIMARY KEY,
  started_at   TEXT NOT NULL,
  finished_at  TEXT,
  username     TEXT,
  queue        INTEGER NOT NULL DEFAULT 0,
  strategy     TEXT NOT NULL,
  activity_log TEXT,
  stop_reason  TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
CREATE TABLE IF NOT EXISTS records (
  id          INTEGER PRIMARY KEY,
  run_id      TEXT NOT NULL REFERENCES runs(id),
  occurred_at TEXT NOT NULL,
  link        TEXT NOT NULL,
  match       TEXT NOT NULL,
  action      TEXT NOT NULL,
  pattern     TEXT,
  platform    TEXT
);
CREATE INDEX IF NOT EXISTS idx_records_run ON records(run_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_records_action ON records(action);
    `); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// StartRun inserts a new run row. The run id must be set by the caller.
func (d *DB) StartRun(ctx context.Context, r Run) error {
	if r.ID == "" {
		return fmt.Errorf("run id is required")
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO runs(id, started_at, username, queue, strategy, activity_log) VALUES(?,?,?,?,?,?)`,
		r.ID, formatTime(r.StartedAt), nullIfEmpty(r.Username), r.Queue, r.Strategy, nullIfEmpty(r.ActivityLog))
	return err
}

// FinishRun stamps the end time and stop reason of a run.
func (d *DB) FinishRun(ctx context.Context, id string, finishedAt time.Time, stopReason string) error {
	res, err := d.sql.ExecContext(ctx, `UPDATE runs SET finished_at = ?, stop_reason = ? WHERE id = ?`,
		formatTime(finishedAt), nullIfEmpty(stopReason), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// InsertRecord stores one processed item and returns its row id.
func (d *DB) InsertRecord(ctx context.Context, rec Record) (int64, error) {
	if rec.RunID == "" {
		return 0, fmt.Errorf("record without run id")
	}
	res, err := d.sql.ExecContext(ctx,
		`INSERT INTO records(run_id, occurred_at, link, match, action, pattern, platform) VALUES(?,?,?,?,?,?,?)`,
		rec.RunID, formatTime(rec.OccurredAt), rec.Link, rec.Match, rec.Action, nullIfEmpty(rec.Pattern), nullIfEmpty(rec.Platform))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const runColumns = `
	r.id, r.started_at, r.finished_at, r.username, r.queue, r.strategy, r.activity_log, r.stop_reason,
	COUNT(rec.id),
	COALESCE(SUM(CASE WHEN rec.action = 'approve' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN rec.action = 'defer' THEN 1 ELSE 0 END), 0)
FROM runs r LEFT JOIN records rec ON rec.run_id = r.id`

// ListRuns returns the most recent runs with their record counts, newest first.
func (d *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.sql.QueryContext(ctx, "SELECT "+runColumns+" GROUP BY r.id ORDER BY r.started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// GetRun returns a single run or ErrRunNotFound.
func (d *DB) GetRun(ctx context.Context, id string) (Run, error) {
	row := d.sql.QueryRowContext(ctx, "SELECT "+runColumns+" WHERE r.id = ? GROUP BY r.id", id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return r, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (Run, error) {
	var (
		r       Run
		started string

		finished, username, activityLog, stopReason sql.NullString
	)
	if err := s.Scan(&r.ID, &started, &finished, &username, &r.Queue, &r.Strategy, &activityLog, &stopReason,
		&r.Processed, &r.Approved, &r.Deferred); err != nil {
		return Run{}, err
	}
	r.StartedAt = parseTime(started)
	if finished.Valid {
		r.FinishedAt = parseTime(finished.String)
	}
	r.Username = username.String
	r.ActivityLog = activityLog.String
	r.StopReason = stopReason.String
	r.Failed = r.Processed - r.Approved - r.Deferred
	return r, nil
}

// ListOptions controls selection when listing records.
type ListOptions struct {
	RunID  string
	Action string
	Since  time.Time
	Limit  int
}

// ListRecords returns records matching filters in processing order.
func (d *DB) ListRecords(ctx context.Context, opts ListOptions) ([]Record, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	if opts.RunID != "" {
		where += " AND run_id = ?"
		args = append(args, opts.RunID)
	}
	if opts.Action != "" && opts.Action != "all" {
		where += " AND action = ?"
		args = append(args, opts.Action)
	}
	if !opts.Since.IsZero() {
		where += " AND occurred_at >= ?"
		args = append(args, formatTime(opts.Since))
	}
	q := "SELECT id, run_id, occurred_at, link, match, action, pattern, platform FROM records " + where + " ORDER BY occurred_at, id"
	if opts.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := d.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var (
			rec               Record
			occurred          string
			pattern, platform sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.RunID, &occurred, &rec.Link, &rec.Match, &rec.Action, &pattern, &platform); err != nil {
			return nil, err
		}
		rec.OccurredAt = parseTime(occurred)
		rec.Pattern = pattern.String
		rec.Platform = platform.String
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type ActionStats struct {
	Action string `json:"action"`
	Count  int    `json:"count"`
	Runs   int    `json:"runs"`
}

// GetStats counts records per action across all runs.
func (d *DB) GetStats(ctx context.Context) ([]ActionStats, error) {
	query := `
		SELECT
			action,
			COUNT(*),
			COUNT(DISTINCT run_id)
		FROM
			records
		GROUP BY
			action
		ORDER BY
			action;
	`
	rows, err := d.sql.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []ActionStats
	for rows.Next() {
		var s ActionStats
		if err := rows.Scan(&s.Action, &s.Count, &s.Runs); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return stats, nil
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime accepts our own layout and SQLite's CURRENT_TIMESTAMP format.
func parseTime(s string) time.Time {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
