// Package events records task lifecycle history in SQLite: one row per
// create/start/stop/remove/restart action with its outcome. The task
// snapshot holds only current state; this log is the append-style record of
// how it got there.
package events

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Outcome values recorded with each event.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// Event is one recorded lifecycle action.
type Event struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"ts"`
	TraceID   string    `json:"traceId,omitempty"`
	TaskID    string    `json:"taskId"`
	Action    string    `json:"action"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
}

// Log is the SQLite-backed event log.
type Log struct {
	db *sql.DB
}

// Open opens (or creates) the event database at path and applies migrations.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open event db: %w", err)
	}

	// SQLite is single-writer; one shared connection lets database/sql
	// serialize callers instead of them fighting over write locks.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	l := &Log{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return l, nil
}

// Close closes the database.
func (l *Log) Close() error {
	return l.db.Close()
}

// Record inserts one event row.
func (l *Log) Record(ctx context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO events (ts, trace_id, task_id, action, outcome, detail)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ev.Timestamp, ev.TraceID, ev.TaskID, ev.Action, ev.Outcome, ev.Detail)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// Recent returns the newest events, most recent first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, ts, trace_id, task_id, action, outcome, detail
		FROM events
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.TraceID, &ev.TaskID,
			&ev.Action, &ev.Outcome, &ev.Detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// ForTask returns all events for one task, oldest first.
func (l *Log) ForTask(ctx context.Context, taskID string) ([]Event, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, ts, trace_id, task_id, action, outcome, detail
		FROM events
		WHERE task_id = ?
		ORDER BY id ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query events for task %s: %w", taskID, err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.TraceID, &ev.TaskID,
			&ev.Action, &ev.Outcome, &ev.Detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}
