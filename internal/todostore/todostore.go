// Package todostore is the ToDo store: scheduled task records with due
// timestamps, the source of alarm times for the scheduler's refractory sleep.
package todostore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/indoria/guppi/internal/obslog"
)

// Status values a ToDo record may carry.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

// Task is a scheduled task record.
type Task struct {
	TaskID      string
	Description string
	Priority    int
	DueAt       time.Time
	CreatedAt   time.Time
	SourceAgent string
	Status      string
}

// Filter selects which tasks List returns.
type Filter string

const (
	FilterDue      Filter = "due"      // due_at <= now, still pending
	FilterUpcoming Filter = "upcoming" // due_at > now, still pending
	FilterAll      Filter = "all"
)

const schema = `
CREATE TABLE IF NOT EXISTS todo (
	task_id      TEXT PRIMARY KEY,
	description  TEXT NOT NULL,
	priority     INTEGER NOT NULL DEFAULT 0,
	due_at       TIMESTAMPTZ NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	source_agent TEXT NOT NULL,
	status       TEXT NOT NULL
)`

// Store is the single-table SQL database backing scheduled tasks.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to the configured Postgres DSN and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open todo pool: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("todo schema migration: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Add inserts a new task with status=pending.
func (s *Store) Add(ctx context.Context, taskID, description string, priority int, dueAt time.Time, sourceAgent string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO todo (task_id, description, priority, due_at, created_at, source_agent, status)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		taskID, description, priority, dueAt, time.Now(), sourceAgent, StatusPending)
	if err != nil {
		return fmt.Errorf("todo add: %w", err)
	}
	return nil
}

// Complete marks a task completed.
func (s *Store) Complete(ctx context.Context, taskID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE todo SET status=$1 WHERE task_id=$2`, StatusCompleted, taskID)
	if err != nil {
		return fmt.Errorf("todo complete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("todo complete: task %q not found", taskID)
	}
	return nil
}

// Snooze pushes a pending task's due timestamp forward.
func (s *Store) Snooze(ctx context.Context, taskID string, newDueAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE todo SET due_at=$1 WHERE task_id=$2 AND status=$3`, newDueAt, taskID, StatusPending)
	if err != nil {
		return fmt.Errorf("todo snooze: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("todo snooze: pending task %q not found", taskID)
	}
	return nil
}

// List returns tasks matching the filter, ordered by due_at ascending.
func (s *Store) List(ctx context.Context, f Filter) ([]Task, error) {
	var query string
	switch f {
	case FilterDue:
		query = `SELECT task_id, description, priority, due_at, created_at, source_agent, status
		          FROM todo WHERE status=$1 AND due_at <= now() ORDER BY due_at ASC`
	case FilterUpcoming:
		query = `SELECT task_id, description, priority, due_at, created_at, source_agent, status
		          FROM todo WHERE status=$1 AND due_at > now() ORDER BY due_at ASC`
	case FilterAll:
		query = `SELECT task_id, description, priority, due_at, created_at, source_agent, status
		          FROM todo ORDER BY due_at ASC`
	default:
		return nil, fmt.Errorf("todo list: unknown filter %q", f)
	}

	var rows interface {
		Close()
		Next() bool
		Scan(dest ...any) error
		Err() error
	}
	if f == FilterAll {
		r, err := s.pool.Query(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("todo list: %w", err)
		}
		rows = r
	} else {
		r, err := s.pool.Query(ctx, query, StatusPending)
		if err != nil {
			return nil, fmt.Errorf("todo list: %w", err)
		}
		rows = r
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.TaskID, &t.Description, &t.Priority, &t.DueAt, &t.CreatedAt, &t.SourceAgent, &t.Status); err != nil {
			return nil, fmt.Errorf("todo list scan: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// NextDue returns the soonest pending due timestamp, used by the scheduler's
// refractory sleep to arm the alarm timer. ok is false if nothing is pending.
func (s *Store) NextDue(ctx context.Context) (time.Time, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT due_at FROM todo WHERE status=$1 ORDER BY due_at ASC LIMIT 1`, StatusPending)
	var due time.Time
	if err := row.Scan(&due); err != nil {
		if err.Error() == "no rows in result set" {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("todo next due: %w", err)
	}
	return due, true, nil
}

// Overdue returns up to limit pending tasks whose due_at has passed, used by
// the scheduler's alarm dispatch rule.
func (s *Store) Overdue(ctx context.Context, limit int) ([]Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT task_id, description, priority, due_at, created_at, source_agent, status
		 FROM todo WHERE status=$1 AND due_at <= now() ORDER BY due_at ASC LIMIT $2`,
		StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("todo overdue: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.TaskID, &t.Description, &t.Priority, &t.DueAt, &t.CreatedAt, &t.SourceAgent, &t.Status); err != nil {
			return nil, fmt.Errorf("todo overdue scan: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		obslog.For("todostore").Debug().Msg("overdue query returned no rows")
	}
	return out, nil
}
