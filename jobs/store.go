package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id             TEXT PRIMARY KEY,
	app            TEXT NOT NULL,
	reference      TEXT NOT NULL DEFAULT '',
	parameters     TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	submit_time    INTEGER NOT NULL,
	start_time     INTEGER NOT NULL DEFAULT 0,
	completed_time INTEGER NOT NULL DEFAULT 0,
	error          TEXT NOT NULL DEFAULT '',
	output         TEXT NOT NULL DEFAULT '',
	result         TEXT NOT NULL DEFAULT '',
	owner          TEXT NOT NULL DEFAULT '',
	heartbeat      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status, submit_time);
`

const taskColumns = `id, app, reference, parameters, status, submit_time, start_time, completed_time, error, output, result`

// Store persists tasks in SQLite.
type Store struct {
	db *sql.DB
}

// dsnPragmas let a server and CLI runs share one database file: writers
// wait up to five seconds for the lock and readers never block writers.
const dsnPragmas = "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// OpenStore opens (creating if needed) the task database at path.
func OpenStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path+dsnPragmas)
	if err != nil {
		return nil, fmt.Errorf("opening job database: %w", err)
	}
	// A single connection serializes writers from all workers of this
	// process. Other processes are held off by busy_timeout.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating job tables: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*Task, error) {
	var (
		t                        Task
		params, result, status   string
		submit, start, completed int64
	)
	err := row.Scan(&t.ID, &t.App, &t.Reference, &params, &status,
		&submit, &start, &completed, &t.Error, &t.Output, &result)
	if err != nil {
		return nil, err
	}
	t.Status = Status(status)
	t.SubmitTime = fromUnixNano(submit)
	t.StartTime = fromUnixNano(start)
	t.CompletedTime = fromUnixNano(completed)
	if params != "" {
		t.Parameters = []byte(params)
	}
	if result != "" {
		t.Result = []byte(result)
	}
	return &t, nil
}

// Insert adds a new task.
func (s *Store) Insert(ctx context.Context, t *Task) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.App, t.Reference, string(t.Parameters), string(t.Status),
		unixNano(t.SubmitTime), unixNano(t.StartTime), unixNano(t.CompletedTime),
		t.Error, t.Output, string(t.Result))
	if err != nil {
		return fmt.Errorf("inserting task %s: %w", t.ID, err)
	}
	return nil
}

// Get returns one task.
func (s *Store) Get(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading task %s: %w", id, err)
	}
	return t, nil
}

// Query returns the known tasks among ids, keyed by id.
func (s *Store) Query(ctx context.Context, ids []string) (map[string]*Task, error) {
	out := make(map[string]*Task, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out[t.ID] = t
	}
	return out, rows.Err()
}

// Enumerate lists tasks newest first.
func (s *Store) Enumerate(ctx context.Context, offset, count int) ([]*Task, error) {
	if count <= 0 {
		count = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks ORDER BY submit_time DESC, rowid DESC LIMIT ? OFFSET ?`,
		count, offset)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Summary counts tasks by status.
func (s *Store) Summary(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("summarizing tasks: %w", err)
	}
	defer rows.Close()

	out := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[Status(status)] = n
	}
	return out, rows.Err()
}

// Claim moves the oldest queued task to in-progress on behalf of owner and
// returns it, or returns nil when nothing is queued.
func (s *Store) Claim(ctx context.Context, owner string, now time.Time) (*Task, error) {
	return s.claim(ctx, owner, now, "", nil)
}

// ClaimAmong is Claim restricted to the tasks in ids.
func (s *Store) ClaimAmong(ctx context.Context, owner string, now time.Time, ids []string) (*Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	return s.claim(ctx, owner, now, ` AND id IN (`+placeholders+`)`, args)
}

func (s *Store) claim(ctx context.Context, owner string, now time.Time, filter string, filterArgs []any) (*Task, error) {
	args := []any{string(StatusInProgress), unixNano(now), owner, unixNano(now), string(StatusQueued)}
	args = append(args, filterArgs...)
	row := s.db.QueryRowContext(ctx, `
		UPDATE tasks SET status = ?, start_time = ?, owner = ?, heartbeat = ?
		WHERE id = (
			SELECT id FROM tasks WHERE status = ?`+filter+`
			ORDER BY submit_time, rowid LIMIT 1
		)
		RETURNING `+taskColumns, args...)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming task: %w", err)
	}
	return t, nil
}

// Heartbeat renews the lease on every in-progress task held by owner.
func (s *Store) Heartbeat(ctx context.Context, owner string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET heartbeat = ? WHERE owner = ? AND status = ?`,
		unixNano(now), owner, string(StatusInProgress))
	if err != nil {
		return fmt.Errorf("renewing job leases: %w", err)
	}
	return nil
}

// Finish records the outcome of an in-progress task. A task already failed
// as interrupted keeps that status.
func (s *Store) Finish(ctx context.Context, id string, now time.Time, result []byte, taskErr error) error {
	status, msg := StatusCompleted, ""
	if taskErr != nil {
		status, msg = StatusFailed, taskErr.Error()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, completed_time = ?, error = ?, result = ? WHERE id = ? AND status = ?`,
		string(status), unixNano(now), msg, string(result), id, string(StatusInProgress))
	if err != nil {
		return fmt.Errorf("finishing task %s: %w", id, err)
	}
	return nil
}

// FailInterrupted marks in-progress tasks whose lease was last renewed
// before staleBefore as failed and returns how many there were. Their owner
// exited without finishing them.
func (s *Store) FailInterrupted(ctx context.Context, now, staleBefore time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, completed_time = ?, error = ? WHERE status = ? AND heartbeat < ?`,
		string(StatusFailed), unixNano(now), "interrupted by a restart",
		string(StatusInProgress), unixNano(staleBefore))
	if err != nil {
		return 0, fmt.Errorf("failing interrupted tasks: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
