package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite" // pure Go, no cgo

	"github.com/chhz0/taskd/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	task_id        TEXT NOT NULL,
	run_at         TEXT NOT NULL,
	action         TEXT NOT NULL,
	payload        TEXT NOT NULL,
	status         TEXT NOT NULL,
	recurrence     TEXT NOT NULL DEFAULT '',
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL,
	error_message  TEXT,
	parent_task_id TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (task_id, run_at)
);
CREATE INDEX IF NOT EXISTS idx_tasks_status_run_at ON tasks(status, run_at);
`

const sqliteColumns = `task_id, run_at, action, payload, status, recurrence, created_at, updated_at, error_message, parent_task_id`

// SQLiteStorage stores timestamps as TimeLayout text, which sorts and
// compares the same way as the instants it encodes.
type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Get(ctx context.Context, taskID string) (*types.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM tasks WHERE task_id = ? ORDER BY run_at LIMIT 1`, taskID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	return task, err
}

func (s *SQLiteStorage) Put(ctx context.Context, task *types.Task) error {
	t := normalize(task)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (`+sqliteColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id, run_at) DO UPDATE SET
			action = excluded.action,
			payload = excluded.payload,
			status = excluded.status,
			recurrence = excluded.recurrence,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			error_message = excluded.error_message,
			parent_task_id = excluded.parent_task_id`,
		sqliteArgs(t)...,
	)
	return err
}

func (s *SQLiteStorage) Create(ctx context.Context, task *types.Task) error {
	t := normalize(task)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (`+sqliteColumns+`)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (SELECT 1 FROM tasks WHERE task_id = ?)`,
		append(sqliteArgs(t), t.ID)...,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrTaskExists
	}
	return nil
}

func (s *SQLiteStorage) UpdateStatus(ctx context.Context, u StatusUpdate) error {
	if err := u.validate(); err != nil {
		return err
	}
	runAt := types.FormatTime(u.RunAt)
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = ?, error_message = COALESCE(?, error_message)
		WHERE task_id = ? AND run_at = ? AND status = ?`,
		string(u.To), types.FormatTime(u.at()), u.errorMessage(), u.TaskID, runAt, string(u.From),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var current types.TaskStatus
	err = s.db.QueryRowContext(ctx,
		`SELECT status FROM tasks WHERE task_id = ? AND run_at = ?`, u.TaskID, runAt,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrTaskNotFound
	}
	if err != nil {
		return err
	}
	if err := u.apply(&types.Task{ID: u.TaskID, RunAt: u.RunAt, Status: current}); err != nil {
		return err
	}
	return ErrStatusConflict
}

func (s *SQLiteStorage) QueryDue(ctx context.Context, status types.TaskStatus, now time.Time) ([]*types.Task, error) {
	return s.query(ctx,
		`SELECT `+sqliteColumns+` FROM tasks WHERE status = ? AND run_at <= ? ORDER BY run_at ASC, task_id ASC`,
		string(status), types.FormatTime(now),
	)
}

func (s *SQLiteStorage) List(ctx context.Context, status types.TaskStatus) ([]*types.Task, error) {
	if status == "" {
		return s.query(ctx, `SELECT `+sqliteColumns+` FROM tasks ORDER BY run_at ASC, task_id ASC`)
	}
	return s.query(ctx,
		`SELECT `+sqliteColumns+` FROM tasks WHERE status = ? ORDER BY run_at ASC, task_id ASC`, string(status))
}

func (s *SQLiteStorage) query(ctx context.Context, query string, args ...any) ([]*types.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *SQLiteStorage) Delete(ctx context.Context, taskID string, runAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE task_id = ? AND run_at = ?`, taskID, types.FormatTime(runAt))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*types.Task, error) {
	var (
		t                           types.Task
		payload                     string
		runAt, createdAt, updatedAt string
		errMsg                      sql.NullString
	)
	err := row.Scan(&t.ID, &runAt, &t.Action, &payload, &t.Status, &t.Recurrence,
		&createdAt, &updatedAt, &errMsg, &t.ParentTaskID)
	if err != nil {
		return nil, err
	}
	if payload != "" {
		t.Payload = []byte(payload)
	}
	t.ErrorMessage = errMsg.String
	for _, f := range []struct {
		dst *time.Time
		src string
	}{{&t.RunAt, runAt}, {&t.CreatedAt, createdAt}, {&t.UpdatedAt, updatedAt}} {
		if *f.dst, err = time.Parse(types.TimeLayout, f.src); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

func sqliteArgs(t *types.Task) []any {
	var errMsg any
	if t.ErrorMessage != "" {
		errMsg = t.ErrorMessage
	}
	return []any{
		t.ID, types.FormatTime(t.RunAt), string(t.Action), string(t.Payload), string(t.Status), string(t.Recurrence),
		types.FormatTime(t.CreatedAt), types.FormatTime(t.UpdatedAt), errMsg, t.ParentTaskID,
	}
}
