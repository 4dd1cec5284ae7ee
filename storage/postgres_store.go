package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver used by goose
	"github.com/pressly/goose/v3"

	"github.com/chhz0/taskd/types"
)

//go:embed migrations/*.sql
var migrations embed.FS

const pgColumns = `task_id, run_at, action, payload, status, recurrence, created_at, updated_at, error_message, parent_task_id`

type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage opens a pool, applies pending migrations and pings.
func NewPostgresStorage(ctx context.Context, dsn string, maxConns int32) (*PostgresStorage, error) {
	if err := RunPostgresMigrations(ctx, dsn); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &PostgresStorage{pool: pool}, nil
}

// RunPostgresMigrations applies the embedded goose migrations.
func RunPostgresMigrations(ctx context.Context, dsn string) error {
	goose.SetBaseFS(migrations)

	db, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open db for migrations: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *PostgresStorage) Get(ctx context.Context, taskID string) (*types.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgColumns+` FROM tasks WHERE task_id = $1 ORDER BY run_at LIMIT 1`, taskID)
	task, err := scanPgTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	return task, err
}

func (s *PostgresStorage) Put(ctx context.Context, task *types.Task) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tasks (`+pgColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (task_id) DO UPDATE SET
			run_at = EXCLUDED.run_at,
			action = EXCLUDED.action,
			payload = EXCLUDED.payload,
			status = EXCLUDED.status,
			recurrence = EXCLUDED.recurrence,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at,
			error_message = EXCLUDED.error_message,
			parent_task_id = EXCLUDED.parent_task_id`,
		pgArgs(normalize(task))...,
	)
	return err
}

func (s *PostgresStorage) Create(ctx context.Context, task *types.Task) error {
	t := normalize(task)
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO tasks (`+pgColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (task_id) DO NOTHING`,
		pgArgs(t)...,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskExists
	}
	return nil
}

func (s *PostgresStorage) UpdateStatus(ctx context.Context, u StatusUpdate) error {
	if err := u.validate(); err != nil {
		return err
	}
	runAt := types.Canonical(u.RunAt)
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = $1, updated_at = $2, error_message = COALESCE($3, error_message)
		WHERE task_id = $4 AND run_at = $5 AND status = $6`,
		string(u.To), u.at(), u.errorMessage(), u.TaskID, runAt, string(u.From),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = s.pool.QueryRow(ctx,
		`SELECT status FROM tasks WHERE task_id = $1 AND run_at = $2`, u.TaskID, runAt,
	).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrTaskNotFound
	}
	if err != nil {
		return err
	}
	if err := u.apply(&types.Task{ID: u.TaskID, RunAt: runAt, Status: types.TaskStatus(current)}); err != nil {
		return err
	}
	return ErrStatusConflict
}

func (s *PostgresStorage) QueryDue(ctx context.Context, status types.TaskStatus, now time.Time) ([]*types.Task, error) {
	return s.query(ctx,
		`SELECT `+pgColumns+` FROM tasks WHERE status = $1 AND run_at <= $2 ORDER BY run_at ASC, task_id ASC`,
		string(status), types.Canonical(now),
	)
}

func (s *PostgresStorage) List(ctx context.Context, status types.TaskStatus) ([]*types.Task, error) {
	if status == "" {
		return s.query(ctx, `SELECT `+pgColumns+` FROM tasks ORDER BY run_at ASC, task_id ASC`)
	}
	return s.query(ctx,
		`SELECT `+pgColumns+` FROM tasks WHERE status = $1 ORDER BY run_at ASC, task_id ASC`, string(status))
}

func (s *PostgresStorage) query(ctx context.Context, sql string, args ...any) ([]*types.Task, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*types.Task
	for rows.Next() {
		t, err := scanPgTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *PostgresStorage) Delete(ctx context.Context, taskID string, runAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM tasks WHERE task_id = $1 AND run_at = $2`, taskID, types.Canonical(runAt))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}

func scanPgTask(row pgx.Row) (*types.Task, error) {
	var (
		t                   types.Task
		action, status, rec string
		payload             []byte
		errMsg              *string
	)
	err := row.Scan(&t.ID, &t.RunAt, &action, &payload, &status, &rec,
		&t.CreatedAt, &t.UpdatedAt, &errMsg, &t.ParentTaskID)
	if err != nil {
		return nil, err
	}
	t.Action = types.Action(action)
	t.Status = types.TaskStatus(status)
	t.Recurrence = types.Recurrence(rec)
	t.Payload = payload
	if errMsg != nil {
		t.ErrorMessage = *errMsg
	}
	t.RunAt = types.Canonical(t.RunAt)
	t.CreatedAt = types.Canonical(t.CreatedAt)
	t.UpdatedAt = types.Canonical(t.UpdatedAt)
	return &t, nil
}

func pgArgs(t *types.Task) []any {
	var errMsg *string
	if t.ErrorMessage != "" {
		errMsg = &t.ErrorMessage
	}
	payload := string(t.Payload)
	if payload == "" {
		payload = "null"
	}
	return []any{
		t.ID, t.RunAt, string(t.Action), payload, string(t.Status), string(t.Recurrence),
		t.CreatedAt, t.UpdatedAt, errMsg, t.ParentTaskID,
	}
}
