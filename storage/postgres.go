package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Modar-SAD/task-nest/domain"
)

type pgConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresBackend stores tasks in a PostgreSQL table keyed by user and id.
type PostgresBackend struct {
	pool pgConn
}

// NewPostgresBackend creates a PostgresBackend.
func NewPostgresBackend(pool *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{pool: pool}
}

// EnsureTable creates the tasks table if it doesn't exist.
func (p *PostgresBackend) EnsureTable(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tasks (
			user_id     TEXT NOT NULL,
			id          TEXT NOT NULL,
			title       TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			deadline    TIMESTAMPTZ NOT NULL,
			status      TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, id)
		)`)
	return err
}

func (p *PostgresBackend) List(ctx context.Context, userID string) ([]domain.Record, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, title, description, deadline, status, created_at, updated_at
		FROM tasks WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	records := []domain.Record{}
	for rows.Next() {
		var r domain.Record
		if err := rows.Scan(&r.ID, &r.Title, &r.Description, &r.Deadline, &r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (p *PostgresBackend) Insert(ctx context.Context, userID string, rec domain.Record) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO tasks (user_id, id, title, description, deadline, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		userID, rec.ID, rec.Title, rec.Description, rec.Deadline, rec.Status, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (p *PostgresBackend) Update(ctx context.Context, userID, id string, patch domain.Patch, updatedAt time.Time) error {
	var status *string
	if patch.Status != nil {
		s := string(*patch.Status)
		status = &s
	}
	tag, err := p.pool.Exec(ctx, `
		UPDATE tasks SET
			title       = COALESCE($3, title),
			description = COALESCE($4, description),
			deadline    = COALESCE($5, deadline),
			status      = COALESCE($6, status),
			updated_at  = $7
		WHERE user_id = $1 AND id = $2`,
		userID, id, patch.Title, patch.Description, patch.Deadline, status, updatedAt)
	if err != nil {
		return fmt.Errorf("update task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.NotFoundError{ID: id}
	}
	return nil
}

func (p *PostgresBackend) Delete(ctx context.Context, userID, id string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM tasks WHERE user_id = $1 AND id = $2`, userID, id); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}
