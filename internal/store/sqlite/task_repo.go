package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ratchetdata/ratchet/internal/model"
	"github.com/ratchetdata/ratchet/internal/store"
)

type taskRepo struct{ db *sql.DB }

var _ store.TaskRepository = (*taskRepo)(nil)

func (r *taskRepo) Create(ctx context.Context, t *model.Task) (*model.Task, error) {
	now := time.Now().UTC()
	t.UUID = uuid.NewString()
	t.CreatedAt, t.UpdatedAt = now, now

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO tasks (uuid, name, version, source_code, input_schema, output_schema, enabled, repository_ref, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.UUID, t.Name, t.Version, t.SourceCode, t.InputSchema, t.OutputSchema, t.Enabled, t.RepositoryRef, now, now)
	if err != nil {
		return nil, fmt.Errorf("sqlite: create task %q: %w", t.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	t.ID = id
	return t, nil
}

func (r *taskRepo) GetByID(ctx context.Context, id int64) (*model.Task, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, taskSelect+` WHERE id = ?`, id))
}

func (r *taskRepo) GetByName(ctx context.Context, name string) (*model.Task, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, taskSelect+` WHERE name = ?`, name))
}

const taskSelect = `SELECT id, uuid, name, version, source_code, input_schema, output_schema, enabled, repository_ref, created_at, updated_at FROM tasks`

func (r *taskRepo) scanOne(row *sql.Row) (*model.Task, error) {
	var t model.Task
	err := row.Scan(&t.ID, &t.UUID, &t.Name, &t.Version, &t.SourceCode, &t.InputSchema, &t.OutputSchema, &t.Enabled, &t.RepositoryRef, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan task: %w", err)
	}
	return &t, nil
}

func (r *taskRepo) List(ctx context.Context, filter store.TaskFilter, page store.Page) ([]*model.Task, error) {
	page = page.Normalize(200)
	q := taskSelect + ` WHERE name LIKE ?`
	args := []any{filter.NamePrefix + "%"}
	if filter.EnabledOnly {
		q += ` AND enabled = 1`
	}
	q += ` ORDER BY name LIMIT ? OFFSET ?`
	args = append(args, page.Limit, page.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list tasks: %w", err)
	}
	defer rows.Close()

	var out []*model.Task
	for rows.Next() {
		var t model.Task
		if err := rows.Scan(&t.ID, &t.UUID, &t.Name, &t.Version, &t.SourceCode, &t.InputSchema, &t.OutputSchema, &t.Enabled, &t.RepositoryRef, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (r *taskRepo) Update(ctx context.Context, t *model.Task) error {
	t.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET version = ?, source_code = ?, input_schema = ?, output_schema = ?, enabled = ?, repository_ref = ?, updated_at = ?
		WHERE id = ?`,
		t.Version, t.SourceCode, t.InputSchema, t.OutputSchema, t.Enabled, t.RepositoryRef, t.UpdatedAt, t.ID)
	if err != nil {
		return fmt.Errorf("sqlite: update task %d: %w", t.ID, err)
	}
	return requireRowsAffected(res)
}

func (r *taskRepo) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE tasks SET enabled = ?, updated_at = ? WHERE id = ?`, enabled, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRowsAffected(res)
}

func requireRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
