package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ratchetdata/ratchet/internal/model"
	"github.com/ratchetdata/ratchet/internal/store"
)

type jobRepo struct{ db *sql.DB }

var _ store.JobRepository = (*jobRepo)(nil)

const jobSelect = `SELECT id, uuid, task_id, input, priority, status, retry_count, max_retries, scheduled_at, queued_at, started_at, completed_at, error_message, output_destinations, last_execution_id FROM jobs`

func (r *jobRepo) Create(ctx context.Context, j *model.Job) (*model.Job, error) {
	j.UUID = uuid.NewString()
	j.QueuedAt = time.Now().UTC()
	j.Status = model.JobQueued
	dest, _ := json.Marshal(j.OutputDestinations)

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (uuid, task_id, input, priority, status, retry_count, max_retries, scheduled_at, queued_at, output_destinations, last_execution_id)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?, 0)`,
		j.UUID, j.TaskID, j.Input, int(j.Priority), int(model.JobQueued), j.MaxRetries, j.ScheduledAt, j.QueuedAt, string(dest))
	if err != nil {
		return nil, fmt.Errorf("sqlite: create job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	j.ID = id
	return j, nil
}

func scanJob(scan func(dest ...any) error) (*model.Job, error) {
	var j model.Job
	var priority, status int
	var dest string
	err := scan(&j.ID, &j.UUID, &j.TaskID, &j.Input, &priority, &status, &j.RetryCount, &j.MaxRetries,
		&j.ScheduledAt, &j.QueuedAt, &j.StartedAt, &j.CompletedAt, &j.ErrorMessage, &dest, &j.LastExecutionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	j.Priority = model.Priority(priority)
	j.Status = model.JobStatus(status)
	_ = json.Unmarshal([]byte(dest), &j.OutputDestinations)
	return &j, nil
}

func (r *jobRepo) GetByID(ctx context.Context, id int64) (*model.Job, error) {
	row := r.db.QueryRowContext(ctx, jobSelect+` WHERE id = ?`, id)
	return scanJob(row.Scan)
}

func (r *jobRepo) List(ctx context.Context, filter store.JobFilter, page store.Page) ([]*model.Job, error) {
	page = page.Normalize(200)
	q := jobSelect + ` WHERE 1=1`
	var args []any
	if filter.Status != nil {
		q += ` AND status = ?`
		args = append(args, int(*filter.Status))
	}
	if filter.TaskID != 0 {
		q += ` AND task_id = ?`
		args = append(args, filter.TaskID)
	}
	if filter.Priority != nil {
		q += ` AND priority = ?`
		args = append(args, int(*filter.Priority))
	}
	q += ` ORDER BY priority DESC, queued_at ASC LIMIT ? OFFSET ?`
	args = append(args, page.Limit, page.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list jobs: %w", err)
	}
	defer rows.Close()
	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Dequeue implements the atomic compare-and-set described in §4.4: the
// candidate set is read, then each row is individually claimed with an
// UPDATE ... WHERE id = ? AND status = Queued. A row that loses the race
// (RowsAffected == 0) is silently skipped — per §8 property 3, no other
// coordinator observes it as Queued once this call returns.
func (r *jobRepo) Dequeue(ctx context.Context, limit int, now time.Time) ([]*model.Job, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Retrying → Queued once the backoff target has passed.
	if _, err := tx.ExecContext(ctx, `UPDATE jobs SET status = ? WHERE status = ? AND scheduled_at <= ?`,
		int(model.JobQueued), int(model.JobRetrying), now); err != nil {
		return nil, fmt.Errorf("sqlite: requeue retrying jobs: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM jobs
		WHERE status = ? AND (scheduled_at IS NULL OR scheduled_at <= ?)
		ORDER BY priority DESC, queued_at ASC
		LIMIT ?`, int(model.JobQueued), now, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: dequeue candidates: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	claimed := make([]*model.Job, 0, len(ids))
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `UPDATE jobs SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
			int(model.JobProcessing), now, id, int(model.JobQueued))
		if err != nil {
			return nil, fmt.Errorf("sqlite: claim job %d: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			continue // lost the race to another coordinator instance
		}
		row := tx.QueryRowContext(ctx, jobSelect+` WHERE id = ?`, id)
		j, err := scanJob(row.Scan)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, j)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *jobRepo) MarkCompleted(ctx context.Context, id int64, executionID int64, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, completed_at = ?, last_execution_id = ?
		WHERE id = ? AND status = ?`,
		int(model.JobCompleted), now, executionID, id, int(model.JobProcessing))
	if err != nil {
		return err
	}
	return requireCAS(res)
}

func (r *jobRepo) MarkFailed(ctx context.Context, id int64, executionID int64, errMsg string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, completed_at = ?, error_message = ?, last_execution_id = ?
		WHERE id = ? AND status = ?`,
		int(model.JobFailed), now, errMsg, executionID, id, int(model.JobProcessing))
	if err != nil {
		return err
	}
	return requireCAS(res)
}

func (r *jobRepo) MarkRetrying(ctx context.Context, id int64, executionID int64, errMsg string, retryAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, retry_count = retry_count + 1, scheduled_at = ?, error_message = ?, last_execution_id = ?
		WHERE id = ? AND status = ?`,
		int(model.JobRetrying), retryAt, errMsg, executionID, id, int(model.JobProcessing))
	if err != nil {
		return err
	}
	return requireCAS(res)
}

func (r *jobRepo) Cancel(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, completed_at = ?
		WHERE id = ? AND status IN (?, ?, ?)`,
		int(model.JobCancelled), time.Now().UTC(), id, int(model.JobQueued), int(model.JobProcessing), int(model.JobRetrying))
	if err != nil {
		return err
	}
	return requireCAS(res)
}

func requireCAS(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrConflict
	}
	return nil
}
