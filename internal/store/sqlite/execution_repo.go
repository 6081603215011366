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

type executionRepo struct{ db *sql.DB }

var _ store.ExecutionRepository = (*executionRepo)(nil)

const executionSelect = `SELECT id, uuid, task_id, job_id, input, output, err_kind, err_message, err_data, status, progress, queued_at, started_at, completed_at, duration_ms, worker_id FROM executions`

func (r *executionRepo) Create(ctx context.Context, e *model.Execution) (*model.Execution, error) {
	e.UUID = uuid.NewString()
	e.QueuedAt = time.Now().UTC()
	e.Status = model.ExecutionPending

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO executions (uuid, task_id, job_id, input, status, queued_at, worker_id)
		VALUES (?, ?, ?, ?, ?, ?, '')`,
		e.UUID, e.TaskID, e.JobID, e.Input, int(model.ExecutionPending), e.QueuedAt)
	if err != nil {
		return nil, fmt.Errorf("sqlite: create execution: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	e.ID = id
	return e, nil
}

func scanExecution(scan func(dest ...any) error) (*model.Execution, error) {
	var e model.Execution
	var status int
	var errKind, errMessage, errData sql.NullString

	err := scan(&e.ID, &e.UUID, &e.TaskID, &e.JobID, &e.Input, &e.Output, &errKind, &errMessage, &errData,
		&status, &e.Progress, &e.QueuedAt, &e.StartedAt, &e.CompletedAt, &e.DurationMs, &e.WorkerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Status = model.ExecutionStatus(status)
	if errKind.Valid {
		ee := model.ExecutionError{Kind: errKind.String, Message: errMessage.String}
		if errData.Valid && errData.String != "" {
			_ = json.Unmarshal([]byte(errData.String), &ee.Data)
		}
		e.Err = &ee
	}
	return &e, nil
}

func (r *executionRepo) GetByID(ctx context.Context, id int64) (*model.Execution, error) {
	row := r.db.QueryRowContext(ctx, executionSelect+` WHERE id = ?`, id)
	return scanExecution(row.Scan)
}

func (r *executionRepo) ListByJob(ctx context.Context, jobID int64) ([]*model.Execution, error) {
	rows, err := r.db.QueryContext(ctx, executionSelect+` WHERE job_id = ? ORDER BY queued_at ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list executions: %w", err)
	}
	defer rows.Close()
	var out []*model.Execution
	for rows.Next() {
		e, err := scanExecution(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *executionRepo) MarkRunning(ctx context.Context, id int64, workerID string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE executions SET status = ?, started_at = ?, worker_id = ?
		WHERE id = ? AND status = ?`,
		int(model.ExecutionRunning), now, workerID, id, int(model.ExecutionPending))
	if err != nil {
		return err
	}
	return requireCAS(res)
}

// UpdateProgress silently ignores regressions and terminal executions:
// per §3, progress must be monotonically non-decreasing while Running,
// and a terminal execution has already published its final value.
func (r *executionRepo) UpdateProgress(ctx context.Context, id int64, progress float64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE executions SET progress = ?
		WHERE id = ? AND status = ? AND (progress IS NULL OR progress <= ?)`,
		progress, id, int(model.ExecutionRunning), progress)
	if err != nil {
		return fmt.Errorf("sqlite: update progress: %w", err)
	}
	return nil
}

func (r *executionRepo) Complete(ctx context.Context, id int64, output string, now time.Time) error {
	exec, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	var durationMs *int64
	if exec.StartedAt != nil {
		d := now.Sub(*exec.StartedAt).Milliseconds()
		durationMs = &d
	}
	one := 1.0
	res, err := r.db.ExecContext(ctx, `
		UPDATE executions SET status = ?, output = ?, progress = ?, completed_at = ?, duration_ms = ?
		WHERE id = ? AND status = ?`,
		int(model.ExecutionCompleted), output, one, now, durationMs, id, int(model.ExecutionRunning))
	if err != nil {
		return fmt.Errorf("sqlite: complete execution: %w", err)
	}
	return requireCAS(res)
}

func (r *executionRepo) Fail(ctx context.Context, id int64, execErr model.ExecutionError, lastProgress *float64, now time.Time) error {
	exec, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	var durationMs *int64
	if exec.StartedAt != nil {
		d := now.Sub(*exec.StartedAt).Milliseconds()
		durationMs = &d
	}
	dataJSON, _ := json.Marshal(execErr.Data)

	res, err := r.db.ExecContext(ctx, `
		UPDATE executions SET status = ?, err_kind = ?, err_message = ?, err_data = ?, progress = ?, completed_at = ?, duration_ms = ?
		WHERE id = ? AND status IN (?, ?)`,
		int(model.ExecutionFailed), execErr.Kind, execErr.Message, string(dataJSON), lastProgress, now, durationMs,
		id, int(model.ExecutionPending), int(model.ExecutionRunning))
	if err != nil {
		return fmt.Errorf("sqlite: fail execution: %w", err)
	}
	return requireCAS(res)
}

func (r *executionRepo) Cancel(ctx context.Context, id int64, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE executions SET status = ?, completed_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		int(model.ExecutionCancelled), now, id, int(model.ExecutionPending), int(model.ExecutionRunning))
	if err != nil {
		return err
	}
	return requireCAS(res)
}
