package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ratchetdata/ratchet/internal/model"
	"github.com/ratchetdata/ratchet/internal/store"
)

type scheduleRepo struct{ db *sql.DB }

var _ store.ScheduleRepository = (*scheduleRepo)(nil)

const scheduleSelect = `SELECT id, task_id, cron_expression, enabled, input, next_run, last_run, output_destinations, disabled_reason, created_at, updated_at FROM schedules`

func (r *scheduleRepo) Create(ctx context.Context, s *model.Schedule) (*model.Schedule, error) {
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now
	dest, _ := json.Marshal(s.OutputDestinations)

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO schedules (task_id, cron_expression, enabled, input, next_run, last_run, output_destinations, disabled_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.TaskID, s.CronExpression, s.Enabled, s.Input, s.NextRun, s.LastRun, string(dest), s.DisabledReason, now, now)
	if err != nil {
		return nil, fmt.Errorf("sqlite: create schedule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	s.ID = id
	return s, nil
}

func scanSchedule(scan func(dest ...any) error) (*model.Schedule, error) {
	var s model.Schedule
	var dest string
	err := scan(&s.ID, &s.TaskID, &s.CronExpression, &s.Enabled, &s.Input, &s.NextRun, &s.LastRun, &dest, &s.DisabledReason, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(dest), &s.OutputDestinations)
	return &s, nil
}

func (r *scheduleRepo) GetByID(ctx context.Context, id int64) (*model.Schedule, error) {
	row := r.db.QueryRowContext(ctx, scheduleSelect+` WHERE id = ?`, id)
	return scanSchedule(row.Scan)
}

func (r *scheduleRepo) ListEnabled(ctx context.Context) ([]*model.Schedule, error) {
	return r.queryList(ctx, scheduleSelect+` WHERE enabled = 1`)
}

func (r *scheduleRepo) ListDue(ctx context.Context, now time.Time) ([]*model.Schedule, error) {
	return r.queryList(ctx, scheduleSelect+` WHERE enabled = 1 AND next_run <= ? ORDER BY next_run ASC`, now)
}

func (r *scheduleRepo) queryList(ctx context.Context, q string, args ...any) ([]*model.Schedule, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list schedules: %w", err)
	}
	defer rows.Close()
	var out []*model.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *scheduleRepo) UpdateNextRun(ctx context.Context, id int64, lastRun, nextRun time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE schedules SET last_run = ?, next_run = ?, updated_at = ? WHERE id = ?`, lastRun, nextRun, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRowsAffected(res)
}

func (r *scheduleRepo) Disable(ctx context.Context, id int64, reason string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE schedules SET enabled = 0, disabled_reason = ?, updated_at = ? WHERE id = ?`, reason, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRowsAffected(res)
}
