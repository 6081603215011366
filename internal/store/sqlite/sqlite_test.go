package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ratchetdata/ratchet/internal/model"
	"github.com/ratchetdata/ratchet/internal/store"
	"github.com/ratchetdata/ratchet/internal/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedTask(t *testing.T, s *sqlite.Store) *model.Task {
	t.Helper()
	task, err := s.Tasks().Create(context.Background(), &model.Task{
		Name:         "echo",
		Version:      "1.0.0",
		SourceCode:   "function main(input){ return { echoed: input.msg } }",
		InputSchema:  `{"type":"object"}`,
		OutputSchema: `{"type":"object"}`,
		Enabled:      true,
	})
	require.NoError(t, err)
	return task
}

func TestTaskRepository_CreateAndGetByName(t *testing.T) {
	s := newStore(t)
	seedTask(t, s)

	got, err := s.Tasks().GetByName(context.Background(), "echo")
	require.NoError(t, err)
	require.Equal(t, "1.0.0", got.Version)
	require.NotEmpty(t, got.UUID)
}

func TestTaskRepository_GetByName_NotFound(t *testing.T) {
	s := newStore(t)
	_, err := s.Tasks().GetByName(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestJobRepository_EnqueueThenDequeue_RoundTrips(t *testing.T) {
	s := newStore(t)
	task := seedTask(t, s)
	ctx := context.Background()

	job, err := s.Jobs().Create(ctx, &model.Job{
		TaskID:     task.ID,
		Input:      `{"msg":"hi"}`,
		Priority:   model.PriorityNormal,
		MaxRetries: 3,
	})
	require.NoError(t, err)
	require.Equal(t, model.JobQueued, job.Status)

	claimed, err := s.Jobs().Dequeue(ctx, 10, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, job.ID, claimed[0].ID)
	require.Equal(t, model.JobProcessing, claimed[0].Status)
	require.NotNil(t, claimed[0].StartedAt)
	// round-trip: every persisted field besides status/queued_at/started_at is unchanged
	require.Equal(t, job.Input, claimed[0].Input)
	require.Equal(t, job.TaskID, claimed[0].TaskID)
	require.Equal(t, job.MaxRetries, claimed[0].MaxRetries)
}

func TestJobRepository_Dequeue_DoesNotDoubleClaim(t *testing.T) {
	s := newStore(t)
	task := seedTask(t, s)
	ctx := context.Background()

	_, err := s.Jobs().Create(ctx, &model.Job{TaskID: task.ID, Input: `{}`, MaxRetries: 3})
	require.NoError(t, err)

	first, err := s.Jobs().Dequeue(ctx, 10, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := s.Jobs().Dequeue(ctx, 10, time.Now().UTC())
	require.NoError(t, err)
	require.Empty(t, second, "a job already claimed as Processing must not be observed as Queued again")
}

func TestJobRepository_Dequeue_RespectsPriorityThenFIFO(t *testing.T) {
	s := newStore(t)
	task := seedTask(t, s)
	ctx := context.Background()

	low, err := s.Jobs().Create(ctx, &model.Job{TaskID: task.ID, Input: `{}`, Priority: model.PriorityLow, MaxRetries: 0})
	require.NoError(t, err)
	high, err := s.Jobs().Create(ctx, &model.Job{TaskID: task.ID, Input: `{}`, Priority: model.PriorityHigh, MaxRetries: 0})
	require.NoError(t, err)

	claimed, err := s.Jobs().Dequeue(ctx, 10, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	require.Equal(t, high.ID, claimed[0].ID)
	require.Equal(t, low.ID, claimed[1].ID)
}

func TestJobRepository_Dequeue_SkipsFutureScheduledAt(t *testing.T) {
	s := newStore(t)
	task := seedTask(t, s)
	ctx := context.Background()

	future := time.Now().Add(time.Hour).UTC()
	_, err := s.Jobs().Create(ctx, &model.Job{TaskID: task.ID, Input: `{}`, ScheduledAt: &future, MaxRetries: 0})
	require.NoError(t, err)

	claimed, err := s.Jobs().Dequeue(ctx, 10, time.Now().UTC())
	require.NoError(t, err)
	require.Empty(t, claimed)
}

func TestJobRepository_MarkFailed_RequiresProcessingState(t *testing.T) {
	s := newStore(t)
	task := seedTask(t, s)
	ctx := context.Background()

	job, err := s.Jobs().Create(ctx, &model.Job{TaskID: task.ID, Input: `{}`, MaxRetries: 0})
	require.NoError(t, err)

	err = s.Jobs().MarkFailed(ctx, job.ID, 0, "boom", time.Now().UTC())
	require.ErrorIs(t, err, store.ErrConflict, "a Queued job cannot be marked Failed directly")
}

func TestExecutionRepository_ProgressIsMonotonic(t *testing.T) {
	s := newStore(t)
	task := seedTask(t, s)
	ctx := context.Background()

	job, err := s.Jobs().Create(ctx, &model.Job{TaskID: task.ID, Input: `{}`, MaxRetries: 0})
	require.NoError(t, err)

	exec, err := s.Executions().Create(ctx, &model.Execution{TaskID: task.ID, JobID: job.ID, Input: `{}`})
	require.NoError(t, err)
	require.NoError(t, s.Executions().MarkRunning(ctx, exec.ID, "worker-1", time.Now().UTC()))

	require.NoError(t, s.Executions().UpdateProgress(ctx, exec.ID, 0.5))
	require.NoError(t, s.Executions().UpdateProgress(ctx, exec.ID, 0.2)) // regression silently ignored

	got, err := s.Executions().GetByID(ctx, exec.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Progress)
	require.Equal(t, 0.5, *got.Progress)
}

func TestExecutionRepository_Complete_SetsTerminalTimestampAndProgress(t *testing.T) {
	s := newStore(t)
	task := seedTask(t, s)
	ctx := context.Background()

	job, err := s.Jobs().Create(ctx, &model.Job{TaskID: task.ID, Input: `{}`, MaxRetries: 0})
	require.NoError(t, err)
	exec, err := s.Executions().Create(ctx, &model.Execution{TaskID: task.ID, JobID: job.ID, Input: `{}`})
	require.NoError(t, err)
	require.NoError(t, s.Executions().MarkRunning(ctx, exec.ID, "worker-1", time.Now().UTC()))

	require.NoError(t, s.Executions().Complete(ctx, exec.ID, `{"echoed":"hi"}`, time.Now().UTC()))

	got, err := s.Executions().GetByID(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, model.ExecutionCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.Progress)
	require.Equal(t, 1.0, *got.Progress)
}

func TestScheduleRepository_ListDue(t *testing.T) {
	s := newStore(t)
	task := seedTask(t, s)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute).UTC()
	future := time.Now().Add(time.Hour).UTC()

	due, err := s.Schedules().Create(ctx, &model.Schedule{TaskID: task.ID, CronExpression: "0 * * * * *", Enabled: true, NextRun: &past})
	require.NoError(t, err)
	_, err = s.Schedules().Create(ctx, &model.Schedule{TaskID: task.ID, CronExpression: "0 * * * * *", Enabled: true, NextRun: &future})
	require.NoError(t, err)

	rows, err := s.Schedules().ListDue(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, due.ID, rows[0].ID)
}
