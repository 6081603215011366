// Package queue is the FIFO-by-priority job queue (§4.4): a thin,
// validating wrapper over store.JobRepository plus the retry/backoff
// policy the engine consults on failure.
package queue

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/ratchetdata/ratchet/internal/jsruntime"
	"github.com/ratchetdata/ratchet/internal/log"
	"github.com/ratchetdata/ratchet/internal/model"
	"github.com/ratchetdata/ratchet/internal/rerr"
	"github.com/ratchetdata/ratchet/internal/store"
)

// Submission is the external job-submission request shape (§6).
type Submission struct {
	TaskName           string
	Input              string // raw JSON
	Priority           *model.Priority
	MaxRetries         *int
	ScheduledAt        *time.Time
	OutputDestinations []string
}

// RetryPolicy computes backoff per §4.4: initial_delay · multiplier^n,
// capped at max_delay, with ±jitter_factor jitter. Grounded on the
// original source's reconnection backoff math (ratchet-mcp/src/recovery/
// reconnection.rs), reused here for job retry scheduling per the Design
// Note in spec.md §9.
type RetryPolicy struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	JitterFactor float64
}

// DefaultRetryPolicy matches the values exercised by the seed scenarios
// in spec.md §8 (scenario 3: several short retries before exhaustion).
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{InitialDelay: 500 * time.Millisecond, Multiplier: 2.0, MaxDelay: 30 * time.Second, JitterFactor: 0.1}
}

// Backoff computes the delay before the retryCount-th retry (0-indexed).
func (p RetryPolicy) Backoff(retryCount int) time.Duration {
	raw := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(retryCount))
	if raw > float64(p.MaxDelay) {
		raw = float64(p.MaxDelay)
	}
	if p.JitterFactor > 0 {
		jitter := raw * p.JitterFactor
		raw += (rand.Float64()*2 - 1) * jitter
	}
	if raw < 0 {
		raw = 0
	}
	return time.Duration(raw)
}

// Queue wraps a store.Store to provide the validated enqueue path and
// retry bookkeeping described in §4.4 and §6.
type Queue struct {
	store  store.Store
	policy RetryPolicy
}

func New(s store.Store, policy RetryPolicy) *Queue {
	return &Queue{store: s, policy: policy}
}

// Submit validates the task exists and is enabled, validates the input
// against the task's input schema, applies submission defaults (§6:
// priority defaults Normal, max_retries defaults 3), and enqueues a new
// Job.
func (q *Queue) Submit(ctx context.Context, sub Submission) (*model.Job, error) {
	task, err := q.store.Tasks().GetByName(ctx, sub.TaskName)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, rerr.Newf(rerr.KindNotFound, "task %q not found", sub.TaskName)
		}
		return nil, rerr.Wrap(rerr.KindInternal, err)
	}
	if !task.Enabled {
		return nil, rerr.Newf(rerr.KindValidation, "task %q is disabled", sub.TaskName)
	}
	if err := jsruntime.Validate(task.InputSchema, sub.Input); err != nil {
		return nil, err
	}

	priority := model.PriorityNormal
	if sub.Priority != nil {
		priority = *sub.Priority
	}
	maxRetries := 3
	if sub.MaxRetries != nil {
		maxRetries = *sub.MaxRetries
	}

	job := &model.Job{
		TaskID:             task.ID,
		Input:              sub.Input,
		Priority:           priority,
		MaxRetries:         maxRetries,
		ScheduledAt:        sub.ScheduledAt,
		OutputDestinations: sub.OutputDestinations,
	}
	created, err := q.store.Jobs().Create(ctx, job)
	if err != nil {
		return nil, rerr.Wrap(rerr.KindInternal, err)
	}
	log.Info(log.CatQueue, "job enqueued", "job_id", created.ID, "task", sub.TaskName, "priority", priority.String())
	return created, nil
}

// Dequeue claims up to limit queued, due jobs (§4.4).
func (q *Queue) Dequeue(ctx context.Context, limit int) ([]*model.Job, error) {
	return q.store.Jobs().Dequeue(ctx, limit, time.Now().UTC())
}

// Complete marks a job (and its owning execution, already recorded by
// the engine) completed.
func (q *Queue) Complete(ctx context.Context, jobID, executionID int64) error {
	return q.store.Jobs().MarkCompleted(ctx, jobID, executionID, time.Now().UTC())
}

// Fail applies the retry policy from §4.4: if retries remain and the
// error is retryable, the job transitions to Retrying with a backoff
// target; otherwise it becomes Failed.
func (q *Queue) Fail(ctx context.Context, job *model.Job, executionID int64, cause error) error {
	now := time.Now().UTC()
	if job.RetryCount < job.MaxRetries && rerr.IsRetryable(cause) {
		delay := q.policy.Backoff(job.RetryCount)
		log.Info(log.CatQueue, "job retrying", "job_id", job.ID, "retry_count", job.RetryCount+1, "delay_ms", delay.Milliseconds())
		return q.store.Jobs().MarkRetrying(ctx, job.ID, executionID, cause.Error(), now.Add(delay))
	}
	log.Warn(log.CatQueue, "job failed permanently", "job_id", job.ID, "error", cause.Error())
	return q.store.Jobs().MarkFailed(ctx, job.ID, executionID, cause.Error(), now)
}

// Cancel cancels a queued, processing, or retrying job.
func (q *Queue) Cancel(ctx context.Context, jobID int64) error {
	return q.store.Jobs().Cancel(ctx, jobID)
}
