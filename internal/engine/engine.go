// Package engine implements the execution engine (C7, §4.7): the glue
// between the job queue and the worker pool. It dequeues jobs, creates
// Execution records, dispatches ExecuteTask to the pool, interprets the
// reply, and drives the Job/Execution state machines plus output
// delivery. Grounded on the teacher's role-agnostic process event loop
// (internal/orchestration/v2/process/process.go — "works identically for
// both coordinator and worker roles") for the dequeue→dispatch→await-
// result loop shape, and internal/orchestration/mcp/coordinator.go for
// wiring results into progress notifications.
package engine

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/ratchetdata/ratchet/internal/delivery"
	"github.com/ratchetdata/ratchet/internal/ipc"
	"github.com/ratchetdata/ratchet/internal/log"
	"github.com/ratchetdata/ratchet/internal/model"
	"github.com/ratchetdata/ratchet/internal/pool"
	"github.com/ratchetdata/ratchet/internal/queue"
	"github.com/ratchetdata/ratchet/internal/rerr"
	"github.com/ratchetdata/ratchet/internal/store"
)

// ProgressEvent is published on every observed progress change so the
// MCP server's progress manager (C9, §4.9) can fan it out to subscribers.
type ProgressEvent struct {
	JobID       int64
	ExecutionID int64
	TaskID      int64
	Progress    float64
	Status      model.ExecutionStatus
}

// ProgressPublisher receives ProgressEvents; implementations must not
// block the engine (typically a buffered channel or a non-blocking fan-out).
type ProgressPublisher interface {
	Publish(ev ProgressEvent)
}

// NopProgressPublisher discards events; used when nothing subscribes.
type NopProgressPublisher struct{}

func (NopProgressPublisher) Publish(ProgressEvent) {}

// ExecutionTracker is implemented by shutdown.Coordinator. The engine
// registers each dispatched job against it so a graceful shutdown can
// wait for in-flight executions to finish (§4.10) instead of the pool
// force-killing workers mid-task.
type ExecutionTracker interface {
	TaskStarted()
	TaskCompleted()
}

type nopExecutionTracker struct{}

func (nopExecutionTracker) TaskStarted()   {}
func (nopExecutionTracker) TaskCompleted() {}

// Config tunes the engine's polling and batching behavior.
type Config struct {
	PoolSize     int // concurrency ceiling; matches the worker pool's size
	BatchSize    int // jobs dequeued per cycle
	PollInterval time.Duration
	TaskTimeout  time.Duration
}

// DefaultConfig returns reasonable engine defaults.
func DefaultConfig() Config {
	return Config{BatchSize: 8, PollInterval: 200 * time.Millisecond, TaskTimeout: 30 * time.Second}
}

// Engine drives execution of queued jobs against a worker pool.
type Engine struct {
	cfg       Config
	store     store.Store
	queue     *queue.Queue
	pool      *pool.Pool
	delivery  *delivery.Registry
	progress  ProgressPublisher
	tracker   ExecutionTracker
	semaphore chan struct{}

	stop chan struct{}
	done chan struct{}
}

// New builds an Engine. cfg.PoolSize must be >= 1; it bounds the
// semaphore enforcing "never more in-flight executions than pool_size"
// (§4.7). tracker may be nil, in which case executions run untracked.
func New(cfg Config, s store.Store, q *queue.Queue, p *pool.Pool, deliveryReg *delivery.Registry, progress ProgressPublisher, tracker ExecutionTracker) *Engine {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 8
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	if progress == nil {
		progress = NopProgressPublisher{}
	}
	if tracker == nil {
		tracker = nopExecutionTracker{}
	}
	return &Engine{
		cfg:       cfg,
		store:     s,
		queue:     q,
		pool:      p,
		delivery:  deliveryReg,
		progress:  progress,
		tracker:   tracker,
		semaphore: make(chan struct{}, cfg.PoolSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs the dequeue loop in a goroutine until ctx is cancelled or
// Stop is called.
func (e *Engine) Start(ctx context.Context) {
	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stop:
				return
			case <-ticker.C:
				e.cycle(ctx)
			}
		}
	}()
}

// Stop halts the dequeue loop and waits for in-flight cycle() calls to
// return (individual job executions launched as goroutines are not
// awaited; callers drain those via the shutdown coordinator's in-flight
// counter instead).
func (e *Engine) Stop() {
	close(e.stop)
	<-e.done
}

func (e *Engine) cycle(ctx context.Context) {
	jobs, err := e.queue.Dequeue(ctx, e.cfg.BatchSize)
	if err != nil {
		log.ErrorErr(log.CatEngine, "dequeue failed", err)
		return
	}
	for _, job := range jobs {
		select {
		case e.semaphore <- struct{}{}:
		case <-ctx.Done():
			return
		}
		go func(j *model.Job) {
			defer func() { <-e.semaphore }()
			e.runJob(ctx, j)
		}(job)
	}
}

// runJob implements steps 2-5 of §4.7 for a single dequeued job. It
// registers itself with the shutdown tracker for its entire lifetime, so
// a graceful shutdown waits for the dispatch-and-await-result round trip
// to finish rather than tearing down the pool mid-task.
func (e *Engine) runJob(ctx context.Context, job *model.Job) {
	e.tracker.TaskStarted()
	defer e.tracker.TaskCompleted()

	task, err := e.store.Tasks().GetByID(ctx, job.TaskID)
	if err != nil {
		log.ErrorErr(log.CatEngine, "job references missing task", err, "job_id", job.ID)
		_ = e.queue.Fail(ctx, job, 0, rerr.New(rerr.KindNotFound, "task not found"))
		return
	}

	exec, err := e.store.Executions().Create(ctx, &model.Execution{
		TaskID:   task.ID,
		JobID:    job.ID,
		Input:    job.Input,
		Status:   model.ExecutionPending,
		QueuedAt: time.Now().UTC(),
	})
	if err != nil {
		log.ErrorErr(log.CatEngine, "failed to create execution", err, "job_id", job.ID)
		_ = e.queue.Fail(ctx, job, 0, rerr.Wrap(rerr.KindInternal, err))
		return
	}

	timeout := e.cfg.TaskTimeout
	req := ipc.NewExecuteTask(ipc.ExecuteTask{
		CorrelationID: correlationID(exec.ID),
		JobID:         job.ID,
		TaskID:        task.ID,
		TaskName:      task.Name,
		TaskVersion:   task.Version,
		Source:        task.SourceCode,
		InputSchema:   task.InputSchema,
		OutputSchema:  task.OutputSchema,
		Input:         job.Input,
		ExecutionID:   exec.ID,
		FetchTimeout:  timeout,
	})

	if err := e.store.Executions().MarkRunning(ctx, exec.ID, "", time.Now().UTC()); err != nil {
		log.ErrorErr(log.CatEngine, "failed to mark execution running", err, "execution_id", exec.ID)
	}

	reply, dispatchErr := e.pool.Dispatch(ctx, req, timeout)
	if dispatchErr != nil {
		e.onFailure(ctx, job, exec, dispatchErr, nil)
		return
	}

	outcome := reply.TaskResult.Result
	if outcome.Err != nil {
		cause := rerr.New(errKind(outcome.Err.Kind), outcome.Err.Message).WithData(outcome.Err.Data)
		e.onFailure(ctx, job, exec, cause, outcome.Progress)
		return
	}
	e.onSuccess(ctx, job, exec, task, outcome.Output)
}

func (e *Engine) onSuccess(ctx context.Context, job *model.Job, exec *model.Execution, task *model.Task, output string) {
	now := time.Now().UTC()
	if err := e.store.Executions().Complete(ctx, exec.ID, output, now); err != nil {
		log.ErrorErr(log.CatEngine, "failed to mark execution completed", err, "execution_id", exec.ID)
	}
	if err := e.queue.Complete(ctx, job.ID, exec.ID); err != nil {
		log.ErrorErr(log.CatEngine, "failed to mark job completed", err, "job_id", job.ID)
	}

	e.deliverOutput(ctx, job, exec, task, output)

	e.progress.Publish(ProgressEvent{JobID: job.ID, ExecutionID: exec.ID, TaskID: task.ID, Progress: 1.0, Status: model.ExecutionCompleted})
}

func (e *Engine) onFailure(ctx context.Context, job *model.Job, exec *model.Execution, cause error, lastProgress *float64) {
	now := time.Now().UTC()
	execErr := model.ExecutionError{Kind: rerr.KindOf(cause).String(), Message: cause.Error()}
	if err := e.store.Executions().Fail(ctx, exec.ID, execErr, lastProgress, now); err != nil {
		log.ErrorErr(log.CatEngine, "failed to mark execution failed", err, "execution_id", exec.ID)
	}
	if err := e.queue.Fail(ctx, job, exec.ID, cause); err != nil {
		log.ErrorErr(log.CatEngine, "failed to apply retry policy", err, "job_id", job.ID)
	}

	progress := 0.0
	if lastProgress != nil {
		progress = *lastProgress
	}
	e.progress.Publish(ProgressEvent{JobID: job.ID, ExecutionID: exec.ID, TaskID: job.TaskID, Progress: progress, Status: model.ExecutionFailed})
}

func (e *Engine) deliverOutput(ctx context.Context, job *model.Job, exec *model.Execution, task *model.Task, output string) {
	if len(job.OutputDestinations) == 0 {
		return
	}
	payload := delivery.Payload{
		JobID:       job.ID,
		TaskID:      task.ID,
		ExecutionID: exec.ID,
		TaskName:    task.Name,
		Output:      json.RawMessage(output),
		CompletedAt: time.Now().UTC(),
	}
	for _, dest := range job.OutputDestinations {
		sink, err := e.delivery.Resolve(dest)
		if err != nil {
			log.ErrorErr(log.CatEngine, "unresolvable output destination", err, "job_id", job.ID, "destination", dest)
			continue
		}
		if _, err := sink.Deliver(ctx, payload); err != nil {
			log.ErrorErr(log.CatEngine, "output delivery failed", err, "job_id", job.ID, "destination", dest)
		}
	}
}

func correlationID(executionID int64) string {
	return "exec-" + strconv.FormatInt(executionID, 10)
}

func errKind(k string) rerr.Kind {
	switch k {
	case "Timeout":
		return rerr.KindTimeout
	case "Validation":
		return rerr.KindValidation
	case "WorkerCrashed":
		return rerr.KindWorkerCrashed
	case "JsRuntime.Compile":
		return rerr.KindJSCompile
	case "JsRuntime.Runtime":
		return rerr.KindJSRuntime
	case "JsRuntime.TypedJs":
		return rerr.KindJSTyped
	case "Transport":
		return rerr.KindTransport
	default:
		return rerr.KindInternal
	}
}
