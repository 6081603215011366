package engine

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratchetdata/ratchet/internal/delivery"
	"github.com/ratchetdata/ratchet/internal/model"
	"github.com/ratchetdata/ratchet/internal/pool"
	"github.com/ratchetdata/ratchet/internal/queue"
	"github.com/ratchetdata/ratchet/internal/shutdown"
	"github.com/ratchetdata/ratchet/internal/store"
	"github.com/ratchetdata/ratchet/internal/store/sqlite"
	"github.com/ratchetdata/ratchet/internal/worker"
)

func newFakeProcess(t *testing.T) pool.Process {
	t.Helper()
	poolToWorker, workerStdin := io.Pipe()
	workerStdout, workerToPool := io.Pipe()
	exited := make(chan struct{})
	w := worker.New("w", workerStdin, workerToPool)
	go func() {
		_ = w.Run()
		close(exited)
	}()
	return &fp{toWorker: poolToWorker, fromWorker: workerStdout, exited: exited}
}

type fp struct {
	toWorker   *io.PipeWriter
	fromWorker *io.PipeReader
	exited     chan struct{}
}

func (p *fp) Stdin() io.WriteCloser { return p.toWorker }
func (p *fp) Stdout() io.ReadCloser { return p.fromWorker }
func (p *fp) PID() int              { return 1 }
func (p *fp) Wait() error           { <-p.exited; return nil }
func (p *fp) Kill() error           { return p.toWorker.Close() }

type recordingPublisher struct {
	events []ProgressEvent
}

func (r *recordingPublisher) Publish(ev ProgressEvent) { r.events = append(r.events, ev) }

func TestEngineRunsJobToCompletion(t *testing.T) {
	s, err := sqlite.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	task, err := s.Tasks().Create(ctx, &model.Task{
		Name:         "echo",
		Version:      "1.0.0",
		SourceCode:   `function main(input){ return { echoed: input.msg }; }`,
		InputSchema:  `{"type":"object","properties":{"msg":{"type":"string"}},"required":["msg"]}`,
		OutputSchema: `{"type":"object"}`,
		Enabled:      true,
	})
	require.NoError(t, err)

	q := queue.New(s, queue.DefaultRetryPolicy())
	_, err = q.Submit(ctx, queue.Submission{TaskName: task.Name, Input: `{"msg":"hi"}`})
	require.NoError(t, err)

	p := pool.New(pool.Config{Count: 1, HealthCheckInterval: time.Hour, ShutdownTimeout: 50 * time.Millisecond}, func(id string) (pool.Process, error) {
		return newFakeProcess(t), nil
	})
	require.NoError(t, p.Start(ctx))
	t.Cleanup(func() { p.Shutdown(context.Background()) })

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ready := false
		for _, v := range p.Workers() {
			if v.Status.String() == "ready" {
				ready = true
			}
		}
		if ready {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	pub := &recordingPublisher{}
	eng := New(Config{PoolSize: 1, BatchSize: 4, PollInterval: 10 * time.Millisecond, TaskTimeout: time.Second}, s, q, p, delivery.NewRegistry(nil, nil), pub, nil)
	eng.Start(ctx)
	t.Cleanup(eng.Stop)

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		jobs, err := s.Jobs().List(ctx, store.JobFilter{}, store.Page{Limit: 10})
		require.NoError(t, err)
		if len(jobs) == 1 && jobs[0].Status == model.JobCompleted {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	jobs, err := s.Jobs().List(ctx, store.JobFilter{}, store.Page{Limit: 10})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, model.JobCompleted, jobs[0].Status)
	require.NotEmpty(t, pub.events)
	assert.Equal(t, 1.0, pub.events[len(pub.events)-1].Progress)
}

// TestEngineTracksInFlightExecutionForShutdown exercises the §8 graceful
// shutdown scenario: a slow-running job must be visible on the shutdown
// coordinator's in-flight counter while it executes, and must drain back
// to zero once it completes, without the coordinator ever needing to
// escalate past the graceful phase.
func TestEngineTracksInFlightExecutionForShutdown(t *testing.T) {
	s, err := sqlite.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	task, err := s.Tasks().Create(ctx, &model.Task{
		Name:    "slow",
		Version: "1.0.0",
		SourceCode: `function main(input){
			let x = 0;
			for (let i = 0; i < 20000000; i++) { x += i; }
			return { x: x };
		}`,
		InputSchema:  `{"type":"object"}`,
		OutputSchema: `{"type":"object"}`,
		Enabled:      true,
	})
	require.NoError(t, err)

	q := queue.New(s, queue.DefaultRetryPolicy())
	_, err = q.Submit(ctx, queue.Submission{TaskName: task.Name, Input: `{}`})
	require.NoError(t, err)

	p := pool.New(pool.Config{Count: 1, HealthCheckInterval: time.Hour, ShutdownTimeout: 50 * time.Millisecond}, func(id string) (pool.Process, error) {
		return newFakeProcess(t), nil
	})
	require.NoError(t, p.Start(ctx))
	t.Cleanup(func() { p.Shutdown(context.Background()) })

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ready := false
		for _, v := range p.Workers() {
			if v.Status.String() == "ready" {
				ready = true
			}
		}
		if ready {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	coordinator := shutdown.New(shutdown.Timeouts{Graceful: 2 * time.Second, Urgent: time.Second, Forced: 50 * time.Millisecond})
	eng := New(Config{PoolSize: 1, BatchSize: 4, PollInterval: 5 * time.Millisecond, TaskTimeout: 2 * time.Second}, s, q, p, delivery.NewRegistry(nil, nil), nil, coordinator)
	eng.Start(ctx)
	t.Cleanup(eng.Stop)

	deadline = time.Now().Add(time.Second)
	sawInFlight := false
	for time.Now().Before(deadline) {
		if coordinator.InFlight() > 0 {
			sawInFlight = true
			break
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, sawInFlight, "expected the running job to register against the shutdown coordinator")

	require.NoError(t, coordinator.Shutdown(context.Background()))
	assert.Equal(t, int64(0), coordinator.InFlight())

	jobs, err := s.Jobs().List(ctx, store.JobFilter{}, store.Page{Limit: 10})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, model.JobCompleted, jobs[0].Status)
}
