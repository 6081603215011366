package pool

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratchetdata/ratchet/internal/ipc"
	"github.com/ratchetdata/ratchet/internal/rerr"
	"github.com/ratchetdata/ratchet/internal/worker"
)

// fakeProcess wires a Process directly to an in-process worker.Worker
// goroutine, so pool tests exercise the real dispatch/health/restart
// logic without spawning an actual subprocess.
type fakeProcess struct {
	toWorker   *io.PipeWriter
	fromWorker *io.PipeReader
	killed     chan struct{}
	exited     chan struct{}
	pid        int
}

func newFakeProcess(t *testing.T, pid int) *fakeProcess {
	t.Helper()
	poolToWorker, workerStdin := io.Pipe()
	workerStdout, workerToPool := io.Pipe()

	fp := &fakeProcess{toWorker: poolToWorker, fromWorker: workerStdout, killed: make(chan struct{}), exited: make(chan struct{}), pid: pid}

	w := worker.New("w", workerStdin, workerToPool)
	go func() {
		_ = w.Run()
		_ = workerToPool.Close()
		close(fp.exited)
	}()

	return fp
}

func (fp *fakeProcess) Stdin() io.WriteCloser { return fp.toWorker }
func (fp *fakeProcess) Stdout() io.ReadCloser { return fp.fromWorker }
func (fp *fakeProcess) PID() int              { return fp.pid }
func (fp *fakeProcess) Wait() error {
	<-fp.exited
	return nil
}
func (fp *fakeProcess) Kill() error {
	select {
	case <-fp.killed:
	default:
		close(fp.killed)
	}
	_ = fp.toWorker.Close()
	return nil
}

func TestPoolDispatchesToReadyWorkerAndGetsResult(t *testing.T) {
	seq := 0
	spawner := func(id string) (Process, error) {
		seq++
		return newFakeProcess(t, seq), nil
	}

	p := New(Config{Count: 1, HealthCheckInterval: time.Hour, ShutdownTimeout: 50 * time.Millisecond}, spawner)
	require.NoError(t, p.Start(context.Background()))
	defer p.Shutdown(context.Background())

	waitForReady(t, p)

	env := ipc.NewExecuteTask(ipc.ExecuteTask{
		CorrelationID: "c1",
		Source:        `function main(input){ return { echoed: input.msg }; }`,
		InputSchema:   `{"type":"object","required":["msg"]}`,
		OutputSchema:  `{"type":"object"}`,
		Input:         `{"msg":"hi"}`,
	})

	reply, err := p.Dispatch(context.Background(), env, time.Second)
	require.NoError(t, err)
	assert.Equal(t, ipc.MsgTaskResult, reply.Type)
	assert.JSONEq(t, `{"echoed":"hi"}`, reply.TaskResult.Result.Output)
}

func TestPoolReportsNoReadyWorkerWhenNoneAvailable(t *testing.T) {
	p := New(Config{Count: 0}, func(id string) (Process, error) { return nil, nil })
	_, err := p.Dispatch(context.Background(), ipc.NewPing("x"), 10*time.Millisecond)
	require.Error(t, err)
}

// hangingProcess simulates a worker stuck in an infinite loop (e.g.
// `while(true){}`): it announces Ready, then accepts whatever is written
// to its stdin and never replies on stdout until Kill closes the pipe, at which
// point the pool's readerLoop sees EOF exactly as it would for a worker
// that actually crashed.
type hangingProcess struct {
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	killed  chan struct{}
	pid     int
}

func newHangingProcess(pid int) *hangingProcess {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	go io.Copy(io.Discard, inR) // drain writerLoop's Encode calls, never reply
	go func() { _ = ipc.NewEncoder(outW).Encode(ipc.NewReady("hung")) }()
	return &hangingProcess{stdinR: inR, stdinW: inW, stdoutR: outR, stdoutW: outW, killed: make(chan struct{}), pid: pid}
}

func (hp *hangingProcess) Stdin() io.WriteCloser { return hp.stdinW }
func (hp *hangingProcess) Stdout() io.ReadCloser { return hp.stdoutR }
func (hp *hangingProcess) PID() int              { return hp.pid }
func (hp *hangingProcess) Wait() error {
	<-hp.killed
	return nil
}
func (hp *hangingProcess) Kill() error {
	select {
	case <-hp.killed:
	default:
		close(hp.killed)
	}
	_ = hp.stdoutW.Close()
	return nil
}

// TestPoolKillsAndRestartsWorkerOnTaskTimeout exercises the §8 "hung
// worker" scenario: a task that never replies must time out, the worker
// must be killed rather than left running, and a replacement worker
// must be spawned after restart_delay.
func TestPoolKillsAndRestartsWorkerOnTaskTimeout(t *testing.T) {
	var spawnCount int64
	var hung *hangingProcess
	spawner := func(id string) (Process, error) {
		n := atomic.AddInt64(&spawnCount, 1)
		if n == 1 {
			hung = newHangingProcess(int(n))
			return hung, nil
		}
		return newFakeProcess(t, int(n)), nil
	}

	p := New(Config{
		Count:               1,
		RestartOnCrash:      true,
		MaxRestartAttempts:  5,
		RestartDelay:        20 * time.Millisecond,
		HealthCheckInterval: time.Hour,
		ShutdownTimeout:     50 * time.Millisecond,
	}, spawner)
	require.NoError(t, p.Start(context.Background()))
	defer p.Shutdown(context.Background())

	waitForReady(t, p)
	firstWorkerID := onlyWorkerID(t, p)

	env := ipc.NewExecuteTask(ipc.ExecuteTask{
		CorrelationID: "hang-1",
		Source:        `function main(input){ while(true){} }`,
		InputSchema:   `{"type":"object"}`,
		OutputSchema:  `{"type":"object"}`,
		Input:         `{}`,
	})

	_, err := p.Dispatch(context.Background(), env, 30*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, rerr.KindTimeout, rerr.KindOf(err))

	deadline := time.Now().Add(2 * time.Second)
	failedConfirmed := false
	for time.Now().Before(deadline) && !failedConfirmed {
		for _, v := range p.Workers() {
			if v.WorkerID == firstWorkerID && v.Status.String() == "failed" {
				failedConfirmed = true
				break
			}
		}
		if !failedConfirmed {
			time.Sleep(5 * time.Millisecond)
		}
	}
	require.True(t, failedConfirmed, "timed out waiting for hung worker to be marked failed")

	select {
	case <-hung.killed:
	default:
		t.Fatal("hung worker was never killed")
	}

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, v := range p.Workers() {
			if v.WorkerID != firstWorkerID && v.Status.String() == "ready" {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for a replacement worker to become ready")
}

func onlyWorkerID(t *testing.T, p *Pool) string {
	t.Helper()
	views := p.Workers()
	require.Len(t, views, 1)
	return views[0].WorkerID
}

func waitForReady(t *testing.T, p *Pool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, v := range p.Workers() {
			if v.Status.String() == "ready" {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for worker to become ready")
}
