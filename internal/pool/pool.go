// Package pool implements the coordinator-side worker pool (C4, §4.3): it
// spawns and supervises worker subprocesses, dispatches framed requests to
// whichever worker is Ready, and tracks pending replies by correlation id.
// Grounded on the teacher's coarse-mutex-guarded registry shape
// (internal/orchestration/controlplane/port_allocator.go's
// allocate/release-under-one-lock style) and the spawn/track/retire
// lifecycle of internal/orchestration/session/factory.go, generalized from
// "AI CLI subprocess" to "worker subprocess running the JS task runtime".
package pool

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ratchetdata/ratchet/internal/ipc"
	"github.com/ratchetdata/ratchet/internal/log"
	"github.com/ratchetdata/ratchet/internal/model"
	"github.com/ratchetdata/ratchet/internal/rerr"
)

// Process abstracts one spawned worker subprocess so tests can substitute
// an in-memory pipe pair instead of a real child process.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.ReadCloser
	PID() int
	// Wait blocks until the process exits and returns its exit error, if
	// any. The caller must not call Wait concurrently from two goroutines.
	Wait() error
	Kill() error
}

// Spawner creates a new worker Process for the given worker id.
type Spawner func(id string) (Process, error)

// Config tunes pool behavior; field names match spec.md §4.3.
type Config struct {
	Count               int
	RestartOnCrash      bool
	MaxRestartAttempts  int
	RestartDelay        time.Duration
	HealthCheckInterval time.Duration
	TaskTimeout         time.Duration
	ShutdownTimeout     time.Duration
}

// DefaultConfig returns pool defaults. Count is left at 0; New fills it in
// to 1 unless the caller sets it (normally runtime.NumCPU()).
func DefaultConfig() Config {
	return Config{
		RestartOnCrash:      true,
		MaxRestartAttempts:  5,
		RestartDelay:        time.Second,
		HealthCheckInterval: 5 * time.Second,
		TaskTimeout:         30 * time.Second,
		ShutdownTimeout:     500 * time.Millisecond,
	}
}

// pendingRequest is a registered sink awaiting a correlated reply.
type pendingRequest struct {
	owner  string // worker id the request was dispatched to
	respCh chan ipc.Envelope
	errCh  chan error
}

type workerHandle struct {
	id     string
	proc   Process
	enc    *ipc.Encoder
	outbox chan ipc.Envelope

	status          model.WorkerStatus
	spawnedAt       time.Time
	restartCount    int
	tasksHandled    int
	lastHealthCheck time.Time
	pingOutstanding bool
	outboxClosed    bool
}

// sendToWorker enqueues env on wh's outbox unless it has already been
// closed (worker crashed) or is full; both conditions are reported back
// to the caller instead of panicking on a send to a closed channel.
func (p *Pool) sendToWorker(wh *workerHandle, env ipc.Envelope) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if wh.outboxClosed {
		return false
	}
	select {
	case wh.outbox <- env:
		return true
	default:
		return false
	}
}

func (wh *workerHandle) view() model.WorkerView {
	return model.WorkerView{
		WorkerID:        wh.id,
		PID:             wh.proc.PID(),
		SpawnedAt:       wh.spawnedAt,
		RestartCount:    wh.restartCount,
		Status:          wh.status,
		LastHealthCheck: wh.lastHealthCheck,
		TasksHandled:    wh.tasksHandled,
	}
}

// Pool owns the worker vector and the pending-request registry described
// in §4.3.
type Pool struct {
	cfg     Config
	spawner Spawner

	mu      sync.Mutex
	workers map[string]*workerHandle
	pending map[string]*pendingRequest
	nextSeq int
	closed  bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a Pool. If cfg.Count <= 0 it defaults to 1.
func New(cfg Config, spawner Spawner) *Pool {
	if cfg.Count <= 0 {
		cfg.Count = 1
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = 5 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 500 * time.Millisecond
	}
	return &Pool{
		cfg:     cfg,
		spawner: spawner,
		workers: make(map[string]*workerHandle),
		pending: make(map[string]*pendingRequest),
		stop:    make(chan struct{}),
	}
}

// Start spawns cfg.Count workers and launches the health-check loop.
func (p *Pool) Start(ctx context.Context) error {
	for i := 0; i < p.cfg.Count; i++ {
		if err := p.spawnWorker(ctx, p.nextWorkerID()); err != nil {
			return fmt.Errorf("spawning worker: %w", err)
		}
	}
	p.wg.Add(1)
	go p.healthCheckLoop(ctx)
	return nil
}

// Workers returns a point-in-time snapshot of every tracked worker.
func (p *Pool) Workers() []model.WorkerView {
	p.mu.Lock()
	defer p.mu.Unlock()
	views := make([]model.WorkerView, 0, len(p.workers))
	for _, wh := range p.workers {
		views = append(views, wh.view())
	}
	return views
}

func (p *Pool) nextWorkerID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextSeq++
	return fmt.Sprintf("worker-%d", p.nextSeq)
}

func (p *Pool) spawnWorker(ctx context.Context, id string) error {
	proc, err := p.spawner(id)
	if err != nil {
		return err
	}

	wh := &workerHandle{
		id:        id,
		proc:      proc,
		enc:       ipc.NewEncoder(proc.Stdin()),
		outbox:    make(chan ipc.Envelope, 8),
		status:    model.WorkerStarting,
		spawnedAt: time.Now().UTC(),
	}

	p.mu.Lock()
	p.workers[id] = wh
	p.mu.Unlock()

	p.wg.Add(2)
	go p.writerLoop(wh)
	go p.readerLoop(ctx, wh, proc.Stdout())
	return nil
}

func (p *Pool) writerLoop(wh *workerHandle) {
	defer p.wg.Done()
	for env := range wh.outbox {
		if err := wh.enc.Encode(env); err != nil {
			log.ErrorErr(log.CatPool, "failed writing to worker stdin", err, "worker_id", wh.id)
			return
		}
	}
}

func (p *Pool) readerLoop(ctx context.Context, wh *workerHandle, stdout io.Reader) {
	defer p.wg.Done()
	dec := ipc.NewDecoder(stdout)
	for {
		env, err := dec.Decode()
		if err != nil {
			p.handleWorkerDown(ctx, wh)
			return
		}
		p.handleIncoming(wh, env)
	}
}

func (p *Pool) handleIncoming(wh *workerHandle, env ipc.Envelope) {
	switch env.Type {
	case ipc.MsgReady:
		p.mu.Lock()
		wh.status = model.WorkerReady
		p.mu.Unlock()
		return
	case ipc.MsgLog:
		log.Info(log.CatPool, "worker log: "+env.Log.Message, "worker_id", wh.id, "level", string(env.Log.Level))
		return
	}

	corrID := env.CorrelationID()
	if corrID == "" {
		return
	}

	p.mu.Lock()
	req, ok := p.pending[corrID]
	if ok {
		delete(p.pending, corrID)
	}
	if env.Type == ipc.MsgPong {
		wh.pingOutstanding = false
		wh.lastHealthCheck = time.Now().UTC()
	}
	if env.Type == ipc.MsgTaskResult || env.Type == ipc.MsgValidationResult {
		wh.status = model.WorkerReady
		wh.tasksHandled++
	}
	p.mu.Unlock()

	if ok {
		req.respCh <- env
	}
}

// Dispatch implements the §4.3 dispatch algorithm: find a Ready worker
// (ties broken by lowest TasksHandled), register a correlation sink with
// a deadline, mark the worker Busy, and enqueue the message. It blocks
// until a reply arrives, ctx is cancelled, or the deadline passes.
func (p *Pool) Dispatch(ctx context.Context, env ipc.Envelope, timeout time.Duration) (ipc.Envelope, error) {
	if timeout <= 0 {
		timeout = p.cfg.TaskTimeout
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ipc.Envelope{}, rerr.New(rerr.KindWorkerCrashed, "pool is shut down")
	}
	wh := p.pickReadyLocked()
	if wh == nil {
		p.mu.Unlock()
		return ipc.Envelope{}, rerr.New(rerr.KindWorkerCrashed, "no ready worker available")
	}

	corrID := env.CorrelationID()
	req := &pendingRequest{
		owner:  wh.id,
		respCh: make(chan ipc.Envelope, 1),
		errCh:  make(chan error, 1),
	}
	p.pending[corrID] = req
	wh.status = model.WorkerBusy
	p.mu.Unlock()

	if !p.sendToWorker(wh, env) {
		p.mu.Lock()
		delete(p.pending, corrID)
		p.mu.Unlock()
		return ipc.Envelope{}, rerr.New(rerr.KindWorkerCrashed, "worker "+wh.id+" crashed before request could be sent")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-req.respCh:
		return reply, nil
	case err := <-req.errCh:
		return ipc.Envelope{}, err
	case <-timer.C:
		p.mu.Lock()
		delete(p.pending, corrID)
		p.mu.Unlock()
		// Kill rather than mark Failed directly: the worker may be stuck in
		// an infinite loop and never gets a chance to exit cooperatively.
		// Killing it closes its stdout, which sends readerLoop through the
		// same handleWorkerDown path a crash takes (mark Failed, fail any
		// remaining pending requests, restart after RestartDelay) — the
		// same pattern runHealthCheck uses for an unresponsive worker.
		log.Info(log.CatPool, "worker exceeded task_timeout, killing", "worker_id", wh.id)
		_ = wh.proc.Kill()
		return ipc.Envelope{}, rerr.New(rerr.KindTimeout, "worker "+wh.id+" did not reply before task_timeout")
	case <-ctx.Done():
		p.mu.Lock()
		delete(p.pending, corrID)
		p.mu.Unlock()
		return ipc.Envelope{}, ctx.Err()
	}
}

// pickReadyLocked must be called with p.mu held.
func (p *Pool) pickReadyLocked() *workerHandle {
	var best *workerHandle
	for _, wh := range p.workers {
		if wh.status != model.WorkerReady {
			continue
		}
		if best == nil || wh.tasksHandled < best.tasksHandled {
			best = wh
		}
	}
	return best
}

// handleWorkerDown implements the "stdout closes" failure path of §4.3:
// the worker is marked Failed, its pending requests fail with
// WorkerCrashed, and a replacement is spawned if restart policy allows it.
func (p *Pool) handleWorkerDown(ctx context.Context, wh *workerHandle) {
	p.mu.Lock()
	wh.status = model.WorkerFailed
	wh.outboxClosed = true
	close(wh.outbox)
	failed := p.failPendingForWorkerLocked(wh.id)
	restartCount := wh.restartCount
	closed := p.closed
	p.mu.Unlock()

	for _, req := range failed {
		req.errCh <- rerr.New(rerr.KindWorkerCrashed, "worker "+wh.id+" crashed")
	}

	log.Info(log.CatPool, "worker down, evaluating restart", "worker_id", wh.id, "restart_count", restartCount)

	if closed || !p.cfg.RestartOnCrash || restartCount >= p.cfg.MaxRestartAttempts {
		log.Info(log.CatPool, "worker not restarted", "worker_id", wh.id)
		return
	}

	select {
	case <-ctx.Done():
		return
	case <-p.stop:
		return
	case <-time.After(p.cfg.RestartDelay):
	}

	newID := p.nextWorkerID()
	if err := p.spawnWorker(ctx, newID); err != nil {
		log.ErrorErr(log.CatPool, "failed to respawn worker", err, "worker_id", newID)
		return
	}
	p.mu.Lock()
	if nh, ok := p.workers[newID]; ok {
		nh.restartCount = restartCount + 1
	}
	p.mu.Unlock()
}

// failPendingForWorkerLocked must be called with p.mu held; it removes
// and returns every pending request this worker owed a reply for.
func (p *Pool) failPendingForWorkerLocked(workerID string) []*pendingRequest {
	var failed []*pendingRequest
	for id, req := range p.pending {
		if req.owner == workerID {
			failed = append(failed, req)
			delete(p.pending, id)
		}
	}
	return failed
}

// healthCheckLoop implements §4.3: every HealthCheckInterval, ping every
// Ready/Busy worker; a worker that missed its previous pong (i.e. still
// has one outstanding after a full interval, meaning it has gone
// unanswered for roughly 2x the interval) is marked Unresponsive and its
// subprocess killed, triggering the same restart path as a crash.
func (p *Pool) healthCheckLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			p.runHealthCheck()
		}
	}
}

func (p *Pool) runHealthCheck() {
	p.mu.Lock()
	var unresponsive []*workerHandle
	var toPing []*workerHandle
	for _, wh := range p.workers {
		if wh.status == model.WorkerFailed || wh.status == model.WorkerStopped || wh.status == model.WorkerStarting {
			continue
		}
		if wh.pingOutstanding {
			wh.status = model.WorkerUnresponsive
			unresponsive = append(unresponsive, wh)
			continue
		}
		wh.pingOutstanding = true
		toPing = append(toPing, wh)
	}
	p.mu.Unlock()

	for _, wh := range unresponsive {
		log.Info(log.CatPool, "worker unresponsive, killing for restart", "worker_id", wh.id)
		_ = wh.proc.Kill()
	}
	for _, wh := range toPing {
		if !p.sendToWorker(wh, ipc.NewPing(uuid.NewString())) {
			log.Info(log.CatPool, "worker outbox unavailable, skipping health ping", "worker_id", wh.id)
		}
	}
}

// Shutdown sends a cooperative Shutdown to every worker, waits up to
// ShutdownTimeout for its subprocess to exit, then force-kills stragglers
// (§4.3). It blocks until every worker goroutine has exited.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	p.closed = true
	workers := make([]*workerHandle, 0, len(p.workers))
	for _, wh := range p.workers {
		workers = append(workers, wh)
	}
	p.mu.Unlock()
	close(p.stop)

	var wg sync.WaitGroup
	for _, wh := range workers {
		wg.Add(1)
		go func(wh *workerHandle) {
			defer wg.Done()
			p.shutdownWorker(wh)
		}(wh)
	}
	wg.Wait()
	p.wg.Wait()
}

func (p *Pool) shutdownWorker(wh *workerHandle) {
	p.sendToWorker(wh, ipc.NewShutdown())

	done := make(chan struct{})
	go func() {
		_ = wh.proc.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.cfg.ShutdownTimeout):
		log.Info(log.CatPool, "worker did not exit within shutdown_timeout, force-killing", "worker_id", wh.id)
		_ = wh.proc.Kill()
		<-done
	}

	p.mu.Lock()
	wh.status = model.WorkerStopped
	p.mu.Unlock()
}
