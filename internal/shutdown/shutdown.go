// Package shutdown implements the graceful→urgent→forced shutdown
// coordinator (§4.10): a broadcast signal plus an in-flight task counter
// that every long-running operation registers against.
package shutdown

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ratchetdata/ratchet/internal/log"
	"github.com/ratchetdata/ratchet/internal/rerr"
)

// Urgency is broadcast to every subscriber as the coordinator escalates.
type Urgency int

const (
	Graceful Urgency = iota
	Urgent
	Forced
)

func (u Urgency) String() string {
	switch u {
	case Graceful:
		return "graceful"
	case Urgent:
		return "urgent"
	case Forced:
		return "forced"
	default:
		return "unknown"
	}
}

// Timeouts controls how long Shutdown waits at each escalation step.
// Defaults are grounded on the original source's
// ShutdownCoordinator::default() (ratchet-resilience/src/shutdown.rs):
// 30s graceful, 10s urgent, 500ms forced grace before the caller is
// expected to kill remaining work outright.
type Timeouts struct {
	Graceful time.Duration
	Urgent   time.Duration
	Forced   time.Duration
}

// DefaultTimeouts matches the original source's constructor constants.
func DefaultTimeouts() Timeouts {
	return Timeouts{Graceful: 30 * time.Second, Urgent: 10 * time.Second, Forced: 500 * time.Millisecond}
}

// Coordinator broadcasts {Graceful, Urgent, Forced} and tracks how many
// tasks are currently in flight (§4.10).
type Coordinator struct {
	timeouts Timeouts

	mu          sync.Mutex
	subscribers []chan Urgency
	inFlight    int64
	shuttingDown bool
}

// New builds a Coordinator with the given timeouts.
func New(timeouts Timeouts) *Coordinator {
	return &Coordinator{timeouts: timeouts}
}

// Subscribe returns a channel that receives each escalation in order.
// The channel is closed once Shutdown returns, whether in-flight work
// drained during the graceful or urgent phase or Forced was sent.
func (c *Coordinator) Subscribe() <-chan Urgency {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan Urgency, 3)
	c.subscribers = append(c.subscribers, ch)
	return ch
}

// TaskStarted registers one unit of in-flight work.
func (c *Coordinator) TaskStarted() {
	atomic.AddInt64(&c.inFlight, 1)
}

// TaskCompleted deregisters one unit of in-flight work. Extra
// completions are clamped at zero (§4.10, §8 property 5: "never goes
// negative").
func (c *Coordinator) TaskCompleted() {
	for {
		cur := atomic.LoadInt64(&c.inFlight)
		if cur <= 0 {
			return
		}
		if atomic.CompareAndSwapInt64(&c.inFlight, cur, cur-1) {
			return
		}
	}
}

// InFlight reports the current in-flight task count.
func (c *Coordinator) InFlight() int64 {
	return atomic.LoadInt64(&c.inFlight)
}

func (c *Coordinator) broadcast(u Urgency) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subscribers {
		select {
		case ch <- u:
		default: // a full buffer means the subscriber already saw an earlier escalation
		}
	}
}

func (c *Coordinator) closeSubscribers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subscribers {
		close(ch)
	}
	c.subscribers = nil
}

// Shutdown runs the escalation sequence: broadcast Graceful, poll the
// in-flight counter until it reaches zero or graceful_timeout elapses;
// if work remains, broadcast Urgent and wait urgent_timeout; then
// broadcast Forced and return after the forced grace period regardless
// of remaining work (the caller is expected to force-kill anything still
// running). A second concurrent call returns ErrAlreadyShuttingDown
// (§4.10).
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.shuttingDown {
		c.mu.Unlock()
		return rerr.ErrAlreadyShuttingDown
	}
	c.shuttingDown = true
	c.mu.Unlock()
	defer c.closeSubscribers()

	log.Info(log.CatShutdown, "shutdown: graceful phase starting", "in_flight", c.InFlight())
	c.broadcast(Graceful)
	if c.waitDrained(ctx, c.timeouts.Graceful) {
		log.Info(log.CatShutdown, "shutdown: drained during graceful phase")
		return nil
	}

	log.Warn(log.CatShutdown, "shutdown: escalating to urgent", "in_flight", c.InFlight())
	c.broadcast(Urgent)
	if c.waitDrained(ctx, c.timeouts.Urgent) {
		log.Info(log.CatShutdown, "shutdown: drained during urgent phase")
		return nil
	}

	log.Warn(log.CatShutdown, "shutdown: escalating to forced", "in_flight", c.InFlight())
	c.broadcast(Forced)
	c.waitDrained(ctx, c.timeouts.Forced)
	return nil
}

// waitDrained polls InFlight until it is zero or timeout elapses,
// returning true if it drained.
func (c *Coordinator) waitDrained(ctx context.Context, timeout time.Duration) bool {
	if c.InFlight() == 0 {
		return true
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return c.InFlight() == 0
		case <-deadline.C:
			return c.InFlight() == 0
		case <-ticker.C:
			if c.InFlight() == 0 {
				return true
			}
		}
	}
}
