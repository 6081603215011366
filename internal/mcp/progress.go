package mcp

import (
	"sync"
	"time"

	"github.com/ratchetdata/ratchet/internal/engine"
)

// ProgressUpdate is the payload carried by `notifications/task/progress`
// (§4.9): execution_id, task_id, progress in [0,1], the execution status
// and a timestamp. It has no step, step_number, total_steps, message or
// data fields.
type ProgressUpdate struct {
	ExecutionID int64     `json:"execution_id"`
	TaskID      int64     `json:"task_id"`
	Progress    float64   `json:"progress"`
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
}

// ProgressFilter narrows which updates a subscription actually receives
// (§4.9: "min_progress_delta, max_frequency_ms, step_filter,
// include_data"). step/data filtering is not exercised by this
// implementation (the engine does not emit step-structured progress),
// but the delta/frequency gates are enforced.
type ProgressFilter struct {
	MinProgressDelta float64
	MaxFrequencyMs   int
}

// subscription is one subscriber's channel plus the state needed to
// apply its filter and detect "already saw a terminal update".
type subscription struct {
	ch           chan ProgressUpdate
	filter       ProgressFilter
	lastProgress float64
	lastSent     time.Time
	sentAny      bool
}

// ProgressManager fans out engine.ProgressEvents to subscribers per
// execution id (§4.9). It implements engine.ProgressPublisher so the
// execution engine can publish directly into it.
type ProgressManager struct {
	mu   sync.RWMutex
	subs map[int64][]*subscription
}

// NewProgressManager builds an empty manager.
func NewProgressManager() *ProgressManager {
	return &ProgressManager{subs: make(map[int64][]*subscription)}
}

// Subscribe registers interest in one execution's progress; the
// returned channel is closed once a terminal update has been delivered
// or Unsubscribe is called (§4.9: "subscriptions are torn down on
// execution completion or client disconnect"). The channel is buffered
// to 100 per §5 backpressure policy ("Progress channels are bounded
// (capacity 100 per execution); overflow drops the oldest non-terminal
// update, never a terminal one").
func (m *ProgressManager) Subscribe(executionID int64, filter ProgressFilter) (<-chan ProgressUpdate, func()) {
	sub := &subscription{ch: make(chan ProgressUpdate, 100), filter: filter}
	m.mu.Lock()
	m.subs[executionID] = append(m.subs[executionID], sub)
	m.mu.Unlock()

	unsubscribe := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		list := m.subs[executionID]
		for i, s := range list {
			if s == sub {
				m.subs[executionID] = append(list[:i], list[i+1:]...)
				close(sub.ch)
				break
			}
		}
		if len(m.subs[executionID]) == 0 {
			delete(m.subs, executionID)
		}
	}
	return sub.ch, unsubscribe
}

// Publish implements engine.ProgressPublisher. Terminal updates (status
// completed/failed/cancelled) always pass the filter and tear down the
// subscription afterward.
func (m *ProgressManager) Publish(ev engine.ProgressEvent) {
	update := ProgressUpdate{
		ExecutionID: ev.ExecutionID,
		TaskID:      ev.TaskID,
		Progress:    ev.Progress,
		Status:      ev.Status.String(),
		Timestamp:   time.Now().UTC(),
	}
	terminal := ev.Status.Terminal()

	m.mu.Lock()
	list := m.subs[ev.ExecutionID]
	var drained []*subscription
	for _, sub := range list {
		if m.passesFilter(sub, update, terminal) {
			m.deliver(sub, update)
		}
		if terminal {
			drained = append(drained, sub)
		}
	}
	if terminal {
		delete(m.subs, ev.ExecutionID)
	}
	m.mu.Unlock()

	for _, sub := range drained {
		close(sub.ch)
	}
}

func (m *ProgressManager) passesFilter(sub *subscription, update ProgressUpdate, terminal bool) bool {
	if terminal || !sub.sentAny {
		return true
	}
	if sub.filter.MinProgressDelta > 0 && (update.Progress-sub.lastProgress) < sub.filter.MinProgressDelta {
		return false
	}
	if sub.filter.MaxFrequencyMs > 0 && time.Since(sub.lastSent) < time.Duration(sub.filter.MaxFrequencyMs)*time.Millisecond {
		return false
	}
	return true
}

// deliver sends update on sub.ch, dropping the oldest queued
// non-terminal update on overflow rather than blocking (§5: "overflow
// drops the oldest non-terminal update, never a terminal one").
func (m *ProgressManager) deliver(sub *subscription, update ProgressUpdate) {
	select {
	case sub.ch <- update:
	default:
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- update:
		default:
		}
	}
	sub.lastProgress = update.Progress
	sub.lastSent = time.Now()
	sub.sentAny = true
}

// BroadcastingPublisher fans every engine.ProgressEvent out to a
// ProgressManager (for per-subscription filtering via Subscribe) and to an HTTPTransport's connected sessions (as a
// `notifications/task/progress` SSE event), satisfying
// engine.ProgressPublisher.
type BroadcastingPublisher struct {
	manager   *ProgressManager
	transport *HTTPTransport
}

// NewBroadcastingPublisher builds a publisher; transport may be nil if
// only stdio is served.
func NewBroadcastingPublisher(manager *ProgressManager, transport *HTTPTransport) *BroadcastingPublisher {
	return &BroadcastingPublisher{manager: manager, transport: transport}
}

func (p *BroadcastingPublisher) Publish(ev engine.ProgressEvent) {
	if p.manager != nil {
		p.manager.Publish(ev)
	}
	if p.transport != nil {
		p.transport.BroadcastNotification("notifications/task/progress", ProgressUpdate{
			ExecutionID: ev.ExecutionID,
			TaskID:      ev.TaskID,
			Progress:    ev.Progress,
			Status:      ev.Status.String(),
			Timestamp:   time.Now().UTC(),
		})
	}
}
