// Package scheduler is the cron-driven job emitter (§4.6): on each tick
// it finds due Schedules, creates a Job per schedule, and recomputes
// next_run. Built on robfig/cron/v3 for cron parsing and next-fire
// computation, but driven by our own time.Ticker loop (not cron's
// internal dispatch goroutine) so catch-up policy and job emission stay
// under this package's control, per SPEC_FULL.md §4.6.
package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ratchetdata/ratchet/internal/log"
	"github.com/ratchetdata/ratchet/internal/model"
	"github.com/ratchetdata/ratchet/internal/queue"
	"github.com/ratchetdata/ratchet/internal/store"
)

// sixFieldParser accepts seconds minutes hours dom month dow, matching
// the "normalized to 6-field internally" contract in §3/§4.6.
var sixFieldParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NormalizeCron rewrites a 5-field expression to 6-field with a leading
// seconds=0, and passes a 6-field expression through unchanged (§4.6,
// §8 property 7). It does not validate; call ParseNormalized for that.
func NormalizeCron(expr string) string {
	fields := strings.Fields(expr)
	if len(fields) == 5 {
		return "0 " + expr
	}
	return expr
}

// ParseNormalized normalizes then parses expr, returning the resulting
// cron.Schedule or a parse error.
func ParseNormalized(expr string) (cron.Schedule, error) {
	return sixFieldParser.Parse(NormalizeCron(expr))
}

// Scheduler polls store.ScheduleRepository every Interval for due
// schedules.
type Scheduler struct {
	store    store.Store
	queue    *queue.Queue
	interval time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// New builds a Scheduler; interval defaults to one minute per §4.6
// ("wakes every minute (tunable)").
func New(s store.Store, q *queue.Queue, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{store: s, queue: q, interval: interval}
}

// Start runs the polling loop until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Stop halts the polling loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()
	<-done
}

// Tick runs one scheduling pass: for each enabled, due schedule it
// enqueues a Job, advances last_run/next_run, and (on an invalid cron
// expression) disables the schedule with an error instead of failing
// the whole pass (§4.6). Missed firings are never coalesced — exactly
// one catch-up job is created per due schedule per tick.
func (s *Scheduler) Tick(ctx context.Context) {
	now := time.Now().UTC()
	due, err := s.store.Schedules().ListDue(ctx, now)
	if err != nil {
		log.ErrorErr(log.CatScheduler, "list due schedules failed", err)
		return
	}
	for _, sch := range due {
		s.fire(ctx, sch, now)
	}
}

func (s *Scheduler) fire(ctx context.Context, sch *model.Schedule, now time.Time) {
	task, err := s.store.Tasks().GetByID(ctx, sch.TaskID)
	if err != nil {
		log.ErrorErr(log.CatScheduler, "schedule references missing task", err, "schedule_id", sch.ID)
		_ = s.store.Schedules().Disable(ctx, sch.ID, "task not found: "+err.Error())
		return
	}

	cronSchedule, perr := ParseNormalized(sch.CronExpression)
	if perr != nil {
		log.ErrorErr(log.CatScheduler, "invalid cron expression, disabling schedule", perr, "schedule_id", sch.ID)
		_ = s.store.Schedules().Disable(ctx, sch.ID, "invalid cron expression: "+perr.Error())
		return
	}

	priority := model.PriorityNormal
	_, err = s.queue.Submit(ctx, queue.Submission{
		TaskName:           task.Name,
		Input:              sch.Input,
		Priority:           &priority,
		OutputDestinations: sch.OutputDestinations,
	})
	if err != nil {
		log.ErrorErr(log.CatScheduler, "failed to emit job for schedule", err, "schedule_id", sch.ID)
		return
	}

	next := cronSchedule.Next(now)
	if err := s.store.Schedules().UpdateNextRun(ctx, sch.ID, now, next); err != nil {
		log.ErrorErr(log.CatScheduler, "failed to advance schedule next_run", err, "schedule_id", sch.ID)
	}
}
