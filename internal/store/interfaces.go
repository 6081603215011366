// Package store declares the repository abstraction the core execution
// pipeline depends on (§9 "trait-object repositories": the core depends
// only on these interfaces; internal/store/sqlite is one concrete
// collaborator). Every write that changes a Job or Execution status goes
// through a guarded method so callers never race each other into an
// invalid state transition (§3 ownership: "writes go through
// entity-specific update operations with status-check guards").
package store

import (
	"context"
	"time"

	"github.com/ratchetdata/ratchet/internal/model"
)

// Page requests a bounded, offset-paginated slice of results.
type Page struct {
	Offset int
	Limit  int
}

// Normalize applies sane defaults/bounds to a Page.
func (p Page) Normalize(maxLimit int) Page {
	if p.Limit <= 0 || p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// TaskFilter narrows a task listing.
type TaskFilter struct {
	NamePrefix string
	EnabledOnly bool
}

// JobFilter narrows a job listing.
type JobFilter struct {
	Status   *model.JobStatus
	TaskID   int64 // 0 means any
	Priority *model.Priority
}

// TaskRepository persists Task entities (§3).
type TaskRepository interface {
	Create(ctx context.Context, t *model.Task) (*model.Task, error)
	GetByID(ctx context.Context, id int64) (*model.Task, error)
	GetByName(ctx context.Context, name string) (*model.Task, error)
	List(ctx context.Context, filter TaskFilter, page Page) ([]*model.Task, error)
	Update(ctx context.Context, t *model.Task) error
	SetEnabled(ctx context.Context, id int64, enabled bool) error
}

// ScheduleRepository persists Schedule entities and supports the due-time
// scan the scheduler performs every tick (§4.6).
type ScheduleRepository interface {
	Create(ctx context.Context, s *model.Schedule) (*model.Schedule, error)
	GetByID(ctx context.Context, id int64) (*model.Schedule, error)
	ListEnabled(ctx context.Context) ([]*model.Schedule, error)
	ListDue(ctx context.Context, now time.Time) ([]*model.Schedule, error)
	UpdateNextRun(ctx context.Context, id int64, lastRun, nextRun time.Time) error
	Disable(ctx context.Context, id int64, reason string) error
}

// JobRepository persists Job entities and implements the atomic
// dequeue/compare-and-set operations required by §4.4 and §8 property 3.
type JobRepository interface {
	Create(ctx context.Context, j *model.Job) (*model.Job, error)
	GetByID(ctx context.Context, id int64) (*model.Job, error)
	List(ctx context.Context, filter JobFilter, page Page) ([]*model.Job, error)

	// Dequeue first returns Retrying jobs whose ScheduledAt is <= now to
	// Queued, then atomically selects up to limit Queued jobs whose
	// ScheduledAt is <= now (or unset), ordered by priority desc then
	// QueuedAt asc, transitions them to Processing with StartedAt = now,
	// and returns the updated rows. No other call to Dequeue observes
	// the same row as Queued afterward (§8 property 3).
	Dequeue(ctx context.Context, limit int, now time.Time) ([]*model.Job, error)

	// MarkCompleted is atomic on (id, status == Processing).
	MarkCompleted(ctx context.Context, id int64, executionID int64, now time.Time) error
	// MarkFailed is atomic on (id, status == Processing).
	MarkFailed(ctx context.Context, id int64, executionID int64, errMsg string, now time.Time) error
	// MarkRetrying is atomic on (id, status == Processing); it increments
	// RetryCount and sets ScheduledAt to the backoff target.
	MarkRetrying(ctx context.Context, id int64, executionID int64, errMsg string, retryAt time.Time) error
	// Cancel is atomic on (id, status in {Queued, Processing, Retrying}).
	Cancel(ctx context.Context, id int64) error
}

// ExecutionRepository persists Execution entities.
type ExecutionRepository interface {
	Create(ctx context.Context, e *model.Execution) (*model.Execution, error)
	GetByID(ctx context.Context, id int64) (*model.Execution, error)
	ListByJob(ctx context.Context, jobID int64) ([]*model.Execution, error)
	MarkRunning(ctx context.Context, id int64, workerID string, now time.Time) error
	// UpdateProgress is a no-op (not an error) if progress would
	// decrease, or if the execution is already terminal (§3 invariant:
	// progress monotonically non-decreasing until terminal).
	UpdateProgress(ctx context.Context, id int64, progress float64) error
	Complete(ctx context.Context, id int64, output string, now time.Time) error
	Fail(ctx context.Context, id int64, execErr model.ExecutionError, lastProgress *float64, now time.Time) error
	Cancel(ctx context.Context, id int64, now time.Time) error
}

// UserRepository and SessionRepository back the MCP bearer-token auth
// guard (SPEC_FULL.md §4.9 [EXPANSION]).
type UserRepository interface {
	GetByUsername(ctx context.Context, username string) (*model.User, error)
}

type SessionRepository interface {
	Create(ctx context.Context, s *model.Session) (*model.Session, error)
	GetByToken(ctx context.Context, token string) (*model.Session, error)
	Delete(ctx context.Context, token string) error
}

// Store aggregates every repository the coordinator needs. Concrete
// backends (internal/store/sqlite) implement this once; the rest of the
// core only ever sees the interface.
type Store interface {
	Tasks() TaskRepository
	Schedules() ScheduleRepository
	Jobs() JobRepository
	Executions() ExecutionRepository
	Users() UserRepository
	Sessions() SessionRepository
	Close() error
}

// ErrNotFound is returned by GetByID/GetByName/GetByToken when no row
// matches.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "not found" }

// ErrConflict is returned by a guarded write when the compare-and-set
// precondition (expected prior status) does not hold — the row was
// mutated concurrently, or is in a state the operation cannot apply to.
var ErrConflict = conflictError{}

type conflictError struct{}

func (conflictError) Error() string { return "conflicting state transition" }
