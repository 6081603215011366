package model

import "time"

// Priority orders jobs within the queue; higher sorts first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParsePriority maps a submission string to a Priority, defaulting to
// Normal for an empty string (§6 Job submission).
func ParsePriority(s string) (Priority, bool) {
	switch s {
	case "", "normal":
		return PriorityNormal, true
	case "low":
		return PriorityLow, true
	case "high":
		return PriorityHigh, true
	case "critical":
		return PriorityCritical, true
	default:
		return PriorityNormal, false
	}
}

// JobStatus is the Job FSM state (§4.5).
type JobStatus int

const (
	JobQueued JobStatus = iota
	JobProcessing
	JobCompleted
	JobFailed
	JobCancelled
	JobRetrying
)

func (s JobStatus) String() string {
	switch s {
	case JobQueued:
		return "queued"
	case JobProcessing:
		return "processing"
	case JobCompleted:
		return "completed"
	case JobFailed:
		return "failed"
	case JobCancelled:
		return "cancelled"
	case JobRetrying:
		return "retrying"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is Completed or Cancelled (§3 Job
// invariant). Failed is not reported as terminal, although the transition
// table in internal/store lists no transition out of it.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobCancelled
}

// Job is a unit of scheduled work: a Task invocation with an input
// payload, priority, and retry bookkeeping.
type Job struct {
	ID                 int64
	UUID               string
	TaskID             int64
	Input              string // JSON
	Priority           Priority
	Status             JobStatus
	RetryCount         int
	MaxRetries         int
	ScheduledAt        *time.Time // future-dated jobs / retry backoff target
	QueuedAt           time.Time
	StartedAt          *time.Time
	CompletedAt        *time.Time
	ErrorMessage       string
	OutputDestinations []string
	LastExecutionID    int64 // §9: Job stores a reference to its last Execution, not a back-pointer
}
