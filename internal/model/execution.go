package model

import "time"

// ExecutionStatus is the Execution FSM state (§4.5).
type ExecutionStatus int

const (
	ExecutionPending ExecutionStatus = iota
	ExecutionRunning
	ExecutionCompleted
	ExecutionFailed
	ExecutionCancelled
)

func (s ExecutionStatus) String() string {
	switch s {
	case ExecutionPending:
		return "pending"
	case ExecutionRunning:
		return "running"
	case ExecutionCompleted:
		return "completed"
	case ExecutionFailed:
		return "failed"
	case ExecutionCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	default:
		return false
	}
}

// ExecutionError is the structured error recorded for a failed
// execution, matching the worker's error classification (§4.2, §4.8).
type ExecutionError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Execution is one attempt at running a Task for a Job on a particular
// worker. Job stores only LastExecutionID; Execution stores JobID — the
// relation is resolved by lookup, never a structural back-pointer (§9).
type Execution struct {
	ID          int64
	UUID        string
	TaskID      int64
	JobID       int64
	Input       string // JSON
	Output      *string
	Err         *ExecutionError
	Status      ExecutionStatus
	Progress    *float64 // 0.0-1.0
	QueuedAt    time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	DurationMs  *int64
	WorkerID    string
}
