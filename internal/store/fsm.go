package store

import "github.com/ratchetdata/ratchet/internal/model"

// jobTransitions enumerates the only legal Job status transitions (§4.5).
// Any pair not present here is rejected by ValidJobTransition.
var jobTransitions = map[model.JobStatus]map[model.JobStatus]bool{
	model.JobQueued: {
		model.JobProcessing: true,
		model.JobCancelled:  true,
	},
	model.JobProcessing: {
		model.JobCompleted: true,
		model.JobFailed:    true,
		model.JobRetrying:  true,
		model.JobCancelled: true,
	},
	model.JobRetrying: {
		model.JobQueued: true, // effected by Dequeue once ScheduledAt <= now
	},
}

// ValidJobTransition reports whether moving a Job from -> to is legal.
func ValidJobTransition(from, to model.JobStatus) bool {
	if from == to {
		return false
	}
	return jobTransitions[from][to]
}

// executionTransitions enumerates the only legal Execution transitions.
var executionTransitions = map[model.ExecutionStatus]map[model.ExecutionStatus]bool{
	model.ExecutionPending: {
		model.ExecutionRunning:   true,
		model.ExecutionCancelled: true,
	},
	model.ExecutionRunning: {
		model.ExecutionCompleted: true,
		model.ExecutionFailed:    true,
		model.ExecutionCancelled: true,
	},
}

// ValidExecutionTransition reports whether moving an Execution from -> to
// is legal.
func ValidExecutionTransition(from, to model.ExecutionStatus) bool {
	if from == to {
		return false
	}
	return executionTransitions[from][to]
}
