package console

import "sort"

// SortField selects which JobView field JobList orders by. Grounded on
// the teacher's dashboard.SortField enum (internal/mode/dashboard/
// workflow_list.go), generalized from workflow columns to job columns.
type SortField int

const (
	SortByIndex SortField = iota
	SortByStatus
	SortByPriority
	SortByQueuedAt
)

// SortOrder is the direction SortField is applied in.
type SortOrder int

const (
	SortAscending SortOrder = iota
	SortDescending
)

// JobList holds the console's current job snapshot plus its sort state.
// Like the teacher's WorkflowList, every mutator returns a new value
// rather than mutating in place, so bubbletea's value-receiver Update
// loop can keep reassigning it.
type JobList struct {
	jobs      []JobView
	sortField SortField
	sortOrder SortOrder
}

// NewJobList builds an empty list sorted by arrival order.
func NewJobList() JobList {
	return JobList{sortField: SortByIndex, sortOrder: SortAscending}
}

// SetJobs replaces the snapshot and re-applies the current sort.
func (l JobList) SetJobs(jobs []JobView) JobList {
	l.jobs = make([]JobView, len(jobs))
	copy(l.jobs, jobs)
	l.sort()
	return l
}

// Jobs returns the current sorted (and, via FilterState, filtered)
// snapshot.
func (l JobList) Jobs() []JobView { return l.jobs }

// ToggleSort toggles order if field is already active, otherwise selects
// field ascending.
func (l JobList) ToggleSort(field SortField) JobList {
	if l.sortField == field {
		if l.sortOrder == SortAscending {
			l.sortOrder = SortDescending
		} else {
			l.sortOrder = SortAscending
		}
	} else {
		l.sortField = field
		l.sortOrder = SortAscending
	}
	l.sort()
	return l
}

func (l *JobList) sort() {
	if len(l.jobs) == 0 {
		return
	}
	sort.SliceStable(l.jobs, func(i, j int) bool {
		less := l.compareLess(l.jobs[i], l.jobs[j])
		if l.sortOrder == SortDescending {
			return !less
		}
		return less
	})
}

func (l *JobList) compareLess(a, b JobView) bool {
	switch l.sortField {
	case SortByStatus:
		return statusOrder(a.Status) < statusOrder(b.Status)
	case SortByPriority:
		return priorityOrder(a.Priority) < priorityOrder(b.Priority)
	case SortByQueuedAt:
		return a.QueuedAt < b.QueuedAt
	default: // SortByIndex - preserve arrival order
		return false
	}
}

// statusOrder surfaces jobs a human would want to look at first:
// actively retrying/processing ahead of terminal states.
func statusOrder(status string) int {
	switch status {
	case "processing":
		return 0
	case "retrying":
		return 1
	case "queued":
		return 2
	case "failed":
		return 3
	case "completed":
		return 4
	case "cancelled":
		return 5
	default:
		return 6
	}
}

func priorityOrder(priority string) int {
	switch priority {
	case "critical":
		return 0
	case "high":
		return 1
	case "normal":
		return 2
	case "low":
		return 3
	default:
		return 4
	}
}

// MoveDown advances selection within [0, total), wrapping to 0 past the
// last row; MoveUp steps back and stops at 0 without wrapping.
func (l JobList) MoveDown(current, total int) int {
	if total == 0 {
		return 0
	}
	return (current + 1) % total
}

func (l JobList) MoveUp(current int) int {
	if current <= 0 {
		return 0
	}
	return current - 1
}

// Count returns the number of jobs currently held.
func (l JobList) Count() int { return len(l.jobs) }

// CountByStatus groups the snapshot for the header summary line.
func (l JobList) CountByStatus() map[string]int {
	counts := make(map[string]int)
	for _, j := range l.jobs {
		counts[j.Status]++
	}
	return counts
}
