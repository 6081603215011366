package model

import "time"

// Schedule binds a cron expression to a Task, emitting a Job each time it
// becomes due (§4.6).
type Schedule struct {
	ID                 int64
	TaskID             int64
	CronExpression     string // stored as given (5 or 6 fields); normalized to 6 fields (seconds leading) when parsed
	Enabled            bool
	Input              string // JSON input passed to the emitted job
	NextRun            *time.Time
	LastRun            *time.Time
	OutputDestinations []string
	DisabledReason     string // set when an invalid cron expression disables the schedule
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
