// Package model defines the entity types shared by the store, queue,
// engine, worker pool and MCP packages (§3 of the design). Entities here
// are plain data; persistence and status-transition guards live in
// internal/store.
package model

import "time"

// Task is a named, versioned unit of JavaScript work with its input and
// output JSON Schema. Task.Name is unique within the store.
type Task struct {
	ID             int64
	UUID           string
	Name           string
	Version        string // semver
	SourceCode     string // UTF-8 JavaScript source
	InputSchema    string // JSON Schema document (text)
	OutputSchema   string // JSON Schema document (text)
	Enabled        bool
	RepositoryRef  string // optional: originating repository reference
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
