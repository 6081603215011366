package model

import "time"

// User and Session are the minimal entities backing the MCP bearer-token
// auth guard described in SPEC_FULL.md §4.9 [EXPANSION]. They are
// intentionally thin: the REST/GraphQL surfaces that would otherwise own
// richer user management are out of scope (spec.md §1).
type User struct {
	ID           int64
	UUID         string
	Username     string
	PasswordHash string
	Disabled     bool
	CreatedAt    time.Time
}

type Session struct {
	ID        int64
	Token     string
	UserID    int64
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the session token is no longer valid at t.
func (s Session) Expired(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}
