package domain

import "time"

// SuspiciousActivity is one observational record in a user's bounded activity
// log. Records never trigger blocking on their own.
type SuspiciousActivity struct {
	ID        string // ULID, sortable by insertion order
	Timestamp time.Time
	Type      string
	Details   map[string]any
}

// MaxActivityPerUser bounds the per-user suspicious activity log; the oldest
// record is dropped first.
const MaxActivityPerUser = 10
