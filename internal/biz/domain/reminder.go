package domain

import (
	"fmt"
	"sort"
	"time"
)

// SnapshotLength is how many runes of note text a reminder captures at
// schedule time. The reminder shows the text as it was, independent of later
// edits or deletion.
const SnapshotLength = 100

// ReminderJob represents a live scheduled reminder. It exists only between
// scheduling and firing or cancellation.
type ReminderJob struct {
	JobID    string
	UserID   int64
	NoteID   int64
	ChatID   string // delivery destination
	FireAt   time.Time
	NoteText string // truncated snapshot captured at schedule time
}

// ReminderJobID derives the deterministic job id for (user, note, fire time).
// Re-scheduling the same note at the same instant yields the same id, so the
// newer job replaces the older one.
func ReminderJobID(userID, noteID int64, fireAt time.Time) string {
	return fmt.Sprintf("reminder_%d_%d_%d", userID, noteID, fireAt.Unix())
}

// Snapshot truncates note text to the reminder snapshot length.
func Snapshot(text string) string {
	runes := []rune(text)
	if len(runes) <= SnapshotLength {
		return text
	}
	return string(runes[:SnapshotLength])
}

// SortJobsByFireTime orders jobs by ascending fire time in place.
func SortJobsByFireTime(jobs []*ReminderJob) {
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].FireAt.Before(jobs[j].FireAt)
	})
}
