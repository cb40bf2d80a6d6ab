package domain

import "time"

// Note represents a stored note entity
type Note struct {
	ID        int64
	UserID    int64
	Text      string
	Category  string
	CreatedAt time.Time
}

// Preview returns the note text truncated to maxLen runes, with an ellipsis
// when anything was cut.
func (n *Note) Preview(maxLen int) string {
	if maxLen <= 0 {
		return n.Text
	}
	runes := []rune(n.Text)
	if len(runes) <= maxLen {
		return n.Text
	}
	return string(runes[:maxLen]) + "..."
}
