package repo

import "context"

// MessageSink delivers outbound messages to a chat destination. Delivery
// errors are reported to the caller; the caller decides whether to retry
// (reminder firing never does).
type MessageSink interface {
	// SendText sends a plain text message to a chat
	SendText(ctx context.Context, chatID, text string) error
}

// Classifier assigns a category to note text
type Classifier interface {
	// Classify returns one of the valid note categories
	Classify(ctx context.Context, noteText string) (string, error)
}
