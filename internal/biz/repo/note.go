package repo

import (
	"context"

	"github.com/anthropics/feishu-notes-bot/internal/biz/domain"
)

// NoteRepo is the note persistence interface
type NoteRepo interface {
	// Add stores a note and returns its id
	Add(ctx context.Context, userID int64, text, category string) (int64, error)

	// GetByID returns the note, or nil if it does not exist for that user
	GetByID(ctx context.Context, userID, noteID int64) (*domain.Note, error)

	// List returns one page of a user's notes, newest first, optionally
	// filtered by category, plus the total count for that filter
	List(ctx context.Context, userID int64, category string, page, perPage int) ([]*domain.Note, int, error)

	// Delete removes a note; returns false if it did not exist for that user
	Delete(ctx context.Context, userID, noteID int64) (bool, error)

	// Search returns a user's notes whose text contains keyword, newest first
	Search(ctx context.Context, userID int64, keyword string) ([]*domain.Note, error)

	// Count returns how many notes the user has
	Count(ctx context.Context, userID int64) (int, error)

	Close() error
}
