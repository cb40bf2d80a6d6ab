package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/feishu-notes-bot/internal/biz/domain"
	"github.com/anthropics/feishu-notes-bot/internal/biz/repo"
	"github.com/anthropics/feishu-notes-bot/internal/conf"
	boterrors "github.com/anthropics/feishu-notes-bot/internal/errors"
)

// MaxNoteLength is the longest note text accepted.
const MaxNoteLength = 1000

// NotesUsecase orchestrates note CRUD and search on top of the store.
type NotesUsecase struct {
	notes    repo.NoteRepo
	classify *ClassifyUsecase
	perPage  int
}

func NewNotesUsecase(notes repo.NoteRepo, classify *ClassifyUsecase, perPage int) *NotesUsecase {
	if perPage < 1 {
		perPage = 10
	}
	return &NotesUsecase{notes: notes, classify: classify, perPage: perPage}
}

// PerPage returns the configured page size.
func (u *NotesUsecase) PerPage() int { return u.perPage }

// AddNote validates, classifies and stores a note.
func (u *NotesUsecase) AddNote(ctx context.Context, userID int64, text string) (*domain.Note, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, boterrors.NewInvalidRequest("note text cannot be empty")
	}
	if len([]rune(text)) > MaxNoteLength {
		return nil, boterrors.NewInvalidRequest(fmt.Sprintf("note text exceeds %d characters", MaxNoteLength))
	}

	category := u.classify.Classify(ctx, text)

	id, err := u.notes.Add(ctx, userID, text, category)
	if err != nil {
		return nil, fmt.Errorf("add note: %w", err)
	}

	note, err := u.notes.GetByID(ctx, userID, id)
	if err != nil {
		return nil, fmt.Errorf("load note %d: %w", id, err)
	}
	if note == nil {
		return nil, boterrors.NewInternal(fmt.Errorf("note %d vanished after insert", id))
	}
	return note, nil
}

// GetNote returns a user's note by id.
func (u *NotesUsecase) GetNote(ctx context.Context, userID, noteID int64) (*domain.Note, error) {
	note, err := u.notes.GetByID(ctx, userID, noteID)
	if err != nil {
		return nil, fmt.Errorf("get note %d: %w", noteID, err)
	}
	if note == nil {
		return nil, boterrors.NewNotFound("note", noteID)
	}
	return note, nil
}

// NotePage is one page of a user's notes.
type NotePage struct {
	Notes      []*domain.Note
	Total      int
	Page       int
	TotalPages int
}

// ListNotes returns a page of the user's notes, optionally filtered by
// category. Category must be valid when non-empty.
func (u *NotesUsecase) ListNotes(ctx context.Context, userID int64, category string, page int) (*NotePage, error) {
	if category != "" && !conf.IsValidCategory(category) {
		return nil, boterrors.NewInvalidRequest(fmt.Sprintf("unknown category %q (valid: %s)", category, strings.Join(conf.ValidCategories, ", ")))
	}
	if page < 1 {
		page = 1
	}

	notes, total, err := u.notes.List(ctx, userID, category, page, u.perPage)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}

	totalPages := (total + u.perPage - 1) / u.perPage
	if totalPages < 1 {
		totalPages = 1
	}
	return &NotePage{Notes: notes, Total: total, Page: page, TotalPages: totalPages}, nil
}

// DeleteNote removes a user's note by id.
func (u *NotesUsecase) DeleteNote(ctx context.Context, userID, noteID int64) error {
	deleted, err := u.notes.Delete(ctx, userID, noteID)
	if err != nil {
		return fmt.Errorf("delete note %d: %w", noteID, err)
	}
	if !deleted {
		return boterrors.NewNotFound("note", noteID)
	}
	return nil
}

// SearchNotes finds a user's notes matching a keyword.
func (u *NotesUsecase) SearchNotes(ctx context.Context, userID int64, keyword string) ([]*domain.Note, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, boterrors.NewInvalidRequest("search keyword cannot be empty")
	}
	notes, err := u.notes.Search(ctx, userID, keyword)
	if err != nil {
		return nil, fmt.Errorf("search notes: %w", err)
	}
	return notes, nil
}

// CountNotes returns how many notes the user has.
func (u *NotesUsecase) CountNotes(ctx context.Context, userID int64) (int, error) {
	return u.notes.Count(ctx, userID)
}
