package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/anthropics/feishu-notes-bot/internal/biz/domain"
	"github.com/anthropics/feishu-notes-bot/internal/biz/repo"
)

// noteRepo implements the note repository over sqlite
type noteRepo struct {
	db *sql.DB
}

// NewNoteRepo creates a note repository backed by db.
func NewNoteRepo(db *sql.DB) repo.NoteRepo {
	return &noteRepo{db: db}
}

// Add stores a note and returns its id
func (r *noteRepo) Add(ctx context.Context, userID int64, text, category string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO notes (user_id, note_text, category, created_at)
		VALUES (?, ?, ?, ?)
	`, userID, text, category, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to insert note: %w", err)
	}
	return result.LastInsertId()
}

// GetByID returns a note scoped to its owner, or nil if absent
func (r *noteRepo) GetByID(ctx context.Context, userID, noteID int64) (*domain.Note, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, note_text, category, created_at
		FROM notes
		WHERE id = ? AND user_id = ?
	`, noteID, userID)

	note, err := scanNote(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query note: %w", err)
	}
	return note, nil
}

// List returns one page of a user's notes, newest first
func (r *noteRepo) List(ctx context.Context, userID int64, category string, page, perPage int) ([]*domain.Note, int, error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * perPage

	var total int
	var rows *sql.Rows
	var err error
	if category != "" {
		err = r.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM notes WHERE user_id = ? AND category = ?
		`, userID, category).Scan(&total)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to count notes: %w", err)
		}
		rows, err = r.db.QueryContext(ctx, `
			SELECT id, user_id, note_text, category, created_at
			FROM notes
			WHERE user_id = ? AND category = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ? OFFSET ?
		`, userID, category, perPage, offset)
	} else {
		err = r.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM notes WHERE user_id = ?
		`, userID).Scan(&total)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to count notes: %w", err)
		}
		rows, err = r.db.QueryContext(ctx, `
			SELECT id, user_id, note_text, category, created_at
			FROM notes
			WHERE user_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ? OFFSET ?
		`, userID, perPage, offset)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	notes, err := collectNotes(rows)
	if err != nil {
		return nil, 0, err
	}
	return notes, total, nil
}

// Delete removes a note scoped to its owner
func (r *noteRepo) Delete(ctx context.Context, userID, noteID int64) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM notes WHERE id = ? AND user_id = ?
	`, noteID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete note: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected > 0, nil
}

// Search returns a user's notes whose text contains keyword, newest first
func (r *noteRepo) Search(ctx context.Context, userID int64, keyword string) ([]*domain.Note, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, note_text, category, created_at
		FROM notes
		WHERE user_id = ? AND note_text LIKE ?
		ORDER BY created_at DESC, id DESC
	`, userID, "%"+keyword+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to search notes: %w", err)
	}
	defer rows.Close()

	return collectNotes(rows)
}

// Count returns how many notes the user has
func (r *noteRepo) Count(ctx context.Context, userID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notes WHERE user_id = ?
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count notes: %w", err)
	}
	return count, nil
}

// Close closes the database connection
func (r *noteRepo) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (*domain.Note, error) {
	var note domain.Note
	var createdAt int64
	if err := row.Scan(&note.ID, &note.UserID, &note.Text, &note.Category, &createdAt); err != nil {
		return nil, err
	}
	note.CreatedAt = time.Unix(createdAt, 0)
	return &note, nil
}

func collectNotes(rows *sql.Rows) ([]*domain.Note, error) {
	var notes []*domain.Note
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notes: %w", err)
	}
	return notes, nil
}
