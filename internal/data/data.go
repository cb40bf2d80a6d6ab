package data

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// OpenDB opens (creating if needed) the bot database and applies the schema.
func OpenDB(dbPath string) (*sql.DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS notes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			note_text TEXT NOT NULL,
			category TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create notes table: %w", err)
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_notes_user_created ON notes(user_id, created_at)
	`)
	if err != nil {
		return fmt.Errorf("failed to create notes index: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS reminders (
			job_id TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			note_id INTEGER NOT NULL,
			chat_id TEXT NOT NULL,
			fire_at INTEGER NOT NULL,
			note_text TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create reminders table: %w", err)
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_reminders_fire_at ON reminders(fire_at)
	`)
	if err != nil {
		return fmt.Errorf("failed to create reminders index: %w", err)
	}
	return nil
}
