package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/anthropics/feishu-notes-bot/internal/biz/domain"
	"github.com/anthropics/feishu-notes-bot/internal/biz/repo"
)

// reminderRepo mirrors live reminder jobs into the reminders table
type reminderRepo struct {
	db *sql.DB
}

// NewReminderRepo creates a reminder repository backed by db.
func NewReminderRepo(db *sql.DB) repo.ReminderRepo {
	return &reminderRepo{db: db}
}

// Save upserts a reminder row keyed by job id
func (r *reminderRepo) Save(ctx context.Context, job *domain.ReminderJob) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO reminders (job_id, user_id, note_id, chat_id, fire_at, note_text)
		VALUES (?, ?, ?, ?, ?, ?)
	`, job.JobID, job.UserID, job.NoteID, job.ChatID, job.FireAt.Unix(), job.NoteText)
	if err != nil {
		return fmt.Errorf("failed to save reminder: %w", err)
	}
	return nil
}

// Delete removes a reminder row
func (r *reminderRepo) Delete(ctx context.Context, jobID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM reminders WHERE job_id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete reminder: %w", err)
	}
	return nil
}

// ListPending returns rows whose fire time is still in the future
func (r *reminderRepo) ListPending(ctx context.Context) ([]*domain.ReminderJob, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT job_id, user_id, note_id, chat_id, fire_at, note_text
		FROM reminders
		WHERE fire_at > ?
		ORDER BY fire_at ASC
	`, time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to list pending reminders: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.ReminderJob
	for rows.Next() {
		var job domain.ReminderJob
		var fireAt int64
		if err := rows.Scan(&job.JobID, &job.UserID, &job.NoteID, &job.ChatID, &fireAt, &job.NoteText); err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}
		job.FireAt = time.Unix(fireAt, 0)
		jobs = append(jobs, &job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reminders: %w", err)
	}
	return jobs, nil
}

// PurgeExpired deletes rows whose fire time has passed
func (r *reminderRepo) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM reminders WHERE fire_at <= ?
	`, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge reminders: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection
func (r *reminderRepo) Close() error {
	return r.db.Close()
}
