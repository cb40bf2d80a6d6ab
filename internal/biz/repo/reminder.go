package repo

import (
	"context"

	"github.com/anthropics/feishu-notes-bot/internal/biz/domain"
)

// ReminderRepo mirrors live reminder jobs to storage. The scheduler is the
// source of truth while the process runs; rows are only read back when startup
// rehydration is enabled.
type ReminderRepo interface {
	// Save upserts a reminder row keyed by job id
	Save(ctx context.Context, job *domain.ReminderJob) error

	// Delete removes a reminder row; missing rows are not an error
	Delete(ctx context.Context, jobID string) error

	// ListPending returns rows whose fire time is still in the future
	ListPending(ctx context.Context) ([]*domain.ReminderJob, error)

	// PurgeExpired deletes rows whose fire time has passed, returning the count
	PurgeExpired(ctx context.Context) (int64, error)

	Close() error
}
