package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anthropics/feishu-notes-bot/internal/biz/domain"
	"github.com/anthropics/feishu-notes-bot/internal/biz/repo"
	boterrors "github.com/anthropics/feishu-notes-bot/internal/errors"
)

// scheduledJob pairs a live reminder with its timer.
type scheduledJob struct {
	job   *domain.ReminderJob
	timer *time.Timer
}

// SchedulerStats is a point-in-time snapshot of scheduler state.
type SchedulerStats struct {
	ActiveJobs         int   `json:"active_jobs"`
	UsersWithReminders int   `json:"users_with_reminders"`
	Fired              int64 `json:"fired"`
	Skipped            int64 `json:"skipped"`
	Canceled           int64 `json:"canceled"`
	DeliveryErrors     int64 `json:"delivery_errors"`
}

// ReminderScheduler keeps one timer per pending reminder and delivers the
// note snapshot to the originating chat when it fires. All job state lives
// behind one mutex so the per-user quota check and the registration it
// guards are a single atomic step.
type ReminderScheduler struct {
	notes     repo.NoteRepo
	reminders repo.ReminderRepo
	sink      repo.MessageSink

	maxPerUser   int
	misfireGrace time.Duration

	mu         sync.Mutex
	jobs       map[string]*scheduledJob
	userCounts map[int64]int
	stopped    bool

	fired          int64
	skipped        int64
	canceled       int64
	deliveryErrors int64

	wg  sync.WaitGroup
	now func() time.Time
}

// NewReminderScheduler creates a scheduler. maxPerUser bounds active
// reminders per user; misfireGrace is how late a reminder may fire before
// being skipped.
func NewReminderScheduler(notes repo.NoteRepo, reminders repo.ReminderRepo, sink repo.MessageSink, maxPerUser int, misfireGrace time.Duration) *ReminderScheduler {
	return &ReminderScheduler{
		notes:        notes,
		reminders:    reminders,
		sink:         sink,
		maxPerUser:   maxPerUser,
		misfireGrace: misfireGrace,
		jobs:         make(map[string]*scheduledJob),
		userCounts:   make(map[int64]int),
		now:          time.Now,
	}
}

// Schedule registers a reminder for an existing note. The note text is
// snapshotted now; later edits or deletion do not change what fires.
// Returns CAPACITY_EXCEEDED at the per-user limit and NOT_FOUND for a
// missing note. Scheduling the same note at the same instant replaces the
// previous job instead of adding a second one.
func (s *ReminderScheduler) Schedule(ctx context.Context, userID, noteID int64, chatID string, fireAt time.Time) (*domain.ReminderJob, error) {
	note, err := s.notes.GetByID(ctx, userID, noteID)
	if err != nil {
		return nil, fmt.Errorf("look up note %d: %w", noteID, err)
	}
	if note == nil {
		return nil, boterrors.NewNotFound("note", noteID)
	}

	job := &domain.ReminderJob{
		JobID:    domain.ReminderJobID(userID, noteID, fireAt),
		UserID:   userID,
		NoteID:   noteID,
		ChatID:   chatID,
		FireAt:   fireAt,
		NoteText: domain.Snapshot(note.Text),
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, fmt.Errorf("scheduler is stopped")
	}
	existing, replace := s.jobs[job.JobID]
	if !replace && s.userCounts[userID] >= s.maxPerUser {
		s.mu.Unlock()
		return nil, boterrors.NewCapacityExceeded(s.maxPerUser)
	}
	if replace {
		existing.timer.Stop()
	} else {
		s.userCounts[userID]++
	}
	s.registerLocked(job)
	s.mu.Unlock()

	if err := s.reminders.Save(ctx, job); err != nil {
		fmt.Printf("[Scheduler] Warning: failed to persist job %s: %v\n", job.JobID, err)
	} else {
		s.mu.Lock()
		_, live := s.jobs[job.JobID]
		stopped := s.stopped
		s.mu.Unlock()
		// A near-immediate job can fire before Save lands; its cleanup ran
		// against a row that did not exist yet, so drop the row now. Rows
		// surviving Stop are kept for rehydration.
		if !live && !stopped {
			if err := s.reminders.Delete(ctx, job.JobID); err != nil {
				fmt.Printf("[Scheduler] Warning: failed to delete row %s: %v\n", job.JobID, err)
			}
		}
	}

	fmt.Printf("[Scheduler] Scheduled %s (fires %s)\n", job.JobID, fireAt.Format(time.RFC3339))
	return job, nil
}

// registerLocked installs the job and its timer. Caller holds s.mu.
func (s *ReminderScheduler) registerLocked(job *domain.ReminderJob) {
	delay := job.FireAt.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	sj := &scheduledJob{job: job}
	sj.timer = time.AfterFunc(delay, func() {
		s.fire(job.JobID)
	})
	s.jobs[job.JobID] = sj
}

// fire delivers a reminder and unconditionally cleans it up. A reminder
// fires at most once; delivery failure and misfire both still consume it.
func (s *ReminderScheduler) fire(jobID string) {
	s.mu.Lock()
	sj, ok := s.jobs[jobID]
	if !ok || s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.jobs, jobID)
	s.decrementUserLocked(sj.job.UserID)

	lateness := s.now().Sub(sj.job.FireAt)
	misfired := lateness > s.misfireGrace
	if misfired {
		s.skipped++
	} else {
		s.fired++
	}
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if misfired {
		fmt.Printf("[Scheduler] Skipping %s: %.0fs past misfire grace\n", jobID, lateness.Seconds())
	} else {
		text := fmt.Sprintf("⏰ Reminder!\n\n📝 Note #%d: %s", sj.job.NoteID, sj.job.NoteText)
		if err := s.sink.SendText(ctx, sj.job.ChatID, text); err != nil {
			s.mu.Lock()
			s.deliveryErrors++
			s.mu.Unlock()
			fmt.Printf("[Scheduler] Delivery failed for %s: %v\n", jobID, err)
		} else {
			fmt.Printf("[Scheduler] Fired %s\n", jobID)
		}
	}

	if err := s.reminders.Delete(ctx, jobID); err != nil {
		fmt.Printf("[Scheduler] Warning: failed to delete row %s: %v\n", jobID, err)
	}
}

func (s *ReminderScheduler) decrementUserLocked(userID int64) {
	if s.userCounts[userID] <= 1 {
		delete(s.userCounts, userID)
	} else {
		s.userCounts[userID]--
	}
}

// CancelReminder cancels all pending reminders for (user, note). Returns
// how many were canceled; zero is not an error.
func (s *ReminderScheduler) CancelReminder(ctx context.Context, userID, noteID int64) int {
	s.mu.Lock()
	var removed []string
	for id, sj := range s.jobs {
		if sj.job.UserID == userID && sj.job.NoteID == noteID {
			sj.timer.Stop()
			delete(s.jobs, id)
			s.decrementUserLocked(userID)
			s.canceled++
			removed = append(removed, id)
		}
	}
	s.mu.Unlock()

	for _, id := range removed {
		if err := s.reminders.Delete(ctx, id); err != nil {
			fmt.Printf("[Scheduler] Warning: failed to delete row %s: %v\n", id, err)
		}
		fmt.Printf("[Scheduler] Canceled %s\n", id)
	}
	return len(removed)
}

// CancelUserReminders cancels every pending reminder the user has.
func (s *ReminderScheduler) CancelUserReminders(ctx context.Context, userID int64) int {
	s.mu.Lock()
	var removed []string
	for id, sj := range s.jobs {
		if sj.job.UserID == userID {
			sj.timer.Stop()
			delete(s.jobs, id)
			s.canceled++
			removed = append(removed, id)
		}
	}
	delete(s.userCounts, userID)
	s.mu.Unlock()

	for _, id := range removed {
		if err := s.reminders.Delete(ctx, id); err != nil {
			fmt.Printf("[Scheduler] Warning: failed to delete row %s: %v\n", id, err)
		}
	}
	if len(removed) > 0 {
		fmt.Printf("[Scheduler] Canceled %d reminders for user %d\n", len(removed), userID)
	}
	return len(removed)
}

// GetUserReminders returns the user's pending reminders sorted by fire time.
func (s *ReminderScheduler) GetUserReminders(userID int64) []*domain.ReminderJob {
	s.mu.Lock()
	var jobs []*domain.ReminderJob
	for _, sj := range s.jobs {
		if sj.job.UserID == userID {
			jobs = append(jobs, sj.job)
		}
	}
	s.mu.Unlock()

	domain.SortJobsByFireTime(jobs)
	return jobs
}

// Rehydrate re-schedules persisted reminder rows that are still in the
// future and purges expired ones. Quota is re-applied per user; rows beyond
// the limit are dropped.
func (s *ReminderScheduler) Rehydrate(ctx context.Context) error {
	purged, err := s.reminders.PurgeExpired(ctx)
	if err != nil {
		return fmt.Errorf("purge expired reminders: %w", err)
	}
	if purged > 0 {
		fmt.Printf("[Scheduler] Purged %d expired reminder rows\n", purged)
	}

	pending, err := s.reminders.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("list pending reminders: %w", err)
	}

	restored := 0
	s.mu.Lock()
	for _, job := range pending {
		if _, exists := s.jobs[job.JobID]; exists {
			continue
		}
		if s.userCounts[job.UserID] >= s.maxPerUser {
			fmt.Printf("[Scheduler] Dropping %s on rehydrate: user %d at limit\n", job.JobID, job.UserID)
			continue
		}
		s.userCounts[job.UserID]++
		s.registerLocked(job)
		restored++
	}
	s.mu.Unlock()

	fmt.Printf("[Scheduler] Rehydrated %d reminders\n", restored)
	return nil
}

// Stats returns a snapshot of scheduler counters.
func (s *ReminderScheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerStats{
		ActiveJobs:         len(s.jobs),
		UsersWithReminders: len(s.userCounts),
		Fired:              s.fired,
		Skipped:            s.skipped,
		Canceled:           s.canceled,
		DeliveryErrors:     s.deliveryErrors,
	}
}

// Stop cancels all pending timers and waits for in-flight deliveries.
// Persisted rows are kept so an enabled rehydration can restore them.
func (s *ReminderScheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, sj := range s.jobs {
		sj.timer.Stop()
		delete(s.jobs, id)
	}
	s.userCounts = make(map[int64]int)
	s.mu.Unlock()

	s.wg.Wait()
	fmt.Println("[Scheduler] Stopped")
}
