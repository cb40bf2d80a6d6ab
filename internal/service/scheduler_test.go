package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/anthropics/feishu-notes-bot/internal/biz/domain"
	boterrors "github.com/anthropics/feishu-notes-bot/internal/errors"
)

type fakeNoteRepo struct {
	notes map[int64]*domain.Note
}

func (f *fakeNoteRepo) Add(ctx context.Context, userID int64, text, category string) (int64, error) {
	return 0, nil
}

func (f *fakeNoteRepo) GetByID(ctx context.Context, userID, noteID int64) (*domain.Note, error) {
	note, ok := f.notes[noteID]
	if !ok || note.UserID != userID {
		return nil, nil
	}
	return note, nil
}

func (f *fakeNoteRepo) List(ctx context.Context, userID int64, category string, page, perPage int) ([]*domain.Note, int, error) {
	return nil, 0, nil
}
func (f *fakeNoteRepo) Delete(ctx context.Context, userID, noteID int64) (bool, error) {
	return false, nil
}
func (f *fakeNoteRepo) Search(ctx context.Context, userID int64, keyword string) ([]*domain.Note, error) {
	return nil, nil
}
func (f *fakeNoteRepo) Count(ctx context.Context, userID int64) (int, error) { return 0, nil }
func (f *fakeNoteRepo) Close() error                                         { return nil }

type fakeReminderRepo struct {
	mu   sync.Mutex
	rows map[string]*domain.ReminderJob
}

func newFakeReminderRepo() *fakeReminderRepo {
	return &fakeReminderRepo{rows: make(map[string]*domain.ReminderJob)}
}

func (f *fakeReminderRepo) Save(ctx context.Context, job *domain.ReminderJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[job.JobID] = job
	return nil
}

func (f *fakeReminderRepo) Delete(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, jobID)
	return nil
}

func (f *fakeReminderRepo) ListPending(ctx context.Context) ([]*domain.ReminderJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pending []*domain.ReminderJob
	for _, job := range f.rows {
		if job.FireAt.After(time.Now()) {
			pending = append(pending, job)
		}
	}
	return pending, nil
}

func (f *fakeReminderRepo) PurgeExpired(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var purged int64
	for id, job := range f.rows {
		if !job.FireAt.After(time.Now()) {
			delete(f.rows, id)
			purged++
		}
	}
	return purged, nil
}

func (f *fakeReminderRepo) Close() error { return nil }

func (f *fakeReminderRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

type captureSink struct {
	mu       sync.Mutex
	messages []string
	sent     chan string
}

func newCaptureSink() *captureSink {
	return &captureSink{sent: make(chan string, 16)}
}

func (c *captureSink) SendText(ctx context.Context, chatID, text string) error {
	c.mu.Lock()
	c.messages = append(c.messages, text)
	c.mu.Unlock()
	c.sent <- text
	return nil
}

func newTestScheduler(maxPerUser int) (*ReminderScheduler, *fakeNoteRepo, *fakeReminderRepo, *captureSink) {
	notes := &fakeNoteRepo{notes: map[int64]*domain.Note{
		7: {ID: 7, UserID: 42, Text: "Buy milk", Category: "task"},
		8: {ID: 8, UserID: 42, Text: strings.Repeat("x", 150), Category: "other"},
	}}
	rows := newFakeReminderRepo()
	sink := newCaptureSink()
	s := NewReminderScheduler(notes, rows, sink, maxPerUser, time.Minute)
	return s, notes, rows, sink
}

func waitForMessage(t *testing.T, sink *captureSink) string {
	t.Helper()
	select {
	case msg := <-sink.sent:
		return msg
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for reminder delivery")
		return ""
	}
}

func TestScheduler_FireDeliversSnapshot(t *testing.T) {
	s, _, rows, sink := newTestScheduler(10)
	defer s.Stop()
	ctx := context.Background()

	job, err := s.Schedule(ctx, 42, 7, "oc_chat", time.Now().Add(30*time.Millisecond))
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if job.NoteText != "Buy milk" {
		t.Errorf("Snapshot = %q, want note text", job.NoteText)
	}
	if rows.count() != 1 {
		t.Errorf("Expected 1 persisted row, got %d", rows.count())
	}

	msg := waitForMessage(t, sink)
	if !strings.Contains(msg, "Note #7") || !strings.Contains(msg, "Buy milk") {
		t.Errorf("Delivery message missing note id or text: %q", msg)
	}

	// Cleanup is unconditional: live job gone, row gone, counter freed.
	waitForCleanup(t, s)
	if rows.count() != 0 {
		t.Errorf("Row not cleaned up after fire")
	}
	stats := s.Stats()
	if stats.Fired != 1 || stats.ActiveJobs != 0 || stats.UsersWithReminders != 0 {
		t.Errorf("Unexpected stats after fire: %+v", stats)
	}
}

func waitForCleanup(t *testing.T, s *ReminderScheduler) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if st := s.Stats(); st.ActiveJobs == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Scheduler did not clean up in time")
}

func TestScheduler_SnapshotTruncated(t *testing.T) {
	s, _, _, _ := newTestScheduler(10)
	defer s.Stop()

	job, err := s.Schedule(context.Background(), 42, 8, "oc_chat", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if len([]rune(job.NoteText)) != domain.SnapshotLength {
		t.Errorf("Snapshot length = %d, want %d", len([]rune(job.NoteText)), domain.SnapshotLength)
	}
}

func TestScheduler_NoteNotFound(t *testing.T) {
	s, _, _, _ := newTestScheduler(10)
	defer s.Stop()

	_, err := s.Schedule(context.Background(), 42, 999, "oc_chat", time.Now().Add(time.Hour))
	if !boterrors.Is(err, boterrors.CodeNotFound) {
		t.Errorf("Schedule error = %v, want NOT_FOUND", err)
	}

	// Another user's note is invisible, not just absent.
	_, err = s.Schedule(context.Background(), 1, 7, "oc_chat", time.Now().Add(time.Hour))
	if !boterrors.Is(err, boterrors.CodeNotFound) {
		t.Errorf("Cross-user schedule error = %v, want NOT_FOUND", err)
	}
}

func TestScheduler_QuotaAtomic(t *testing.T) {
	s, _, _, _ := newTestScheduler(3)
	defer s.Stop()
	ctx := context.Background()

	base := time.Now().Add(time.Hour)
	for i := 0; i < 3; i++ {
		if _, err := s.Schedule(ctx, 42, 7, "oc_chat", base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("Schedule %d failed: %v", i, err)
		}
	}

	_, err := s.Schedule(ctx, 42, 7, "oc_chat", base.Add(time.Hour))
	if !boterrors.Is(err, boterrors.CodeCapacityExceeded) {
		t.Errorf("Over-quota error = %v, want CAPACITY_EXCEEDED", err)
	}

	// Cancel frees quota.
	if n := s.CancelReminder(ctx, 42, 7); n != 3 {
		t.Fatalf("Canceled %d, want 3", n)
	}
	if _, err := s.Schedule(ctx, 42, 7, "oc_chat", base); err != nil {
		t.Errorf("Schedule after cancel failed: %v", err)
	}
}

func TestScheduler_QuotaUnderConcurrentSchedules(t *testing.T) {
	// Two goroutines racing for the last quota slot must never both win.
	for round := 0; round < 50; round++ {
		s, _, _, _ := newTestScheduler(3)
		ctx := context.Background()

		base := time.Now().Add(time.Hour)
		for i := 0; i < 2; i++ {
			if _, err := s.Schedule(ctx, 42, 7, "oc_chat", base.Add(time.Duration(i)*time.Minute)); err != nil {
				t.Fatalf("Round %d: setup schedule %d failed: %v", round, i, err)
			}
		}

		const racers = 4
		errs := make([]error, racers)
		var wg sync.WaitGroup
		wg.Add(racers)
		for i := 0; i < racers; i++ {
			go func(i int) {
				defer wg.Done()
				// Distinct fire times so no call is a same-id replace.
				_, errs[i] = s.Schedule(ctx, 42, 7, "oc_chat", base.Add(time.Duration(i+10)*time.Minute))
			}(i)
		}
		wg.Wait()

		won := 0
		for i, err := range errs {
			switch {
			case err == nil:
				won++
			case boterrors.Is(err, boterrors.CodeCapacityExceeded):
			default:
				t.Fatalf("Round %d: racer %d got unexpected error: %v", round, i, err)
			}
		}
		if won != 1 {
			t.Fatalf("Round %d: %d racers won the last quota slot, want exactly 1", round, won)
		}
		if st := s.Stats(); st.ActiveJobs != 3 {
			t.Fatalf("Round %d: ActiveJobs = %d, want 3", round, st.ActiveJobs)
		}
		s.Stop()
	}
}

// gatedSaveRepo blocks Save until released so tests can order persistence
// after the timer path.
type gatedSaveRepo struct {
	*fakeReminderRepo
	release chan struct{}
}

func (g *gatedSaveRepo) Save(ctx context.Context, job *domain.ReminderJob) error {
	<-g.release
	return g.fakeReminderRepo.Save(ctx, job)
}

func TestScheduler_ImmediateFireLeavesNoRow(t *testing.T) {
	notes := &fakeNoteRepo{notes: map[int64]*domain.Note{
		7: {ID: 7, UserID: 42, Text: "Buy milk", Category: "task"},
	}}
	rows := newFakeReminderRepo()
	gated := &gatedSaveRepo{fakeReminderRepo: rows, release: make(chan struct{})}
	sink := newCaptureSink()
	s := NewReminderScheduler(notes, gated, sink, 10, time.Minute)
	defer s.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := s.Schedule(context.Background(), 42, 7, "oc_chat", time.Now()); err != nil {
			t.Errorf("Schedule failed: %v", err)
		}
	}()

	// The reminder fires and cleans up while Save is still in flight.
	waitForMessage(t, sink)
	waitForCleanup(t, s)
	close(gated.release)
	<-done

	if n := rows.count(); n != 0 {
		t.Errorf("Fired reminder left %d persisted rows", n)
	}
	if st := s.Stats(); st.Fired != 1 {
		t.Errorf("Fired = %d, want 1", st.Fired)
	}
}

func TestScheduler_SameInstantReplaces(t *testing.T) {
	s, _, _, _ := newTestScheduler(2)
	defer s.Stop()
	ctx := context.Background()

	fireAt := time.Now().Add(time.Hour).Truncate(time.Second)
	first, err := s.Schedule(ctx, 42, 7, "oc_chat", fireAt)
	if err != nil {
		t.Fatalf("First schedule failed: %v", err)
	}
	second, err := s.Schedule(ctx, 42, 7, "oc_other", fireAt)
	if err != nil {
		t.Fatalf("Replacing schedule failed: %v", err)
	}
	if first.JobID != second.JobID {
		t.Errorf("Job ids differ: %s vs %s", first.JobID, second.JobID)
	}

	stats := s.Stats()
	if stats.ActiveJobs != 1 {
		t.Errorf("ActiveJobs = %d, want 1 after replace", stats.ActiveJobs)
	}
	jobs := s.GetUserReminders(42)
	if len(jobs) != 1 || jobs[0].ChatID != "oc_other" {
		t.Errorf("Replacement did not take effect: %+v", jobs)
	}
}

func TestScheduler_MisfireBeyondGraceSkipsDelivery(t *testing.T) {
	s, _, rows, sink := newTestScheduler(10)
	defer s.Stop()
	s.misfireGrace = 50 * time.Millisecond

	// Simulate a stalled process: the timer fires "late" because the
	// clock says we are past the grace window.
	fireAt := time.Now().Add(20 * time.Millisecond)
	s.now = func() time.Time { return fireAt.Add(time.Minute) }

	if _, err := s.Schedule(context.Background(), 42, 7, "oc_chat", fireAt); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	waitForCleanup(t, s)
	select {
	case msg := <-sink.sent:
		t.Errorf("Misfired reminder was delivered: %q", msg)
	case <-time.After(100 * time.Millisecond):
	}
	if rows.count() != 0 {
		t.Errorf("Misfired job row not cleaned up")
	}
	if st := s.Stats(); st.Skipped != 1 || st.Fired != 0 {
		t.Errorf("Stats after misfire: %+v", st)
	}
}

func TestScheduler_LateWithinGraceStillFires(t *testing.T) {
	s, _, _, sink := newTestScheduler(10)
	defer s.Stop()
	s.misfireGrace = time.Minute

	fireAt := time.Now().Add(20 * time.Millisecond)
	s.now = func() time.Time { return fireAt.Add(30 * time.Second) }

	if _, err := s.Schedule(context.Background(), 42, 7, "oc_chat", fireAt); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	waitForMessage(t, sink)
}

func TestScheduler_CancelIdempotent(t *testing.T) {
	s, _, _, _ := newTestScheduler(10)
	defer s.Stop()
	ctx := context.Background()

	if n := s.CancelReminder(ctx, 42, 7); n != 0 {
		t.Errorf("Cancel of nothing = %d, want 0", n)
	}

	s.Schedule(ctx, 42, 7, "oc_chat", time.Now().Add(time.Hour))
	if n := s.CancelReminder(ctx, 42, 7); n != 1 {
		t.Errorf("Cancel = %d, want 1", n)
	}
	if n := s.CancelReminder(ctx, 42, 7); n != 0 {
		t.Errorf("Second cancel = %d, want 0", n)
	}
}

func TestScheduler_GetUserRemindersSorted(t *testing.T) {
	s, _, _, _ := newTestScheduler(10)
	defer s.Stop()
	ctx := context.Background()

	base := time.Now().Truncate(time.Second)
	s.Schedule(ctx, 42, 7, "oc_chat", base.Add(3*time.Hour))
	s.Schedule(ctx, 42, 8, "oc_chat", base.Add(time.Hour))
	s.Schedule(ctx, 42, 7, "oc_chat", base.Add(2*time.Hour))

	jobs := s.GetUserReminders(42)
	if len(jobs) != 3 {
		t.Fatalf("len = %d, want 3", len(jobs))
	}
	for i := 1; i < len(jobs); i++ {
		if jobs[i].FireAt.Before(jobs[i-1].FireAt) {
			t.Errorf("Jobs not sorted by fire time: %v then %v", jobs[i-1].FireAt, jobs[i].FireAt)
		}
	}

	if len(s.GetUserReminders(1)) != 0 {
		t.Error("Unexpected reminders for another user")
	}
}

func TestScheduler_CancelUserReminders(t *testing.T) {
	s, _, rows, _ := newTestScheduler(10)
	defer s.Stop()
	ctx := context.Background()

	base := time.Now().Add(time.Hour)
	s.Schedule(ctx, 42, 7, "oc_chat", base)
	s.Schedule(ctx, 42, 8, "oc_chat", base.Add(time.Minute))

	if n := s.CancelUserReminders(ctx, 42); n != 2 {
		t.Errorf("Canceled %d, want 2", n)
	}
	if rows.count() != 0 {
		t.Errorf("Rows remain after cancel all")
	}
	if st := s.Stats(); st.ActiveJobs != 0 || st.UsersWithReminders != 0 {
		t.Errorf("State remains after cancel all: %+v", st)
	}
}

func TestScheduler_Rehydrate(t *testing.T) {
	s, _, rows, _ := newTestScheduler(10)
	ctx := context.Background()

	future := time.Now().Add(time.Hour)
	s.Schedule(ctx, 42, 7, "oc_chat", future)
	// Expired row that rehydration must purge, not schedule.
	rows.Save(ctx, &domain.ReminderJob{
		JobID: domain.ReminderJobID(42, 8, time.Now().Add(-time.Hour)),
		UserID: 42, NoteID: 8, ChatID: "oc_chat",
		FireAt: time.Now().Add(-time.Hour), NoteText: "old",
	})
	s.Stop()

	restarted := NewReminderScheduler(&fakeNoteRepo{}, rows, newCaptureSink(), 10, time.Minute)
	defer restarted.Stop()
	if err := restarted.Rehydrate(ctx); err != nil {
		t.Fatalf("Rehydrate failed: %v", err)
	}

	jobs := restarted.GetUserReminders(42)
	if len(jobs) != 1 {
		t.Fatalf("Rehydrated %d jobs, want 1", len(jobs))
	}
	if jobs[0].NoteID != 7 || !jobs[0].FireAt.Equal(future) {
		t.Errorf("Unexpected rehydrated job: %+v", jobs[0])
	}
	if rows.count() != 1 {
		t.Errorf("Expired row not purged: %d rows", rows.count())
	}
}

func TestScheduler_StopCancelsTimers(t *testing.T) {
	s, _, _, sink := newTestScheduler(10)
	ctx := context.Background()

	s.Schedule(ctx, 42, 7, "oc_chat", time.Now().Add(30*time.Millisecond))
	s.Stop()

	select {
	case msg := <-sink.sent:
		t.Errorf("Reminder fired after Stop: %q", msg)
	case <-time.After(100 * time.Millisecond):
	}
}
