package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/anthropics/feishu-notes-bot/internal/biz/domain"
	"github.com/anthropics/feishu-notes-bot/internal/biz/usecase"
	"github.com/anthropics/feishu-notes-bot/internal/ratelimit"
	"github.com/anthropics/feishu-notes-bot/internal/security"
	"github.com/anthropics/feishu-notes-bot/internal/service"
)

type stubNoteRepo struct{}

func (stubNoteRepo) Add(ctx context.Context, userID int64, text, category string) (int64, error) {
	return 1, nil
}
func (stubNoteRepo) GetByID(ctx context.Context, userID, noteID int64) (*domain.Note, error) {
	return nil, nil
}
func (stubNoteRepo) List(ctx context.Context, userID int64, category string, page, perPage int) ([]*domain.Note, int, error) {
	return nil, 0, nil
}
func (stubNoteRepo) Delete(ctx context.Context, userID, noteID int64) (bool, error) {
	return false, nil
}
func (stubNoteRepo) Search(ctx context.Context, userID int64, keyword string) ([]*domain.Note, error) {
	return nil, nil
}
func (stubNoteRepo) Count(ctx context.Context, userID int64) (int, error) { return 3, nil }
func (stubNoteRepo) Close() error                                         { return nil }

type stubReminderRepo struct{}

func (stubReminderRepo) Save(ctx context.Context, job *domain.ReminderJob) error { return nil }
func (stubReminderRepo) Delete(ctx context.Context, jobID string) error          { return nil }
func (stubReminderRepo) ListPending(ctx context.Context) ([]*domain.ReminderJob, error) {
	return nil, nil
}
func (stubReminderRepo) PurgeExpired(ctx context.Context) (int64, error) { return 0, nil }
func (stubReminderRepo) Close() error                                    { return nil }

type nopSink struct{}

func (nopSink) SendText(ctx context.Context, chatID, text string) error { return nil }

func newTestServer(t *testing.T) (*Server, *security.Manager) {
	t.Helper()
	sched := service.NewReminderScheduler(stubNoteRepo{}, stubReminderRepo{}, nopSink{}, 10, time.Minute)
	t.Cleanup(sched.Stop)

	manager := security.NewManager(nil, nil)
	limiter := ratelimit.NewCommandLimiter(ratelimit.CommandConfig{
		Enabled:           true,
		GeneralBucketSize: 10,
		GeneralWindow:     time.Minute,
		CooldownFor:       func(string) time.Duration { return time.Second },
	})
	mw := security.NewMiddleware(manager, limiter)
	notes := usecase.NewNotesUsecase(stubNoteRepo{}, usecase.NewClassifyUsecase(nil), 10)

	return NewServer(sched, mw, notes, service.NewOpStats(), 0), manager
}

func TestHandleStatus(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	server.handleStatus(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var result map[string]json.RawMessage
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if _, ok := result["scheduler"]; !ok {
		t.Error("Response missing scheduler stats")
	}
}

func TestHandleUserInfo(t *testing.T) {
	server, manager := newTestServer(t)
	manager.BlockUser(42, "abuse")

	req := httptest.NewRequest(http.MethodGet, "/api/security/42", nil)
	w := httptest.NewRecorder()
	server.handleUserInfo(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var result struct {
		UserID    int64             `json:"user_id"`
		Security  security.UserInfo `json:"security"`
		NoteCount int               `json:"note_count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if result.UserID != 42 || !result.Security.Blocked {
		t.Errorf("Unexpected user info: %+v", result)
	}
	if result.NoteCount != 3 {
		t.Errorf("note_count = %d, want 3", result.NoteCount)
	}
}

func TestHandleUserInfo_BadID(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/security/notanumber", nil)
	w := httptest.NewRecorder()
	server.handleUserInfo(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestHandleBlockUnblock(t *testing.T) {
	server, manager := newTestServer(t)

	body, _ := json.Marshal(map[string]interface{}{"user_id": 7, "reason": "spam"})
	req := httptest.NewRequest(http.MethodPost, "/api/security/block", bytes.NewReader(body))
	w := httptest.NewRecorder()
	server.handleBlock(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Block returned %d", w.Code)
	}
	if !manager.IsUserBlocked(7) {
		t.Error("User not blocked after block call")
	}

	body, _ = json.Marshal(map[string]interface{}{"user_id": 7})
	req = httptest.NewRequest(http.MethodPost, "/api/security/unblock", bytes.NewReader(body))
	w = httptest.NewRecorder()
	server.handleUnblock(w, req)

	if manager.IsUserBlocked(7) {
		t.Error("User still blocked after unblock call")
	}
}

func TestHandleBlock_MissingUserID(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/security/block", bytes.NewReader([]byte("{}")))
	w := httptest.NewRecorder()
	server.handleBlock(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestHandleChatAllowDisallow(t *testing.T) {
	server, manager := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"chat_id": "oc_room"})
	req := httptest.NewRequest(http.MethodPost, "/api/chats/allow", bytes.NewReader(body))
	w := httptest.NewRecorder()
	server.handleChatAllow(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Allow returned %d", w.Code)
	}
	// A non-empty allow-list closes the policy to other chats.
	if manager.IsChatAllowed("oc_other") {
		t.Error("Policy still open after adding an allowed chat")
	}
	if !manager.IsChatAllowed("oc_room") {
		t.Error("Allowed chat rejected")
	}

	body, _ = json.Marshal(map[string]string{"chat_id": "oc_room"})
	req = httptest.NewRequest(http.MethodPost, "/api/chats/disallow", bytes.NewReader(body))
	w = httptest.NewRecorder()
	server.handleChatDisallow(w, req)

	if !manager.IsChatAllowed("oc_any") {
		t.Error("Policy did not reopen after removing the last allowed chat")
	}
}
