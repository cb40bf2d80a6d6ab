package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/anthropics/feishu-notes-bot/internal/biz/usecase"
	"github.com/anthropics/feishu-notes-bot/internal/security"
	"github.com/anthropics/feishu-notes-bot/internal/service"
)

// Server exposes a local HTTP surface for status and security
// administration. It binds to loopback only.
type Server struct {
	scheduler  *service.ReminderScheduler
	middleware *security.Middleware
	notes      *usecase.NotesUsecase
	opStats    *service.OpStats

	server *http.Server
	port   int
}

// NewServer creates a new admin API server.
func NewServer(scheduler *service.ReminderScheduler, middleware *security.Middleware, notes *usecase.NotesUsecase, opStats *service.OpStats, port int) *Server {
	return &Server{
		scheduler:  scheduler,
		middleware: middleware,
		notes:      notes,
		opStats:    opStats,
		port:       port,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	// Status and diagnostics
	mux.HandleFunc("/api/status", s.handleStatus)

	// Security management
	mux.HandleFunc("/api/security/block", s.handleBlock)
	mux.HandleFunc("/api/security/unblock", s.handleUnblock)
	mux.HandleFunc("/api/security/", s.handleUserInfo)

	// Chat allow-list management
	mux.HandleFunc("/api/chats/allow", s.handleChatAllow)
	mux.HandleFunc("/api/chats/disallow", s.handleChatDisallow)

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	s.server = &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", s.port),
		Handler: mux,
	}

	fmt.Printf("[API] Starting HTTP server on port %d\n", s.port)
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Shutdown(context.Background())
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, map[string]interface{}{
		"scheduler": s.scheduler.Stats(),
		"timings":   s.opStats.Snapshot(),
	})
}

// handleUserInfo serves GET /api/security/{user_id}.
func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rawID := strings.TrimPrefix(r.URL.Path, "/api/security/")
	userID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	info := s.middleware.UserInfo(userID)
	reminders := s.scheduler.GetUserReminders(userID)
	notes, _ := s.notes.CountNotes(r.Context(), userID)

	s.writeJSON(w, map[string]interface{}{
		"user_id":          userID,
		"security":         info,
		"active_reminders": len(reminders),
		"note_count":       notes,
	})
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	userID, reason, ok := s.decodeUserRequest(w, r)
	if !ok {
		return
	}
	s.middleware.Manager().BlockUser(userID, reason)
	s.writeJSON(w, map[string]interface{}{"success": true})
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := s.decodeUserRequest(w, r)
	if !ok {
		return
	}
	s.middleware.Manager().UnblockUser(userID)
	s.writeJSON(w, map[string]interface{}{"success": true})
}

func (s *Server) decodeUserRequest(w http.ResponseWriter, r *http.Request) (int64, string, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return 0, "", false
	}
	var req struct {
		UserID int64  `json:"user_id"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return 0, "", false
	}
	if req.UserID == 0 {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return 0, "", false
	}
	return req.UserID, req.Reason, true
}

func (s *Server) handleChatAllow(w http.ResponseWriter, r *http.Request) {
	chatID, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}
	s.middleware.Manager().AddAllowedChat(chatID)
	s.writeJSON(w, map[string]interface{}{"success": true})
}

func (s *Server) handleChatDisallow(w http.ResponseWriter, r *http.Request) {
	chatID, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}
	s.middleware.Manager().RemoveAllowedChat(chatID)
	s.writeJSON(w, map[string]interface{}{"success": true})
}

func (s *Server) decodeChatRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return "", false
	}
	var req struct {
		ChatID string `json:"chat_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return "", false
	}
	if req.ChatID == "" {
		http.Error(w, "chat_id is required", http.StatusBadRequest)
		return "", false
	}
	return req.ChatID, true
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}
