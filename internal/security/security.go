// Package security maintains actor allow/block lists, a bounded
// suspicious-activity log, and the middleware gating command execution.
package security

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/anthropics/feishu-notes-bot/internal/biz/domain"
	"github.com/anthropics/feishu-notes-bot/internal/ratelimit"
)

// Manager guards allow/block sets and the per-user activity log. All check
// methods are safe against concurrent mutation.
type Manager struct {
	mu           sync.RWMutex
	allowedChats map[string]struct{}
	blockedUsers map[int64]struct{}
	activity     map[int64][]domain.SuspiciousActivity
}

// NewManager creates a manager seeded from the configured lists.
func NewManager(allowedChats []string, blockedUsers []int64) *Manager {
	m := &Manager{
		allowedChats: make(map[string]struct{}),
		blockedUsers: make(map[int64]struct{}),
		activity:     make(map[int64][]domain.SuspiciousActivity),
	}
	for _, chatID := range allowedChats {
		m.allowedChats[chatID] = struct{}{}
	}
	for _, userID := range blockedUsers {
		m.blockedUsers[userID] = struct{}{}
	}
	return m
}

// IsChatAllowed reports whether a chat may use the bot. An empty allow-list
// means every chat is allowed.
func (m *Manager) IsChatAllowed(chatID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.allowedChats) == 0 {
		return true
	}
	_, ok := m.allowedChats[chatID]
	return ok
}

// IsUserBlocked reports whether a user is blocked.
func (m *Manager) IsUserBlocked(userID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blockedUsers[userID]
	return ok
}

// BlockUser blocks a user.
func (m *Manager) BlockUser(userID int64, reason string) {
	m.mu.Lock()
	m.blockedUsers[userID] = struct{}{}
	m.mu.Unlock()
	fmt.Printf("[Security] User %d blocked: %s\n", userID, reason)
}

// UnblockUser unblocks a user.
func (m *Manager) UnblockUser(userID int64) {
	m.mu.Lock()
	delete(m.blockedUsers, userID)
	m.mu.Unlock()
	fmt.Printf("[Security] User %d unblocked\n", userID)
}

// AddAllowedChat adds a chat to the allow-list.
func (m *Manager) AddAllowedChat(chatID string) {
	m.mu.Lock()
	m.allowedChats[chatID] = struct{}{}
	m.mu.Unlock()
	fmt.Printf("[Security] Chat %s added to allowed list\n", chatID)
}

// RemoveAllowedChat removes a chat from the allow-list.
func (m *Manager) RemoveAllowedChat(chatID string) {
	m.mu.Lock()
	delete(m.allowedChats, chatID)
	m.mu.Unlock()
	fmt.Printf("[Security] Chat %s removed from allowed list\n", chatID)
}

// RecordSuspiciousActivity appends an observational record to the user's log,
// keeping only the most recent entries. It never influences blocking.
func (m *Manager) RecordSuspiciousActivity(userID int64, activityType string, details map[string]any) {
	record := domain.SuspiciousActivity{
		ID:        ulid.MustNew(ulid.Now(), rand.Reader).String(),
		Timestamp: time.Now(),
		Type:      activityType,
		Details:   details,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	log := append(m.activity[userID], record)
	if len(log) > domain.MaxActivityPerUser {
		log = log[len(log)-domain.MaxActivityPerUser:]
	}
	m.activity[userID] = log
}

// SuspiciousActivity returns a copy of the user's activity log.
func (m *Manager) SuspiciousActivity(userID int64) []domain.SuspiciousActivity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	log := m.activity[userID]
	out := make([]domain.SuspiciousActivity, len(log))
	copy(out, log)
	return out
}

// Actor identifies who issued a command and where.
type Actor struct {
	UserID  int64
	ChatID  string
	IsGroup bool
}

// Middleware combines the manager with command rate limiting at the dispatch
// entry point.
type Middleware struct {
	manager *Manager
	limiter *ratelimit.CommandLimiter
}

// NewMiddleware creates the middleware facade.
func NewMiddleware(manager *Manager, limiter *ratelimit.CommandLimiter) *Middleware {
	return &Middleware{manager: manager, limiter: limiter}
}

// Manager exposes the underlying security manager for admin operations.
func (mw *Middleware) Manager() *Manager {
	return mw.manager
}

// CheckPermissions verifies the actor may use the bot at all. The blocked
// check runs first; the chat allow-list only applies to group chats. A failed
// permission check short-circuits rate limiting entirely.
func (mw *Middleware) CheckPermissions(actor Actor) (bool, string) {
	if mw.manager.IsUserBlocked(actor.UserID) {
		return false, "You are blocked from using this bot."
	}
	if actor.IsGroup && !mw.manager.IsChatAllowed(actor.ChatID) {
		return false, "This bot is not available in this chat."
	}
	return true, ""
}

// CheckRateLimits applies the general limit first, then the per-command
// cooldown. The first failing check's retry hint is returned.
func (mw *Middleware) CheckRateLimits(actor Actor, command string) (bool, float64) {
	if allowed, retry := mw.limiter.IsUserAllowed(actor.UserID); !allowed {
		return false, retry
	}
	if allowed, retry := mw.limiter.IsCommandAllowed(actor.UserID, command); !allowed {
		return false, retry
	}
	return true, 0
}

// RecordCommandUsage records a failed command as suspicious activity.
// Successful commands are intentionally not tracked.
func (mw *Middleware) RecordCommandUsage(actor Actor, command string, success bool) {
	if success {
		return
	}
	mw.manager.RecordSuspiciousActivity(actor.UserID, "command_failure", map[string]any{
		"command": command,
		"chat_id": actor.ChatID,
	})
}

// UserInfo aggregates a user's security state for the admin API.
type UserInfo struct {
	Blocked        bool                            `json:"blocked"`
	RateLimits     map[string]ratelimit.BucketInfo `json:"rate_limits"`
	RecentActivity []domain.SuspiciousActivity     `json:"recent_activity"`
}

// UserInfo returns the aggregated security state for a user.
func (mw *Middleware) UserInfo(userID int64) UserInfo {
	return UserInfo{
		Blocked:        mw.manager.IsUserBlocked(userID),
		RateLimits:     mw.limiter.UserInfo(userID),
		RecentActivity: mw.manager.SuspiciousActivity(userID),
	}
}
