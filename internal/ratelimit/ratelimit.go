// Package ratelimit implements sliding-window rate limiting keyed by
// arbitrary strings, plus a per-command wrapper with cooldowns.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Limiter is a sliding-window counter. Each key owns a time-ordered bucket of
// request timestamps; entries older than the window are pruned from the front.
type Limiter struct {
	bucketSize int
	window     time.Duration
	enabled    bool

	mu      sync.Mutex
	buckets map[string][]time.Time

	now func() time.Time
}

// BucketInfo is a read-only snapshot of one bucket.
type BucketInfo struct {
	CurrentRequests   int     `json:"current_requests"`
	MaxRequests       int     `json:"max_requests"`
	RemainingRequests int     `json:"remaining_requests"`
	WindowSeconds     float64 `json:"window_seconds"`
}

// NewLimiter creates a limiter admitting bucketSize requests per window per
// key. When enabled is false every check passes without touching state.
func NewLimiter(bucketSize int, window time.Duration, enabled bool) *Limiter {
	return &Limiter{
		bucketSize: bucketSize,
		window:     window,
		enabled:    enabled,
		buckets:    make(map[string][]time.Time),
		now:        time.Now,
	}
}

// IsAllowed decides admit/reject for key. On rejection the second return is
// how many seconds until the oldest recorded request leaves the window.
func (l *Limiter) IsAllowed(key string) (bool, float64) {
	if !l.enabled {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	bucket := l.pruneLocked(key, now)

	if len(bucket) >= l.bucketSize {
		retryAfter := l.window.Seconds() - now.Sub(bucket[0]).Seconds()
		if retryAfter < 0 {
			retryAfter = 0
		}
		return false, retryAfter
	}

	l.buckets[key] = append(bucket, now)
	return true, 0
}

// Info returns a diagnostic snapshot for key. Expired entries are pruned, the
// same cleanup IsAllowed performs, but no request is recorded.
func (l *Limiter) Info(key string) BucketInfo {
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket := l.pruneLocked(key, l.now())
	remaining := l.bucketSize - len(bucket)
	if remaining < 0 {
		remaining = 0
	}
	return BucketInfo{
		CurrentRequests:   len(bucket),
		MaxRequests:       l.bucketSize,
		RemainingRequests: remaining,
		WindowSeconds:     l.window.Seconds(),
	}
}

// pruneLocked drops entries older than the window. Caller holds l.mu.
func (l *Limiter) pruneLocked(key string, now time.Time) []time.Time {
	bucket := l.buckets[key]
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(bucket) && bucket[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		bucket = bucket[i:]
		if len(bucket) == 0 {
			delete(l.buckets, key)
		} else {
			l.buckets[key] = bucket
		}
	}
	return bucket
}

// CommandConfig supplies the windows for a CommandLimiter.
type CommandConfig struct {
	Enabled           bool
	GeneralBucketSize int
	GeneralWindow     time.Duration
	// CooldownFor returns the per-command cooldown window.
	CooldownFor func(command string) time.Duration
}

// CommandLimiter composes one strict limiter per command name (one call per
// cooldown) with a shared general limiter keyed per user across all commands.
type CommandLimiter struct {
	cfg     CommandConfig
	general *Limiter

	mu         sync.Mutex
	perCommand map[string]*Limiter
}

// NewCommandLimiter creates a command limiter from cfg.
func NewCommandLimiter(cfg CommandConfig) *CommandLimiter {
	return &CommandLimiter{
		cfg:        cfg,
		general:    NewLimiter(cfg.GeneralBucketSize, cfg.GeneralWindow, cfg.Enabled),
		perCommand: make(map[string]*Limiter),
	}
}

// IsUserAllowed checks the shared general limit for a user.
func (c *CommandLimiter) IsUserAllowed(userID int64) (bool, float64) {
	return c.general.IsAllowed(userKey(userID))
}

// IsCommandAllowed checks the command-specific cooldown for a user.
func (c *CommandLimiter) IsCommandAllowed(userID int64, command string) (bool, float64) {
	return c.limiterFor(command).IsAllowed(commandKey(userID, command))
}

// UserInfo returns bucket snapshots for a user: the general bucket plus every
// command bucket instantiated so far.
func (c *CommandLimiter) UserInfo(userID int64) map[string]BucketInfo {
	info := map[string]BucketInfo{
		"general": c.general.Info(userKey(userID)),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for command, limiter := range c.perCommand {
		info[command] = limiter.Info(commandKey(userID, command))
	}
	return info
}

func (c *CommandLimiter) limiterFor(command string) *Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	limiter, ok := c.perCommand[command]
	if !ok {
		limiter = NewLimiter(1, c.cfg.CooldownFor(command), c.cfg.Enabled)
		c.perCommand[command] = limiter
	}
	return limiter
}

func userKey(userID int64) string {
	return fmt.Sprintf("user:%d:general", userID)
}

func commandKey(userID int64, command string) string {
	return fmt.Sprintf("user:%d:command:%s", userID, command)
}
