package conf

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ValidCategories are the note categories the classifier may assign.
var ValidCategories = []string{"task", "idea", "quote", "other"}

// IsValidCategory reports whether name is a known note category.
func IsValidCategory(name string) bool {
	for _, c := range ValidCategories {
		if c == name {
			return true
		}
	}
	return false
}

// Config represents application configuration
type Config struct {
	// Feishu configuration
	Feishu FeishuConfig

	// LLM classifier configuration (optional)
	LLM LLMConfig

	// Notes storage and display
	Notes NotesConfig

	// Reminder scheduling
	Reminder ReminderConfig

	// Rate limiting and security
	RateLimit RateLimitConfig
	Security  SecurityConfig

	// Admin HTTP API port
	APIPort int

	// Debug mode
	Debug bool
}

// FeishuConfig contains Feishu credentials
type FeishuConfig struct {
	AppID     string
	AppSecret string
}

// LLMConfig contains the optional LLM classifier settings
type LLMConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// NotesConfig contains note storage and display settings
type NotesConfig struct {
	DBPath           string
	PerPage          int
	MaxPreviewLength int
}

// ReminderConfig contains reminder scheduling settings
type ReminderConfig struct {
	Timezone     string
	MaxPerUser   int
	MisfireGrace int  // seconds
	Rehydrate    bool // re-schedule persisted future reminders at startup
}

// RateLimitConfig contains sliding-window rate limit settings
type RateLimitConfig struct {
	Enabled    bool
	BucketSize int
	Window     int            // seconds
	Cooldowns  map[string]int // per-command cooldown seconds
}

// SecurityConfig contains access-control lists
type SecurityConfig struct {
	AllowedChats []string
	BlockedUsers []string
}

// BlockedUserIDs parses the blocked-user list into numeric ids,
// skipping entries that are not numbers.
func (s *SecurityConfig) BlockedUserIDs() []int64 {
	var ids []int64
	for _, raw := range s.BlockedUsers {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// CooldownFor returns the cooldown for a command, with a 3s default.
func (c *RateLimitConfig) CooldownFor(command string) int {
	if cd, ok := c.Cooldowns[command]; ok {
		return cd
	}
	return 3
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	dbPath := os.Getenv("DATABASE_FILE")
	if dbPath == "" {
		homeDir, _ := os.UserHomeDir()
		dbPath = filepath.Join(homeDir, ".feishu-notes", "notes.db")
	}

	cooldowns := map[string]int{
		"add":       envInt("ADD_COOLDOWN", 5),
		"list":      envInt("LIST_COOLDOWN", 3),
		"delete":    envInt("DELETE_COOLDOWN", 3),
		"search":    envInt("SEARCH_COOLDOWN", 3),
		"remind":    envInt("REMIND_COOLDOWN", 5),
		"reminders": envInt("REMINDERS_COOLDOWN", 3),
		"cancel":    envInt("CANCEL_COOLDOWN", 3),
		"debug":     envInt("DEBUG_COOLDOWN", 10),
	}

	return &Config{
		Feishu: FeishuConfig{
			AppID:     os.Getenv("FEISHU_APP_ID"),
			AppSecret: os.Getenv("FEISHU_APP_SECRET"),
		},
		LLM: LLMConfig{
			APIKey:  os.Getenv("LLM_API_KEY"),
			BaseURL: os.Getenv("LLM_BASE_URL"),
			Model:   os.Getenv("LLM_MODEL"),
		},
		Notes: NotesConfig{
			DBPath:           dbPath,
			PerPage:          envInt("NOTES_PER_PAGE", 10),
			MaxPreviewLength: envInt("MAX_PREVIEW_LENGTH", 50),
		},
		Reminder: ReminderConfig{
			Timezone:     envString("REMINDER_TIMEZONE", "UTC"),
			MaxPerUser:   envInt("REMINDER_MAX_PER_USER", 10),
			MisfireGrace: envInt("REMINDER_MISFIRE_GRACE_SECONDS", 60),
			Rehydrate:    os.Getenv("REMINDER_REHYDRATE") == "true",
		},
		RateLimit: RateLimitConfig{
			Enabled:    envString("RATE_LIMIT_ENABLED", "true") == "true",
			BucketSize: envInt("RATE_LIMIT_BUCKET_SIZE", 10),
			Window:     envInt("RATE_LIMIT_WINDOW", 60),
			Cooldowns:  cooldowns,
		},
		Security: SecurityConfig{
			AllowedChats: envList("ALLOWED_CHATS"),
			BlockedUsers: envList("BLOCKED_USERS"),
		},
		APIPort: envInt("API_PORT", 9876),
		Debug:   os.Getenv("DEBUG") == "true",
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Feishu.AppID == "" || c.Feishu.AppSecret == "" {
		return &ConfigError{Field: "FEISHU_APP_ID/FEISHU_APP_SECRET", Message: "required"}
	}
	if c.Reminder.MaxPerUser <= 0 {
		return &ConfigError{Field: "REMINDER_MAX_PER_USER", Message: "must be positive"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}

func envString(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func envInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
