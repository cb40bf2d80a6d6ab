package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/feishu-notes-bot/internal/biz/domain"
	"github.com/anthropics/feishu-notes-bot/internal/biz/repo"
	"github.com/anthropics/feishu-notes-bot/internal/biz/usecase"
	boterrors "github.com/anthropics/feishu-notes-bot/internal/errors"
	"github.com/anthropics/feishu-notes-bot/internal/security"
	"github.com/anthropics/feishu-notes-bot/internal/timeparse"
)

// OpStats accumulates per-operation latency counters.
type OpStats struct {
	mu    sync.Mutex
	stats map[string]*OpStat
}

// OpStat is the accumulated timing for one operation.
type OpStat struct {
	Count   int64   `json:"count"`
	TotalMs float64 `json:"total_ms"`
	MaxMs   float64 `json:"max_ms"`
}

func NewOpStats() *OpStats {
	return &OpStats{stats: make(map[string]*OpStat)}
}

// startTimer begins timing an operation; the returned func records it.
func (s *OpStats) startTimer(op string) func() {
	start := time.Now()
	return func() {
		elapsed := float64(time.Since(start).Microseconds()) / 1000
		s.mu.Lock()
		stat, ok := s.stats[op]
		if !ok {
			stat = &OpStat{}
			s.stats[op] = stat
		}
		stat.Count++
		stat.TotalMs += elapsed
		if elapsed > stat.MaxMs {
			stat.MaxMs = elapsed
		}
		s.mu.Unlock()
	}
}

// Snapshot copies the accumulated timings.
func (s *OpStats) Snapshot() map[string]OpStat {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]OpStat, len(s.stats))
	for op, stat := range s.stats {
		out[op] = *stat
	}
	return out
}

// BotService parses incoming chat messages into commands and replies
// through the message sink. Every command passes security middleware
// before its handler runs.
type BotService struct {
	notes      *usecase.NotesUsecase
	scheduler  *ReminderScheduler
	middleware *security.Middleware
	sink       repo.MessageSink
	timezone   *time.Location
	maxPreview int
	stats      *OpStats
	now        func() time.Time
}

func NewBotService(notes *usecase.NotesUsecase, scheduler *ReminderScheduler, middleware *security.Middleware, sink repo.MessageSink, timezone *time.Location, maxPreview int) *BotService {
	if timezone == nil {
		timezone = time.UTC
	}
	return &BotService{
		notes:      notes,
		scheduler:  scheduler,
		middleware: middleware,
		sink:       sink,
		timezone:   timezone,
		maxPreview: maxPreview,
		stats:      NewOpStats(),
		now:        time.Now,
	}
}

// Stats exposes the operation timings for the debug surfaces.
func (b *BotService) Stats() *OpStats { return b.stats }

// HandleMessage processes one incoming chat message.
func (b *BotService) HandleMessage(ctx context.Context, actor security.Actor, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if !strings.HasPrefix(text, "/") {
		// Plain text in a private chat gets a nudge; groups stay quiet.
		if !actor.IsGroup {
			b.reply(ctx, actor, "Use /help to see what I can do.")
		}
		return
	}

	command, args := splitCommand(text)

	if ok, msg := b.middleware.CheckPermissions(actor); !ok {
		fmt.Printf("[Bot] Denied %s for user %d: %s\n", command, actor.UserID, msg)
		b.reply(ctx, actor, msg)
		return
	}
	if ok, retry := b.middleware.CheckRateLimits(actor, command); !ok {
		b.reply(ctx, actor, fmt.Sprintf("⏳ Too many requests. Try again in %.0f seconds.", retry))
		return
	}

	defer b.stats.startTimer("command_" + command)()

	response, success := b.dispatch(ctx, actor, command, args)
	b.middleware.RecordCommandUsage(actor, command, success)
	if response != "" {
		b.reply(ctx, actor, response)
	}
}

func splitCommand(text string) (string, string) {
	body := strings.TrimPrefix(text, "/")
	parts := strings.SplitN(body, " ", 2)
	command := strings.ToLower(parts[0])
	args := ""
	if len(parts) == 2 {
		args = strings.TrimSpace(parts[1])
	}
	return command, args
}

func (b *BotService) dispatch(ctx context.Context, actor security.Actor, command, args string) (string, bool) {
	switch command {
	case "start":
		return b.handleStart(), true
	case "help":
		return b.handleHelp(), true
	case "add":
		return b.handleAdd(ctx, actor, args)
	case "list":
		return b.handleList(ctx, actor, args)
	case "delete":
		return b.handleDelete(ctx, actor, args)
	case "search":
		return b.handleSearch(ctx, actor, args)
	case "remind":
		return b.handleRemind(ctx, actor, args)
	case "reminders":
		return b.handleReminders(actor), true
	case "cancel":
		return b.handleCancel(ctx, actor, args)
	case "debug":
		return b.handleDebug(actor), true
	default:
		return fmt.Sprintf("❌ Unknown command /%s. Use /help to see available commands.", command), false
	}
}

func (b *BotService) reply(ctx context.Context, actor security.Actor, text string) {
	if err := b.sink.SendText(ctx, actor.ChatID, text); err != nil {
		fmt.Printf("[Bot] Reply to %s failed: %v\n", actor.ChatID, err)
	}
}

func (b *BotService) handleStart() string {
	return "🎉 Welcome to the Notes Bot!\n\n" +
		"I can help you organize your thoughts with smart categorization.\n\n" +
		"Use /help to see all available commands."
}

func (b *BotService) handleHelp() string {
	return "📝 Notes Bot Commands\n\n" +
		"Add a note:\n" +
		"/add <note text> - Add a new note with automatic categorization\n\n" +
		"List notes:\n" +
		"/list - Show your notes\n" +
		"/list <category> - Show notes from a category (task, idea, quote, other)\n" +
		"/list <category> <page> - Page through a category\n\n" +
		"Delete a note:\n" +
		"/delete <note_id> - Delete a note by its ID\n\n" +
		"Search notes:\n" +
		"/search <keyword> - Find notes containing a keyword\n\n" +
		"Reminders:\n" +
		"/remind <note_id> <time> - Set a reminder for a note\n" +
		"/reminders - List your scheduled reminders\n" +
		"/cancel <note_id|all> - Cancel reminders\n" +
		"Time formats: 'in 30 minutes', '2:30pm', '14:30', '2025-01-15', 'tomorrow'\n\n" +
		"Examples:\n" +
		"• /add Buy groceries tomorrow\n" +
		"• /list task\n" +
		"• /delete 5\n" +
		"• /search meeting\n" +
		"• /remind 5 in 2 hours"
}

func (b *BotService) handleAdd(ctx context.Context, actor security.Actor, args string) (string, bool) {
	if args == "" {
		return "❌ Please provide a note text.\nUsage: /add <note text>", false
	}

	note, err := b.notes.AddNote(ctx, actor.UserID, args)
	if err != nil {
		return b.errorReply(err, "adding your note"), false
	}

	return fmt.Sprintf("✅ Note added successfully!\n\nID: %d\nCategory: %s\nText: %s",
		note.ID, note.Category, note.Preview(b.maxPreview)), true
}

func (b *BotService) handleList(ctx context.Context, actor security.Actor, args string) (string, bool) {
	category := ""
	page := 1
	if args != "" {
		fields := strings.Fields(args)
		category = strings.ToLower(fields[0])
		if len(fields) > 1 {
			if n, err := strconv.Atoi(fields[1]); err == nil && n > 0 {
				page = n
			}
		}
	}

	result, err := b.notes.ListNotes(ctx, actor.UserID, category, page)
	if err != nil {
		return b.errorReply(err, "retrieving your notes"), false
	}

	if len(result.Notes) == 0 {
		if category != "" {
			return fmt.Sprintf("📝 No notes found in category '%s'.", category), true
		}
		return "📝 You don't have any notes yet.\n\nUse /add <note text> to create your first note!", true
	}

	var sb strings.Builder
	if category != "" {
		fmt.Fprintf(&sb, "📝 Your notes in category '%s' (%d total):\n\n", category, result.Total)
	} else {
		fmt.Fprintf(&sb, "📝 Your notes (%d total):\n\n", result.Total)
	}
	for _, note := range result.Notes {
		fmt.Fprintf(&sb, "ID: %d | %s\nTime: %s\nText: %s\n\n",
			note.ID, strings.ToUpper(note.Category),
			note.CreatedAt.In(b.timezone).Format("2006-01-02 15:04"),
			note.Preview(b.maxPreview))
	}
	if result.TotalPages > 1 {
		fmt.Fprintf(&sb, "Page %d/%d", result.Page, result.TotalPages)
	}
	return strings.TrimRight(sb.String(), "\n"), true
}

func (b *BotService) handleDelete(ctx context.Context, actor security.Actor, args string) (string, bool) {
	noteID, err := parseID(args)
	if err != nil {
		return "❌ Invalid note ID. Please provide a valid number.\nUsage: /delete <note_id>", false
	}

	if err := b.notes.DeleteNote(ctx, actor.UserID, noteID); err != nil {
		if boterrors.Is(err, boterrors.CodeNotFound) {
			return fmt.Sprintf("❌ Note with ID %d not found or you don't have permission to delete it.", noteID), false
		}
		return b.errorReply(err, "deleting the note"), false
	}

	// Pending reminders for a deleted note still fire with the snapshot,
	// so drop them together with the note.
	if n := b.scheduler.CancelReminder(ctx, actor.UserID, noteID); n > 0 {
		return fmt.Sprintf("✅ Note with ID %d has been deleted along with %d reminder(s).", noteID, n), true
	}
	return fmt.Sprintf("✅ Note with ID %d has been deleted.", noteID), true
}

func (b *BotService) handleSearch(ctx context.Context, actor security.Actor, args string) (string, bool) {
	if args == "" {
		return "❌ Please provide a search keyword.\nUsage: /search <keyword>", false
	}

	notes, err := b.notes.SearchNotes(ctx, actor.UserID, args)
	if err != nil {
		return b.errorReply(err, "searching your notes"), false
	}
	if len(notes) == 0 {
		return fmt.Sprintf("🔍 No notes found containing '%s'.", args), true
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🔍 Search results for '%s' (%d found):\n\n", args, len(notes))
	for _, note := range notes {
		fmt.Fprintf(&sb, "ID: %d | %s\nTime: %s\nText: %s\n\n",
			note.ID, strings.ToUpper(note.Category),
			note.CreatedAt.In(b.timezone).Format("2006-01-02 15:04"),
			note.Preview(b.maxPreview))
	}
	return strings.TrimRight(sb.String(), "\n"), true
}

func (b *BotService) handleRemind(ctx context.Context, actor security.Actor, args string) (string, bool) {
	fields := strings.SplitN(args, " ", 2)
	if len(fields) < 2 {
		return "❌ Usage: /remind <note_id> <time>\nExample: /remind 5 in 2 hours", false
	}
	noteID, err := parseID(fields[0])
	if err != nil {
		return "❌ Invalid note ID. Please provide a valid number.", false
	}
	timeExpr := strings.TrimSpace(fields[1])

	now := b.now().In(b.timezone)
	fireAt, ok := timeparse.Parse(timeExpr, now)
	if !ok {
		return fmt.Sprintf("❌ Could not understand the time '%s'.\n"+
			"Try: 'in 30 minutes', '2:30pm', '14:30', '2025-01-15', 'tomorrow'", timeExpr), false
	}
	if !fireAt.After(now) {
		return "❌ The reminder time is in the past. Please pick a future time.", false
	}

	job, err := b.scheduler.Schedule(ctx, actor.UserID, noteID, actor.ChatID, fireAt)
	if err != nil {
		switch {
		case boterrors.Is(err, boterrors.CodeNotFound):
			return fmt.Sprintf("❌ Note with ID %d not found or you don't have permission to set a reminder for it.", noteID), false
		case boterrors.Is(err, boterrors.CodeCapacityExceeded):
			return fmt.Sprintf("❌ %s Cancel one with /cancel first.", botErrorMessage(err)), false
		}
		return b.errorReply(err, "setting your reminder"), false
	}

	return fmt.Sprintf("⏰ Reminder set for note ID %d at %s",
		job.NoteID, job.FireAt.In(b.timezone).Format("2006-01-02 15:04:05")), true
}

func (b *BotService) handleReminders(actor security.Actor) string {
	jobs := b.scheduler.GetUserReminders(actor.UserID)
	if len(jobs) == 0 {
		return "⏰ You don't have any scheduled reminders."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "⏰ Your reminders (%d scheduled):\n\n", len(jobs))
	for _, job := range jobs {
		fmt.Fprintf(&sb, "Note ID: %d\nTime: %s\nText: %s\n\n",
			job.NoteID, job.FireAt.In(b.timezone).Format("2006-01-02 15:04:05"),
			domain.Snapshot(job.NoteText))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *BotService) handleCancel(ctx context.Context, actor security.Actor, args string) (string, bool) {
	if args == "" {
		return "❌ Usage: /cancel <note_id> or /cancel all", false
	}
	if strings.EqualFold(args, "all") {
		n := b.scheduler.CancelUserReminders(ctx, actor.UserID)
		if n == 0 {
			return "⏰ You don't have any scheduled reminders.", true
		}
		return fmt.Sprintf("✅ Canceled %d reminder(s).", n), true
	}

	noteID, err := parseID(args)
	if err != nil {
		return "❌ Invalid note ID. Please provide a valid number or 'all'.", false
	}
	n := b.scheduler.CancelReminder(ctx, actor.UserID, noteID)
	if n == 0 {
		return fmt.Sprintf("❌ No reminders found for note ID %d.", noteID), false
	}
	return fmt.Sprintf("✅ Canceled %d reminder(s) for note ID %d.", n, noteID), true
}

func (b *BotService) handleDebug(actor security.Actor) string {
	stats := b.scheduler.Stats()
	info := b.middleware.UserInfo(actor.UserID)

	var sb strings.Builder
	fmt.Fprintf(&sb, "🔧 Debug info\n\nYour user ID: %d\n\nScheduler:\n", actor.UserID)
	fmt.Fprintf(&sb, "  active jobs: %d\n  users with reminders: %d\n  fired: %d\n  skipped: %d\n  canceled: %d\n  delivery errors: %d\n",
		stats.ActiveJobs, stats.UsersWithReminders, stats.Fired, stats.Skipped, stats.Canceled, stats.DeliveryErrors)

	sb.WriteString("\nRate limits:\n")
	var keys []string
	for key := range info.RateLimits {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		bucket := info.RateLimits[key]
		fmt.Fprintf(&sb, "  %s: %d/%d used\n", key, bucket.CurrentRequests, bucket.MaxRequests)
	}

	sb.WriteString("\nCommand timings:\n")
	timings := b.stats.Snapshot()
	var ops []string
	for op := range timings {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	for _, op := range ops {
		stat := timings[op]
		fmt.Fprintf(&sb, "  %s: %d calls, avg %.1fms, max %.1fms\n",
			op, stat.Count, stat.TotalMs/float64(stat.Count), stat.MaxMs)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// errorReply maps an error to a user-facing message. Tagged errors show
// their message; infrastructure faults get a generic apology.
func (b *BotService) errorReply(err error, doing string) string {
	if msg := botErrorMessage(err); msg != "" {
		return "❌ " + msg
	}
	fmt.Printf("[Bot] Error %s: %v\n", doing, err)
	return fmt.Sprintf("❌ Sorry, there was an error %s. Please try again.", doing)
}

func botErrorMessage(err error) string {
	if bErr, ok := err.(*boterrors.BotError); ok && bErr.Code != boterrors.CodeInternal {
		return bErr.Message
	}
	return ""
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
