package mcpserver

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anthropics/feishu-notes-bot/internal/biz/usecase"
	"github.com/anthropics/feishu-notes-bot/internal/service"
)

// NotesMCPServer exposes the note store as MCP tools over stdio, so an
// agent can work with the same notes the chat bot manages.
type NotesMCPServer struct {
	server    *mcp.Server
	notes     *usecase.NotesUsecase
	scheduler *service.ReminderScheduler
	userID    int64
}

// NewServer creates a notes MCP server. All tool calls act on behalf of
// the given user id.
func NewServer(notes *usecase.NotesUsecase, scheduler *service.ReminderScheduler, userID int64) *NotesMCPServer {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "notes-tools",
		Version: "v1.0.0",
	}, nil)

	s := &NotesMCPServer{
		server:    server,
		notes:     notes,
		scheduler: scheduler,
		userID:    userID,
	}
	s.registerTools()
	return s
}

// Run serves MCP over stdio until the context is canceled.
func (s *NotesMCPServer) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func (s *NotesMCPServer) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "note_add",
		Description: "Add a note. The note is categorized automatically (task, idea, quote or other).",
	}, s.handleNoteAdd)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "note_list",
		Description: "List notes, optionally filtered by category (task, idea, quote, other). Paginated.",
	}, s.handleNoteList)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "note_search",
		Description: "Find notes containing a keyword.",
	}, s.handleNoteSearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "note_delete",
		Description: "Delete a note by its id.",
	}, s.handleNoteDelete)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "reminders_list",
		Description: "List pending reminders, sorted by fire time.",
	}, s.handleRemindersList)
}

// NoteInfo is the tool-facing note representation.
type NoteInfo struct {
	ID        int64  `json:"id"`
	Text      string `json:"text"`
	Category  string `json:"category"`
	CreatedAt string `json:"created_at"`
}

// NoteAddInput is the input for the note_add tool.
type NoteAddInput struct {
	Text string `json:"text" jsonschema:"description=The note text to store"`
}

// NoteAddOutput is the output for the note_add tool.
type NoteAddOutput struct {
	Note  *NoteInfo `json:"note,omitempty"`
	Error string    `json:"error,omitempty"`
}

func (s *NotesMCPServer) handleNoteAdd(ctx context.Context, req *mcp.CallToolRequest, input NoteAddInput) (*mcp.CallToolResult, NoteAddOutput, error) {
	note, err := s.notes.AddNote(ctx, s.userID, input.Text)
	if err != nil {
		return nil, NoteAddOutput{Error: err.Error()}, nil
	}
	return nil, NoteAddOutput{Note: &NoteInfo{
		ID:        note.ID,
		Text:      note.Text,
		Category:  note.Category,
		CreatedAt: note.CreatedAt.Format(time.RFC3339),
	}}, nil
}

// NoteListInput is the input for the note_list tool.
type NoteListInput struct {
	Category string `json:"category,omitempty" jsonschema:"description=Optional category filter: task, idea, quote or other"`
	Page     int    `json:"page,omitempty" jsonschema:"description=Page number, starting at 1"`
}

// NoteListOutput is the output for the note_list tool.
type NoteListOutput struct {
	Notes      []NoteInfo `json:"notes"`
	Total      int        `json:"total"`
	Page       int        `json:"page"`
	TotalPages int        `json:"total_pages"`
	Error      string     `json:"error,omitempty"`
}

func (s *NotesMCPServer) handleNoteList(ctx context.Context, req *mcp.CallToolRequest, input NoteListInput) (*mcp.CallToolResult, NoteListOutput, error) {
	page, err := s.notes.ListNotes(ctx, s.userID, input.Category, input.Page)
	if err != nil {
		return nil, NoteListOutput{Error: err.Error()}, nil
	}
	out := NoteListOutput{
		Notes:      make([]NoteInfo, 0, len(page.Notes)),
		Total:      page.Total,
		Page:       page.Page,
		TotalPages: page.TotalPages,
	}
	for _, note := range page.Notes {
		out.Notes = append(out.Notes, NoteInfo{
			ID:        note.ID,
			Text:      note.Text,
			Category:  note.Category,
			CreatedAt: note.CreatedAt.Format(time.RFC3339),
		})
	}
	return nil, out, nil
}

// NoteSearchInput is the input for the note_search tool.
type NoteSearchInput struct {
	Keyword string `json:"keyword" jsonschema:"description=Keyword to search for"`
}

// NoteSearchOutput is the output for the note_search tool.
type NoteSearchOutput struct {
	Notes []NoteInfo `json:"notes"`
	Error string     `json:"error,omitempty"`
}

func (s *NotesMCPServer) handleNoteSearch(ctx context.Context, req *mcp.CallToolRequest, input NoteSearchInput) (*mcp.CallToolResult, NoteSearchOutput, error) {
	notes, err := s.notes.SearchNotes(ctx, s.userID, input.Keyword)
	if err != nil {
		return nil, NoteSearchOutput{Error: err.Error()}, nil
	}
	out := NoteSearchOutput{Notes: make([]NoteInfo, 0, len(notes))}
	for _, note := range notes {
		out.Notes = append(out.Notes, NoteInfo{
			ID:        note.ID,
			Text:      note.Text,
			Category:  note.Category,
			CreatedAt: note.CreatedAt.Format(time.RFC3339),
		})
	}
	return nil, out, nil
}

// NoteDeleteInput is the input for the note_delete tool.
type NoteDeleteInput struct {
	NoteID int64 `json:"note_id" jsonschema:"description=The id of the note to delete"`
}

// NoteDeleteOutput is the output for the note_delete tool.
type NoteDeleteOutput struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (s *NotesMCPServer) handleNoteDelete(ctx context.Context, req *mcp.CallToolRequest, input NoteDeleteInput) (*mcp.CallToolResult, NoteDeleteOutput, error) {
	if err := s.notes.DeleteNote(ctx, s.userID, input.NoteID); err != nil {
		return nil, NoteDeleteOutput{Success: false, Error: err.Error()}, nil
	}
	if s.scheduler != nil {
		s.scheduler.CancelReminder(ctx, s.userID, input.NoteID)
	}
	return nil, NoteDeleteOutput{Success: true}, nil
}

// RemindersListInput is empty; the tool takes no arguments.
type RemindersListInput struct{}

// ReminderInfo is the tool-facing reminder representation.
type ReminderInfo struct {
	NoteID int64  `json:"note_id"`
	FireAt string `json:"fire_at"`
	Text   string `json:"text"`
}

// RemindersListOutput is the output for the reminders_list tool.
type RemindersListOutput struct {
	Reminders []ReminderInfo `json:"reminders"`
}

func (s *NotesMCPServer) handleRemindersList(ctx context.Context, req *mcp.CallToolRequest, input RemindersListInput) (*mcp.CallToolResult, RemindersListOutput, error) {
	out := RemindersListOutput{Reminders: []ReminderInfo{}}
	if s.scheduler == nil {
		return nil, out, nil
	}
	for _, job := range s.scheduler.GetUserReminders(s.userID) {
		out.Reminders = append(out.Reminders, ReminderInfo{
			NoteID: job.NoteID,
			FireAt: job.FireAt.Format(time.RFC3339),
			Text:   job.NoteText,
		})
	}
	return nil, out, nil
}
