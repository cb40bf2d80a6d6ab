package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/anthropics/feishu-notes-bot/internal/biz/repo"
	"github.com/anthropics/feishu-notes-bot/internal/biz/usecase"
	"github.com/anthropics/feishu-notes-bot/internal/conf"
	"github.com/anthropics/feishu-notes-bot/internal/data"
	"github.com/anthropics/feishu-notes-bot/llm"
	"github.com/anthropics/feishu-notes-bot/mcpserver"
)

// Standalone MCP server over the note store. It speaks MCP on stdio and
// shares the database with the bot, so keep usage read-mostly while the
// bot is running.

func main() {
	_ = godotenv.Load()

	cfg := conf.LoadFromEnv()

	userID := int64(0)
	if raw := os.Getenv("NOTES_MCP_USER_ID"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			log.Fatalf("Invalid NOTES_MCP_USER_ID %q: %v", raw, err)
		}
		userID = parsed
	}
	if userID == 0 {
		log.Fatal("NOTES_MCP_USER_ID is required")
	}

	db, err := data.OpenDB(cfg.Notes.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	var classifier repo.Classifier
	if cfg.LLM.APIKey != "" {
		classifier = data.NewLLMClassifier(llm.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model))
	}
	notesUC := usecase.NewNotesUsecase(data.NewNoteRepo(db), usecase.NewClassifyUsecase(classifier), cfg.Notes.PerPage)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	server := mcpserver.NewServer(notesUC, nil, userID)
	if err := server.Run(ctx); err != nil {
		log.Fatalf("MCP server error: %v", err)
	}
}
