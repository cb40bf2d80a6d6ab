package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/anthropics/feishu-notes-bot/feishu"
	"github.com/anthropics/feishu-notes-bot/internal/api"
	"github.com/anthropics/feishu-notes-bot/internal/biz/repo"
	"github.com/anthropics/feishu-notes-bot/internal/biz/usecase"
	"github.com/anthropics/feishu-notes-bot/internal/conf"
	"github.com/anthropics/feishu-notes-bot/internal/data"
	"github.com/anthropics/feishu-notes-bot/internal/ratelimit"
	"github.com/anthropics/feishu-notes-bot/internal/security"
	"github.com/anthropics/feishu-notes-bot/internal/server"
	"github.com/anthropics/feishu-notes-bot/internal/service"
	"github.com/anthropics/feishu-notes-bot/llm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := conf.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	timezone, err := time.LoadLocation(cfg.Reminder.Timezone)
	if err != nil {
		log.Fatalf("Invalid REMINDER_TIMEZONE %q: %v", cfg.Reminder.Timezone, err)
	}

	db, err := data.OpenDB(cfg.Notes.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	noteRepo := data.NewNoteRepo(db)
	reminderRepo := data.NewReminderRepo(db)

	// Classifier: keyword pass always runs, LLM only with a key.
	var classifier repo.Classifier
	if cfg.LLM.APIKey != "" {
		classifier = data.NewLLMClassifier(llm.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model))
		fmt.Println("[Main] LLM classification enabled")
	}
	classifyUC := usecase.NewClassifyUsecase(classifier)
	notesUC := usecase.NewNotesUsecase(noteRepo, classifyUC, cfg.Notes.PerPage)

	feishuClient := feishu.NewClient(cfg.Feishu.AppID, cfg.Feishu.AppSecret)
	sink := data.NewFeishuSink(feishuClient)

	scheduler := service.NewReminderScheduler(
		noteRepo,
		reminderRepo,
		sink,
		cfg.Reminder.MaxPerUser,
		time.Duration(cfg.Reminder.MisfireGrace)*time.Second,
	)
	if cfg.Reminder.Rehydrate {
		if err := scheduler.Rehydrate(context.Background()); err != nil {
			fmt.Printf("[Main] Rehydration failed: %v\n", err)
		}
	}

	manager := security.NewManager(cfg.Security.AllowedChats, cfg.Security.BlockedUserIDs())
	limiter := ratelimit.NewCommandLimiter(ratelimit.CommandConfig{
		Enabled:           cfg.RateLimit.Enabled,
		GeneralBucketSize: cfg.RateLimit.BucketSize,
		GeneralWindow:     time.Duration(cfg.RateLimit.Window) * time.Second,
		CooldownFor: func(command string) time.Duration {
			return time.Duration(cfg.RateLimit.CooldownFor(command)) * time.Second
		},
	})
	middleware := security.NewMiddleware(manager, limiter)

	bot := service.NewBotService(notesUC, scheduler, middleware, sink, timezone, cfg.Notes.MaxPreviewLength)
	srv := server.NewFeishuServer(feishuClient, bot)

	apiServer := api.NewServer(scheduler, middleware, notesUC, bot.Stats(), cfg.APIPort)
	go func() {
		if err := apiServer.Start(); err != nil {
			fmt.Printf("[Main] API server stopped: %v\n", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		srv.Stop()
		scheduler.Stop()
		if err := apiServer.Stop(); err != nil {
			fmt.Printf("[Main] API shutdown error: %v\n", err)
		}
		os.Exit(0)
	}()

	fmt.Println("Starting Feishu Notes Bot...")
	if err := srv.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
