package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"tg_forwarder/internal/ai"
	"tg_forwarder/internal/bot"
	"tg_forwarder/internal/chatinfo"
	"tg_forwarder/internal/config"
	"tg_forwarder/internal/dispatcher"
	"tg_forwarder/internal/pipeline"
	"tg_forwarder/internal/push"
	"tg_forwarder/internal/rss"
	"tg_forwarder/internal/rulesync"
	"tg_forwarder/internal/state"
	"tg_forwarder/internal/storage"
	"tg_forwarder/internal/summary"
	"tg_forwarder/internal/telegram"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	for _, dir := range []string{filepath.Dir(cfg.DatabasePath), cfg.TempPath, cfg.RSSDataPath, cfg.RSSMediaPath} {
		if dir == "." || dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	botClient, err := telegram.NewBot(cfg.TelegramBotToken)
	if err != nil {
		log.Error("create telegram client", "error", err)
		os.Exit(1)
	}
	io := &telegram.IO{Bot: botClient}

	registry, err := newAIRegistry(context.Background(), cfg)
	if err != nil {
		log.Error("create ai providers", "error", err)
		os.Exit(1)
	}

	entries := rss.NewStore(cfg.RSSDataPath, cfg.RSSMediaPath, log)

	pipe := pipeline.New(io, registry, push.NewSender(log), entries, pipeline.Config{
		TempDir:         cfg.TempPath,
		Timezone:        cfg.Location(),
		DefaultAIModel:  cfg.DefaultAIModel,
		DefaultAIPrompt: cfg.DefaultAIPrompt,
		RSSMediaBaseURL: cfg.RSSMediaBaseURL,
	}, log)

	dispatch := dispatcher.New(store, pipe, log)

	scheduler := summary.New(store, io, registry, summary.Config{
		Timezone:      cfg.Location(),
		DefaultModel:  cfg.DefaultAIModel,
		DefaultPrompt: cfg.DefaultSummaryPrompt,
		DefaultTime:   cfg.DefaultSummaryTime,
		BatchSize:     cfg.SummaryBatchSize,
		BatchDelay:    cfg.SummaryBatchDelay,
	}, log)

	synchronizer := rulesync.New(store, scheduler, log)
	states := state.NewManager()

	b, err := bot.New(cfg.TelegramBotToken, store, cfg, synchronizer, scheduler, states, dispatch, entries, io, log)
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting", "project", cfg.ProjectName)

	go states.Run(ctx)
	go func() {
		if err := scheduler.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("summary scheduler stopped", "error", err)
		}
	}()

	if io.User != nil {
		refresher := chatinfo.New(store, io.User, cfg.ChatUpdateTime, cfg.Location(), log)
		go func() {
			if err := refresher.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error("chat refresher stopped", "error", err)
			}
		}()
	}

	if cfg.RSSEnabled {
		server := rss.NewServer(entries, store, cfg.RSSBaseURL, cfg.RSSMediaBaseURL, log)
		addr := fmt.Sprintf("%s:%d", cfg.RSSHost, cfg.RSSPort)
		go func() {
			if err := server.Run(ctx, addr); err != nil && ctx.Err() == nil {
				log.Error("rss server stopped", "error", err)
			}
		}()
	}

	b.Run(ctx)

	log.Info("stopped")
}

// newAIRegistry wires the configured providers, routing model names by
// prefix with OpenAI as the fallback.
func newAIRegistry(ctx context.Context, cfg *config.Config) (*ai.Registry, error) {
	openai := ai.NewOpenAI(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, nil)
	registry := ai.NewRegistry(openai)
	registry.Register("gpt", openai)
	registry.Register("o1", openai)
	registry.Register("claude", ai.NewClaude(cfg.AnthropicAPIKey, nil))
	if cfg.GeminiAPIKey != "" {
		gemini, err := ai.NewGemini(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("create gemini provider: %w", err)
		}
		registry.Register("gemini", gemini)
	}
	return registry, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
