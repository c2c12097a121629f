package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pricewatch/game-price-bot/internal/ai"
	"github.com/pricewatch/game-price-bot/internal/api"
	"github.com/pricewatch/game-price-bot/internal/config"
	"github.com/pricewatch/game-price-bot/internal/engine"
	"github.com/pricewatch/game-price-bot/internal/notifier"
	"github.com/pricewatch/game-price-bot/internal/scheduler"
	"github.com/pricewatch/game-price-bot/internal/scraper"
	"github.com/pricewatch/game-price-bot/internal/storage"
)

const geminiModel = "gemini-2.0-flash"

func main() {
	slog.Info("Starting game price tracker...")
	_ = godotenv.Load() // .env is optional; real deployments set env directly

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Critical error loading configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	store, err := storage.New(ctx, cfg.ProjectID)
	if err != nil {
		slog.Error("Critical error initializing Firestore client", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	titles, err := ai.NewClient(ctx, cfg.GeminiAPIKey, geminiModel)
	if err != nil {
		slog.Warn("Gemini title cleanup disabled", "error", err)
	}

	registry := scraper.NewRegistry(cfg, scraper.LoadSelectors())
	n := notifier.New(cfg.DiscordBotToken).WithTitleCleaner(titles)
	eng := engine.New(store, store, n, registry, cfg)

	// Daily sweep trigger runs alongside the HTTP server; either can kick
	// off a sweep, the engine's overlap guard keeps them from racing.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Run(ctx, eng, cfg.NotificationHour, cfg.NotificationMinute)
	}()

	srv := api.NewServer(eng, store, store, registry)
	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("Shutdown signal received, stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
	}()

	slog.Info("Listening on port", "port", cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("Failed to listen and serve", "error", err)
		os.Exit(1)
	}

	wg.Wait()
	slog.Info("Server stopped.")
}
