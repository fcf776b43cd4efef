package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chatdouble/chatdouble/internal/api"
	"github.com/chatdouble/chatdouble/internal/auth"
	"github.com/chatdouble/chatdouble/internal/config"
	"github.com/chatdouble/chatdouble/internal/core"
	"github.com/chatdouble/chatdouble/internal/index"
	"github.com/chatdouble/chatdouble/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	dbStore, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbStore.Close()

	// Without an API key the service still runs: every reply reports the
	// backend as not configured instead of calling out.
	var backend core.Backend
	var encoder index.Encoder
	if cfg.GeminiAPIKey != "" {
		gemini, err := core.NewGeminiBackend(context.Background(), cfg.GeminiAPIKey)
		if err != nil {
			logger.Error("failed to create GenAI client", "error", err)
			os.Exit(1)
		}
		defer gemini.Close()
		backend = gemini
		encoder = gemini
	}

	generator := core.NewReplyGenerator(backend, logger)
	summarizer := core.NewPersonaSummarizer(backend, logger)
	orchestrator := core.NewOrchestrator(dbStore, generator, summarizer, encoder, logger)

	tokens := auth.NewTokenIssuer(cfg.JWTSecret)
	apiHandler := api.NewAPIHandler(orchestrator, dbStore, tokens, logger)
	router := api.NewRouter(apiHandler)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // streamed generations can run long
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("starting server", "addr", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited gracefully")
}
