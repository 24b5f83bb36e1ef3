package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dvloznov/finance-agent/internal/api"
	"github.com/dvloznov/finance-agent/internal/app"
	"github.com/dvloznov/finance-agent/internal/config"
	"github.com/dvloznov/finance-agent/internal/logger"
	"github.com/dvloznov/finance-agent/internal/watcher"
)

func main() {
	// Parse command-line flags
	var (
		port     = flag.Int("port", 0, "HTTP server port (overrides PORT)")
		watchDir = flag.String("watch", "", "Folder of reference documents to keep indexed (overrides RAG_WATCH_DIR)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.New().Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *port != 0 {
		cfg.App.Port = *port
	}
	if *watchDir != "" {
		cfg.RAG.WatchDir = *watchDir
	}

	log := logger.NewFromConfig(cfg.App.LogLevel, cfg.App.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build application")
	}
	provider, model := svc.LLMInfo()
	log.Info().
		Str("provider", provider).
		Str("model", model).
		Str("store", cfg.Store.Backend).
		Bool("rag_enabled", svc.RAGEnabled()).
		Msg("Application ready")

	// Keep the reference folder indexed in the background
	watchDone := make(chan struct{})
	if cfg.RAG.WatchDir != "" && svc.RAGEnabled() {
		w, err := watcher.New(svc.Retrieval(), svc.Extractor(), nil, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create folder watcher")
		}
		go func() {
			defer close(watchDone)
			defer w.Close()
			log.Info().Str("dir", cfg.RAG.WatchDir).Msg("Watching reference folder")
			if err := w.Run(ctx, cfg.RAG.WatchDir); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Folder watcher stopped with error")
			}
		}()
	} else {
		if cfg.RAG.WatchDir != "" {
			log.Warn().Msg("RAG_WATCH_DIR is set but retrieval is disabled, folder will not be watched")
		}
		close(watchDone)
	}

	// Create HTTP server
	addr := ":" + strconv.Itoa(cfg.App.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      api.NewRouter(svc, cfg.LLM, cfg.App.CORSOrigins, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.LLM.Timeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Failed to start server")
			stop()
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	<-watchDone

	// Stop job queue and release backends
	if err := svc.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing application")
		os.Exit(1)
	}

	log.Info().Msg("Server exited")
}
