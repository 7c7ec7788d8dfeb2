package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"govfund/feedback/internal/app"
	"govfund/feedback/internal/backend"
	"govfund/feedback/internal/config"
	"govfund/feedback/internal/logger"
	"govfund/feedback/internal/search"
	"govfund/feedback/internal/store"
	"govfund/feedback/internal/telemetry"
)

func main() {
	cfg := config.Load("api")
	ctx := context.Background()

	tel, err := telemetry.Setup(ctx, cfg.OTel)
	if err != nil {
		slog.ErrorContext(ctx, "telemetry setup failed", "error", err)
		os.Exit(1)
	}
	logger.Setup(cfg)
	if err := cfg.Validate(); err != nil {
		slog.ErrorContext(ctx, "invalid configuration", "error", err)
		os.Exit(1)
	}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.ErrorContext(ctx, "database connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		slog.ErrorContext(ctx, "migrations failed", "error", err)
		os.Exit(1)
	}

	stores, err := backend.Open(ctx, cfg)
	if err != nil {
		slog.ErrorContext(ctx, "feedback store connection failed", "backend", cfg.FeedbackBackend, "error", err)
		os.Exit(1)
	}
	defer stores.Close(context.Background())

	dataStore := store.NewPostgresStore(db)
	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)

	engine, err := backend.NewEngine(ctx, cfg, dataStore, stores, searchService)
	if err != nil {
		slog.ErrorContext(ctx, "insights engine setup failed", "error", err)
		os.Exit(1)
	}

	service := app.NewService(cfg, dataStore, stores.Queue, engine, searchService)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "feedback api listening", "addr", cfg.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(ctx, "shutdown error", "error", err)
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(ctx, "telemetry shutdown error", "error", err)
	}
}
