package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"govfund/feedback/internal/backend"
	"govfund/feedback/internal/config"
	"govfund/feedback/internal/logger"
	"govfund/feedback/internal/search"
	"govfund/feedback/internal/store"
	"govfund/feedback/internal/telemetry"
)

const shutdownTimeout = 30 * time.Second

var rootCmd = &cobra.Command{
	Use:   "worker",
	Short: "Background workers for the citizen feedback pipeline",
	Long: `Background workers for the citizen feedback pipeline.

Available subcommands:
  sentiment - Score queued feedback and cache the result on each comment
  insights  - Recompute per-project insights snapshots`,
	SilenceUsage: true,
}

func main() {
	rootCmd.AddCommand(sentimentCmd, insightsCmd)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// deps holds the connections every subcommand needs.
type deps struct {
	cfg    config.Config
	db     *sql.DB
	stores *backend.Stores
	tel    *telemetry.Telemetry
	meili  *search.Meili
}

func connect(ctx context.Context, service string) (*deps, error) {
	cfg := config.Load(service)

	tel, err := telemetry.Setup(ctx, cfg.OTel)
	if err != nil {
		return nil, fmt.Errorf("telemetry setup: %w", err)
	}
	logger.Setup(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	stores, err := backend.Open(ctx, cfg)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect %s feedback store: %w", cfg.FeedbackBackend, err)
	}

	rt := &deps{cfg: cfg, db: db, stores: stores, tel: tel}
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		rt.meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	return rt, nil
}

func (r *deps) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if r.meili != nil {
		r.meili.Close()
	}
	if err := r.stores.Close(ctx); err != nil {
		slog.WarnContext(ctx, "feedback store close failed", "error", err)
	}
	if err := r.db.Close(); err != nil {
		slog.WarnContext(ctx, "database close failed", "error", err)
	}
	if err := r.tel.Shutdown(ctx); err != nil {
		slog.WarnContext(ctx, "telemetry shutdown failed", "error", err)
	}
}

// stopper is implemented by both long-running loops.
type stopper interface {
	Stop(ctx context.Context) error
}

func waitForSignal(ctx context.Context, name string, s stopper) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)
	<-quit

	slog.InfoContext(ctx, "shutting down", "worker", name)
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := s.Stop(shutdownCtx); err != nil {
		slog.WarnContext(ctx, "shutdown timeout exceeded", "worker", name, "error", err)
		return err
	}
	slog.InfoContext(ctx, "shutdown complete", "worker", name)
	return nil
}

// onceOnly rejects a flag that only makes sense for a single run.
func onceOnly(cmd *cobra.Command, once bool, flag string) error {
	if !once && cmd.Flags().Changed(flag) {
		return fmt.Errorf("--%s requires --once", flag)
	}
	return nil
}
