package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"govfund/feedback/internal/backend"
	"govfund/feedback/internal/insights"
	"govfund/feedback/internal/logger"
	"govfund/feedback/internal/search"
	"govfund/feedback/internal/store"
)

var (
	insightsOnce    bool
	insightsProject int64
)

var insightsCmd = &cobra.Command{
	Use:   "insights",
	Short: "Recompute project insights snapshots",
	Long: `Recompute the insights snapshot of every project that has comments,
every INSIGHTS_INTERVAL_MS.

With --once a single sweep runs and the command exits; --project limits
that run to one project.`,
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return onceOnly(cmd, insightsOnce, "project")
	},
	RunE: runInsights,
}

func init() {
	insightsCmd.Flags().BoolVar(&insightsOnce, "once", false, "run one computation and exit")
	insightsCmd.Flags().Int64Var(&insightsProject, "project", 0, "with --once, compute only this project")
}

func runInsights(cmd *cobra.Command, _ []string) error {
	ctx := logger.WithLogFields(cmd.Context(), logger.LogFields{Component: "worker.insights"})

	rt, err := connect(ctx, "worker")
	if err != nil {
		return err
	}
	defer rt.Close()

	comments := store.NewPostgresStore(rt.db)
	searchService := search.NewService(rt.meili, search.NewPgFTS(rt.db))
	engine, err := backend.NewEngine(ctx, rt.cfg, comments, rt.stores, searchService)
	if err != nil {
		return fmt.Errorf("insights engine: %w", err)
	}
	sweeper := insights.NewSweeper(comments, engine, rt.cfg.Insights.Interval, rt.cfg.Insights.Concurrency)

	if insightsOnce {
		if cmd.Flags().Changed("project") {
			doc, err := engine.ComputeInsights(ctx, insightsProject)
			if err != nil {
				return fmt.Errorf("compute project %d: %w", insightsProject, err)
			}
			slog.InfoContext(ctx, "insights computed",
				"project_id", doc.ProjectID,
				"total_comments", doc.TotalComments,
				"predominant", doc.Predominant)
			return nil
		}
		res, err := sweeper.Sweep(ctx)
		if err != nil {
			return err
		}
		slog.InfoContext(ctx, "insights sweep finished", "projects", res.Projects, "failed", res.Failed)
		return nil
	}

	sweeper.Start(ctx)
	slog.InfoContext(ctx, "insights worker running", "interval", rt.cfg.Insights.Interval)
	return waitForSignal(ctx, "insights", sweeper)
}
