package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"govfund/feedback/internal/logger"
	"govfund/feedback/internal/sentiment"
	"govfund/feedback/internal/store"
	"govfund/feedback/internal/worker"
)

var (
	sentimentOnce      bool
	sentimentCommentID int64
)

var sentimentCmd = &cobra.Command{
	Use:   "sentiment",
	Short: "Score queued feedback items",
	Long: `Claim unprocessed feedback one item at a time, score it and cache the
summary on the linked comment. Abandoned claims older than
STALE_CLAIM_TIMEOUT_MS are picked up again.

With --once a single item is processed and the command exits.`,
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return onceOnly(cmd, sentimentOnce, "comment-id")
	},
	RunE: runSentiment,
}

func init() {
	sentimentCmd.Flags().BoolVar(&sentimentOnce, "once", false, "process one item and exit")
	sentimentCmd.Flags().Int64Var(&sentimentCommentID, "comment-id", 0, "with --once, process the item mirrored for this comment")
}

func runSentiment(cmd *cobra.Command, _ []string) error {
	ctx := logger.WithLogFields(cmd.Context(), logger.LogFields{Component: "worker.sentiment"})

	rt, err := connect(ctx, "worker")
	if err != nil {
		return err
	}
	defer rt.Close()

	scorer, err := sentiment.NewVader(rt.cfg.Sentiment.LexiconPath)
	if err != nil {
		return fmt.Errorf("load lexicon: %w", err)
	}

	w := worker.New(rt.stores.Queue, store.NewPostgresStore(rt.db), scorer, worker.Config{
		PollInterval:      rt.cfg.Sentiment.PollInterval,
		StaleClaimTimeout: rt.cfg.Sentiment.StaleClaimTimeout,
		ItemDelay:         rt.cfg.Sentiment.ItemDelay,
		MaxAttempts:       rt.cfg.Sentiment.MaxAttempts,
	})

	if sentimentOnce {
		var commentID *int64
		if cmd.Flags().Changed("comment-id") {
			commentID = logger.Ptr(sentimentCommentID)
		}
		processed, err := w.ProcessOne(ctx, commentID)
		if err != nil {
			return fmt.Errorf("process one: %w", err)
		}
		slog.InfoContext(ctx, "single run finished", "processed", processed)
		return nil
	}

	w.Start(ctx)
	slog.InfoContext(ctx, "sentiment worker running",
		"poll_interval", rt.cfg.Sentiment.PollInterval,
		"stale_claim_timeout", rt.cfg.Sentiment.StaleClaimTimeout,
		"max_attempts", rt.cfg.Sentiment.MaxAttempts)
	return waitForSignal(ctx, "sentiment", w)
}
