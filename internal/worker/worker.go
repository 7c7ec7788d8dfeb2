// Package worker drains the feedback queue, scoring one item at a time and
// caching the result on the linked comment.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"govfund/feedback/internal/feedback"
	"govfund/feedback/internal/logger"
	"govfund/feedback/internal/sentiment"
)

// CommentCache is the relational side of a commit. It must report the number
// of rows it touched.
type CommentCache interface {
	UpdateCommentSentiment(ctx context.Context, commentID int64, summary json.RawMessage) (int64, error)
}

type Config struct {
	PollInterval      time.Duration
	StaleClaimTimeout time.Duration
	ItemDelay         time.Duration
	// MaxAttempts > 0 quarantines an item whose claim count reached it
	// instead of reverting it for yet another retry.
	MaxAttempts int
}

type Worker struct {
	queue    feedback.Store
	comments CommentCache
	scorer   sentiment.Scorer
	cfg      Config
	now      func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(queue feedback.Store, comments CommentCache, scorer sentiment.Scorer, cfg Config) *Worker {
	return &Worker{
		queue:     queue,
		comments:  comments,
		scorer:    scorer,
		cfg:       cfg,
		now:       time.Now,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// ClaimOne claims the next eligible item, optionally the one mirrored for
// commentID. It returns nil when the queue has nothing claimable.
func (w *Worker) ClaimOne(ctx context.Context, commentID *int64) (*feedback.Item, error) {
	now := w.now()
	return w.queue.ClaimOne(ctx, feedback.ClaimFilter{
		Now:         now,
		StaleBefore: now.Add(-w.cfg.StaleClaimTimeout),
		CommentID:   commentID,
	})
}

// ProcessOne claims and processes a single item. The bool is false when
// nothing was claimed or the item was reverted.
func (w *Worker) ProcessOne(ctx context.Context, commentID *int64) (bool, error) {
	item, err := w.ClaimOne(ctx, commentID)
	if err != nil {
		return false, err
	}
	if item == nil {
		return false, nil
	}
	return w.ProcessDocument(ctx, *item), nil
}

// ProcessDocument scores a claimed item, writes the comment cache and only
// then marks the queue item processed. Any failure hands the claim back.
func (w *Worker) ProcessDocument(ctx context.Context, item feedback.Item) (ok bool) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		FeedbackID: logger.Ptr(item.ID),
		CommentID:  item.CommentID,
		ProjectID:  logger.Ptr(item.ProjectID),
	})
	slog.InfoContext(ctx, "job started", "attempt", item.Attempts)

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered while processing feedback", "panic", r)
			w.release(ctx, item, fmt.Sprintf("panic: %v", r))
			ok = false
		}
	}()

	result, err := w.scorer.Analyze(ctx, item.Text)
	if err != nil {
		slog.ErrorContext(ctx, "sentiment scoring failed", "error", err)
		w.release(ctx, item, fmt.Sprintf("score: %v", err))
		return false
	}

	tokens := result.Tokens
	if tokens == nil {
		tokens = []string{}
	}
	summary := feedback.SentimentSummary{
		Score:       result.Score,
		Comparative: result.Comparative,
		Tokens:      tokens,
		ProcessedAt: w.now().UTC().Truncate(time.Millisecond),
	}

	if item.CommentID != nil {
		payload, err := json.Marshal(summary)
		if err != nil {
			w.release(ctx, item, fmt.Sprintf("marshal sentiment: %v", err))
			return false
		}
		n, err := w.comments.UpdateCommentSentiment(ctx, *item.CommentID, payload)
		if err != nil {
			slog.ErrorContext(ctx, "comment sentiment update failed", "error", err)
			w.release(ctx, item, fmt.Sprintf("comment update: %v", err))
			return false
		}
		if n == 0 {
			slog.WarnContext(ctx, "comment sentiment update affected 0 rows, reverting claim")
			w.release(ctx, item, "comment not found")
			return false
		}
	}

	if err := w.queue.Commit(ctx, item, summary); err != nil {
		if errors.Is(err, feedback.ErrClaimLost) {
			slog.WarnContext(ctx, "claim was taken over before commit", "error", err)
			return false
		}
		slog.ErrorContext(ctx, "commit failed", "error", err)
		w.release(ctx, item, fmt.Sprintf("commit: %v", err))
		return false
	}

	slog.InfoContext(ctx, "job finished", "score", summary.Score)
	return true
}

// release reverts the claim, or quarantines the item once it has used up its
// attempts.
func (w *Worker) release(ctx context.Context, item feedback.Item, reason string) {
	var err error
	if w.cfg.MaxAttempts > 0 && item.Attempts >= w.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "max attempts reached, quarantining feedback item",
			"attempts", item.Attempts, "reason", reason)
		err = w.queue.Quarantine(ctx, item, reason)
	} else {
		err = w.queue.Revert(ctx, item, reason)
	}
	if errors.Is(err, feedback.ErrClaimLost) {
		slog.WarnContext(ctx, "claim was taken over before release", "error", err)
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to release claim", "error", err)
	}
}
