package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"govfund/feedback/internal/feedback"
	"govfund/feedback/internal/logger"
)

// Start launches the polling loop. It returns immediately; calling it more
// than once has no effect.
func (w *Worker) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "feedback.worker.sentiment"})
		slog.InfoContext(ctx, "sentiment worker started",
			"poll_interval", w.cfg.PollInterval,
			"stale_claim_timeout", w.cfg.StaleClaimTimeout)
		go w.run(ctx)
	})
}

// Stop asks the loop to exit and waits for the current cycle to finish, or
// for ctx to expire.
func (w *Worker) Stop(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.stopCh) })

	// Never started: nothing to wait for, and Start becomes a no-op.
	w.startOnce.Do(func() { close(w.stoppedCh) })

	select {
	case <-w.stoppedCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.stoppedCh)
	defer slog.InfoContext(ctx, "sentiment worker stopped")

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		wait := w.cycle(ctx)
		if !w.sleep(ctx, wait) {
			return
		}
	}
}

// cycle runs one claim/process pass and returns how long to idle afterwards.
// The pass runs detached from ctx cancellation so a claim is never abandoned
// halfway through.
func (w *Worker) cycle(ctx context.Context) time.Duration {
	sc := logger.StartSpan(context.WithoutCancel(ctx), "worker.sentiment.cycle")
	defer sc.End()
	cctx := sc.Context()

	item, err := w.ClaimOne(cctx, nil)
	switch {
	case errors.Is(err, feedback.ErrMalformed):
		sc.RecordError(err)
		slog.WarnContext(cctx, "malformed feedback item quarantined", "error", err)
		return w.cfg.ItemDelay
	case err != nil:
		sc.RecordError(err)
		slog.ErrorContext(cctx, "loop error", "error", err)
		return w.cfg.PollInterval
	case item == nil:
		slog.DebugContext(cctx, "no work found, sleeping")
		return w.cfg.PollInterval
	}

	w.ProcessDocument(cctx, *item)
	return w.cfg.ItemDelay
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-w.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}
