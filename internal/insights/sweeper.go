package insights

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"govfund/feedback/internal/logger"
)

type ProjectLister interface {
	ListCommentedProjectIDs(ctx context.Context) ([]int64, error)
}

type Computer interface {
	ComputeInsights(ctx context.Context, projectID int64) (Document, error)
}

type SweepResult struct {
	Projects int
	Failed   int
}

// Sweeper recomputes insights for every project with comments, either once
// or on a fixed interval.
type Sweeper struct {
	projects    ProjectLister
	engine      Computer
	interval    time.Duration
	concurrency int

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewSweeper(projects ProjectLister, engine Computer, interval time.Duration, concurrency int) *Sweeper {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Sweeper{
		projects:    projects,
		engine:      engine,
		interval:    interval,
		concurrency: concurrency,
		stopCh:      make(chan struct{}),
		stoppedCh:   make(chan struct{}),
	}
}

// Sweep computes every project. A failing project is logged and counted; it
// never stops the others. Only a failure to list projects is returned.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	ids, err := s.projects.ListCommentedProjectIDs(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list projects: %w", err)
	}

	var failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			pctx := logger.WithLogFields(gctx, logger.LogFields{ProjectID: logger.Ptr(id)})
			if _, err := s.engine.ComputeInsights(pctx, id); err != nil {
				failed.Add(1)
				slog.ErrorContext(pctx, "insights computation failed", "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return SweepResult{Projects: len(ids), Failed: int(failed.Load())}, nil
}

func (s *Sweeper) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "feedback.worker.insights"})
		slog.InfoContext(ctx, "insights sweeper started", "interval", s.interval)
		go s.run(ctx)
	})
}

func (s *Sweeper) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.startOnce.Do(func() { close(s.stoppedCh) })

	select {
	case <-s.stoppedCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.stoppedCh)
	defer slog.InfoContext(ctx, "insights sweeper stopped")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		res, err := s.Sweep(context.WithoutCancel(ctx))
		if err != nil {
			slog.ErrorContext(ctx, "insights sweep failed", "error", err)
		} else {
			slog.InfoContext(ctx, "insights sweep finished", "projects", res.Projects, "failed", res.Failed)
		}

		select {
		case <-ticker.C:
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}
