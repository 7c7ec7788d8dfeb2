// Package backend opens the document stores selected by FEEDBACK_BACKEND.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"govfund/feedback/internal/config"
	"govfund/feedback/internal/feedback"
	"govfund/feedback/internal/insights"
)

// Stores bundles the feedback queue and the insights document store. Both
// share one connection, which Close releases.
type Stores struct {
	Queue    feedback.Store
	Insights insights.DocumentStore
}

func Open(ctx context.Context, cfg config.Config) (*Stores, error) {
	switch cfg.FeedbackBackend {
	case config.BackendMongo:
		client, err := feedback.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		queue := feedback.NewMongoStore(client, cfg.MongoDatabase)
		docs := insights.NewMongoDocumentStore(client, cfg.MongoDatabase)
		if err := queue.EnsureIndexes(ctx); err != nil {
			slog.WarnContext(ctx, "feedback indexes not ensured", "error", err)
		}
		if err := docs.EnsureIndexes(ctx); err != nil {
			slog.WarnContext(ctx, "insights indexes not ensured", "error", err)
		}
		slog.InfoContext(ctx, "using mongo feedback backend", "database", cfg.MongoDatabase)
		return &Stores{Queue: queue, Insights: docs}, nil

	case config.BackendRedis:
		queue, err := feedback.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		slog.InfoContext(ctx, "using redis feedback backend")
		return &Stores{Queue: queue, Insights: insights.NewRedisDocumentStore(queue.Client())}, nil

	default:
		return nil, fmt.Errorf("unknown feedback backend %q", cfg.FeedbackBackend)
	}
}

func (s *Stores) Close(ctx context.Context) error {
	return s.Queue.Close(ctx)
}
