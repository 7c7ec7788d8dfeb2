package search

import (
	"context"
	"log/slog"

	"govfund/feedback/internal/insights"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	primary  Searcher
	indexer  insights.Indexer
	fallback Searcher
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(m *Meili, pgfts *PgFTS) *Service {
	s := &Service{}
	if pgfts != nil {
		s.fallback = pgfts
	}
	if m != nil {
		s.primary = m
		s.indexer = m
	}
	return s
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		slog.WarnContext(ctx, "meilisearch error, falling back to pgfts", "error", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		slog.ErrorContext(ctx, "pgfts search failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexInsights pushes a snapshot to Meilisearch. It is a no-op while the
// index is disabled or unhealthy; the next computation re-indexes anyway.
func (s *Service) IndexInsights(ctx context.Context, doc insights.Document) error {
	if s.indexer == nil || s.primary == nil || !s.primary.Healthy() {
		return nil
	}
	return s.indexer.IndexInsights(ctx, doc)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
