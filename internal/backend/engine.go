package backend

import (
	"context"
	"log/slog"

	"govfund/feedback/internal/archive"
	"govfund/feedback/internal/config"
	"govfund/feedback/internal/insights"
	"govfund/feedback/internal/search"
	"govfund/feedback/internal/store"
)

// NewEngine wires the insights engine with its optional side effects: the
// search index and, when MinIO is configured, the snapshot archive.
func NewEngine(ctx context.Context, cfg config.Config, comments *store.PostgresStore, stores *Stores, indexer *search.Service) (*insights.Engine, error) {
	var opts []insights.Option
	if indexer != nil {
		opts = append(opts, insights.WithIndexer(indexer))
	}
	if cfg.Minio.Enabled() {
		archiver, err := archive.NewMinioArchiver(cfg.Minio)
		if err != nil {
			return nil, err
		}
		if err := archiver.EnsureBucket(ctx); err != nil {
			slog.WarnContext(ctx, "archive bucket not ensured", "bucket", cfg.Minio.Bucket, "error", err)
		}
		opts = append(opts, insights.WithArchiver(archiver))
	}
	return insights.NewEngine(comments, stores.Queue, stores.Insights, opts...), nil
}
