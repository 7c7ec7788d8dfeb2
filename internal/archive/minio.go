package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"govfund/feedback/internal/config"
	"govfund/feedback/internal/insights"
)

// MinioArchiver keeps an immutable copy of every computed insights snapshot
// in an S3-compatible bucket.
type MinioArchiver struct {
	client *minio.Client
	bucket string
}

func NewMinioArchiver(cfg config.MinioConfig) (*MinioArchiver, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioArchiver{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the archive bucket when it does not exist yet.
func (a *MinioArchiver) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", a.bucket, err)
	}
	slog.InfoContext(ctx, "archive bucket created", "bucket", a.bucket)
	return nil
}

func (a *MinioArchiver) ArchiveInsights(ctx context.Context, doc insights.Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode insights: %w", err)
	}
	key := ObjectKey(doc.ProjectID, doc.GeneratedAt)
	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// ObjectKey lays snapshots out per project, ordered by generation time.
func ObjectKey(projectID int64, generatedAt time.Time) string {
	return "projects/" + strconv.FormatInt(projectID, 10) + "/insights/" +
		generatedAt.UTC().Format("20060102T150405.000Z") + ".json"
}
