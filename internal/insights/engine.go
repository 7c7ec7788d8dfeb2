package insights

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"govfund/feedback/internal/feedback"
	"govfund/feedback/internal/logger"
	"govfund/feedback/internal/store"
)

type CommentSource interface {
	ListProjectComments(ctx context.Context, projectID int64) ([]store.Comment, error)
}

type FeedbackSource interface {
	ListProcessedByProject(ctx context.Context, projectID int64) ([]feedback.Item, error)
}

// DocumentStore persists one snapshot per project. Upsert replaces every
// field except created_at, which is set on first insert only.
type DocumentStore interface {
	Upsert(ctx context.Context, doc Document) error
	Get(ctx context.Context, projectID int64) (Document, error)
}

// Indexer and Archiver receive every freshly computed snapshot. Their
// failures are logged and never fail the computation.
type Indexer interface {
	IndexInsights(ctx context.Context, doc Document) error
}

type Archiver interface {
	ArchiveInsights(ctx context.Context, doc Document) error
}

type Engine struct {
	comments CommentSource
	queue    FeedbackSource
	docs     DocumentStore
	indexer  Indexer
	archiver Archiver
	now      func() time.Time
}

type Option func(*Engine)

func WithIndexer(i Indexer) Option { return func(e *Engine) { e.indexer = i } }

func WithArchiver(a Archiver) Option { return func(e *Engine) { e.archiver = a } }

func NewEngine(comments CommentSource, queue FeedbackSource, docs DocumentStore, opts ...Option) *Engine {
	e := &Engine{
		comments: comments,
		queue:    queue,
		docs:     docs,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ComputeInsights rebuilds and stores the snapshot for projectID.
func (e *Engine) ComputeInsights(ctx context.Context, projectID int64) (Document, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{ProjectID: logger.Ptr(projectID)})
	sc := logger.StartSpan(ctx, "insights.compute")
	defer sc.End()
	ctx = sc.Context()

	comments, err := e.comments.ListProjectComments(ctx, projectID)
	if err != nil {
		sc.RecordError(err)
		return Document{}, fmt.Errorf("load comments: %w", err)
	}
	items, err := e.queue.ListProcessedByProject(ctx, projectID)
	if err != nil {
		sc.RecordError(err)
		return Document{}, fmt.Errorf("load processed feedback: %w", err)
	}

	in := Input{
		ProjectID: projectID,
		Comments:  make([]CommentInput, 0, len(comments)),
	}
	for _, c := range comments {
		score, malformed := cachedScore(c.SentimentCached)
		if malformed {
			in.MalformedSentiment++
			slog.WarnContext(ctx, "ignoring malformed cached sentiment", "comment_id", c.ID)
		}
		in.Comments = append(in.Comments, CommentInput{
			ID:        c.ID,
			Text:      c.Text,
			Score:     score,
			CreatedAt: c.CreatedAt,
		})
	}
	for _, item := range items {
		if item.CommentID == nil && item.Text != "" {
			in.UnlinkedTexts = append(in.UnlinkedTexts, item.Text)
		}
	}

	doc := Analyze(in, e.now())
	if err := e.docs.Upsert(ctx, doc); err != nil {
		sc.RecordError(err)
		return Document{}, fmt.Errorf("upsert insights: %w", err)
	}

	if e.indexer != nil {
		if err := e.indexer.IndexInsights(ctx, doc); err != nil {
			slog.WarnContext(ctx, "failed to index insights", "error", err)
		}
	}
	if e.archiver != nil {
		if err := e.archiver.ArchiveInsights(ctx, doc); err != nil {
			slog.WarnContext(ctx, "failed to archive insights", "error", err)
		}
	}

	slog.InfoContext(ctx, "insights computed",
		"total_comments", doc.TotalComments,
		"clusters", len(doc.Clusters),
		"trend", doc.Trend.Label)
	return doc, nil
}

func (e *Engine) GetInsights(ctx context.Context, projectID int64) (Document, error) {
	return e.docs.Get(ctx, projectID)
}

// cachedScore reads the score out of a cached sentiment column. A present
// but unreadable value is reported as malformed and treated as unscored.
func cachedScore(raw json.RawMessage) (*float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, false
	}
	var cached struct {
		Score *float64 `json:"score"`
	}
	if err := json.Unmarshal(raw, &cached); err != nil || cached.Score == nil {
		return nil, true
	}
	return cached.Score, false
}
