package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"govfund/feedback/internal/config"
	"govfund/feedback/internal/feedback"
	"govfund/feedback/internal/insights"
	"govfund/feedback/internal/logger"
	"govfund/feedback/internal/search"
	"govfund/feedback/internal/store"
)

const (
	maxCommentLength = 2000
	summaryTopTokens = 10
)

type SubmitCommentInput struct {
	UserID *int64 `json:"user_id"`
	Text   string `json:"text"`
	Rating *int   `json:"rating"`
}

// SentimentSummary aggregates the cached per-comment sentiment of a project.
type SentimentSummary struct {
	ProjectID int64        `json:"project_id"`
	Total     int          `json:"total"`
	Positive  int          `json:"positive"`
	Neutral   int          `json:"neutral"`
	Negative  int          `json:"negative"`
	Pending   int          `json:"pending"`
	TopTokens []TokenCount `json:"top_tokens"`
}

type TokenCount struct {
	Token string `json:"token"`
	Count int    `json:"count"`
}

// FeedbackStatus is the operator view of one queue item.
type FeedbackStatus struct {
	ID                  string                     `json:"id"`
	ProjectID           int64                      `json:"project_id"`
	CommentID           *int64                     `json:"comment_id"`
	State               feedback.State             `json:"processing_state"`
	ProcessingStartedAt *time.Time                 `json:"processing_started_at"`
	Attempts            int                        `json:"attempts"`
	LastError           string                     `json:"last_error,omitempty"`
	Sentiment           *feedback.SentimentSummary `json:"sentiment"`
	CreatedAt           time.Time                  `json:"created_at"`
}

type dataStore interface {
	Ping(context.Context) error
	InsertComment(context.Context, store.NewComment) (store.Comment, error)
	ListProjectComments(context.Context, int64) ([]store.Comment, error)
}

type feedbackQueue interface {
	Insert(context.Context, feedback.NewItem) (feedback.Item, error)
	Get(context.Context, string) (feedback.Item, error)
	Ping(context.Context) error
}

type insightsEngine interface {
	ComputeInsights(context.Context, int64) (insights.Document, error)
	GetInsights(context.Context, int64) (insights.Document, error)
}

type searchService interface {
	Search(context.Context, search.Query) search.Response
}

type Service struct {
	cfg      config.Config
	store    dataStore
	queue    feedbackQueue
	insights insightsEngine
	search   searchService
}

func NewService(cfg config.Config, dataStore *store.PostgresStore, queue feedback.Store, engine *insights.Engine, searchSvc *search.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		queue:    queue,
		insights: engine,
		search:   searchSvc,
	}
}

// Ping checks the relational database.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingQueue checks the feedback document store.
func (s *Service) PingQueue(ctx context.Context) error {
	return s.queue.Ping(ctx)
}

// SubmitComment stores a comment and mirrors it into the feedback queue for
// scoring. The mirror is best effort: the relational row is the record of
// truth and a failed mirror is only logged.
func (s *Service) SubmitComment(ctx context.Context, projectID int64, in SubmitCommentInput) (store.Comment, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return store.Comment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "text is required", nil)
	}
	if utf8.RuneCountInString(text) > maxCommentLength {
		return store.Comment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			fmt.Sprintf("text must be at most %d characters", maxCommentLength), nil)
	}
	if in.Rating != nil && (*in.Rating < 1 || *in.Rating > 5) {
		return store.Comment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "rating must be between 1 and 5", nil)
	}

	comment, err := s.store.InsertComment(ctx, store.NewComment{
		ProjectID: projectID,
		UserID:    in.UserID,
		Text:      text,
		Rating:    in.Rating,
	})
	if err != nil {
		return store.Comment{}, fmt.Errorf("insert comment: %w", err)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		CommentID: logger.Ptr(comment.ID),
		ProjectID: logger.Ptr(projectID),
	})
	item, err := s.queue.Insert(ctx, feedback.NewItem{
		ProjectID: projectID,
		CommentID: logger.Ptr(comment.ID),
		UserID:    in.UserID,
		Text:      text,
		Rating:    in.Rating,
	})
	if err != nil {
		slog.WarnContext(ctx, "mirror comment into feedback queue failed", "error", err)
		return comment, nil
	}
	slog.InfoContext(ctx, "comment mirrored", "feedback_id", item.ID)
	return comment, nil
}

// FeedbackStatus reports where a mirrored item is in the scoring queue.
func (s *Service) FeedbackStatus(ctx context.Context, id string) (FeedbackStatus, error) {
	item, err := s.queue.Get(ctx, id)
	if errors.Is(err, feedback.ErrNotFound) {
		return FeedbackStatus{}, domainError(http.StatusNotFound, "NOT_FOUND", "Feedback item not found", nil)
	}
	if err != nil {
		return FeedbackStatus{}, fmt.Errorf("get feedback item: %w", err)
	}
	return FeedbackStatus{
		ID:                  item.ID,
		ProjectID:           item.ProjectID,
		CommentID:           item.CommentID,
		State:               item.State,
		ProcessingStartedAt: item.ProcessingStartedAt,
		Attempts:            item.Attempts,
		LastError:           item.LastError,
		Sentiment:           item.Sentiment,
		CreatedAt:           item.CreatedAt,
	}, nil
}

func (s *Service) GetInsights(ctx context.Context, projectID int64) (insights.Document, error) {
	doc, err := s.insights.GetInsights(ctx, projectID)
	if errors.Is(err, insights.ErrNotFound) {
		return insights.Document{}, domainError(http.StatusNotFound, "NOT_FOUND", "No insights available", nil)
	}
	return doc, err
}

func (s *Service) RefreshInsights(ctx context.Context, projectID int64) (insights.Document, error) {
	return s.insights.ComputeInsights(ctx, projectID)
}

// SentimentSummary counts comments by the sign of their cached score and
// ranks the cached tokens. Comments without a readable cache are pending.
func (s *Service) SentimentSummary(ctx context.Context, projectID int64) (SentimentSummary, error) {
	comments, err := s.store.ListProjectComments(ctx, projectID)
	if err != nil {
		return SentimentSummary{}, fmt.Errorf("list comments: %w", err)
	}

	out := SentimentSummary{ProjectID: projectID, Total: len(comments), TopTokens: []TokenCount{}}
	counts := map[string]int{}
	for _, c := range comments {
		var cached struct {
			Score  *float64 `json:"score"`
			Tokens []string `json:"tokens"`
		}
		if len(c.SentimentCached) == 0 || json.Unmarshal(c.SentimentCached, &cached) != nil || cached.Score == nil {
			out.Pending++
			continue
		}
		switch {
		case *cached.Score > 0:
			out.Positive++
		case *cached.Score < 0:
			out.Negative++
		default:
			out.Neutral++
		}
		for _, tok := range cached.Tokens {
			if tok == "" {
				continue
			}
			if counts[tok] == 0 {
				out.TopTokens = append(out.TopTokens, TokenCount{Token: tok})
			}
			counts[tok]++
		}
	}

	for i := range out.TopTokens {
		out.TopTokens[i].Count = counts[out.TopTokens[i].Token]
	}
	sort.SliceStable(out.TopTokens, func(i, j int) bool {
		return out.TopTokens[i].Count > out.TopTokens[j].Count
	})
	if len(out.TopTokens) > summaryTopTokens {
		out.TopTokens = out.TopTokens[:summaryTopTokens]
	}
	return out, nil
}

func (s *Service) Search(ctx context.Context, q search.Query) (search.Response, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return search.Response{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "q is required", nil)
	}
	if q.Limit < 0 || q.Limit > 100 {
		return search.Response{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be between 0 and 100", nil)
	}
	return s.search.Search(ctx, q), nil
}
