package search

import (
	"context"

	"govfund/feedback/internal/insights"
)

// ResultType identifies the kind of entity in a search result. Both
// backends answer with project insights hits.
type ResultType string

const ResultInsights ResultType = "insights"

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	ProjectID int64      `json:"projectId"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text      string
	ProjectID *int64
	Limit     int
	Offset    int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// InsightsRecord is the data we index for a project's insights snapshot.
type InsightsRecord struct {
	ProjectID    int64    `json:"project_id"`
	SummaryText  string   `json:"summary_text"`
	Predominant  string   `json:"predominant"`
	AverageScore *float64 `json:"average_score"`
	Keywords     []string `json:"keywords"`
	Phrases      []string `json:"phrases"`
	Comments     int      `json:"total_comments"`
	GeneratedAt  int64    `json:"generated_at"`
}

func recordFromDocument(doc insights.Document) InsightsRecord {
	rec := InsightsRecord{
		ProjectID:    doc.ProjectID,
		SummaryText:  doc.SummaryText,
		Predominant:  doc.Predominant,
		AverageScore: doc.AverageScore,
		Keywords:     make([]string, 0, len(doc.TopKeywords)),
		Phrases:      make([]string, 0, len(doc.TopPhrases)),
		Comments:     doc.TotalComments,
		GeneratedAt:  doc.GeneratedAt.Unix(),
	}
	for _, kw := range doc.TopKeywords {
		rec.Keywords = append(rec.Keywords, kw.Word)
	}
	for _, ph := range doc.TopPhrases {
		rec.Phrases = append(rec.Phrases, ph.Phrase)
	}
	return rec
}
