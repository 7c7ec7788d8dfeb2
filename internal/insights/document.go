package insights

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("insights: not found")

type TrendLabel string

const (
	TrendInsufficientData TrendLabel = "insufficient_data"
	TrendImproving        TrendLabel = "improving"
	TrendStable           TrendLabel = "stable"
	TrendDeclining        TrendLabel = "declining"
)

const (
	PredominantPositive = "positive"
	PredominantNegative = "negative"
	PredominantNeutral  = "neutral"
)

type KeywordCount struct {
	Word  string `json:"word" bson:"word"`
	Count int    `json:"count" bson:"count"`
}

type PhraseCount struct {
	Phrase string `json:"phrase" bson:"phrase"`
	Count  int    `json:"count" bson:"count"`
}

type Cluster struct {
	Size             int      `json:"size" bson:"size"`
	MemberCommentIDs []int64  `json:"member_comment_ids" bson:"member_comment_ids"`
	TopKeywords      []string `json:"top_keywords" bson:"top_keywords"`
	TopPhrases       []string `json:"top_phrases" bson:"top_phrases"`
}

type Topic struct {
	Phrases     []string `json:"phrases" bson:"phrases"`
	TopKeywords []string `json:"top_keywords" bson:"top_keywords"`
	Score       int      `json:"score" bson:"score"`
}

type TrendPoint struct {
	Day int64   `json:"day" bson:"day"` // days since the Unix epoch
	Avg float64 `json:"avg" bson:"avg"`
	N   int     `json:"n" bson:"n"`
}

type Trend struct {
	Label  TrendLabel   `json:"label" bson:"label"`
	Slope  float64      `json:"slope" bson:"slope"`
	Points []TrendPoint `json:"points" bson:"points"`
}

type ClusterSample struct {
	Size        int      `json:"size" bson:"size"`
	TopKeywords []string `json:"top_keywords" bson:"top_keywords"`
	SampleIDs   []int64  `json:"sample_ids" bson:"sample_ids"`
}

type TopicSample struct {
	TopKeywords []string `json:"top_keywords" bson:"top_keywords"`
	Phrases     []string `json:"phrases" bson:"phrases"`
}

// Explainability is the subset of the snapshot a dashboard shows next to the
// headline numbers, plus how many inputs fed it.
type Explainability struct {
	TopKeywords        []KeywordCount  `json:"top_keywords" bson:"top_keywords"`
	TopPhrases         []PhraseCount   `json:"top_phrases" bson:"top_phrases"`
	Clusters           []ClusterSample `json:"clusters" bson:"clusters"`
	Topics             []TopicSample   `json:"topics" bson:"topics"`
	ScoredComments     int             `json:"scored_comments" bson:"scored_comments"`
	UnscoredComments   int             `json:"unscored_comments" bson:"unscored_comments"`
	MalformedSentiment int             `json:"malformed_sentiment" bson:"malformed_sentiment"`
	UnlinkedFeedback   int             `json:"unlinked_feedback" bson:"unlinked_feedback"`
}

// Document is the full insights snapshot of one project. It is rebuilt on
// every computation; only CreatedAt survives from the first write.
type Document struct {
	ProjectID          int64          `json:"project_id" bson:"project_id"`
	GeneratedAt        time.Time      `json:"generated_at" bson:"generated_at"`
	CreatedAt          *time.Time     `json:"created_at,omitempty" bson:"created_at,omitempty"`
	TotalComments      int            `json:"total_comments" bson:"total_comments"`
	AverageScore       *float64       `json:"average_score" bson:"average_score"`
	Predominant        string         `json:"predominant" bson:"predominant"`
	Confidence         float64        `json:"confidence" bson:"confidence"`
	TopKeywords        []KeywordCount `json:"top_keywords" bson:"top_keywords"`
	TopPhrases         []PhraseCount  `json:"top_phrases" bson:"top_phrases"`
	PositiveHighlights []string       `json:"positive_highlights" bson:"positive_highlights"`
	NegativeHighlights []string       `json:"negative_highlights" bson:"negative_highlights"`
	SummaryText        string         `json:"summary_text" bson:"summary_text"`
	Clusters           []Cluster      `json:"clusters" bson:"clusters"`
	Topics             []Topic        `json:"topics" bson:"topics"`
	Trend              Trend          `json:"trend" bson:"trend"`
	Explainability     Explainability `json:"explainability" bson:"explainability"`
}
