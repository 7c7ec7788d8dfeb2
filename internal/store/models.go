package store

import (
	"encoding/json"
	"time"
)

// Comment is a citizen comment row. SentimentCached is written only by the
// sentiment worker and stays nil until the mirrored queue item is scored.
type Comment struct {
	ID              int64           `json:"id"`
	ProjectID       int64           `json:"project_id"`
	UserID          *int64          `json:"user_id"`
	Text            string          `json:"text"`
	Rating          *int            `json:"rating"`
	SentimentCached json.RawMessage `json:"sentiment_summary_cached"`
	CreatedAt       time.Time       `json:"created_at"`
}

type NewComment struct {
	ProjectID int64
	UserID    *int64
	Text      string
	Rating    *int
}
