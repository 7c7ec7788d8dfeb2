// Package feedback holds the raw feedback queue: items mirrored from citizen
// comments that wait for sentiment scoring.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrClaimLost is returned by Commit, Revert and Quarantine when the item
	// is no longer held by the caller's claim (reclaimed after going stale).
	ErrClaimLost = errors.New("feedback: claim lost")
	// ErrMalformed marks a stored document that does not match the item schema.
	ErrMalformed = errors.New("feedback: malformed item")
	// ErrInvalidTransition rejects a settle the state machine does not allow,
	// such as committing an item that was never claimed.
	ErrInvalidTransition = errors.New("feedback: invalid state transition")
)

// State is the processing state of a queue item.
type State string

const (
	Unprocessed State = "unprocessed"
	Processing  State = "processing"
	Processed   State = "processed"
	Quarantined State = "quarantined"
)

var transitions = map[State][]State{
	Unprocessed: {Processing},
	// Processing -> Processing is a stale reclaim.
	Processing:  {Processing, Processed, Unprocessed, Quarantined},
	Processed:   nil,
	Quarantined: nil,
}

func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether an item in state s may move to next.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func ParseState(raw string) (State, error) {
	s := State(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown processing state %q", ErrMalformed, raw)
	}
	return s, nil
}

type SentimentSummary struct {
	Score       float64   `json:"score" bson:"score"`
	Comparative float64   `json:"comparative" bson:"comparative"`
	Tokens      []string  `json:"tokens" bson:"tokens"`
	ProcessedAt time.Time `json:"processed_at" bson:"processed_at"`
}

type Item struct {
	ID                  string
	ProjectID           int64
	CommentID           *int64
	UserID              *int64
	Text                string
	Rating              *int
	State               State
	ProcessingStartedAt *time.Time
	Attempts            int
	LastError           string
	Sentiment           *SentimentSummary
	CreatedAt           time.Time
}

// NewItem is what the comment submission path mirrors into the queue.
type NewItem struct {
	ProjectID int64
	CommentID *int64
	UserID    *int64
	Text      string
	Rating    *int
}

type ClaimFilter struct {
	Now time.Time
	// StaleBefore: Processing claims started before this instant are abandoned.
	StaleBefore time.Time
	// CommentID restricts the claim to the item mirrored for that comment.
	CommentID *int64
}

// Store is the shared feedback queue. ClaimOne must be a single atomic
// conditional update; it returns (nil, nil) when nothing is eligible.
type Store interface {
	Insert(ctx context.Context, item NewItem) (Item, error)
	ClaimOne(ctx context.Context, filter ClaimFilter) (*Item, error)
	Commit(ctx context.Context, item Item, summary SentimentSummary) error
	Revert(ctx context.Context, item Item, reason string) error
	Quarantine(ctx context.Context, item Item, reason string) error
	Get(ctx context.Context, id string) (Item, error)
	ListProcessedByProject(ctx context.Context, projectID int64) ([]Item, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("feedback: item not found")

func claimTime(t time.Time) time.Time {
	// Both backends persist millisecond precision; fencing compares the
	// stored value, so the claim stamp must survive a round trip unchanged.
	return t.UTC().Truncate(time.Millisecond)
}
