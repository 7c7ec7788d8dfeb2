package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDocumentStore keeps each snapshot as JSON in a per-project hash next
// to a created_at field that is only ever written once.
type RedisDocumentStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisDocumentStore(client *redis.Client) *RedisDocumentStore {
	return &RedisDocumentStore{client: client, prefix: "insights:project:", now: time.Now}
}

func (s *RedisDocumentStore) key(projectID int64) string {
	return s.prefix + strconv.FormatInt(projectID, 10)
}

func (s *RedisDocumentStore) Upsert(ctx context.Context, doc Document) error {
	doc.CreatedAt = nil
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal insights: %w", err)
	}
	key := s.key(doc.ProjectID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, "created_at", s.now().UTC().Format(time.RFC3339Nano))
		pipe.HSet(ctx, key, "doc", payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert insights for project %d: %w", doc.ProjectID, err)
	}
	return nil
}

func (s *RedisDocumentStore) Get(ctx context.Context, projectID int64) (Document, error) {
	vals, err := s.client.HMGet(ctx, s.key(projectID), "doc", "created_at").Result()
	if errors.Is(err, redis.Nil) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get insights for project %d: %w", projectID, err)
	}
	raw, ok := vals[0].(string)
	if !ok {
		return Document{}, ErrNotFound
	}

	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return Document{}, fmt.Errorf("decode insights for project %d: %w", projectID, err)
	}
	if created, ok := vals[1].(string); ok {
		t, err := time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return Document{}, fmt.Errorf("decode insights created_at: %w", err)
		}
		doc.CreatedAt = &t
	}
	return doc, nil
}
