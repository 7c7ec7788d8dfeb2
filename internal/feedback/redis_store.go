package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// claimScript claims one item inside a single script, so two workers can
// never both see the same item as claimable. Stale claims are taken first
// from the processing set, then the head of the pending set. A targeted
// claim resolves the comment id through the by-comment hash. Items whose
// state is unknown are unlinked from both sets and returned untouched so the
// caller can quarantine them.
//
// KEYS[1] pending zset, KEYS[2] processing zset (scored by claim stamp),
// KEYS[3] comment id -> item id hash
// ARGV[1] item key prefix, ARGV[2] now (ms), ARGV[3] stale-before (ms),
// ARGV[4] target comment id or "", ARGV[5] max entries to skip
var claimScript = redis.NewScript(`
local prefix, now, staleBefore = ARGV[1], ARGV[2], tonumber(ARGV[3])
local known = {unprocessed = true, processing = true, processed = true, quarantined = true}

local function inspect(id)
  local f = redis.call('HMGET', prefix .. id, 'state', 'processing_started_at')
  if not f[1] then
    return 'gone'
  end
  if f[1] == 'unprocessed' then
    return 'eligible'
  end
  if f[1] == 'processing' then
    local started = tonumber(f[2])
    if started == nil or started < staleBefore then
      return 'eligible'
    end
    return 'held', started
  end
  if known[f[1]] then
    return 'settled'
  end
  return 'malformed'
end

local function claim(id)
  local key = prefix .. id
  redis.call('ZREM', KEYS[1], id)
  redis.call('ZADD', KEYS[2], now, id)
  redis.call('HSET', key, 'state', 'processing', 'processing_started_at', now)
  redis.call('HINCRBY', key, 'attempts', 1)
  return redis.call('HGETALL', key)
end

local function unlink(id)
  redis.call('ZREM', KEYS[1], id)
  redis.call('ZREM', KEYS[2], id)
  return redis.call('HGETALL', prefix .. id)
end

if ARGV[4] ~= '' then
  local id = redis.call('HGET', KEYS[3], ARGV[4])
  if not id then
    return false
  end
  local verdict = inspect(id)
  if verdict == 'eligible' then
    return claim(id)
  elseif verdict == 'malformed' then
    return unlink(id)
  end
  return false
end

local bound = tonumber(ARGV[5])
for _ = 1, bound do
  local ids = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', '(' .. ARGV[3], 'LIMIT', 0, 1)
  if #ids == 0 then
    break
  end
  local verdict, started = inspect(ids[1])
  if verdict == 'eligible' then
    return claim(ids[1])
  elseif verdict == 'malformed' then
    return unlink(ids[1])
  elseif verdict == 'held' then
    redis.call('ZADD', KEYS[2], started, ids[1])
  else
    redis.call('ZREM', KEYS[2], ids[1])
  end
end

for _ = 1, bound do
  local ids = redis.call('ZRANGE', KEYS[1], 0, 0)
  if #ids == 0 then
    break
  end
  local verdict, started = inspect(ids[1])
  if verdict == 'eligible' then
    return claim(ids[1])
  elseif verdict == 'malformed' then
    return unlink(ids[1])
  end
  redis.call('ZREM', KEYS[1], ids[1])
  if verdict == 'held' then
    redis.call('ZADD', KEYS[2], started, ids[1])
  end
end
return false
`)

// settleScript ends a claim. It only applies while the item is still
// processing under the caller's claim stamp; otherwise it returns 0. A
// reverted item is queued again behind everything already pending.
//
// KEYS[1] item hash, KEYS[2] pending zset, KEYS[3] processing zset,
// KEYS[4] sequence counter
// ARGV[1] claim stamp (ms), ARGV[2] next state, ARGV[3] sentiment json,
// ARGV[4] last error, ARGV[5] item id
var settleScript = redis.NewScript(`
local f = redis.call('HMGET', KEYS[1], 'state', 'processing_started_at')
if f[1] ~= 'processing' or f[2] ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1], 'state', ARGV[2], 'processing_started_at', '', 'sentiment', ARGV[3], 'last_error', ARGV[4])
redis.call('ZREM', KEYS[3], ARGV[5])
redis.call('ZREM', KEYS[2], ARGV[5])
if ARGV[2] == 'unprocessed' then
  redis.call('ZADD', KEYS[2], redis.call('INCR', KEYS[4]), ARGV[5])
end
return 1
`)

// claimScanBound caps how many stray set entries one claim may skip.
const claimScanBound = 100

// RedisStore keeps one hash per item, a pending sorted set scored by a queue
// sequence, a processing sorted set scored by claim stamp, a comment id index
// for targeted claims and a per-project sorted set for insights reads.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client), nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "feedback:"}
}

// Client exposes the underlying connection so other Redis-backed stores can share it.
func (s *RedisStore) Client() *redis.Client { return s.client }

func (s *RedisStore) itemKey(id string) string { return s.prefix + "item:" + id }
func (s *RedisStore) pendingKey() string       { return s.prefix + "pending" }
func (s *RedisStore) processingKey() string    { return s.prefix + "processing" }
func (s *RedisStore) byCommentKey() string     { return s.prefix + "by_comment" }
func (s *RedisStore) seqKey() string           { return s.prefix + "seq" }

func (s *RedisStore) projectKey(projectID int64) string {
	return s.prefix + "project:" + strconv.FormatInt(projectID, 10)
}

func (s *RedisStore) Insert(ctx context.Context, in NewItem) (Item, error) {
	seq, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return Item{}, fmt.Errorf("next feedback sequence: %w", err)
	}

	item := Item{
		ID:        uuid.NewString(),
		ProjectID: in.ProjectID,
		CommentID: in.CommentID,
		UserID:    in.UserID,
		Text:      in.Text,
		Rating:    in.Rating,
		State:     Unprocessed,
		CreatedAt: claimTime(time.Now()),
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.itemKey(item.ID), encodeHash(item))
		pipe.ZAdd(ctx, s.pendingKey(), redis.Z{Score: float64(seq), Member: item.ID})
		pipe.ZAdd(ctx, s.projectKey(item.ProjectID), redis.Z{Score: float64(seq), Member: item.ID})
		if item.CommentID != nil {
			pipe.HSet(ctx, s.byCommentKey(), strconv.FormatInt(*item.CommentID, 10), item.ID)
		}
		return nil
	})
	if err != nil {
		return Item{}, fmt.Errorf("insert feedback item: %w", err)
	}
	return item, nil
}

func (s *RedisStore) ClaimOne(ctx context.Context, filter ClaimFilter) (*Item, error) {
	target := ""
	if filter.CommentID != nil {
		target = strconv.FormatInt(*filter.CommentID, 10)
	}

	res, err := claimScript.Run(ctx, s.client,
		[]string{s.pendingKey(), s.processingKey(), s.byCommentKey()},
		s.prefix+"item:",
		claimTime(filter.Now).UnixMilli(),
		filter.StaleBefore.UnixMilli(),
		target,
		claimScanBound,
	).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim feedback item: %w", err)
	}

	fields, err := flatHash(res)
	if err != nil {
		return nil, err
	}
	item, err := decodeHash(fields)
	if err != nil {
		id := fields["id"]
		if qerr := s.quarantineRaw(ctx, id, err.Error()); qerr != nil {
			return nil, errors.Join(err, qerr)
		}
		return nil, fmt.Errorf("claimed item %s quarantined: %w", id, err)
	}
	return &item, nil
}

func (s *RedisStore) Commit(ctx context.Context, item Item, summary SentimentSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal sentiment: %w", err)
	}
	return s.settle(ctx, item, Processed, string(payload), "")
}

func (s *RedisStore) Revert(ctx context.Context, item Item, reason string) error {
	return s.settle(ctx, item, Unprocessed, "", reason)
}

func (s *RedisStore) Quarantine(ctx context.Context, item Item, reason string) error {
	return s.settle(ctx, item, Quarantined, "", reason)
}

func (s *RedisStore) settle(ctx context.Context, item Item, next State, sentiment, lastError string) error {
	if !item.State.CanTransition(next) {
		return fmt.Errorf("settle %s: %w: %s to %s", item.ID, ErrInvalidTransition, item.State, next)
	}
	if item.ProcessingStartedAt == nil {
		return fmt.Errorf("settle %s: %w", item.ID, ErrClaimLost)
	}
	stamp := strconv.FormatInt(item.ProcessingStartedAt.UnixMilli(), 10)
	applied, err := settleScript.Run(ctx, s.client,
		[]string{s.itemKey(item.ID), s.pendingKey(), s.processingKey(), s.seqKey()},
		stamp, string(next), sentiment, lastError, item.ID,
	).Int()
	if err != nil {
		return fmt.Errorf("mark feedback item %s %s: %w", item.ID, next, err)
	}
	if applied == 0 {
		return fmt.Errorf("mark feedback item %s %s: %w", item.ID, next, ErrClaimLost)
	}
	return nil
}

// quarantineRaw parks an item that failed to decode. It bypasses the fence
// since no typed claim exists for it.
func (s *RedisStore) quarantineRaw(ctx context.Context, id, reason string) error {
	if id == "" {
		return fmt.Errorf("%w: item without id", ErrMalformed)
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.itemKey(id), "state", string(Quarantined), "processing_started_at", "", "last_error", reason)
		pipe.ZRem(ctx, s.pendingKey(), id)
		pipe.ZRem(ctx, s.processingKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("quarantine feedback item %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (Item, error) {
	fields, err := s.client.HGetAll(ctx, s.itemKey(id)).Result()
	if err != nil {
		return Item{}, fmt.Errorf("get feedback item: %w", err)
	}
	if len(fields) == 0 {
		return Item{}, ErrNotFound
	}
	return decodeHash(fields)
}

func (s *RedisStore) ListProcessedByProject(ctx context.Context, projectID int64) ([]Item, error) {
	ids, err := s.client.ZRange(ctx, s.projectKey(projectID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list project feedback: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.itemKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load project feedback: %w", err)
	}

	items := make([]Item, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 || fields["state"] != string(Processed) {
			continue
		}
		item, err := decodeHash(fields)
		if err != nil {
			slog.WarnContext(ctx, "skipping malformed feedback item", "feedback_id", ids[i], "error", err)
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close(context.Context) error {
	return s.client.Close()
}

func encodeHash(item Item) map[string]any {
	fields := map[string]any{
		"id":                    item.ID,
		"project_id":            item.ProjectID,
		"comment_id":            "",
		"user_id":               "",
		"text":                  item.Text,
		"rating":                "",
		"state":                 string(item.State),
		"processing_started_at": "",
		"attempts":              item.Attempts,
		"last_error":            item.LastError,
		"sentiment":             "",
		"created_at":            item.CreatedAt.UnixMilli(),
	}
	if item.CommentID != nil {
		fields["comment_id"] = *item.CommentID
	}
	if item.UserID != nil {
		fields["user_id"] = *item.UserID
	}
	if item.Rating != nil {
		fields["rating"] = *item.Rating
	}
	return fields
}

func flatHash(res any) (map[string]string, error) {
	values, ok := res.([]any)
	if !ok || len(values)%2 != 0 {
		return nil, fmt.Errorf("%w: unexpected claim reply %T", ErrMalformed, res)
	}
	fields := make(map[string]string, len(values)/2)
	for i := 0; i < len(values); i += 2 {
		k, _ := values[i].(string)
		v, _ := values[i+1].(string)
		fields[k] = v
	}
	return fields, nil
}

func decodeHash(fields map[string]string) (Item, error) {
	var (
		item Item
		err  error
	)
	item.ID = fields["id"]
	if item.ID == "" {
		return Item{}, fmt.Errorf("%w: missing id", ErrMalformed)
	}
	if item.ProjectID, err = strconv.ParseInt(fields["project_id"], 10, 64); err != nil {
		return Item{}, fmt.Errorf("%w: project_id %q", ErrMalformed, fields["project_id"])
	}
	if item.CommentID, err = optionalInt64(fields["comment_id"]); err != nil {
		return Item{}, fmt.Errorf("%w: comment_id: %v", ErrMalformed, err)
	}
	if item.UserID, err = optionalInt64(fields["user_id"]); err != nil {
		return Item{}, fmt.Errorf("%w: user_id: %v", ErrMalformed, err)
	}
	if raw := fields["rating"]; raw != "" {
		rating, err := strconv.Atoi(raw)
		if err != nil {
			return Item{}, fmt.Errorf("%w: rating %q", ErrMalformed, raw)
		}
		item.Rating = &rating
	}
	item.Text = fields["text"]
	if item.State, err = ParseState(fields["state"]); err != nil {
		return Item{}, err
	}
	if raw := fields["processing_started_at"]; raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Item{}, fmt.Errorf("%w: processing_started_at %q", ErrMalformed, raw)
		}
		started := time.UnixMilli(ms).UTC()
		item.ProcessingStartedAt = &started
	}
	if raw := fields["attempts"]; raw != "" {
		if item.Attempts, err = strconv.Atoi(raw); err != nil {
			return Item{}, fmt.Errorf("%w: attempts %q", ErrMalformed, raw)
		}
	}
	item.LastError = fields["last_error"]
	if raw := fields["sentiment"]; raw != "" {
		var summary SentimentSummary
		if err := json.Unmarshal([]byte(raw), &summary); err != nil {
			return Item{}, fmt.Errorf("%w: sentiment: %v", ErrMalformed, err)
		}
		item.Sentiment = &summary
	}
	if raw := fields["created_at"]; raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Item{}, fmt.Errorf("%w: created_at %q", ErrMalformed, raw)
		}
		item.CreatedAt = time.UnixMilli(ms).UTC()
	}
	return item, nil
}

func optionalInt64(raw string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
