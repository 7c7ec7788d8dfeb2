package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"govfund/feedback/internal/feedback"
	"govfund/feedback/internal/sentiment"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeCommentCache struct {
	updateFn func(ctx context.Context, commentID int64, summary json.RawMessage) (int64, error)
}

func (f *fakeCommentCache) UpdateCommentSentiment(ctx context.Context, commentID int64, summary json.RawMessage) (int64, error) {
	if f.updateFn == nil {
		return 1, nil
	}
	return f.updateFn(ctx, commentID, summary)
}

// recordingQueue logs commits next to the comment writes so tests can check
// which one happened first.
type recordingQueue struct {
	feedback.Store
	record func(event string)
}

func (q *recordingQueue) Commit(ctx context.Context, item feedback.Item, summary feedback.SentimentSummary) error {
	q.record("commit:" + item.ID)
	return q.Store.Commit(ctx, item, summary)
}

func newTestQueue(t *testing.T) *feedback.RedisStore {
	t.Helper()
	s := miniredis.RunT(t)
	store, err := feedback.NewRedisStore(context.Background(), "redis://"+s.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store
}

func newTestScorer(t *testing.T) sentiment.Scorer {
	t.Helper()
	scorer, err := sentiment.NewVader("")
	if err != nil {
		t.Fatalf("NewVader: %v", err)
	}
	return scorer
}

func testConfig() Config {
	return Config{
		PollInterval:      time.Hour,
		StaleClaimTimeout: time.Minute,
		ItemDelay:         time.Millisecond,
	}
}

func int64Ptr(v int64) *int64 { return &v }

func TestProcessDocumentWritesCommentBeforeCommit(t *testing.T) {
	ctx := context.Background()
	queue := newTestQueue(t)

	var (
		mu      sync.Mutex
		events  []string
		written json.RawMessage
	)
	record := func(e string) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}
	cache := &fakeCommentCache{updateFn: func(_ context.Context, id int64, summary json.RawMessage) (int64, error) {
		record("comment")
		written = summary
		return 1, nil
	}}

	item, _ := queue.Insert(ctx, feedback.NewItem{ProjectID: 1, CommentID: int64Ptr(11), Text: "Great park, love it"})
	w := New(&recordingQueue{Store: queue, record: record}, cache, newTestScorer(t), testConfig())

	ok, err := w.ProcessOne(ctx, nil)
	if err != nil || !ok {
		t.Fatalf("ProcessOne: ok=%v err=%v", ok, err)
	}

	if diff := cmp.Diff([]string{"comment", "commit:" + item.ID}, events); diff != "" {
		t.Fatalf("write order mismatch (-want +got):\n%s", diff)
	}

	stored, err := queue.Get(ctx, item.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.State != feedback.Processed || stored.Sentiment == nil {
		t.Fatalf("item not committed: %+v", stored)
	}
	var cached feedback.SentimentSummary
	if err := json.Unmarshal(written, &cached); err != nil {
		t.Fatalf("cached summary is not json: %v", err)
	}
	if diff := cmp.Diff(*stored.Sentiment, cached); diff != "" {
		t.Errorf("comment cache differs from committed sentiment (-queue +cache):\n%s", diff)
	}
	if cached.Score <= 0 {
		t.Errorf("expected a positive score, got %v", cached.Score)
	}
}

func TestProcessDocumentWithoutLinkedComment(t *testing.T) {
	ctx := context.Background()
	queue := newTestQueue(t)
	calls := 0
	cache := &fakeCommentCache{updateFn: func(context.Context, int64, json.RawMessage) (int64, error) {
		calls++
		return 1, nil
	}}
	item, _ := queue.Insert(ctx, feedback.NewItem{ProjectID: 1, Text: "terrible delays"})

	w := New(queue, cache, newTestScorer(t), testConfig())
	if ok, err := w.ProcessOne(ctx, nil); err != nil || !ok {
		t.Fatalf("ProcessOne: ok=%v err=%v", ok, err)
	}
	if calls != 0 {
		t.Errorf("comment cache touched for unlinked item")
	}
	stored, _ := queue.Get(ctx, item.ID)
	if stored.State != feedback.Processed || stored.Sentiment.Score >= 0 {
		t.Errorf("unexpected stored item: %+v", stored)
	}
}

func TestProcessDocumentRevertsOnFailure(t *testing.T) {
	tests := []struct {
		name   string
		cache  *fakeCommentCache
		scorer sentiment.Scorer
	}{
		{
			name: "comment vanished",
			cache: &fakeCommentCache{updateFn: func(context.Context, int64, json.RawMessage) (int64, error) {
				return 0, nil
			}},
		},
		{
			name: "comment update error",
			cache: &fakeCommentCache{updateFn: func(context.Context, int64, json.RawMessage) (int64, error) {
				return 0, errors.New("connection reset")
			}},
		},
		{
			name:  "scorer error",
			cache: &fakeCommentCache{},
			scorer: sentiment.ScorerFunc(func(context.Context, string) (sentiment.Result, error) {
				return sentiment.Result{}, errors.New("scorer unavailable")
			}),
		},
		{
			name:  "scorer panic",
			cache: &fakeCommentCache{},
			scorer: sentiment.ScorerFunc(func(context.Context, string) (sentiment.Result, error) {
				panic("boom")
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			queue := newTestQueue(t)
			item, _ := queue.Insert(ctx, feedback.NewItem{ProjectID: 1, CommentID: int64Ptr(5), Text: "good"})

			scorer := tt.scorer
			if scorer == nil {
				scorer = newTestScorer(t)
			}
			w := New(queue, tt.cache, scorer, testConfig())

			ok, err := w.ProcessOne(ctx, nil)
			if err != nil {
				t.Fatalf("ProcessOne: %v", err)
			}
			if ok {
				t.Fatal("expected failed processing to report false")
			}

			stored, _ := queue.Get(ctx, item.ID)
			if stored.State != feedback.Unprocessed || stored.ProcessingStartedAt != nil || stored.Sentiment != nil {
				t.Errorf("claim not reverted: %+v", stored)
			}
			if stored.LastError == "" {
				t.Errorf("expected last error to be recorded")
			}
		})
	}
}

func TestMaxAttemptsQuarantinesPoisonItem(t *testing.T) {
	ctx := context.Background()
	queue := newTestQueue(t)
	item, _ := queue.Insert(ctx, feedback.NewItem{ProjectID: 1, Text: "poison"})

	failing := sentiment.ScorerFunc(func(context.Context, string) (sentiment.Result, error) {
		return sentiment.Result{}, errors.New("cannot score")
	})
	cfg := testConfig()
	cfg.MaxAttempts = 2
	w := New(queue, &fakeCommentCache{}, failing, cfg)

	for i := 0; i < 2; i++ {
		if ok, err := w.ProcessOne(ctx, nil); ok || err != nil {
			t.Fatalf("attempt %d: ok=%v err=%v", i+1, ok, err)
		}
	}

	stored, _ := queue.Get(ctx, item.ID)
	if stored.State != feedback.Quarantined {
		t.Fatalf("expected quarantined after %d attempts, got %s", cfg.MaxAttempts, stored.State)
	}
	if next, err := w.ClaimOne(ctx, nil); next != nil || err != nil {
		t.Errorf("quarantined item is still claimable: %+v %v", next, err)
	}
}

func TestUnboundedRetryByDefault(t *testing.T) {
	ctx := context.Background()
	queue := newTestQueue(t)
	item, _ := queue.Insert(ctx, feedback.NewItem{ProjectID: 1, Text: "poison"})

	failing := sentiment.ScorerFunc(func(context.Context, string) (sentiment.Result, error) {
		return sentiment.Result{}, errors.New("cannot score")
	})
	w := New(queue, &fakeCommentCache{}, failing, testConfig())
	for i := 0; i < 5; i++ {
		_, _ = w.ProcessOne(ctx, nil)
	}
	stored, _ := queue.Get(ctx, item.ID)
	if stored.State != feedback.Unprocessed || stored.Attempts != 5 {
		t.Errorf("expected item back in queue after 5 attempts, got %+v", stored)
	}
}

func TestFailingItemDoesNotStarveQueue(t *testing.T) {
	ctx := context.Background()
	queue := newTestQueue(t)
	poison, _ := queue.Insert(ctx, feedback.NewItem{ProjectID: 1, Text: "poison"})
	healthy, _ := queue.Insert(ctx, feedback.NewItem{ProjectID: 1, Text: "good road"})

	scorer := newTestScorer(t)
	picky := sentiment.ScorerFunc(func(ctx context.Context, text string) (sentiment.Result, error) {
		if text == "poison" {
			return sentiment.Result{}, errors.New("cannot score")
		}
		return scorer.Analyze(ctx, text)
	})
	w := New(queue, &fakeCommentCache{}, picky, testConfig())

	for i := 0; i < 2; i++ {
		_, _ = w.ProcessOne(ctx, nil)
	}

	stored, _ := queue.Get(ctx, healthy.ID)
	if stored.State != feedback.Processed {
		t.Errorf("healthy item stuck behind failing one: state=%s", stored.State)
	}
	stored, _ = queue.Get(ctx, poison.ID)
	if stored.State != feedback.Unprocessed || stored.Attempts != 1 {
		t.Errorf("failing item should wait for retry: %+v", stored)
	}
}

func TestStaleClaimRecoveredByAnotherWorker(t *testing.T) {
	ctx := context.Background()
	queue := newTestQueue(t)
	item, _ := queue.Insert(ctx, feedback.NewItem{ProjectID: 1, Text: "great"})

	start := time.Now()
	crashed := New(queue, &fakeCommentCache{}, newTestScorer(t), testConfig())
	crashed.now = func() time.Time { return start }
	if claimed, _ := crashed.ClaimOne(ctx, nil); claimed == nil {
		t.Fatal("expected initial claim")
	}

	rescuer := New(queue, &fakeCommentCache{}, newTestScorer(t), testConfig())
	rescuer.now = func() time.Time { return start.Add(30 * time.Second) }
	if claimed, _ := rescuer.ClaimOne(ctx, nil); claimed != nil {
		t.Fatal("live claim must not be reclaimed")
	}

	rescuer.now = func() time.Time { return start.Add(2 * time.Minute) }
	ok, err := rescuer.ProcessOne(ctx, nil)
	if err != nil || !ok {
		t.Fatalf("rescue: ok=%v err=%v", ok, err)
	}
	stored, _ := queue.Get(ctx, item.ID)
	if stored.State != feedback.Processed || stored.Attempts != 2 {
		t.Errorf("unexpected item after rescue: %+v", stored)
	}
}

func TestTwoWorkersRaceForOneItem(t *testing.T) {
	ctx := context.Background()
	queue := newTestQueue(t)
	_, _ = queue.Insert(ctx, feedback.NewItem{ProjectID: 1, CommentID: int64Ptr(1), Text: "great"})

	a := New(queue, &fakeCommentCache{}, newTestScorer(t), testConfig())
	b := New(queue, &fakeCommentCache{}, newTestScorer(t), testConfig())

	claimedA, err := a.ClaimOne(ctx, nil)
	if err != nil || claimedA == nil {
		t.Fatalf("worker a claim: %v %v", claimedA, err)
	}
	if claimedB, err := b.ClaimOne(ctx, nil); err != nil || claimedB != nil {
		t.Fatalf("worker b must see no claimable item, got %+v %v", claimedB, err)
	}
	if !a.ProcessDocument(ctx, *claimedA) {
		t.Fatal("worker a failed to commit")
	}

	// Same race with both workers running concurrently.
	queue2 := newTestQueue(t)
	_, _ = queue2.Insert(ctx, feedback.NewItem{ProjectID: 1, Text: "great"})
	var successes atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		w := New(queue2, &fakeCommentCache{}, newTestScorer(t), testConfig())
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := w.ProcessOne(ctx, nil); ok {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()
	if successes.Load() != 1 {
		t.Errorf("expected exactly one successful worker, got %d", successes.Load())
	}
}

func TestUnscoredCommentKeepsEmptyCache(t *testing.T) {
	ctx := context.Background()
	queue := newTestQueue(t)
	item, _ := queue.Insert(ctx, feedback.NewItem{ProjectID: 1, CommentID: int64Ptr(3), Text: "fine"})

	writes := 0
	cache := &fakeCommentCache{updateFn: func(context.Context, int64, json.RawMessage) (int64, error) {
		writes++
		return 1, nil
	}}
	down := sentiment.ScorerFunc(func(context.Context, string) (sentiment.Result, error) {
		return sentiment.Result{}, errors.New("scorer unavailable")
	})
	w := New(queue, cache, down, testConfig())
	for i := 0; i < 3; i++ {
		_, _ = w.ProcessOne(ctx, nil)
	}
	if writes != 0 {
		t.Errorf("comment cache written %d times without a score", writes)
	}
	stored, _ := queue.Get(ctx, item.ID)
	if stored.Sentiment != nil {
		t.Errorf("unscored item carries sentiment: %+v", stored.Sentiment)
	}
}

func TestProcessOneTargetsComment(t *testing.T) {
	ctx := context.Background()
	queue := newTestQueue(t)
	_, _ = queue.Insert(ctx, feedback.NewItem{ProjectID: 1, CommentID: int64Ptr(1), Text: "first"})
	target, _ := queue.Insert(ctx, feedback.NewItem{ProjectID: 1, CommentID: int64Ptr(2), Text: "second"})

	w := New(queue, &fakeCommentCache{}, newTestScorer(t), testConfig())
	if ok, err := w.ProcessOne(ctx, int64Ptr(2)); !ok || err != nil {
		t.Fatalf("ProcessOne: ok=%v err=%v", ok, err)
	}
	stored, _ := queue.Get(ctx, target.ID)
	if stored.State != feedback.Processed {
		t.Errorf("targeted item not processed: %+v", stored)
	}
	if ok, _ := w.ProcessOne(ctx, int64Ptr(42)); ok {
		t.Error("expected nothing to process for unknown comment")
	}
}
