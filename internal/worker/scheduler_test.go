package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"govfund/feedback/internal/feedback"
	"govfund/feedback/internal/sentiment"
)

func TestSchedulerDrainsBacklogAndStops(t *testing.T) {
	ctx := context.Background()
	queue := newTestQueue(t)
	ids := make([]string, 0, 3)
	for _, text := range []string{"great", "awful", "fine"} {
		item, err := queue.Insert(ctx, feedback.NewItem{ProjectID: 2, Text: text})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, item.ID)
	}

	w := New(queue, &fakeCommentCache{}, newTestScorer(t), testConfig())
	w.Start(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for {
		processed, err := queue.ListProcessedByProject(ctx, 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(processed) == len(ids) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("backlog not drained, %d of %d processed", len(processed), len(ids))
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The loop is now parked in its hour-long idle sleep; Stop must wake it.
	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestStopLetsInFlightCycleFinish(t *testing.T) {
	ctx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	queue := newTestQueue(t)
	item, _ := queue.Insert(ctx, feedback.NewItem{ProjectID: 1, Text: "great"})

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	slow := sentiment.ScorerFunc(func(context.Context, string) (sentiment.Result, error) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
		return sentiment.Result{Score: 1, Tokens: []string{"great"}}, nil
	})

	w := New(queue, &fakeCommentCache{}, slow, testConfig())
	w.Start(ctx)
	<-entered

	// Cancelling the run context mid-cycle must not abandon the claim.
	cancelRun()
	stopped := make(chan error, 1)
	go func() { stopped <- w.Stop(context.Background()) }()
	close(release)

	if err := <-stopped; err != nil {
		t.Fatalf("Stop: %v", err)
	}
	stored, err := queue.Get(context.Background(), item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.State != feedback.Processed {
		t.Errorf("in-flight item left in %s", stored.State)
	}
}

func TestStopWithoutStart(t *testing.T) {
	w := New(nil, nil, nil, testConfig())
	if err := w.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	// Start after Stop is a no-op.
	w.Start(context.Background())
}

func TestStopHonoursContextDeadline(t *testing.T) {
	ctx := context.Background()
	queue := newTestQueue(t)
	_, _ = queue.Insert(ctx, feedback.NewItem{ProjectID: 1, Text: "great"})

	entered := make(chan struct{})
	release := make(chan struct{})
	blocking := sentiment.ScorerFunc(func(context.Context, string) (sentiment.Result, error) {
		close(entered)
		<-release
		return sentiment.Result{}, nil
	})
	w := New(queue, &fakeCommentCache{}, blocking, testConfig())
	w.Start(ctx)
	<-entered

	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if err := w.Stop(stopCtx); err == nil {
		t.Fatal("expected deadline error while a cycle is blocked")
	}

	close(release)
	if err := w.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
