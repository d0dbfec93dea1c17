package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/aggregator-io/aggregator/internal/event"
	"github.com/aggregator-io/aggregator/internal/queue"
	"github.com/aggregator-io/aggregator/internal/storage"
)

// fakeStore is an in-memory storage.Store used to exercise the consumer
// without a database.
type fakeStore struct {
	mu        sync.Mutex
	processed map[event.Fingerprint]bool
	stats     storage.Stats
	failMark  error
	failCheck error
}

func newFakeStore() *fakeStore {
	return &fakeStore{processed: make(map[event.Fingerprint]bool)}
}

func (f *fakeStore) IsProcessed(_ context.Context, fp event.Fingerprint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failCheck != nil {
		return false, f.failCheck
	}

	return f.processed[fp], nil
}

func (f *fakeStore) MarkProcessed(_ context.Context, e event.Event) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failMark != nil {
		return false, f.failMark
	}

	fp := e.Fingerprint()
	if f.processed[fp] {
		return false, nil
	}

	f.processed[fp] = true

	return true, nil
}

func (f *fakeStore) IncrementStats(_ context.Context, received, unique, duplicate, errored int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stats.Received += received
	f.stats.UniqueProcessed += unique
	f.stats.DuplicateDropped += duplicate
	f.stats.Errored += errored

	return nil
}

func (f *fakeStore) GetStats(_ context.Context) (storage.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.stats, nil
}

func (f *fakeStore) GetTopics(_ context.Context) ([]string, error) { return nil, nil }

func (f *fakeStore) GetEventsByTopic(_ context.Context, _ string, _ int) ([]storage.ProcessedEvent, error) {
	return nil, nil
}

func (f *fakeStore) Clear(_ context.Context) error { return nil }

func (f *fakeStore) HealthCheck(_ context.Context) error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWorker_ProcessNewEvent_CountsUnique(t *testing.T) {
	store := newFakeStore()
	q := queue.New(4)
	w := NewWorker(q, store, discardLogger())

	e := event.Event{Topic: "logs.cache", EventID: "1", Source: "service-a"}
	w.process(context.Background(), e)

	stats, _ := store.GetStats(context.Background())
	if stats.UniqueProcessed != 1 {
		t.Errorf("UniqueProcessed = %d, want 1", stats.UniqueProcessed)
	}

	if !q.MaybeSeen(e.Fingerprint()) {
		t.Error("fingerprint should be marked seen after a successful insert")
	}
}

func TestWorker_ProcessDuplicateViaBloomHit_CountsDuplicate(t *testing.T) {
	store := newFakeStore()
	q := queue.New(4)
	w := NewWorker(q, store, discardLogger())

	e := event.Event{Topic: "logs.cache", EventID: "1", Source: "service-a"}
	w.process(context.Background(), e)
	w.process(context.Background(), e)

	stats, _ := store.GetStats(context.Background())
	if stats.DuplicateDropped != 1 {
		t.Errorf("DuplicateDropped = %d, want 1", stats.DuplicateDropped)
	}

	if stats.UniqueProcessed != 1 {
		t.Errorf("UniqueProcessed = %d, want 1", stats.UniqueProcessed)
	}
}

func TestWorker_ProcessLostRaceAtInsert_CountsDuplicate(t *testing.T) {
	store := newFakeStore()
	// Pre-populate as if another writer already claimed this fingerprint,
	// without going through the bloom filter, so MarkProcessed is still reached.
	e := event.Event{Topic: "logs.cache", EventID: "1", Source: "service-a"}
	store.processed[e.Fingerprint()] = true

	q := queue.New(4)
	w := NewWorker(q, store, discardLogger())

	w.process(context.Background(), e)

	stats, _ := store.GetStats(context.Background())
	if stats.DuplicateDropped != 1 {
		t.Errorf("DuplicateDropped = %d, want 1", stats.DuplicateDropped)
	}
}

func TestWorker_ProcessMarkFailure_CountsError(t *testing.T) {
	store := newFakeStore()
	store.failMark = errors.New("boom")

	q := queue.New(4)
	w := NewWorker(q, store, discardLogger())

	w.process(context.Background(), event.Event{Topic: "logs.cache", EventID: "1", Source: "service-a"})

	stats, _ := store.GetStats(context.Background())
	if stats.Errored != 1 {
		t.Errorf("Errored = %d, want 1", stats.Errored)
	}
}

func TestWorker_Run_StopsOnContextCancel(t *testing.T) {
	store := newFakeStore()
	q := queue.New(4)
	w := NewWorker(q, store, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})

	go func() {
		w.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}

func TestWorker_Run_DrainsEnqueuedEvents(t *testing.T) {
	store := newFakeStore()
	q := queue.New(4)
	w := NewWorker(q, store, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go w.Run(ctx)

	e := event.Event{Topic: "logs.cache", EventID: "1", Source: "service-a"}
	if err := q.Enqueue(ctx, e); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		stats, _ := store.GetStats(ctx)
		if stats.UniqueProcessed == 1 {
			return
		}

		time.Sleep(10 * time.Millisecond)
	}

	t.Fatal("consumer did not process the enqueued event in time")
}
