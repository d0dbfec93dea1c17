// Package consumer drains the admission queue and persists each event exactly
// once: check-then-insert against the dedup store, with running counters kept
// in step.
package consumer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aggregator-io/aggregator/internal/event"
	"github.com/aggregator-io/aggregator/internal/metrics"
	"github.com/aggregator-io/aggregator/internal/queue"
	"github.com/aggregator-io/aggregator/internal/storage"
)

// Worker is the single writer that drains the queue and applies each event to
// the store. Exactly one Worker should run against a given Queue/Store pair —
// the Bloom filter fast path assumes a single writer, and so does the
// dedup-then-insert ordering below.
type Worker struct {
	queue  *queue.Queue
	store  storage.Store
	logger *slog.Logger
}

// NewWorker builds a consumer worker over the given queue and store.
func NewWorker(q *queue.Queue, store storage.Store, logger *slog.Logger) *Worker {
	return &Worker{queue: q, store: store, logger: logger}
}

// Run processes events until ctx is canceled or the queue is closed. It never
// exits on a per-event error: a failure to persist one event increments the
// errored counter and moves on, so one bad event can't stall every event behind it.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-w.queue.Dequeue():
			if !ok {
				return
			}

			w.process(ctx, e)
		}
	}
}

func (w *Worker) process(ctx context.Context, e event.Event) {
	fp := e.Fingerprint()

	if w.queue.MaybeSeen(fp) {
		processed, err := w.store.IsProcessed(ctx, fp)
		if err != nil {
			w.logger.Error("dedup check failed", "topic", e.Topic, "event_id", e.EventID, "error", err)
			w.countError(ctx)

			return
		}

		if processed {
			w.countDuplicate(ctx)

			return
		}
	}

	inserted, err := w.store.MarkProcessed(ctx, e)
	if err != nil {
		w.logger.Error("mark processed failed", "topic", e.Topic, "event_id", e.EventID, "error", err)
		w.countError(ctx)

		return
	}

	if !inserted {
		w.countDuplicate(ctx)

		return
	}

	w.queue.MarkSeen(fp)
	w.countUnique(ctx)
}

func (w *Worker) countUnique(ctx context.Context) {
	metrics.EventsUnique.Inc()

	if err := w.store.IncrementStats(ctx, 0, 1, 0, 0); err != nil {
		w.logStatsError(err)
	}
}

func (w *Worker) countDuplicate(ctx context.Context) {
	metrics.EventsDuplicate.Inc()

	if err := w.store.IncrementStats(ctx, 0, 0, 1, 0); err != nil {
		w.logStatsError(err)
	}
}

func (w *Worker) countError(ctx context.Context) {
	metrics.EventsErrored.Inc()

	if err := w.store.IncrementStats(ctx, 0, 0, 0, 1); err != nil {
		w.logStatsError(err)
	}
}

func (w *Worker) logStatsError(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}

	w.logger.Error("increment stats failed", "error", err)
}
