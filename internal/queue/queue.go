// Package queue buffers admitted events between the HTTP admission path and the
// single consumer worker that persists them, and fronts the dedup check with an
// in-memory Bloom filter fast path.
package queue

import (
	"context"
	"errors"

	"github.com/willf/bloom"

	"github.com/aggregator-io/aggregator/internal/event"
)

// DefaultCapacity is the bounded channel size: enough to absorb a burst while the
// consumer catches up, small enough that a stuck consumer still applies backpressure
// to publishers within a second or two under realistic load.
const DefaultCapacity = 10_000

// bloomEstimatedItems and bloomFalsePositiveRate size the consumer-side dedup
// fast path; see MaybeSeen/MarkSeen below.
const (
	bloomEstimatedItems    = 1_000_000
	bloomFalsePositiveRate = 0.01
)

// ErrFull is returned by TryEnqueue when the queue is at capacity.
var ErrFull = errors.New("queue: at capacity")

// Queue is a bounded, single-consumer channel of admitted events, plus a
// Bloom filter of fingerprints already persisted by the consumer.
//
// The filter is an optimization, never a correctness boundary: a negative
// result proves the event is new (skip the DB round trip), a positive result
// still requires the authoritative dedup-store check, since the filter can
// false-positive. It is populated only after a successful write, and needs no
// extra synchronization beyond what willf/bloom gives a single writer, because
// exactly one consumer ever calls MarkSeen.
type Queue struct {
	ch     chan event.Event
	filter *bloom.BloomFilter
}

// New creates a queue with the given channel capacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Queue{
		ch:     make(chan event.Event, capacity),
		filter: bloom.NewWithEstimates(bloomEstimatedItems, bloomFalsePositiveRate),
	}
}

// Enqueue blocks until there is room, or ctx is done. This is the default
// admission behavior: the queue's backpressure is preferred over dropping work.
func (q *Queue) Enqueue(ctx context.Context, e event.Event) error {
	select {
	case q.ch <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEnqueue attempts a non-blocking send, returning ErrFull immediately if the
// queue is saturated. Reserved for callers that opt out of blocking admission.
func (q *Queue) TryEnqueue(e event.Event) error {
	select {
	case q.ch <- e:
		return nil
	default:
		return ErrFull
	}
}

// Dequeue returns the channel the consumer ranges over.
func (q *Queue) Dequeue() <-chan event.Event {
	return q.ch
}

// Len reports the current queue depth, for the queue-depth metric gauge.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap reports the queue's configured capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// MaybeSeen reports whether the fingerprint might already be persisted. false
// is a proof of absence; true means "check the database to be sure."
func (q *Queue) MaybeSeen(fp event.Fingerprint) bool {
	return q.filter.TestString(fp.String())
}

// MarkSeen records a fingerprint as persisted, called only after a successful
// MarkProcessed.
func (q *Queue) MarkSeen(fp event.Fingerprint) {
	q.filter.AddString(fp.String())
}
