// Package metrics exposes Prometheus instrumentation for the aggregator,
// served on GET /metrics alongside the JSON /stats endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsReceived counts every event accepted past validation, before enqueue.
	EventsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aggregator_events_received_total",
		Help: "Total number of events accepted by the admission path",
	})

	// EventsUnique counts events the consumer persisted for the first time.
	EventsUnique = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aggregator_events_unique_total",
		Help: "Total number of events persisted as new by the consumer",
	})

	// EventsDuplicate counts events the consumer recognized as already processed.
	EventsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aggregator_events_duplicate_total",
		Help: "Total number of events dropped as duplicates by the consumer",
	})

	// EventsErrored counts events the consumer failed to persist for a reason
	// other than a duplicate fingerprint.
	EventsErrored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aggregator_events_errored_total",
		Help: "Total number of events the consumer failed to persist",
	})

	// QueueDepth reports the current number of events buffered ahead of the consumer.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aggregator_queue_depth",
		Help: "Current number of events buffered in the admission queue",
	})

	// HTTPRequestDuration tracks handler latency by route and status class.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aggregator_http_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method", "status"})
)
