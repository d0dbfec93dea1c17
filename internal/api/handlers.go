package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/aggregator-io/aggregator/internal/event"
	"github.com/aggregator-io/aggregator/internal/metrics"
)

const serviceVersion = "1.0.0"

const defaultEventsLimit = 100

// healthResponse is the body returned by GET /health.
type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.HealthCheck(r.Context()); err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("database unavailable"))

		return
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   serviceVersion,
	})
}

// publishResponse mirrors the accepted/rejected accounting the admission path produces.
type publishResponse struct {
	Status   string         `json:"status"`
	Count    int            `json:"count"`
	Accepted int            `json:"accepted"`
	Rejected int            `json:"rejected"`
	Errors   []publishError `json:"errors,omitempty"`
}

type publishError struct {
	Index   int    `json:"index"`
	EventID string `json:"event_id,omitempty"`
	Error   string `json:"error"`
}

// handlePublish validates and admits one or more events. Each event is judged
// independently: a bad event in a batch does not reject its siblings. Received
// is counted once per event that passes validation, right before that event is
// enqueued — never before validation, never twice. An event whose enqueue is
// canceled is reported as rejected but stays counted as received.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req event.PublishRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("invalid request body"))

		return
	}

	resp := publishResponse{Status: "accepted", Count: len(req.Events)}

	for i, e := range req.Events {
		if err := s.validator.Validate(e); err != nil {
			resp.Rejected++
			resp.Errors = append(resp.Errors, publishError{Index: i, EventID: e.EventID, Error: err.Error()})

			continue
		}

		e.ApplyDefaults()

		metrics.EventsReceived.Inc()

		if err := s.store.IncrementStats(r.Context(), 1, 0, 0, 0); err != nil {
			s.logger.Error("increment received failed", "error", err)
		}

		if err := s.queue.Enqueue(r.Context(), e); err != nil {
			resp.Rejected++
			resp.Errors = append(resp.Errors, publishError{Index: i, EventID: e.EventID, Error: "enqueue canceled"})

			continue
		}

		resp.Accepted++
	}

	metrics.QueueDepth.Set(float64(s.queue.Len()))

	writeJSON(w, http.StatusAccepted, resp)
}

type eventPayload struct {
	Topic     string                 `json:"topic"`
	EventID   string                 `json:"event_id"`
	Timestamp string                 `json:"timestamp"`
	Source    string                 `json:"source"`
	Payload   map[string]interface{} `json:"payload"`
}

// handleListEvents returns processed events, optionally filtered by the
// "topic" query parameter; an absent or empty topic returns events across
// all topics.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")

	records, err := s.store.GetEventsByTopic(r.Context(), topic, defaultEventsLimit)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to load events"))

		return
	}

	payloads := make([]eventPayload, 0, len(records))
	for _, rec := range records {
		payloads = append(payloads, eventPayload{
			Topic:     rec.Topic,
			EventID:   rec.EventID,
			Timestamp: rec.Timestamp,
			Source:    rec.Source,
			Payload:   rec.Payload,
		})
	}

	writeJSON(w, http.StatusOK, payloads)
}

// statsResponse mirrors the running counters and their derived percentages.
type statsResponse struct {
	Received         int64   `json:"received"`
	UniqueProcessed  int64   `json:"unique_processed"`
	DuplicateDropped int64   `json:"duplicate_dropped"`
	Errored          int64   `json:"errored_count"`
	UniqueRate       float64 `json:"unique_rate"`
	DuplicateRate    float64 `json:"duplicate_rate"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.GetStats(r.Context())
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to load stats"))

		return
	}

	resp := statsResponse{
		Received:         st.Received,
		UniqueProcessed:  st.UniqueProcessed,
		DuplicateDropped: st.DuplicateDropped,
		Errored:          st.Errored,
	}

	if st.Received > 0 {
		resp.UniqueRate = roundPercent(float64(st.UniqueProcessed) / float64(st.Received) * 100)
		resp.DuplicateRate = roundPercent(float64(st.DuplicateDropped) / float64(st.Received) * 100)
	}

	writeJSON(w, http.StatusOK, resp)
}

// infoResponse describes the running service: identity, feature set, and uptime.
type infoResponse struct {
	Service           string   `json:"service"`
	Version           string   `json:"version"`
	Features          []string `json:"features"`
	UptimeSeconds     float64  `json:"uptime_seconds"`
	TotalUniqueEvents int64    `json:"total_unique_events"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.GetStats(r.Context())
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to load stats"))

		return
	}

	writeJSON(w, http.StatusOK, infoResponse{
		Service: "aggregator",
		Version: serviceVersion,
		Features: []string{
			"idempotent-publish",
			"topic-filtering",
			"duplicate-detection",
			"bloom-filter-fast-path",
			"prometheus-metrics",
		},
		UptimeSeconds:     time.Since(s.startTime).Seconds(),
		TotalUniqueEvents: st.UniqueProcessed,
	})
}

// adminClearResponse confirms the reset to the caller.
type adminClearResponse struct {
	Status string `json:"status"`
}

// handleAdminClear truncates both event tables and resets the counters. Destructive.
func (s *Server) handleAdminClear(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Clear(r.Context()); err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to clear data"))

		return
	}

	writeJSON(w, http.StatusOK, adminClearResponse{Status: "cleared"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func roundPercent(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
