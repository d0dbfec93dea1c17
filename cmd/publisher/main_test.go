package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/aggregator-io/aggregator/internal/event"
)

func TestGenerateEvent_PicksFromKnownPools(t *testing.T) {
	e := generateEvent()

	if e.EventID == "" {
		t.Error("generateEvent() should set an EventID")
	}

	foundTopic := false
	for _, topic := range topics {
		if e.Topic == topic {
			foundTopic = true
		}
	}
	if !foundTopic {
		t.Errorf("topic %q not in the known topic pool", e.Topic)
	}

	foundSource := false
	for _, source := range sources {
		if e.Source == source {
			foundSource = true
		}
	}
	if !foundSource {
		t.Errorf("source %q not in the known source pool", e.Source)
	}
}

func TestPickRandom_ReturnsAnExistingEntry(t *testing.T) {
	events := map[string]event.Event{
		"a": {EventID: "a", Topic: "logs.cache"},
		"b": {EventID: "b", Topic: "logs.cache"},
	}

	picked := pickRandom(events)

	if _, ok := events[picked.EventID]; !ok {
		t.Errorf("pickRandom() returned %q which is not in the source map", picked.EventID)
	}
}

func TestLoadConfig_UsesDefaultsWhenUnset(t *testing.T) {
	for _, key := range []string{"AGGREGATOR_URL", "PUBLISHER_WORKERS", "EVENT_COUNT", "DUPLICATE_RATE"} {
		original, had := os.LookupEnv(key)
		os.Unsetenv(key)

		if had {
			t.Cleanup(func() { os.Setenv(key, original) })
		}
	}

	cfg := loadConfig()

	if cfg.aggregatorURL != "http://aggregator:8080" {
		t.Errorf("aggregatorURL = %q, want default", cfg.aggregatorURL)
	}

	if cfg.workers != 3 {
		t.Errorf("workers = %d, want 3", cfg.workers)
	}
}

func TestPublishBatch_ReturnsAcceptedAndRejectedFromResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Events []event.Event `json:"events"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}

		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]int{"accepted": len(body.Events) - 1})
	}))
	defer server.Close()

	batch := []event.Event{
		{Topic: "logs.cache", EventID: "1", Source: "service-a"},
		{Topic: "logs.cache", EventID: "2", Source: "service-a"},
	}

	accepted, rejected := publishBatch(server.Client(), server.URL, batch, 0)

	if accepted != 1 || rejected != 1 {
		t.Errorf("accepted=%d rejected=%d, want 1/1", accepted, rejected)
	}
}

func TestPublishBatch_TreatsUnreachableServerAsFullyRejected(t *testing.T) {
	batch := []event.Event{{Topic: "logs.cache", EventID: "1", Source: "service-a"}}

	accepted, rejected := publishBatch(http.DefaultClient, "http://127.0.0.1:1", batch, 0)

	if accepted != 0 || rejected != 1 {
		t.Errorf("accepted=%d rejected=%d, want 0/1 when the target is unreachable", accepted, rejected)
	}
}

func TestWaitForAggregator_ReturnsTrueOnHealthyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	if !waitForAggregator(server.Client(), server.URL) {
		t.Error("waitForAggregator() should return true once /health responds 200")
	}
}
