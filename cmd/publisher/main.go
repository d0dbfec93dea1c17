// Package main implements a load-generating publisher: a configurable number
// of workers generate synthetic log events across a fixed topic/source pool
// and POST them to the aggregator, re-sending a fraction of previously
// generated event IDs to exercise the dedup path.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aggregator-io/aggregator/internal/event"
)

var topics = []string{
	"logs.authentication",
	"logs.payment",
	"logs.inventory",
	"logs.user_service",
	"logs.notification",
	"logs.database",
	"logs.cache",
	"logs.api_gateway",
}

var sources = []string{
	"service-a",
	"service-b",
	"service-c",
	"worker-1",
	"worker-2",
	"scheduler",
	"batch-job",
}

var logLevels = []string{"DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL"}

type config struct {
	aggregatorURL string
	workers       int
	eventCount    int
	duplicateRate float64
}

func loadConfig() config {
	return config{
		aggregatorURL: getEnv("AGGREGATOR_URL", "http://aggregator:8080"),
		workers:       getEnvInt("PUBLISHER_WORKERS", 3),
		eventCount:    getEnvInt("EVENT_COUNT", 50000),
		duplicateRate: getEnvFloat("DUPLICATE_RATE", 0.35),
	}
}

func main() {
	cfg := loadConfig()

	client := &http.Client{Timeout: 30 * time.Second}

	log.Printf("starting publisher with %d workers", cfg.workers)
	log.Printf("total events to generate: %d", cfg.eventCount)
	log.Printf("duplicate rate: %.1f%%", cfg.duplicateRate*100)
	log.Printf("target aggregator: %s", cfg.aggregatorURL)

	if !waitForAggregator(client, cfg.aggregatorURL) {
		log.Fatal("aggregator failed to start in time")
	}

	start := time.Now()
	eventsPerWorker := cfg.eventCount / cfg.workers

	var wg sync.WaitGroup

	var (
		totalSent   int64
		totalFailed int64
		mu          sync.Mutex
	)

	for i := 0; i < cfg.workers; i++ {
		wg.Add(1)

		go func(workerID int) {
			defer wg.Done()

			sent, failed := runWorker(client, cfg, workerID, eventsPerWorker)

			mu.Lock()
			totalSent += sent
			totalFailed += failed
			mu.Unlock()
		}(i)
	}

	wg.Wait()

	elapsed := time.Since(start).Seconds()
	log.Printf("publisher completed in %.2fs", elapsed)
	log.Printf("throughput: %.0f events/second", float64(cfg.eventCount)/elapsed)
	log.Printf("sent=%d failed=%d", totalSent, totalFailed)

	time.Sleep(2 * time.Second)
	reportStats(client, cfg.aggregatorURL)
}

// runWorker generates and publishes events in random-sized batches, re-sending
// a fraction of previously generated events instead of a fresh one to exercise
// the dedup path.
func runWorker(client *http.Client, cfg config, workerID, eventsPerWorker int) (sent, failed int64) {
	log.Printf("worker %d started", workerID)

	sentEvents := make(map[string]event.Event)

	for generated := 0; generated < eventsPerWorker; {
		batchSize := 5 + rand.Intn(46) //nolint:gosec // load-gen randomness, not security sensitive
		if remaining := eventsPerWorker - generated; batchSize > remaining {
			batchSize = remaining
		}

		generated += batchSize

		batch := make([]event.Event, 0, batchSize)

		for j := 0; j < batchSize; j++ {
			if len(sentEvents) > 0 && rand.Float64() < cfg.duplicateRate { //nolint:gosec
				batch = append(batch, pickRandom(sentEvents))

				continue
			}

			e := generateEvent()
			sentEvents[e.EventID] = e
			batch = append(batch, e)
		}

		accepted, rejected := publishBatch(client, cfg.aggregatorURL, batch, workerID)
		sent += int64(accepted)
		failed += int64(rejected)

		time.Sleep(time.Duration(10+rand.Intn(90)) * time.Millisecond) //nolint:gosec
	}

	log.Printf("worker %d finished: sent=%d failed=%d unique_events_tracked=%d",
		workerID, sent, failed, len(sentEvents))

	return sent, failed
}

func generateEvent() event.Event {
	return event.Event{
		Topic:     topics[rand.Intn(len(topics))],     //nolint:gosec
		EventID:   uuid.NewString(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Source:    sources[rand.Intn(len(sources))], //nolint:gosec
		Payload: map[string]interface{}{
			"level":          logLevels[rand.Intn(len(logLevels))], //nolint:gosec
			"message":        fmt.Sprintf("Log message %d", 1+rand.Intn(10000)),
			"duration_ms":    1 + rand.Intn(5000),
			"status":         []string{"success", "partial", "failed"}[rand.Intn(3)], //nolint:gosec
			"user_id":        fmt.Sprintf("user-%d", 1+rand.Intn(10000)),
			"transaction_id": uuid.NewString(),
		},
	}
}

func pickRandom(events map[string]event.Event) event.Event {
	idx := rand.Intn(len(events)) //nolint:gosec

	i := 0

	for _, e := range events {
		if i == idx {
			return e
		}

		i++
	}

	panic("unreachable")
}

// publishBatch POSTs a batch to /publish and returns (accepted, rejected).
func publishBatch(client *http.Client, baseURL string, batch []event.Event, workerID int) (int, int) {
	body, err := json.Marshal(map[string]interface{}{"events": batch})
	if err != nil {
		log.Printf("worker %d: failed to encode batch: %v", workerID, err)

		return 0, len(batch)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/publish", bytes.NewReader(body))
	if err != nil {
		return 0, len(batch)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		log.Printf("worker %d: error publishing batch: %v", workerID, err)

		return 0, len(batch)
	}

	defer resp.Body.Close()

	var result struct {
		Accepted int `json:"accepted"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, len(batch)
	}

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		log.Printf("worker %d: publish failed with status %d", workerID, resp.StatusCode)

		return 0, len(batch)
	}

	return result.Accepted, len(batch) - result.Accepted
}

func waitForAggregator(client *http.Client, baseURL string) bool {
	log.Println("waiting for aggregator to be ready...")

	const maxRetries = 30

	for attempt := 0; attempt < maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
		if err == nil {
			resp, err := client.Do(req)
			if err == nil {
				resp.Body.Close()

				if resp.StatusCode == http.StatusOK {
					cancel()
					log.Println("aggregator is ready")

					return true
				}
			}
		}

		cancel()
		time.Sleep(time.Second)
	}

	return false
}

func reportStats(client *http.Client, baseURL string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/stats", nil)
	if err != nil {
		return
	}

	resp, err := client.Do(req)
	if err != nil {
		log.Printf("error fetching stats: %v", err)

		return
	}

	defer resp.Body.Close()

	var stats struct {
		Received         int64   `json:"received"`
		UniqueProcessed  int64   `json:"unique_processed"`
		DuplicateDropped int64   `json:"duplicate_dropped"`
		UniqueRate       float64 `json:"unique_rate"`
		DuplicateRate    float64 `json:"duplicate_rate"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		log.Printf("error decoding stats: %v", err)

		return
	}

	log.Println("final aggregator stats:")
	log.Printf("  received: %d", stats.Received)
	log.Printf("  unique processed: %d", stats.UniqueProcessed)
	log.Printf("  duplicates dropped: %d", stats.DuplicateDropped)
	log.Printf("  unique rate: %.2f%%", stats.UniqueRate)
	log.Printf("  duplicate rate: %.2f%%", stats.DuplicateRate)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}

	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}

	return def
}
