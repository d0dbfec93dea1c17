// Package main provides the aggregator service: an idempotent pub-sub log
// aggregator that deduplicates events by (topic, event_id) before persisting them.
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/aggregator-io/aggregator/internal/api"
	"github.com/aggregator-io/aggregator/internal/api/middleware"
	"github.com/aggregator-io/aggregator/internal/queue"
	"github.com/aggregator-io/aggregator/internal/ratelimit"
	"github.com/aggregator-io/aggregator/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "aggregator"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("starting aggregator service",
		slog.String("service", name),
		slog.String("version", version),
	)

	dbConfig := storage.LoadConfig()

	conn, err := connectWithRetry(dbConfig, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	store := storage.NewPostgresStore(conn)
	q := queue.New(queue.DefaultCapacity)

	var limiter *ratelimit.Limiter

	rlConfig := middleware.LoadRateLimitConfig()
	if rlConfig.Enabled {
		limiter = ratelimit.New(float64(rlConfig.RPS), rlConfig.Burst)
	}

	server := api.NewServer(&serverConfig, store, q, limiter)

	if err := server.Start(); err != nil {
		logger.Error("server failed to start", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("aggregator service stopped")
}

// connectWithRetry opens the database pool, retrying a fixed number of times
// with a fixed delay before giving up — the database may still be starting
// when this service does, in a typical container orchestration startup race.
func connectWithRetry(cfg *storage.Config, logger *slog.Logger) (*storage.Connection, error) {
	var (
		conn *storage.Connection
		err  error
	)

	for attempt := 1; attempt <= cfg.StartupRetries; attempt++ {
		conn, err = storage.NewConnection(cfg)
		if err == nil {
			return conn, nil
		}

		logger.Warn("database connection attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", cfg.StartupRetries),
			slog.String("error", err.Error()),
		)

		if attempt < cfg.StartupRetries {
			time.Sleep(cfg.StartupBackoff)
		}
	}

	return nil, err
}
