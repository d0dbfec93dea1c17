package main

import (
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/aggregator-io/aggregator/internal/storage"
)

func TestConnectWithRetry_GivesUpAfterConfiguredAttempts(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	original, had := os.LookupEnv("DATABASE_URL")
	os.Setenv("DATABASE_URL", "postgres://nonexistent-host-for-test:5432/nope?connect_timeout=1") // pragma: allowlist secret
	t.Cleanup(func() {
		if had {
			os.Setenv("DATABASE_URL", original)
		} else {
			os.Unsetenv("DATABASE_URL")
		}
	})

	cfg := storage.LoadConfig()
	cfg.StartupRetries = 2
	cfg.StartupBackoff = 10 * time.Millisecond

	_, err := connectWithRetry(cfg, logger)
	if err == nil {
		t.Fatal("connectWithRetry should fail when the database is unreachable")
	}
}
