package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/aggregator-io/aggregator/internal/config"
	"github.com/aggregator-io/aggregator/internal/event"
)

func newTestStore(ctx context.Context, t *testing.T) *PostgresStore {
	t.Helper()

	testDB := config.SetupTestDatabase(ctx, t)
	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	conn := &Connection{DB: testDB.Connection}

	return NewPostgresStore(conn)
}

func TestPostgresStore_MarkProcessed_FirstInsertSucceeds(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store := newTestStore(ctx, t)

	e := event.Event{Topic: "logs.cache", EventID: "1", Source: "service-a", Timestamp: "2026-01-01T00:00:00Z"}

	inserted, err := store.MarkProcessed(ctx, e)
	require.NoError(t, err)
	require.True(t, inserted, "first insert of a fingerprint should succeed")
}

func TestPostgresStore_MarkProcessed_SecondInsertIsNoop(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store := newTestStore(ctx, t)

	e := event.Event{Topic: "logs.cache", EventID: "1", Source: "service-a", Timestamp: "2026-01-01T00:00:00Z"}

	_, err := store.MarkProcessed(ctx, e)
	require.NoError(t, err)

	inserted, err := store.MarkProcessed(ctx, e)
	require.NoError(t, err)
	require.False(t, inserted, "duplicate fingerprint should not be inserted twice")
}

func TestPostgresStore_IsProcessed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store := newTestStore(ctx, t)

	fp := event.Fingerprint{Topic: "logs.cache", EventID: "1"}

	processed, err := store.IsProcessed(ctx, fp)
	require.NoError(t, err)
	require.False(t, processed)

	_, err = store.MarkProcessed(ctx, event.Event{
		Topic: fp.Topic, EventID: fp.EventID, Source: "service-a", Timestamp: "2026-01-01T00:00:00Z",
	})
	require.NoError(t, err)

	processed, err = store.IsProcessed(ctx, fp)
	require.NoError(t, err)
	require.True(t, processed)
}

func TestPostgresStore_IncrementStats_AccumulatesDeltas(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store := newTestStore(ctx, t)

	require.NoError(t, store.IncrementStats(ctx, 3, 1, 1, 1))
	require.NoError(t, store.IncrementStats(ctx, 2, 1, 0, 0))

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(5), stats.Received)
	require.Equal(t, int64(2), stats.UniqueProcessed)
	require.Equal(t, int64(1), stats.DuplicateDropped)
	require.Equal(t, int64(1), stats.Errored)
}

func TestPostgresStore_GetEventsByTopic_OldestProcessedFirst(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store := newTestStore(ctx, t)

	for _, id := range []string{"1", "2", "3"} {
		_, err := store.MarkProcessed(ctx, event.Event{
			Topic: "logs.cache", EventID: id, Source: "service-a", Timestamp: "2026-01-01T00:00:00Z",
			Payload: map[string]interface{}{"seq": id},
		})
		require.NoError(t, err)
	}

	events, err := store.GetEventsByTopic(ctx, "logs.cache", 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, "1", events[0].EventID, "events should be ordered oldest-processed first")
	require.Equal(t, "3", events[2].EventID)
}

func TestPostgresStore_GetEventsByTopic_EmptyTopicReturnsAllTopics(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store := newTestStore(ctx, t)

	_, err := store.MarkProcessed(ctx, event.Event{
		Topic: "logs.cache", EventID: "1", Source: "service-a", Timestamp: "2026-01-01T00:00:00Z",
	})
	require.NoError(t, err)

	_, err = store.MarkProcessed(ctx, event.Event{
		Topic: "logs.payment", EventID: "2", Source: "service-b", Timestamp: "2026-01-01T00:00:00Z",
	})
	require.NoError(t, err)

	events, err := store.GetEventsByTopic(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, events, 2, "an empty topic should return events across all topics")
}

func TestPostgresStore_GetTopics_DistinctOnly(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store := newTestStore(ctx, t)

	_, err := store.MarkProcessed(ctx, event.Event{
		Topic: "logs.cache", EventID: "1", Source: "service-a", Timestamp: "2026-01-01T00:00:00Z",
	})
	require.NoError(t, err)

	_, err = store.MarkProcessed(ctx, event.Event{
		Topic: "logs.payment", EventID: "2", Source: "service-b", Timestamp: "2026-01-01T00:00:00Z",
	})
	require.NoError(t, err)

	topics, err := store.GetTopics(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"logs.cache", "logs.payment"}, topics)
}

func TestPostgresStore_Clear_ResetsTablesAndStats(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store := newTestStore(ctx, t)

	_, err := store.MarkProcessed(ctx, event.Event{
		Topic: "logs.cache", EventID: "1", Source: "service-a", Timestamp: "2026-01-01T00:00:00Z",
	})
	require.NoError(t, err)
	require.NoError(t, store.IncrementStats(ctx, 1, 1, 0, 0))

	require.NoError(t, store.Clear(ctx))

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Received)
	require.Zero(t, stats.UniqueProcessed)

	topics, err := store.GetTopics(ctx)
	require.NoError(t, err)
	require.Empty(t, topics)
}

func TestPostgresStore_HealthCheck(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store := newTestStore(ctx, t)

	require.NoError(t, store.HealthCheck(ctx))
}
