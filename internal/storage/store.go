package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/aggregator-io/aggregator/internal/event"
)

// serializationFailure is the Postgres SQLSTATE for a serializable transaction
// that lost a write-write race and must be retried by the caller.
const serializationFailure = "40001"

const maxTxRetries = 3

// ErrNotFound is returned by GetStats when the stats row is missing.
var ErrNotFound = errors.New("storage: not found")

// Stats mirrors the running counters exposed through /stats and /metrics.
type Stats struct {
	Received         int64
	UniqueProcessed  int64
	DuplicateDropped int64
	Errored          int64
}

// ProcessedEvent is a row of the processed-event log, as returned by GetEventsByTopic.
type ProcessedEvent struct {
	Topic       string
	EventID     string
	Timestamp   string
	Source      string
	Payload     map[string]interface{}
	ReceivedAt  time.Time
	ProcessedAt time.Time
}

// Store is the persistence boundary the consumer and the HTTP handlers depend on.
// A single Postgres-backed implementation satisfies it; tests may substitute a fake.
type Store interface {
	IsProcessed(ctx context.Context, fp event.Fingerprint) (bool, error)
	MarkProcessed(ctx context.Context, e event.Event) (inserted bool, err error)
	IncrementStats(ctx context.Context, received, unique, duplicate, errored int64) error
	GetStats(ctx context.Context) (Stats, error)
	GetTopics(ctx context.Context) ([]string, error)
	GetEventsByTopic(ctx context.Context, topic string, limit int) ([]ProcessedEvent, error)
	Clear(ctx context.Context) error
	HealthCheck(ctx context.Context) error
}

// PostgresStore implements Store against the embedded schema in
// internal/storage/migrations.
type PostgresStore struct {
	conn *Connection
}

// NewPostgresStore wraps an established connection pool as a Store.
func NewPostgresStore(conn *Connection) *PostgresStore {
	return &PostgresStore{conn: conn}
}

// IsProcessed reports whether the fingerprint is already recorded in the dedup store.
// This is the single source of truth for dedup; any in-memory fast path (see
// internal/queue) only ever narrows how often this runs, never replaces it.
func (s *PostgresStore) IsProcessed(ctx context.Context, fp event.Fingerprint) (bool, error) {
	var exists bool

	err := s.conn.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM dedup_store WHERE topic = $1 AND event_id = $2)`,
		fp.Topic, fp.EventID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("is processed: %w", err)
	}

	return exists, nil
}

// MarkProcessed records the event as processed. It returns inserted=false without
// error when another writer already claimed the fingerprint — that is the
// expected duplicate path, not a failure.
//
// Two statements, one transaction: the dedup_store insert is the uniqueness
// gate, the processed_events insert is the durable log. Kept as its own
// transaction from IncrementStats (see the stats update below) so a retried
// insert never double-counts a statistic.
func (s *PostgresStore) MarkProcessed(ctx context.Context, e event.Event) (bool, error) {
	var inserted bool

	err := s.withSerializableTx(ctx, func(tx *sql.Tx) error {
		var dedupID int64

		err := tx.QueryRowContext(ctx,
			`INSERT INTO dedup_store (topic, event_id) VALUES ($1, $2)
			 ON CONFLICT (topic, event_id) DO NOTHING
			 RETURNING id`,
			e.Topic, e.EventID,
		).Scan(&dedupID)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			inserted = false

			return nil
		case err != nil:
			return fmt.Errorf("insert dedup_store: %w", err)
		}

		payload, err := e.MarshalPayload()
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO processed_events (topic, event_id, timestamp, source, payload)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (topic, event_id) DO NOTHING`,
			e.Topic, e.EventID, e.Timestamp, e.Source, payload,
		)
		if err != nil {
			return fmt.Errorf("insert processed_events: %w", err)
		}

		inserted = true

		return nil
	})

	return inserted, err
}

// IncrementStats applies commutative deltas to the single event_stats row.
// Deltas may be zero; callers pass only the counters that changed.
func (s *PostgresStore) IncrementStats(ctx context.Context, received, unique, duplicate, errored int64) error {
	return s.withSerializableTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE event_stats
			 SET received = received + $1,
			     unique_processed = unique_processed + $2,
			     duplicate_dropped = duplicate_dropped + $3,
			     errored = errored + $4
			 WHERE id = 1`,
			received, unique, duplicate, errored,
		)
		if err != nil {
			return fmt.Errorf("increment stats: %w", err)
		}

		return nil
	})
}

// GetStats returns the current counters.
func (s *PostgresStore) GetStats(ctx context.Context) (Stats, error) {
	var st Stats

	err := s.conn.QueryRowContext(ctx,
		`SELECT received, unique_processed, duplicate_dropped, errored FROM event_stats WHERE id = 1`,
	).Scan(&st.Received, &st.UniqueProcessed, &st.DuplicateDropped, &st.Errored)
	if errors.Is(err, sql.ErrNoRows) {
		return Stats{}, ErrNotFound
	}

	if err != nil {
		return Stats{}, fmt.Errorf("get stats: %w", err)
	}

	return st, nil
}

// GetTopics returns the distinct topics that have at least one processed event.
func (s *PostgresStore) GetTopics(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT DISTINCT topic FROM processed_events ORDER BY topic`)
	if err != nil {
		return nil, fmt.Errorf("get topics: %w", err)
	}

	defer rows.Close()

	var topics []string

	for rows.Next() {
		var topic string

		if err := rows.Scan(&topic); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}

		topics = append(topics, topic)
	}

	return topics, rows.Err()
}

// GetEventsByTopic returns processed events in processed_at order, oldest first.
// An empty topic returns events across all topics.
func (s *PostgresStore) GetEventsByTopic(ctx context.Context, topic string, limit int) ([]ProcessedEvent, error) {
	var (
		rows *sql.Rows
		err  error
	)

	if topic != "" {
		rows, err = s.conn.QueryContext(ctx,
			`SELECT topic, event_id, timestamp, source, payload, received_at, processed_at
			 FROM processed_events WHERE topic = $1 ORDER BY processed_at ASC LIMIT $2`,
			topic, limit,
		)
	} else {
		rows, err = s.conn.QueryContext(ctx,
			`SELECT topic, event_id, timestamp, source, payload, received_at, processed_at
			 FROM processed_events ORDER BY processed_at ASC LIMIT $1`,
			limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("get events by topic: %w", err)
	}

	defer rows.Close()

	var events []ProcessedEvent

	for rows.Next() {
		var (
			pe      ProcessedEvent
			payload []byte
		)

		if err := rows.Scan(&pe.Topic, &pe.EventID, &pe.Timestamp, &pe.Source, &payload,
			&pe.ReceivedAt, &pe.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scan processed event: %w", err)
		}

		pe.Payload, err = decodePayload(payload)
		if err != nil {
			return nil, err
		}

		events = append(events, pe)
	}

	return events, rows.Err()
}

// Clear truncates both event tables and resets the running counters. Destructive;
// used by the admin reset endpoint and test fixtures only.
func (s *PostgresStore) Clear(ctx context.Context) error {
	return s.withSerializableTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `TRUNCATE dedup_store, processed_events CASCADE`); err != nil {
			return fmt.Errorf("truncate tables: %w", err)
		}

		_, err := tx.ExecContext(ctx,
			`UPDATE event_stats SET received = 0, unique_processed = 0, duplicate_dropped = 0, errored = 0 WHERE id = 1`,
		)
		if err != nil {
			return fmt.Errorf("reset stats: %w", err)
		}

		return nil
	})
}

// HealthCheck verifies the connection pool is reachable.
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	return s.conn.HealthCheck(ctx)
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.conn.Close()
}

// withSerializableTx runs fn inside a SERIALIZABLE transaction, retrying a
// bounded number of times when two writers race on the same fingerprint.
func (s *PostgresStore) withSerializableTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var lastErr error

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		tx, err := s.conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if err := fn(tx); err != nil {
			_ = tx.Rollback()

			if isSerializationFailure(err) {
				lastErr = err

				continue
			}

			return err
		}

		if err := tx.Commit(); err != nil {
			if isSerializationFailure(err) {
				lastErr = err

				continue
			}

			return fmt.Errorf("commit transaction: %w", err)
		}

		return nil
	}

	return fmt.Errorf("transaction failed after %d attempts: %w", maxTxRetries, lastErr)
}

// isSerializationFailure reports whether err is a retryable Postgres serialization conflict.
func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == serializationFailure
	}

	return false
}

// decodePayload unmarshals a JSONB column back into the event payload map.
func decodePayload(raw []byte) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return map[string]interface{}{}, nil
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	return payload, nil
}
