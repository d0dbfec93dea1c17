// Package storage provides the Postgres-backed persistence layer for the aggregator:
// the dedup store, the processed-event log, and the running statistics counters.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

const (
	postgresDriver = "postgres"
	ctxTimeout     = 5 * time.Second
)

// Connection represents a database connection pool.
type Connection struct {
	*sql.DB
}

// NewConnection opens a connection pool and verifies it is reachable.
func NewConnection(config *Config) (*Connection, error) {
	db, err := sql.Open(postgresDriver, config.databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("database health check failed: %w", err)
	}

	warmPool(ctx, db, config.MinIdleConns)

	return &Connection{db}, nil
}

// warmPool opens up to n idle connections so the pool starts at its configured
// minimum instead of growing lazily under the first burst of traffic.
func warmPool(ctx context.Context, db *sql.DB, n int) {
	conns := make([]*sql.Conn, 0, n)

	for i := 0; i < n; i++ {
		conn, err := db.Conn(ctx)
		if err != nil {
			break
		}

		conns = append(conns, conn)
	}

	for _, conn := range conns {
		_ = conn.Close()
	}
}

// HealthCheck checks if the database connection is healthy with timeout.
func (c *Connection) HealthCheck(ctx context.Context) error { //nolint: contextcheck
	if ctx == nil {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(context.Background(), ctxTimeout)

		defer cancel()
	}

	return c.PingContext(ctx)
}

// Close closes the database connection pool gracefully. Safe to call multiple times.
func (c *Connection) Close() error {
	return c.DB.Close()
}

// Stats returns database connection pool statistics for monitoring.
func (c *Connection) Stats() sql.DBStats {
	return c.DB.Stats()
}
