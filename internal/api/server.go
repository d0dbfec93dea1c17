// Package api provides the HTTP server for the aggregator service.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aggregator-io/aggregator/internal/api/middleware"
	"github.com/aggregator-io/aggregator/internal/consumer"
	"github.com/aggregator-io/aggregator/internal/event"
	"github.com/aggregator-io/aggregator/internal/metrics"
	"github.com/aggregator-io/aggregator/internal/queue"
	"github.com/aggregator-io/aggregator/internal/ratelimit"
	"github.com/aggregator-io/aggregator/internal/storage"
)

// Server represents the HTTP API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	config     *ServerConfig
	startTime  time.Time

	store     storage.Store
	queue     *queue.Queue
	worker    *consumer.Worker
	validator *event.Validator
	limiter   *ratelimit.Limiter

	consumerCancel context.CancelFunc
	consumerDone   chan struct{}
}

// NewServer creates a new HTTP server instance with structured logging and middleware stack.
//
// Dependencies are injected explicitly rather than being part of ServerConfig,
// separating configuration (what) from dependencies (how).
//
//   - cfg: server configuration (ports, timeouts, CORS settings)
//   - store: persistence layer (REQUIRED - panics if nil)
//   - q: admission queue feeding the consumer worker (REQUIRED - panics if nil)
//   - limiter: optional reject-fast rate limiter (nil disables it)
func NewServer(cfg *ServerConfig, store storage.Store, q *queue.Queue, limiter *ratelimit.Limiter) *Server {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	if store == nil || q == nil {
		logger.Error("store and queue are required - cannot start server without core functionality")
		panic("aggregator: store and queue cannot be nil - this indicates a configuration error")
	}

	mux := http.NewServeMux()

	server := &Server{
		logger:    logger,
		config:    cfg,
		store:     store,
		queue:     q,
		worker:    consumer.NewWorker(q, store, logger),
		validator: event.NewValidator(),
		limiter:   limiter,
	}

	server.setupRoutes(mux)

	if limiter != nil {
		logger.Info("rate limiting middleware enabled")
	} else {
		logger.Warn("rate limiter not configured - rate limiting middleware disabled")
	}

	// Middleware executes in the order listed (top-to-bottom):
	//   1. CorrelationID - generate correlation ID for all responses
	//   2. Recovery - catch panics in all downstream middleware
	//   3. RateLimit - reject-fast guard before expensive operations (optional)
	//   4. RequestLogger - log only legitimate requests (not rate-limited spam)
	//   5. CORS - lightweight header manipulation
	handler := middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger),
		middleware.WithRateLimit(limiterOption(limiter), logger),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(cfg.ToCORSConfig()),
	)

	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// limiterOption adapts a possibly-nil *ratelimit.Limiter to the middleware.Limiter
// interface, preserving the "nil disables the middleware" contract WithRateLimit expects.
func limiterOption(l *ratelimit.Limiter) middleware.Limiter {
	if l == nil {
		return nil
	}

	return l
}

func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.instrument("health", s.handleHealth))
	mux.HandleFunc("POST /publish", s.instrument("publish", s.handlePublish))
	mux.HandleFunc("GET /events", s.instrument("events", s.handleListEvents))
	mux.HandleFunc("POST /events", s.instrument("publish", s.handlePublish))
	mux.HandleFunc("GET /stats", s.instrument("stats", s.handleStats))
	mux.HandleFunc("GET /info", s.instrument("info", s.handleInfo))
	mux.HandleFunc("POST /admin/clear", s.instrument("admin_clear", s.handleAdminClear))
	mux.Handle("GET /metrics", promhttp.Handler())
}

// instrument wraps a handler with the HTTP request duration histogram, labeled
// by route, method, and the status class actually written.
func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next(sw, r)

		metrics.HTTPRequestDuration.WithLabelValues(route, r.Method, strconv.Itoa(sw.status)).
			Observe(time.Since(start).Seconds())
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Start starts the HTTP server, the consumer worker, and blocks until shutdown.
// It handles graceful shutdown on SIGINT and SIGTERM signals.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	s.startTime = time.Now()

	consumerCtx, cancel := context.WithCancel(context.Background())
	s.consumerCancel = cancel
	s.consumerDone = make(chan struct{})

	go func() {
		defer close(s.consumerDone)
		s.worker.Run(consumerCtx)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("starting aggregator API server",
			slog.String("address", s.config.Address()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server failed to start",
				slog.String("address", s.config.Address()),
				slog.String("error", err.Error()),
			)

			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case sig := <-stop:
		s.logger.Info("received shutdown signal", slog.String("signal", sig.String()))

		return s.shutdown()
	}
}

// shutdown stops admission first, then lets the consumer drain the queue before
// closing the store, in the order stop-HTTP / drain-queue / cancel-consumer / close-pool.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("initiating server shutdown", slog.Duration("shutdown_timeout", s.config.ShutdownTimeout))

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("server shutdown failed", slog.String("error", err.Error()))

		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.drainQueue(ctx)

	if s.consumerCancel != nil {
		s.consumerCancel()
		<-s.consumerDone
	}

	s.closeDependency("store", s.store)

	s.logger.Info("server shutdown completed successfully")

	return nil
}

// drainQueue waits for the queue to empty or ctx to expire, giving the consumer
// a chance to persist everything already admitted before it is canceled.
func (s *Server) drainQueue(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if s.queue.Len() == 0 {
			return
		}

		select {
		case <-ctx.Done():
			s.logger.Warn("shutdown timed out before queue drained", slog.Int("remaining", s.queue.Len()))

			return
		case <-ticker.C:
		}
	}
}

// closeDependency attempts to close a server dependency that implements io.Closer.
// Errors are logged but don't stop shutdown (best-effort).
func (s *Server) closeDependency(name string, dep interface{}) {
	if dep == nil {
		return
	}

	closer, ok := dep.(io.Closer)
	if !ok {
		return
	}

	s.logger.Info("closing " + name)

	if err := closer.Close(); err != nil {
		s.logger.Error("failed to close "+name, slog.String("error", err.Error()))

		return
	}

	s.logger.Info(name + " closed successfully")
}
