package middleware

import (
	"log/slog"
	"net/http"
)

// Limiter is the single-tier rate limiter interface this middleware depends on.
// internal/ratelimit.Limiter satisfies it structurally.
type Limiter interface {
	Allow() bool
}

// RateLimit rejects requests with 429 once the limiter is exhausted. This is a
// courtesy guard on request rate, not the admission queue's backpressure.
func RateLimit(limiter Limiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				correlationID := GetCorrelationID(r.Context())

				logger.Warn("rate limit exceeded",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("correlation_id", correlationID),
				)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"detail":"rate limit exceeded"}`))

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
