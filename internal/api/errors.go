// Package api provides the HTTP server for the aggregator service.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/aggregator-io/aggregator/internal/api/middleware"
)

// Problem is the flat JSON error body every handler returns on failure:
// {"detail": "..."}, with status carried purely by the HTTP response code.
type Problem struct {
	Detail        string `json:"detail"`
	CorrelationID string `json:"correlation_id,omitempty"`

	status int
}

// NewProblem creates a problem with the given HTTP status and message.
func NewProblem(status int, detail string) *Problem {
	return &Problem{status: status, Detail: detail}
}

// WriteErrorResponse writes a flat JSON error body, enriched with the
// request's correlation ID, and logs an encode failure if one occurs.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, problem *Problem) {
	correlationID := middleware.GetCorrelationID(r.Context())

	if problem.CorrelationID == "" {
		problem.CorrelationID = correlationID
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(problem.status)

	if err := json.NewEncoder(w).Encode(problem); err != nil {
		logger.Error("failed to encode error response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.String("method", r.Method),
			slog.Any("encode_error", err),
			slog.Int("status", problem.status),
		)

		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// Common error constructors for frequently used responses.

// InternalServerError creates a 500 problem.
func InternalServerError(detail string) *Problem {
	return NewProblem(http.StatusInternalServerError, detail)
}

// BadRequest creates a 400 problem.
func BadRequest(detail string) *Problem {
	return NewProblem(http.StatusBadRequest, detail)
}

// NotFound creates a 404 problem.
func NotFound(detail string) *Problem {
	return NewProblem(http.StatusNotFound, detail)
}

// MethodNotAllowed creates a 405 problem.
func MethodNotAllowed(detail string) *Problem {
	return NewProblem(http.StatusMethodNotAllowed, detail)
}
