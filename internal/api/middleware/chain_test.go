package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestApply_RunsOptionsOuterToInnerInGivenOrder(t *testing.T) {
	var order []string

	trace := func(name string) Option {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	base := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	handler := Apply(base, trace("first"), trace("second"), trace("third"))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/publish", nil))

	want := []string{"first", "second", "third"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}

	for i, name := range want {
		if order[i] != name {
			t.Errorf("order[%d] = %q, want %q", i, order[i], name)
		}
	}
}

func TestWithRateLimit_NilLimiterProducesNoopOption(t *testing.T) {
	called := false

	option := WithRateLimit(nil, discardLogger())
	handler := option(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/publish", nil))

	if !called {
		t.Error("a nil limiter option should still forward to the wrapped handler")
	}
}

func TestWithCorrelationID_AddsHeaderToResponse(t *testing.T) {
	option := WithCorrelationID()
	handler := option(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/publish", nil))

	if rec.Header().Get("X-Correlation-ID") == "" {
		t.Error("WithCorrelationID should set the X-Correlation-ID response header")
	}
}

func TestWithCORS_AppliesOriginHeader(t *testing.T) {
	option := WithCORS(stubCORSConfig{origins: []string{"*"}})
	handler := option(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/publish", nil))

	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("WithCORS should apply the CORS middleware")
	}
}
