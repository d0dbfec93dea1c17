// Package ratelimit provides an optional, disabled-by-default reject-fast
// guard in front of the admission handler. It is not a substitute for the
// queue's own backpressure — just a courtesy limit on request rate.
package ratelimit

import (
	"golang.org/x/time/rate"
)

// Limiter is a single global token-bucket rate limiter.
type Limiter struct {
	limiter *rate.Limiter
}

// New builds a limiter allowing rps requests per second, bursting up to burst.
func New(rps float64, burst int) *Limiter {
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Allow reports whether a request may proceed right now.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}

	return l.limiter.Allow()
}
