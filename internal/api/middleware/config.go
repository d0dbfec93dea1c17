// Package middleware provides HTTP middleware components for the aggregator API.
package middleware

import (
	"github.com/aggregator-io/aggregator/internal/config"
)

const (
	defaultRPS   = 100
	defaultBurst = 200
)

// RateLimitConfig holds the optional single-tier rate limiter's settings.
// Disabled by default — set AGGREGATOR_RATE_LIMIT_ENABLED=true to turn it on.
type RateLimitConfig struct {
	Enabled bool
	RPS     int
	Burst   int
}

// LoadRateLimitConfig loads the rate limiter config from environment variables.
func LoadRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled: config.GetEnvBool("AGGREGATOR_RATE_LIMIT_ENABLED", false),
		RPS:     config.GetEnvInt("AGGREGATOR_RATE_LIMIT_RPS", defaultRPS),
		Burst:   config.GetEnvInt("AGGREGATOR_RATE_LIMIT_BURST", defaultBurst),
	}
}
