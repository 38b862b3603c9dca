// Package middleware provides HTTP middleware components for the IMS API.
package middleware

import (
	"time"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/config"
)

// Config holds rate limiter configuration.
//
// Rate limits specify requests per second (RPS) for three tiers:
//   - Global: Applied to all requests
//   - Per-user: Applied to authenticated requests
//   - Unauthenticated: Applied to requests without an authenticated user
//
// Burst capacity allows temporary bursts above sustained rate.
// If burst fields are 0, they are computed automatically as 2 × rate.
type Config struct {
	// Rate limits (requests per second)
	GlobalRPS int // Default: 100
	UserRPS   int // Default: 50
	UnAuthRPS int // Default: 10

	// Optional burst capacity overrides (0 = compute automatically as 2 × rate)
	GlobalBurst int // Default: 0 (computed as 2 × GlobalRPS = 200)
	UserBurst   int // Default: 0 (computed as 2 × UserRPS = 100)
	UnAuthBurst int // Default: 0 (computed as 2 × UnAuthRPS = 20)

	// Memory cleanup configuration
	CleanupInterval time.Duration // Default: 5 minutes
	IdleTimeout     time.Duration // Default: 1 hour
	MaxUsers        int           // Default: 10,000
}

// LoadConfig loads middleware config from environment variables with fallback to defaults.
//
// Default burst capacity: 2 × rate (allows 2-second burst)
// Default cleanup: every 5 minutes, removes users idle >1 hour
// Default max users: 10,000 (prevents unbounded memory growth).
func LoadConfig() *Config {
	return &Config{
		// Rate limits
		GlobalRPS: config.GetEnvInt("IMS_GLOBAL_RPS", defaultGlobalRPS),
		UserRPS:   config.GetEnvInt("IMS_USER_RPS", defaultUserRPS),
		UnAuthRPS: config.GetEnvInt("IMS_UNAUTH_RPS", defaultUnAuthRPS),

		// Burst overrides (0 = auto-compute)
		GlobalBurst: config.GetEnvInt("IMS_GLOBAL_BURST", 0),
		UserBurst:   config.GetEnvInt("IMS_USER_BURST", 0),
		UnAuthBurst: config.GetEnvInt("IMS_UNAUTH_BURST", 0),

		// Cleanup configuration
		CleanupInterval: config.GetEnvDuration(
			"IMS_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval,
		),
		IdleTimeout: config.GetEnvDuration("IMS_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxUsers:    config.GetEnvInt("IMS_RATE_LIMIT_MAX_USERS", maxUsers),
	}
}
