// Package middleware provides HTTP middleware components for the IMS API.
package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	burstCapacityMultiplier    int     = 2
	maxUsers                   int     = 10000
	defaultGlobalRPS           int     = 100
	defaultUserRPS             int     = 50
	defaultUnAuthRPS           int     = 10
	thresholdMultiplier        float64 = 0.8
	thresholdPercentage        int     = 80
	rateLimiterCleanupInterval         = 5 * time.Minute
	rateLimiterIdleTimeout             = 1 * time.Hour
)

type (
	// RateLimiter provides rate limiting for incoming requests.
	//
	// Implementations may use in-memory token buckets (single-node
	// deployment) or distributed stores for multi-node deployments.
	RateLimiter interface {
		// Allow checks if a request should be allowed based on rate limits.
		// Returns true if allowed, false if rate limited.
		//
		// For authenticated requests, userID is the Ranger handle.
		// For unauthenticated requests, userID is empty string.
		Allow(userID string) bool
	}

	// InMemoryRateLimiter implements RateLimiter using golang.org/x/time/rate.
	//
	// Provides three-tier rate limiting:
	// 1. Global limit (applied to all requests)
	// 2. Per-user limit (applied to authenticated requests)
	// 3. Unauthenticated limit (applied to requests without a user)
	//
	// Uses token bucket algorithm with configurable burst capacity.
	// Memory cleanup runs periodically to prevent unbounded growth;
	// users idle longer than IdleTimeout are removed.
	InMemoryRateLimiter struct {
		global          *rate.Limiter
		perUser         map[string]*userLimiter
		unauthenticated *rate.Limiter
		mu              sync.RWMutex
		cleanupTicker   *time.Ticker
		done            chan struct{}

		// Configuration (stored for creating new user limiters and cleanup)
		userRPS         int
		userBurst       int
		cleanupInterval time.Duration
		idleTimeout     time.Duration
		maxUsers        int
	}

	// userLimiter tracks rate limit state for a single user.
	// Includes last access time for memory cleanup.
	userLimiter struct {
		limiter    *rate.Limiter
		lastAccess time.Time
		mu         sync.Mutex
	}
)

// NewInMemoryRateLimiter creates a new in-memory rate limiter with three-tier limits.
//
// Burst capacity is computed automatically as 2 × rate unless overridden in config.
// Cleanup runs periodically to prevent unbounded memory growth.
//
// Example:
//
//	rl := NewInMemoryRateLimiter(&Config{
//	    GlobalRPS: 100,
//	    UserRPS:   50,
//	    UnAuthRPS: 10,
//	})
//	defer rl.Close()
func NewInMemoryRateLimiter(config *Config) *InMemoryRateLimiter {
	// Compute burst capacities (use override if provided, otherwise 2 × rate)
	globalBurst := computeBurstCapacity(config.GlobalRPS, config.GlobalBurst)
	userBurst := computeBurstCapacity(config.UserRPS, config.UserBurst)
	unauthBurst := computeBurstCapacity(config.UnAuthRPS, config.UnAuthBurst)

	rl := &InMemoryRateLimiter{
		global:          rate.NewLimiter(rate.Limit(config.GlobalRPS), globalBurst),
		perUser:         make(map[string]*userLimiter),
		unauthenticated: rate.NewLimiter(rate.Limit(config.UnAuthRPS), unauthBurst),
		done:            make(chan struct{}),
		userRPS:         config.UserRPS,
		userBurst:       userBurst,
		cleanupInterval: config.CleanupInterval,
		idleTimeout:     config.IdleTimeout,
		maxUsers:        config.MaxUsers,
	}

	// Start background cleanup goroutine
	rl.startCleanup()

	return rl
}

// computeBurstCapacity computes the burst capacity based on the rate and optional override.
//
// If burstOverride is 0, computes burst automatically as 2 × rate.
// If burstOverride > 0, uses the override value.
func computeBurstCapacity(rate, burstOverride int) int {
	if burstOverride > 0 {
		return burstOverride
	}

	return rate * burstCapacityMultiplier
}

// Allow checks if a request should be allowed based on rate limits.
// Implements the RateLimiter interface.
//
// Rate limiting is enforced in two steps:
// 1. Global limit (all requests)
// 2. Per-user limit (authenticated) OR unauthenticated limit
//
// Parameters:
//   - userID: empty string for unauthenticated requests, Ranger handle otherwise
func (rl *InMemoryRateLimiter) Allow(userID string) bool {
	// Check global limit first (fail fast)
	if !rl.global.Allow() {
		return false
	}

	if userID == "" {
		// Unauthenticated request
		return rl.unauthenticated.Allow()
	}

	// Authenticated request - get or create user limiter
	rl.mu.RLock()
	ul, ok := rl.perUser[userID]
	rl.mu.RUnlock()

	if !ok {
		// Lazy initialization: create limiter for this user
		rl.mu.Lock()
		// Double-check after acquiring write lock (avoid race)
		if ul, ok = rl.perUser[userID]; !ok {
			ul = &userLimiter{
				limiter:    rate.NewLimiter(rate.Limit(rl.userRPS), rl.userBurst),
				lastAccess: time.Now(),
			}

			rl.perUser[userID] = ul

			// Operational monitoring: warn when approaching the max users
			// limit so operators spot handle proliferation before hard limits
			currentCount := len(rl.perUser)
			threshold := int(float64(rl.maxUsers) * thresholdMultiplier)

			if currentCount >= threshold {
				slog.Warn("rate limiter approaching max users limit",
					"current_users", currentCount,
					"max_users", rl.maxUsers,
					"threshold_percent", thresholdPercentage,
					"recommendation", "investigate unusual login volume or increase max_users limit")
			}
		}

		rl.mu.Unlock()
	}

	// Update last access time (for cleanup)
	ul.mu.Lock()
	ul.lastAccess = time.Now()
	ul.mu.Unlock()

	// Check user-specific limit
	return ul.limiter.Allow()
}

// Close stops the cleanup goroutine and releases resources.
// Must be called when the InMemoryRateLimiter is no longer needed.
//
// Note: Close() is not part of the RateLimiter interface to allow
// implementations that don't require cleanup. Use type assertion if
// cleanup is needed:
//
//	if closer, ok := limiter.(io.Closer); ok {
//	    closer.Close()
//	}
func (rl *InMemoryRateLimiter) Close() {
	if rl.cleanupTicker != nil {
		rl.cleanupTicker.Stop()
	}

	close(rl.done)
}

// startCleanup starts a background goroutine that periodically removes
// stale user limiters to prevent memory leaks.
func (rl *InMemoryRateLimiter) startCleanup() {
	// Use config values if set, otherwise use defaults
	cleanupInterval := rl.cleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = rateLimiterCleanupInterval
	}

	rl.cleanupTicker = time.NewTicker(cleanupInterval)

	go func() {
		for {
			select {
			case <-rl.cleanupTicker.C:
				rl.cleanup()
			case <-rl.done:
				return
			}
		}
	}()
}

// cleanup removes user limiters that haven't been accessed recently.
func (rl *InMemoryRateLimiter) cleanup() {
	// Use config value if set, otherwise use default
	idleTimeout := rl.idleTimeout
	if idleTimeout == 0 {
		idleTimeout = rateLimiterIdleTimeout
	}

	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for userID, ul := range rl.perUser {
		ul.mu.Lock()
		lastAccess := ul.lastAccess
		ul.mu.Unlock()

		if now.Sub(lastAccess) > idleTimeout {
			delete(rl.perUser, userID)
		}
	}
}

// RateLimit returns a middleware that enforces rate limits on incoming requests.
//
// Rate limiting is applied in three tiers:
//  1. Global limit (all requests)
//  2. Per-user limit (authenticated requests)
//  3. Unauthenticated limit (requests without an authenticated user)
//
// When a request exceeds the rate limit, the middleware returns a 429
// (Too Many Requests) response with RFC 7807 error format.
//
// The middleware must be placed after authentication middleware in the
// chain so the authenticated user is available for per-user limiting.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Extract user from context (set by authentication middleware).
			// Anonymous requests rate-limit under the unauthenticated tier.
			userID := ""
			if user := GetUser(r.Context()); user != nil {
				userID = user.Handle
			}

			// Check rate limit
			if !limiter.Allow(userID) {
				// Get correlation ID for error response
				correlationID := GetCorrelationID(r.Context())

				// Write RFC 7807 compliant error response
				detail := "Rate limit exceeded. Please retry after some time."
				if err := writeRFC7807Error(w, r, http.StatusTooManyRequests, detail, correlationID); err != nil {
					logger.Error("failed to write response with RFC 7807 error format",
						slog.String("correlation_id", correlationID),
						slog.String("path", r.URL.Path),
						slog.String("detail", detail),
						slog.String("error", err.Error()),
					)

					// Fallback to plain text if writeRFC7807Error fails
					http.Error(w, detail, http.StatusTooManyRequests)
				}

				return
			}

			// Rate limit not exceeded, continue to next handler
			next.ServeHTTP(w, r)
		})
	}
}
