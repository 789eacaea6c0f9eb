package api

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter enforces a global and a per-client request rate.
type RateLimiter struct {
	globalLimiter  *rate.Limiter
	clientLimiters map[string]*rate.Limiter
	mu             sync.RWMutex

	requestsPerSecond float64
	burst             int
}

// NewRateLimiter creates a rate limiter.
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		globalLimiter:     rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		clientLimiters:    make(map[string]*rate.Limiter),
		requestsPerSecond: requestsPerSecond,
		burst:             burst,
	}
}

// Allow checks if a request from clientID should be allowed.
func (rl *RateLimiter) Allow(clientID string) bool {
	if !rl.globalLimiter.Allow() {
		return false
	}
	return rl.getClientLimiter(clientID).Allow()
}

// getClientLimiter gets or creates the limiter for a specific client.
func (rl *RateLimiter) getClientLimiter(clientID string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.clientLimiters[clientID]
	rl.mu.RUnlock()

	if exists {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := rl.clientLimiters[clientID]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rate.Limit(rl.requestsPerSecond), rl.burst)
	rl.clientLimiters[clientID] = limiter
	return limiter
}
