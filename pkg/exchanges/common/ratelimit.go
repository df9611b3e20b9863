package common

import (
	"context"
	"log"
	"strconv"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter paces venue requests and tracks the venue's reported budget.
type RateLimiter struct {
	limiter   *rate.Limiter
	mu        sync.RWMutex
	remaining int
	limit     int
}

// NewRateLimiter creates a limiter allowing perSec requests with the given burst.
// perSec <= 0 disables pacing.
func NewRateLimiter(perSec float64, burst int) *RateLimiter {
	lim := rate.Inf
	if perSec > 0 {
		lim = rate.Limit(perSec)
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(lim, burst), remaining: -1, limit: -1}
}

// Wait blocks until a request may be sent.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return nil
	}
	return rl.limiter.Wait(ctx)
}

// UpdateFromHeader records the remaining budget reported by the venue.
func (rl *RateLimiter) UpdateFromHeader(limitHeader, remainingHeader string) {
	if rl == nil || remainingHeader == "" {
		return
	}
	remaining, err := strconv.Atoi(remainingHeader)
	if err != nil {
		return
	}
	limit, _ := strconv.Atoi(limitHeader)

	rl.mu.Lock()
	rl.remaining = remaining
	if limit > 0 {
		rl.limit = limit
	}
	limit = rl.limit
	rl.mu.Unlock()

	if limit <= 0 {
		return
	}
	used := float64(limit-remaining) / float64(limit) * 100
	if used >= 95 {
		log.Printf("rate limit critical: %d/%d remaining (%.1f%% used)", remaining, limit, used)
	} else if used >= 80 {
		log.Printf("rate limit warning: %d/%d remaining (%.1f%% used)", remaining, limit, used)
	}
}

// Usage returns the last reported remaining budget and limit (-1 when unknown).
func (rl *RateLimiter) Usage() (remaining, limit int) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.remaining, rl.limit
}
