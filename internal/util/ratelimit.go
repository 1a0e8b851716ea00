package util

import (
	"context"
	"sync"
	"time"
)

// RateLimiter spaces operations evenly so a gather run stays under an API
// request quota. One slot is issued every interval; concurrent callers queue
// on successive slots in arrival order.
type RateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time // earliest time the next slot opens
}

// NewRateLimiter creates a RateLimiter allowing perMinute operations per
// minute, spread evenly rather than bursted.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	return &RateLimiter{interval: time.Minute / time.Duration(perMinute)}
}

// Wait blocks until the caller's slot opens or the context is cancelled. The
// first call returns immediately.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	rl.mu.Lock()
	now := time.Now()
	if rl.next.Before(now) {
		rl.next = now
	}
	wait := rl.next.Sub(now)
	rl.next = rl.next.Add(rl.interval)
	rl.mu.Unlock()

	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
