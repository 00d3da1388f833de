package limits

import (
	"context"
	"sync"
	"time"
)

// RateLimiter enforces a sliding-window request limit: at most max calls
// within any window-sized interval. WaitIfNeeded blocks callers until there
// is capacity, then records the call.
type RateLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	stamps []time.Time
	now    func() time.Time
}

// NewRateLimiter creates a limiter allowing at most max calls per window.
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		max:    max,
		window: window,
		now:    time.Now,
	}
}

// WaitIfNeeded blocks until the number of recorded timestamps inside the
// window drops below the maximum, then records a new timestamp.
func (r *RateLimiter) WaitIfNeeded(ctx context.Context) error {
	for {
		r.mu.Lock()
		now := r.now()
		r.prune(now)

		if len(r.stamps) < r.max {
			r.stamps = append(r.stamps, now)
			r.mu.Unlock()
			return nil
		}

		// Oldest stamp leaves the window at stamps[0]+window.
		wait := r.stamps[0].Add(r.window).Sub(now)
		r.mu.Unlock()

		if wait < 10*time.Millisecond {
			wait = 10 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Remaining returns how many calls can still be made in the current window.
func (r *RateLimiter) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(r.now())
	return r.max - len(r.stamps)
}

// UsagePercent returns the fraction of the window's capacity currently in
// use, in the range [0, 100].
func (r *RateLimiter) UsagePercent() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(r.now())
	return float64(len(r.stamps)) / float64(r.max) * 100
}

// prune drops timestamps that have fallen out of the window. Caller holds mu.
func (r *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-r.window)
	i := 0
	for i < len(r.stamps) && !r.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		r.stamps = append(r.stamps[:0], r.stamps[i:]...)
	}
}
