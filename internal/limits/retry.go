// Package limits holds the retry, rate-limiting, and cost-accounting
// primitives that make repeated calls to quota-limited external services
// safe. A fresh RateLimiter and CostTracker are constructed per sync run;
// nothing in this package is process-global.
package limits

import (
	"context"
	"time"
)

// RetryOptions controls WithRetry.
type RetryOptions struct {
	MaxRetries         int           // total attempts; values < 1 mean a single attempt
	Delay              time.Duration // base delay between attempts
	ExponentialBackoff bool          // delay * 2^attempt instead of constant delay
}

// DefaultRetry is the retry policy used for provider and store calls when
// the configuration does not override it.
var DefaultRetry = RetryOptions{
	MaxRetries:         3,
	Delay:              time.Second,
	ExponentialBackoff: true,
}

// WithRetry invokes fn up to opts.MaxRetries times, sleeping between
// attempts. The last error is returned after the final attempt; no sleep
// happens after the final attempt. The context is checked before each
// attempt and honoured during each sleep.
func WithRetry(ctx context.Context, opts RetryOptions, fn func() error) error {
	attempts := opts.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if lastErr = fn(); lastErr == nil {
			return nil
		}

		if attempt == attempts-1 {
			break
		}

		delay := opts.Delay
		if opts.ExponentialBackoff {
			delay = opts.Delay * (1 << attempt)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}
