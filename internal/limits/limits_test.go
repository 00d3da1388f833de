package limits

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestWithRetry_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), RetryOptions{MaxRetries: 3, Delay: time.Millisecond}, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("WithRetry: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls: got %d, want 1", calls)
	}
}

func TestWithRetry_EventualSuccess(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), RetryOptions{MaxRetries: 3, Delay: time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithRetry: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls: got %d, want 3", calls)
	}
}

func TestWithRetry_ExhaustsAndReturnsLastError(t *testing.T) {
	calls := 0
	last := errors.New("still broken")
	err := WithRetry(context.Background(), RetryOptions{MaxRetries: 4, Delay: time.Millisecond}, func() error {
		calls++
		if calls == 4 {
			return last
		}
		return errors.New("earlier failure")
	})
	if !errors.Is(err, last) {
		t.Errorf("got %v, want the final attempt's error", err)
	}
	if calls != 4 {
		t.Errorf("calls: got %d, want 4", calls)
	}
}

func TestWithRetry_NoSleepAfterFinalAttempt(t *testing.T) {
	start := time.Now()
	_ = WithRetry(context.Background(), RetryOptions{MaxRetries: 1, Delay: time.Second}, func() error {
		return errors.New("nope")
	})
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("single attempt slept for %v", elapsed)
	}
}

func TestWithRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := WithRetry(ctx, RetryOptions{MaxRetries: 3, Delay: time.Millisecond}, func() error {
		calls++
		return errors.New("x")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Errorf("calls after cancel: got %d, want 0", calls)
	}
}

func TestWithRetry_ExponentialDelays(t *testing.T) {
	start := time.Now()
	_ = WithRetry(context.Background(), RetryOptions{
		MaxRetries:         3,
		Delay:              10 * time.Millisecond,
		ExponentialBackoff: true,
	}, func() error {
		return errors.New("x")
	})
	// Sleeps: 10ms + 20ms = 30ms minimum.
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("elapsed %v, want >= 30ms of backoff", elapsed)
	}
}

func TestRateLimiter_AllowsUpToMax(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := rl.WaitIfNeeded(ctx); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if got := rl.Remaining(); got != 0 {
		t.Errorf("Remaining: got %d, want 0", got)
	}
	if got := rl.UsagePercent(); got != 100 {
		t.Errorf("UsagePercent: got %v, want 100", got)
	}
}

func TestRateLimiter_BlocksThenReleases(t *testing.T) {
	rl := NewRateLimiter(2, 80*time.Millisecond)
	ctx := context.Background()

	_ = rl.WaitIfNeeded(ctx)
	_ = rl.WaitIfNeeded(ctx)

	start := time.Now()
	if err := rl.WaitIfNeeded(ctx); err != nil {
		t.Fatalf("WaitIfNeeded: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("third call returned after %v, expected it to block for the window", elapsed)
	}
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	now := time.Now()
	var fake atomic.Pointer[time.Time]
	fake.Store(&now)

	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return *fake.Load() }

	ctx := context.Background()
	_ = rl.WaitIfNeeded(ctx)
	_ = rl.WaitIfNeeded(ctx)
	if rl.Remaining() != 0 {
		t.Fatalf("Remaining: got %d, want 0", rl.Remaining())
	}

	later := now.Add(2 * time.Minute)
	fake.Store(&later)
	if rl.Remaining() != 2 {
		t.Errorf("after window: Remaining got %d, want 2", rl.Remaining())
	}
}

func TestRateLimiter_CancelWhileWaiting(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour)
	_ = rl.WaitIfNeeded(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := rl.WaitIfNeeded(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want deadline exceeded", err)
	}
}

func TestCostTracker_Accumulates(t *testing.T) {
	c := NewCostTracker(0.02)
	c.AddTokens(1500)
	c.AddTokens(500)
	c.AddBytes(4096)
	c.AddOperation("openai")
	c.AddOperation("openai")
	c.AddOperation("store")

	snap := c.Snapshot()
	if snap.Tokens != 2000 {
		t.Errorf("tokens: got %d, want 2000", snap.Tokens)
	}
	if snap.Bytes != 4096 {
		t.Errorf("bytes: got %d, want 4096", snap.Bytes)
	}
	// 2000 tokens at $0.02/1K = $0.04.
	if snap.EstimatedUSD < 0.0399 || snap.EstimatedUSD > 0.0401 {
		t.Errorf("cost: got %v, want 0.04", snap.EstimatedUSD)
	}
	if snap.Operations["openai"] != 2 || snap.Operations["store"] != 1 {
		t.Errorf("operations: got %v", snap.Operations)
	}
}

func TestCostTracker_Summary(t *testing.T) {
	c := NewCostTracker(0.02)
	c.AddTokens(1000)
	c.AddOperation("openai")

	s := c.Summary()
	for _, want := range []string{"tokens=1000", "openai=1", "$0.02"} {
		if !strings.Contains(s, want) {
			t.Errorf("Summary %q missing %q", s, want)
		}
	}
}

func TestCostTracker_ApproachingLimit(t *testing.T) {
	rl := NewRateLimiter(4, time.Minute)
	c := NewCostTracker(0)

	if c.ApproachingLimit(rl, 75) {
		t.Error("empty window should not be near the limit")
	}
	ctx := context.Background()
	_ = rl.WaitIfNeeded(ctx)
	_ = rl.WaitIfNeeded(ctx)
	_ = rl.WaitIfNeeded(ctx)
	if !c.ApproachingLimit(rl, 75) {
		t.Error("3/4 used should be past a 75%% threshold")
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("empty: got %d, want 0", got)
	}
	if got := EstimateTokens("abc"); got != 1 {
		t.Errorf("short: got %d, want 1", got)
	}
	if got := EstimateTokens(strings.Repeat("a", 400)); got != 100 {
		t.Errorf("400 chars: got %d, want 100", got)
	}
}
