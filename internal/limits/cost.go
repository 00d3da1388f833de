package limits

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// DefaultCostPer1KTokens is the embedding price used when the configuration
// does not override it (text-embedding-3-small as of early 2026).
const DefaultCostPer1KTokens = 0.00002

// CostTracker accumulates token counts and per-provider operation counters
// for a single sync run. Construct a fresh tracker per run.
type CostTracker struct {
	mu         sync.Mutex
	costPer1K  float64
	tokens     int
	bytes      int64
	operations map[string]int
}

// CostSnapshot is a point-in-time copy of the tracker's counters.
type CostSnapshot struct {
	Tokens       int            `json:"tokens"`
	Bytes        int64          `json:"bytes"`
	EstimatedUSD float64        `json:"estimated_usd"`
	Operations   map[string]int `json:"operations"`
}

// NewCostTracker creates a tracker charging costPer1K dollars per 1000
// tokens. A non-positive rate falls back to DefaultCostPer1KTokens.
func NewCostTracker(costPer1K float64) *CostTracker {
	if costPer1K <= 0 {
		costPer1K = DefaultCostPer1KTokens
	}
	return &CostTracker{
		costPer1K:  costPer1K,
		operations: make(map[string]int),
	}
}

// AddTokens records n processed tokens.
func (c *CostTracker) AddTokens(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.tokens += n
	c.mu.Unlock()
}

// AddBytes records n processed content bytes.
func (c *CostTracker) AddBytes(n int64) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.bytes += n
	c.mu.Unlock()
}

// AddOperation increments the call counter for the given provider.
func (c *CostTracker) AddOperation(provider string) {
	c.mu.Lock()
	c.operations[provider]++
	c.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (c *CostTracker) Snapshot() CostSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	ops := make(map[string]int, len(c.operations))
	for k, v := range c.operations {
		ops[k] = v
	}
	return CostSnapshot{
		Tokens:       c.tokens,
		Bytes:        c.bytes,
		EstimatedUSD: float64(c.tokens) / 1000.0 * c.costPer1K,
		Operations:   ops,
	}
}

// Summary returns a single human-readable line describing the run's cost.
func (c *CostTracker) Summary() string {
	snap := c.Snapshot()

	var ops []string
	for name := range snap.Operations {
		ops = append(ops, name)
	}
	sort.Strings(ops)

	var parts []string
	for _, name := range ops {
		parts = append(parts, fmt.Sprintf("%s=%d", name, snap.Operations[name]))
	}
	opsStr := "none"
	if len(parts) > 0 {
		opsStr = strings.Join(parts, " ")
	}

	return fmt.Sprintf("tokens=%d bytes=%d est_cost=$%.6f calls: %s",
		snap.Tokens, snap.Bytes, snap.EstimatedUSD, opsStr)
}

// ApproachingLimit reports whether the limiter's window usage has crossed
// the given percentage threshold. Used to log ahead of quota exhaustion.
func (c *CostTracker) ApproachingLimit(rl *RateLimiter, thresholdPercent float64) bool {
	if rl == nil {
		return false
	}
	return rl.UsagePercent() >= thresholdPercent
}

// EstimateTokens provides a rough token count for the given text using the
// 1-token-per-4-characters approximation.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && len(text) > 0 {
		return 1
	}
	return n
}
