// Package session tracks a conversation's token consumption against a
// provider context window and compacts history when the budget runs low.
package session

import "sync"

// DefaultWindowSize is the assumed context window when none is configured.
const DefaultWindowSize = 200000

// DefaultReservedTokens is the headroom held back for the next response.
const DefaultReservedTokens = 4096

// DefaultCompactThreshold is the fraction of available tokens at which
// compaction is recommended.
const DefaultCompactThreshold = 0.8

// BudgetConfig contains configuration for a ContextBudget.
type BudgetConfig struct {
	// WindowSize is the provider's total context window in tokens.
	WindowSize int64
	// Reserved is the headroom held back for the next response.
	Reserved int64
	// Threshold is the compaction threshold as a fraction of available
	// tokens (window minus reserved).
	Threshold float64
}

// ContextBudget tracks cumulative token consumption for one session. It is
// owned by the session and mutated as turns complete or after compaction.
type ContextBudget struct {
	mu         sync.RWMutex
	windowSize int64
	reserved   int64
	threshold  float64
	used       int64
}

// NewContextBudget creates a budget tracker. Zero Reserved and Threshold
// fall back to the defaults.
func NewContextBudget(cfg BudgetConfig) *ContextBudget {
	if cfg.Reserved <= 0 {
		cfg.Reserved = DefaultReservedTokens
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultCompactThreshold
	}
	return &ContextBudget{
		windowSize: cfg.WindowSize,
		reserved:   cfg.Reserved,
		threshold:  cfg.Threshold,
	}
}

// AddTokens adds n tokens to the cumulative count. Used for incremental
// per-turn accounting.
func (b *ContextBudget) AddTokens(n int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.used += n
}

// SetUsedTokens replaces the cumulative count. Used after compaction to
// reflect the reduced history size.
func (b *ContextBudget) SetUsedTokens(n int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.used = n
}

// UsedTokens returns the cumulative token count.
func (b *ContextBudget) UsedTokens() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.used
}

// Available returns the window size minus the reserved headroom.
func (b *ContextBudget) Available() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.windowSize - b.reserved
}

// ShouldCompact reports whether used tokens have reached the compaction
// threshold. It is a pure predicate: compaction itself is performed by the
// caller, which then calls SetUsedTokens.
func (b *ContextBudget) ShouldCompact() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	available := b.windowSize - b.reserved
	if available <= 0 {
		return true
	}
	return float64(b.used) >= b.threshold*float64(available)
}
