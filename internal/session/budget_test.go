package session

import "testing"

func TestContextBudget_ShouldCompactBoundary(t *testing.T) {
	// window 10000, reserved 2000 -> available 8000; threshold 0.8 -> 6400.
	b := NewContextBudget(BudgetConfig{WindowSize: 10000, Reserved: 2000, Threshold: 0.8})

	b.SetUsedTokens(6399)
	if b.ShouldCompact() {
		t.Error("ShouldCompact() = true just below threshold, want false")
	}

	b.SetUsedTokens(6400)
	if !b.ShouldCompact() {
		t.Error("ShouldCompact() = false at threshold, want true")
	}

	b.SetUsedTokens(7000)
	if !b.ShouldCompact() {
		t.Error("ShouldCompact() = false above threshold, want true")
	}
}

func TestContextBudget_SetUsedTokensResetsAfterCompaction(t *testing.T) {
	b := NewContextBudget(BudgetConfig{WindowSize: 10000, Reserved: 2000, Threshold: 0.8})

	b.SetUsedTokens(7000)
	if !b.ShouldCompact() {
		t.Fatal("expected compaction to be due")
	}

	// Caller compacts, then reflects the reduced size.
	b.SetUsedTokens(1500)
	if b.ShouldCompact() {
		t.Error("ShouldCompact() = true after post-compaction reset, want false")
	}
}

func TestContextBudget_AddTokensAccumulates(t *testing.T) {
	b := NewContextBudget(BudgetConfig{WindowSize: 1000})

	b.AddTokens(100)
	b.AddTokens(250)
	if got := b.UsedTokens(); got != 350 {
		t.Errorf("UsedTokens() = %d, want 350", got)
	}
}

func TestContextBudget_Defaults(t *testing.T) {
	b := NewContextBudget(BudgetConfig{WindowSize: 200000})

	if got := b.Available(); got != 200000-DefaultReservedTokens {
		t.Errorf("Available() = %d, want %d", got, 200000-DefaultReservedTokens)
	}

	// Default threshold 0.8 of available.
	available := float64(200000 - DefaultReservedTokens)
	limit := int64(0.8 * available)
	b.SetUsedTokens(limit - 1)
	if b.ShouldCompact() {
		t.Error("ShouldCompact() = true below default threshold")
	}
	b.SetUsedTokens(limit)
	if !b.ShouldCompact() {
		t.Error("ShouldCompact() = false at default threshold")
	}
}

func TestContextBudget_DegenerateWindow(t *testing.T) {
	b := NewContextBudget(BudgetConfig{WindowSize: 100, Reserved: 4096})

	// Reserved exceeds the window; compaction is always due.
	if !b.ShouldCompact() {
		t.Error("ShouldCompact() = false with no available tokens, want true")
	}
}
