package control

import (
	"sync"
	"testing"
	"time"
)

func TestStopSignalRoundTrip(t *testing.T) {
	sw, err := NewSignalWatcher(t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("NewSignalWatcher: %v", err)
	}
	defer sw.Close()

	if sw.ShouldStop() {
		t.Fatal("ShouldStop() = true before any signal")
	}

	if err := sw.SendStop(); err != nil {
		t.Fatalf("SendStop: %v", err)
	}

	// The polling fallback makes this deterministic even if fsnotify lags.
	if !sw.ShouldStop() {
		t.Error("ShouldStop() = false after SendStop")
	}

	sw.ClearSignals()
	if sw.ShouldStop() {
		t.Error("ShouldStop() = true after ClearSignals")
	}
}

func TestCancelSignalPerAgent(t *testing.T) {
	sw, err := NewSignalWatcher(t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("NewSignalWatcher: %v", err)
	}
	defer sw.Close()

	if err := sw.SendCancel("agent-1"); err != nil {
		t.Fatalf("SendCancel: %v", err)
	}

	if !sw.IsCancelled("agent-1") {
		t.Error("IsCancelled(agent-1) = false after SendCancel")
	}
	if sw.IsCancelled("agent-2") {
		t.Error("IsCancelled(agent-2) = true without a signal")
	}
}

func TestCallbacksFireOnce(t *testing.T) {
	var mu sync.Mutex
	var stops int
	var cancels []string

	sw, err := NewSignalWatcher(t.TempDir(),
		func() {
			mu.Lock()
			stops++
			mu.Unlock()
		},
		func(id string) {
			mu.Lock()
			cancels = append(cancels, id)
			mu.Unlock()
		})
	if err != nil {
		t.Fatalf("NewSignalWatcher: %v", err)
	}
	defer sw.Close()

	sw.SendStop()
	sw.SendCancel("agent-1")

	// Drive both the watcher and the polling path; each signal still fires
	// its callback at most once.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sw.ShouldStop()
		sw.IsCancelled("agent-1")
		mu.Lock()
		done := stops >= 1 && len(cancels) >= 1
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	// Let any duplicate fsnotify events drain.
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if stops != 1 {
		t.Errorf("stop callback fired %d times, want 1", stops)
	}
	if len(cancels) != 1 || cancels[0] != "agent-1" {
		t.Errorf("cancel callback fired with %v, want [agent-1]", cancels)
	}
}

func TestCloseIdempotent(t *testing.T) {
	sw, err := NewSignalWatcher(t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("NewSignalWatcher: %v", err)
	}
	sw.Close()
	sw.Close()
}
