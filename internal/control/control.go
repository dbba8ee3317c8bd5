// Package control provides out-of-band cancellation signals through the
// .squire directory, so a second terminal can stop running agents without
// talking to the process directly.
package control

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const cancelPrefix = "cancel-"

// SignalWatcher watches the project's .squire/signals directory for control
// files: "stop" cancels every running agent, "cancel-<id>" cancels one.
type SignalWatcher struct {
	squireDir string

	mu         sync.RWMutex
	stopSignal bool
	cancelled  map[string]bool

	// onStop and onCancel fire once per observed signal. They are fixed at
	// construction, before the watcher goroutine starts.
	onStop   func()
	onCancel func(agentID string)

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewSignalWatcher creates a watcher rooted at the given project directory.
// onStop and onCancel may be nil. The signals directory is created if
// missing. A failed fsnotify setup is not fatal; callers fall back to the
// polling checks.
func NewSignalWatcher(projectRoot string, onStop func(), onCancel func(agentID string)) (*SignalWatcher, error) {
	squireDir := filepath.Join(projectRoot, ".squire")
	signalsDir := filepath.Join(squireDir, "signals")
	if err := os.MkdirAll(signalsDir, 0755); err != nil {
		return nil, err
	}

	sw := &SignalWatcher{
		squireDir: squireDir,
		cancelled: make(map[string]bool),
		onStop:    onStop,
		onCancel:  onCancel,
		done:      make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// Continue without watcher - will use polling fallback
		return sw, nil
	}
	sw.watcher = watcher

	if err := watcher.Add(signalsDir); err != nil {
		watcher.Close()
		sw.watcher = nil
		return sw, nil
	}

	go sw.watchSignals()

	return sw, nil
}

// watchSignals monitors the signals directory for stop/cancel files.
func (sw *SignalWatcher) watchSignals() {
	for {
		select {
		case <-sw.done:
			return
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create == 0 && event.Op&fsnotify.Write == 0 {
				continue
			}
			sw.observe(filepath.Base(event.Name))
		case <-sw.watcher.Errors:
			// Ignore errors, keep watching
		}
	}
}

// observe records one signal file and fires its callback at most once.
func (sw *SignalWatcher) observe(name string) {
	sw.mu.Lock()
	var fireStop bool
	var fireCancel string

	switch {
	case name == "stop":
		if !sw.stopSignal {
			sw.stopSignal = true
			fireStop = true
		}
	case strings.HasPrefix(name, cancelPrefix):
		id := strings.TrimPrefix(name, cancelPrefix)
		if id != "" && !sw.cancelled[id] {
			sw.cancelled[id] = true
			fireCancel = id
		}
	}
	sw.mu.Unlock()

	if fireStop && sw.onStop != nil {
		sw.onStop()
	}
	if fireCancel != "" && sw.onCancel != nil {
		sw.onCancel(fireCancel)
	}
}

// ShouldStop returns true if a stop signal has been received.
func (sw *SignalWatcher) ShouldStop() bool {
	// Also check the file directly in case the watcher missed it
	stopPath := filepath.Join(sw.squireDir, "signals", "stop")
	if _, err := os.Stat(stopPath); err == nil {
		sw.observe("stop")
	}

	sw.mu.RLock()
	defer sw.mu.RUnlock()
	return sw.stopSignal
}

// IsCancelled returns true if a cancel signal exists for the given agent.
func (sw *SignalWatcher) IsCancelled(agentID string) bool {
	path := filepath.Join(sw.squireDir, "signals", cancelPrefix+agentID)
	if _, err := os.Stat(path); err == nil {
		sw.observe(cancelPrefix + agentID)
	}

	sw.mu.RLock()
	defer sw.mu.RUnlock()
	return sw.cancelled[agentID]
}

// SendStop creates a stop signal file.
func (sw *SignalWatcher) SendStop() error {
	path := filepath.Join(sw.squireDir, "signals", "stop")
	return os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0644)
}

// SendCancel creates a cancel signal file for one agent.
func (sw *SignalWatcher) SendCancel(agentID string) error {
	path := filepath.Join(sw.squireDir, "signals", cancelPrefix+agentID)
	return os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0644)
}

// ClearSignals removes all signal files and resets signal state.
func (sw *SignalWatcher) ClearSignals() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.stopSignal = false
	sw.cancelled = make(map[string]bool)

	signalsDir := filepath.Join(sw.squireDir, "signals")
	entries, err := os.ReadDir(signalsDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.Name() == "stop" || strings.HasPrefix(e.Name(), cancelPrefix) {
			os.Remove(filepath.Join(signalsDir, e.Name()))
		}
	}
}

// SquireDir returns the path to the .squire directory.
func (sw *SignalWatcher) SquireDir() string {
	return sw.squireDir
}

// Close shuts down the watcher.
func (sw *SignalWatcher) Close() {
	select {
	case <-sw.done:
		return
	default:
	}
	close(sw.done)
	if sw.watcher != nil {
		sw.watcher.Close()
	}
}
