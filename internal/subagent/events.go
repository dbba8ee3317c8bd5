package subagent

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// EventType represents the type of lifecycle event.
type EventType string

const (
	// EventSpawn indicates a subagent transitioned to running.
	EventSpawn EventType = "spawn"
	// EventComplete indicates a subagent completed successfully.
	EventComplete EventType = "complete"
	// EventFail indicates a subagent failed (admission, unexpected error).
	EventFail EventType = "fail"
	// EventTimeout indicates a subagent's wall-clock timer expired.
	EventTimeout EventType = "timeout"
	// EventCancel indicates a subagent was cancelled, including timeout
	// cancellation observed by the loop.
	EventCancel EventType = "cancel"
)

// Event is one lifecycle notification. The payload equals the exposed result
// structures: a value snapshot of the subagent plus the terminal result when
// one exists.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// Agent is a snapshot of the subagent at emission time.
	Agent Subagent
	// Result is the terminal result, set on complete/fail/cancel events.
	Result *SpawnResult
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// Listener receives events.
type Listener func(Event)

// Broadcaster dispatches lifecycle events to narrow per-type listeners, a
// catch-all listener list, and a buffered channel for UI consumers. Listener
// dispatch is synchronous at each transition point; the channel drops events
// under sustained backpressure rather than blocking the manager.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[EventType][]Listener
	all       []Listener

	events       chan Event
	closed       bool
	droppedCount atomic.Uint64
}

// NewBroadcaster creates a Broadcaster with the given channel buffer size.
func NewBroadcaster(bufferSize int) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Broadcaster{
		listeners: make(map[EventType][]Listener),
		events:    make(chan Event, bufferSize),
	}
}

// On registers a listener for one event type.
func (b *Broadcaster) On(t EventType, l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[t] = append(b.listeners[t], l)
}

// OnAny registers a catch-all listener that receives every event.
func (b *Broadcaster) OnAny(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, l)
}

// Events returns a read-only channel of events for subscribers such as the
// TUI.
func (b *Broadcaster) Events() <-chan Event {
	return b.events
}

// DroppedCount returns the total number of events dropped from the channel.
func (b *Broadcaster) DroppedCount() uint64 {
	return b.droppedCount.Load()
}

// Emit dispatches an event to listeners synchronously, then offers it to the
// channel, trying briefly before dropping.
func (b *Broadcaster) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	narrow := append([]Listener{}, b.listeners[event.Type]...)
	all := append([]Listener{}, b.all...)
	b.mu.RUnlock()

	for _, l := range narrow {
		l(event)
	}
	for _, l := range all {
		l(event)
	}

	// The read lock also keeps Close from closing the channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	select {
	case b.events <- event:
		return
	default:
	}

	// Give the receiver a moment to drain before dropping.
	select {
	case b.events <- event:
	case <-time.After(100 * time.Millisecond):
		count := b.droppedCount.Add(1)
		if count%10 == 1 { // Log every 10th drop to avoid spam
			log.Printf("[subagent] WARNING: event channel full, dropped event (total dropped: %d): type=%s", count, event.Type)
		}
	}
}

// Close closes the events channel. Emit calls after Close still reach
// listeners but skip the channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.events)
	}
}
