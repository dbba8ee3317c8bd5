package subagent

import "time"

// Status represents the current state of a subagent.
type Status string

const (
	// StatusIdle indicates the subagent record exists but has not started.
	StatusIdle Status = "idle"
	// StatusRunning indicates the subagent is actively working.
	StatusRunning Status = "running"
	// StatusCompleted indicates the subagent finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the subagent terminated with an error,
	// including cancellation and timeout.
	StatusFailed Status = "failed"
)

// Valid returns true if the status is a known value.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusRunning, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Subagent is one unit of delegated work. Records are created and mutated
// only by the Manager; everything handed to callbacks and events is a value
// snapshot.
type Subagent struct {
	// ID is the unique opaque identifier, generated at creation.
	ID string `json:"id"`
	// Kind is the subagent's role.
	Kind Kind `json:"kind"`
	// Status is the current lifecycle state.
	Status Status `json:"status"`
	// Task is the free-text description supplied by the caller.
	Task string `json:"task"`
	// Result holds the final output on completed subagents.
	Result string `json:"result,omitempty"`
	// Error holds the failure message on failed subagents. Cancellation and
	// timeout failures carry an "aborted" marker.
	Error string `json:"error,omitempty"`
	// CreatedAt is when the record was created.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the subagent reached a terminal state.
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Aborted reports whether the subagent failed due to cancellation or timeout.
func (a Subagent) Aborted() bool {
	return a.Status == StatusFailed && containsAbortMarker(a.Error)
}
