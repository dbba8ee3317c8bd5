package subagent

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/squire/internal/provider"
	"github.com/ShayCichocki/squire/internal/session"
	"github.com/ShayCichocki/squire/internal/tools"
)

// DefaultMaxConcurrent is the global ceiling on simultaneously running
// subagents.
const DefaultMaxConcurrent = 3

// DefaultTimeout is the wall-clock timeout applied when SpawnOptions does not
// override it.
const DefaultTimeout = 5 * time.Minute

// abortMarker distinguishes cancellation and timeout failures from ordinary
// ones in the error text.
const abortMarker = "aborted"

func containsAbortMarker(msg string) bool {
	return strings.Contains(msg, abortMarker)
}

// SpawnOptions contains per-spawn configuration.
type SpawnOptions struct {
	// Timeout overrides the default wall-clock timeout. Zero uses the
	// manager default.
	Timeout time.Duration
	// OnStatusChange is invoked synchronously at each status transition.
	OnStatusChange func(Subagent)
	// OnOutput is invoked synchronously with each chunk of model text.
	OnOutput func(string)
}

// SpawnResult is the terminal outcome of one spawn call. Spawn always
// resolves to a well-formed result; it never returns an error to the caller.
type SpawnResult struct {
	// Agent is the terminal subagent snapshot.
	Agent Subagent
	// Success is true when the subagent completed.
	Success bool
	// Output is the accumulated model text, or the failure message when no
	// output was produced.
	Output string
	// Usage is the token consumption summed across all rounds, populated
	// regardless of success or failure.
	Usage provider.Usage
}

// RunRecord is the persistence shape of one terminal run.
type RunRecord struct {
	ID           string
	Kind         string
	Task         string
	Status       string
	Error        string
	Output       string
	InputTokens  int64
	OutputTokens int64
	CreatedAt    time.Time
	CompletedAt  time.Time
}

// RunRecorder persists terminal runs. Implemented by the state store.
type RunRecorder interface {
	RecordRun(rec RunRecord) error
}

// Config contains configuration for a Manager.
type Config struct {
	// Provider is the model backend; calls are expected to arrive already
	// wrapped in retry and circuit-breaking.
	Provider provider.Provider
	// Tools is the tool registry.
	Tools *tools.Registry
	// MaxConcurrent is the global concurrency ceiling (default 3).
	MaxConcurrent int
	// DefaultTimeout is the per-spawn wall-clock timeout (default 5m).
	DefaultTimeout time.Duration
	// EventBuffer is the event channel buffer size (default 100).
	EventBuffer int
	// Recorder, if set, persists terminal runs.
	Recorder RunRecorder
	// MaxTurnsOverrides replaces per-kind turn budgets from configuration.
	MaxTurnsOverrides map[Kind]int
	// Budget configures per-agent context window accounting. A zero
	// WindowSize falls back to the session default.
	Budget session.BudgetConfig
}

// activeEntry is the manager's bookkeeping for one running subagent.
type activeEntry struct {
	agent  *Subagent
	cancel context.CancelFunc
	timer  *time.Timer

	// timedOut records that cancellation came from the timeout timer, so the
	// loop can attribute the abort correctly.
	mu       sync.Mutex
	timedOut bool
}

func (e *activeEntry) markTimedOut() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timedOut = true
}

func (e *activeEntry) hasTimedOut() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timedOut
}

// Manager is the subagent lifecycle orchestrator. The active and completed
// collections are owned by the manager and mutated only through its methods;
// an id lives in exactly one of the two, and the move from active to
// completed happens atomically under the manager's lock.
type Manager struct {
	provider       provider.Provider
	tools          *tools.Registry
	maxConcurrent  int
	defaultTimeout time.Duration
	recorder       RunRecorder
	turnsOverrides map[Kind]int
	budgetCfg      session.BudgetConfig

	mu        sync.Mutex
	active    map[string]*activeEntry
	completed map[string]*Subagent

	events *Broadcaster
}

// NewManager creates a Manager. Zero config values fall back to defaults.
func NewManager(cfg Config) *Manager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.Budget.WindowSize <= 0 {
		cfg.Budget.WindowSize = session.DefaultWindowSize
	}

	return &Manager{
		provider:       cfg.Provider,
		tools:          cfg.Tools,
		maxConcurrent:  cfg.MaxConcurrent,
		defaultTimeout: cfg.DefaultTimeout,
		recorder:       cfg.Recorder,
		turnsOverrides: cfg.MaxTurnsOverrides,
		budgetCfg:      cfg.Budget,
		active:         make(map[string]*activeEntry),
		completed:      make(map[string]*Subagent),
		events:         NewBroadcaster(cfg.EventBuffer),
	}
}

// Events returns the broadcaster for lifecycle events.
func (m *Manager) Events() *Broadcaster {
	return m.events
}

// maxTurnsFor returns the turn budget for a kind, honoring overrides.
func (m *Manager) maxTurnsFor(cfg KindConfig) int {
	if n, ok := m.turnsOverrides[cfg.Kind]; ok && n > 0 {
		return n
	}
	return cfg.MaxTurns
}

// Spawn creates a subagent of the given kind and drives it to a terminal
// state. It blocks until the subagent finishes; run it in a goroutine for
// concurrent agents. ctx is the external cancellation signal: if it is
// already cancelled the spawn fails immediately, and later cancellation is
// observed at the top of each round.
func (m *Manager) Spawn(ctx context.Context, kind Kind, task string, opts SpawnOptions) SpawnResult {
	agent := &Subagent{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    StatusIdle,
		Task:      task,
		CreatedAt: time.Now(),
	}

	if !kind.Valid() {
		return m.finishDetached(agent, opts, fmt.Sprintf("unknown agent kind %d", kind), EventFail, provider.Usage{}, "")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}

	// Pre-cancelled signal: fail with the abort marker and a cancel event,
	// before any slot is taken.
	if ctx.Err() != nil {
		return m.finishDetached(agent, opts, fmt.Sprintf("%s before start: %v", abortMarker, ctx.Err()), EventCancel, provider.Usage{}, "")
	}

	// Admission control: the ceiling is checked once, here. Over-ceiling
	// spawns are rejected outright with no queuing and never occupy a slot.
	m.mu.Lock()
	if len(m.active) >= m.maxConcurrent {
		m.mu.Unlock()
		msg := fmt.Sprintf("maximum concurrent agents (%d) reached", m.maxConcurrent)
		return m.finishDetached(agent, opts, msg, EventFail, provider.Usage{}, "")
	}

	// The external signal is decoupled from the manager's internal cancel
	// source: deriving the run context propagates caller cancellation, while
	// Cancel(id) and the timeout timer use the stored CancelFunc.
	runCtx, cancel := context.WithCancel(ctx)
	entry := &activeEntry{agent: agent, cancel: cancel}

	agent.Status = StatusRunning
	m.active[agent.ID] = entry
	m.mu.Unlock()

	entry.timer = time.AfterFunc(timeout, func() { m.onTimeout(entry, timeout) })

	m.notifyStatus(entry, opts)
	m.events.Emit(Event{Type: EventSpawn, Agent: *agent})
	log.Printf("[subagent] %s (%s): spawned: %s", agent.ID, kind, task)

	return m.runLoop(runCtx, entry, opts)
}

// SpawnAsync runs Spawn in a goroutine and returns the result on a channel.
func (m *Manager) SpawnAsync(ctx context.Context, kind Kind, task string, opts SpawnOptions) <-chan SpawnResult {
	resultCh := make(chan SpawnResult, 1)
	go func() {
		defer close(resultCh)
		resultCh <- m.Spawn(ctx, kind, task, opts)
	}()
	return resultCh
}

// runLoop drives the subagent through up to maxTurns provider rounds.
func (m *Manager) runLoop(ctx context.Context, entry *activeEntry, opts SpawnOptions) SpawnResult {
	agent := entry.agent
	cfg := agent.Kind.Config()
	maxTurns := m.maxTurnsFor(cfg)

	sess := session.New(session.NewContextBudget(m.budgetCfg))
	sess.Append(provider.Message{Role: provider.RoleUser, Text: agent.Task})
	toolSpecs := m.tools.Specs(cfg.AllowedTools)

	var usage provider.Usage
	var output strings.Builder

	for round := 0; round < maxTurns; round++ {
		// Cooperative cancellation: checked at the top of every round. An
		// in-flight call is never interrupted mid-round; a stale flag read
		// before the previous suspension is not trusted.
		if err := ctx.Err(); err != nil {
			return m.finishAborted(entry, opts, err, usage, output.String())
		}

		resp, err := m.provider.Complete(ctx, provider.Request{
			System:   cfg.Instructions,
			Messages: sess.Messages(),
			Tools:    toolSpecs,
		})
		if err != nil {
			if ctx.Err() != nil {
				return m.finishAborted(entry, opts, ctx.Err(), usage, output.String())
			}
			return m.finish(entry, opts, StatusFailed, EventFail, err.Error(), usage, output.String())
		}

		usage.Add(resp.Usage)
		sess.RecordUsage(resp.Usage)

		if resp.Text != "" {
			output.WriteString(resp.Text)
			if opts.OnOutput != nil {
				opts.OnOutput(resp.Text)
			}
		}

		// Final answer: no further tool calls.
		if len(resp.ToolCalls) == 0 {
			return m.finish(entry, opts, StatusCompleted, EventComplete, "", usage, output.String())
		}

		sess.Append(provider.Message{
			Role:      provider.RoleAssistant,
			Text:      resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		results := make([]provider.ToolResult, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			// Disallowed tools never reach the registry; the model gets a
			// synthetic error result instead.
			if !cfg.AllowsTool(call.Name) {
				results = append(results, provider.ToolResult{
					CallID:  call.ID,
					Content: fmt.Sprintf("Tool %q is not available to this agent type", call.Name),
					IsError: true,
				})
				log.Printf("[subagent] %s (%s): blocked disallowed tool %q", agent.ID, agent.Kind, call.Name)
				continue
			}

			res := m.tools.Execute(ctx, call.Name, call.Input)
			results = append(results, provider.ToolResult{
				CallID:  call.ID,
				Content: res.Content,
				IsError: res.IsError,
			})
		}

		sess.Append(provider.Message{
			Role:        provider.RoleUser,
			ToolResults: results,
		})

		sess.MaybeCompact()
	}

	// Turn budget exhausted. With output already accumulated this still
	// counts as a completion; with nothing to show it is a failure.
	if output.Len() > 0 {
		return m.finish(entry, opts, StatusCompleted, EventComplete, "", usage, output.String())
	}
	msg := fmt.Sprintf("max turns (%d) reached without a final answer", maxTurns)
	return m.finish(entry, opts, StatusFailed, EventFail, msg, usage, output.String())
}

// onTimeout is the body of the timeout alarm. Stopping the timer cannot
// recall a callback already in flight, so the alarm re-checks that the id is
// still active before acting; one that lost the race to a normal completion
// is a no-op.
func (m *Manager) onTimeout(entry *activeEntry, timeout time.Duration) {
	agent := entry.agent

	m.mu.Lock()
	if _, ok := m.active[agent.ID]; !ok {
		m.mu.Unlock()
		return
	}
	entry.markTimedOut()
	snapshot := *agent
	m.mu.Unlock()

	m.events.Emit(Event{Type: EventTimeout, Agent: snapshot})
	log.Printf("[subagent] %s (%s): timeout after %v", agent.ID, agent.Kind, timeout)
	entry.cancel()
}

// finishAborted resolves a cancellation or timeout into a terminal failed
// state with the abort marker, emitting cancel rather than fail.
func (m *Manager) finishAborted(entry *activeEntry, opts SpawnOptions, cause error, usage provider.Usage, output string) SpawnResult {
	var msg string
	if entry.hasTimedOut() {
		msg = fmt.Sprintf("%s: timed out: %v", abortMarker, cause)
	} else {
		msg = fmt.Sprintf("%s: %v", abortMarker, cause)
	}
	return m.finish(entry, opts, StatusFailed, EventCancel, msg, usage, output)
}

// finish moves an active subagent to the completed collection in one locked
// step, disarms its timer, and reports the terminal transition.
func (m *Manager) finish(entry *activeEntry, opts SpawnOptions, status Status, eventType EventType, errMsg string, usage provider.Usage, output string) SpawnResult {
	agent := entry.agent

	// Always disarm the timer so a dangling alarm cannot fire after the
	// record has moved.
	if entry.timer != nil {
		entry.timer.Stop()
	}
	entry.cancel()

	m.mu.Lock()
	agent.Status = status
	agent.CompletedAt = time.Now()
	if status == StatusCompleted {
		agent.Result = output
	} else {
		agent.Error = errMsg
	}
	delete(m.active, agent.ID)
	m.completed[agent.ID] = agent
	snapshot := *agent
	m.mu.Unlock()

	result := SpawnResult{
		Agent:   snapshot,
		Success: status == StatusCompleted,
		Output:  output,
		Usage:   usage,
	}
	if result.Output == "" && errMsg != "" {
		result.Output = errMsg
	}

	if opts.OnStatusChange != nil {
		opts.OnStatusChange(snapshot)
	}
	m.events.Emit(Event{Type: eventType, Agent: snapshot, Result: &result})
	m.record(snapshot, usage)

	log.Printf("[subagent] %s (%s): %s", agent.ID, agent.Kind, status)
	return result
}

// finishDetached resolves a subagent that never entered the active
// collection (admission failure, pre-cancelled signal, invalid kind). The
// record goes straight to completed; the active count is untouched.
func (m *Manager) finishDetached(agent *Subagent, opts SpawnOptions, errMsg string, eventType EventType, usage provider.Usage, output string) SpawnResult {
	m.mu.Lock()
	agent.Status = StatusFailed
	agent.CompletedAt = time.Now()
	agent.Error = errMsg
	m.completed[agent.ID] = agent
	snapshot := *agent
	m.mu.Unlock()

	result := SpawnResult{
		Agent:   snapshot,
		Success: false,
		Output:  output,
		Usage:   usage,
	}
	if result.Output == "" {
		result.Output = errMsg
	}

	if opts.OnStatusChange != nil {
		opts.OnStatusChange(snapshot)
	}
	m.events.Emit(Event{Type: eventType, Agent: snapshot, Result: &result})
	m.record(snapshot, usage)

	log.Printf("[subagent] %s (%s): rejected: %s", agent.ID, agent.Kind, errMsg)
	return result
}

// record persists a terminal run if a recorder is configured.
func (m *Manager) record(agent Subagent, usage provider.Usage) {
	if m.recorder == nil {
		return
	}
	err := m.recorder.RecordRun(RunRecord{
		ID:           agent.ID,
		Kind:         agent.Kind.String(),
		Task:         agent.Task,
		Status:       string(agent.Status),
		Error:        agent.Error,
		Output:       agent.Result,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		CreatedAt:    agent.CreatedAt,
		CompletedAt:  agent.CompletedAt,
	})
	if err != nil {
		log.Printf("[subagent] failed to record run %s: %v", agent.ID, err)
	}
}

// notifyStatus invokes the status callback with a snapshot of the agent.
func (m *Manager) notifyStatus(entry *activeEntry, opts SpawnOptions) {
	if opts.OnStatusChange == nil {
		return
	}
	m.mu.Lock()
	snapshot := *entry.agent
	m.mu.Unlock()
	opts.OnStatusChange(snapshot)
}

// Cancel triggers the internal cancellation source for an active subagent.
// Returns true if one was found. Completed subagents are never affected.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	entry, ok := m.active[id]
	m.mu.Unlock()

	if !ok {
		return false
	}
	log.Printf("[subagent] %s: cancel requested", id)
	entry.cancel()
	return true
}

// CancelAll cancels every active subagent and returns how many were signalled.
func (m *Manager) CancelAll() int {
	m.mu.Lock()
	entries := make([]*activeEntry, 0, len(m.active))
	for _, entry := range m.active {
		entries = append(entries, entry)
	}
	m.mu.Unlock()

	for _, entry := range entries {
		entry.cancel()
	}
	return len(entries)
}

// GetAgent looks up a subagent by id across the active and completed
// collections.
func (m *Manager) GetAgent(id string) (Subagent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.active[id]; ok {
		return *entry.agent, true
	}
	if agent, ok := m.completed[id]; ok {
		return *agent, true
	}
	return Subagent{}, false
}

// GetStatus returns the status of a subagent by id.
func (m *Manager) GetStatus(id string) (Status, bool) {
	agent, ok := m.GetAgent(id)
	if !ok {
		return "", false
	}
	return agent.Status, true
}

// ActiveAgents returns snapshots of all running subagents.
func (m *Manager) ActiveAgents() []Subagent {
	m.mu.Lock()
	defer m.mu.Unlock()

	agents := make([]Subagent, 0, len(m.active))
	for _, entry := range m.active {
		agents = append(agents, *entry.agent)
	}
	return agents
}

// CompletedAgents returns snapshots of all terminal subagents.
func (m *Manager) CompletedAgents() []Subagent {
	m.mu.Lock()
	defer m.mu.Unlock()

	agents := make([]Subagent, 0, len(m.completed))
	for _, agent := range m.completed {
		agents = append(agents, *agent)
	}
	return agents
}

// ActiveCount returns the number of running subagents.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// CanSpawn reports whether a spawn would pass admission right now.
func (m *Manager) CanSpawn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active) < m.maxConcurrent
}

// ClearCompleted discards the completed history without touching active
// subagents. Returns how many records were dropped.
func (m *Manager) ClearCompleted() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.completed)
	m.completed = make(map[string]*Subagent)
	return n
}
