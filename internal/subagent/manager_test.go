package subagent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/squire/internal/provider"
	"github.com/ShayCichocki/squire/internal/tools"
)

// scriptStep is one canned provider response.
type scriptStep struct {
	resp *provider.Response
	err  error
}

// fakeProvider returns scripted responses and records requests. If block is
// set, Complete waits until it is closed or the context is cancelled.
type fakeProvider struct {
	mu       sync.Mutex
	script   []scriptStep
	requests []provider.Request
	block    chan struct{}
}

func (f *fakeProvider) Complete(ctx context.Context, req provider.Request) (*provider.Response, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	idx := len(f.requests) - 1
	if idx < len(f.script) {
		step := f.script[idx]
		return step.resp, step.err
	}
	return &provider.Response{Text: "done"}, nil
}

func (f *fakeProvider) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeProvider) request(i int) provider.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i]
}

// recordingTool counts executions.
type recordingTool struct {
	name  string
	mu    sync.Mutex
	calls int
}

func (t *recordingTool) Name() string { return t.name }

func (t *recordingTool) Spec() provider.ToolSpec {
	return provider.ToolSpec{Name: t.name, Description: "recording"}
}

func (t *recordingTool) Execute(ctx context.Context, input json.RawMessage) tools.Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	return tools.Result{Content: "ok"}
}

func (t *recordingTool) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// eventCollector gathers emitted events.
type eventCollector struct {
	mu     sync.Mutex
	events []Event
}

func (c *eventCollector) listen(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *eventCollector) types() []EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]EventType, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
}

func (c *eventCollector) has(t EventType) bool {
	for _, got := range c.types() {
		if got == t {
			return true
		}
	}
	return false
}

func newTestManager(p provider.Provider, reg *tools.Registry) *Manager {
	if reg == nil {
		reg = tools.NewRegistry()
	}
	return NewManager(Config{Provider: p, Tools: reg})
}

func TestSpawn_CompletesOnFinalAnswer(t *testing.T) {
	fp := &fakeProvider{script: []scriptStep{
		{resp: &provider.Response{
			Text:  "the answer",
			Usage: provider.Usage{InputTokens: 10, OutputTokens: 5},
		}},
	}}
	m := newTestManager(fp, nil)

	var outputs []string
	var statuses []Status
	result := m.Spawn(context.Background(), KindExplore, "look around", SpawnOptions{
		OnOutput:       func(s string) { outputs = append(outputs, s) },
		OnStatusChange: func(a Subagent) { statuses = append(statuses, a.Status) },
	})

	if !result.Success {
		t.Fatalf("Success = false, error: %s", result.Agent.Error)
	}
	if result.Agent.Status != StatusCompleted {
		t.Errorf("Status = %q, want completed", result.Agent.Status)
	}
	if result.Output != "the answer" {
		t.Errorf("Output = %q, want %q", result.Output, "the answer")
	}
	if result.Usage.InputTokens != 10 || result.Usage.OutputTokens != 5 {
		t.Errorf("Usage = %+v, want 10/5", result.Usage)
	}
	if result.Agent.Result != "the answer" {
		t.Errorf("Agent.Result = %q", result.Agent.Result)
	}
	if result.Agent.CompletedAt.IsZero() {
		t.Error("CompletedAt not set")
	}
	if len(outputs) != 1 || outputs[0] != "the answer" {
		t.Errorf("OnOutput got %v", outputs)
	}
	if len(statuses) != 2 || statuses[0] != StatusRunning || statuses[1] != StatusCompleted {
		t.Errorf("status transitions = %v, want [running completed]", statuses)
	}
}

func TestSpawn_ToolCallRoundTrip(t *testing.T) {
	input, _ := json.Marshal(map[string]string{"query": "x"})
	fp := &fakeProvider{script: []scriptStep{
		{resp: &provider.Response{
			ToolCalls: []provider.ToolCall{{ID: "call-1", Name: "search", Input: input}},
			Usage:     provider.Usage{InputTokens: 10, OutputTokens: 5},
		}},
		{resp: &provider.Response{
			Text:  "found it",
			Usage: provider.Usage{InputTokens: 7, OutputTokens: 3},
		}},
	}}

	reg := tools.NewRegistry()
	rt := &recordingTool{name: "search"}
	reg.Register(rt)

	m := newTestManager(fp, reg)
	result := m.Spawn(context.Background(), KindExplore, "find x", SpawnOptions{})

	if !result.Success {
		t.Fatalf("Success = false, error: %s", result.Agent.Error)
	}
	if rt.callCount() != 1 {
		t.Errorf("tool calls = %d, want 1", rt.callCount())
	}

	// Usage summed across both rounds.
	if result.Usage.InputTokens != 17 || result.Usage.OutputTokens != 8 {
		t.Errorf("Usage = %+v, want 17/8", result.Usage)
	}

	// The second request must carry the tool result turn.
	if fp.requestCount() != 2 {
		t.Fatalf("provider calls = %d, want 2", fp.requestCount())
	}
	second := fp.request(1)
	last := second.Messages[len(second.Messages)-1]
	if len(last.ToolResults) != 1 || last.ToolResults[0].CallID != "call-1" {
		t.Errorf("last message tool results = %+v", last.ToolResults)
	}
	if last.ToolResults[0].IsError {
		t.Error("tool result marked as error")
	}
}

func TestSpawn_DisallowedToolNeverReachesRegistry(t *testing.T) {
	input, _ := json.Marshal(map[string]string{"command": "rm -rf /"})
	fp := &fakeProvider{script: []scriptStep{
		{resp: &provider.Response{
			ToolCalls: []provider.ToolCall{{ID: "call-1", Name: "run_command", Input: input}},
		}},
		{resp: &provider.Response{Text: "plan: step one"}},
	}}

	reg := tools.NewRegistry()
	rt := &recordingTool{name: "run_command"}
	reg.Register(rt)

	m := newTestManager(fp, reg)
	// run_command is not on the plan allowlist.
	result := m.Spawn(context.Background(), KindPlan, "plan the work", SpawnOptions{})

	if rt.callCount() != 0 {
		t.Errorf("registry executed %d times, want 0", rt.callCount())
	}

	second := fp.request(1)
	last := second.Messages[len(second.Messages)-1]
	if len(last.ToolResults) != 1 {
		t.Fatalf("tool results = %+v, want 1 synthetic result", last.ToolResults)
	}
	if !last.ToolResults[0].IsError {
		t.Error("synthetic result not marked as error")
	}
	if !strings.Contains(last.ToolResults[0].Content, "not available to this agent type") {
		t.Errorf("synthetic result content = %q", last.ToolResults[0].Content)
	}

	// The subagent still completes when the model returns a final answer.
	if !result.Success || result.Agent.Status != StatusCompleted {
		t.Errorf("Status = %q, Success = %v, want completed", result.Agent.Status, result.Success)
	}
}

func TestSpawn_ConcurrencyCeiling(t *testing.T) {
	block := make(chan struct{})
	fp := &fakeProvider{block: block}
	m := newTestManager(fp, nil)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Spawn(context.Background(), KindExplore, "held open", SpawnOptions{})
		}()
	}

	waitFor(t, func() bool { return m.ActiveCount() == 3 })

	if m.CanSpawn() {
		t.Error("CanSpawn() = true at ceiling, want false")
	}

	start := time.Now()
	result := m.Spawn(context.Background(), KindExplore, "one too many", SpawnOptions{})
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("over-ceiling spawn took %v, want fast rejection", elapsed)
	}

	if result.Success {
		t.Error("Success = true, want false")
	}
	if result.Agent.Status != StatusFailed {
		t.Errorf("Status = %q, want failed", result.Agent.Status)
	}
	if !strings.Contains(result.Output, "maximum concurrent agents") {
		t.Errorf("Output = %q, want admission message", result.Output)
	}

	// The rejection never occupied a slot; the three originals still run.
	if got := m.ActiveCount(); got != 3 {
		t.Errorf("ActiveCount() = %d, want 3", got)
	}

	close(block)
	wg.Wait()

	if got := m.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount() after release = %d, want 0", got)
	}
	if got := len(m.CompletedAgents()); got != 4 {
		t.Errorf("completed = %d, want 4", got)
	}
}

func TestSpawn_PreCancelledSignal(t *testing.T) {
	fp := &fakeProvider{}
	m := newTestManager(fp, nil)

	collector := &eventCollector{}
	m.Events().OnAny(collector.listen)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := m.Spawn(ctx, KindExplore, "never starts", SpawnOptions{})

	if result.Success {
		t.Error("Success = true, want false")
	}
	if result.Agent.Status != StatusFailed {
		t.Errorf("Status = %q, want failed", result.Agent.Status)
	}
	if !strings.Contains(result.Agent.Error, "aborted") {
		t.Errorf("Error = %q, want aborted marker", result.Agent.Error)
	}
	if !result.Agent.Aborted() {
		t.Error("Aborted() = false, want true")
	}
	if fp.requestCount() != 0 {
		t.Errorf("provider called %d times, want 0", fp.requestCount())
	}

	// A cancel event, not a fail event.
	if !collector.has(EventCancel) {
		t.Errorf("events = %v, want cancel", collector.types())
	}
	if collector.has(EventFail) {
		t.Errorf("events = %v, fail should not be emitted", collector.types())
	}
}

func TestSpawn_CancelDuringRun(t *testing.T) {
	block := make(chan struct{})
	fp := &fakeProvider{block: block}
	m := newTestManager(fp, nil)

	collector := &eventCollector{}
	m.Events().OnAny(collector.listen)

	resultCh := m.SpawnAsync(context.Background(), KindExplore, "long task", SpawnOptions{})

	waitFor(t, func() bool { return m.ActiveCount() == 1 })
	id := m.ActiveAgents()[0].ID

	if !m.Cancel(id) {
		t.Fatal("Cancel returned false for an active agent")
	}

	result := <-resultCh
	if result.Success {
		t.Error("Success = true after cancel, want false")
	}
	if !strings.Contains(result.Agent.Error, "aborted") {
		t.Errorf("Error = %q, want aborted marker", result.Agent.Error)
	}
	if !collector.has(EventCancel) {
		t.Errorf("events = %v, want cancel", collector.types())
	}

	// Cancelling a completed agent reports not found.
	if m.Cancel(id) {
		t.Error("Cancel returned true for a completed agent")
	}
}

func TestSpawn_Timeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	fp := &fakeProvider{block: block}
	m := newTestManager(fp, nil)

	collector := &eventCollector{}
	m.Events().OnAny(collector.listen)

	result := m.Spawn(context.Background(), KindExplore, "slow task", SpawnOptions{
		Timeout: 30 * time.Millisecond,
	})

	if result.Success {
		t.Error("Success = true after timeout, want false")
	}
	if !strings.Contains(result.Agent.Error, "aborted") {
		t.Errorf("Error = %q, want aborted marker", result.Agent.Error)
	}
	if !strings.Contains(result.Agent.Error, "timed out") {
		t.Errorf("Error = %q, want timeout attribution", result.Agent.Error)
	}
	if !collector.has(EventTimeout) {
		t.Errorf("events = %v, want timeout", collector.types())
	}
	if !collector.has(EventCancel) {
		t.Errorf("events = %v, want cancel after timeout", collector.types())
	}
}

func TestTimeoutAlarmAfterCompletionIsNoOp(t *testing.T) {
	m := newTestManager(&fakeProvider{}, nil)

	collector := &eventCollector{}
	m.Events().OnAny(collector.listen)

	result := m.Spawn(context.Background(), KindExplore, "quick task", SpawnOptions{
		Timeout: time.Minute,
	})
	if !result.Success {
		t.Fatalf("spawn failed: %s", result.Agent.Error)
	}

	// Simulate the alarm firing after the agent has already moved to
	// completed: Stop cannot recall a callback already in flight.
	m.mu.Lock()
	entry, ok := m.active[result.Agent.ID]
	m.mu.Unlock()
	if ok {
		t.Fatal("agent still active after completion")
	}
	entry = &activeEntry{agent: &result.Agent, cancel: func() {}}
	m.onTimeout(entry, time.Minute)

	if entry.hasTimedOut() {
		t.Error("stale alarm marked a completed agent as timed out")
	}
	if collector.has(EventTimeout) {
		t.Errorf("events = %v, stale alarm emitted timeout", collector.types())
	}
	if agent, ok := m.GetAgent(result.Agent.ID); !ok || agent.Status != StatusCompleted {
		t.Errorf("agent = %+v, want completed", agent)
	}
}

func TestSpawn_ProviderErrorFailsAgent(t *testing.T) {
	fp := &fakeProvider{script: []scriptStep{
		{err: errors.New("provider exploded")},
	}}
	m := newTestManager(fp, nil)

	collector := &eventCollector{}
	m.Events().OnAny(collector.listen)

	result := m.Spawn(context.Background(), KindExplore, "doomed", SpawnOptions{})

	if result.Success {
		t.Error("Success = true, want false")
	}
	if !strings.Contains(result.Agent.Error, "provider exploded") {
		t.Errorf("Error = %q, want raw provider error", result.Agent.Error)
	}
	if result.Agent.Aborted() {
		t.Error("Aborted() = true for a plain failure")
	}
	if !collector.has(EventFail) {
		t.Errorf("events = %v, want fail", collector.types())
	}
}

func TestSpawn_MaxTurnsWithOutputCompletes(t *testing.T) {
	input, _ := json.Marshal(map[string]string{})
	step := scriptStep{resp: &provider.Response{
		Text:      "partial progress. ",
		ToolCalls: []provider.ToolCall{{ID: "c", Name: "search", Input: input}},
	}}

	fp := &fakeProvider{}
	for i := 0; i < 50; i++ {
		fp.script = append(fp.script, step)
	}

	reg := tools.NewRegistry()
	reg.Register(&recordingTool{name: "search"})

	m := NewManager(Config{
		Provider:          fp,
		Tools:             reg,
		MaxTurnsOverrides: map[Kind]int{KindExplore: 3},
	})

	result := m.Spawn(context.Background(), KindExplore, "never finishes", SpawnOptions{})

	if fp.requestCount() != 3 {
		t.Errorf("provider calls = %d, want 3", fp.requestCount())
	}
	// Output accumulated, so the turn-budget exit still completes.
	if !result.Success {
		t.Errorf("Success = false with accumulated output, error: %s", result.Agent.Error)
	}
}

func TestSpawn_MaxTurnsWithoutOutputFails(t *testing.T) {
	input, _ := json.Marshal(map[string]string{})
	step := scriptStep{resp: &provider.Response{
		ToolCalls: []provider.ToolCall{{ID: "c", Name: "search", Input: input}},
	}}

	fp := &fakeProvider{script: []scriptStep{step, step, step, step}}

	reg := tools.NewRegistry()
	reg.Register(&recordingTool{name: "search"})

	m := NewManager(Config{
		Provider:          fp,
		Tools:             reg,
		MaxTurnsOverrides: map[Kind]int{KindExplore: 2},
	})

	result := m.Spawn(context.Background(), KindExplore, "silent spinner", SpawnOptions{})

	if result.Success {
		t.Error("Success = true with no output, want false")
	}
	if !strings.Contains(result.Agent.Error, "max turns") {
		t.Errorf("Error = %q, want max-turns message", result.Agent.Error)
	}
}

func TestManager_ActiveCompletedExclusive(t *testing.T) {
	fp := &fakeProvider{}
	m := newTestManager(fp, nil)

	result := m.Spawn(context.Background(), KindReview, "review it", SpawnOptions{})
	id := result.Agent.ID

	if got := m.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount() = %d, want 0", got)
	}

	agent, ok := m.GetAgent(id)
	if !ok {
		t.Fatal("GetAgent did not find the completed agent")
	}
	if agent.Status != StatusCompleted {
		t.Errorf("Status = %q, want completed", agent.Status)
	}

	status, ok := m.GetStatus(id)
	if !ok || status != StatusCompleted {
		t.Errorf("GetStatus = %q, %v", status, ok)
	}

	if n := m.ClearCompleted(); n != 1 {
		t.Errorf("ClearCompleted() = %d, want 1", n)
	}
	if _, ok := m.GetAgent(id); ok {
		t.Error("agent still present after ClearCompleted")
	}
}

func TestManager_RecordsTerminalRuns(t *testing.T) {
	fp := &fakeProvider{script: []scriptStep{
		{resp: &provider.Response{Text: "ok", Usage: provider.Usage{InputTokens: 4, OutputTokens: 2}}},
	}}

	rec := &fakeRecorder{}
	m := NewManager(Config{Provider: fp, Tools: tools.NewRegistry(), Recorder: rec})

	result := m.Spawn(context.Background(), KindExplore, "record me", SpawnOptions{})

	recs := rec.records()
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	r := recs[0]
	if r.ID != result.Agent.ID || r.Kind != "explore" || r.Status != "completed" {
		t.Errorf("record = %+v", r)
	}
	if r.InputTokens != 4 || r.OutputTokens != 2 {
		t.Errorf("record tokens = %d/%d, want 4/2", r.InputTokens, r.OutputTokens)
	}
}

type fakeRecorder struct {
	mu   sync.Mutex
	recs []RunRecord
}

func (f *fakeRecorder) RecordRun(rec RunRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
	return nil
}

func (f *fakeRecorder) records() []RunRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RunRecord{}, f.recs...)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
