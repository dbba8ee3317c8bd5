// Package tools provides the tool registry and the builtin coding tools
// available to subagents.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/ShayCichocki/squire/internal/provider"
)

// Result represents the outcome of a tool execution.
type Result struct {
	Content string
	IsError bool
}

// Errorf builds an error Result from a format string.
func Errorf(format string, args ...interface{}) Result {
	return Result{Content: fmt.Sprintf(format, args...), IsError: true}
}

// Tool is one executable capability offered to subagents.
type Tool interface {
	// Name is the unique tool name used in model tool calls.
	Name() string
	// Spec describes the tool to the model.
	Spec() provider.ToolSpec
	// Execute runs the tool with raw JSON input.
	Execute(ctx context.Context, input json.RawMessage) Result
}

// Registry maps tool names to executable tools. Allowlist filtering happens
// in the lifecycle manager; unknown or disallowed names never reach Execute
// through that path, but Execute still rejects unknown names for direct
// callers.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any existing tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the tool with the given name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs returns the specs for the named tools, skipping unknown names.
func (r *Registry) Specs(names []string) []provider.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]provider.ToolSpec, 0, len(names))
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			specs = append(specs, t.Spec())
		}
	}
	return specs
}

// Execute runs the named tool. Unknown names produce an error Result rather
// than an error return, matching the pass/fail contract tools themselves use.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage) Result {
	t, ok := r.Get(name)
	if !ok {
		return Errorf("Unknown tool: %s", name)
	}
	return t.Execute(ctx, input)
}
