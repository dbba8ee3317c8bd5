package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ShayCichocki/squire/internal/provider"
)

type fakeTool struct {
	name   string
	result Result
	calls  int
}

func (f *fakeTool) Name() string { return f.name }

func (f *fakeTool) Spec() provider.ToolSpec {
	return provider.ToolSpec{Name: f.name, Description: "fake"}
}

func (f *fakeTool) Execute(ctx context.Context, input json.RawMessage) Result {
	f.calls++
	return f.result
}

func TestRegistry_RegisterAndExecute(t *testing.T) {
	r := NewRegistry()
	ft := &fakeTool{name: "echo", result: Result{Content: "hello"}}
	r.Register(ft)

	res := r.Execute(context.Background(), "echo", nil)
	if res.IsError {
		t.Fatalf("Execute returned error result: %s", res.Content)
	}
	if res.Content != "hello" {
		t.Errorf("Content = %q, want %q", res.Content, "hello")
	}
	if ft.calls != 1 {
		t.Errorf("calls = %d, want 1", ft.calls)
	}
}

func TestRegistry_UnknownTool(t *testing.T) {
	r := NewRegistry()

	res := r.Execute(context.Background(), "nonexistent", nil)
	if !res.IsError {
		t.Error("expected error result for unknown tool")
	}
	if !strings.Contains(res.Content, "Unknown tool") {
		t.Errorf("Content = %q, want unknown-tool message", res.Content)
	}
}

func TestRegistry_SpecsFiltersUnknownNames(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "a"})
	r.Register(&fakeTool{name: "b"})

	specs := r.Specs([]string{"a", "missing", "b"})
	if len(specs) != 2 {
		t.Fatalf("len(specs) = %d, want 2", len(specs))
	}
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "zeta"})
	r.Register(&fakeTool{name: "alpha"})

	names := r.Names()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Errorf("Names() = %v, want sorted [alpha zeta]", names)
	}
}

func TestReadFileTool(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.txt")
	if err := os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0644); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry()
	RegisterBuiltins(r, dir)

	input, _ := json.Marshal(map[string]interface{}{"file_path": "sample.txt"})
	res := r.Execute(context.Background(), "read_file", input)
	if res.IsError {
		t.Fatalf("read_file error: %s", res.Content)
	}
	if !strings.Contains(res.Content, "two") {
		t.Errorf("read_file output missing content: %q", res.Content)
	}

	input, _ = json.Marshal(map[string]interface{}{"file_path": "sample.txt", "offset": 2, "limit": 1})
	res = r.Execute(context.Background(), "read_file", input)
	if res.IsError || !strings.Contains(res.Content, "two") || strings.Contains(res.Content, "three") {
		t.Errorf("read_file with offset/limit = %q", res.Content)
	}
}

func TestWriteAndEditFileTool(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry()
	RegisterBuiltins(r, dir)
	ctx := context.Background()

	input, _ := json.Marshal(map[string]interface{}{"file_path": "sub/new.txt", "content": "alpha beta"})
	res := r.Execute(ctx, "write_file", input)
	if res.IsError {
		t.Fatalf("write_file error: %s", res.Content)
	}

	input, _ = json.Marshal(map[string]interface{}{
		"file_path": "sub/new.txt", "old_string": "beta", "new_string": "gamma",
	})
	res = r.Execute(ctx, "edit_file", input)
	if res.IsError {
		t.Fatalf("edit_file error: %s", res.Content)
	}

	content, err := os.ReadFile(filepath.Join(dir, "sub", "new.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "alpha gamma" {
		t.Errorf("file content = %q, want %q", content, "alpha gamma")
	}
}

func TestEditFileTool_RequiresUniqueMatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dup.txt")
	if err := os.WriteFile(path, []byte("x x"), 0644); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry()
	RegisterBuiltins(r, dir)

	input, _ := json.Marshal(map[string]interface{}{
		"file_path": "dup.txt", "old_string": "x", "new_string": "y",
	})
	res := r.Execute(context.Background(), "edit_file", input)
	if !res.IsError {
		t.Error("expected error for ambiguous old_string")
	}
}

func TestSearchTool(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n// needle here\n"), 0644); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry()
	RegisterBuiltins(r, dir)

	input, _ := json.Marshal(map[string]interface{}{"query": "needle"})
	res := r.Execute(context.Background(), "search", input)
	if res.IsError {
		t.Fatalf("search error: %s", res.Content)
	}
	if !strings.Contains(res.Content, "a.go:2:") {
		t.Errorf("search output = %q, want match in a.go line 2", res.Content)
	}
}

func TestRunCommandTool(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r, t.TempDir())

	input, _ := json.Marshal(map[string]interface{}{"command": "echo orchestrated"})
	res := r.Execute(context.Background(), "run_command", input)
	if res.IsError {
		t.Fatalf("run_command error: %s", res.Content)
	}
	if !strings.Contains(res.Content, "orchestrated") {
		t.Errorf("run_command output = %q", res.Content)
	}
}
