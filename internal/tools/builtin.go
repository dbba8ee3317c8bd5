package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ShayCichocki/squire/internal/provider"
)

// maxCommandOutput truncates run_command output beyond this size.
const maxCommandOutput = 30000

// RegisterBuiltins registers the builtin coding tools, scoped to workDir.
func RegisterBuiltins(r *Registry, workDir string) {
	r.Register(&readFileTool{workDir: workDir})
	r.Register(&writeFileTool{workDir: workDir})
	r.Register(&editFileTool{workDir: workDir})
	r.Register(&listDirTool{workDir: workDir})
	r.Register(&searchTool{workDir: workDir})
	r.Register(&runCommandTool{workDir: workDir})
}

// resolvePath makes a path absolute relative to workDir.
func resolvePath(workDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workDir, path)
}

type readFileTool struct {
	workDir string
}

func (t *readFileTool) Name() string { return "read_file" }

func (t *readFileTool) Spec() provider.ToolSpec {
	return provider.ToolSpec{
		Name:        t.Name(),
		Description: "Read a file from the filesystem. Returns file contents with line numbers.",
		InputSchema: map[string]interface{}{
			"file_path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file to read",
			},
			"offset": map[string]interface{}{
				"type":        "integer",
				"description": "Line number to start reading from (1-indexed, optional)",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of lines to read (optional)",
			},
		},
		Required: []string{"file_path"},
	}
}

func (t *readFileTool) Execute(ctx context.Context, input json.RawMessage) Result {
	var params struct {
		FilePath string `json:"file_path"`
		Offset   int    `json:"offset"`
		Limit    int    `json:"limit"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return Errorf("Invalid parameters: %v", err)
	}

	path := resolvePath(t.workDir, params.FilePath)
	content, err := os.ReadFile(path)
	if err != nil {
		return Errorf("Failed to read file: %v", err)
	}

	lines := strings.Split(string(content), "\n")

	start := 0
	if params.Offset > 0 {
		start = params.Offset - 1
		if start >= len(lines) {
			return Errorf("Offset beyond end of file")
		}
	}

	end := len(lines)
	if params.Limit > 0 && start+params.Limit < end {
		end = start + params.Limit
	}

	var b strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, lines[i])
	}

	return Result{Content: b.String()}
}

type writeFileTool struct {
	workDir string
}

func (t *writeFileTool) Name() string { return "write_file" }

func (t *writeFileTool) Spec() provider.ToolSpec {
	return provider.ToolSpec{
		Name:        t.Name(),
		Description: "Write content to a file. Creates parent directories if needed.",
		InputSchema: map[string]interface{}{
			"file_path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file to write",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Content to write to the file",
			},
		},
		Required: []string{"file_path", "content"},
	}
}

func (t *writeFileTool) Execute(ctx context.Context, input json.RawMessage) Result {
	var params struct {
		FilePath string `json:"file_path"`
		Content  string `json:"content"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return Errorf("Invalid parameters: %v", err)
	}

	path := resolvePath(t.workDir, params.FilePath)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return Errorf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(params.Content), 0644); err != nil {
		return Errorf("Failed to write file: %v", err)
	}

	return Result{Content: fmt.Sprintf("Successfully wrote %d bytes to %s", len(params.Content), params.FilePath)}
}

type editFileTool struct {
	workDir string
}

func (t *editFileTool) Name() string { return "edit_file" }

func (t *editFileTool) Spec() provider.ToolSpec {
	return provider.ToolSpec{
		Name:        t.Name(),
		Description: "Edit a file by replacing text. The old_string must be unique unless replace_all is true.",
		InputSchema: map[string]interface{}{
			"file_path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file to edit",
			},
			"old_string": map[string]interface{}{
				"type":        "string",
				"description": "The exact text to find and replace",
			},
			"new_string": map[string]interface{}{
				"type":        "string",
				"description": "The text to replace it with",
			},
			"replace_all": map[string]interface{}{
				"type":        "boolean",
				"description": "If true, replace all occurrences (default: false)",
			},
		},
		Required: []string{"file_path", "old_string", "new_string"},
	}
}

func (t *editFileTool) Execute(ctx context.Context, input json.RawMessage) Result {
	var params struct {
		FilePath   string `json:"file_path"`
		OldString  string `json:"old_string"`
		NewString  string `json:"new_string"`
		ReplaceAll bool   `json:"replace_all"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return Errorf("Invalid parameters: %v", err)
	}

	path := resolvePath(t.workDir, params.FilePath)
	content, err := os.ReadFile(path)
	if err != nil {
		return Errorf("Failed to read file: %v", err)
	}

	contentStr := string(content)
	count := strings.Count(contentStr, params.OldString)
	if count == 0 {
		return Errorf("old_string not found in file")
	}
	if !params.ReplaceAll && count > 1 {
		return Errorf("old_string found %d times; must be unique or use replace_all=true", count)
	}

	var newContent string
	if params.ReplaceAll {
		newContent = strings.ReplaceAll(contentStr, params.OldString, params.NewString)
	} else {
		newContent = strings.Replace(contentStr, params.OldString, params.NewString, 1)
	}

	if err := os.WriteFile(path, []byte(newContent), 0644); err != nil {
		return Errorf("Failed to write file: %v", err)
	}

	if params.ReplaceAll {
		return Result{Content: fmt.Sprintf("Replaced %d occurrences", count)}
	}
	return Result{Content: "Edit successful"}
}

type listDirTool struct {
	workDir string
}

func (t *listDirTool) Name() string { return "list_dir" }

func (t *listDirTool) Spec() provider.ToolSpec {
	return provider.ToolSpec{
		Name:        t.Name(),
		Description: "List the contents of a directory. Directories are suffixed with a slash.",
		InputSchema: map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory path to list (defaults to the working directory)",
			},
		},
	}
}

func (t *listDirTool) Execute(ctx context.Context, input json.RawMessage) Result {
	var params struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return Errorf("Invalid parameters: %v", err)
	}

	path := t.workDir
	if params.Path != "" {
		path = resolvePath(t.workDir, params.Path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return Errorf("Failed to list directory: %v", err)
	}

	var b strings.Builder
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		b.WriteString(name)
		b.WriteString("\n")
	}

	return Result{Content: b.String()}
}

type searchTool struct {
	workDir string
}

func (t *searchTool) Name() string { return "search" }

func (t *searchTool) Spec() provider.ToolSpec {
	return provider.ToolSpec{
		Name:        t.Name(),
		Description: "Search files for a substring. Returns matching lines as path:line:text.",
		InputSchema: map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Substring to search for",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory to search in (defaults to the working directory)",
			},
		},
		Required: []string{"query"},
	}
}

func (t *searchTool) Execute(ctx context.Context, input json.RawMessage) Result {
	var params struct {
		Query string `json:"query"`
		Path  string `json:"path"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return Errorf("Invalid parameters: %v", err)
	}
	if params.Query == "" {
		return Errorf("query must not be empty")
	}

	root := t.workDir
	if params.Path != "" {
		root = resolvePath(t.workDir, params.Path)
	}

	var b strings.Builder
	matches := 0

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // Skip unreadable entries
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && d.Name() != "." {
				return filepath.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return nil
		}

		rel, _ := filepath.Rel(root, path)
		for i, line := range strings.Split(string(content), "\n") {
			if strings.Contains(line, params.Query) {
				fmt.Fprintf(&b, "%s:%d:%s\n", rel, i+1, strings.TrimSpace(line))
				matches++
				if matches >= 200 {
					return filepath.SkipAll
				}
			}
		}
		return nil
	})
	if err != nil && err != filepath.SkipAll {
		return Errorf("Search error: %v", err)
	}

	if matches == 0 {
		return Result{Content: "No matches found"}
	}
	return Result{Content: b.String()}
}

type runCommandTool struct {
	workDir string
}

func (t *runCommandTool) Name() string { return "run_command" }

func (t *runCommandTool) Spec() provider.ToolSpec {
	return provider.ToolSpec{
		Name:        t.Name(),
		Description: "Run a shell command in the working directory and return its combined output.",
		InputSchema: map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to run",
			},
			"timeout": map[string]interface{}{
				"type":        "integer",
				"description": "Timeout in milliseconds (default: 120000)",
			},
		},
		Required: []string{"command"},
	}
}

func (t *runCommandTool) Execute(ctx context.Context, input json.RawMessage) Result {
	var params struct {
		Command string `json:"command"`
		Timeout int    `json:"timeout"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return Errorf("Invalid parameters: %v", err)
	}

	timeout := 120 * time.Second
	if params.Timeout > 0 {
		timeout = time.Duration(params.Timeout) * time.Millisecond
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", params.Command)
	cmd.Dir = t.workDir

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Errorf("Command timed out after %v:\n%s", timeout, string(output))
		}
		return Errorf("%s\nError: %v", string(output), err)
	}

	result := string(output)
	if len(result) > maxCommandOutput {
		result = result[:maxCommandOutput] + "\n... (output truncated)"
	}

	return Result{Content: result}
}
