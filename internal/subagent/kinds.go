// Package subagent implements the lifecycle manager that spawns bounded
// numbers of delegated agents and drives each through a tool-calling loop.
package subagent

import "fmt"

// Kind is the fixed role of a subagent. The set is closed: configuration is
// resolved by exhaustive switch, not an open string map.
type Kind int

const (
	// KindExplore investigates a codebase and reports findings.
	KindExplore Kind = iota
	// KindPlan produces an implementation plan without touching files.
	KindPlan
	// KindTest runs and interprets tests.
	KindTest
	// KindDebug tracks down and fixes a specific defect.
	KindDebug
	// KindReview critiques changes for correctness and style.
	KindReview
)

// Kinds returns all subagent kinds in display order.
func Kinds() []Kind {
	return []Kind{KindExplore, KindPlan, KindTest, KindDebug, KindReview}
}

// String returns the kind's name.
func (k Kind) String() string {
	switch k {
	case KindExplore:
		return "explore"
	case KindPlan:
		return "plan"
	case KindTest:
		return "test"
	case KindDebug:
		return "debug"
	case KindReview:
		return "review"
	default:
		return "unknown"
	}
}

// Valid returns true if the kind is a known value.
func (k Kind) Valid() bool {
	switch k {
	case KindExplore, KindPlan, KindTest, KindDebug, KindReview:
		return true
	default:
		return false
	}
}

// ParseKind resolves a kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown agent kind %q", s)
}

// KindConfig is the immutable per-kind template: system instructions, tool
// allowlist, and turn budget. Looked up by kind, never created per-instance.
type KindConfig struct {
	// Kind is the role this config belongs to.
	Kind Kind
	// Name is the human-readable name.
	Name string
	// Description summarizes what the kind is for.
	Description string
	// Instructions is the system prompt for the kind.
	Instructions string
	// AllowedTools is the tool-name allowlist.
	AllowedTools []string
	// MaxTurns is the maximum number of tool-calling rounds.
	MaxTurns int
}

// AllowsTool reports whether the named tool is on the kind's allowlist.
func (c KindConfig) AllowsTool(name string) bool {
	for _, t := range c.AllowedTools {
		if t == name {
			return true
		}
	}
	return false
}

// Config returns the immutable configuration for the kind.
func (k Kind) Config() KindConfig {
	switch k {
	case KindExplore:
		return KindConfig{
			Kind:        k,
			Name:        "Explorer",
			Description: "Investigates the codebase and reports structure, conventions, and relevant files.",
			Instructions: "You are an exploration agent. Investigate the codebase to answer the " +
				"given question. Read files, list directories, and search for patterns. " +
				"Do not modify anything. Finish with a concise report of your findings.",
			AllowedTools: []string{"read_file", "list_dir", "search"},
			MaxTurns:     15,
		}
	case KindPlan:
		return KindConfig{
			Kind:        k,
			Name:        "Planner",
			Description: "Produces a step-by-step implementation plan without modifying files.",
			Instructions: "You are a planning agent. Study the relevant code and produce a " +
				"numbered implementation plan for the given task: which files to change, " +
				"what to change, and in what order. Do not modify anything.",
			AllowedTools: []string{"read_file", "list_dir", "search"},
			MaxTurns:     10,
		}
	case KindTest:
		return KindConfig{
			Kind:        k,
			Name:        "Tester",
			Description: "Runs the test suite and interprets failures.",
			Instructions: "You are a testing agent. Run the relevant tests for the given task, " +
				"interpret any failures, and finish with a summary of what passed, what " +
				"failed, and why.",
			AllowedTools: []string{"read_file", "list_dir", "search", "run_command"},
			MaxTurns:     20,
		}
	case KindDebug:
		return KindConfig{
			Kind:        k,
			Name:        "Debugger",
			Description: "Tracks down a specific defect and applies a fix.",
			Instructions: "You are a debugging agent. Reproduce the described defect, locate " +
				"the root cause, apply the smallest correct fix, and verify it. Finish " +
				"with a summary of the cause and the fix.",
			AllowedTools: []string{"read_file", "write_file", "edit_file", "list_dir", "search", "run_command"},
			MaxTurns:     25,
		}
	case KindReview:
		return KindConfig{
			Kind:        k,
			Name:        "Reviewer",
			Description: "Critiques changes for correctness, clarity, and style.",
			Instructions: "You are a review agent. Read the changes relevant to the given task " +
				"and critique them: correctness first, then clarity and style. Do not " +
				"modify anything. Finish with a prioritized list of findings.",
			AllowedTools: []string{"read_file", "list_dir", "search"},
			MaxTurns:     10,
		}
	default:
		// Unreachable for valid kinds; callers validate with Valid().
		return KindConfig{Kind: k, Name: "unknown", MaxTurns: 1}
	}
}
