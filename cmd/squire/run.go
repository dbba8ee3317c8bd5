package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/squire/internal/config"
	"github.com/ShayCichocki/squire/internal/control"
	"github.com/ShayCichocki/squire/internal/provider"
	"github.com/ShayCichocki/squire/internal/resilience"
	"github.com/ShayCichocki/squire/internal/session"
	"github.com/ShayCichocki/squire/internal/state"
	"github.com/ShayCichocki/squire/internal/subagent"
	"github.com/ShayCichocki/squire/internal/tools"
	"github.com/ShayCichocki/squire/internal/tui"
)

var (
	runTimeout   time.Duration
	runWatch     bool
	runMaxAgents int
)

var runCmd = &cobra.Command{
	Use:   "run <kind> <task>",
	Short: "Run a delegated agent against the current repository",
	Long: `Run one delegated agent of the given kind on a task.

Kinds (see 'squire kinds' for details):
  explore   Investigate the codebase, read-only
  plan      Produce an implementation plan, read-only
  test      Run and interpret tests
  debug     Track down and fix a defect
  review    Critique changes, read-only

The agent drives a tool-calling loop against the Anthropic API until it
produces a final answer, exhausts its turn budget, times out, or is
cancelled. Ctrl-C cancels cooperatively; a 'stop' file under
.squire/signals does the same from another terminal.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runAgent,
}

func init() {
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Wall-clock timeout for the agent (default from config)")
	runCmd.Flags().BoolVar(&runWatch, "watch", false, "Show the live dashboard while the agent runs")
	runCmd.Flags().IntVar(&runMaxAgents, "max-agents", 0, "Override the concurrent agent ceiling (default from config)")
}

func runAgent(cmd *cobra.Command, args []string) error {
	kind, err := subagent.ParseKind(args[0])
	if err != nil {
		return err
	}
	task := strings.Join(args[1:], " ")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	repoPath, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	db, err := state.OpenProject(repoPath)
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	if runMaxAgents > 0 {
		cfg.Limits.MaxAgents = runMaxAgents
	}

	mgr, err := buildManager(cfg, repoPath, db)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nReceived interrupt, cancelling agents...")
		cancel()
	}()

	// Out-of-band control: a second terminal can drop signal files.
	watcher, err := control.NewSignalWatcher(repoPath,
		func() { mgr.CancelAll() },
		func(id string) { mgr.Cancel(id) })
	if err != nil {
		return fmt.Errorf("start signal watcher: %w", err)
	}
	defer watcher.Close()
	watcher.ClearSignals()

	opts := subagent.SpawnOptions{Timeout: runTimeout}
	if !runWatch {
		opts.OnOutput = func(text string) { fmt.Print(text) }
	}

	fmt.Printf("Spawning %s agent: %s\n\n", color.CyanString(kind.String()), task)

	var result subagent.SpawnResult
	done := make(chan struct{})
	go func() {
		defer close(done)
		result = mgr.Spawn(ctx, kind, task, opts)
		mgr.Events().Close()
	}()

	if runWatch {
		if err := tui.Run(mgr, cfg.TUI.RefreshRate); err != nil {
			return fmt.Errorf("dashboard: %w", err)
		}
	}
	<-done

	return printResult(result)
}

// buildManager wires the provider, resilience layers, tools, and overrides
// into a lifecycle manager.
func buildManager(cfg *config.Config, repoPath string, recorder subagent.RunRecorder) (*subagent.Manager, error) {
	retrier := resilience.NewRetrier(resilience.RetryConfig{
		MaxRetries:   cfg.Resilience.MaxRetries,
		InitialDelay: cfg.Resilience.InitialDelay,
		MaxDelay:     cfg.Resilience.MaxDelay,
	})
	breaker := resilience.NewCircuitBreaker("anthropic", resilience.BreakerConfig{
		FailureThreshold: cfg.Resilience.FailureThreshold,
		ResetTimeout:     cfg.Resilience.ResetTimeout,
	})

	apiKey, err := config.GetAPIKey(cfg)
	if err != nil && !cfg.Anthropic.UseBedrock {
		return nil, err
	}

	prov, err := provider.NewAnthropic(provider.ClientConfig{
		Model:         anthropic.Model(cfg.Anthropic.Model),
		APIKey:        apiKey,
		UseAWSBedrock: cfg.Anthropic.UseBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	}, retrier, breaker)
	if err != nil {
		return nil, fmt.Errorf("create provider: %w", err)
	}

	registry := tools.NewRegistry()
	tools.RegisterBuiltins(registry, repoPath)

	overrides, err := config.LoadKindOverrides(repoPath)
	if err != nil {
		return nil, err
	}
	turnsOverrides := make(map[subagent.Kind]int)
	for name, o := range overrides.Agents {
		k, err := subagent.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("agents.yaml: %w", err)
		}
		if o.MaxTurns > 0 {
			turnsOverrides[k] = o.MaxTurns
		}
	}

	return subagent.NewManager(subagent.Config{
		Provider:          prov,
		Tools:             registry,
		MaxConcurrent:     cfg.Limits.MaxAgents,
		DefaultTimeout:    cfg.Limits.AgentTimeout,
		Recorder:          recorder,
		MaxTurnsOverrides: turnsOverrides,
		Budget: session.BudgetConfig{
			WindowSize: int64(cfg.Context.WindowSize),
			Reserved:   int64(cfg.Context.ReservedTokens),
			Threshold:  cfg.Context.CompactThreshold,
		},
	}), nil
}

// printResult reports the terminal outcome and returns an error for failed
// runs so the process exits non-zero.
func printResult(result subagent.SpawnResult) error {
	fmt.Println()
	usage := result.Usage
	if result.Success {
		fmt.Printf("%s %s agent completed (%d in / %d out tokens)\n",
			color.GreenString("✓"), result.Agent.Kind, usage.InputTokens, usage.OutputTokens)
		return nil
	}

	if result.Agent.Aborted() {
		fmt.Printf("%s %s agent aborted: %s\n",
			color.YellowString("⚠"), result.Agent.Kind, result.Agent.Error)
	} else {
		fmt.Printf("%s %s agent failed: %s\n",
			color.RedString("✗"), result.Agent.Kind, result.Agent.Error)
	}
	if usage.Total() > 0 {
		fmt.Printf("  tokens before termination: %d in / %d out\n", usage.InputTokens, usage.OutputTokens)
	}
	return fmt.Errorf("agent did not complete")
}
