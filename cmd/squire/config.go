package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/squire/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Display the configuration squire is running with.

Configuration is stored at ~/.config/squire/config.yaml.
Project-specific overrides can be placed in .squire.yaml, and per-kind
agent overrides in .squire/agents.yaml.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("User config:    %s\n", config.GetUserConfigPath())
		if project := config.GetProjectConfigPath(); project != "" {
			fmt.Printf("Project config: %s\n", project)
		}
		fmt.Println()

		key, _ := config.GetAPIKey(cfg)
		fmt.Printf("anthropic.api_key:          %s (%s)\n", config.MaskAPIKey(key), config.GetAPIKeySource(cfg))
		if cfg.Anthropic.Model != "" {
			fmt.Printf("anthropic.model:            %s\n", cfg.Anthropic.Model)
		}
		fmt.Printf("anthropic.use_bedrock:      %v\n", cfg.Anthropic.UseBedrock)
		fmt.Printf("limits.max_agents:          %d\n", cfg.Limits.MaxAgents)
		fmt.Printf("limits.agent_timeout:       %s\n", cfg.Limits.AgentTimeout)
		fmt.Printf("context.window_size:        %d\n", cfg.Context.WindowSize)
		fmt.Printf("context.reserved_tokens:    %d\n", cfg.Context.ReservedTokens)
		fmt.Printf("context.compact_threshold:  %.2f\n", cfg.Context.CompactThreshold)
		fmt.Printf("resilience.max_retries:     %d\n", cfg.Resilience.MaxRetries)
		fmt.Printf("resilience.initial_delay:   %s\n", cfg.Resilience.InitialDelay)
		fmt.Printf("resilience.max_delay:       %s\n", cfg.Resilience.MaxDelay)
		fmt.Printf("resilience.failure_threshold: %d\n", cfg.Resilience.FailureThreshold)
		fmt.Printf("resilience.reset_timeout:   %s\n", cfg.Resilience.ResetTimeout)
	},
}
