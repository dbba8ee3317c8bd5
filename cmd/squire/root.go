package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "squire",
	Short: "Delegated coding agents for your terminal",
	Long: `Squire spawns bounded, single-purpose coding agents against the
current repository. Each agent has a fixed role (explore, plan, test,
debug, review), a tool allowlist matching that role, and a wall-clock
timeout. At most a handful run at once; anything over the ceiling is
rejected rather than queued.

Core capabilities:
- Runs one delegated agent per task with a bounded tool-calling loop
- Filters tool access per agent kind
- Retries transient provider failures with exponential backoff
- Short-circuits persistently failing providers
- Records every run in a local SQLite history`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(kindsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
