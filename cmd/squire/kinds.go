package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/squire/internal/subagent"
)

var kindsCmd = &cobra.Command{
	Use:   "kinds",
	Short: "List available agent kinds",
	Run: func(cmd *cobra.Command, args []string) {
		bold := color.New(color.Bold)
		dim := color.New(color.FgHiBlack)

		for _, k := range subagent.Kinds() {
			cfg := k.Config()
			bold.Printf("%-8s", k.String())
			fmt.Printf(" %s\n", cfg.Description)
			dim.Printf("         tools: %s | max turns: %d\n\n",
				strings.Join(cfg.AllowedTools, ", "), cfg.MaxTurns)
		}
	},
}
