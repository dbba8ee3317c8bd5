package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/squire/internal/state"
	"github.com/ShayCichocki/squire/internal/subagent"
)

var (
	historyLimit  int
	historyClear  bool
	historyGlobal bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past agent runs",
	Long: `Show the run history recorded in the project's .squire/state.db,
or the global database with --global.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var db *state.DB
		var err error
		if historyGlobal {
			db, err = state.OpenGlobal()
		} else {
			repoPath, werr := os.Getwd()
			if werr != nil {
				return fmt.Errorf("get working directory: %w", werr)
			}
			db, err = state.OpenProject(repoPath)
		}
		if err != nil {
			return fmt.Errorf("open state database: %w", err)
		}
		defer db.Close()

		if err := db.Migrate(); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}

		if historyClear {
			n, err := db.ClearRuns()
			if err != nil {
				return err
			}
			fmt.Printf("Cleared %d runs\n", n)
			return nil
		}

		runs, err := db.ListRuns(historyLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded")
			return nil
		}

		for _, r := range runs {
			printRun(r)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of runs to show")
	historyCmd.Flags().BoolVar(&historyClear, "clear", false, "Delete all recorded runs")
	historyCmd.Flags().BoolVar(&historyGlobal, "global", false, "Use the global database instead of the project one")
}

func printRun(r subagent.RunRecord) {
	status := r.Status
	switch status {
	case "completed":
		status = color.GreenString(status)
	case "failed":
		status = color.RedString(status)
	}

	id := r.ID
	if len(id) > 8 {
		id = id[:8]
	}

	fmt.Printf("%s  %s %-8s %-9s %s\n",
		r.CreatedAt.Local().Format("2006-01-02 15:04"),
		id, r.Kind, status, r.Task)
	if r.Error != "" {
		fmt.Printf("                  %s\n", color.New(color.FgHiBlack).Sprint(r.Error))
	}
}
