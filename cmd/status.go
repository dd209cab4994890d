package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/airtap/airtap/internal/config"
	"github.com/airtap/airtap/internal/lock"
	"github.com/airtap/airtap/internal/state"
)

var statusRuns int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the table selection and recent sync runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		statePath := ""
		if cfg, err := config.Load(cfgFile); err == nil {
			statePath = cfg.StatePath
		}
		st, err := state.Load(statePath)
		if err != nil {
			return fmt.Errorf("loading state: %w", err)
		}

		if h, held, _ := lock.Current(""); held {
			fmt.Printf("Sync in progress: run %s (PID %d, started %s)\n\n",
				h.RunID, h.PID, h.Since.Local().Format(time.DateTime))
		}

		if len(st.SelectedTables) > 0 {
			fmt.Printf("Tables: %d selected\n", len(st.SelectedTables))
		} else {
			fmt.Println("Tables: no saved selection (config patterns or all tables apply)")
		}

		if len(st.Runs) == 0 {
			fmt.Println("Runs: none yet")
			return nil
		}

		fmt.Println()
		fmt.Printf("  %-36s  %-20s  %-9s  %-10s  %8s\n", "Run", "Started", "Status", "Sink", "Records")
		first := max(len(st.Runs)-statusRuns, 0)
		for i := len(st.Runs) - 1; i >= first; i-- {
			r := st.Runs[i]
			fmt.Printf("  %-36s  %-20s  %-9s  %-10s  %8d\n",
				r.ID, r.StartedAt.Local().Format(time.DateTime), r.Status, r.Sink, r.Records())
		}

		last, _ := st.LastRun()
		fmt.Printf("\nLast run (%s):\n", last.FinishedAt.Sub(last.StartedAt).Round(time.Second))
		if last.Error != "" {
			fmt.Printf("  error: %s\n", last.Error)
		}
		for _, s := range last.Streams {
			mark := "OK"
			if s.Error != "" {
				mark = "!!"
			}
			fmt.Printf("  [%s] %-30s %8d records", mark, s.Stream, s.Records)
			if s.Error != "" {
				fmt.Printf("  %s", s.Error)
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVarP(&statusRuns, "runs", "n", 5, "number of recent runs to list")
	rootCmd.AddCommand(statusCmd)
}
