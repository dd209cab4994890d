package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/airtap/airtap/internal/picker"
	"github.com/airtap/airtap/internal/selection"
	"github.com/airtap/airtap/internal/state"
	"github.com/airtap/airtap/internal/tap"
)

var selectCatalog string

var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "Select tables to sync",
	Long: `Interactively select which tables "airtap sync" reads. The selection is
saved to the state file and applies whenever no tables patterns are configured.

Uses the catalog written by "airtap discover", or discovers live if none exists.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, closer, err := setup(cmd)
		if err != nil {
			return err
		}
		defer closer.Close()

		st, err := state.Load(cfg.StatePath)
		if err != nil {
			return fmt.Errorf("loading state: %w", err)
		}

		cat, err := loadCatalog(context.Background(), tap.New(cfg, logger), selectCatalog)
		if err != nil {
			return err
		}
		refs := selection.FilterByPattern(cat.Tables(), cfg.Tables...)
		if len(refs) == 0 {
			return fmt.Errorf("the catalog has no tables")
		}

		selected, ok, err := picker.Run(refs, st.SelectedTables)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Selection cancelled; nothing saved.")
			return nil
		}

		st.SelectedTables = selection.Keys(selected)
		if err := st.Save(cfg.StatePath); err != nil {
			return fmt.Errorf("saving state: %w", err)
		}
		fmt.Printf("Selected %d tables (%d fields); saved to %s\n",
			len(selected), selection.TotalFields(selected), cfg.StatePath)
		return nil
	},
}

func init() {
	selectCmd.Flags().StringVar(&selectCatalog, "catalog", "", "catalog file (default: ~/.airtap/catalog.yaml if present)")
	rootCmd.AddCommand(selectCmd)
}
