package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/airtap/airtap/internal/config"
	"github.com/airtap/airtap/internal/schema"
	"github.com/airtap/airtap/internal/tap"
)

var discoverOutput string

// defaultCatalogPath is where discover saves, and select and sync look for,
// the catalog.
func defaultCatalogPath() string {
	return filepath.Join(config.ExpandHome("~/.airtap"), "catalog.yaml")
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover bases, tables and field schemas",
	Long: `Fetch the schema of every accessible base (or the configured base_ids) and
write a catalog. A .json output path writes a Singer catalog; "-" prints the
Singer catalog to stdout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, closer, err := setup(cmd)
		if err != nil {
			return err
		}
		defer closer.Close()

		runner := tap.New(cfg, logger)
		cat, err := runner.Discover(context.Background())
		if err != nil {
			return err
		}

		if discoverOutput == "-" {
			data, err := cat.SingerJSON()
			if err != nil {
				return fmt.Errorf("rendering catalog: %w", err)
			}
			_, err = os.Stdout.Write(append(data, '\n'))
			return err
		}

		fmt.Println(cat.Summary())

		outputPath := discoverOutput
		if outputPath == "" {
			outputPath = defaultCatalogPath()
		}
		if err := cat.Write(outputPath); err != nil {
			return fmt.Errorf("writing catalog: %w", err)
		}
		fmt.Printf("\nCatalog written to %s\n", outputPath)
		return nil
	},
}

// loadCatalog reads a saved catalog, falling back to live discovery when
// none exists at the default location.
func loadCatalog(ctx context.Context, runner *tap.Runner, path string) (*schema.Catalog, error) {
	if path != "" {
		return schema.LoadYAML(path)
	}
	if _, err := os.Stat(defaultCatalogPath()); err == nil {
		return schema.LoadYAML(defaultCatalogPath())
	}
	return runner.Discover(ctx)
}

func init() {
	discoverCmd.Flags().StringVarP(&discoverOutput, "output", "o", "", "catalog output path (default: ~/.airtap/catalog.yaml)")
	rootCmd.AddCommand(discoverCmd)
}
