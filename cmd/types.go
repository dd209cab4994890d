package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/airtap/airtap/internal/typemap"
)

var typesOutput string

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "Print the Airtable field type to JSON schema mapping",
	RunE: func(cmd *cobra.Command, args []string) error {
		if typesOutput != "" {
			if err := typemap.WriteYAML(typesOutput); err != nil {
				return err
			}
			fmt.Printf("Type mapping written to %s\n", typesOutput)
			return nil
		}

		fmt.Printf("  %-24s  %s\n", "Airtable type", "JSON schema")
		for _, tag := range typemap.SortedTags() {
			t, err := typemap.Resolve(tag)
			if err != nil {
				return err
			}
			fmt.Printf("  %-24s  %s\n", tag, t)
		}
		return nil
	},
}

func init() {
	typesCmd.Flags().StringVarP(&typesOutput, "output", "o", "", "write the mapping as YAML to this path")
	rootCmd.AddCommand(typesCmd)
}
