package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/airtap/airtap/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and validate the airtap configuration.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current config (secrets masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		bases := "all accessible"
		if len(cfg.BaseIDs) > 0 {
			bases = strings.Join(cfg.BaseIDs, ", ")
		}
		tables := "saved selection or all"
		if len(cfg.Tables) > 0 {
			tables = strings.Join(cfg.Tables, ", ")
		}

		fmt.Println("Current configuration:")
		fmt.Println()
		fmt.Printf("  Token:            %s\n", maskSecret(cfg.Token))
		fmt.Printf("  API URL:          %s\n", cfg.APIURL)
		fmt.Printf("  Bases:            %s\n", bases)
		fmt.Printf("  Tables:           %s\n", tables)
		fmt.Printf("  Retry:            %d attempts, %s to %s\n",
			cfg.Retry.MaxAttempts, cfg.Retry.InitialInterval, cfg.Retry.MaxInterval)
		fmt.Println()
		fmt.Printf("  Sink:\n")
		fmt.Printf("    Type:           %s\n", cfg.Sink.Type)
		if cfg.Sink.ConnectionString != "" {
			fmt.Printf("    Connection:     %s\n", maskSecret(cfg.Sink.ConnectionString))
		}
		if cfg.Sink.Database != "" {
			fmt.Printf("    Database:       %s\n", cfg.Sink.Database)
		}
		if cfg.Sink.Bucket != "" {
			fmt.Printf("    Bucket:         %s\n", cfg.Sink.Bucket)
		}
		fmt.Printf("    Batch size:     %d\n", cfg.Sink.BatchSize)
		fmt.Println()
		fmt.Printf("  State:            %s\n", cfg.StatePath)
		fmt.Printf("  Logs:             %s (%s)\n", cfg.Logging.Directory, cfg.Logging.Level)
		if cfg.Metrics.Listen != "" {
			fmt.Printf("  Metrics:          %s\n", cfg.Metrics.Listen)
		}
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.Load(cfgFile); err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
		fmt.Println("Configuration is valid.")
		return nil
	},
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
