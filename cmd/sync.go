package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/airtap/airtap/internal/lock"
	"github.com/airtap/airtap/internal/metrics"
	"github.com/airtap/airtap/internal/schema"
	"github.com/airtap/airtap/internal/sink"
	"github.com/airtap/airtap/internal/state"
	"github.com/airtap/airtap/internal/tap"
)

var (
	syncCatalog string
	syncMetrics string
	syncLive    bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Stream records of the selected tables to the configured sink",
	Long: `Read every selected table and write its schema and records to the sink.
Tables come from the config's table patterns, else from "airtap select",
else every discovered table. A stream that fails to read is recorded and
skipped; a sink failure stops the run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, closer, err := setup(cmd)
		if err != nil {
			return err
		}
		defer closer.Close()

		runID := uuid.NewString()
		lk, err := lock.Acquire("", runID)
		if err != nil {
			return err
		}
		defer lk.Release()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		addr := cfg.Metrics.Listen
		if syncMetrics != "" {
			addr = syncMetrics
		}
		if addr != "" {
			metrics.Serve(ctx, addr, logger)
		}

		st, err := state.Load(cfg.StatePath)
		if err != nil {
			return fmt.Errorf("loading state: %w", err)
		}

		runner := tap.New(cfg, logger)
		var cat *schema.Catalog
		if syncLive {
			cat, err = runner.Discover(ctx)
		} else {
			cat, err = loadCatalog(ctx, runner, syncCatalog)
		}
		if err != nil {
			return err
		}

		refs := runner.Select(cat, st.SelectedTables)
		if len(refs) == 0 {
			return fmt.Errorf("no tables selected; check the tables patterns or run airtap select")
		}

		logger.Info("starting sync", "run", runID, "streams", len(refs), "sink", cfg.Sink.Type)

		sk, err := sink.New(ctx, cfg.Sink, runID, os.Stdout, logger)
		if err != nil {
			return fmt.Errorf("opening sink: %w", err)
		}

		run, syncErr := runner.Sync(ctx, runID, runner.Streams(refs), sk)
		closeErr := runner.Close(context.WithoutCancel(ctx), &run, sk)

		st.RecordRun(run)
		if err := st.Save(cfg.StatePath); err != nil {
			logger.Error("saving state", "error", err)
		}

		if err := errors.Join(syncErr, closeErr); err != nil {
			return err
		}
		if run.Status == state.RunFailed {
			return fmt.Errorf("every stream failed; see %s", cfg.Logging.Directory)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncCatalog, "catalog", "", "catalog file from airtap discover (default: ~/.airtap/catalog.yaml if present)")
	syncCmd.Flags().BoolVar(&syncLive, "discover", false, "discover the schema live instead of reading a catalog")
	syncCmd.Flags().StringVar(&syncMetrics, "metrics", "", "serve Prometheus metrics on this address (e.g. :9102)")
	rootCmd.AddCommand(syncCmd)
}
