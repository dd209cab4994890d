// Package tap ties discovery, stream construction and sinks together.
package tap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/airtap/airtap/internal/airtable"
	"github.com/airtap/airtap/internal/config"
	"github.com/airtap/airtap/internal/metrics"
	"github.com/airtap/airtap/internal/retry"
	"github.com/airtap/airtap/internal/schema"
	"github.com/airtap/airtap/internal/selection"
	"github.com/airtap/airtap/internal/sink"
	"github.com/airtap/airtap/internal/state"
	"github.com/airtap/airtap/internal/stream"
)

// Discoverer lists bases with their table schemas.
type Discoverer interface {
	GetBases(ctx context.Context, baseIDs []string) ([]schema.Base, error)
}

// Runner is the connector engine shared by every command.
type Runner struct {
	Config *config.Config
	Logger *slog.Logger

	discoverer Discoverer
	opener     stream.Opener
	now        func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithDiscoverer replaces the metadata client.
func WithDiscoverer(d Discoverer) Option {
	return func(r *Runner) {
		r.discoverer = d
	}
}

// WithOpener replaces how streams open their record client.
func WithOpener(o stream.Opener) Option {
	return func(r *Runner) {
		r.opener = o
	}
}

// New creates a Runner whose API clients share the configured endpoint and
// retry policy.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	retrier := retry.New(retry.Policy{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
	}, logger)
	clientOpts := []airtable.Option{
		airtable.WithRetrier(retrier),
		airtable.WithLogger(logger),
	}
	if cfg.APIURL != "" {
		clientOpts = append(clientOpts, airtable.WithBaseURL(cfg.APIURL))
	}

	r := &Runner{
		Config:     cfg,
		Logger:     logger,
		discoverer: airtable.New(cfg.Token, clientOpts...),
		opener: func(token string) stream.RecordSource {
			return airtable.New(token, clientOpts...)
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Discover fetches the schema of the configured bases.
func (r *Runner) Discover(ctx context.Context) (*schema.Catalog, error) {
	bases, err := r.discoverer.GetBases(ctx, r.Config.BaseIDs)
	if err != nil {
		return nil, fmt.Errorf("discovering bases: %w", err)
	}
	cat := &schema.Catalog{DiscoveredAt: r.now().UTC(), Bases: bases}
	r.Logger.Info("discovery complete", "summary", cat.Summary())
	return cat, nil
}

// Select picks the tables to sync. Configured table patterns take
// precedence; otherwise the saved selection keys apply, and with neither every
// table is synced.
func (r *Runner) Select(cat *schema.Catalog, selected []string) []schema.TableRef {
	if len(r.Config.Tables) > 0 {
		return selection.FilterByPattern(cat.Tables(), r.Config.Tables...)
	}
	return selection.FilterByKeys(cat.Tables(), selected)
}

// Streams builds one stream per table.
func (r *Runner) Streams(refs []schema.TableRef) []*stream.Stream {
	for _, name := range selection.DuplicateStreams(refs) {
		r.Logger.Warn("several tables map to the same stream", "stream", name)
	}
	streams := make([]*stream.Stream, 0, len(refs))
	for _, ref := range refs {
		streams = append(streams, stream.New(ref.BaseID, ref.Table, r.Config.Token,
			stream.WithOpener(r.opener),
			stream.WithLogger(r.Logger)))
	}
	return streams
}

// SinkError marks a failure writing to the destination. It aborts the run,
// unlike a failure reading a single stream.
type SinkError struct {
	Stream string
	Err    error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink failed on stream %s: %v", e.Stream, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// Sync reads every stream into sk. A stream that fails to read is recorded
// and skipped; a sink failure or cancellation stops the run. The returned run
// is complete in either case.
func (r *Runner) Sync(ctx context.Context, runID string, streams []*stream.Stream, sk sink.Sink) (state.Run, error) {
	run := state.Run{
		ID:        runID,
		StartedAt: r.now().UTC(),
		Status:    state.RunRunning,
		Sink:      r.Config.Sink.Type,
	}

	var runErr error
	for _, s := range streams {
		res, err := r.syncStream(ctx, s, sk)
		run.Streams = append(run.Streams, res)
		if err != nil {
			runErr = err
			break
		}
	}

	if sw, ok := sk.(sink.StateWriter); ok && runErr == nil {
		if err := sw.WriteState(ctx, stateValue(run, r.now().UTC())); err != nil {
			runErr = &SinkError{Stream: "state", Err: err}
		}
	}

	run.Finish()
	if runErr != nil {
		run.Fail(runErr)
	}
	r.Logger.Info("sync finished", "run", runID, "status", run.Status,
		"streams", len(run.Streams), "records", run.Records())
	return run, runErr
}

// Close closes sk, flushing any buffered batch. A failed flush fails run,
// since its record counts include records that never reached the sink.
func (r *Runner) Close(ctx context.Context, run *state.Run, sk sink.Sink) error {
	err := sk.Close(ctx)
	if err == nil {
		return nil
	}
	err = &SinkError{Stream: "close", Err: err}
	run.Fail(err)
	r.Logger.Error("closing sink", "run", run.ID, "error", err)
	return err
}

func (r *Runner) syncStream(ctx context.Context, s *stream.Stream, sk sink.Sink) (state.StreamResult, error) {
	res := state.StreamResult{Stream: s.Name, BaseID: s.BaseID, TableID: s.Table.ID}
	logger := r.Logger.With("stream", s.Name, "base", s.BaseID, "table", s.Table.ID)

	sch, err := s.Schema()
	if err != nil {
		res.Error = err.Error()
		metrics.StreamFailures.WithLabelValues(s.Name).Inc()
		logger.Error("building schema", "error", err)
		return res, nil
	}
	info := sink.StreamInfo{
		Name:          s.Name,
		BaseID:        s.BaseID,
		TableID:       s.Table.ID,
		Schema:        sch,
		KeyProperties: s.KeyProperties(),
	}
	if err := sk.WriteSchema(ctx, info); err != nil {
		res.Error = err.Error()
		return res, &SinkError{Stream: s.Name, Err: err}
	}

	for rec, err := range s.Records(ctx) {
		if err != nil {
			res.Error = err.Error()
			metrics.StreamFailures.WithLabelValues(s.Name).Inc()
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return res, err
			}
			logger.Error("reading stream", "records", res.Records, "error", err)
			return res, nil
		}
		if err := sk.WriteRecord(ctx, s.Name, rec); err != nil {
			res.Error = err.Error()
			return res, &SinkError{Stream: s.Name, Err: err}
		}
		res.Records++
		metrics.RecordsEmitted.WithLabelValues(s.Name).Inc()
	}

	logger.Info("stream synced", "records", res.Records)
	return res, nil
}

// stateValue is the checkpoint emitted at the end of a run.
func stateValue(run state.Run, at time.Time) map[string]any {
	streams := make(map[string]any, len(run.Streams))
	for _, s := range run.Streams {
		entry := map[string]any{"records": s.Records}
		if s.Error == "" {
			entry["synced_at"] = at.Format(time.RFC3339)
		} else {
			entry["error"] = s.Error
		}
		streams[s.Stream] = entry
	}
	return map[string]any{"run_id": run.ID, "streams": streams}
}
