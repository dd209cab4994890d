// Package sink delivers normalized stream records to a destination.
package sink

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/airtap/airtap/internal/config"
	"github.com/airtap/airtap/internal/schema"
	"github.com/airtap/airtap/internal/stream"
)

// StreamInfo describes a stream before its first record is written.
type StreamInfo struct {
	Name          string
	BaseID        string
	TableID       string
	Schema        schema.ObjectSchema
	KeyProperties []string
}

// Sink receives the schema of each stream followed by its records.
// Implementations may buffer; Close flushes whatever is pending.
type Sink interface {
	WriteSchema(ctx context.Context, info StreamInfo) error
	WriteRecord(ctx context.Context, streamName string, rec stream.Record) error
	Close(ctx context.Context) error
}

// StateWriter is implemented by sinks that carry checkpoint messages.
type StateWriter interface {
	WriteState(ctx context.Context, value map[string]any) error
}

// New opens the sink selected by cfg. stdout is used by the singer sink;
// runID namespaces the objects written by the s3 sink.
func New(ctx context.Context, cfg config.SinkConfig, runID string, stdout io.Writer, logger *slog.Logger) (Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Type {
	case config.SinkSinger, "":
		return NewSinger(stdout), nil
	case config.SinkMongoDB:
		return OpenMongo(ctx, cfg, logger)
	case config.SinkPostgreSQL:
		return OpenPostgres(ctx, cfg, logger)
	case config.SinkS3:
		return OpenS3(ctx, cfg, runID, logger)
	case config.SinkRedis:
		return OpenRedis(ctx, cfg, logger)
	case config.SinkAMQP:
		return OpenAMQP(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown sink type %q", cfg.Type)
	}
}

// recordID returns the "id" attribute every record carries.
func recordID(rec stream.Record) (string, error) {
	id, ok := rec["id"].(string)
	if !ok || id == "" {
		return "", fmt.Errorf("record has no id")
	}
	return id, nil
}

// buffer groups records per stream until a batch is full.
type buffer struct {
	size    int
	pending map[string][]stream.Record
}

func newBuffer(size int) *buffer {
	if size <= 0 {
		size = 500
	}
	return &buffer{size: size, pending: make(map[string][]stream.Record)}
}

// add queues rec and returns the stream's batch once it reaches the limit.
func (b *buffer) add(name string, rec stream.Record) []stream.Record {
	b.pending[name] = append(b.pending[name], rec)
	if len(b.pending[name]) < b.size {
		return nil
	}
	batch := b.pending[name]
	delete(b.pending, name)
	return batch
}

// drain removes every pending batch, in stream name order.
func (b *buffer) drain(fn func(name string, batch []stream.Record) error) error {
	names := make([]string, 0, len(b.pending))
	for name := range b.pending {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		batch := b.pending[name]
		delete(b.pending, name)
		if err := fn(name, batch); err != nil {
			return err
		}
	}
	return nil
}
