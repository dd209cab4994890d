package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/airtap/airtap/internal/config"
	"github.com/airtap/airtap/internal/stream"
)

// redisWriter is the part of *redis.Client the sink uses.
type redisWriter interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Redis appends records to one Redis stream per table, at prefix:stream.
// The schema is stored at prefix:schema:stream.
type Redis struct {
	client *redis.Client
	rdb    redisWriter
	prefix string
	logger *slog.Logger
}

// OpenRedis connects using a redis:// URL.
func OpenRedis(ctx context.Context, cfg config.SinkConfig, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	r := newRedis(client, cfg.Prefix, logger)
	r.client = client
	return r, nil
}

func newRedis(rdb redisWriter, prefix string, logger *slog.Logger) *Redis {
	if prefix == "" {
		prefix = "airtap"
	}
	return &Redis{rdb: rdb, prefix: prefix, logger: logger}
}

func (r *Redis) WriteSchema(ctx context.Context, info StreamInfo) error {
	data, err := json.Marshal(info.Schema)
	if err != nil {
		return fmt.Errorf("encoding schema of %s: %w", info.Name, err)
	}
	key := r.prefix + ":schema:" + info.Name
	if err := r.rdb.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("storing schema at %s: %w", key, err)
	}
	return nil
}

func (r *Redis) WriteRecord(ctx context.Context, streamName string, rec stream.Record) error {
	id, err := recordID(rec)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record %s: %w", id, err)
	}
	key := r.prefix + ":" + streamName
	err = r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: map[string]interface{}{"id": id, "record": string(data)},
	}).Err()
	if err != nil {
		return fmt.Errorf("appending to %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Close(context.Context) error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
