package sink

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/airtap/airtap/internal/config"
	"github.com/airtap/airtap/internal/stream"
)

// bulkWriteFunc applies write models to one collection.
type bulkWriteFunc func(ctx context.Context, collection string, models []mongo.WriteModel) error

// Mongo upserts records into one collection per stream, keyed by _id.
type Mongo struct {
	client *mongo.Client
	write  bulkWriteFunc
	buf    *buffer
	logger *slog.Logger
}

// OpenMongo connects to MongoDB and verifies the connection.
func OpenMongo(ctx context.Context, cfg config.SinkConfig, logger *slog.Logger) (*Mongo, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.ConnectionString))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	db := client.Database(cfg.Database)
	write := func(ctx context.Context, collection string, models []mongo.WriteModel) error {
		_, err := db.Collection(collection).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
		return err
	}
	m := newMongo(write, cfg.BatchSize, logger)
	m.client = client
	return m, nil
}

func newMongo(write bulkWriteFunc, batchSize int, logger *slog.Logger) *Mongo {
	return &Mongo{write: write, buf: newBuffer(batchSize), logger: logger}
}

// WriteSchema is a no-op; collections are schemaless.
func (m *Mongo) WriteSchema(context.Context, StreamInfo) error { return nil }

func (m *Mongo) WriteRecord(ctx context.Context, streamName string, rec stream.Record) error {
	if _, err := recordID(rec); err != nil {
		return err
	}
	if batch := m.buf.add(streamName, rec); batch != nil {
		return m.flush(ctx, streamName, batch)
	}
	return nil
}

func (m *Mongo) Close(ctx context.Context) error {
	err := m.buf.drain(func(name string, batch []stream.Record) error {
		return m.flush(ctx, name, batch)
	})
	if m.client != nil {
		if derr := m.client.Disconnect(ctx); err == nil {
			err = derr
		}
	}
	return err
}

func (m *Mongo) flush(ctx context.Context, collection string, batch []stream.Record) error {
	models := make([]mongo.WriteModel, 0, len(batch))
	for _, rec := range batch {
		models = append(models, upsertModel(rec))
	}
	if err := m.write(ctx, collection, models); err != nil {
		return fmt.Errorf("writing %d documents to %s: %w", len(models), collection, err)
	}
	m.logger.Debug("flushed documents", "collection", collection, "count", len(models))
	return nil
}

func upsertModel(rec stream.Record) *mongo.ReplaceOneModel {
	doc := make(bson.M, len(rec)+1)
	for k, v := range rec {
		doc[k] = v
	}
	doc["_id"] = rec["id"]
	return mongo.NewReplaceOneModel().
		SetFilter(bson.D{{Key: "_id", Value: rec["id"]}}).
		SetReplacement(doc).
		SetUpsert(true)
}
