package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/airtap/airtap/internal/config"
	"github.com/airtap/airtap/internal/stream"
)

// pgExecutor is the part of *pgxpool.Pool the sink uses.
type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Postgres stores each stream in its own table as id, createdtime and a
// jsonb document.
type Postgres struct {
	pool   *pgxpool.Pool
	db     pgExecutor
	schema string
	buf    *buffer
	logger *slog.Logger
}

// OpenPostgres connects a pool and checks it.
func OpenPostgres(ctx context.Context, cfg config.SinkConfig, logger *slog.Logger) (*Postgres, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging PostgreSQL: %w", err)
	}
	p := newPostgres(pool, cfg.Schema, cfg.BatchSize, logger)
	p.pool = pool
	return p, nil
}

func newPostgres(db pgExecutor, schemaName string, batchSize int, logger *slog.Logger) *Postgres {
	if schemaName == "" {
		schemaName = "public"
	}
	return &Postgres{db: db, schema: schemaName, buf: newBuffer(batchSize), logger: logger}
}

func (p *Postgres) table(streamName string) string {
	return pgx.Identifier{p.schema, streamName}.Sanitize()
}

// WriteSchema creates the stream's table if it does not exist.
func (p *Postgres) WriteSchema(ctx context.Context, info StreamInfo) error {
	if _, err := p.db.Exec(ctx, createTableSQL(p.table(info.Name))); err != nil {
		return fmt.Errorf("creating table for %s: %w", info.Name, err)
	}
	return nil
}

func (p *Postgres) WriteRecord(ctx context.Context, streamName string, rec stream.Record) error {
	if _, err := recordID(rec); err != nil {
		return err
	}
	if batch := p.buf.add(streamName, rec); batch != nil {
		return p.flush(ctx, streamName, batch)
	}
	return nil
}

func (p *Postgres) Close(ctx context.Context) error {
	err := p.buf.drain(func(name string, batch []stream.Record) error {
		return p.flush(ctx, name, batch)
	})
	if p.pool != nil {
		p.pool.Close()
	}
	return err
}

func (p *Postgres) flush(ctx context.Context, streamName string, recs []stream.Record) error {
	batch, err := upsertBatch(p.table(streamName), recs)
	if err != nil {
		return err
	}
	br := p.db.SendBatch(ctx, batch)
	for range recs {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("upserting into %s: %w", streamName, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("upserting into %s: %w", streamName, err)
	}
	p.logger.Debug("flushed rows", "table", streamName, "count", len(recs))
	return nil
}

func createTableSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id text PRIMARY KEY,
	createdtime timestamptz,
	record jsonb NOT NULL,
	synced_at timestamptz NOT NULL DEFAULT now()
)`, table)
}

func upsertSQL(table string) string {
	return fmt.Sprintf(`INSERT INTO %s (id, createdtime, record, synced_at)
VALUES ($1, $2::timestamptz, $3::jsonb, now())
ON CONFLICT (id) DO UPDATE SET
	createdtime = EXCLUDED.createdtime,
	record = EXCLUDED.record,
	synced_at = EXCLUDED.synced_at`, table)
}

func upsertBatch(table string, recs []stream.Record) (*pgx.Batch, error) {
	sql := upsertSQL(table)
	batch := &pgx.Batch{}
	for _, rec := range recs {
		doc, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("encoding record %v: %w", rec["id"], err)
		}
		var created any
		if s, ok := rec["createdtime"].(string); ok && s != "" {
			created = s
		}
		batch.Queue(sql, rec["id"], created, string(doc))
	}
	return batch, nil
}
