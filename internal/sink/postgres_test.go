package sink

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeBatchResults struct {
	remaining int
	err       error
}

func (f *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	f.remaining--
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}
func (f *fakeBatchResults) Query() (pgx.Rows, error) { return nil, errors.New("not supported") }
func (f *fakeBatchResults) QueryRow() pgx.Row        { return nil }
func (f *fakeBatchResults) Close() error             { return nil }

type fakePG struct {
	execs   []string
	batches []*pgx.Batch
	err     error
}

func (f *fakePG) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func (f *fakePG) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	f.batches = append(f.batches, b)
	return &fakeBatchResults{remaining: b.Len(), err: f.err}
}

func TestPostgres_WriteSchemaCreatesTable(t *testing.T) {
	db := &fakePG{}
	p := newPostgres(db, "raw", 10, discard())

	if err := p.WriteSchema(context.Background(), testInfo(t)); err != nil {
		t.Fatal(err)
	}
	if len(db.execs) != 1 {
		t.Fatalf("expected one statement, got %d", len(db.execs))
	}
	if !strings.Contains(db.execs[0], `CREATE TABLE IF NOT EXISTS "raw"."orders"`) {
		t.Errorf("unexpected DDL: %s", db.execs[0])
	}
}

func TestPostgres_UpsertBatch(t *testing.T) {
	db := &fakePG{}
	p := newPostgres(db, "", 2, discard())
	ctx := context.Background()

	p.WriteRecord(ctx, "orders", rec("rec1"))
	p.WriteRecord(ctx, "orders", plainRecord("rec2"))
	if len(db.batches) != 1 {
		t.Fatalf("expected a flushed batch, got %d", len(db.batches))
	}

	b := db.batches[0]
	if b.Len() != 2 {
		t.Fatalf("batch len = %d", b.Len())
	}
	q := b.QueuedQueries[0]
	if !strings.Contains(q.SQL, `INSERT INTO "public"."orders"`) || !strings.Contains(q.SQL, "ON CONFLICT (id)") {
		t.Errorf("unexpected upsert: %s", q.SQL)
	}
	if q.Arguments[0] != "rec1" || q.Arguments[1] != "2024-01-02T03:04:05.000Z" {
		t.Errorf("unexpected arguments: %v", q.Arguments)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(q.Arguments[2].(string)), &doc); err != nil {
		t.Fatalf("record argument is not JSON: %v", err)
	}
	if doc["total"] != 4.5 {
		t.Errorf("doc = %v", doc)
	}
	if b.QueuedQueries[1].Arguments[1] != nil {
		t.Errorf("missing createdtime should be NULL, got %v", b.QueuedQueries[1].Arguments[1])
	}
}

func TestPostgres_CloseFlushesAndReportsErrors(t *testing.T) {
	db := &fakePG{err: errBoom}
	p := newPostgres(db, "public", 100, discard())
	ctx := context.Background()

	if err := p.WriteRecord(ctx, "orders", rec("rec1")); err != nil {
		t.Fatal(err)
	}
	if len(db.batches) != 0 {
		t.Fatal("batch sent before close")
	}
	if err := p.Close(ctx); !errors.Is(err, errBoom) {
		t.Errorf("expected flush error on close, got %v", err)
	}
}

func plainRecord(id string) map[string]any {
	return map[string]any{"id": id, "total": 1}
}
