//go:build integration

package integration

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/airtap/airtap/internal/schema"
	"github.com/airtap/airtap/internal/sink"
	"github.com/airtap/airtap/internal/stream"
)

func pgConnString(t *testing.T) string {
	t.Helper()
	host := envOrDefault("AIRTAP_TEST_PG_HOST", "localhost")
	port := envOrDefault("AIRTAP_TEST_PG_PORT", "25432")
	db := envOrDefault("AIRTAP_TEST_PG_DATABASE", "airtap_test")
	user := envOrDefault("AIRTAP_TEST_PG_USER", "postgres")
	pass := envOrDefault("AIRTAP_TEST_PG_PASSWORD", "postgres")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, pass, host, port, db)
}

func mongoURI(t *testing.T) string {
	t.Helper()
	return envOrDefault("AIRTAP_TEST_MONGO_URI", "mongodb://localhost:37017/?directConnection=true")
}

func mongoDatabase(t *testing.T) string {
	t.Helper()
	return envOrDefault("AIRTAP_TEST_MONGO_DATABASE", "airtap_test")
}

func skipUnlessSet(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		if os.Getenv(k) != "" {
			return
		}
	}
	t.Skipf("skipping: none of %v set", keys)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// streamName is unique per test run so reruns do not see old rows.
func streamName(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("it_orders_%d", time.Now().UnixNano())
}

func ordersInfo(t *testing.T, name string) sink.StreamInfo {
	t.Helper()
	table := schema.Table{ID: "tbl1", Name: "Orders", Fields: []schema.Field{
		{ID: "f1", Name: "Total", Types: []string{"number"}},
		{ID: "f2", Name: "Ratio", Types: []string{"number", "formula"}, IsFormula: true},
	}}
	s, err := table.Schema()
	if err != nil {
		t.Fatal(err)
	}
	return sink.StreamInfo{Name: name, BaseID: "appA", TableID: "tbl1", Schema: s, KeyProperties: []string{"id"}}
}

func orderRecords() []stream.Record {
	return []stream.Record{
		{"id": "rec1", "createdtime": "2024-01-01T00:00:00.000Z", "total": 10.0, "ratio": "NaN"},
		{"id": "rec2", "createdtime": "2024-01-02T00:00:00.000Z", "total": 20.0, "ratio": 0.5},
		{"id": "rec3", "createdtime": "2024-01-03T00:00:00.000Z", "total": 30.0, "ratio": "#ERROR!"},
	}
}
