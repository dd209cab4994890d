package airtable

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// testClient starts a fake API server and returns a client pointed at it.
func testClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	opts = append([]Option{WithBaseURL(server.URL + "/v0")}, opts...)
	return New("fake_token", opts...)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestGet_200(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v0/test_endpoint" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer fake_token" {
			http.Error(w, "bad auth "+got, http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"data": "test"}`))
	})

	body, err := c.Get(context.Background(), "test_endpoint", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body["data"] != "test" {
		t.Errorf("body = %v, want data=test", body)
	}
}

func TestGet_RetryableStatuses(t *testing.T) {
	for _, status := range []int{429, 500, 502, 503, 504} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			})
			_, err := c.Get(context.Background(), "test_endpoint", nil)
			var re *RetryableError
			if !errors.As(err, &re) {
				t.Fatalf("expected *RetryableError, got %T (%v)", err, err)
			}
			if re.StatusCode != status {
				t.Errorf("StatusCode = %d, want %d", re.StatusCode, status)
			}
			if !re.Temporary() {
				t.Error("retryable error should report Temporary")
			}
		})
	}
}

func TestGet_NonRetryableStatuses(t *testing.T) {
	for _, status := range []int{400, 401, 403, 404, 422} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
				w.Write([]byte("Bad Request"))
			})
			_, err := c.Get(context.Background(), "test_endpoint", nil)
			var nre *NonRetryableError
			if !errors.As(err, &nre) {
				t.Fatalf("expected *NonRetryableError, got %T (%v)", err, err)
			}
			if nre.StatusCode != status || nre.Body != "Bad Request" {
				t.Errorf("got %d %q", nre.StatusCode, nre.Body)
			}
		})
	}
}

func TestGet_TransportErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := New("fake_token", WithBaseURL(url))
	_, err := c.Get(context.Background(), "test_endpoint", nil)
	var re *RetryableError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RetryableError, got %T (%v)", err, err)
	}
	if re.StatusCode != 0 {
		t.Errorf("transport error should carry no status, got %d", re.StatusCode)
	}
}

type countingRetrier struct {
	attempts int
}

func (r *countingRetrier) Do(_ context.Context, op func() error) error {
	var err error
	for i := 0; i < 3; i++ {
		r.attempts++
		if err = op(); err == nil {
			return nil
		}
	}
	return err
}

func TestGet_UsesRetrier(t *testing.T) {
	var calls atomic.Int32
	retrier := &countingRetrier{}
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	}, WithRetrier(retrier))

	body, err := c.Get(context.Background(), "test_endpoint", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body["ok"] != true {
		t.Errorf("body = %v", body)
	}
	if retrier.attempts != 3 {
		t.Errorf("attempts = %d, want 3", retrier.attempts)
	}
}

func TestGetBaseSchema(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v0/meta/bases/base123/tables" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, map[string]any{"tables": []any{
			map[string]any{"id": "tbl123", "name": "Test Table", "fields": []any{}},
		}})
	})

	tables, err := c.GetBaseSchema(context.Background(), "base123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tables) != 1 || tables[0].ID != "tbl123" || tables[0].Name != "Test Table" {
		t.Errorf("tables = %+v", tables)
	}
}

func TestMapFieldType(t *testing.T) {
	tests := []struct {
		name string
		json string
		want string
	}{
		{
			name: "formula with result",
			json: `{"type":"formula","options":{"isValid":true,"formula":"SUM({fldA},{fldB})",
				"referencedFieldIds":["fldA","fldB"],
				"result":{"type":"currency","options":{"precision":0,"symbol":"$"}}}}`,
			want: "currency",
		},
		{name: "formula without result", json: `{"type":"formula","options":{}}`, want: "formula"},
		{name: "formula without options", json: `{"type":"formula"}`, want: "formula"},
		{name: "non formula", json: `{"type":"text"}`, want: "text"},
		{
			name: "non formula with result is ignored",
			json: `{"type":"rollup","options":{"result":{"type":"number"}}}`,
			want: "rollup",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fd FieldDescriptor
			if err := json.Unmarshal([]byte(tt.json), &fd); err != nil {
				t.Fatalf("bad fixture: %v", err)
			}
			if got := MapFieldType(fd); got != tt.want {
				t.Errorf("MapFieldType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTableFromDescriptor(t *testing.T) {
	d := TableDescriptor{ID: "tbl1", Name: "Orders", Fields: []FieldDescriptor{
		{ID: "f1", Name: "Name", Type: "singleLineText"},
		{ID: "f2", Name: "Total", Type: "formula", Options: &FieldOptions{Result: &FieldResult{Type: "currency"}}},
		{ID: "f3", Name: "Label", Type: "formula"},
	}}

	tbl := TableFromDescriptor(d)
	if len(tbl.Fields) != 3 {
		t.Fatalf("expected 3 fields, got %d", len(tbl.Fields))
	}
	if tbl.Fields[0].IsFormula {
		t.Error("Name should not be a formula")
	}
	if got := tbl.Fields[1].Types; len(got) != 2 || got[0] != "currency" || got[1] != "formula" {
		t.Errorf("Total types = %v, want [currency formula]", got)
	}
	if got := tbl.Fields[2].Types; len(got) != 1 || got[0] != "formula" {
		t.Errorf("Label types = %v, want [formula]", got)
	}
	if _, err := tbl.Schema(); err != nil {
		t.Errorf("schema should resolve: %v", err)
	}
}

func TestRecords_Pagination(t *testing.T) {
	var (
		mu      sync.Mutex
		offsets []string
	)
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v0/base123/table123" {
			http.NotFound(w, r)
			return
		}
		offset := r.URL.Query().Get("offset")
		mu.Lock()
		offsets = append(offsets, offset)
		mu.Unlock()
		switch offset {
		case "":
			writeJSON(w, map[string]any{"records": []any{map[string]any{"id": "rec1"}}, "offset": "page_2"})
		case "page_2":
			writeJSON(w, map[string]any{"records": []any{map[string]any{"id": "rec2"}}})
		default:
			http.Error(w, "unexpected offset", http.StatusBadRequest)
		}
	})

	var ids []string
	for rec, err := range c.Records(context.Background(), "base123", "table123") {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ids = append(ids, rec["id"].(string))
	}

	if strings.Join(ids, ",") != "rec1,rec2" {
		t.Errorf("ids = %v, want [rec1 rec2]", ids)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(offsets) != 2 || offsets[1] != "page_2" {
		t.Errorf("offsets = %q, want second request with page_2", offsets)
	}
}

func TestRecords_FailedPageEmitsNoRecords(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("offset") == "" {
			writeJSON(w, map[string]any{"records": []any{map[string]any{"id": "rec1"}}, "offset": "page_2"})
			return
		}
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("denied"))
	})

	var ids []string
	var gotErr error
	for rec, err := range c.Records(context.Background(), "base123", "table123") {
		if err != nil {
			gotErr = err
			continue
		}
		ids = append(ids, rec["id"].(string))
	}

	var nre *NonRetryableError
	if !errors.As(gotErr, &nre) {
		t.Fatalf("expected *NonRetryableError, got %v", gotErr)
	}
	if len(ids) != 1 || ids[0] != "rec1" {
		t.Errorf("ids = %v, want only rec1", ids)
	}
}

func TestRecords_Restartable(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, map[string]any{"records": []any{map[string]any{"id": "rec1"}}})
	})

	seq := c.Records(context.Background(), "base123", "table123")
	for range 2 {
		n := 0
		for _, err := range seq {
			if err != nil {
				t.Fatal(err)
			}
			n++
		}
		if n != 1 {
			t.Errorf("expected 1 record per pass, got %d", n)
		}
	}
	if calls.Load() != 2 {
		t.Errorf("expected a fresh request per pass, got %d", calls.Load())
	}
}

func basesHandler(t *testing.T, schemaCalls *atomic.Int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v0/meta/bases":
			writeJSON(w, map[string]any{"bases": []any{
				map[string]any{"id": "base1", "name": "Base 1"},
				map[string]any{"id": "base2", "name": "Base 2"},
			}})
		case "/v0/meta/bases/base1/tables", "/v0/meta/bases/base2/tables":
			schemaCalls.Add(1)
			writeJSON(w, map[string]any{"tables": []any{
				map[string]any{"id": "tbl123", "name": "Test Table", "fields": []any{
					map[string]any{"id": "fld1", "name": "Name", "type": "singleLineText"},
				}},
			}})
		default:
			http.NotFound(w, r)
		}
	}
}

func TestGetBases(t *testing.T) {
	var schemaCalls atomic.Int32
	c := testClient(t, basesHandler(t, &schemaCalls))

	bases, err := c.GetBases(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bases) != 2 || bases[0].ID != "base1" || bases[1].ID != "base2" {
		t.Fatalf("bases = %+v", bases)
	}
	if len(bases[0].Tables) != 1 || bases[0].Tables[0].Fields[0].Name != "Name" {
		t.Errorf("tables not populated: %+v", bases[0].Tables)
	}
	if schemaCalls.Load() != 2 {
		t.Errorf("schema calls = %d, want 2", schemaCalls.Load())
	}
}

func TestGetBases_Filtered(t *testing.T) {
	var schemaCalls atomic.Int32
	c := testClient(t, basesHandler(t, &schemaCalls))

	bases, err := c.GetBases(context.Background(), []string{"base2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bases) != 1 || bases[0].ID != "base2" {
		t.Errorf("bases = %+v", bases)
	}
	if schemaCalls.Load() != 1 {
		t.Errorf("schema calls = %d, want 1", schemaCalls.Load())
	}
}

func TestGetBases_MissingIDs(t *testing.T) {
	var schemaCalls atomic.Int32
	c := testClient(t, basesHandler(t, &schemaCalls))

	_, err := c.GetBases(context.Background(), []string{"base1", "base3"})
	var mbe *MissingBasesError
	if !errors.As(err, &mbe) {
		t.Fatalf("expected *MissingBasesError, got %v", err)
	}
	if !strings.Contains(err.Error(), "base3") || strings.Contains(err.Error(), "base1") {
		t.Errorf("error = %q, want only base3 named", err)
	}
	if schemaCalls.Load() != 0 {
		t.Error("no schema should be fetched when ids are missing")
	}
}

func TestGetBases_ServerError(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := c.GetBases(context.Background(), nil)
	var re *RetryableError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RetryableError, got %v", err)
	}
}

func TestGetBases_NonRetryableError(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("Bad Request"))
	})
	_, err := c.GetBases(context.Background(), nil)
	var nre *NonRetryableError
	if !errors.As(err, &nre) {
		t.Fatalf("expected *NonRetryableError, got %v", err)
	}
	if !strings.Contains(err.Error(), "Server response: 400, Bad Request") {
		t.Errorf("error = %q", err)
	}
}

func TestListBases_Paginated(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("offset") == "" {
			writeJSON(w, map[string]any{"bases": []any{map[string]any{"id": "base1"}}, "offset": "next"})
			return
		}
		writeJSON(w, map[string]any{"bases": []any{map[string]any{"id": "base2"}}})
	})

	bases, err := c.ListBases(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bases) != 2 {
		t.Errorf("expected 2 bases across pages, got %d", len(bases))
	}
}
