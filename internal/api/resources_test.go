package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/duckmesh/querypilot/internal/executor"
	"github.com/duckmesh/querypilot/internal/export"
	"github.com/duckmesh/querypilot/internal/history"
	"github.com/duckmesh/querypilot/internal/schema"
	"github.com/duckmesh/querypilot/internal/storage"
)

func TestSanitizeEndpoint(t *testing.T) {
	h := NewHandler(testConfig(t, nil), Dependencies{})

	cases := []struct {
		body    string
		allowed bool
		want    string
	}{
		{body: `{"sql":"SELECT * FROM users"}`, allowed: true, want: "SELECT * FROM users LIMIT 100"},
		{body: `{"sql":"DELETE FROM users"}`, want: "only SELECT queries are allowed"},
		{body: `{"sql":"SELECT pg_sleep(10)","dialect":"postgres"}`, want: "PostgreSQL system functions not allowed"},
		{body: `{"sql":"SELECT * FROM read_csv('/etc/passwd')","dialect":"duckdb"}`, want: "DuckDB file access functions not allowed"},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/sanitize", strings.NewReader(tc.body)))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", tc.body, rr.Code)
		}
		body := decodeBody(t, rr)
		if body["allowed"] != tc.allowed {
			t.Fatalf("%s: allowed = %v", tc.body, body["allowed"])
		}
		field := "reason"
		if tc.allowed {
			field = "sql"
		}
		if body[field] != tc.want {
			t.Fatalf("%s: %s = %v, want %q", tc.body, field, body[field], tc.want)
		}
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/sanitize", strings.NewReader(`{"sql":"SELECT 1","dialect":"oracle"}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown dialect status = %d", rr.Code)
	}
}

func TestListConnections(t *testing.T) {
	h := NewHandler(testConfig(t, nil), Dependencies{Connections: staticConnections{
		{ID: "analytics", Dialect: schema.DialectDuckDB},
		{ID: "shop", Dialect: schema.DialectPostgres},
	}})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/connections", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `{"id":"shop","dialect":"postgres"}`) {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestConnectionSchema(t *testing.T) {
	schemas := schemaSourceFunc(func(_ context.Context, id string) (schema.Schema, error) {
		switch id {
		case "shop":
			return schema.Schema{DatabaseName: "shop", Tables: []schema.Table{
				{Name: "users", Columns: []schema.Column{{Name: "id", DataType: "integer", PrimaryKey: true}}},
				{Name: "orders", Columns: []schema.Column{
					{Name: "id", DataType: "integer", PrimaryKey: true},
					{Name: "user_id", DataType: "integer", ForeignKey: true, ForeignTable: "users", ForeignColumn: "id"},
				}},
			}}, nil
		case "down":
			return schema.Schema{}, errors.New("connection refused")
		default:
			return schema.Schema{}, fmt.Errorf("resolve connection: %w", executor.ErrUnknownConnection)
		}
	})
	h := NewHandler(testConfig(t, nil), Dependencies{Schemas: schemas})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/connections/shop/schema", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	paths, _ := body["join_paths"].([]any)
	if len(paths) != 1 || !strings.Contains(paths[0].(string), "orders.user_id = users.id") {
		t.Fatalf("join_paths = %v", body["join_paths"])
	}

	for id, status := range map[string]int{"missing": http.StatusNotFound, "down": http.StatusBadGateway} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/connections/"+id+"/schema", nil))
		if rr.Code != status {
			t.Fatalf("%s: status = %d, want %d", id, rr.Code, status)
		}
	}
}

func TestHistoryEndpoints(t *testing.T) {
	store := newSeededHistory(t)
	h := NewHandler(testConfig(t, nil), Dependencies{History: store})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/history?connection_id=shop&limit=1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	entries, _ := decodeBody(t, rr)["entries"].([]any)
	if len(entries) != 1 {
		t.Fatalf("entries = %v", entries)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/history?limit=0", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", rr.Code)
	}

	listed, _ := store.List(context.Background(), "shop", 0)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/v1/history/"+listed[0].ID, nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/v1/history/"+listed[0].ID, nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/v1/history?connection_id=shop", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("clear status = %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["deleted"] != float64(1) {
		t.Fatalf("deleted = %v", body["deleted"])
	}
	remaining, _ := store.List(context.Background(), "", 0)
	if len(remaining) != 1 || remaining[0].ConnectionID != "analytics" {
		t.Fatalf("remaining = %+v", remaining)
	}
}

func TestArchiveDownload(t *testing.T) {
	archive := &fakeArchive{objects: map[string][]byte{"runs/2026-05-01/run-1/query-0.parquet": []byte("PAR1data")}}
	h := NewHandler(testConfig(t, nil), Dependencies{Archive: archive})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/archives/runs/2026-05-01/run-1/query-0.parquet", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if rr.Body.String() != "PAR1data" {
		t.Fatalf("body = %q", rr.Body.String())
	}
	if got := rr.Header().Get("Content-Disposition"); got != `attachment; filename="query-0.parquet"` {
		t.Fatalf("Content-Disposition = %q", got)
	}
	if got := rr.Header().Get("X-Result-Rows"); got != "2" {
		t.Fatalf("X-Result-Rows = %q", got)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/archives/runs/2026-05-01/run-2/query-0.parquet", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/archives/runs/2026-05-01/run-1/query-0.parquet?format=json&limit=5", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("preview status = %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["run_id"] != "run-1" {
		t.Fatalf("preview = %v", body)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/archives/runs/2026-05-01/run-1/query-0.parquet?format=json&limit=500", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("preview limit status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/archives/config/secrets.json", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("foreign key status = %d", rr.Code)
	}
}

func newSeededHistory(t *testing.T) *history.Memory {
	t.Helper()
	store := history.NewMemory()
	for _, entry := range []history.Entry{
		{ConnectionID: "shop", SQL: "SELECT 1 LIMIT 100", Success: true},
		{ConnectionID: "shop", SQL: "SELECT nope LIMIT 100", Error: "column nope does not exist"},
		{ConnectionID: "analytics", SQL: "SELECT 2 LIMIT 100", Success: true},
	} {
		if _, err := store.Add(context.Background(), entry); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}
	return store
}

type schemaSourceFunc func(ctx context.Context, connectionID string) (schema.Schema, error)

func (f schemaSourceFunc) Load(ctx context.Context, connectionID string) (schema.Schema, error) {
	return f(ctx, connectionID)
}

type fakeArchive struct {
	objects map[string][]byte
}

func (f *fakeArchive) Open(_ context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	if _, err := storage.ParseArchiveKey(key); err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	data, ok := f.objects[key]
	if !ok {
		return nil, storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), storage.ObjectInfo{
		Key:         key,
		Size:        int64(len(data)),
		ContentType: "application/vnd.apache.parquet",
		Metadata:    map[string]string{storage.MetaRows: "2"},
	}, nil
}

func (f *fakeArchive) Preview(ctx context.Context, key string, limit int) (export.Preview, error) {
	body, _, err := f.Open(ctx, key)
	if err != nil {
		return export.Preview{}, err
	}
	_ = body.Close()
	runID, _ := storage.ParseArchiveKey(key)
	return export.Preview{Key: key, RunID: runID, Rows: []map[string]any{{"limit": limit}}}, nil
}
