package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/duckmesh/querypilot/internal/storage"
)

const (
	DefaultPreviewRows = 20
	MaxPreviewRows     = 100
)

type Preview struct {
	Key       string           `json:"key"`
	RunID     string           `json:"run_id"`
	Rows      []map[string]any `json:"rows"`
	Truncated bool             `json:"truncated"`
}

// Preview decodes the first rows of an archived result with an embedded DuckDB.
func (a *Archiver) Preview(ctx context.Context, key string, limit int) (Preview, error) {
	runID, err := storage.ParseArchiveKey(key)
	if err != nil {
		return Preview{}, err
	}
	if limit <= 0 {
		limit = DefaultPreviewRows
	}
	limit = min(limit, MaxPreviewRows)

	workDir, err := os.MkdirTemp("", "querypilot-preview-")
	if err != nil {
		return Preview{}, fmt.Errorf("create preview temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	reader, err := a.store.Get(ctx, key)
	if err != nil {
		return Preview{}, err
	}
	localPath := filepath.Join(workDir, "result.parquet")
	if err := writeFile(localPath, reader); err != nil {
		_ = reader.Close()
		return Preview{}, fmt.Errorf("write local parquet file: %w", err)
	}
	if err := reader.Close(); err != nil {
		return Preview{}, fmt.Errorf("close object %q: %w", key, err)
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return Preview{}, fmt.Errorf("open duckdb: %w", err)
	}
	defer func() { _ = db.Close() }()

	query := fmt.Sprintf(`SELECT payload_json FROM read_parquet(%s) ORDER BY row_number LIMIT %d`, quoteString(localPath), limit+1)
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return Preview{}, fmt.Errorf("read archived rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := Preview{Key: key, RunID: runID, Rows: make([]map[string]any, 0)}
	for rows.Next() {
		var payload any
		if err := rows.Scan(&payload); err != nil {
			return Preview{}, fmt.Errorf("scan archived row: %w", err)
		}
		if len(out.Rows) == limit {
			out.Truncated = true
			break
		}
		decoded := map[string]any{}
		if err := json.Unmarshal([]byte(stringValue(payload)), &decoded); err != nil {
			return Preview{}, fmt.Errorf("decode archived row %d: %w", len(out.Rows), err)
		}
		out.Rows = append(out.Rows, decoded)
	}
	if err := rows.Err(); err != nil {
		return Preview{}, fmt.Errorf("iterate archived rows: %w", err)
	}
	return out, nil
}

func stringValue(value any) string {
	switch typed := value.(type) {
	case []byte:
		return string(typed)
	case string:
		return typed
	default:
		return fmt.Sprint(typed)
	}
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func writeFile(path string, reader io.Reader) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	if _, err := io.Copy(file, reader); err != nil {
		return err
	}
	return nil
}
