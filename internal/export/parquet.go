package export

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/duckmesh/querypilot/internal/executor"
)

const ContentType = "application/vnd.apache.parquet"

type EncodeResult struct {
	Data        []byte
	RecordCount int64
}

type parquetRow struct {
	RunID       string `parquet:"run_id"`
	QueryIndex  int32  `parquet:"query_index"`
	RowNumber   int64  `parquet:"row_number"`
	PayloadJSON string `parquet:"payload_json"`
}

// EncodeResultParquet writes one parquet row per result row, with the row itself kept as
// a JSON object so differently shaped sub-queries share a single file schema.
func EncodeResultParquet(runID string, queryIndex int, result executor.Result) (EncodeResult, error) {
	if runID == "" {
		return EncodeResult{}, fmt.Errorf("run id is required")
	}

	rows := make([]parquetRow, 0, len(result.Rows))
	for i, row := range result.Rows {
		payload, err := json.Marshal(projectRow(result.Columns, row))
		if err != nil {
			return EncodeResult{}, fmt.Errorf("encode row %d: %w", i, err)
		}
		rows = append(rows, parquetRow{
			RunID:       runID,
			QueryIndex:  int32(queryIndex),
			RowNumber:   int64(i),
			PayloadJSON: string(payload),
		})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetRow](buf)
	if len(rows) > 0 {
		if _, err := writer.Write(rows); err != nil {
			return EncodeResult{}, fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return EncodeResult{}, fmt.Errorf("close parquet writer: %w", err)
	}
	return EncodeResult{Data: buf.Bytes(), RecordCount: int64(len(rows))}, nil
}

// projectRow keeps only the declared columns so stray keys never reach the archive.
func projectRow(columns []string, row map[string]any) map[string]any {
	if len(columns) == 0 {
		return row
	}
	out := make(map[string]any, len(columns))
	for _, column := range columns {
		out[column] = row[column]
	}
	return out
}
