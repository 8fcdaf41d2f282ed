package executor

import (
	"context"
	"errors"
	"time"

	"github.com/duckmesh/querypilot/internal/schema"
)

var ErrUnknownConnection = errors.New("unknown connection")

type Request struct {
	ConnectionID string
	SQL          string
	RowLimit     int
	Offset       int
}

type Result struct {
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
	Duration time.Duration    `json:"-"`
}

// Value returns the single cell of a 1x1 result.
func (r Result) Value() (any, bool) {
	if len(r.Rows) != 1 || len(r.Columns) != 1 {
		return nil, false
	}
	return r.Rows[0][r.Columns[0]], true
}

// Service runs read-only statements against a configured connection.
type Service interface {
	Execute(ctx context.Context, request Request) (Result, error)
	Dialect(ctx context.Context, connectionID string) (schema.Dialect, error)
}

type ConnectionInfo struct {
	ID      string         `json:"id"`
	Dialect schema.Dialect `json:"dialect"`
}
