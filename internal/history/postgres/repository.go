package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/duckmesh/querypilot/internal/history"
)

type Repository struct {
	db         *sql.DB
	maxEntries int
	now        func() time.Time
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, maxEntries: history.MaxEntriesPerConnection, now: time.Now}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping history db: %w", err)
	}
	return nil
}

// Add inserts entry and trims its connection to the newest maxEntries rows in one transaction.
func (r *Repository) Add(ctx context.Context, entry history.Entry) (history.Entry, error) {
	entry = history.Prepare(entry, r.now())

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return history.Entry{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO query_history (history_id, connection_id, run_id, query_text, executed_at, execution_time_ms, success, error_text)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID,
		entry.ConnectionID,
		entry.RunID,
		entry.SQL,
		entry.ExecutedAt,
		entry.ExecutionTimeMs,
		entry.Success,
		entry.Error,
	); err != nil {
		return history.Entry{}, fmt.Errorf("insert history entry: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
DELETE FROM query_history
WHERE connection_id = $1
  AND history_id NOT IN (
    SELECT history_id FROM query_history
    WHERE connection_id = $1
    ORDER BY executed_at DESC
    LIMIT $2
  )`, entry.ConnectionID, r.maxEntries); err != nil {
		return history.Entry{}, fmt.Errorf("trim history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return history.Entry{}, fmt.Errorf("commit history entry: %w", err)
	}
	return entry, nil
}

func (r *Repository) List(ctx context.Context, connectionID string, limit int) ([]history.Entry, error) {
	if limit <= 0 || limit > r.maxEntries {
		limit = r.maxEntries
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT history_id, connection_id, run_id, query_text, executed_at, execution_time_ms, success, error_text
FROM query_history
WHERE ($1 = '' OR connection_id = $1)
ORDER BY executed_at DESC
LIMIT $2`, connectionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]history.Entry, 0)
	for rows.Next() {
		var entry history.Entry
		if err := rows.Scan(
			&entry.ID,
			&entry.ConnectionID,
			&entry.RunID,
			&entry.SQL,
			&entry.ExecutedAt,
			&entry.ExecutionTimeMs,
			&entry.Success,
			&entry.Error,
		); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM query_history WHERE history_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete history entry: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete history rows affected: %w", err)
	}
	if rows == 0 {
		return history.ErrNotFound
	}
	return nil
}

func (r *Repository) Clear(ctx context.Context, connectionID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM query_history WHERE ($1 = '' OR connection_id = $1)`, connectionID)
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear history rows affected: %w", err)
	}
	return rows, nil
}
