// Package postgres stores query history in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/datasetviz/datasetviz/internal/history"
)

type Repository struct {
	db *sql.DB
}

var _ history.Recorder = (*Repository)(nil)

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping history db: %w", err)
	}
	return nil
}

func (r *Repository) Record(ctx context.Context, entry history.Entry) error {
	query := `
INSERT INTO query_history (dataset, split, sql_text, row_count, truncated, elapsed_ms, error_code, trace_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := r.db.ExecContext(ctx, query,
		entry.Dataset,
		entry.Split,
		entry.SQL,
		entry.RowCount,
		entry.Truncated,
		entry.ElapsedMs,
		entry.ErrorCode,
		entry.TraceID,
	); err != nil {
		return fmt.Errorf("record query history: %w", err)
	}
	return nil
}

func (r *Repository) List(ctx context.Context, filter history.ListFilter) ([]history.Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT history_id, dataset, split, sql_text, row_count, truncated, elapsed_ms, error_code, trace_id, created_at
FROM query_history
WHERE ($1 = '' OR dataset = $1)
ORDER BY created_at DESC, history_id DESC
LIMIT $2`, filter.Dataset, filter.NormalizedLimit())
	if err != nil {
		return nil, fmt.Errorf("list query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]history.Entry, 0)
	for rows.Next() {
		var entry history.Entry
		var createdAt time.Time
		if err := rows.Scan(
			&entry.ID,
			&entry.Dataset,
			&entry.Split,
			&entry.SQL,
			&entry.RowCount,
			&entry.Truncated,
			&entry.ElapsedMs,
			&entry.ErrorCode,
			&entry.TraceID,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan query history: %w", err)
		}
		entry.CreatedAt = createdAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate query history: %w", err)
	}
	return entries, nil
}
