package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kirillkom/pagecut/internal/core/domain"
)

const defaultPageLogLimit = 100

type PageLogRepository struct {
	db *sql.DB
}

func NewPageLogRepository(db *sql.DB) *PageLogRepository {
	return &PageLogRepository{db: db}
}

func (r *PageLogRepository) LogPageProcessing(ctx context.Context, entry domain.PageLogEntry) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO page_processing_logs (document_id, page, model, status, images, duration_ms, error_message, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`, entry.DocumentID, entry.Page, entry.Model, entry.Status, entry.Images, entry.Duration.Milliseconds(), nullableString(entry.Error), entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert page log: %w", err)
	}
	return nil
}

// ListPageLogs returns the newest entries first.
func (r *PageLogRepository) ListPageLogs(ctx context.Context, documentID string, limit int) ([]domain.PageLogEntry, error) {
	if limit <= 0 {
		limit = defaultPageLogLimit
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT document_id, page, model, status, images, duration_ms, error_message, created_at
FROM page_processing_logs
WHERE document_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2
`, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list page logs: %w", err)
	}
	defer rows.Close()

	out := make([]domain.PageLogEntry, 0)
	for rows.Next() {
		var entry domain.PageLogEntry
		var durationMS int64
		var errMessage sql.NullString
		if err := rows.Scan(
			&entry.DocumentID,
			&entry.Page,
			&entry.Model,
			&entry.Status,
			&entry.Images,
			&durationMS,
			&errMessage,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan page log: %w", err)
		}
		entry.Duration = time.Duration(durationMS) * time.Millisecond
		entry.Error = errMessage.String
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate page logs: %w", err)
	}
	return out, nil
}

func nullableString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
