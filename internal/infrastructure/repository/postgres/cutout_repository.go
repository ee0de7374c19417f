package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kirillkom/pagecut/internal/core/domain"
)

type CutoutRepository struct {
	db *sql.DB
}

func NewCutoutRepository(db *sql.DB) *CutoutRepository {
	return &CutoutRepository{db: db}
}

// ReplaceCutouts overwrites the stored workspace; row position is the slice index.
func (r *CutoutRepository) ReplaceCutouts(ctx context.Context, documentID string, cutouts []domain.Cutout) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cutouts tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cutouts WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("clear cutouts: %w", err)
	}
	for i, c := range cutouts {
		_, err := tx.ExecContext(ctx, `
INSERT INTO cutouts (document_id, position, id, name, path, src, page, ephemeral, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`, documentID, i, c.ID, c.Name, c.Path, c.Src, c.Page, c.Ephemeral, c.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert cutout %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cutouts tx: %w", err)
	}
	return nil
}

func (r *CutoutRepository) ListCutouts(ctx context.Context, documentID string) ([]domain.Cutout, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, name, path, src, page, ephemeral, created_at
FROM cutouts
WHERE document_id = $1
ORDER BY position ASC
`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list cutouts: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Cutout, 0)
	for rows.Next() {
		var c domain.Cutout
		if err := rows.Scan(&c.ID, &c.Name, &c.Path, &c.Src, &c.Page, &c.Ephemeral, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cutout: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cutouts: %w", err)
	}
	return out, nil
}
