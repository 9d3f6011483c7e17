package metastore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/filedock/filedock/internal/models"
)

// UpsertDerivative records one produced artifact. (file_id, kind) is the
// primary key, so re-processing overwrites the row the way the stage
// overwrote the bytes.
func (s *Store) UpsertDerivative(ctx context.Context, d *models.Derivative) error {
	row := s.db.QueryRow(ctx,
		`INSERT INTO derivatives (file_id, kind, storage_key, content_type, size_bytes)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (file_id, kind) DO UPDATE
		 SET storage_key = EXCLUDED.storage_key,
		     content_type = EXCLUDED.content_type,
		     size_bytes = EXCLUDED.size_bytes,
		     created_at = now()
		 RETURNING created_at`,
		d.FileID, d.Kind, d.StorageKey, d.ContentType, d.SizeBytes,
	)
	if err := row.Scan(&d.CreatedAt); err != nil {
		return fmt.Errorf("upsert derivative %s/%s: %w", d.FileID, d.Kind, err)
	}
	return nil
}

func (s *Store) DerivativesByFile(ctx context.Context, fileID uuid.UUID) ([]models.Derivative, error) {
	rows, err := s.db.Query(ctx,
		`SELECT file_id, kind, storage_key, content_type, size_bytes, created_at
		 FROM derivatives WHERE file_id = $1 ORDER BY kind`, fileID)
	if err != nil {
		return nil, fmt.Errorf("list derivatives: %w", err)
	}
	defer rows.Close()

	var out []models.Derivative
	for rows.Next() {
		var d models.Derivative
		if err := rows.Scan(&d.FileID, &d.Kind, &d.StorageKey, &d.ContentType, &d.SizeBytes, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan derivative: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) DerivativeByKind(ctx context.Context, fileID uuid.UUID, kind string) (*models.Derivative, error) {
	var d models.Derivative
	err := s.db.QueryRow(ctx,
		`SELECT file_id, kind, storage_key, content_type, size_bytes, created_at
		 FROM derivatives WHERE file_id = $1 AND kind = $2`, fileID, kind,
	).Scan(&d.FileID, &d.Kind, &d.StorageKey, &d.ContentType, &d.SizeBytes, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get derivative: %w", err)
	}
	return &d, nil
}
