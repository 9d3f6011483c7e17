package metastore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/filedock/filedock/internal/models"
)

const fileColumns = `id, owner, original_filename, path, declared_mime_type, resolved_mime_type,
	size_bytes, content_hash, pinned, created_at, last_opened_at, deleted_at`

func scanFile(row pgx.Row) (*models.IngestedFile, error) {
	var f models.IngestedFile
	err := row.Scan(&f.ID, &f.Owner, &f.OriginalFilename, &f.Path, &f.DeclaredMIMEType,
		&f.ResolvedMIMEType, &f.SizeBytes, &f.ContentHash, &f.Pinned, &f.CreatedAt,
		&f.LastOpenedAt, &f.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}
	return &f, nil
}

func (s *Store) CreateFile(ctx context.Context, f *models.IngestedFile) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	row := s.db.QueryRow(ctx,
		`INSERT INTO ingested_files (id, owner, original_filename, path, declared_mime_type)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+fileColumns,
		f.ID, f.Owner, f.OriginalFilename, f.Path, f.DeclaredMIMEType,
	)
	created, err := scanFile(row)
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	*f = *created
	return nil
}

func (s *Store) FileByID(ctx context.Context, id uuid.UUID) (*models.IngestedFile, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+fileColumns+` FROM ingested_files WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanFile(row)
}

// FileByPath resolves a display path within one owner's non-deleted files.
func (s *Store) FileByPath(ctx context.Context, owner, path string) (*models.IngestedFile, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+fileColumns+` FROM ingested_files
		 WHERE owner = $1 AND path = $2 AND deleted_at IS NULL`, owner, path)
	return scanFile(row)
}

func (s *Store) ListFiles(ctx context.Context, owner string, limit, offset int) ([]models.IngestedFile, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+fileColumns+` FROM ingested_files
		 WHERE owner = $1 AND deleted_at IS NULL
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		owner, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var files []models.IngestedFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *f)
	}
	return files, rows.Err()
}

func (s *Store) UpdatePath(ctx context.Context, id uuid.UUID, path string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE ingested_files SET path = $1 WHERE id = $2 AND deleted_at IS NULL`, path, id)
	if err != nil {
		return fmt.Errorf("update path: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SetPinned(ctx context.Context, id uuid.UUID, pinned bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE ingested_files SET pinned = $1 WHERE id = $2 AND deleted_at IS NULL`, pinned, id)
	if err != nil {
		return fmt.Errorf("set pinned: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchOpened is best effort; callers ignore its error on the read path.
func (s *Store) TouchOpened(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx,
		`UPDATE ingested_files SET last_opened_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	return err
}

// SoftDeleteFile marks the file deleted. The marker is never cleared; bytes
// and derivative rows stay until a hard purge, which is a maintenance
// operation outside this store.
func (s *Store) SoftDeleteFile(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE ingested_files SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("soft delete file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
