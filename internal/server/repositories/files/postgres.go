package files

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/dbx"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `id, user_id, gallery_id, provider, provider_file_id, provider_path, name, mime_type, size,
	checksum, tags, sort_order, visible, deleted_at, delete_origin, version, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(s scanner) (*models.FileRecord, error) {
	f := &models.FileRecord{}
	var tags []byte
	var deletedAt sql.NullTime
	if err := s.Scan(&f.ID, &f.UserID, &f.GalleryID, &f.Provider, &f.ProviderFileID, &f.ProviderPath,
		&f.Name, &f.MimeType, &f.Size, &f.Checksum, &tags, &f.SortOrder, &f.Visible, &deletedAt,
		&f.DeleteOrigin, &f.Version, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &f.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		f.DeletedAt = &t
	}
	return f, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	return string(b), err
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (r *PostgresRepository) Create(ctx context.Context, f *models.FileRecord) error {
	tags, err := encodeTags(f.Tags)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO file_records (id, user_id, gallery_id, provider, provider_file_id, provider_path, name,
			mime_type, size, checksum, tags, sort_order, visible, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1)
		RETURNING version, created_at, updated_at
	`
	err = r.db.QueryRowContext(ctx, query, f.ID, f.UserID, f.GalleryID, f.Provider, f.ProviderFileID,
		f.ProviderPath, f.Name, f.MimeType, f.Size, f.Checksum, tags, f.SortOrder, f.Visible).
		Scan(&f.Version, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, args ...any) (*models.FileRecord, error) {
	f, err := scanFile(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return f, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.FileRecord, error) {
	return r.getOne(ctx, `SELECT `+selectColumns+` FROM file_records WHERE id = $1`, id)
}

func (r *PostgresRepository) FindByProviderFileID(ctx context.Context, provider, providerFileID string) (*models.FileRecord, error) {
	return r.getOne(ctx, `SELECT `+selectColumns+` FROM file_records WHERE provider = $1 AND provider_file_id = $2`,
		provider, providerFileID)
}

func (r *PostgresRepository) FindByProviderPath(ctx context.Context, userID, provider, providerPath string) (*models.FileRecord, error) {
	return r.getOne(ctx, `SELECT `+selectColumns+` FROM file_records
		WHERE user_id = $1 AND provider = $2 AND provider_path = $3 AND deleted_at IS NULL
		ORDER BY updated_at DESC LIMIT 1`, userID, provider, providerPath)
}

func (r *PostgresRepository) FindByChecksum(ctx context.Context, galleryID, provider, checksum, name string) (*models.FileRecord, error) {
	return r.getOne(ctx, `SELECT `+selectColumns+` FROM file_records
		WHERE gallery_id = $1 AND provider = $2 AND checksum = $3 AND name = $4 AND deleted_at IS NULL
		LIMIT 1`, galleryID, provider, checksum, name)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.FileRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) ListByGallery(ctx context.Context, galleryID string) ([]*models.FileRecord, error) {
	return r.list(ctx, `SELECT `+selectColumns+` FROM file_records WHERE gallery_id = $1 ORDER BY sort_order, created_at`, galleryID)
}

func (r *PostgresRepository) ListLive(ctx context.Context, userID, provider string) ([]*models.FileRecord, error) {
	return r.list(ctx, `SELECT `+selectColumns+` FROM file_records
		WHERE user_id = $1 AND provider = $2 AND deleted_at IS NULL`, userID, provider)
}

func (r *PostgresRepository) ListDeletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.FileRecord, error) {
	return r.list(ctx, `SELECT `+selectColumns+` FROM file_records
		WHERE deleted_at IS NOT NULL AND deleted_at < $1
		ORDER BY deleted_at LIMIT $2`, cutoff, limit)
}

func (r *PostgresRepository) Update(ctx context.Context, f *models.FileRecord) error {
	tags, err := encodeTags(f.Tags)
	if err != nil {
		return err
	}
	query := `
		UPDATE file_records
		SET gallery_id = $3, provider_path = $4, name = $5, tags = $6, sort_order = $7, visible = $8,
			deleted_at = $9, delete_origin = $10, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at
	`
	err = r.db.QueryRowContext(ctx, query, f.ID, f.Version, f.GalleryID, f.ProviderPath, f.Name, tags,
		f.SortOrder, f.Visible, nullTime(f.DeletedAt), f.DeleteOrigin).
		Scan(&f.Version, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.ErrVersionConflict
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM file_records WHERE id = $1`, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
