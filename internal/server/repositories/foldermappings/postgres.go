package foldermappings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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

const selectColumns = `gallery_id, provider, user_id, folder_id, parent_folder_id, folder_path, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanMapping(s scanner) (*models.FolderMapping, error) {
	m := &models.FolderMapping{}
	err := s.Scan(&m.GalleryID, &m.Provider, &m.UserID, &m.FolderID, &m.ParentFolderID, &m.FolderPath, &m.CreatedAt)
	return m, err
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, args ...any) (*models.FolderMapping, error) {
	m, err := scanMapping(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return m, nil
}

func (r *PostgresRepository) Get(ctx context.Context, galleryID, provider string) (*models.FolderMapping, error) {
	return r.getOne(ctx, `SELECT `+selectColumns+` FROM folder_mappings WHERE gallery_id = $1 AND provider = $2`, galleryID, provider)
}

func (r *PostgresRepository) FindByFolderID(ctx context.Context, provider, folderID string) (*models.FolderMapping, error) {
	return r.getOne(ctx, `SELECT `+selectColumns+` FROM folder_mappings WHERE provider = $1 AND folder_id = $2`, provider, folderID)
}

func (r *PostgresRepository) FindByPath(ctx context.Context, userID, provider, folderPath string) (*models.FolderMapping, error) {
	return r.getOne(ctx, `SELECT `+selectColumns+` FROM folder_mappings WHERE user_id = $1 AND provider = $2 AND folder_path = $3`, userID, provider, folderPath)
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID, provider string) ([]*models.FolderMapping, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM folder_mappings WHERE user_id = $1 AND provider = $2`, userID, provider)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.FolderMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) Create(ctx context.Context, m *models.FolderMapping) error {
	query := `
		INSERT INTO folder_mappings (gallery_id, provider, user_id, folder_id, parent_folder_id, folder_path)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (gallery_id, provider) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query, m.GalleryID, m.Provider, m.UserID, m.FolderID, m.ParentFolderID, m.FolderPath)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrAlreadyExists
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, galleryID, provider, folderID string) error {
	query := `
		DELETE FROM folder_mappings
		WHERE gallery_id = $1 AND provider = $2 AND folder_id = $3
	`
	if _, err := r.db.ExecContext(ctx, query, galleryID, provider, folderID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdatePath(ctx context.Context, galleryID, provider, folderPath string) error {
	query := `
		UPDATE folder_mappings
		SET folder_path = $3
		WHERE gallery_id = $1 AND provider = $2
	`
	if _, err := r.db.ExecContext(ctx, query, galleryID, provider, folderPath); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
