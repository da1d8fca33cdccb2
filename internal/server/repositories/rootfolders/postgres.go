package rootfolders

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

func (r *PostgresRepository) scanOne(ctx context.Context, query string, args ...any) (*models.RootFolder, error) {
	rf := &models.RootFolder{}
	err := r.db.QueryRowContext(ctx, query, args...).
		Scan(&rf.UserID, &rf.Provider, &rf.FolderID, &rf.FolderPath, &rf.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rf, nil
}

func (r *PostgresRepository) Get(ctx context.Context, userID, provider string) (*models.RootFolder, error) {
	query := `
		SELECT user_id, provider, folder_id, folder_path, created_at
		FROM root_folders
		WHERE user_id = $1 AND provider = $2
	`
	return r.scanOne(ctx, query, userID, provider)
}

func (r *PostgresRepository) FindByFolderID(ctx context.Context, provider, folderID string) (*models.RootFolder, error) {
	query := `
		SELECT user_id, provider, folder_id, folder_path, created_at
		FROM root_folders
		WHERE provider = $1 AND folder_id = $2
	`
	return r.scanOne(ctx, query, provider, folderID)
}

func (r *PostgresRepository) Create(ctx context.Context, rf *models.RootFolder) error {
	query := `
		INSERT INTO root_folders (user_id, provider, folder_id, folder_path)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, provider) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query, rf.UserID, rf.Provider, rf.FolderID, rf.FolderPath)
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

func (r *PostgresRepository) Delete(ctx context.Context, userID, provider, folderID string) error {
	query := `
		DELETE FROM root_folders
		WHERE user_id = $1 AND provider = $2 AND folder_id = $3
	`
	if _, err := r.db.ExecContext(ctx, query, userID, provider, folderID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
