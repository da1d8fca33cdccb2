package connections

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/dbx"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
)

// PostgresRepository implements Repository over dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `id, user_id, provider, access_token_enc, refresh_token_enc, expires_at, status, last_error, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanConnection(s scanner) (*models.StorageConnection, error) {
	c := &models.StorageConnection{}
	var expires sql.NullTime
	var status string
	if err := s.Scan(&c.ID, &c.UserID, &c.Provider, &c.AccessTokenEnc, &c.RefreshTokenEnc,
		&expires, &status, &c.LastError, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if expires.Valid {
		c.ExpiresAt = expires.Time
	}
	c.Status = models.ConnectionStatus(status)
	return c, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func (r *PostgresRepository) Upsert(ctx context.Context, c *models.StorageConnection) (*models.StorageConnection, error) {
	query := `
		INSERT INTO storage_connections (id, user_id, provider, access_token_enc, refresh_token_enc, expires_at, status, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, 'active', '')
		ON CONFLICT (user_id, provider) DO UPDATE
		SET access_token_enc = EXCLUDED.access_token_enc,
			refresh_token_enc = EXCLUDED.refresh_token_enc,
			expires_at = EXCLUDED.expires_at,
			status = 'active',
			last_error = '',
			updated_at = now()
		RETURNING ` + selectColumns

	row := r.db.QueryRowContext(ctx, query, c.ID, c.UserID, c.Provider, c.AccessTokenEnc, c.RefreshTokenEnc, nullTime(c.ExpiresAt))
	stored, err := scanConnection(row)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return stored, nil
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, args ...any) (*models.StorageConnection, error) {
	c, err := scanConnection(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.StorageConnection, error) {
	return r.getOne(ctx, `SELECT `+selectColumns+` FROM storage_connections WHERE id = $1`, id)
}

func (r *PostgresRepository) GetByUserProvider(ctx context.Context, userID, provider string) (*models.StorageConnection, error) {
	return r.getOne(ctx, `SELECT `+selectColumns+` FROM storage_connections WHERE user_id = $1 AND provider = $2`, userID, provider)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.StorageConnection, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.StorageConnection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*models.StorageConnection, error) {
	return r.list(ctx, `SELECT `+selectColumns+` FROM storage_connections WHERE user_id = $1 ORDER BY provider`, userID)
}

func (r *PostgresRepository) ListActive(ctx context.Context) ([]*models.StorageConnection, error) {
	return r.list(ctx, `SELECT `+selectColumns+` FROM storage_connections WHERE status = 'active' ORDER BY user_id, provider`)
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) UpdateTokens(ctx context.Context, id string, accessEnc, refreshEnc []byte, expiresAt time.Time) error {
	query := `
		UPDATE storage_connections
		SET access_token_enc = $2, refresh_token_enc = $3, expires_at = $4, updated_at = now()
		WHERE id = $1 AND status = 'active'
	`
	return r.exec(ctx, query, id, accessEnc, refreshEnc, nullTime(expiresAt))
}

func (r *PostgresRepository) MarkInvalid(ctx context.Context, id string, lastError string) error {
	query := `
		UPDATE storage_connections
		SET status = 'invalid', last_error = $2, updated_at = now()
		WHERE id = $1
	`
	return r.exec(ctx, query, id, lastError)
}
