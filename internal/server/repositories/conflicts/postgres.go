package conflicts

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

const selectColumns = `id, user_id, provider, kind, item_id, gallery_id, file_id, detail, status, resolution, created_at, resolved_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanConflict(s scanner) (*models.SyncConflict, error) {
	c := &models.SyncConflict{}
	var kind, status string
	var resolved sql.NullTime
	if err := s.Scan(&c.ID, &c.UserID, &c.Provider, &kind, &c.ItemID, &c.GalleryID, &c.FileID, &c.Detail,
		&status, &c.Resolution, &c.CreatedAt, &resolved); err != nil {
		return nil, err
	}
	c.Kind = models.ConflictKind(kind)
	c.Status = models.ConflictStatus(status)
	if resolved.Valid {
		t := resolved.Time
		c.ResolvedAt = &t
	}
	return c, nil
}

func (r *PostgresRepository) Create(ctx context.Context, c *models.SyncConflict) (bool, error) {
	query := `
		INSERT INTO sync_conflicts (id, user_id, provider, kind, item_id, gallery_id, file_id, detail, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'open')
		ON CONFLICT (user_id, provider, kind, item_id) WHERE status = 'open' DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query, c.ID, c.UserID, c.Provider, string(c.Kind), c.ItemID, c.GalleryID, c.FileID, c.Detail)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.SyncConflict, error) {
	c, err := scanConflict(r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM sync_conflicts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

func (r *PostgresRepository) List(ctx context.Context, userID string, status models.ConflictStatus) ([]*models.SyncConflict, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM sync_conflicts
		WHERE ($1 = '' OR user_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID, string(status))
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.SyncConflict
	for rows.Next() {
		c, err := scanConflict(rows)
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

func (r *PostgresRepository) Resolve(ctx context.Context, id, resolution string) error {
	query := `
		UPDATE sync_conflicts
		SET status = 'resolved', resolution = $2, resolved_at = now()
		WHERE id = $1 AND status = 'open'
	`
	res, err := r.db.ExecContext(ctx, query, id, resolution)
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
