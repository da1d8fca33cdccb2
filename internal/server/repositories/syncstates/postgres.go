package syncstates

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

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, userID, provider string) (*models.SyncState, error) {
	query := `
		SELECT user_id, provider, cursor, last_sync_at, last_full_sync_at
		FROM sync_states
		WHERE user_id = $1 AND provider = $2
	`
	s := &models.SyncState{}
	var last, lastFull sql.NullTime
	err := r.db.QueryRowContext(ctx, query, userID, provider).Scan(&s.UserID, &s.Provider, &s.Cursor, &last, &lastFull)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	s.LastSyncAt = last.Time
	s.LastFullSyncAt = lastFull.Time
	return s, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func (r *PostgresRepository) Save(ctx context.Context, s *models.SyncState) error {
	query := `
		INSERT INTO sync_states (user_id, provider, cursor, last_sync_at, last_full_sync_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, provider) DO UPDATE
		SET cursor = EXCLUDED.cursor,
			last_sync_at = EXCLUDED.last_sync_at,
			last_full_sync_at = COALESCE(EXCLUDED.last_full_sync_at, sync_states.last_full_sync_at)
	`
	if _, err := r.db.ExecContext(ctx, query, s.UserID, s.Provider, s.Cursor, nullTime(s.LastSyncAt), nullTime(s.LastFullSyncAt)); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
