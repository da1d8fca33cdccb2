package galleries

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

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *PostgresRepository) Create(ctx context.Context, g *models.Gallery) error {
	query := `
		INSERT INTO galleries (id, user_id, parent_id, name)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`
	if err := r.db.QueryRowContext(ctx, query, g.ID, g.UserID, nullString(g.ParentID), g.Name).Scan(&g.CreatedAt); err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Gallery, error) {
	query := `
		SELECT id, user_id, parent_id, name, created_at
		FROM galleries
		WHERE id = $1
	`
	g := &models.Gallery{}
	var parent sql.NullString
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&g.ID, &g.UserID, &parent, &g.Name, &g.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	g.ParentID = parent.String
	return g, nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*models.Gallery, error) {
	query := `
		SELECT id, user_id, parent_id, name, created_at
		FROM galleries
		WHERE user_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Gallery
	for rows.Next() {
		g := &models.Gallery{}
		var parent sql.NullString
		if err := rows.Scan(&g.ID, &g.UserID, &parent, &g.Name, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		g.ParentID = parent.String
		result = append(result, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}
