// Package galleries reads the application's gallery tree.
package galleries

import (
	"context"

	"github.com/dmitrijs2005/gophsync/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, g *models.Gallery) error
	Get(ctx context.Context, id string) (*models.Gallery, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Gallery, error)
}
