// Package conflicts stores sync conflicts awaiting manual resolution.
package conflicts

import (
	"context"

	"github.com/dmitrijs2005/gophsync/internal/server/models"
)

type Repository interface {
	// Create records c unless an open conflict of the same kind already
	// exists for the item. It reports whether a row was inserted.
	Create(ctx context.Context, c *models.SyncConflict) (bool, error)

	Get(ctx context.Context, id string) (*models.SyncConflict, error)

	// List returns conflicts filtered by user (empty = all) and status
	// (empty = any), newest first.
	List(ctx context.Context, userID string, status models.ConflictStatus) ([]*models.SyncConflict, error)

	// Resolve closes an open conflict; common.ErrorNotFound if none is open.
	Resolve(ctx context.Context, id, resolution string) error
}
