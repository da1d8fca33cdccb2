// Package syncstates persists the change cursor of each (user, provider).
package syncstates

import (
	"context"

	"github.com/dmitrijs2005/gophsync/internal/server/models"
)

type Repository interface {
	// Get returns common.ErrorNotFound before the first sync.
	Get(ctx context.Context, userID, provider string) (*models.SyncState, error)
	Save(ctx context.Context, s *models.SyncState) error
}
