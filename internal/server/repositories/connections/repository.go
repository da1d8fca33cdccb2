// Package connections declares the repository contract for storage
// connections (one per user and provider).
package connections

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/server/models"
)

// Repository persists StorageConnection rows. Only the token manager writes
// through it.
type Repository interface {
	// Upsert creates the connection or replaces the credentials of the existing
	// one for (user, provider), marking it active. The stored row is returned.
	Upsert(ctx context.Context, c *models.StorageConnection) (*models.StorageConnection, error)

	Get(ctx context.Context, id string) (*models.StorageConnection, error)
	GetByUserProvider(ctx context.Context, userID, provider string) (*models.StorageConnection, error)
	ListByUser(ctx context.Context, userID string) ([]*models.StorageConnection, error)
	ListActive(ctx context.Context) ([]*models.StorageConnection, error)

	// UpdateTokens stores refreshed credentials.
	UpdateTokens(ctx context.Context, id string, accessEnc, refreshEnc []byte, expiresAt time.Time) error

	// MarkInvalid flips the connection to invalid and records why.
	MarkInvalid(ctx context.Context, id string, lastError string) error
}
