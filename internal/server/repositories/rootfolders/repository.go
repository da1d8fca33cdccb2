// Package rootfolders declares the repository contract for per-user,
// per-provider root folders.
package rootfolders

import (
	"context"

	"github.com/dmitrijs2005/gophsync/internal/server/models"
)

type Repository interface {
	Get(ctx context.Context, userID, provider string) (*models.RootFolder, error)

	// Create inserts the row and returns common.ErrAlreadyExists when another
	// caller created it first.
	Create(ctx context.Context, rf *models.RootFolder) error

	// Delete removes the row only if it still points at folderID.
	Delete(ctx context.Context, userID, provider, folderID string) error

	FindByFolderID(ctx context.Context, provider, folderID string) (*models.RootFolder, error)
}
