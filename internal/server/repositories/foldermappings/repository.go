// Package foldermappings declares the repository contract for the
// gallery-to-provider-folder mapping tree.
package foldermappings

import (
	"context"

	"github.com/dmitrijs2005/gophsync/internal/server/models"
)

type Repository interface {
	Get(ctx context.Context, galleryID, provider string) (*models.FolderMapping, error)

	// Create returns common.ErrAlreadyExists when the gallery is already mapped.
	Create(ctx context.Context, m *models.FolderMapping) error

	// Delete removes the mapping only if it still points at folderID.
	Delete(ctx context.Context, galleryID, provider, folderID string) error

	FindByFolderID(ctx context.Context, provider, folderID string) (*models.FolderMapping, error)
	FindByPath(ctx context.Context, userID, provider, folderPath string) (*models.FolderMapping, error)
	ListByUser(ctx context.Context, userID, provider string) ([]*models.FolderMapping, error)

	UpdatePath(ctx context.Context, galleryID, provider, folderPath string) error
}
