// Package files declares the repository contract for file records.
package files

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/server/models"
)

// Repository persists FileRecord rows. Writes from the upload orchestrator,
// the catalog and the sync service all go through Update, which is guarded
// by the row version.
type Repository interface {
	// Create inserts a new record; common.ErrAlreadyExists if the provider
	// file is already tracked.
	Create(ctx context.Context, f *models.FileRecord) error

	Get(ctx context.Context, id string) (*models.FileRecord, error)
	FindByProviderFileID(ctx context.Context, provider, providerFileID string) (*models.FileRecord, error)
	FindByProviderPath(ctx context.Context, userID, provider, providerPath string) (*models.FileRecord, error)

	// FindByChecksum looks for a live record of identical content and name in
	// a gallery.
	FindByChecksum(ctx context.Context, galleryID, provider, checksum, name string) (*models.FileRecord, error)

	// ListByGallery returns every record of the gallery, soft-deleted ones
	// included, ordered by sort order then creation time.
	ListByGallery(ctx context.Context, galleryID string) ([]*models.FileRecord, error)

	// ListLive returns the non-deleted records of a user on a provider.
	ListLive(ctx context.Context, userID, provider string) ([]*models.FileRecord, error)

	// ListDeletedBefore returns up to limit records soft-deleted before cutoff.
	ListDeletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.FileRecord, error)

	// Update writes all mutable fields if f.Version still matches the stored
	// version, then bumps f.Version and f.UpdatedAt. common.ErrVersionConflict
	// otherwise.
	Update(ctx context.Context, f *models.FileRecord) error

	// Delete hard-deletes a record. Only purge calls this.
	Delete(ctx context.Context, id string) error
}
