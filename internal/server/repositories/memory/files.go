package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
)

type fileRepo struct{ m *Manager }

func copyFile(f models.FileRecord) *models.FileRecord {
	f.Tags = slices.Clone(f.Tags)
	if f.DeletedAt != nil {
		t := *f.DeletedAt
		f.DeletedAt = &t
	}
	return &f
}

func (r *fileRepo) Create(ctx context.Context, f *models.FileRecord) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.t.files[f.ID]; ok {
		return common.ErrAlreadyExists
	}
	for _, existing := range r.m.t.files {
		if existing.Provider == f.Provider && existing.ProviderFileID == f.ProviderFileID {
			return common.ErrAlreadyExists
		}
	}
	now := r.m.now()
	f.Version = 1
	f.CreatedAt = now
	f.UpdatedAt = now
	r.m.t.files[f.ID] = *copyFile(*f)
	return nil
}

func (r *fileRepo) Get(ctx context.Context, id string) (*models.FileRecord, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	f, ok := r.m.t.files[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return copyFile(f), nil
}

func (r *fileRepo) find(keep func(models.FileRecord) bool) (*models.FileRecord, error) {
	list := r.filter(keep)
	if len(list) == 0 {
		return nil, common.ErrorNotFound
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].UpdatedAt.After(list[j].UpdatedAt) })
	return list[0], nil
}

func (r *fileRepo) filter(keep func(models.FileRecord) bool) []*models.FileRecord {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.FileRecord
	for _, f := range r.m.t.files {
		if keep(f) {
			out = append(out, copyFile(f))
		}
	}
	return out
}

func (r *fileRepo) FindByProviderFileID(ctx context.Context, provider, providerFileID string) (*models.FileRecord, error) {
	return r.find(func(f models.FileRecord) bool {
		return f.Provider == provider && f.ProviderFileID == providerFileID
	})
}

func (r *fileRepo) FindByProviderPath(ctx context.Context, userID, provider, providerPath string) (*models.FileRecord, error) {
	return r.find(func(f models.FileRecord) bool {
		return f.UserID == userID && f.Provider == provider && f.ProviderPath == providerPath && f.DeletedAt == nil
	})
}

func (r *fileRepo) FindByChecksum(ctx context.Context, galleryID, provider, checksum, name string) (*models.FileRecord, error) {
	return r.find(func(f models.FileRecord) bool {
		return f.GalleryID == galleryID && f.Provider == provider && f.Checksum == checksum &&
			f.Name == name && f.DeletedAt == nil
	})
}

func (r *fileRepo) ListByGallery(ctx context.Context, galleryID string) ([]*models.FileRecord, error) {
	out := r.filter(func(f models.FileRecord) bool { return f.GalleryID == galleryID })
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *fileRepo) ListLive(ctx context.Context, userID, provider string) ([]*models.FileRecord, error) {
	return r.filter(func(f models.FileRecord) bool {
		return f.UserID == userID && f.Provider == provider && f.DeletedAt == nil
	}), nil
}

func (r *fileRepo) ListDeletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.FileRecord, error) {
	out := r.filter(func(f models.FileRecord) bool { return f.DeletedAt != nil && f.DeletedAt.Before(cutoff) })
	sort.Slice(out, func(i, j int) bool { return out[i].DeletedAt.Before(*out[j].DeletedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fileRepo) Update(ctx context.Context, f *models.FileRecord) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	stored, ok := r.m.t.files[f.ID]
	if !ok || stored.Version != f.Version {
		return common.ErrVersionConflict
	}
	stored.GalleryID = f.GalleryID
	stored.ProviderPath = f.ProviderPath
	stored.Name = f.Name
	stored.Tags = slices.Clone(f.Tags)
	stored.SortOrder = f.SortOrder
	stored.Visible = f.Visible
	stored.DeletedAt = nil
	if f.DeletedAt != nil {
		t := *f.DeletedAt
		stored.DeletedAt = &t
	}
	stored.DeleteOrigin = f.DeleteOrigin
	stored.Version++
	stored.UpdatedAt = r.m.now()
	r.m.t.files[f.ID] = stored

	f.Version = stored.Version
	f.UpdatedAt = stored.UpdatedAt
	return nil
}

func (r *fileRepo) Delete(ctx context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	delete(r.m.t.files, id)
	return nil
}
