package memory

import (
	"context"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
)

type rootRepo struct{ m *Manager }

func (r *rootRepo) Get(ctx context.Context, userID, provider string) (*models.RootFolder, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	rf, ok := r.m.t.roots[pair{userID, provider}]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &rf, nil
}

func (r *rootRepo) Create(ctx context.Context, rf *models.RootFolder) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	key := pair{rf.UserID, rf.Provider}
	if _, ok := r.m.t.roots[key]; ok {
		return common.ErrAlreadyExists
	}
	stored := *rf
	stored.CreatedAt = r.m.now()
	r.m.t.roots[key] = stored
	rf.CreatedAt = stored.CreatedAt
	return nil
}

func (r *rootRepo) Delete(ctx context.Context, userID, provider, folderID string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	key := pair{userID, provider}
	if rf, ok := r.m.t.roots[key]; ok && rf.FolderID == folderID {
		delete(r.m.t.roots, key)
	}
	return nil
}

func (r *rootRepo) FindByFolderID(ctx context.Context, provider, folderID string) (*models.RootFolder, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, rf := range r.m.t.roots {
		if rf.Provider == provider && rf.FolderID == folderID {
			return &rf, nil
		}
	}
	return nil, common.ErrorNotFound
}

type mappingRepo struct{ m *Manager }

func (r *mappingRepo) Get(ctx context.Context, galleryID, provider string) (*models.FolderMapping, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	fm, ok := r.m.t.mappings[pair{galleryID, provider}]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &fm, nil
}

func (r *mappingRepo) Create(ctx context.Context, fm *models.FolderMapping) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	key := pair{fm.GalleryID, fm.Provider}
	if _, ok := r.m.t.mappings[key]; ok {
		return common.ErrAlreadyExists
	}
	stored := *fm
	stored.CreatedAt = r.m.now()
	r.m.t.mappings[key] = stored
	fm.CreatedAt = stored.CreatedAt
	return nil
}

func (r *mappingRepo) Delete(ctx context.Context, galleryID, provider, folderID string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	key := pair{galleryID, provider}
	if fm, ok := r.m.t.mappings[key]; ok && fm.FolderID == folderID {
		delete(r.m.t.mappings, key)
	}
	return nil
}

func (r *mappingRepo) find(keep func(models.FolderMapping) bool) (*models.FolderMapping, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, fm := range r.m.t.mappings {
		if keep(fm) {
			return &fm, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *mappingRepo) FindByFolderID(ctx context.Context, provider, folderID string) (*models.FolderMapping, error) {
	return r.find(func(fm models.FolderMapping) bool { return fm.Provider == provider && fm.FolderID == folderID })
}

func (r *mappingRepo) FindByPath(ctx context.Context, userID, provider, folderPath string) (*models.FolderMapping, error) {
	return r.find(func(fm models.FolderMapping) bool {
		return fm.UserID == userID && fm.Provider == provider && fm.FolderPath == folderPath
	})
}

func (r *mappingRepo) ListByUser(ctx context.Context, userID, provider string) ([]*models.FolderMapping, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.FolderMapping
	for _, fm := range r.m.t.mappings {
		if fm.UserID == userID && fm.Provider == provider {
			fm := fm
			out = append(out, &fm)
		}
	}
	return out, nil
}

func (r *mappingRepo) UpdatePath(ctx context.Context, galleryID, provider, folderPath string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	key := pair{galleryID, provider}
	if fm, ok := r.m.t.mappings[key]; ok {
		fm.FolderPath = folderPath
		r.m.t.mappings[key] = fm
	}
	return nil
}
