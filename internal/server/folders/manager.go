// Package folders maintains the provider-side folder tree that mirrors the
// gallery hierarchy: one root folder per (user, provider) and one folder per
// gallery below it.
package folders

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/keylock"
	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/dmitrijs2005/gophsync/internal/server/cache"
	"github.com/dmitrijs2005/gophsync/internal/server/connector"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
	"github.com/dmitrijs2005/gophsync/internal/server/providers"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/repomanager"
)

// Caller runs provider work; *connector.Connector implements it.
type Caller interface {
	Do(ctx context.Context, userID string, kind providers.Kind, op string, fn connector.Call) error
}

// GalleryIDLen is how many characters of the gallery id go into its folder
// name.
const GalleryIDLen = 8

type Manager struct {
	repos    repomanager.RepositoryManager
	calls    Caller
	cache    *cache.Cache
	locks    *keylock.Locker
	rootName string
	log      logging.Logger
}

func New(repos repomanager.RepositoryManager, calls Caller, c *cache.Cache, rootName string, log logging.Logger) *Manager {
	return &Manager{
		repos:    repos,
		calls:    calls,
		cache:    c,
		locks:    keylock.New(),
		rootName: rootName,
		log:      log.With("module", "folders"),
	}
}

// FolderName is the provider folder name of a gallery. The id prefix keeps
// same-named sibling galleries in separate folders.
func FolderName(g *models.Gallery) string {
	return fmt.Sprintf("%s (%s)", g.Name, common.ShortID(g.ID, GalleryIDLen))
}

// EnsureRootFolder returns the user's root folder on kind, creating it when
// it was never created or no longer exists remotely.
func (m *Manager) EnsureRootFolder(ctx context.Context, userID string, kind providers.Kind) (*models.RootFolder, error) {
	unlock, err := m.locks.Lock(ctx, "root:"+userID+":"+string(kind))
	if err != nil {
		return nil, err
	}
	defer unlock()

	repo := m.repos.RootFolders(m.repos.DB())
	rf, err := repo.Get(ctx, userID, string(kind))
	switch {
	case err == nil:
		ok, err := m.verify(ctx, userID, kind, rf.FolderID)
		if err != nil {
			return nil, err
		}
		if ok {
			return rf, nil
		}
		m.log.Warn(ctx, "root folder missing remotely, recreating", "user_id", userID, "provider", kind)
		if err := m.ForgetRoot(ctx, userID, kind, rf.FolderID); err != nil {
			return nil, err
		}
	case !errors.Is(err, common.ErrorNotFound):
		return nil, err
	}

	item, err := m.create(ctx, userID, kind, "", m.rootName)
	if err != nil {
		return nil, err
	}
	rf = &models.RootFolder{
		UserID:     userID,
		Provider:   string(kind),
		FolderID:   item.ID,
		FolderPath: folderPath(item, "", m.rootName),
	}
	if err := repo.Create(ctx, rf); err != nil {
		if errors.Is(err, common.ErrAlreadyExists) {
			// another engine instance won the race: use its row
			return repo.Get(ctx, userID, string(kind))
		}
		return nil, err
	}
	m.cache.MarkFolderVerified(ctx, kind, rf.FolderID)
	m.log.Info(ctx, "root folder created", "user_id", userID, "provider", kind)
	return rf, nil
}

// EnsureGalleryFolder returns the folder mapping of a gallery, creating its
// ancestors first. Mappings whose folder vanished or whose parent folder no
// longer matches the parent gallery's folder are recreated.
func (m *Manager) EnsureGalleryFolder(ctx context.Context, userID, galleryID string, kind providers.Kind) (*models.FolderMapping, error) {
	g, err := m.repos.Galleries(m.repos.DB()).Get(ctx, galleryID)
	if err != nil {
		return nil, err
	}
	if g.UserID != userID {
		return nil, common.ErrorNotFound
	}

	var parentID, parentPath string
	if g.ParentID == "" {
		rf, err := m.EnsureRootFolder(ctx, userID, kind)
		if err != nil {
			return nil, err
		}
		parentID, parentPath = rf.FolderID, rf.FolderPath
	} else {
		pm, err := m.EnsureGalleryFolder(ctx, userID, g.ParentID, kind)
		if err != nil {
			return nil, err
		}
		parentID, parentPath = pm.FolderID, pm.FolderPath
	}

	unlock, err := m.locks.Lock(ctx, "gallery:"+galleryID+":"+string(kind))
	if err != nil {
		return nil, err
	}
	defer unlock()

	repo := m.repos.FolderMappings(m.repos.DB())
	fm, err := repo.Get(ctx, galleryID, string(kind))
	switch {
	case err == nil:
		ok := fm.ParentFolderID == parentID
		if ok {
			if ok, err = m.verify(ctx, userID, kind, fm.FolderID); err != nil {
				return nil, err
			}
		}
		if ok {
			return fm, nil
		}
		m.log.Warn(ctx, "gallery folder stale, recreating", "user_id", userID, "provider", kind, "gallery_id", galleryID)
		if err := m.ForgetGallery(ctx, galleryID, kind, fm.FolderID); err != nil {
			return nil, err
		}
	case !errors.Is(err, common.ErrorNotFound):
		return nil, err
	}

	name := FolderName(g)
	item, err := m.create(ctx, userID, kind, parentID, name)
	if err != nil {
		return nil, err
	}
	fm = &models.FolderMapping{
		GalleryID:      galleryID,
		Provider:       string(kind),
		UserID:         userID,
		FolderID:       item.ID,
		ParentFolderID: parentID,
		FolderPath:     folderPath(item, parentPath, name),
	}
	if err := repo.Create(ctx, fm); err != nil {
		if errors.Is(err, common.ErrAlreadyExists) {
			return repo.Get(ctx, galleryID, string(kind))
		}
		return nil, err
	}
	m.cache.MarkFolderVerified(ctx, kind, fm.FolderID)
	return fm, nil
}

// ForgetRoot drops the root folder row if it still points at folderID. The
// next EnsureRootFolder creates a new folder.
func (m *Manager) ForgetRoot(ctx context.Context, userID string, kind providers.Kind, folderID string) error {
	m.cache.ForgetFolder(ctx, kind, folderID)
	return m.repos.RootFolders(m.repos.DB()).Delete(ctx, userID, string(kind), folderID)
}

// ForgetGallery drops a gallery mapping if it still points at folderID.
func (m *Manager) ForgetGallery(ctx context.Context, galleryID string, kind providers.Kind, folderID string) error {
	m.cache.ForgetFolder(ctx, kind, folderID)
	return m.repos.FolderMappings(m.repos.DB()).Delete(ctx, galleryID, string(kind), folderID)
}

// verify reports whether folderID still exists as a folder. Positive answers
// are cached briefly.
func (m *Manager) verify(ctx context.Context, userID string, kind providers.Kind, folderID string) (bool, error) {
	if m.cache.FolderVerified(ctx, kind, folderID) {
		return true, nil
	}
	var item *providers.Item
	err := m.calls.Do(ctx, userID, kind, "stat", func(ctx context.Context, p providers.Provider) error {
		var err error
		item, err = p.Stat(ctx, folderID)
		return err
	})
	if errors.Is(err, common.ErrorNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !item.IsFolder {
		return false, nil
	}
	m.cache.MarkFolderVerified(ctx, kind, folderID)
	return true, nil
}

func (m *Manager) create(ctx context.Context, userID string, kind providers.Kind, parentID, name string) (*providers.Item, error) {
	var item *providers.Item
	err := m.calls.Do(ctx, userID, kind, "create_folder", func(ctx context.Context, p providers.Provider) error {
		var err error
		item, err = p.CreateFolder(ctx, parentID, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// folderPath prefers the provider's own path; ID-only providers get one
// built from the parent.
func folderPath(item *providers.Item, parentPath, name string) string {
	if item.Path != "" {
		return item.Path
	}
	return path.Join("/", parentPath, name)
}
