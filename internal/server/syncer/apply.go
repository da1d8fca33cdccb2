package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/dbx"
	"github.com/dmitrijs2005/gophsync/internal/server/audit"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
	"github.com/dmitrijs2005/gophsync/internal/server/providers"
	"github.com/google/uuid"
)

const maxWriteAttempts = 5

var errUnchanged = errors.New("unchanged")

func (r *run) apply(ctx context.Context, tx dbx.DBTX, ch providers.Change) error {
	if ch.Removed || ch.Item == nil {
		return r.removed(ctx, tx, ch)
	}
	if r.seen != nil {
		r.seen[ch.Item.ID] = true
	}
	if ch.Item.IsFolder {
		return r.folder(ctx, tx, ch.Item)
	}
	return r.file(ctx, tx, ch.Item)
}

// findFile returns the user's record of a provider file, by id or, for
// providers that report deletions by path only, by path. nil when the file
// is not tracked.
func (r *run) findFile(ctx context.Context, tx dbx.DBTX, id, p string) (*models.FileRecord, error) {
	repo := r.repos.Files(tx)
	var f *models.FileRecord
	var err error
	switch {
	case id != "":
		f, err = repo.FindByProviderFileID(ctx, string(r.kind), id)
	case p != "":
		f, err = repo.FindByProviderPath(ctx, r.userID, string(r.kind), p)
	default:
		return nil, nil
	}
	if errors.Is(err, common.ErrorNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if f.UserID != r.userID {
		return nil, nil
	}
	return f, nil
}

// mutate re-reads f and re-applies fn until the versioned write lands.
func (r *run) mutate(ctx context.Context, tx dbx.DBTX, f *models.FileRecord, fn func(f *models.FileRecord) error) (*models.FileRecord, error) {
	repo := r.repos.Files(tx)
	for range maxWriteAttempts {
		if err := fn(f); err != nil {
			return f, err
		}
		err := repo.Update(ctx, f)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, common.ErrVersionConflict) {
			return nil, err
		}
		if f, err = repo.Get(ctx, f.ID); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: file %s keeps changing", common.ErrVersionConflict, f.ID)
}

func (r *run) removed(ctx context.Context, tx dbx.DBTX, ch providers.Change) error {
	if r.tree.isRoot(ch.ItemID, ch.Path) {
		return r.rootDeleted(ctx, tx)
	}
	m, err := r.tree.mapping(ctx, tx, ch.ItemID, ch.Path)
	if err != nil {
		return err
	}
	if m != nil {
		return r.galleryDeleted(ctx, tx, m)
	}
	f, err := r.findFile(ctx, tx, ch.ItemID, ch.Path)
	if err != nil {
		return err
	}
	if f == nil {
		r.log.Debug(ctx, "untracked item removed", "item_id", ch.ItemID)
		return nil
	}
	return r.softDelete(ctx, tx, f)
}

// softDelete marks a file deleted remotely. A file already deleted keeps
// its original delete origin.
func (r *run) softDelete(ctx context.Context, tx dbx.DBTX, f *models.FileRecord) error {
	f, err := r.mutate(ctx, tx, f, func(f *models.FileRecord) error {
		if f.Deleted() {
			return errUnchanged
		}
		now := r.clock.Now()
		f.DeletedAt = &now
		f.DeleteOrigin = common.DeleteOriginRemote
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return nil
	}
	if err != nil {
		return err
	}
	r.res.Deleted++
	itemID, galleryID := f.ProviderFileID, f.GalleryID
	r.later(func(ctx context.Context) {
		r.cache.InvalidateGallery(ctx, galleryID)
		r.cache.InvalidateURL(ctx, r.kind, itemID)
	})
	r.record(audit.Entry{Action: audit.ActionRemoteDelete, FileID: f.ID})
	return nil
}

func (r *run) conflict(ctx context.Context, tx dbx.DBTX, c *models.SyncConflict) error {
	c.ID = uuid.NewString()
	c.UserID = r.userID
	c.Provider = string(r.kind)
	created, err := r.repos.Conflicts(tx).Create(ctx, c)
	if err != nil {
		return err
	}
	if created {
		r.res.Conflicts++
		r.log.Warn(ctx, "sync conflict", "kind", c.Kind, "gallery_id", c.GalleryID, "file_id", c.FileID)
		r.record(audit.Entry{
			Action: audit.ActionConflict,
			FileID: c.FileID,
			Fields: map[string]any{"kind": c.Kind, "conflict_id": c.ID, "gallery_id": c.GalleryID},
		})
	}
	return nil
}

// rootDeleted handles the removal of the root folder. Everything below it
// is gone as well; the next ensure recreates the tree.
func (r *run) rootDeleted(ctx context.Context, tx dbx.DBTX) error {
	rf := r.tree.root
	err := r.conflict(ctx, tx, &models.SyncConflict{
		Kind:   models.ConflictRootFolderDeleted,
		ItemID: rf.FolderID,
		Detail: fmt.Sprintf("root folder %q was deleted on the provider", rf.FolderPath),
	})
	if err != nil {
		return err
	}
	for _, m := range r.tree.all() {
		if err := r.forgetGallery(ctx, tx, m); err != nil {
			return err
		}
	}
	live, err := r.repos.Files(tx).ListLive(ctx, r.userID, string(r.kind))
	if err != nil {
		return err
	}
	for _, f := range live {
		if err := r.softDelete(ctx, tx, f); err != nil {
			return err
		}
	}
	if err := r.repos.RootFolders(tx).Delete(ctx, r.userID, string(r.kind), rf.FolderID); err != nil {
		return err
	}
	r.tree.root = nil
	r.later(func(ctx context.Context) { r.cache.ForgetFolder(ctx, r.kind, rf.FolderID) })
	return nil
}

// galleryDeleted handles the removal of a gallery folder and of the folders
// of its sub-galleries. Their files went with them.
func (r *run) galleryDeleted(ctx context.Context, tx dbx.DBTX, m *models.FolderMapping) error {
	for _, gone := range r.tree.subtree(m) {
		err := r.conflict(ctx, tx, &models.SyncConflict{
			Kind:      models.ConflictGalleryFolderDeleted,
			ItemID:    gone.FolderID,
			GalleryID: gone.GalleryID,
			Detail:    fmt.Sprintf("gallery folder %q was deleted on the provider", gone.FolderPath),
		})
		if err != nil {
			return err
		}
		if err := r.forgetGallery(ctx, tx, gone); err != nil {
			return err
		}
		list, err := r.repos.Files(tx).ListByGallery(ctx, gone.GalleryID)
		if err != nil {
			return err
		}
		for _, f := range list {
			if f.Provider != string(r.kind) || f.Deleted() {
				continue
			}
			if err := r.softDelete(ctx, tx, f); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *run) forgetGallery(ctx context.Context, tx dbx.DBTX, m *models.FolderMapping) error {
	if err := r.repos.FolderMappings(tx).Delete(ctx, m.GalleryID, string(r.kind), m.FolderID); err != nil {
		return err
	}
	r.tree.drop(m)
	folderID := m.FolderID
	r.later(func(ctx context.Context) { r.cache.ForgetFolder(ctx, r.kind, folderID) })
	return nil
}

// folder handles a folder that exists remotely. Only tracked gallery folders
// matter: a move is a conflict, a rename updates the stored path.
func (r *run) folder(ctx context.Context, tx dbx.DBTX, it *providers.Item) error {
	if r.tree.isRoot(it.ID, it.Path) {
		return nil
	}
	m, err := r.tree.mapping(ctx, tx, it.ID, it.Path)
	if err != nil {
		return err
	}
	if m == nil {
		r.res.Unmanaged++
		r.log.Debug(ctx, "unmanaged folder", "item_id", it.ID)
		return nil
	}

	parentID, err := r.tree.parentFolderID(ctx, tx, it)
	if err != nil {
		return err
	}
	if parentID != m.ParentFolderID {
		return r.conflict(ctx, tx, &models.SyncConflict{
			Kind:      models.ConflictGalleryFolderMoved,
			ItemID:    m.FolderID,
			GalleryID: m.GalleryID,
			Detail:    fmt.Sprintf("gallery folder %q was moved on the provider", m.FolderPath),
		})
	}

	if it.Path == "" || samePath(it.Path, m.FolderPath) {
		return nil
	}
	old := m.FolderPath
	m.FolderPath = it.Path
	repo := r.repos.FolderMappings(tx)
	for _, c := range append(r.tree.rebase(m, old), m) {
		if err := repo.UpdatePath(ctx, c.GalleryID, string(r.kind), c.FolderPath); err != nil {
			return err
		}
	}
	r.log.Info(ctx, "gallery folder renamed", "gallery_id", m.GalleryID)
	return nil
}

// file handles a file that exists remotely. Untracked files are never
// imported.
func (r *run) file(ctx context.Context, tx dbx.DBTX, it *providers.Item) error {
	f, err := r.findFile(ctx, tx, it.ID, "")
	if err != nil {
		return err
	}
	if f == nil {
		r.res.Unmanaged++
		r.log.Debug(ctx, "unmanaged file", "item_id", it.ID)
		return nil
	}
	if f.Deleted() && f.DeleteOrigin != common.DeleteOriginRemote {
		// deleted by the user and waiting for purge
		return nil
	}

	dest, atRoot, err := r.tree.parentOf(ctx, tx, it)
	if err != nil {
		return err
	}
	if dest == nil {
		if f.Deleted() {
			return nil
		}
		where := "outside the gallery tree"
		if atRoot {
			where = "to the root folder"
		}
		return r.conflict(ctx, tx, &models.SyncConflict{
			Kind:      models.ConflictFileMovedOutside,
			ItemID:    it.ID,
			GalleryID: f.GalleryID,
			FileID:    f.ID,
			Detail:    fmt.Sprintf("file %q was moved %s", f.Name, where),
		})
	}

	var restored bool
	var prevName, prevGallery string
	f, err = r.mutate(ctx, tx, f, func(f *models.FileRecord) error {
		restored, prevName, prevGallery = false, "", ""
		if f.Deleted() {
			if f.DeleteOrigin != common.DeleteOriginRemote {
				return errUnchanged
			}
			f.DeletedAt, f.DeleteOrigin = nil, ""
			restored = true
		}
		if it.Name != "" && it.Name != f.Name {
			prevName, f.Name = f.Name, it.Name
		}
		if dest.GalleryID != f.GalleryID {
			prevGallery, f.GalleryID = f.GalleryID, dest.GalleryID
		}
		pathChanged := it.Path != "" && it.Path != f.ProviderPath
		if pathChanged {
			f.ProviderPath = it.Path
		}
		if !restored && prevName == "" && prevGallery == "" && !pathChanged {
			return errUnchanged
		}
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return nil
	}
	if err != nil {
		return err
	}

	galleryID := f.GalleryID
	r.later(func(ctx context.Context) { r.cache.InvalidateGallery(ctx, galleryID) })
	if restored {
		r.res.Restored++
		r.record(audit.Entry{Action: audit.ActionRemoteRestore, FileID: f.ID})
	}
	if prevName != "" {
		r.res.Renamed++
		r.record(audit.Entry{
			Action: audit.ActionRemoteRename,
			FileID: f.ID,
			Fields: map[string]any{"from": prevName, "to": f.Name},
		})
	}
	if prevGallery != "" {
		r.res.Moved++
		r.later(func(ctx context.Context) { r.cache.InvalidateGallery(ctx, prevGallery) })
		r.record(audit.Entry{
			Action: audit.ActionRemoteMove,
			FileID: f.ID,
			Fields: map[string]any{"from_gallery": prevGallery, "to_gallery": f.GalleryID},
		})
	}
	return nil
}

// sweep runs after the last page of a full listing: tracked items the
// listing did not contain were deleted. Rows created after the listing
// started may legitimately be missing from it and are left alone.
func (r *run) sweep(ctx context.Context, tx dbx.DBTX) error {
	if rf := r.tree.root; rf != nil && !r.seen[rf.FolderID] && !rf.CreatedAt.After(r.started) {
		if err := r.rootDeleted(ctx, tx); err != nil {
			return err
		}
	}
	for _, m := range r.tree.all() {
		if _, tracked := r.tree.mappings[m.FolderID]; !tracked {
			// dropped along with an ancestor
			continue
		}
		if !r.seen[m.FolderID] && !m.CreatedAt.After(r.started) {
			if err := r.galleryDeleted(ctx, tx, m); err != nil {
				return err
			}
		}
	}
	live, err := r.repos.Files(tx).ListLive(ctx, r.userID, string(r.kind))
	if err != nil {
		return err
	}
	for _, f := range live {
		if !r.seen[f.ProviderFileID] && !f.CreatedAt.After(r.started) {
			if err := r.softDelete(ctx, tx, f); err != nil {
				return err
			}
		}
	}
	return nil
}
