package syncer

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/dbx"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
	"github.com/dmitrijs2005/gophsync/internal/server/providers"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/repomanager"
)

// tree is the tracked folder hierarchy of one (user, provider) as known to
// a run. It starts from the stored rows and picks up mappings created while
// the run is in progress.
type tree struct {
	repos  repomanager.RepositoryManager
	userID string
	kind   providers.Kind

	root     *models.RootFolder
	mappings map[string]*models.FolderMapping
}

func loadTree(ctx context.Context, repos repomanager.RepositoryManager, userID string, kind providers.Kind) (*tree, error) {
	t := &tree{
		repos:    repos,
		userID:   userID,
		kind:     kind,
		mappings: map[string]*models.FolderMapping{},
	}
	rf, err := repos.RootFolders(repos.DB()).Get(ctx, userID, string(kind))
	switch {
	case err == nil:
		t.root = rf
	case !errors.Is(err, common.ErrorNotFound):
		return nil, err
	}
	list, err := repos.FolderMappings(repos.DB()).ListByUser(ctx, userID, string(kind))
	if err != nil {
		return nil, err
	}
	for _, m := range list {
		t.mappings[m.FolderID] = m
	}
	return t, nil
}

func samePath(a, b string) bool {
	return a != "" && b != "" && strings.EqualFold(path.Clean(a), path.Clean(b))
}

// isRoot reports whether the item identified by id or p is the root folder.
func (t *tree) isRoot(id, p string) bool {
	if t.root == nil {
		return false
	}
	if id != "" {
		return id == t.root.FolderID
	}
	return samePath(p, t.root.FolderPath)
}

// mapping finds the mapping of a folder by id, asking the store when the
// folder is unknown to the run, or by path when the provider gave no id.
func (t *tree) mapping(ctx context.Context, tx dbx.DBTX, id, p string) (*models.FolderMapping, error) {
	if id == "" {
		for _, m := range t.mappings {
			if samePath(p, m.FolderPath) {
				return m, nil
			}
		}
		return nil, nil
	}
	if m, ok := t.mappings[id]; ok {
		return m, nil
	}
	m, err := t.repos.FolderMappings(tx).FindByFolderID(ctx, string(t.kind), id)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if m.UserID != t.userID {
		return nil, nil
	}
	t.mappings[m.FolderID] = m
	return m, nil
}

// parentOf resolves the folder an item sits in: the item's ParentID, or the
// folder at the item's directory path. It returns the mapping when the
// parent is a gallery folder and reports whether the parent is the root.
func (t *tree) parentOf(ctx context.Context, tx dbx.DBTX, it *providers.Item) (*models.FolderMapping, bool, error) {
	if it.ParentID != "" {
		if t.isRoot(it.ParentID, "") {
			return nil, true, nil
		}
		m, err := t.mapping(ctx, tx, it.ParentID, "")
		return m, false, err
	}
	if it.Path == "" {
		return nil, false, nil
	}
	dir := path.Dir(it.Path)
	if t.isRoot("", dir) {
		return nil, true, nil
	}
	m, err := t.mapping(ctx, tx, "", dir)
	return m, false, err
}

// parentFolderID is the folder id of an item's parent as far as the run
// can tell, empty when the parent is not tracked.
func (t *tree) parentFolderID(ctx context.Context, tx dbx.DBTX, it *providers.Item) (string, error) {
	m, atRoot, err := t.parentOf(ctx, tx, it)
	switch {
	case err != nil:
		return "", err
	case atRoot:
		return t.root.FolderID, nil
	case m != nil:
		return m.FolderID, nil
	case it.ParentID != "":
		return it.ParentID, nil
	}
	return "", nil
}

// subtree returns m and every mapping below it, parents first.
func (t *tree) subtree(m *models.FolderMapping) []*models.FolderMapping {
	out := []*models.FolderMapping{m}
	for i := 0; i < len(out); i++ {
		for _, c := range t.mappings {
			if c.ParentFolderID == out[i].FolderID {
				out = append(out, c)
			}
		}
	}
	return out
}

// all returns every tracked mapping.
func (t *tree) all() []*models.FolderMapping {
	out := make([]*models.FolderMapping, 0, len(t.mappings))
	for _, m := range t.mappings {
		out = append(out, m)
	}
	return out
}

func (t *tree) drop(m *models.FolderMapping) {
	delete(t.mappings, m.FolderID)
}

// rebase rewrites the stored paths of m's subtree after m moved from old to
// m.FolderPath.
func (t *tree) rebase(m *models.FolderMapping, old string) []*models.FolderMapping {
	var changed []*models.FolderMapping
	for _, c := range t.subtree(m)[1:] {
		if rest, ok := cutPathPrefix(c.FolderPath, old); ok {
			c.FolderPath = m.FolderPath + rest
			changed = append(changed, c)
		}
	}
	return changed
}

func cutPathPrefix(p, prefix string) (string, bool) {
	if len(p) <= len(prefix) || !strings.EqualFold(p[:len(prefix)], prefix) || p[len(prefix)] != '/' {
		return "", false
	}
	return p[len(prefix):], true
}
