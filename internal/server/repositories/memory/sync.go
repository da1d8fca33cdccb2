package memory

import (
	"context"
	"sort"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
)

type syncStateRepo struct{ m *Manager }

func (r *syncStateRepo) Get(ctx context.Context, userID, provider string) (*models.SyncState, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.t.syncStates[pair{userID, provider}]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &s, nil
}

func (r *syncStateRepo) Save(ctx context.Context, s *models.SyncState) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	key := pair{s.UserID, s.Provider}
	stored := *s
	if prev, ok := r.m.t.syncStates[key]; ok && stored.LastFullSyncAt.IsZero() {
		stored.LastFullSyncAt = prev.LastFullSyncAt
	}
	r.m.t.syncStates[key] = stored
	return nil
}

type conflictRepo struct{ m *Manager }

func conflictKey(c models.SyncConflict) [4]string {
	return [4]string{c.UserID, c.Provider, string(c.Kind), c.ItemID}
}

func (r *conflictRepo) Create(ctx context.Context, c *models.SyncConflict) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, existing := range r.m.t.conflicts {
		if existing.Status == models.ConflictOpen && conflictKey(existing) == conflictKey(*c) {
			return false, nil
		}
	}
	if _, ok := r.m.t.conflicts[c.ID]; ok {
		return false, common.ErrAlreadyExists
	}
	stored := *c
	stored.Status = models.ConflictOpen
	stored.CreatedAt = r.m.now()
	r.m.t.conflicts[c.ID] = stored
	c.Status = stored.Status
	c.CreatedAt = stored.CreatedAt
	return true, nil
}

func (r *conflictRepo) Get(ctx context.Context, id string) (*models.SyncConflict, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c, ok := r.m.t.conflicts[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &c, nil
}

func (r *conflictRepo) List(ctx context.Context, userID string, status models.ConflictStatus) ([]*models.SyncConflict, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.SyncConflict
	for _, c := range r.m.t.conflicts {
		if (userID == "" || c.UserID == userID) && (status == "" || c.Status == status) {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *conflictRepo) Resolve(ctx context.Context, id, resolution string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c, ok := r.m.t.conflicts[id]
	if !ok || c.Status != models.ConflictOpen {
		return common.ErrorNotFound
	}
	now := r.m.now()
	c.Status = models.ConflictResolved
	c.Resolution = resolution
	c.ResolvedAt = &now
	r.m.t.conflicts[id] = c
	return nil
}

type galleryRepo struct{ m *Manager }

func (r *galleryRepo) Create(ctx context.Context, g *models.Gallery) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.t.galleries[g.ID]; ok {
		return common.ErrAlreadyExists
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = r.m.now()
	}
	r.m.t.galleries[g.ID] = *g
	return nil
}

func (r *galleryRepo) Get(ctx context.Context, id string) (*models.Gallery, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	g, ok := r.m.t.galleries[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &g, nil
}

func (r *galleryRepo) ListByUser(ctx context.Context, userID string) ([]*models.Gallery, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Gallery
	for _, g := range r.m.t.galleries {
		if g.UserID == userID {
			g := g
			out = append(out, &g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

