package memory

import (
	"context"
	"sort"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
)

type connectionRepo struct{ m *Manager }

func (r *connectionRepo) Upsert(ctx context.Context, c *models.StorageConnection) (*models.StorageConnection, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	now := r.m.now()
	for id, existing := range r.m.t.connections {
		if existing.UserID == c.UserID && existing.Provider == c.Provider {
			existing.AccessTokenEnc = c.AccessTokenEnc
			existing.RefreshTokenEnc = c.RefreshTokenEnc
			existing.ExpiresAt = c.ExpiresAt
			existing.Status = models.ConnectionActive
			existing.LastError = ""
			existing.UpdatedAt = now
			r.m.t.connections[id] = existing
			return &existing, nil
		}
	}

	stored := *c
	stored.Status = models.ConnectionActive
	stored.LastError = ""
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.m.t.connections[stored.ID] = stored
	return &stored, nil
}

func (r *connectionRepo) Get(ctx context.Context, id string) (*models.StorageConnection, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c, ok := r.m.t.connections[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &c, nil
}

func (r *connectionRepo) GetByUserProvider(ctx context.Context, userID, provider string) (*models.StorageConnection, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, c := range r.m.t.connections {
		if c.UserID == userID && c.Provider == provider {
			return &c, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *connectionRepo) filter(keep func(models.StorageConnection) bool) []*models.StorageConnection {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.StorageConnection
	for _, c := range r.m.t.connections {
		if keep(c) {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Provider < out[j].Provider
	})
	return out
}

func (r *connectionRepo) ListByUser(ctx context.Context, userID string) ([]*models.StorageConnection, error) {
	return r.filter(func(c models.StorageConnection) bool { return c.UserID == userID }), nil
}

func (r *connectionRepo) ListActive(ctx context.Context) ([]*models.StorageConnection, error) {
	return r.filter(func(c models.StorageConnection) bool { return c.Status == models.ConnectionActive }), nil
}

func (r *connectionRepo) UpdateTokens(ctx context.Context, id string, accessEnc, refreshEnc []byte, expiresAt time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c, ok := r.m.t.connections[id]
	if !ok || c.Status != models.ConnectionActive {
		return common.ErrorNotFound
	}
	c.AccessTokenEnc = accessEnc
	c.RefreshTokenEnc = refreshEnc
	c.ExpiresAt = expiresAt
	c.UpdatedAt = r.m.now()
	r.m.t.connections[id] = c
	return nil
}

func (r *connectionRepo) MarkInvalid(ctx context.Context, id string, lastError string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c, ok := r.m.t.connections[id]
	if !ok {
		return nil
	}
	c.Status = models.ConnectionInvalid
	c.LastError = lastError
	c.UpdatedAt = r.m.now()
	r.m.t.connections[id] = c
	return nil
}
