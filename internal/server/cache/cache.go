package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
	"github.com/dmitrijs2005/gophsync/internal/server/providers"
	"github.com/google/uuid"
)

// TTLs of the cached categories.
type TTLs struct {
	URL          time.Duration
	Listing      time.Duration
	Connections  time.Duration
	FolderVerify time.Duration
	Session      time.Duration
}

// Cache is the typed facade the services use. Listings and connection lists
// are stored under a generation that every invalidation replaces, so a fill
// that raced with an invalidation lands on a key nobody reads again.
type Cache struct {
	store Store
	ttl   TTLs
	log   logging.Logger
}

func New(store Store, ttl TTLs, log logging.Logger) *Cache {
	if ttl.Session <= 0 {
		ttl.Session = 7 * 24 * time.Hour
	}
	return &Cache{store: store, ttl: ttl, log: log.With("module", "cache")}
}

// Store exposes the underlying store for counters.
func (c *Cache) Store() Store { return c.store }

func (c *Cache) getJSON(ctx context.Context, key string, dst any) bool {
	b, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.log.Warn(ctx, "cache read failed", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(b, dst); err != nil {
		c.log.Warn(ctx, "cache entry undecodable", "key", key, "error", err)
		return false
	}
	return true
}

func (c *Cache) setJSON(ctx context.Context, key string, v any, ttl time.Duration) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, key, b, ttl); err != nil {
		c.log.Warn(ctx, "cache write failed", "key", key, "error", err)
	}
}

func (c *Cache) delete(ctx context.Context, keys ...string) {
	if err := c.store.Delete(ctx, keys...); err != nil {
		c.log.Warn(ctx, "cache delete failed", "keys", keys, "error", err)
	}
}

// Generation is the current generation of a scope. ok is false when the
// store is unreachable, in which case callers must skip caching.
func (c *Cache) generation(ctx context.Context, scope string) (string, bool) {
	b, err := c.store.Get(ctx, "gen:"+scope)
	switch {
	case err == nil:
		return string(b), true
	case errors.Is(err, ErrCacheMiss):
		return "0", true
	default:
		c.log.Warn(ctx, "cache generation read failed", "scope", scope, "error", err)
		return "", false
	}
}

// bump starts a new generation. The marker lives twice the entry TTL so it
// outlives every entry written under the previous generation, including a
// fill that read the old generation just before the bump.
func (c *Cache) bump(ctx context.Context, scope string, entryTTL time.Duration) {
	if err := c.store.Set(ctx, "gen:"+scope, []byte(uuid.NewString()), 2*entryTTL); err != nil {
		c.log.Warn(ctx, "cache invalidation failed", "scope", scope, "error", err)
	}
}

// Listing is a cached gallery listing. Gen must be passed back to PutListing.
type Listing struct {
	Gen   string
	Items []models.FileSummary
}

// GetListing returns the cached listing for (gallery, variant). On a miss,
// the returned Listing still carries the generation to fill under.
func (c *Cache) GetListing(ctx context.Context, galleryID, variant string) (Listing, bool) {
	gen, ok := c.generation(ctx, "gallery:"+galleryID)
	if !ok {
		return Listing{}, false
	}
	l := Listing{Gen: gen}
	if c.getJSON(ctx, "listing:"+galleryID+":"+gen+":"+variant, &l.Items) {
		return l, true
	}
	return l, false
}

// PutListing stores items under the generation observed before the query.
func (c *Cache) PutListing(ctx context.Context, galleryID, variant, gen string, items []models.FileSummary) {
	if gen == "" {
		return
	}
	c.setJSON(ctx, "listing:"+galleryID+":"+gen+":"+variant, items, c.ttl.Listing)
}

func (c *Cache) InvalidateGallery(ctx context.Context, galleryID string) {
	c.bump(ctx, "gallery:"+galleryID, c.ttl.Listing)
}

type Connections struct {
	Gen   string
	Items []models.ConnectionSummary
}

func (c *Cache) GetConnections(ctx context.Context, userID string) (Connections, bool) {
	gen, ok := c.generation(ctx, "user:"+userID)
	if !ok {
		return Connections{}, false
	}
	l := Connections{Gen: gen}
	if c.getJSON(ctx, "connections:"+userID+":"+gen, &l.Items) {
		return l, true
	}
	return l, false
}

func (c *Cache) PutConnections(ctx context.Context, userID, gen string, items []models.ConnectionSummary) {
	if gen == "" {
		return
	}
	c.setJSON(ctx, "connections:"+userID+":"+gen, items, c.ttl.Connections)
}

func (c *Cache) InvalidateConnections(ctx context.Context, userID string) {
	c.bump(ctx, "user:"+userID, c.ttl.Connections)
}

func urlKey(kind providers.Kind, itemID string) string {
	return "url:" + string(kind) + ":" + itemID
}

// GetURL returns a cached provider download URL.
func (c *Cache) GetURL(ctx context.Context, kind providers.Kind, itemID string) (string, bool) {
	b, err := c.store.Get(ctx, urlKey(kind, itemID))
	if err != nil {
		return "", false
	}
	return string(b), true
}

// PutURL caches a URL for the shorter of the URL TTL and validFor.
func (c *Cache) PutURL(ctx context.Context, kind providers.Kind, itemID, url string, validFor time.Duration) {
	ttl := c.ttl.URL
	if validFor > 0 && validFor < ttl {
		ttl = validFor
	}
	if ttl <= 0 {
		return
	}
	if err := c.store.Set(ctx, urlKey(kind, itemID), []byte(url), ttl); err != nil {
		c.log.Warn(ctx, "cache write failed", "key", "url", "error", err)
	}
}

func (c *Cache) InvalidateURL(ctx context.Context, kind providers.Kind, itemID string) {
	c.delete(ctx, urlKey(kind, itemID))
}

func folderKey(kind providers.Kind, folderID string) string {
	return "folder:" + string(kind) + ":" + folderID
}

// FolderVerified reports a recent successful existence check.
func (c *Cache) FolderVerified(ctx context.Context, kind providers.Kind, folderID string) bool {
	_, err := c.store.Get(ctx, folderKey(kind, folderID))
	return err == nil
}

func (c *Cache) MarkFolderVerified(ctx context.Context, kind providers.Kind, folderID string) {
	if err := c.store.Set(ctx, folderKey(kind, folderID), []byte{1}, c.ttl.FolderVerify); err != nil {
		c.log.Warn(ctx, "cache write failed", "key", "folder", "error", err)
	}
}

func (c *Cache) ForgetFolder(ctx context.Context, kind providers.Kind, folderID string) {
	c.delete(ctx, folderKey(kind, folderID))
}

func (c *Cache) GetSession(ctx context.Context, key string) (*providers.UploadSession, bool) {
	var s providers.UploadSession
	if !c.getJSON(ctx, "session:"+key, &s) {
		return nil, false
	}
	return &s, true
}

func (c *Cache) PutSession(ctx context.Context, key string, s providers.UploadSession) {
	c.setJSON(ctx, "session:"+key, s, c.ttl.Session)
}

func (c *Cache) DeleteSession(ctx context.Context, key string) {
	c.delete(ctx, "session:"+key)
}
