package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
	"github.com/dmitrijs2005/gophsync/internal/server/providers"
	"github.com/dmitrijs2005/gophsync/internal/timex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTTLs = TTLs{URL: time.Minute, Listing: 15 * time.Minute, Connections: 15 * time.Minute, FolderVerify: 5 * time.Minute}

// brokenStore fails every call.
type brokenStore struct{ err error }

func (b brokenStore) Get(context.Context, string) ([]byte, error) { return nil, b.err }

func (b brokenStore) Set(context.Context, string, []byte, time.Duration) error { return b.err }

func (b brokenStore) Delete(context.Context, ...string) error { return b.err }

func (b brokenStore) Incr(context.Context, string, int64, time.Duration) (int64, time.Duration, error) {
	return 0, 0, b.err
}

func newCache() (*Cache, *timex.FakeClock) {
	clock := timex.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(NewMemoryStore(clock), testTTLs, logging.Nop{}), clock
}

func TestListing_InvalidationWins(t *testing.T) {
	c, _ := newCache()
	ctx := context.Background()

	l, ok := c.GetListing(ctx, "g1", "visible")
	require.False(t, ok)
	c.PutListing(ctx, "g1", "visible", l.Gen, []models.FileSummary{{ID: "f1", Tags: []string{"old"}}})

	got, ok := c.GetListing(ctx, "g1", "visible")
	require.True(t, ok)
	assert.Equal(t, []string{"old"}, got.Items[0].Tags)

	c.InvalidateGallery(ctx, "g1")
	_, ok = c.GetListing(ctx, "g1", "visible")
	assert.False(t, ok)
}

func TestListing_FillRacingInvalidationIsDiscarded(t *testing.T) {
	c, _ := newCache()
	ctx := context.Background()

	// reader misses and starts querying
	l, ok := c.GetListing(ctx, "g1", "all")
	require.False(t, ok)

	// writer commits and invalidates while the reader is still querying
	c.InvalidateGallery(ctx, "g1")

	// reader stores what it read before the write
	c.PutListing(ctx, "g1", "all", l.Gen, []models.FileSummary{{ID: "stale"}})

	_, ok = c.GetListing(ctx, "g1", "all")
	assert.False(t, ok, "stale fill must not be served")
}

func TestListing_RacingFillExpiresBeforeMarker(t *testing.T) {
	c, clock := newCache()
	ctx := context.Background()

	l, ok := c.GetListing(ctx, "g1", "all")
	require.False(t, ok)
	c.InvalidateGallery(ctx, "g1")

	// the fill lands a little after the invalidation
	clock.Advance(30 * time.Second)
	c.PutListing(ctx, "g1", "all", l.Gen, []models.FileSummary{{ID: "stale"}})

	// one entry TTL after the invalidation the stale entry is still stored
	clock.Advance(testTTLs.Listing - 15*time.Second)
	_, ok = c.GetListing(ctx, "g1", "all")
	assert.False(t, ok, "stale fill must not resurface")

	clock.Advance(testTTLs.Listing)
	fresh, ok := c.GetListing(ctx, "g1", "all")
	require.False(t, ok)
	c.PutListing(ctx, "g1", "all", fresh.Gen, []models.FileSummary{{ID: "fresh"}})
	got, ok := c.GetListing(ctx, "g1", "all")
	require.True(t, ok)
	assert.Equal(t, "fresh", got.Items[0].ID)
}

func TestConnections(t *testing.T) {
	c, _ := newCache()
	ctx := context.Background()

	l, ok := c.GetConnections(ctx, "u1")
	require.False(t, ok)
	c.PutConnections(ctx, "u1", l.Gen, []models.ConnectionSummary{{Provider: "dropbox", Status: models.ConnectionActive}})

	got, ok := c.GetConnections(ctx, "u1")
	require.True(t, ok)
	require.Len(t, got.Items, 1)

	c.InvalidateConnections(ctx, "u1")
	_, ok = c.GetConnections(ctx, "u1")
	assert.False(t, ok)
}

func TestURL_TTLIsTheShorterOne(t *testing.T) {
	c, clock := newCache()
	ctx := context.Background()

	c.PutURL(ctx, providers.Dropbox, "id:1", "https://dl/1", 10*time.Second)
	u, ok := c.GetURL(ctx, providers.Dropbox, "id:1")
	require.True(t, ok)
	assert.Equal(t, "https://dl/1", u)

	clock.Advance(11 * time.Second)
	_, ok = c.GetURL(ctx, providers.Dropbox, "id:1")
	assert.False(t, ok)
}

func TestFolderVerifiedAndSessions(t *testing.T) {
	c, clock := newCache()
	ctx := context.Background()

	c.MarkFolderVerified(ctx, providers.GoogleDrive, "f1")
	assert.True(t, c.FolderVerified(ctx, providers.GoogleDrive, "f1"))
	clock.Advance(6 * time.Minute)
	assert.False(t, c.FolderVerified(ctx, providers.GoogleDrive, "f1"))

	c.PutSession(ctx, "k", providers.UploadSession{Provider: providers.Dropbox, ID: "s1", Offset: 42})
	s, ok := c.GetSession(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, int64(42), s.Offset)
	c.DeleteSession(ctx, "k")
	_, ok = c.GetSession(ctx, "k")
	assert.False(t, ok)
}

func TestBrokenStoreFailsOpen(t *testing.T) {
	c := New(brokenStore{err: errors.New("down")}, testTTLs, logging.Nop{})
	ctx := context.Background()

	l, ok := c.GetListing(ctx, "g1", "all")
	assert.False(t, ok)
	assert.Empty(t, l.Gen)
	c.PutListing(ctx, "g1", "all", l.Gen, nil)
	c.InvalidateGallery(ctx, "g1")

	_, ok = c.GetURL(ctx, providers.Dropbox, "x")
	assert.False(t, ok)
	assert.False(t, c.FolderVerified(ctx, providers.Dropbox, "x"))
	_, ok = c.GetSession(ctx, "k")
	assert.False(t, ok)
}
