package tokens

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/cryptox"
	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/dmitrijs2005/gophsync/internal/server/cache"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
	"github.com/dmitrijs2005/gophsync/internal/server/providers"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/memory"
	"github.com/dmitrijs2005/gophsync/internal/timex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeRefresher struct {
	out   *oauth2.Token
	err   error
	calls atomic.Int64
	delay time.Duration
}

func (f *fakeRefresher) Refresh(ctx context.Context, kind providers.Kind, refreshToken string) (*oauth2.Token, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	tok := *f.out
	return &tok, nil
}

type fixture struct {
	m         *Manager
	repos     *memory.Manager
	refresher *fakeRefresher
	clock     *timex.FakeClock
	cache     *cache.Cache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := timex.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	cipher, err := cryptox.NewTokenCipherFromPassphrase("test")
	require.NoError(t, err)
	repos := memory.NewManager()
	c := cache.New(cache.NewMemoryStore(clock), cache.TTLs{Connections: time.Minute}, logging.Nop{})
	r := &fakeRefresher{out: &oauth2.Token{AccessToken: "fresh", Expiry: clock.Now().Add(time.Hour)}}
	return &fixture{
		m:         NewManager(repos, cipher, r, c, clock, logging.Nop{}),
		repos:     repos,
		refresher: r,
		clock:     clock,
		cache:     c,
	}
}

func (f *fixture) connect(t *testing.T, expiresIn time.Duration) {
	t.Helper()
	_, err := f.m.Connect(context.Background(), "u1", providers.GoogleDrive, &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		Expiry:       f.clock.Now().Add(expiresIn),
	})
	require.NoError(t, err)
}

func TestConnect_StoresSealedTokens(t *testing.T) {
	f := newFixture(t)
	f.connect(t, time.Hour)

	c, err := f.repos.Connections(nil).GetByUserProvider(context.Background(), "u1", "google_drive")
	require.NoError(t, err)
	assert.NotContains(t, string(c.AccessTokenEnc), "stale")
	assert.NotContains(t, string(c.RefreshTokenEnc), "refresh-1")
	assert.Equal(t, models.ConnectionActive, c.Status)
}

func TestValidToken_FreshTokenNoRefresh(t *testing.T) {
	f := newFixture(t)
	f.connect(t, time.Hour)

	tok, err := f.m.ValidTokenFor(context.Background(), "u1", providers.GoogleDrive)
	require.NoError(t, err)
	assert.Equal(t, "stale", tok)
	assert.Zero(t, f.refresher.calls.Load())
}

func TestValidToken_ExpiringSoonRefreshesExactlyOnce(t *testing.T) {
	f := newFixture(t)
	f.connect(t, 3*time.Minute)
	f.refresher.delay = 20 * time.Millisecond

	var wg sync.WaitGroup
	errs := make([]error, 10)
	toks := make([]string, 10)
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			toks[i], errs[i] = f.m.ValidTokenFor(context.Background(), "u1", providers.GoogleDrive)
		}()
	}
	wg.Wait()

	for i := range 10 {
		require.NoError(t, errs[i])
		assert.Equal(t, "fresh", toks[i])
	}
	assert.Equal(t, int64(1), f.refresher.calls.Load())

	c, _ := f.repos.Connections(nil).GetByUserProvider(context.Background(), "u1", "google_drive")
	assert.True(t, c.ExpiresAt.After(f.clock.Now().Add(time.Minute*59)))
}

func TestValidToken_ByConnectionID(t *testing.T) {
	f := newFixture(t)
	f.connect(t, time.Minute)
	c, _ := f.repos.Connections(nil).GetByUserProvider(context.Background(), "u1", "google_drive")

	tok, err := f.m.ValidToken(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)
}

func TestValidToken_ZeroExpiryNeverRefreshes(t *testing.T) {
	f := newFixture(t)
	_, err := f.m.Connect(context.Background(), "u1", providers.S3, &oauth2.Token{AccessToken: "static"})
	require.NoError(t, err)

	f.clock.Advance(365 * 24 * time.Hour)
	tok, err := f.m.ValidTokenFor(context.Background(), "u1", providers.S3)
	require.NoError(t, err)
	assert.Equal(t, "static", tok)
	assert.Zero(t, f.refresher.calls.Load())
}

func TestValidToken_InvalidGrantFlipsToInvalidAndFailsFast(t *testing.T) {
	f := newFixture(t)
	f.connect(t, time.Minute)
	f.refresher.err = ErrInvalidGrant

	_, err := f.m.ValidTokenFor(context.Background(), "u1", providers.GoogleDrive)
	assert.ErrorIs(t, err, common.ErrReconnectRequired)

	c, _ := f.repos.Connections(nil).GetByUserProvider(context.Background(), "u1", "google_drive")
	assert.Equal(t, models.ConnectionInvalid, c.Status)
	assert.Contains(t, c.LastError, "invalid_grant")

	for range 5 {
		_, err = f.m.ValidTokenFor(context.Background(), "u1", providers.GoogleDrive)
		assert.ErrorIs(t, err, common.ErrReconnectRequired)
	}
	assert.Equal(t, int64(1), f.refresher.calls.Load(), "no repeated refresh attempts")
}

func TestValidToken_TransientRefreshFailureKeepsConnection(t *testing.T) {
	f := newFixture(t)
	f.connect(t, time.Minute)
	f.refresher.err = common.NewProviderError("google_drive", "refresh", common.ErrProviderUnavailable, 503, nil)

	_, err := f.m.ValidTokenFor(context.Background(), "u1", providers.GoogleDrive)
	assert.ErrorIs(t, err, common.ErrProviderUnavailable)

	c, _ := f.repos.Connections(nil).GetByUserProvider(context.Background(), "u1", "google_drive")
	assert.Equal(t, models.ConnectionActive, c.Status)
}

func TestValidToken_MissingConnection(t *testing.T) {
	f := newFixture(t)
	_, err := f.m.ValidTokenFor(context.Background(), "u1", providers.Dropbox)
	assert.ErrorIs(t, err, common.ErrReconnectRequired)
}

func TestForceRefresh_SkipsWhenAlreadyReplaced(t *testing.T) {
	f := newFixture(t)
	f.connect(t, time.Hour)
	ctx := context.Background()

	tok, err := f.m.ForceRefresh(ctx, "u1", providers.GoogleDrive, "stale")
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)

	tok, err = f.m.ForceRefresh(ctx, "u1", providers.GoogleDrive, "stale")
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)
	assert.Equal(t, int64(1), f.refresher.calls.Load())
}

func TestReconnectAfterInvalid(t *testing.T) {
	f := newFixture(t)
	f.connect(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, f.m.Invalidate(ctx, "u1", providers.GoogleDrive, "revoked by user"))
	_, err := f.m.ValidTokenFor(ctx, "u1", providers.GoogleDrive)
	assert.ErrorIs(t, err, common.ErrReconnectRequired)

	f.connect(t, time.Hour)
	tok, err := f.m.ValidTokenFor(ctx, "u1", providers.GoogleDrive)
	require.NoError(t, err)
	assert.Equal(t, "stale", tok)
}

func TestConnect_InvalidatesConnectionCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l, _ := f.cache.GetConnections(ctx, "u1")
	f.cache.PutConnections(ctx, "u1", l.Gen, nil)
	_, ok := f.cache.GetConnections(ctx, "u1")
	require.True(t, ok)

	f.connect(t, time.Hour)
	_, ok = f.cache.GetConnections(ctx, "u1")
	assert.False(t, ok)
}

func TestConnect_RejectsEmpty(t *testing.T) {
	f := newFixture(t)
	_, err := f.m.Connect(context.Background(), "u1", providers.Dropbox, &oauth2.Token{})
	assert.True(t, errors.Is(err, common.ErrInvalidArgument))
}
