// Package enginetest assembles the engine over in-memory repositories, an
// in-memory cache and the memory provider, for tests across packages.
package enginetest

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/cryptox"
	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/dmitrijs2005/gophsync/internal/server/audit"
	"github.com/dmitrijs2005/gophsync/internal/server/cache"
	"github.com/dmitrijs2005/gophsync/internal/server/connector"
	"github.com/dmitrijs2005/gophsync/internal/server/folders"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
	"github.com/dmitrijs2005/gophsync/internal/server/providers"
	"github.com/dmitrijs2005/gophsync/internal/server/providers/memory"
	"github.com/dmitrijs2005/gophsync/internal/server/ratelimit"
	repomemory "github.com/dmitrijs2005/gophsync/internal/server/repositories/memory"
	"github.com/dmitrijs2005/gophsync/internal/server/retry"
	"github.com/dmitrijs2005/gophsync/internal/server/tokens"
	"github.com/dmitrijs2005/gophsync/internal/timex"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// Start is the fake clock's initial time.
var Start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type Harness struct {
	Clock     *timex.FakeClock
	Repos     *repomemory.Manager
	Backend   *memory.Backend
	Registry  *providers.Registry
	Cache     *cache.Cache
	Limiter   *ratelimit.Limiter
	Tokens    *tokens.Manager
	Connector *connector.Connector
	Folders   *folders.Manager
	Audit     *audit.Recorder
}

type noRefresh struct{}

func (noRefresh) Refresh(ctx context.Context, kind providers.Kind, refreshToken string) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "memory-refreshed"}, nil
}

// New builds the harness. The memory provider switches to resumable uploads
// above 64KiB in 16KiB chunks.
func New(t testing.TB) *Harness {
	t.Helper()
	h := &Harness{
		Clock:    timex.NewFakeClock(Start),
		Repos:    repomemory.NewManager(),
		Registry: providers.NewRegistry(),
		Audit:    &audit.Recorder{},
	}
	h.Repos.SetClock(h.Clock.Now)
	h.Backend = memory.NewBackend(providers.Options{ResumableThreshold: 64 << 10, ChunkSize: 16 << 10}, h.Clock)
	h.Registry.Register(providers.Memory, h.Backend.Factory())

	store := cache.NewMemoryStore(h.Clock)
	h.Cache = cache.New(store, cache.TTLs{
		URL:          10 * time.Minute,
		Listing:      5 * time.Minute,
		Connections:  5 * time.Minute,
		FolderVerify: time.Minute,
	}, logging.Nop{})
	h.Limiter = ratelimit.New(store, ratelimit.Config{}, h.Clock, logging.Nop{})

	cipher, err := cryptox.NewTokenCipherFromPassphrase("enginetest")
	require.NoError(t, err)
	h.Tokens = tokens.NewManager(h.Repos, cipher, noRefresh{}, h.Cache, h.Clock, logging.Nop{})
	h.Connector = connector.New(h.Registry, h.Tokens, h.Limiter, connector.Config{
		Policy: retry.Policy{Attempts: 4, Base: time.Millisecond, Cap: 5 * time.Millisecond},
	}, logging.Nop{})
	h.Folders = folders.New(h.Repos, h.Connector, h.Cache, "GophSync", logging.Nop{})
	return h
}

// Connect registers a non-expiring memory connection for userID.
func (h *Harness) Connect(t testing.TB, userID string) {
	t.Helper()
	_, err := h.Tokens.Connect(context.Background(), userID, providers.Memory, &oauth2.Token{AccessToken: "memory-" + userID})
	require.NoError(t, err)
}

// Gallery seeds a gallery of userID.
func (h *Harness) Gallery(t testing.TB, userID, id, parentID, name string) *models.Gallery {
	t.Helper()
	g := &models.Gallery{ID: id, UserID: userID, ParentID: parentID, Name: name}
	require.NoError(t, h.Repos.Galleries(nil).Create(context.Background(), g))
	return g
}
