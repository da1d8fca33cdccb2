package folders

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/dmitrijs2005/gophsync/internal/server/cache"
	"github.com/dmitrijs2005/gophsync/internal/server/connector"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
	"github.com/dmitrijs2005/gophsync/internal/server/providers"
	"github.com/dmitrijs2005/gophsync/internal/server/providers/memory"
	repomemory "github.com/dmitrijs2005/gophsync/internal/server/repositories/memory"
	"github.com/dmitrijs2005/gophsync/internal/timex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// directCaller runs fn once against a memory client; before, when set, runs
// ahead of every call.
type directCaller struct {
	backend *memory.Backend
	before  func(op string)
}

func (d *directCaller) Do(ctx context.Context, userID string, kind providers.Kind, op string, fn connector.Call) error {
	if d.before != nil {
		d.before(op)
	}
	p, err := d.backend.Factory()(ctx, "token-"+userID)
	if err != nil {
		return err
	}
	return fn(ctx, p)
}

type fixture struct {
	m       *Manager
	repos   *repomemory.Manager
	backend *memory.Backend
	calls   *directCaller
	clock   *timex.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := timex.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	backend := memory.NewBackend(providers.Options{}, clock)
	repos := repomemory.NewManager()
	c := cache.New(cache.NewMemoryStore(clock), cache.TTLs{FolderVerify: time.Minute}, logging.Nop{})
	calls := &directCaller{backend: backend}
	return &fixture{
		m:       New(repos, calls, c, "GophSync", logging.Nop{}),
		repos:   repos,
		backend: backend,
		calls:   calls,
		clock:   clock,
	}
}

func (f *fixture) gallery(t *testing.T, id, parentID, name string) {
	t.Helper()
	require.NoError(t, f.repos.Galleries(nil).Create(context.Background(), &models.Gallery{
		ID:       id,
		UserID:   "u1",
		ParentID: parentID,
		Name:     name,
	}))
}

func TestEnsureRootFolder_CreatesOnceAndReuses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rf, err := f.m.EnsureRootFolder(ctx, "u1", providers.Memory)
	require.NoError(t, err)
	assert.Equal(t, "/GophSync", rf.FolderPath)

	again, err := f.m.EnsureRootFolder(ctx, "u1", providers.Memory)
	require.NoError(t, err)
	assert.Equal(t, rf.FolderID, again.FolderID)
	assert.Equal(t, 1, f.backend.Calls("create_folder"))
	assert.Equal(t, 0, f.backend.Calls("stat"), "fresh verification is cached")

	f.clock.Advance(2 * time.Minute)
	_, err = f.m.EnsureRootFolder(ctx, "u1", providers.Memory)
	require.NoError(t, err)
	assert.Equal(t, 1, f.backend.Calls("stat"))
}

func TestEnsureRootFolder_RecreatesAfterRemoteDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rf, err := f.m.EnsureRootFolder(ctx, "u1", providers.Memory)
	require.NoError(t, err)
	f.backend.Remove(rf.FolderID)
	f.clock.Advance(2 * time.Minute)

	fresh, err := f.m.EnsureRootFolder(ctx, "u1", providers.Memory)
	require.NoError(t, err)
	assert.NotEqual(t, rf.FolderID, fresh.FolderID)

	stored, err := f.repos.RootFolders(nil).Get(ctx, "u1", string(providers.Memory))
	require.NoError(t, err)
	assert.Equal(t, fresh.FolderID, stored.FolderID)
}

func TestEnsureRootFolder_ConcurrentCallersCreateOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ids := make([]string, 10)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rf, err := f.m.EnsureRootFolder(ctx, "u1", providers.Memory)
			if assert.NoError(t, err) {
				ids[i] = rf.FolderID
			}
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Len(t, f.backend.Children(""), 1)
}

func TestEnsureRootFolder_RaceLoserReturnsWinnerRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// another instance commits its row while this one talks to the provider
	f.calls.before = func(op string) {
		if op == "create_folder" {
			require.NoError(t, f.repos.RootFolders(nil).Create(ctx, &models.RootFolder{
				UserID:     "u1",
				Provider:   string(providers.Memory),
				FolderID:   "winner",
				FolderPath: "/GophSync",
			}))
		}
	}

	rf, err := f.m.EnsureRootFolder(ctx, "u1", providers.Memory)
	require.NoError(t, err)
	assert.Equal(t, "winner", rf.FolderID)
}

func TestEnsureRootFolder_FailureLeavesNoRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.backend.FailNext(common.NewProviderError("memory", "create_folder", common.ErrProviderUnavailable, 503, nil))

	_, err := f.m.EnsureRootFolder(ctx, "u1", providers.Memory)
	require.ErrorIs(t, err, common.ErrProviderUnavailable)

	_, err = f.repos.RootFolders(nil).Get(ctx, "u1", string(providers.Memory))
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestEnsureGalleryFolder_BuildsTree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gallery(t, "g1aaaaaaaa", "", "Trips")
	f.gallery(t, "g2bbbbbbbb", "g1aaaaaaaa", "Oslo")
	f.gallery(t, "g3cccccccc", "", "Trips")

	child, err := f.m.EnsureGalleryFolder(ctx, "u1", "g2bbbbbbbb", providers.Memory)
	require.NoError(t, err)
	parent, err := f.repos.FolderMappings(nil).Get(ctx, "g1aaaaaaaa", string(providers.Memory))
	require.NoError(t, err)
	rf, err := f.repos.RootFolders(nil).Get(ctx, "u1", string(providers.Memory))
	require.NoError(t, err)

	assert.Equal(t, parent.FolderID, child.ParentFolderID)
	assert.Equal(t, rf.FolderID, parent.ParentFolderID)
	assert.Equal(t, "/GophSync/Trips (g1aaaaaa)/Oslo (g2bbbbbb)", child.FolderPath)

	sibling, err := f.m.EnsureGalleryFolder(ctx, "u1", "g3cccccccc", providers.Memory)
	require.NoError(t, err)
	assert.NotEqual(t, parent.FolderID, sibling.FolderID, "same-named galleries keep separate folders")

	again, err := f.m.EnsureGalleryFolder(ctx, "u1", "g2bbbbbbbb", providers.Memory)
	require.NoError(t, err)
	assert.Equal(t, child.FolderID, again.FolderID)
	assert.Equal(t, 4, f.backend.Calls("create_folder"))
}

func TestEnsureGalleryFolder_ConcurrentCallersCreateOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gallery(t, "g1aaaaaaaa", "", "Trips")
	f.gallery(t, "g2bbbbbbbb", "g1aaaaaaaa", "Oslo")

	ids := make([]string, 10)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fm, err := f.m.EnsureGalleryFolder(ctx, "u1", "g2bbbbbbbb", providers.Memory)
			if assert.NoError(t, err) {
				ids[i] = fm.FolderID
			}
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 3, f.backend.Calls("create_folder"), "root, parent and child once each")

	mappings, err := f.repos.FolderMappings(nil).ListByUser(ctx, "u1", string(providers.Memory))
	require.NoError(t, err)
	assert.Len(t, mappings, 2)

	rf, err := f.repos.RootFolders(nil).Get(ctx, "u1", string(providers.Memory))
	require.NoError(t, err)
	parent, err := f.repos.FolderMappings(nil).Get(ctx, "g1aaaaaaaa", string(providers.Memory))
	require.NoError(t, err)
	assert.Len(t, f.backend.Children(""), 1)
	assert.Len(t, f.backend.Children(rf.FolderID), 1)
	assert.Len(t, f.backend.Children(parent.FolderID), 1)
}

func TestEnsureGalleryFolder_RaceLoserReturnsWinnerRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gallery(t, "g1aaaaaaaa", "", "Trips")
	rf, err := f.m.EnsureRootFolder(ctx, "u1", providers.Memory)
	require.NoError(t, err)

	// another instance commits the mapping while this one talks to the provider
	f.calls.before = func(op string) {
		if op == "create_folder" {
			require.NoError(t, f.repos.FolderMappings(nil).Create(ctx, &models.FolderMapping{
				GalleryID:      "g1aaaaaaaa",
				Provider:       string(providers.Memory),
				UserID:         "u1",
				FolderID:       "winner",
				ParentFolderID: rf.FolderID,
				FolderPath:     "/GophSync/Trips (g1aaaaaa)",
			}))
		}
	}

	fm, err := f.m.EnsureGalleryFolder(ctx, "u1", "g1aaaaaaaa", providers.Memory)
	require.NoError(t, err)
	assert.Equal(t, "winner", fm.FolderID)
}

func TestEnsureGalleryFolder_RecreatedUnderNewRoot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gallery(t, "g1aaaaaaaa", "", "Trips")

	old, err := f.m.EnsureGalleryFolder(ctx, "u1", "g1aaaaaaaa", providers.Memory)
	require.NoError(t, err)
	f.backend.Remove(old.ParentFolderID)
	f.clock.Advance(2 * time.Minute)

	fresh, err := f.m.EnsureGalleryFolder(ctx, "u1", "g1aaaaaaaa", providers.Memory)
	require.NoError(t, err)
	assert.NotEqual(t, old.FolderID, fresh.FolderID)
	assert.NotEqual(t, old.ParentFolderID, fresh.ParentFolderID)
	item, ok := f.backend.Item(fresh.FolderID)
	require.True(t, ok)
	assert.Equal(t, fresh.ParentFolderID, item.ParentID)
}

func TestEnsureGalleryFolder_OtherUsersGallery(t *testing.T) {
	f := newFixture(t)
	f.gallery(t, "g1aaaaaaaa", "", "Trips")

	_, err := f.m.EnsureGalleryFolder(context.Background(), "u2", "g1aaaaaaaa", providers.Memory)
	require.ErrorIs(t, err, common.ErrorNotFound)
	assert.Equal(t, 0, f.backend.Calls("create_folder"))
}

func TestForgetGallery_ComparesFolderID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gallery(t, "g1aaaaaaaa", "", "Trips")
	fm, err := f.m.EnsureGalleryFolder(ctx, "u1", "g1aaaaaaaa", providers.Memory)
	require.NoError(t, err)

	require.NoError(t, f.m.ForgetGallery(ctx, "g1aaaaaaaa", providers.Memory, "someone-else"))
	_, err = f.repos.FolderMappings(nil).Get(ctx, "g1aaaaaaaa", string(providers.Memory))
	require.NoError(t, err)

	require.NoError(t, f.m.ForgetGallery(ctx, "g1aaaaaaaa", providers.Memory, fm.FolderID))
	_, err = f.repos.FolderMappings(nil).Get(ctx, "g1aaaaaaaa", string(providers.Memory))
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestFolderName(t *testing.T) {
	assert.Equal(t, "Trips (0123abcd)", FolderName(&models.Gallery{ID: "0123abcd-ef", Name: "Trips"}))
	assert.Equal(t, "X (ab)", FolderName(&models.Gallery{ID: "ab", Name: "X"}))
}
