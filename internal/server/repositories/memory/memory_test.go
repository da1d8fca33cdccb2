package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/dbx"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ repomanager.RepositoryManager = (*Manager)(nil)

func TestConnections_UpsertKeepsID(t *testing.T) {
	m := NewManager()
	repo := m.Connections(nil)
	ctx := context.Background()

	first, err := repo.Upsert(ctx, &models.StorageConnection{ID: "c1", UserID: "u1", Provider: "dropbox", AccessTokenEnc: []byte("a")})
	require.NoError(t, err)
	require.NoError(t, repo.MarkInvalid(ctx, first.ID, "invalid_grant"))

	second, err := repo.Upsert(ctx, &models.StorageConnection{ID: "c2", UserID: "u1", Provider: "dropbox", AccessTokenEnc: []byte("b")})
	require.NoError(t, err)
	assert.Equal(t, "c1", second.ID)
	assert.Equal(t, models.ConnectionActive, second.Status)
	assert.Empty(t, second.LastError)
	assert.Equal(t, []byte("b"), second.AccessTokenEnc)
}

func TestConnections_UpdateTokensRequiresActive(t *testing.T) {
	m := NewManager()
	repo := m.Connections(nil)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, &models.StorageConnection{ID: "c1", UserID: "u1", Provider: "dropbox"})
	require.NoError(t, err)
	require.NoError(t, repo.MarkInvalid(ctx, "c1", "gone"))

	err = repo.UpdateTokens(ctx, "c1", []byte("x"), nil, time.Now())
	assert.ErrorIs(t, err, common.ErrorNotFound)

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestRootFolders_CreateOnceAndCompareAndDelete(t *testing.T) {
	m := NewManager()
	repo := m.RootFolders(nil)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.RootFolder{UserID: "u1", Provider: "dropbox", FolderID: "f1"}))
	assert.ErrorIs(t, repo.Create(ctx, &models.RootFolder{UserID: "u1", Provider: "dropbox", FolderID: "f2"}), common.ErrAlreadyExists)

	require.NoError(t, repo.Delete(ctx, "u1", "dropbox", "stale"))
	got, err := repo.Get(ctx, "u1", "dropbox")
	require.NoError(t, err)
	assert.Equal(t, "f1", got.FolderID)

	require.NoError(t, repo.Delete(ctx, "u1", "dropbox", "f1"))
	_, err = repo.Get(ctx, "u1", "dropbox")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestFiles_UniqueProviderFileAndVersionCAS(t *testing.T) {
	m := NewManager()
	repo := m.Files(nil)
	ctx := context.Background()

	f := &models.FileRecord{ID: "r1", UserID: "u1", GalleryID: "g1", Provider: "dropbox", ProviderFileID: "id:1", Name: "a.jpg"}
	require.NoError(t, repo.Create(ctx, f))
	assert.Equal(t, int64(1), f.Version)

	dup := &models.FileRecord{ID: "r2", Provider: "dropbox", ProviderFileID: "id:1"}
	assert.ErrorIs(t, repo.Create(ctx, dup), common.ErrAlreadyExists)

	a, _ := repo.Get(ctx, "r1")
	b, _ := repo.Get(ctx, "r1")

	a.Name = "renamed.jpg"
	require.NoError(t, repo.Update(ctx, a))
	assert.Equal(t, int64(2), a.Version)

	b.Visible = false
	assert.ErrorIs(t, repo.Update(ctx, b), common.ErrVersionConflict)
}

func TestFiles_DeletedExcludedFromLiveQueries(t *testing.T) {
	m := NewManager()
	repo := m.Files(nil)
	ctx := context.Background()

	f := &models.FileRecord{ID: "r1", UserID: "u1", GalleryID: "g1", Provider: "dropbox", ProviderFileID: "id:1",
		ProviderPath: "/app/a.jpg", Name: "a.jpg", Checksum: "abc"}
	require.NoError(t, repo.Create(ctx, f))

	now := time.Now()
	f.DeletedAt = &now
	f.DeleteOrigin = common.DeleteOriginRemote
	require.NoError(t, repo.Update(ctx, f))

	_, err := repo.FindByChecksum(ctx, "g1", "dropbox", "abc", "a.jpg")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	_, err = repo.FindByProviderPath(ctx, "u1", "dropbox", "/app/a.jpg")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	live, err := repo.ListLive(ctx, "u1", "dropbox")
	require.NoError(t, err)
	assert.Empty(t, live)

	old, err := repo.ListDeletedBefore(ctx, now.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, old, 1)
	assert.Equal(t, common.DeleteOriginRemote, old[0].DeleteOrigin)
}

func TestConflicts_OneOpenPerItem(t *testing.T) {
	m := NewManager()
	repo := m.Conflicts(nil)
	ctx := context.Background()

	c := models.SyncConflict{ID: "c1", UserID: "u1", Provider: "dropbox", Kind: models.ConflictGalleryFolderMoved, ItemID: "f"}
	created, err := repo.Create(ctx, &c)
	require.NoError(t, err)
	assert.True(t, created)

	again := c
	again.ID = "c2"
	created, err = repo.Create(ctx, &again)
	require.NoError(t, err)
	assert.False(t, created)

	require.NoError(t, repo.Resolve(ctx, "c1", "moved back"))
	assert.ErrorIs(t, repo.Resolve(ctx, "c1", "twice"), common.ErrorNotFound)

	created, err = repo.Create(ctx, &again)
	require.NoError(t, err)
	assert.True(t, created)

	open, err := repo.List(ctx, "u1", models.ConflictOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "c2", open[0].ID)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	boom := errors.New("boom")

	err := m.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		require.NoError(t, m.SyncStates(tx).Save(ctx, &models.SyncState{UserID: "u1", Provider: "dropbox", Cursor: "c1"}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = m.SyncStates(nil).Get(ctx, "u1", "dropbox")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	err = m.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return m.SyncStates(tx).Save(ctx, &models.SyncState{UserID: "u1", Provider: "dropbox", Cursor: "c2"})
	})
	require.NoError(t, err)
	got, err := m.SyncStates(nil).Get(ctx, "u1", "dropbox")
	require.NoError(t, err)
	assert.Equal(t, "c2", got.Cursor)
}

func TestSyncStates_SaveKeepsLastFullSync(t *testing.T) {
	m := NewManager()
	repo := m.SyncStates(nil)
	ctx := context.Background()
	full := time.Now()

	require.NoError(t, repo.Save(ctx, &models.SyncState{UserID: "u1", Provider: "s3", Cursor: "a", LastFullSyncAt: full}))
	require.NoError(t, repo.Save(ctx, &models.SyncState{UserID: "u1", Provider: "s3", Cursor: "b"}))

	got, err := repo.Get(ctx, "u1", "s3")
	require.NoError(t, err)
	assert.Equal(t, "b", got.Cursor)
	assert.True(t, got.LastFullSyncAt.Equal(full))
}
