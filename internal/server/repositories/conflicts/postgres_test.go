package conflicts

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepository(db), mock
}

func TestCreate_DedupesOpenConflicts(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	q := `(?s)^INSERT\s+INTO\s+sync_conflicts\b.*ON\s+CONFLICT\s+\(user_id,\s*provider,\s*kind,\s*item_id\)\s+WHERE\s+status\s*=\s*'open'\s+DO\s+NOTHING$`
	c := &models.SyncConflict{ID: "c1", UserID: "u1", Provider: "dropbox", Kind: models.ConflictGalleryFolderDeleted, ItemID: "id:f", GalleryID: "g1"}

	mock.ExpectExec(q).WithArgs("c1", "u1", "dropbox", "gallery_folder_deleted", "id:f", "g1", "", "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	created, err := repo.Create(context.Background(), c)
	require.NoError(t, err)
	assert.True(t, created)

	mock.ExpectExec(q).WithArgs("c1", "u1", "dropbox", "gallery_folder_deleted", "id:f", "g1", "", "").
		WillReturnResult(sqlmock.NewResult(0, 0))
	created, err = repo.Create(context.Background(), c)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestList(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now()
	cols := []string{"id", "user_id", "provider", "kind", "item_id", "gallery_id", "file_id", "detail", "status", "resolution", "created_at", "resolved_at"}

	mock.ExpectQuery(`(?s)^SELECT\s+id,.*FROM\s+sync_conflicts\s+WHERE\s+\(\$1\s*=\s*''\s+OR\s+user_id\s*=\s*\$1\).*ORDER\s+BY\s+created_at\s+DESC$`).
		WithArgs("", "open").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("c1", "u1", "dropbox", "gallery_folder_moved", "id:f", "g1", "", "moved", "open", "", now, nil))

	got, err := repo.List(context.Background(), "", models.ConflictOpen)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.ConflictGalleryFolderMoved, got[0].Kind)
	assert.Nil(t, got[0].ResolvedAt)
}

func TestResolve(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	q := `(?s)^UPDATE\s+sync_conflicts\s+SET\s+status\s*=\s*'resolved'.*WHERE\s+id\s*=\s*\$1\s+AND\s+status\s*=\s*'open'$`

	mock.ExpectExec(q).WithArgs("c1", "recreated").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Resolve(context.Background(), "c1", "recreated"))

	mock.ExpectExec(q).WithArgs("c1", "again").WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Resolve(context.Background(), "c1", "again"), common.ErrorNotFound)
}
