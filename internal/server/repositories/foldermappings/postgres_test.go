package foldermappings

import (
	"context"
	"database/sql"
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

var columns = []string{"gallery_id", "provider", "user_id", "folder_id", "parent_folder_id", "folder_path", "created_at"}

func TestCreate(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	q := `(?s)^INSERT\s+INTO\s+folder_mappings\b.*ON\s+CONFLICT\s+\(gallery_id,\s*provider\)\s+DO\s+NOTHING$`
	m := &models.FolderMapping{GalleryID: "g1", Provider: "google_drive", UserID: "u1", FolderID: "f1", ParentFolderID: "root1"}

	mock.ExpectExec(q).WithArgs("g1", "google_drive", "u1", "f1", "root1", "").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Create(context.Background(), m))

	mock.ExpectExec(q).WithArgs("g1", "google_drive", "u1", "f1", "root1", "").WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Create(context.Background(), m), common.ErrAlreadyExists)
}

func TestGet_FoundAndMissing(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	q := `(?s)^SELECT\s+gallery_id,.*FROM\s+folder_mappings\s+WHERE\s+gallery_id\s*=\s*\$1\s+AND\s+provider\s*=\s*\$2$`

	mock.ExpectQuery(q).WithArgs("g1", "dropbox").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("g1", "dropbox", "u1", "id:f", "id:root", "/gophsync/trip (g1)", time.Now()))
	got, err := repo.Get(context.Background(), "g1", "dropbox")
	require.NoError(t, err)
	assert.Equal(t, "id:root", got.ParentFolderID)

	mock.ExpectQuery(q).WithArgs("g2", "dropbox").WillReturnError(sql.ErrNoRows)
	_, err = repo.Get(context.Background(), "g2", "dropbox")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestFindByPath(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(`(?s)^SELECT.*FROM\s+folder_mappings\s+WHERE\s+user_id\s*=\s*\$1\s+AND\s+provider\s*=\s*\$2\s+AND\s+folder_path\s*=\s*\$3$`).
		WithArgs("u1", "dropbox", "/gophsync/a").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("g1", "dropbox", "u1", "id:f", "id:root", "/gophsync/a", time.Now()))

	got, err := repo.FindByPath(context.Background(), "u1", "dropbox", "/gophsync/a")
	require.NoError(t, err)
	assert.Equal(t, "g1", got.GalleryID)
}

func TestListByUser(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(`(?s)^SELECT.*FROM\s+folder_mappings\s+WHERE\s+user_id\s*=\s*\$1\s+AND\s+provider\s*=\s*\$2$`).
		WithArgs("u1", "google_drive").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("g1", "google_drive", "u1", "f1", "r", "", time.Now()).
			AddRow("g2", "google_drive", "u1", "f2", "f1", "", time.Now()))

	got, err := repo.ListByUser(context.Background(), "u1", "google_drive")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "f1", got[1].ParentFolderID)
}

func TestDeleteAndUpdatePath(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectExec(`(?s)^DELETE\s+FROM\s+folder_mappings\s+WHERE\s+gallery_id\s*=\s*\$1\s+AND\s+provider\s*=\s*\$2\s+AND\s+folder_id\s*=\s*\$3$`).
		WithArgs("g1", "dropbox", "id:f").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)^UPDATE\s+folder_mappings\s+SET\s+folder_path\s*=\s*\$3`).
		WithArgs("g2", "dropbox", "/x").WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Delete(context.Background(), "g1", "dropbox", "id:f"))
	require.NoError(t, repo.UpdatePath(context.Background(), "g2", "dropbox", "/x"))
	require.NoError(t, mock.ExpectationsWereMet())
}
