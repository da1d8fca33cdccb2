package syncstates

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

const selectQ = `(?s)^SELECT\s+user_id,\s*provider,\s*cursor,\s*last_sync_at,\s*last_full_sync_at\s+FROM\s+sync_states\s+WHERE\s+user_id\s*=\s*\$1\s+AND\s+provider\s*=\s*\$2$`

func TestGet(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now()

	mock.ExpectQuery(selectQ).WithArgs("u1", "dropbox").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "provider", "cursor", "last_sync_at", "last_full_sync_at"}).
			AddRow("u1", "dropbox", "AAE", now, nil))

	got, err := repo.Get(context.Background(), "u1", "dropbox")
	require.NoError(t, err)
	assert.Equal(t, "AAE", got.Cursor)
	assert.True(t, got.LastFullSyncAt.IsZero())
}

func TestGet_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(selectQ).WithArgs("u1", "dropbox").WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "u1", "dropbox")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestSave_Upserts(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now()

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+sync_states\b.*ON\s+CONFLICT\s+\(user_id,\s*provider\)\s+DO\s+UPDATE.*COALESCE`).
		WithArgs("u1", "google_drive", "123", now, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Save(context.Background(), &models.SyncState{UserID: "u1", Provider: "google_drive", Cursor: "123", LastSyncAt: now})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
