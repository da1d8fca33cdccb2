package galleries

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

func TestCreate_TopLevelHasNullParent(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now()

	mock.ExpectQuery(`(?s)^INSERT\s+INTO\s+galleries\b.*RETURNING\s+created_at$`).
		WithArgs("g1", "u1", nil, "Wedding").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))

	g := &models.Gallery{ID: "g1", UserID: "u1", Name: "Wedding"}
	require.NoError(t, repo.Create(context.Background(), g))
	assert.Equal(t, now, g.CreatedAt)
}

func TestGet(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	q := `(?s)^SELECT\s+id,\s*user_id,\s*parent_id,\s*name,\s*created_at\s+FROM\s+galleries\s+WHERE\s+id\s*=\s*\$1$`

	mock.ExpectQuery(q).WithArgs("g2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "parent_id", "name", "created_at"}).
			AddRow("g2", "u1", "g1", "Ceremony", time.Now()))
	got, err := repo.Get(context.Background(), "g2")
	require.NoError(t, err)
	assert.Equal(t, "g1", got.ParentID)

	mock.ExpectQuery(q).WithArgs("nope").WillReturnError(sql.ErrNoRows)
	_, err = repo.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestListByUser(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(`(?s)^SELECT.*FROM\s+galleries\s+WHERE\s+user_id\s*=\s*\$1\s+ORDER\s+BY\s+created_at$`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "parent_id", "name", "created_at"}).
			AddRow("g1", "u1", nil, "Wedding", time.Now()))

	got, err := repo.ListByUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].ParentID)
}
