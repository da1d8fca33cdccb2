package repomanager

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/gophsync/internal/dbx"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/conflicts"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/connections"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/files"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/foldermappings"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/galleries"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/rootfolders"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/syncstates"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func TestNewPostgresRepositoryManager_ReturnsInterface(t *testing.T) {
	db, _ := newDB(t)
	var m RepositoryManager = NewPostgresRepositoryManager(db)
	assert.Equal(t, db, m.DB())
}

func TestFactories_ReturnConcreteRepos(t *testing.T) {
	db, _ := newDB(t)
	m := NewPostgresRepositoryManager(db)

	assert.IsType(t, &connections.PostgresRepository{}, m.Connections(db))
	assert.IsType(t, &rootfolders.PostgresRepository{}, m.RootFolders(db))
	assert.IsType(t, &foldermappings.PostgresRepository{}, m.FolderMappings(db))
	assert.IsType(t, &files.PostgresRepository{}, m.Files(db))
	assert.IsType(t, &syncstates.PostgresRepository{}, m.SyncStates(db))
	assert.IsType(t, &conflicts.PostgresRepository{}, m.Conflicts(db))
	assert.IsType(t, &galleries.PostgresRepository{}, m.Galleries(db))
}

func TestWithTx_CommitsAndRollsBack(t *testing.T) {
	db, mock := newDB(t)
	m := NewPostgresRepositoryManager(db)

	mock.ExpectBegin()
	mock.ExpectCommit()
	err := m.WithTx(context.Background(), func(ctx context.Context, tx dbx.DBTX) error {
		assert.NotEqual(t, db, tx)
		return nil
	})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectRollback()
	boom := errors.New("boom")
	err = m.WithTx(context.Background(), func(ctx context.Context, tx dbx.DBTX) error { return boom })
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_Success(t *testing.T) {
	db, _ := newDB(t)

	orig := gooseUpContext
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		if dir != "." {
			return errors.New("unexpected dir")
		}
		if len(opts) != 0 {
			return errors.New("unexpected opts")
		}
		return nil
	}
	defer func() { gooseUpContext = orig }()

	m := NewPostgresRepositoryManager(db)
	if err := m.RunMigrations(context.Background()); err != nil {
		t.Fatalf("RunMigrations error: %v", err)
	}
}

func TestRunMigrations_Error(t *testing.T) {
	db, _ := newDB(t)

	orig := gooseUpContext
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("boom")
	}
	defer func() { gooseUpContext = orig }()

	m := NewPostgresRepositoryManager(db)
	if err := m.RunMigrations(context.Background()); err == nil || err.Error() != "boom" {
		t.Fatalf("expected boom, got %v", err)
	}
}
