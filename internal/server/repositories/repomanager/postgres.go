// Package repomanager provides a concrete RepositoryManager for PostgreSQL,
// wiring together repository constructors and database migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/gophsync/internal/dbx"
	"github.com/dmitrijs2005/gophsync/internal/server/migrations"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/conflicts"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/connections"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/files"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/foldermappings"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/galleries"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/rootfolders"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/syncstates"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository implementations
// and exposes a schema migration hook.
type PostgresRepositoryManager struct {
	db *sql.DB
}

func (m *PostgresRepositoryManager) DB() dbx.DBTX {
	return m.db
}

// WithTx runs fn in a read-committed transaction.
func (m *PostgresRepositoryManager) WithTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	return dbx.WithTx(ctx, m.db, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, fn)
}

func (m *PostgresRepositoryManager) Connections(db dbx.DBTX) connections.Repository {
	return connections.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) RootFolders(db dbx.DBTX) rootfolders.Repository {
	return rootfolders.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) FolderMappings(db dbx.DBTX) foldermappings.Repository {
	return foldermappings.NewPostgresRepository(db)
}

// Files returns a files.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Files(db dbx.DBTX) files.Repository {
	return files.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) SyncStates(db dbx.DBTX) syncstates.Repository {
	return syncstates.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Conflicts(db dbx.DBTX) conflicts.Repository {
	return conflicts.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Galleries(db dbx.DBTX) galleries.Repository {
	return galleries.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the manager's database.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, m.db, "."); err != nil {
		return err
	}
	return nil
}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed RepositoryManager.
func NewPostgresRepositoryManager(db *sql.DB) *PostgresRepositoryManager {
	return &PostgresRepositoryManager{db: db}
}
