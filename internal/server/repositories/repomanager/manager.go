package repomanager

import (
	"context"

	"github.com/dmitrijs2005/gophsync/internal/dbx"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/conflicts"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/connections"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/files"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/foldermappings"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/galleries"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/rootfolders"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/syncstates"
)

type RepositoryManager interface {
	RunMigrations(ctx context.Context) error

	// DB is the non-transactional handle.
	DB() dbx.DBTX
	// WithTx runs fn in a transaction; repositories built from tx share it.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error

	Connections(db dbx.DBTX) connections.Repository
	RootFolders(db dbx.DBTX) rootfolders.Repository
	FolderMappings(db dbx.DBTX) foldermappings.Repository
	Files(db dbx.DBTX) files.Repository
	SyncStates(db dbx.DBTX) syncstates.Repository
	Conflicts(db dbx.DBTX) conflicts.Repository
	Galleries(db dbx.DBTX) galleries.Repository
}
