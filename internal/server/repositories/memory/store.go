// Package memory implements every repository contract in process. It backs
// tests and single-node development; uniqueness rules and error sentinels
// match the PostgreSQL implementations.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/dbx"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/conflicts"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/connections"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/files"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/foldermappings"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/galleries"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/rootfolders"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/syncstates"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
)

type pair struct{ a, b string }

type tables struct {
	connections map[string]models.StorageConnection
	roots       map[pair]models.RootFolder
	mappings    map[pair]models.FolderMapping
	files       map[string]models.FileRecord
	syncStates  map[pair]models.SyncState
	conflicts   map[string]models.SyncConflict
	galleries   map[string]models.Gallery
}

func newTables() tables {
	return tables{
		connections: map[string]models.StorageConnection{},
		roots:       map[pair]models.RootFolder{},
		mappings:    map[pair]models.FolderMapping{},
		files:       map[string]models.FileRecord{},
		syncStates:  map[pair]models.SyncState{},
		conflicts:   map[string]models.SyncConflict{},
		galleries:   map[string]models.Gallery{},
	}
}

// clone copies the maps. Slice and pointer fields stay shared, which is fine
// because values are never mutated in place.
func (t tables) clone() tables {
	return tables{
		connections: maps.Clone(t.connections),
		roots:       maps.Clone(t.roots),
		mappings:    maps.Clone(t.mappings),
		files:       maps.Clone(t.files),
		syncStates:  maps.Clone(t.syncStates),
		conflicts:   maps.Clone(t.conflicts),
		galleries:   maps.Clone(t.galleries),
	}
}

// Manager satisfies repomanager.RepositoryManager.
type Manager struct {
	mu   sync.Mutex
	txMu sync.Mutex
	t    tables
	now  func() time.Time
}

func NewManager() *Manager {
	return &Manager{t: newTables(), now: time.Now}
}

// SetClock replaces the timestamp source used for created/updated columns.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Manager) RunMigrations(ctx context.Context) error { return nil }

func (m *Manager) DB() dbx.DBTX { return nil }

// WithTx serializes transactions and restores the pre-transaction snapshot
// when fn fails or panics.
func (m *Manager) WithTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) (err error) {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snapshot := m.t.clone()
	m.mu.Unlock()

	rollback := func() {
		m.mu.Lock()
		m.t = snapshot
		m.mu.Unlock()
	}
	defer func() {
		if p := recover(); p != nil {
			rollback()
			panic(p)
		}
	}()

	if err = fn(ctx, nil); err != nil {
		rollback()
	}
	return err
}

func (m *Manager) Connections(dbx.DBTX) connections.Repository       { return &connectionRepo{m} }
func (m *Manager) RootFolders(dbx.DBTX) rootfolders.Repository       { return &rootRepo{m} }
func (m *Manager) FolderMappings(dbx.DBTX) foldermappings.Repository { return &mappingRepo{m} }
func (m *Manager) Files(dbx.DBTX) files.Repository                   { return &fileRepo{m} }
func (m *Manager) SyncStates(dbx.DBTX) syncstates.Repository         { return &syncStateRepo{m} }
func (m *Manager) Conflicts(dbx.DBTX) conflicts.Repository           { return &conflictRepo{m} }
func (m *Manager) Galleries(dbx.DBTX) galleries.Repository           { return &galleryRepo{m} }
