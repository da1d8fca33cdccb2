// Package db opens the repository backend selected by configuration.
package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/gophsync/internal/server/repositories/memory"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/repomanager"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// sqlOpen is a seam for tests.
var sqlOpen = sql.Open

// Open returns the repositories for backend ("postgres" or "memory") with
// migrations applied. close releases the database handle.
func Open(ctx context.Context, backend, dsn string) (repos repomanager.RepositoryManager, close func() error, err error) {
	switch backend {
	case "memory":
		return memory.NewManager(), func() error { return nil }, nil
	case "postgres":
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", backend)
	}

	conn, err := sqlOpen("pgx", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("db open error: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("db ping error: %w", err)
	}

	m := repomanager.NewPostgresRepositoryManager(conn)
	if err := m.RunMigrations(ctx); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("db migration error: %w", err)
	}
	return m, conn.Close, nil
}
