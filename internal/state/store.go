// Package state persists build history with database migrations.
//
// Two backends share one implementation: SQLite (the default, zero-setup)
// and PostgreSQL for shared deployments. The dialect is inferred from the
// DSN, so callers only ever hand us a connection string.
package state

import (
	"strings"

	"github.com/rdmontgomery/exa/pkg/core"
)

// Store is the persistence interface consumed by the engine and server.
type Store = core.Store

// Dialect identifies the SQL flavor behind a store.
type Dialect string

// Supported dialects.
const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// DialectFor infers the dialect from a DSN. Anything that does not look
// like a PostgreSQL URL is treated as a SQLite path.
func DialectFor(dsn string) Dialect {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return DialectPostgres
	}
	return DialectSQLite
}

// NewStore creates an unopened store for the given DSN.
func NewStore(dsn string) *SQLStore {
	return &SQLStore{dialect: DialectFor(dsn)}
}

// OpenStore creates a store, opens the connection, and runs migrations.
func OpenStore(dsn string) (*SQLStore, error) {
	s := NewStore(dsn)
	if err := s.Open(dsn); err != nil {
		return nil, err
	}
	if err := s.InitSchema(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
