// Package adapter provides the database/sql implementation of the connection
// contract consumed by the leaptx transaction engine.
//
// This package contains the public contract that all database adapters must implement.
// Concrete adapter implementations are in pkg/adapters/ subdirectories.
package adapter

import (
	"context"
	"database/sql"

	"github.com/leapstack-labs/leaptx/pkg/core"
)

// Config is an alias for core.AdapterConfig.
type Config = core.AdapterConfig

// Adapter defines the interface that all database adapters must implement.
// An adapter owns a connection pool and hands out transactional connections
// through its Connector.
type Adapter interface {
	// Connect opens the connection pool using the provided config.
	Connect(ctx context.Context, cfg Config) error

	// Close closes the connection pool and releases resources.
	Close() error

	// Exec executes a SQL statement outside of any managed transaction.
	Exec(ctx context.Context, sql string) error

	// DB returns the underlying pool, or nil before Connect.
	DB() *sql.DB

	// Dialect returns the vendor capabilities of this backend.
	Dialect() core.Dialect

	// Connector returns a connector that acquires connections from the pool,
	// each already inside a physical transaction.
	Connector() core.Connector
}
