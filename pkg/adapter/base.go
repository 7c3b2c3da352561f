package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/leaptx/pkg/core"
)

// BaseSQLAdapter provides common database/sql functionality for adapters.
// Embed this struct in concrete adapter implementations to get standard
// Close, Exec, DB and Connector implementations.
type BaseSQLAdapter struct {
	Pool   *sql.DB
	Cfg    core.AdapterConfig
	Logger *slog.Logger
}

// Close closes the database connection pool.
func (b *BaseSQLAdapter) Close() error {
	if b.Pool != nil {
		if b.Logger != nil {
			b.Logger.Debug("closing database connection")
		}
		return b.Pool.Close()
	}
	return nil
}

// Exec executes a SQL statement that doesn't return rows.
func (b *BaseSQLAdapter) Exec(ctx context.Context, sqlStr string) error {
	if b.Pool == nil {
		return fmt.Errorf("database connection not established")
	}
	_, err := b.Pool.ExecContext(ctx, sqlStr)
	if err != nil {
		return fmt.Errorf("failed to execute SQL: %w", err)
	}
	return nil
}

// DB returns the underlying connection pool.
func (b *BaseSQLAdapter) DB() *sql.DB {
	return b.Pool
}

// IsConnected returns true if the database connection is established.
func (b *BaseSQLAdapter) IsConnected() bool {
	return b.Pool != nil
}

// NewConnector returns a connector over the adapter's pool for the given dialect.
func (b *BaseSQLAdapter) NewConnector(d core.Dialect) core.Connector {
	return &SQLConnector{DB: b.Pool, Dialect: d, Logger: b.Logger}
}
