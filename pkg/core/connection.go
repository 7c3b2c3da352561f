package core

import (
	"context"
	"database/sql"
)

// TxOptions holds the settings a physical transaction is opened with.
type TxOptions struct {
	Isolation sql.IsolationLevel
	ReadOnly  bool
}

// Savepoint is a named rollback point inside one physical transaction.
type Savepoint interface {
	Name() string
}

// Querier executes statements on a connection.
// It is implemented by *sql.Conn, *sql.Tx and every Connection.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Connection is the narrow contract the transaction engine needs from a
// physical database connection that is already inside a transaction.
//
// A Connection is not safe for concurrent use. Every method that talks to the
// server takes a context so the same contract serves blocking callers and
// cancellable, context-scoped callers.
type Connection interface {
	Querier

	// Commit commits the current physical transaction. The connection keeps
	// accepting statements afterwards in a new transaction.
	Commit(ctx context.Context) error

	// Rollback rolls back the current physical transaction.
	Rollback(ctx context.Context) error

	// SetSavepoint creates a savepoint with the given name.
	SetSavepoint(ctx context.Context, name string) (Savepoint, error)

	// RollbackTo rolls back to the given savepoint. The savepoint is consumed.
	RollbackTo(ctx context.Context, sp Savepoint) error

	// ReleaseSavepoint releases the given savepoint.
	ReleaseSavepoint(ctx context.Context, sp Savepoint) error

	// Close discards any uncommitted work and returns the connection.
	Close() error

	// IsClosed reports whether Close has been called.
	IsClosed() bool
}

// Connector acquires a fresh physical connection opened with the given options.
type Connector interface {
	Connect(ctx context.Context, opts TxOptions) (Connection, error)
}

// ConnectorFunc adapts a plain function to the Connector interface.
type ConnectorFunc func(ctx context.Context, opts TxOptions) (Connection, error)

// Connect calls f(ctx, opts).
func (f ConnectorFunc) Connect(ctx context.Context, opts TxOptions) (Connection, error) {
	return f(ctx, opts)
}
