package adapter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/leaptx/pkg/core"
)

// SQLConnector acquires dedicated connections from a database/sql pool.
type SQLConnector struct {
	DB      *sql.DB
	Dialect core.Dialect
	Logger  *slog.Logger
}

// Connect checks a connection out of the pool and opens a physical
// transaction on it with the requested isolation and access mode.
func (c *SQLConnector) Connect(ctx context.Context, opts core.TxOptions) (core.Connection, error) {
	if c.DB == nil {
		return nil, fmt.Errorf("database connection not established")
	}

	conn, err := c.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	logger := c.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	sc := &SQLConnection{
		conn:    conn,
		opts:    opts,
		dialect: c.Dialect,
		logger:  logger,
	}
	if _, err := sc.begin(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return sc, nil
}

// savepoint is a named savepoint created by SQLConnection.
type savepoint struct {
	name string
}

func (s savepoint) Name() string { return s.name }

// SQLConnection implements core.Connection on top of a dedicated *sql.Conn.
// A physical transaction is always open while statements run; after Commit or
// Rollback the next statement begins a new one with the same options.
type SQLConnection struct {
	conn    *sql.Conn
	tx      *sql.Tx
	opts    core.TxOptions
	dialect core.Dialect
	logger  *slog.Logger
	closed  bool
}

func (c *SQLConnection) begin(ctx context.Context) (*sql.Tx, error) {
	if c.closed {
		return nil, sql.ErrConnDone
	}
	if c.tx != nil {
		return c.tx, nil
	}
	tx, err := c.conn.BeginTx(ctx, &sql.TxOptions{
		Isolation: c.opts.Isolation,
		ReadOnly:  c.opts.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	c.tx = tx
	return tx, nil
}

// ExecContext executes a statement inside the current physical transaction.
func (c *SQLConnection) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	tx, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	return tx.ExecContext(ctx, query, args...)
}

// QueryContext runs a query inside the current physical transaction.
func (c *SQLConnection) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	tx, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	//nolint:rowserrcheck // rows.Err() must be checked by caller after iteration completes
	return tx.QueryContext(ctx, query, args...)
}

// Commit commits the current physical transaction, if any.
func (c *SQLConnection) Commit(_ context.Context) error {
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	return tx.Commit()
}

// Rollback rolls back the current physical transaction, if any.
func (c *SQLConnection) Rollback(_ context.Context) error {
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// SetSavepoint creates a savepoint in the current physical transaction.
func (c *SQLConnection) SetSavepoint(ctx context.Context, name string) (core.Savepoint, error) {
	if !c.dialect.SupportsSavepoints() {
		return nil, fmt.Errorf("%s does not support savepoints", c.dialect.Name())
	}
	if _, err := c.ExecContext(ctx, c.dialect.SavepointSQL(name)); err != nil {
		return nil, fmt.Errorf("failed to set savepoint %s: %w", name, err)
	}
	return savepoint{name: name}, nil
}

// RollbackTo rolls back to the given savepoint.
func (c *SQLConnection) RollbackTo(ctx context.Context, sp core.Savepoint) error {
	if _, err := c.ExecContext(ctx, c.dialect.RollbackToSavepointSQL(sp.Name())); err != nil {
		return fmt.Errorf("failed to roll back to savepoint %s: %w", sp.Name(), err)
	}
	return nil
}

// ReleaseSavepoint releases the given savepoint.
func (c *SQLConnection) ReleaseSavepoint(ctx context.Context, sp core.Savepoint) error {
	if _, err := c.ExecContext(ctx, c.dialect.ReleaseSavepointSQL(sp.Name())); err != nil {
		return fmt.Errorf("failed to release savepoint %s: %w", sp.Name(), err)
	}
	return nil
}

// Close rolls back any open physical transaction and returns the
// connection to the pool. Calling Close more than once is a no-op.
func (c *SQLConnection) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	var rollbackErr error
	if c.tx != nil {
		c.logger.Debug("discarding uncommitted work on close")
		if err := c.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			rollbackErr = fmt.Errorf("failed to roll back on close: %w", err)
		}
		c.tx = nil
	}
	return errors.Join(rollbackErr, c.conn.Close())
}

// IsClosed reports whether Close has been called.
func (c *SQLConnection) IsClosed() bool {
	return c.closed
}

// Ensure SQLConnection implements core.Connection
var _ core.Connection = (*SQLConnection)(nil)
