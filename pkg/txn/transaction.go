package txn

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/leapstack-labs/leaptx/pkg/core"
)

// State is the lifecycle state of a Transaction.
type State int

const (
	StatePending State = iota
	StateRunning
	StateCommitted
	StateRolledBack
	StateRetrying
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled back"
	case StateRetrying:
		return "retrying"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Transaction is one unit of work against a Database.
//
// The outermost transaction owns the physical connection and acquires it on
// first use. A nested transaction borrows its outer transaction's connection
// and isolates its work behind a savepoint.
type Transaction struct {
	id      uuid.UUID
	db      *Database
	manager *Manager
	outer   *Transaction
	opts    core.TxOptions
	logger  *slog.Logger

	// connMu serializes use of the physical connection. Only the outermost
	// transaction's mutex is used.
	connMu sync.Mutex
	conn   core.Connection
	closed bool

	savepoint     core.Savepoint
	savepointName string

	// child is the nested transaction currently open on t, guarded by mu.
	child *Transaction

	mu             sync.Mutex
	state          State
	attempt        int
	statementCount int
	duration       time.Duration
	statements     []string
	openRows       []*sql.Rows
	interceptors   []Interceptor
	userData       map[any]any
}

func newTransaction(m *Manager, opts core.TxOptions, outer *Transaction) *Transaction {
	id := uuid.New()
	tx := &Transaction{
		id:       id,
		db:       m.db,
		manager:  m,
		outer:    outer,
		opts:     opts,
		logger:   m.db.logger.With("tx", id.String()),
		attempt:  1,
		userData: make(map[any]any),
	}
	if outer != nil {
		tx.attempt = outer.Attempt()
	}
	return tx
}

// ID returns the transaction's unique identifier.
func (t *Transaction) ID() uuid.UUID { return t.id }

// Database returns the database the transaction runs against.
func (t *Transaction) Database() *Database { return t.db }

// Manager returns the manager that created the transaction.
func (t *Transaction) Manager() *Manager { return t.manager }

// Outer returns the enclosing transaction of a nested transaction, or nil.
func (t *Transaction) Outer() *Transaction { return t.outer }

// Isolation returns the isolation level the transaction was opened with.
func (t *Transaction) Isolation() sql.IsolationLevel { return t.opts.Isolation }

// ReadOnly reports whether the transaction is read-only.
func (t *Transaction) ReadOnly() bool { return t.opts.ReadOnly }

// Nested reports whether the transaction runs inside a savepoint.
func (t *Transaction) Nested() bool { return t.outer != nil }

// SavepointName returns the name of the transaction's savepoint, or "".
func (t *Transaction) SavepointName() string { return t.savepointName }

// State returns the current lifecycle state.
func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transaction) setState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// Attempt returns the 1-based attempt number of the enclosing retry loop.
func (t *Transaction) Attempt() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempt
}

// Set stores a value in the transaction's user data. User data is cleared
// on commit and rollback; interceptors may carry entries across a commit.
func (t *Transaction) Set(key, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.userData[key] = value
}

// Get returns a value stored with Set.
func (t *Transaction) Get(key any) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.userData[key]
	return v, ok
}

// Delete removes a value stored with Set.
func (t *Transaction) Delete(key any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.userData, key)
}

func (t *Transaction) userDataSnapshot() map[any]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.userData)
}

func (t *Transaction) replaceUserData(data map[any]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.userData = make(map[any]any, len(data))
	maps.Copy(t.userData, data)
}

// RegisterInterceptor adds an interceptor that only applies to t.
// Global interceptors run before per-transaction ones.
func (t *Transaction) RegisterInterceptor(i Interceptor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.interceptors = append(t.interceptors, i)
}

func (t *Transaction) allInterceptors() []Interceptor {
	t.mu.Lock()
	local := slices.Clone(t.interceptors)
	t.mu.Unlock()
	return append(globalInterceptorList(), local...)
}

// claimChild records c as the open nested transaction of t. It fails when
// another nested transaction is still open.
func (t *Transaction) claimChild(c *Transaction) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.child != nil {
		return false
	}
	t.child = c
	return true
}

func (t *Transaction) releaseChild(c *Transaction) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.child == c {
		t.child = nil
	}
}

// root returns the transaction that owns the physical connection.
func (t *Transaction) root() *Transaction {
	r := t
	for r.outer != nil {
		r = r.outer
	}
	return r
}

func (t *Transaction) lockConn() func() {
	r := t.root()
	r.connMu.Lock()
	return r.connMu.Unlock
}

// acquire returns the physical connection, connecting on first use.
// The caller must hold the connection lock.
func (t *Transaction) acquire(ctx context.Context) (core.Connection, error) {
	r := t.root()
	if r.closed {
		return nil, sql.ErrConnDone
	}
	if r.conn == nil {
		conn, err := r.db.connector.Connect(ctx, r.opts)
		if err != nil {
			return nil, err
		}
		r.conn = conn
		r.logger.Debug("connection acquired", "isolation", r.opts.Isolation.String(), "read_only", r.opts.ReadOnly)
	}
	return r.conn, nil
}

// Connection returns the physical connection, acquiring it if needed.
// Statements issued directly on it bypass statement tracking.
func (t *Transaction) Connection(ctx context.Context) (core.Connection, error) {
	unlock := t.lockConn()
	defer unlock()
	return t.acquire(ctx)
}

// initialized reports whether a physical connection is open.
// The caller must hold the connection lock.
func (t *Transaction) initialized() bool {
	r := t.root()
	return r.conn != nil && !r.conn.IsClosed()
}

// Commit commits the transaction. On a nested transaction this releases the
// savepoint and opens it again under the same name, so the outer transaction
// still decides whether the work becomes durable. Committing a transaction
// that never used its connection does nothing.
//
// Commit may be called inside a block; the transaction keeps accepting
// statements afterwards.
func (t *Transaction) Commit(ctx context.Context) error {
	interceptors := t.allInterceptors()

	kept := make(map[any]any)
	snapshot := t.userDataSnapshot()
	for _, i := range interceptors {
		if k, ok := i.(UserDataKeeper); ok {
			maps.Copy(kept, k.KeepOnCommit(t, snapshot))
		}
	}
	for _, i := range interceptors {
		if err := i.BeforeCommit(ctx, t); err != nil {
			return err
		}
	}

	if err := t.commitConnection(ctx); err != nil {
		return err
	}
	t.replaceUserData(nil)

	for _, i := range interceptors {
		i.AfterCommit(ctx, t)
	}
	t.replaceUserData(kept)
	return nil
}

func (t *Transaction) commitConnection(ctx context.Context) error {
	unlock := t.lockConn()
	defer unlock()

	if !t.initialized() {
		return nil
	}
	if t.outer != nil {
		return t.resetSavepoint(ctx, false)
	}
	if err := t.root().conn.Commit(ctx); err != nil {
		return err
	}
	t.logger.Debug("committed", "statements", t.StatementCount())
	return nil
}

// Rollback discards the transaction's work. On a nested transaction only
// the work done since its savepoint is discarded.
func (t *Transaction) Rollback(ctx context.Context) error {
	interceptors := t.allInterceptors()
	for _, i := range interceptors {
		i.BeforeRollback(ctx, t)
	}

	err := t.rollbackConnection(ctx)

	for _, i := range interceptors {
		i.AfterRollback(ctx, t)
	}
	t.replaceUserData(nil)
	return err
}

func (t *Transaction) rollbackConnection(ctx context.Context) error {
	unlock := t.lockConn()
	defer unlock()

	if !t.initialized() {
		return nil
	}
	if t.outer != nil {
		return t.resetSavepoint(ctx, true)
	}
	if err := t.root().conn.Rollback(ctx); err != nil {
		return err
	}
	t.logger.Debug("rolled back")
	return nil
}

// rollbackLogged rolls back after cause was observed. A rollback failure is
// logged and never replaces cause.
func (t *Transaction) rollbackLogged(ctx context.Context, cause error) {
	if err := t.Rollback(ctx); err != nil {
		t.logger.Warn("rollback failed", "error", err, "cause", cause)
		t.setState(StateFailed)
		return
	}
	t.setState(StateRolledBack)
}

// close releases the transaction's resources: open result sets, then the
// savepoint of a nested transaction or the connection of an outermost one.
// Failures are logged.
func (t *Transaction) close(ctx context.Context) {
	t.closeRows()

	unlock := t.lockConn()
	defer unlock()

	if t.outer != nil {
		defer t.outer.releaseChild(t)
		if t.savepoint == nil || !t.initialized() {
			t.savepoint = nil
			return
		}
		if err := t.root().conn.ReleaseSavepoint(ctx, t.savepoint); err != nil {
			t.logger.Warn("failed to release savepoint", "savepoint", t.savepointName, "error", err)
		}
		t.savepoint = nil
		return
	}

	t.closed = true
	if t.conn == nil {
		return
	}
	if err := t.conn.Close(); err != nil {
		t.logger.Warn("failed to close connection", "error", err)
	}
	t.logger.Debug("connection closed",
		"statements", t.StatementCount(),
		"duration", t.Duration().String())
}

func (t *Transaction) closeRows() {
	t.mu.Lock()
	rows := t.openRows
	t.openRows = nil
	t.mu.Unlock()

	var errs []error
	for _, r := range rows {
		errs = append(errs, r.Close())
	}
	if err := errors.Join(errs...); err != nil {
		t.logger.Warn("failed to close result set", "error", err)
	}
}
