package txn

import (
	"context"
	"database/sql"
	"math/rand/v2"
	"sync"

	"github.com/leapstack-labs/leaptx/pkg/core"
)

// Manager creates transactions for one Database and resolves which
// transaction is current in a Scope. Its defaults may be changed at runtime.
type Manager struct {
	db *Database

	mu        sync.RWMutex
	isolation sql.IsolationLevel
	readOnly  bool
	policy    RetryPolicy

	// jitter returns a value in [0, n). Replaced in tests.
	jitter func(n int64) int64
}

func newManager(db *Database) (*Manager, error) {
	level, err := ParseIsolation(db.config.Isolation)
	if err != nil {
		return nil, configError("register "+db.name, err)
	}
	return &Manager{
		db:        db,
		isolation: level,
		readOnly:  db.config.ReadOnly,
		policy:    db.config.RetryPolicy(),
		jitter:    rand.Int64N,
	}, nil
}

// Database returns the database the manager belongs to.
func (m *Manager) Database() *Database { return m.db }

// DefaultIsolation returns the isolation level new transactions use.
func (m *Manager) DefaultIsolation() sql.IsolationLevel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isolation
}

// SetDefaultIsolation changes the isolation level for new transactions.
func (m *Manager) SetDefaultIsolation(level sql.IsolationLevel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isolation = level
}

// DefaultReadOnly reports whether new transactions are read-only.
func (m *Manager) DefaultReadOnly() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.readOnly
}

// SetDefaultReadOnly changes the read-only default for new transactions.
func (m *Manager) SetDefaultReadOnly(readOnly bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readOnly = readOnly
}

// RetryPolicy returns the current retry policy.
func (m *Manager) RetryPolicy() RetryPolicy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policy
}

// SetRetryPolicy replaces the retry policy. Invalid policies are rejected.
func (m *Manager) SetRetryPolicy(p RetryPolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy = p
	return nil
}

// Config returns the database configuration with the manager's current
// defaults applied.
func (m *Manager) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg := m.db.config
	cfg.Isolation = FormatIsolation(m.isolation)
	cfg.ReadOnly = m.readOnly
	cfg.MaxAttempts = m.policy.MaxAttempts
	cfg.MinRetryDelay = m.policy.MinDelay
	cfg.MaxRetryDelay = m.policy.MaxDelay
	return cfg
}

// CurrentOrNil returns the transaction bound for m in scope, or nil.
func (m *Manager) CurrentOrNil(scope Scope) *Transaction {
	return scope.lookup(m)
}

// Current returns the transaction bound for m in scope, or ErrNoTransaction.
func (m *Manager) Current(scope Scope) (*Transaction, error) {
	if tx := scope.lookup(m); tx != nil {
		return tx, nil
	}
	return nil, ErrNoTransaction
}

// Bind makes tx the current transaction for m, or clears the binding when
// tx is nil. It returns the scope that carries the binding and a function
// that restores the previous binding. Bindings of other managers are
// unaffected.
func (m *Manager) Bind(scope Scope, tx *Transaction) (Scope, func()) {
	return scope.bind(m, tx)
}

// NewTransaction creates a transaction. With a nil outer the transaction
// acquires its own connection on first use. With a non-nil outer it either
// returns outer itself, when nesting is disabled, or opens a savepoint on the
// outer transaction's connection. Only one nested transaction may be open on
// an outer transaction at a time; a second one fails with ErrNestedBusy.
func (m *Manager) NewTransaction(ctx context.Context, opts core.TxOptions, outer *Transaction) (*Transaction, error) {
	if m.db.manager.Load() != m {
		return nil, configError(m.db.name, ErrDatabaseClosed)
	}
	if outer == nil {
		return newTransaction(m, opts, nil), nil
	}
	if outer.manager != m {
		return nil, configError(m.db.name, ErrForeignOuter)
	}
	if !m.db.config.NestedTransactions {
		return outer, nil
	}

	tx := newTransaction(m, opts, outer)
	if !outer.claimChild(tx) {
		return nil, ErrNestedBusy
	}
	if err := tx.openSavepoint(ctx); err != nil {
		outer.releaseChild(tx)
		return nil, err
	}
	return tx, nil
}

// callSettings resolves the options of one call against the defaults.
func (m *Manager) callSettings(o callOptions) (core.TxOptions, RetryPolicy) {
	m.mu.RLock()
	opts := core.TxOptions{Isolation: m.isolation, ReadOnly: m.readOnly}
	policy := m.policy
	m.mu.RUnlock()

	if o.isolation != nil {
		opts.Isolation = *o.isolation
	}
	if o.readOnly != nil {
		opts.ReadOnly = *o.readOnly
	}
	if o.maxAttempts != nil {
		policy.MaxAttempts = *o.maxAttempts
	}
	if o.minDelay != nil {
		policy.MinDelay = *o.minDelay
	}
	if o.maxDelay != nil {
		policy.MaxDelay = *o.maxDelay
	}
	return opts, policy
}
