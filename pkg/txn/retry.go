package txn

import (
	"context"
	"fmt"

	"github.com/leapstack-labs/leaptx/pkg/core"
	"github.com/sethvargo/go-retry"
)

// blockFunc is a unit of work together with the scope carrying its binding.
type blockFunc[T any] func(s Scope, tx *Transaction) (T, error)

// run resolves the target database and runs fn either as a nested block or
// as a top-level block with retries.
func run[T any](scope Scope, fn blockFunc[T], opts ...Option) (T, error) {
	var zero T
	o := applyOptions(opts)

	mgr, outer, err := resolve(scope, o)
	if err != nil {
		return zero, err
	}
	if outer != nil {
		return runNested(scope, mgr, outer, fn, o)
	}
	return runTopLevel(scope, mgr, fn, o)
}

// resolve finds the manager to use and the transaction already current for
// it, if any. Without an explicit database the most recently bound
// transaction wins, then the default database.
func resolve(scope Scope, o callOptions) (*Manager, *Transaction, error) {
	if o.db != nil {
		mgr, err := o.db.Manager()
		if err != nil {
			return nil, nil, err
		}
		return mgr, scope.lookup(mgr), nil
	}

	if tx := scope.latest(); tx != nil {
		mgr, err := tx.db.Manager()
		if err != nil {
			return nil, nil, err
		}
		return mgr, tx, nil
	}

	db := DefaultDatabase()
	if db == nil {
		return nil, nil, configError("transaction", ErrNoDatabase)
	}
	mgr, err := db.Manager()
	if err != nil {
		return nil, nil, err
	}
	return mgr, nil, nil
}

// runTopLevel drives the retry loop. Each attempt gets a fresh transaction
// and is fully released before the backoff wait.
func runTopLevel[T any](scope Scope, mgr *Manager, fn blockFunc[T], o callOptions) (T, error) {
	var result T
	txOpts, policy := mgr.callSettings(o)
	if err := policy.Validate(); err != nil {
		return result, err
	}

	var (
		attempt int
		last    *Transaction
	)
	backoff := newDelayBackoff(policy, mgr.jitter)
	err := retry.Do(scope.Context(), backoff, func(context.Context) error {
		attempt++
		tx, res, err := runAttempt(scope, mgr, fn, txOpts, attempt)
		last = tx
		if err == nil {
			result = res
			return nil
		}
		if tx != nil && mgr.db.isTransient(err) {
			tx.logger.Warn("transaction attempt failed",
				"attempt", attempt,
				"max_attempts", policy.MaxAttempts,
				"error", err)
			tx.setState(StateRetrying)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && last != nil && last.State() == StateRetrying {
		last.setState(StateFailed)
	}
	return result, err
}

// runAttempt runs one attempt of a top-level block. It commits on success and
// rolls back on failure or panic. Cleanup runs unconditionally with a context
// that ignores cancellation.
func runAttempt[T any](scope Scope, mgr *Manager, fn blockFunc[T], opts core.TxOptions, attempt int) (tx *Transaction, result T, err error) {
	ctx := scope.Context()
	tx, err = mgr.NewTransaction(ctx, opts, nil)
	if err != nil {
		return nil, result, err
	}
	tx.attempt = attempt
	tx.setState(StateRunning)

	bound, restore := mgr.Bind(scope, tx)
	finished := false
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		if !finished {
			tx.rollbackLogged(cleanupCtx, fmt.Errorf("panic in transaction block"))
		}
		tx.close(cleanupCtx)
		restore()
	}()

	result, err = fn(bound, tx)
	if err == nil {
		err = tx.Commit(ctx)
	}
	if err != nil {
		tx.rollbackLogged(context.WithoutCancel(ctx), err)
		finished = true
		var zero T
		return tx, zero, err
	}
	tx.setState(StateCommitted)
	finished = true
	return tx, result, nil
}

// runNested runs a block inside an outer transaction. It is never retried on
// its own; a transient failure propagates to the outermost block. With
// nesting enabled the block commits its savepoint eagerly on success.
func runNested[T any](scope Scope, mgr *Manager, outer *Transaction, fn blockFunc[T], o callOptions) (T, error) {
	var zero T
	ctx := scope.Context()

	opts := core.TxOptions{Isolation: outer.opts.Isolation, ReadOnly: outer.opts.ReadOnly}
	if o.isolation != nil {
		opts.Isolation = *o.isolation
	}
	if o.readOnly != nil {
		opts.ReadOnly = *o.readOnly
	}

	tx, err := mgr.NewTransaction(ctx, opts, outer)
	if err != nil {
		return zero, err
	}
	if tx != outer {
		tx.setState(StateRunning)
	}

	bound, restore := mgr.Bind(scope, tx)
	finished := false
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		if !finished {
			tx.rollbackLogged(cleanupCtx, fmt.Errorf("panic in nested transaction block"))
		}
		if tx != outer {
			tx.close(cleanupCtx)
		}
		restore()
	}()

	result, err := fn(bound, tx)
	if err == nil && tx != outer {
		err = tx.Commit(ctx)
	}
	if err != nil {
		tx.rollbackLogged(context.WithoutCancel(ctx), err)
		finished = true
		return zero, err
	}
	if tx != outer {
		tx.setState(StateCommitted)
	}
	finished = true
	return result, nil
}
