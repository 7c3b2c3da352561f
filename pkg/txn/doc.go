// Package txn runs units of work against registered databases.
//
// A unit of work is a function executed inside a Transaction. The engine
// acquires the physical connection lazily, commits when the function returns
// nil, rolls back otherwise and retries the whole attempt when the failure is
// transient. Calls made while a transaction is already current for the same
// database nest: they either reuse the outer transaction or isolate their
// work behind a savepoint, depending on the database configuration.
//
// Two execution contexts are supported and behave identically:
//
//   - A *Session is pinned to one goroutine and carries a mutable binding.
//     Use Exec and Run with it.
//   - A context.Context carries the binding as an immutable value, so
//     goroutines started with a derived context inherit the transaction.
//     Use ExecContext and RunContext with it.
//
// Basic usage:
//
//	db, err := txn.Connect(adp.Connector(), adp.Dialect())
//	...
//	err = txn.ExecContext(ctx, func(ctx context.Context, tx *txn.Transaction) error {
//		_, err := tx.Exec(ctx, "UPDATE accounts SET balance = balance - 10 WHERE id = 1")
//		return err
//	})
package txn
