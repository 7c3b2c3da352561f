package txn

import (
	"context"
	"database/sql"
	"slices"
	"time"

	"github.com/leapstack-labs/leaptx/pkg/core"
)

// Exec executes a statement that returns no rows.
func (t *Transaction) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := t.execute(ctx, query, func(conn core.Connection) error {
		var err error
		res, err = conn.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

// Query runs a query. The rows are closed when the transaction is cleaned
// up if the caller has not closed them already.
func (t *Transaction) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	err := t.execute(ctx, query, func(conn core.Connection) error {
		var err error
		//nolint:rowserrcheck // rows.Err() must be checked by caller after iteration completes
		rows, err = conn.QueryContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.openRows = append(t.openRows, rows)
	t.mu.Unlock()
	return rows, nil
}

// Row is the result of QueryRow.
type Row struct {
	rows *sql.Rows
	err  error
}

// Scan copies the first row into dest and closes the result set.
// It returns sql.ErrNoRows when the query matched nothing.
func (r *Row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	defer r.rows.Close()

	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return err
		}
		return sql.ErrNoRows
	}
	if err := r.rows.Scan(dest...); err != nil {
		return err
	}
	return r.rows.Close()
}

// Err returns the error, if any, from running the query.
func (r *Row) Err() error { return r.err }

// QueryRow runs a query that is expected to return at most one row.
func (t *Transaction) QueryRow(ctx context.Context, query string, args ...any) *Row {
	rows, err := t.Query(ctx, query, args...)
	return &Row{rows: rows, err: err}
}

// execute runs one statement on the physical connection, holding the
// connection lock so statements of one transaction never interleave.
func (t *Transaction) execute(ctx context.Context, query string, run func(core.Connection) error) error {
	unlock := t.lockConn()
	defer unlock()

	conn, err := t.acquire(ctx)
	if err != nil {
		return err
	}

	var hooks []StatementInterceptor
	for _, i := range t.allInterceptors() {
		if si, ok := i.(StatementInterceptor); ok {
			hooks = append(hooks, si)
		}
	}
	for _, h := range hooks {
		h.BeforeExecution(ctx, t, query)
	}

	start := time.Now()
	err = run(conn)
	elapsed := time.Since(start)

	t.record(query, elapsed)
	for _, h := range hooks {
		h.AfterExecution(ctx, t, query, elapsed, err)
	}

	if warn := t.db.config.WarnLongStatements; warn > 0 && elapsed > warn {
		t.logger.Warn("long running statement",
			"duration", elapsed.String(),
			"threshold", warn.String(),
			"statement", query)
	}
	return err
}

func (t *Transaction) record(query string, elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statementCount++
	t.duration += elapsed
	if t.db.config.KeepStatements {
		t.statements = append(t.statements, query)
	}
}

// StatementCount returns the number of statements executed.
func (t *Transaction) StatementCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statementCount
}

// Duration returns the cumulative execution time of all statements.
func (t *Transaction) Duration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.duration
}

// Statements returns the executed statements. It is empty unless the
// database was configured with KeepStatements.
func (t *Transaction) Statements() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.statements)
}
