package txn

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leapstack-labs/leaptx/internal/testutil"
	"github.com/leapstack-labs/leaptx/pkg/core"
	"github.com/stretchr/testify/require"
)

var errSerialization = errors.New("could not serialize access due to concurrent update")

// recorder is a core.Connector whose connections log every call.
type recorder struct {
	mu     sync.Mutex
	events []string

	connectOpts  []core.TxOptions
	rollbackErr  error
	commitErrs   []error
	execDelay    time.Duration
	savepointErr error
}

func (r *recorder) Connect(_ context.Context, opts core.TxOptions) (core.Connection, error) {
	r.mu.Lock()
	r.connectOpts = append(r.connectOpts, opts)
	r.mu.Unlock()
	r.record("connect")
	return &fakeConn{rec: r}, nil
}

func (r *recorder) record(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) count(event string) int {
	n := 0
	for _, e := range r.Events() {
		if e == event {
			n++
		}
	}
	return n
}

func (r *recorder) countPrefix(prefix string) int {
	n := 0
	for _, e := range r.Events() {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

type fakeSavepoint string

func (s fakeSavepoint) Name() string { return string(s) }

type fakeConn struct {
	rec    *recorder
	closed bool
}

func (c *fakeConn) ExecContext(_ context.Context, query string, _ ...any) (sql.Result, error) {
	if c.rec.execDelay > 0 {
		time.Sleep(c.rec.execDelay)
	}
	c.rec.record("exec %s", query)
	return driver.RowsAffected(1), nil
}

func (c *fakeConn) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errors.New("queries are not supported by the fake connection")
}

func (c *fakeConn) Commit(context.Context) error {
	c.rec.record("commit")
	c.rec.mu.Lock()
	defer c.rec.mu.Unlock()
	if len(c.rec.commitErrs) > 0 {
		err := c.rec.commitErrs[0]
		c.rec.commitErrs = c.rec.commitErrs[1:]
		return err
	}
	return nil
}

func (c *fakeConn) Rollback(ctx context.Context) error {
	if ctx.Err() != nil {
		c.rec.record("rollback with cancelled context")
		return ctx.Err()
	}
	c.rec.record("rollback")
	return c.rec.rollbackErr
}

func (c *fakeConn) SetSavepoint(_ context.Context, name string) (core.Savepoint, error) {
	if c.rec.savepointErr != nil {
		return nil, c.rec.savepointErr
	}
	c.rec.record("savepoint %s", name)
	return fakeSavepoint(name), nil
}

func (c *fakeConn) RollbackTo(_ context.Context, sp core.Savepoint) error {
	c.rec.record("rollback to %s", sp.Name())
	return c.rec.rollbackErr
}

func (c *fakeConn) ReleaseSavepoint(_ context.Context, sp core.Savepoint) error {
	c.rec.record("release %s", sp.Name())
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	c.rec.record("close")
	return nil
}

func (c *fakeConn) IsClosed() bool { return c.closed }

type fakeDialect struct {
	core.StandardSavepoints
	savepoints bool
}

func (fakeDialect) Name() string               { return "fake" }
func (d fakeDialect) SupportsSavepoints() bool { return d.savepoints }
func (fakeDialect) IsTransient(err error) bool { return errors.Is(err, errSerialization) }

// resetRegistry unregisters every database and clears global interceptors.
func resetRegistry(t *testing.T) {
	t.Helper()
	for _, db := range Databases() {
		Unregister(db)
	}
	SetDefaultDatabase(nil)

	interceptorMu.Lock()
	globalInterceptors = nil
	interceptorMu.Unlock()
}

// newTestDB registers a database backed by rec. The registry is reset before
// and after the test.
func newTestDB(t *testing.T, rec *recorder, nested bool, opts ...DatabaseOption) *Database {
	t.Helper()
	resetRegistry(t)
	t.Cleanup(func() { resetRegistry(t) })

	base := []DatabaseOption{
		WithLogger(testutil.NewTestLogger(t)),
		WithNestedTransactions(nested),
	}
	db, err := Connect(rec, fakeDialect{savepoints: true}, append(base, opts...)...)
	require.NoError(t, err)
	return db
}
