package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/leapstack-labs/leaptx/internal/testutil"
	"github.com/leapstack-labs/leaptx/pkg/adapter"
	"github.com/leapstack-labs/leaptx/pkg/adapters/sqlite"
	"github.com/leapstack-labs/leaptx/pkg/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var errAbort = errors.New("abort")

type fixture struct {
	store *Store
	db    *txn.Database
	adp   *sqlite.Adapter
}

func newFixture(t *testing.T, nested bool) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := testutil.NewTestLogger(t)

	adp := sqlite.New(logger)
	require.NoError(t, adp.Connect(ctx, adapter.Config{Path: ":memory:"}))
	t.Cleanup(func() { _ = adp.Close() })
	require.NoError(t, Migrate(ctx, adp.DB(), "sqlite"))

	db, err := txn.Connect(adp.Connector(), adp.Dialect(),
		txn.WithName(t.Name()),
		txn.WithLogger(logger),
		txn.WithNestedTransactions(nested))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return &fixture{store: NewStore(db, logger), db: db, adp: adp}
}

func (f *fixture) open(t *testing.T, owner string, balance int64) Account {
	t.Helper()
	acct, err := f.store.OpenAccount(context.Background(), owner, balance)
	require.NoError(t, err)
	return acct
}

func (f *fixture) balance(t *testing.T, id string) int64 {
	t.Helper()
	acct, err := f.store.Account(context.Background(), id)
	require.NoError(t, err)
	return acct.Balance
}

func TestTransfer_MovesMoney(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	alice := f.open(t, "alice", 100)
	bob := f.open(t, "bob", 0)

	tr, err := f.store.Transfer(ctx, alice.ID, bob.ID, 30)
	require.NoError(t, err)
	assert.True(t, tr.Audited)
	assert.Equal(t, 1, tr.Attempts)
	assert.NotEmpty(t, tr.ID)

	assert.Equal(t, int64(70), f.balance(t, alice.ID))
	assert.Equal(t, int64(30), f.balance(t, bob.ID))

	entries, err := f.store.AuditLog(ctx, tr.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Message, "moved 30")

	total, err := f.store.TotalBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(100), total)
}

func TestTransfer_Rejected(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	alice := f.open(t, "alice", 10)
	bob := f.open(t, "bob", 0)

	tests := []struct {
		name    string
		from    string
		to      string
		amount  int64
		wantErr error
	}{
		{"insufficient funds", alice.ID, bob.ID, 11, ErrInsufficientFunds},
		{"unknown source", "missing", bob.ID, 1, ErrAccountNotFound},
		{"unknown target", alice.ID, "missing", 1, ErrAccountNotFound},
		{"zero amount", alice.ID, bob.ID, 0, ErrInvalidAmount},
		{"same account", alice.ID, alice.ID, 1, ErrSameAccount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.store.Transfer(ctx, tt.from, tt.to, tt.amount)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Equal(t, int64(10), f.balance(t, alice.ID))
	assert.Equal(t, int64(0), f.balance(t, bob.ID))
}

func TestTransfer_AuditFailureWithSavepoints(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	alice := f.open(t, "alice", 50)
	bob := f.open(t, "bob", 0)

	require.NoError(t, f.adp.Exec(ctx, "DROP TABLE audit_log"))

	tr, err := f.store.Transfer(ctx, alice.ID, bob.ID, 20)
	require.NoError(t, err)
	assert.False(t, tr.Audited)
	assert.Equal(t, int64(30), f.balance(t, alice.ID))
	assert.Equal(t, int64(20), f.balance(t, bob.ID))
}

func TestTransfer_AuditFailureFlattened(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	alice := f.open(t, "alice", 50)
	bob := f.open(t, "bob", 0)

	require.NoError(t, f.adp.Exec(ctx, "DROP TABLE audit_log"))

	_, err := f.store.Transfer(ctx, alice.ID, bob.ID, 20)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit")
	assert.Equal(t, int64(50), f.balance(t, alice.ID))
	assert.Equal(t, int64(0), f.balance(t, bob.ID))
}

func TestTransfer_JoinsCallerTransaction(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	alice := f.open(t, "alice", 100)
	bob := f.open(t, "bob", 0)

	err := txn.ExecContext(ctx, func(ctx context.Context, tx *txn.Transaction) error {
		if _, err := f.store.Transfer(ctx, alice.ID, bob.ID, 10); err != nil {
			return err
		}
		if _, err := f.store.Transfer(ctx, alice.ID, bob.ID, 15); err != nil {
			return err
		}
		acct, err := f.store.Account(ctx, bob.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(25), acct.Balance, "nested reads see uncommitted work")
		return errAbort
	}, txn.WithDatabase(f.db))
	require.ErrorIs(t, err, errAbort)

	assert.Equal(t, int64(100), f.balance(t, alice.ID))
	assert.Equal(t, int64(0), f.balance(t, bob.ID))
}

func TestTransfer_ConcurrentWorkers(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	alice := f.open(t, "alice", 200)
	bob := f.open(t, "bob", 200)

	g, gctx := errgroup.WithContext(ctx)
	for i := range 20 {
		from, to := alice.ID, bob.ID
		if i%2 == 1 {
			from, to = to, from
		}
		g.Go(func() error {
			_, err := f.store.Transfer(gctx, from, to, int64(i+1))
			return err
		})
	}
	require.NoError(t, g.Wait())

	// Alice sends 1+3+...+19 = 100 and receives 2+4+...+20 = 110.
	assert.Equal(t, int64(210), f.balance(t, alice.ID))
	assert.Equal(t, int64(190), f.balance(t, bob.ID))

	accounts, err := f.store.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "alice", accounts[0].Owner)
}

func TestOpenAccount_NegativeBalance(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.store.OpenAccount(context.Background(), "mallory", -1)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestMigrate_Version(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	v, err := Version(ctx, f.adp.DB(), "sqlite")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	require.NoError(t, Rollback(ctx, f.adp.DB(), "sqlite"))
	v, err = Version(ctx, f.adp.DB(), "sqlite")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	require.NoError(t, Migrate(ctx, f.adp.DB(), "sqlite"), "migrating again is idempotent")

	err = Migrate(ctx, f.adp.DB(), "duckdb")
	assert.ErrorIs(t, err, ErrUnsupportedDialect)
	assert.ErrorContains(t, err, "not supported for duckdb")
}

func TestSupports(t *testing.T) {
	assert.True(t, Supports("sqlite"))
	assert.True(t, Supports("postgres"))
	assert.False(t, Supports("duckdb"))
}
