package txn

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/leapstack-labs/leaptx/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scopes() map[string]func() Scope {
	return map[string]func() Scope{
		"session": func() Scope { return NewSession(context.Background()) },
		"context": func() Scope { return InContext(context.Background()) },
	}
}

func TestManager_BindRestoreRoundTrip(t *testing.T) {
	db := newTestDB(t, &recorder{}, false)
	m, err := db.Manager()
	require.NoError(t, err)

	for name, newScope := range scopes() {
		t.Run(name, func(t *testing.T) {
			scope := newScope()
			tx, err := m.NewTransaction(context.Background(), core.TxOptions{}, nil)
			require.NoError(t, err)

			assert.Nil(t, m.CurrentOrNil(scope))

			bound, restore := m.Bind(scope, tx)
			assert.Same(t, tx, m.CurrentOrNil(bound))

			restore()
			assert.Nil(t, m.CurrentOrNil(scope))
		})
	}
}

func TestManager_BindNilClears(t *testing.T) {
	db := newTestDB(t, &recorder{}, false)
	m, err := db.Manager()
	require.NoError(t, err)

	for name, newScope := range scopes() {
		t.Run(name, func(t *testing.T) {
			tx, err := m.NewTransaction(context.Background(), core.TxOptions{}, nil)
			require.NoError(t, err)

			bound, restoreOuter := m.Bind(newScope(), tx)
			cleared, restoreClear := m.Bind(bound, nil)

			_, err = m.Current(cleared)
			assert.ErrorIs(t, err, ErrNoTransaction)
			assert.Nil(t, cleared.latest())

			restoreClear()
			got, err := m.Current(bound)
			require.NoError(t, err)
			assert.Same(t, tx, got)
			restoreOuter()
		})
	}
}

func TestManager_TwoDatabasesIsolated(t *testing.T) {
	dbA := newTestDB(t, &recorder{}, false, WithName("a"))
	dbB, err := Connect(&recorder{}, fakeDialect{}, WithName("b"))
	require.NoError(t, err)

	mA, err := dbA.Manager()
	require.NoError(t, err)
	mB, err := dbB.Manager()
	require.NoError(t, err)

	for name, newScope := range scopes() {
		t.Run(name, func(t *testing.T) {
			txA, err := mA.NewTransaction(context.Background(), core.TxOptions{}, nil)
			require.NoError(t, err)

			scope, restore := mA.Bind(newScope(), txA)
			defer restore()

			assert.Same(t, txA, mA.CurrentOrNil(scope))
			assert.Nil(t, mB.CurrentOrNil(scope))

			txB, err := mB.NewTransaction(context.Background(), core.TxOptions{}, nil)
			require.NoError(t, err)
			scope2, restoreB := mB.Bind(scope, txB)
			defer restoreB()

			assert.Same(t, txA, mA.CurrentOrNil(scope2))
			assert.Same(t, txB, mB.CurrentOrNil(scope2))

			cleared, restoreClear := mB.Bind(scope2, nil)
			defer restoreClear()
			assert.Same(t, txA, cleared.latest(), "clearing b keeps a current")
		})
	}
}

func TestManager_NewTransactionFlattened(t *testing.T) {
	rec := &recorder{}
	db := newTestDB(t, rec, false)
	m, err := db.Manager()
	require.NoError(t, err)

	outer, err := m.NewTransaction(context.Background(), core.TxOptions{}, nil)
	require.NoError(t, err)

	inner, err := m.NewTransaction(context.Background(), core.TxOptions{}, outer)
	require.NoError(t, err)
	assert.Same(t, outer, inner)
	assert.Empty(t, rec.Events(), "connection is acquired lazily")
}

func TestManager_NewTransactionForeignOuter(t *testing.T) {
	dbA := newTestDB(t, &recorder{}, true)
	dbB, err := Connect(&recorder{}, fakeDialect{savepoints: true}, WithNestedTransactions(true))
	require.NoError(t, err)

	mA, _ := dbA.Manager()
	mB, _ := dbB.Manager()

	outer, err := mA.NewTransaction(context.Background(), core.TxOptions{}, nil)
	require.NoError(t, err)

	_, err = mB.NewTransaction(context.Background(), core.TxOptions{}, outer)
	assert.ErrorIs(t, err, ErrForeignOuter)
}

func TestManager_Defaults(t *testing.T) {
	rec := &recorder{}
	cfg := DefaultConfig()
	cfg.Isolation = "repeatable read"
	cfg.ReadOnly = true
	db := newTestDB(t, rec, false, WithConfig(cfg))
	m, err := db.Manager()
	require.NoError(t, err)

	assert.Equal(t, sql.LevelRepeatableRead, m.DefaultIsolation())
	assert.True(t, m.DefaultReadOnly())

	m.SetDefaultIsolation(sql.LevelSerializable)
	m.SetDefaultReadOnly(false)
	require.NoError(t, m.SetRetryPolicy(RetryPolicy{MaxAttempts: 7, MinDelay: time.Millisecond, MaxDelay: time.Second}))

	got := m.Config()
	assert.Equal(t, "serializable", got.Isolation)
	assert.False(t, got.ReadOnly)
	assert.Equal(t, 7, got.MaxAttempts)
	assert.Equal(t, time.Millisecond, got.MinRetryDelay)
	assert.Equal(t, time.Second, got.MaxRetryDelay)
	assert.Equal(t, "repeatable read", db.Config().Isolation, "database config is immutable")

	err = m.SetRetryPolicy(RetryPolicy{MaxAttempts: 0})
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
	assert.Equal(t, 7, m.RetryPolicy().MaxAttempts)

	err = ExecContext(context.Background(), func(ctx context.Context, tx *Transaction) error {
		_, err := tx.Exec(ctx, "SELECT 1")
		return err
	}, WithReadOnly(true))
	require.NoError(t, err)
	require.Len(t, rec.connectOpts, 1)
	assert.Equal(t, core.TxOptions{Isolation: sql.LevelSerializable, ReadOnly: true}, rec.connectOpts[0])
}

func TestParseIsolation(t *testing.T) {
	tests := []struct {
		in   string
		want sql.IsolationLevel
	}{
		{"", sql.LevelDefault},
		{"default", sql.LevelDefault},
		{"READ COMMITTED", sql.LevelReadCommitted},
		{"repeatable-read", sql.LevelRepeatableRead},
		{"serializable", sql.LevelSerializable},
		{"read_uncommitted", sql.LevelReadUncommitted},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseIsolation(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			if tt.want != sql.LevelDefault {
				back, err := ParseIsolation(FormatIsolation(got))
				require.NoError(t, err)
				assert.Equal(t, got, back)
			}
		})
	}

	_, err := ParseIsolation("dirty")
	assert.ErrorIs(t, err, ErrInvalidIsolation)
}
