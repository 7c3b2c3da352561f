package txn

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/leapstack-labs/leaptx/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry_ExecutesExactlyMaxAttempts(t *testing.T) {
	for m := 1; m <= 5; m++ {
		t.Run(fmt.Sprintf("max attempts %d", m), func(t *testing.T) {
			rec := &recorder{}
			newTestDB(t, rec, false)

			calls := 0
			var last error
			var lastTx *Transaction
			err := ExecContext(context.Background(), func(ctx context.Context, tx *Transaction) error {
				calls++
				lastTx = tx
				assert.Equal(t, calls, tx.Attempt())
				require.NoError(t, execSQL(ctx, tx, "UPDATE x"))
				last = Transient(fmt.Errorf("attempt %d", calls))
				return last
			}, WithMaxAttempts(m))

			require.Error(t, err)
			assert.Equal(t, m, calls)
			assert.True(t, err == last, "caller receives the error of the last attempt unchanged")
			assert.Equal(t, StateFailed, lastTx.State())

			var want []string
			for range m {
				want = append(want, "connect", "exec UPDATE x", "rollback", "close")
			}
			assert.Equal(t, want, rec.Events(), "each attempt is released before the next one starts")
		})
	}
}

func TestRetry_DialectClassifiedErrorSucceeds(t *testing.T) {
	rec := &recorder{}
	newTestDB(t, rec, false)

	calls := 0
	got, err := RunContext(context.Background(), func(ctx context.Context, tx *Transaction) (string, error) {
		calls++
		if calls < 3 {
			return "", fmt.Errorf("update failed: %w", errSerialization)
		}
		return "done", execSQL(ctx, tx, "UPDATE x")
	}, WithMaxAttempts(5))

	require.NoError(t, err)
	assert.Equal(t, "done", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, rec.count("commit"))
}

func TestRetry_TransientCommitFailure(t *testing.T) {
	rec := &recorder{commitErrs: []error{errSerialization}}
	newTestDB(t, rec, false)

	calls := 0
	err := ExecContext(context.Background(), func(ctx context.Context, tx *Transaction) error {
		calls++
		return execSQL(ctx, tx, "UPDATE x")
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, rec.count("commit"))
	assert.Equal(t, 1, rec.count("rollback"))
}

func TestRetry_NonTransientNotRetried(t *testing.T) {
	rec := &recorder{}
	newTestDB(t, rec, false)

	calls := 0
	err := Exec(NewSession(context.Background()), func(tx *Transaction) error {
		calls++
		require.NoError(t, execSQL(context.Background(), tx, "UPDATE x"))
		return errBoom
	}, WithMaxAttempts(10))

	assert.True(t, err == errBoom)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"connect", "exec UPDATE x", "rollback", "close"}, rec.Events())
}

func TestRetry_InvalidMaxAttempts(t *testing.T) {
	newTestDB(t, &recorder{}, false)

	called := false
	err := ExecContext(context.Background(), func(context.Context, *Transaction) error {
		called = true
		return nil
	}, WithMaxAttempts(0))

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
	assert.False(t, called)
}

func TestRetry_WaitsBetweenAttempts(t *testing.T) {
	newTestDB(t, &recorder{}, false)

	var stamps []time.Time
	start := time.Now()
	err := ExecContext(context.Background(), func(context.Context, *Transaction) error {
		stamps = append(stamps, time.Now())
		return Transient(errBoom)
	}, WithMaxAttempts(3), WithRetryDelay(10*time.Millisecond, 10*time.Millisecond))

	require.Error(t, err)
	require.Len(t, stamps, 3)
	for i := 1; i < len(stamps); i++ {
		assert.GreaterOrEqual(t, stamps[i].Sub(stamps[i-1]), 10*time.Millisecond)
	}
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestRetry_CancelledDuringBackoff(t *testing.T) {
	rec := &recorder{}
	newTestDB(t, rec, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	err := ExecContext(ctx, func(ctx context.Context, tx *Transaction) error {
		calls++
		require.NoError(t, execSQL(ctx, tx, "UPDATE x"))
		cancel()
		return Transient(errBoom)
	}, WithRetryDelay(time.Hour, time.Hour))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"connect", "exec UPDATE x", "rollback", "close"}, rec.Events())
}

func TestRetry_CancelledSessionNeverRuns(t *testing.T) {
	newTestDB(t, &recorder{}, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := Exec(NewSession(ctx), func(*Transaction) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestCleanup_RunsDespiteCancellation(t *testing.T) {
	rec := &recorder{}
	newTestDB(t, rec, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := ExecContext(ctx, func(ctx context.Context, tx *Transaction) error {
		require.NoError(t, execSQL(ctx, tx, "UPDATE x"))
		cancel()
		return ctx.Err()
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"connect", "exec UPDATE x", "rollback", "close"}, rec.Events())
	assert.Nil(t, FromContext(ctx))
}

func TestCleanup_PanicRollsBackAndRepanics(t *testing.T) {
	rec := &recorder{}
	newTestDB(t, rec, false)
	s := NewSession(context.Background())

	assert.PanicsWithValue(t, "kaboom", func() {
		_ = Exec(s, func(tx *Transaction) error {
			require.NoError(t, execSQL(s.Context(), tx, "UPDATE x"))
			panic("kaboom")
		})
	})
	assert.Equal(t, []string{"connect", "exec UPDATE x", "rollback", "close"}, rec.Events())
	assert.Nil(t, s.Current(), "binding restored after panic")
}

func TestCleanup_RollbackFailureIsLogged(t *testing.T) {
	rec := &recorder{rollbackErr: errors.New("connection reset by peer")}
	logger, logs := testutil.NewCaptureLogger(t)
	newTestDB(t, rec, false, WithLogger(logger))

	err := ExecContext(context.Background(), func(ctx context.Context, tx *Transaction) error {
		require.NoError(t, execSQL(ctx, tx, "UPDATE x"))
		return errBoom
	})

	assert.True(t, err == errBoom, "original error is returned unchanged")
	assert.True(t, logs.Contains("rollback failed"))
	assert.True(t, logs.Contains("connection reset by peer"))
	assert.Equal(t, 1, rec.count("close"))
}

func TestCleanup_NestedRollbackFailureIsLogged(t *testing.T) {
	rec := &recorder{}
	logger, logs := testutil.NewCaptureLogger(t)
	newTestDB(t, rec, true, WithLogger(logger))

	err := ExecContext(context.Background(), func(ctx context.Context, outer *Transaction) error {
		require.NoError(t, execSQL(ctx, outer, "INSERT a"))
		err := ExecContext(ctx, func(ctx context.Context, inner *Transaction) error {
			rec.rollbackErr = errors.New("savepoint vanished")
			return errBoom
		})
		assert.True(t, err == errBoom)
		rec.rollbackErr = nil
		return nil
	})
	require.NoError(t, err)
	assert.True(t, logs.Contains("savepoint vanished"))
	assert.Equal(t, 1, rec.count("commit"))
}

func TestBackoff_EqualBoundsGiveExactDelay(t *testing.T) {
	b := newDelayBackoff(RetryPolicy{MaxAttempts: 3, MinDelay: 10 * time.Millisecond, MaxDelay: 10 * time.Millisecond}, nil)

	for range 2 {
		d, stop := b.Next()
		assert.False(t, stop)
		assert.Equal(t, 10*time.Millisecond, d)
	}
	_, stop := b.Next()
	assert.True(t, stop)
}

func TestBackoff_SingleAttemptStopsImmediately(t *testing.T) {
	b := newDelayBackoff(RetryPolicy{MaxAttempts: 1}, nil)
	_, stop := b.Next()
	assert.True(t, stop)
}

func TestBackoff_RandomWindow(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 4, MinDelay: 100 * time.Millisecond, MaxDelay: 600 * time.Millisecond}
	require.Equal(t, 100*time.Millisecond, policy.Interval())

	tests := []struct {
		name   string
		jitter func(n int64) int64
		want   []time.Duration
	}{
		{
			name:   "window start",
			jitter: func(int64) int64 { return 0 },
			want:   []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 600 * time.Millisecond},
		},
		{
			name:   "window end",
			jitter: func(n int64) int64 { return n - 1 },
			want: []time.Duration{
				200*time.Millisecond - 1,
				400*time.Millisecond - 1,
				700*time.Millisecond - 1,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var windows []int64
			b := newDelayBackoff(policy, func(n int64) int64 {
				windows = append(windows, n)
				return tt.jitter(n)
			})

			var got []time.Duration
			for {
				d, stop := b.Next()
				if stop {
					break
				}
				got = append(got, d)
			}
			assert.Equal(t, tt.want, got)
			for _, w := range windows {
				assert.Equal(t, int64(100*time.Millisecond), w)
			}
		})
	}
}

func TestBackoff_InvertedBoundsGiveNoDelay(t *testing.T) {
	b := newDelayBackoff(RetryPolicy{MaxAttempts: 3, MinDelay: time.Second, MaxDelay: time.Millisecond}, nil)
	d, stop := b.Next()
	assert.False(t, stop)
	assert.Zero(t, d)
}

func TestRetryPolicy_IntervalFloor(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, MaxDelay: 2 * time.Millisecond}
	assert.Equal(t, time.Millisecond, p.Interval())
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(errBoom))
	assert.True(t, IsTransient(Transient(errBoom)))
	assert.True(t, IsTransient(fmt.Errorf("wrapped: %w", Transient(errBoom))))
	assert.ErrorIs(t, Transient(errBoom), errBoom)
	assert.NoError(t, Transient(nil))
}
