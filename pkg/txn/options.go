package txn

import (
	"database/sql"
	"log/slog"
	"time"
)

// DatabaseOption configures a Database created by Connect.
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	name   string
	config Config
	logger *slog.Logger
}

// WithName sets the name used in logs. It defaults to the dialect name.
func WithName(name string) DatabaseOption {
	return func(o *databaseOptions) { o.name = name }
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) DatabaseOption {
	return func(o *databaseOptions) { o.config = cfg }
}

// WithNestedTransactions enables or disables savepoint-isolated nesting.
func WithNestedTransactions(enabled bool) DatabaseOption {
	return func(o *databaseOptions) { o.config.NestedTransactions = enabled }
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(logger *slog.Logger) DatabaseOption {
	return func(o *databaseOptions) { o.logger = logger }
}

// Option overrides database defaults for a single Exec/Run call.
type Option func(*callOptions)

type callOptions struct {
	db          *Database
	isolation   *sql.IsolationLevel
	readOnly    *bool
	maxAttempts *int
	minDelay    *time.Duration
	maxDelay    *time.Duration
}

// WithDatabase runs the block against db instead of the current or
// default database.
func WithDatabase(db *Database) Option {
	return func(o *callOptions) { o.db = db }
}

// WithIsolation overrides the isolation level.
func WithIsolation(level sql.IsolationLevel) Option {
	return func(o *callOptions) { o.isolation = &level }
}

// WithReadOnly overrides the read-only flag.
func WithReadOnly(readOnly bool) Option {
	return func(o *callOptions) { o.readOnly = &readOnly }
}

// WithMaxAttempts overrides the number of attempts. It has no effect on
// nested calls, which are retried as part of their outermost block.
func WithMaxAttempts(n int) Option {
	return func(o *callOptions) { o.maxAttempts = &n }
}

// WithRetryDelay overrides the minimum and maximum retry delay.
func WithRetryDelay(minDelay, maxDelay time.Duration) Option {
	return func(o *callOptions) {
		o.minDelay = &minDelay
		o.maxDelay = &maxDelay
	}
}

func applyOptions(opts []Option) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
