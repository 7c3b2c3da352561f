package txn

import (
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Default settings applied by DefaultConfig.
const (
	DefaultMaxAttempts        = 3
	DefaultSavepointPrefix    = "txn"
	DefaultWarnLongStatements = 3 * time.Second
)

// Config holds the settings a Database is constructed with.
// The isolation, read-only and retry settings are copied into the
// database's Manager, where they can be changed at runtime.
type Config struct {
	// Isolation is the default isolation level ("read_committed",
	// "serializable", ...). Empty selects the driver default.
	Isolation string `koanf:"isolation" yaml:"isolation"`

	// ReadOnly opens transactions in read-only mode by default.
	ReadOnly bool `koanf:"read_only" yaml:"read_only"`

	// MaxAttempts is the number of times a block is attempted when it
	// keeps failing with transient errors. Must be at least 1.
	MaxAttempts int `koanf:"max_attempts" yaml:"max_attempts"`

	MinRetryDelay time.Duration `koanf:"min_retry_delay" yaml:"min_retry_delay"`
	MaxRetryDelay time.Duration `koanf:"max_retry_delay" yaml:"max_retry_delay"`

	// NestedTransactions isolates nested blocks behind savepoints.
	// When false, nested blocks join the outer transaction.
	NestedTransactions bool `koanf:"nested_transactions" yaml:"nested_transactions"`

	// SavepointPrefix is prepended to generated savepoint names.
	SavepointPrefix string `koanf:"savepoint_prefix" yaml:"savepoint_prefix"`

	// WarnLongStatements logs statements slower than this. Zero disables it.
	WarnLongStatements time.Duration `koanf:"warn_long_statements" yaml:"warn_long_statements"`

	// KeepStatements records executed statement text on each transaction.
	KeepStatements bool `koanf:"keep_statements" yaml:"keep_statements"`
}

// DefaultConfig returns the settings used when none are given.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:        DefaultMaxAttempts,
		SavepointPrefix:    DefaultSavepointPrefix,
		WarnLongStatements: DefaultWarnLongStatements,
	}
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks the configuration, returning a *ConfigurationError.
func (c Config) Validate() error {
	if _, err := ParseIsolation(c.Isolation); err != nil {
		return configError("config", err)
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		return err
	}
	if !identifierPattern.MatchString(c.SavepointPrefix) {
		return configError("config", fmt.Errorf("%w: %q", ErrInvalidSavepointPrefix, c.SavepointPrefix))
	}
	return nil
}

// RetryPolicy returns the retry settings of c.
func (c Config) RetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: c.MaxAttempts,
		MinDelay:    c.MinRetryDelay,
		MaxDelay:    c.MaxRetryDelay,
	}
}

var isolationLevels = map[string]sql.IsolationLevel{
	"":                 sql.LevelDefault,
	"default":          sql.LevelDefault,
	"read_uncommitted": sql.LevelReadUncommitted,
	"read_committed":   sql.LevelReadCommitted,
	"write_committed":  sql.LevelWriteCommitted,
	"repeatable_read":  sql.LevelRepeatableRead,
	"snapshot":         sql.LevelSnapshot,
	"serializable":     sql.LevelSerializable,
	"linearizable":     sql.LevelLinearizable,
}

// ParseIsolation converts a configuration value such as "read committed",
// "READ_COMMITTED" or "repeatable-read" to an isolation level.
func ParseIsolation(s string) (sql.IsolationLevel, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	level, ok := isolationLevels[key]
	if !ok {
		return sql.LevelDefault, fmt.Errorf("%w: %q", ErrInvalidIsolation, s)
	}
	return level, nil
}

// FormatIsolation is the inverse of ParseIsolation.
func FormatIsolation(level sql.IsolationLevel) string {
	if level == sql.LevelDefault {
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(level.String()), " ", "_")
}

// RetryPolicy controls how often and how fast transient failures are retried.
type RetryPolicy struct {
	MaxAttempts int
	MinDelay    time.Duration
	MaxDelay    time.Duration
}

// Validate returns a *ConfigurationError if p cannot be used.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return configError("retry policy", fmt.Errorf("%w, got %d", ErrInvalidMaxAttempts, p.MaxAttempts))
	}
	if p.MinDelay < 0 || p.MaxDelay < 0 {
		return configError("retry policy", ErrInvalidRetryDelay)
	}
	return nil
}

// Interval is the width of one retry delay window:
// (MaxDelay-MinDelay)/(MaxAttempts+1), never less than a millisecond.
func (p RetryPolicy) Interval() time.Duration {
	return max((p.MaxDelay-p.MinDelay)/time.Duration(p.MaxAttempts+1), time.Millisecond)
}
