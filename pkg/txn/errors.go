package txn

import (
	"errors"
	"fmt"
)

// ErrNoTransaction is returned by Manager.Current when no transaction is
// bound for the manager in the given scope.
var ErrNoTransaction = errors.New("no active transaction")

// ErrNestedBusy is returned when a nested transaction is opened on an outer
// transaction whose connection already carries another nested transaction.
// Nested transactions on one connection must run one inside the other,
// never side by side.
var ErrNestedBusy = errors.New("outer transaction already has an active nested transaction")

// Configuration sentinels, wrapped in a *ConfigurationError.
var (
	ErrInvalidMaxAttempts     = errors.New("max attempts must be at least 1")
	ErrInvalidRetryDelay      = errors.New("retry delays must not be negative")
	ErrInvalidIsolation       = errors.New("unknown isolation level")
	ErrInvalidSavepointPrefix = errors.New("savepoint prefix must be a SQL identifier")
	ErrDatabaseClosed         = errors.New("database is closed")
	ErrNoDatabase             = errors.New("no database registered")
	ErrNestedUnsupported      = errors.New("nested transactions require savepoint support")
	ErrForeignOuter           = errors.New("outer transaction belongs to another database")
	ErrIncompleteDatabase     = errors.New("database handle was not created by Connect")
)

// ConfigurationError reports invalid settings or a misused database handle.
// It is returned synchronously, before any work is attempted.
type ConfigurationError struct {
	Op  string
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("txn: %s: %v", e.Op, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func configError(op string, err error) error {
	return &ConfigurationError{Op: op, Err: err}
}

// TransientError marks a failure that may succeed if the whole transaction
// is attempted again.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err so the retry driver treats it as retryable.
// Transient(nil) returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err, or any error it wraps, is a *TransientError.
// Backend-specific failures are classified by the database dialect in addition
// to this check.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
