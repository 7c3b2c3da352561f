package postgres

import (
	"database/sql/driver"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/leapstack-labs/leaptx/pkg/core"
)

// SQLSTATE codes that indicate the transaction may succeed when retried.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeAdminShutdown        = "57P01"
	classConnectionException = "08"
)

// Dialect implements core.Dialect for PostgreSQL.
type Dialect struct {
	core.StandardSavepoints
}

// Name returns "postgres".
func (Dialect) Name() string { return "postgres" }

// SupportsSavepoints returns true.
func (Dialect) SupportsSavepoints() bool { return true }

// IsTransient classifies serialization failures, deadlocks, lock timeouts
// and dropped connections as retryable.
func (Dialect) IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable, codeAdminShutdown:
			return true
		}
		return strings.HasPrefix(pgErr.Code, classConnectionException)
	}

	return pgconn.SafeToRetry(err) || pgconn.Timeout(err)
}

var _ core.Dialect = Dialect{}
