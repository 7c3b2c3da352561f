package sqlite

import (
	"database/sql/driver"
	"errors"

	"github.com/leapstack-labs/leaptx/pkg/core"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect implements core.Dialect for SQLite.
type Dialect struct {
	core.StandardSavepoints
}

// Name returns "sqlite".
func (Dialect) Name() string { return "sqlite" }

// SupportsSavepoints returns true.
func (Dialect) SupportsSavepoints() bool { return true }

// IsTransient reports SQLITE_BUSY and SQLITE_LOCKED (including their
// extended codes) and dropped connections as retryable.
func (Dialect) IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	return false
}

var _ core.Dialect = Dialect{}
