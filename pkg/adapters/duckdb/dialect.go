package duckdb

import (
	"database/sql/driver"
	"errors"

	"github.com/leapstack-labs/leaptx/pkg/core"
	"github.com/marcboeker/go-duckdb"
)

// Dialect implements core.Dialect for DuckDB.
// DuckDB has no savepoints, so databases using it must keep nested
// transactions flattened.
type Dialect struct {
	core.StandardSavepoints
}

// Name returns "duckdb".
func (Dialect) Name() string { return "duckdb" }

// SupportsSavepoints returns false.
func (Dialect) SupportsSavepoints() bool { return false }

// IsTransient reports write-write conflicts and connection failures as retryable.
func (Dialect) IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var duckErr *duckdb.Error
	if errors.As(err, &duckErr) {
		switch duckErr.Type {
		case duckdb.ErrorTypeTransaction, duckdb.ErrorTypeConnection:
			return true
		}
	}
	return false
}

var _ core.Dialect = Dialect{}
