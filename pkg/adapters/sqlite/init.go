// Package sqlite provides a SQLite database adapter for leaptx backed by the
// pure Go modernc.org/sqlite driver.
//
// This file registers the SQLite adapter with the adapter registry.
// Import this package with a blank identifier to register the adapter:
//
//	import _ "github.com/leapstack-labs/leaptx/pkg/adapters/sqlite"
package sqlite

import (
	"log/slog"

	"github.com/leapstack-labs/leaptx/pkg/adapter"
)

func init() {
	adapter.Register("sqlite", Dialect{}, func(logger *slog.Logger) adapter.Adapter { return New(logger) })
}
