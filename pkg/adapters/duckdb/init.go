// Package duckdb provides a DuckDB database adapter for leaptx.
//
// This file registers the DuckDB adapter with the adapter registry.
// Import this package with a blank identifier to register the adapter:
//
//	import _ "github.com/leapstack-labs/leaptx/pkg/adapters/duckdb"
package duckdb

import (
	"log/slog"

	"github.com/leapstack-labs/leaptx/pkg/adapter"
)

func init() {
	adapter.Register("duckdb", Dialect{}, func(logger *slog.Logger) adapter.Adapter { return New(logger) })
}
