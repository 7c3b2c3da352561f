// Package core defines the shared language of the leaptx system.
//
// This package contains:
//   - The connection contract consumed by the transaction engine (Connection, Savepoint, Connector)
//   - The vendor capability interface (Dialect)
//   - Configuration types shared by adapters (AdapterConfig, TxOptions)
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
