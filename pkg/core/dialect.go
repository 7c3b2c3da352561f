package core

// Dialect describes the vendor-specific transactional behavior of a backend.
// One implementation exists per backend and it is selected when a database
// handle is constructed; the transaction engine never inspects which one it holds.
type Dialect interface {
	// Name is the dialect identifier (e.g., "postgres", "sqlite").
	Name() string

	// SupportsSavepoints reports whether nested transactions can be isolated
	// with savepoints on this backend.
	SupportsSavepoints() bool

	// SavepointSQL returns the statement that creates a savepoint.
	SavepointSQL(name string) string

	// RollbackToSavepointSQL returns the statement that rolls back to a savepoint.
	RollbackToSavepointSQL(name string) string

	// ReleaseSavepointSQL returns the statement that releases a savepoint.
	ReleaseSavepointSQL(name string) string

	// IsTransient reports whether err is a failure that may succeed if the
	// whole transaction is retried (serialization conflict, deadlock,
	// lock timeout, dropped connection).
	IsTransient(err error) bool
}

// StandardSavepoints provides the ANSI savepoint statements.
// Embed it in dialects whose backend follows the standard syntax.
type StandardSavepoints struct{}

// SavepointSQL returns SAVEPOINT <name>.
func (StandardSavepoints) SavepointSQL(name string) string {
	return "SAVEPOINT " + name
}

// RollbackToSavepointSQL returns ROLLBACK TO SAVEPOINT <name>.
func (StandardSavepoints) RollbackToSavepointSQL(name string) string {
	return "ROLLBACK TO SAVEPOINT " + name
}

// ReleaseSavepointSQL returns RELEASE SAVEPOINT <name>.
func (StandardSavepoints) ReleaseSavepointSQL(name string) string {
	return "RELEASE SAVEPOINT " + name
}
