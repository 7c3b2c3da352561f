package txn

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/leapstack-labs/leaptx/pkg/core"
)

// Database is a registered database handle: a connector, the dialect that
// describes the backend, and an immutable configuration.
type Database struct {
	name      string
	connector core.Connector
	dialect   core.Dialect
	config    Config
	logger    *slog.Logger

	// manager is set while the database is registered.
	manager atomic.Pointer[Manager]
}

// Name returns the database name used in logs.
func (db *Database) Name() string { return db.name }

// Dialect returns the backend dialect.
func (db *Database) Dialect() core.Dialect { return db.dialect }

// Config returns the configuration the database was created with.
func (db *Database) Config() Config { return db.config }

// Manager returns the database's transaction manager, or a
// *ConfigurationError if the database is not registered.
func (db *Database) Manager() (*Manager, error) {
	if m := db.manager.Load(); m != nil {
		return m, nil
	}
	return nil, configError(db.name, ErrDatabaseClosed)
}

// Close unregisters the database. Transactions can no longer be started
// against it. The underlying connector is not closed.
func (db *Database) Close() error {
	Unregister(db)
	return nil
}

// isTransient classifies err using both the engine's marker type and the
// backend dialect.
func (db *Database) isTransient(err error) bool {
	return IsTransient(err) || db.dialect.IsTransient(err)
}

// Registry state. Mutated only when databases are registered or closed.
var (
	registryMu      sync.Mutex
	databases       []*Database
	explicitDefault *Database
)

// Connect creates a database handle for connector and registers it.
// The new handle becomes the default database unless one was set
// explicitly with SetDefaultDatabase.
func Connect(connector core.Connector, dialect core.Dialect, opts ...DatabaseOption) (*Database, error) {
	o := databaseOptions{config: DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}

	if err := o.config.Validate(); err != nil {
		return nil, err
	}
	if o.config.NestedTransactions && !dialect.SupportsSavepoints() {
		return nil, configError("connect "+dialect.Name(), ErrNestedUnsupported)
	}

	name := o.name
	if name == "" {
		name = dialect.Name()
	}
	logger := o.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	db := &Database{
		name:      name,
		connector: connector,
		dialect:   dialect,
		config:    o.config,
		logger:    logger.With("database", name),
	}
	if err := Register(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Register associates a new Manager with db. It brings back a handle from
// Connect after Close; a zero Database is rejected. Registering a database
// that is already registered is a no-op.
func Register(db *Database) error {
	if db == nil || db.connector == nil || db.dialect == nil || db.logger == nil {
		return configError("register", ErrIncompleteDatabase)
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if db.manager.Load() != nil {
		return nil
	}
	m, err := newManager(db)
	if err != nil {
		return err
	}
	db.manager.Store(m)
	databases = append(databases, db)
	db.logger.Debug("database registered", "dialect", db.dialect.Name())
	return nil
}

// Unregister closes the database's manager and removes it from the registry.
func Unregister(db *Database) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if db.manager.Swap(nil) == nil {
		return
	}
	databases = slices.DeleteFunc(databases, func(d *Database) bool { return d == db })
	if explicitDefault == db {
		explicitDefault = nil
	}
	db.logger.Debug("database unregistered")
}

// DefaultDatabase returns the database set with SetDefaultDatabase, or else
// the most recently registered one. It returns nil when none is registered.
func DefaultDatabase() *Database {
	registryMu.Lock()
	defer registryMu.Unlock()

	if explicitDefault != nil {
		return explicitDefault
	}
	if len(databases) == 0 {
		return nil
	}
	return databases[len(databases)-1]
}

// SetDefaultDatabase sets the default database. Passing nil restores the
// most-recently-registered rule.
func SetDefaultDatabase(db *Database) {
	registryMu.Lock()
	defer registryMu.Unlock()
	explicitDefault = db
}

// Databases lists the registered databases in registration order.
func Databases() []*Database {
	registryMu.Lock()
	defer registryMu.Unlock()
	return slices.Clone(databases)
}
