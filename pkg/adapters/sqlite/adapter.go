package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/leaptx/pkg/adapter"
	"github.com/leapstack-labs/leaptx/pkg/core"
)

const memoryPath = ":memory:"

// Adapter implements the adapter.Adapter interface for SQLite.
type Adapter struct {
	adapter.BaseSQLAdapter
	dialect Dialect
}

// New creates a new SQLite adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger},
	}
}

// Dialect returns the SQLite dialect.
func (a *Adapter) Dialect() core.Dialect {
	return a.dialect
}

// Connector returns a connector over the pool.
// SQLite transactions are always serializable, so the requested isolation
// level is not forwarded to the driver.
func (a *Adapter) Connector() core.Connector {
	inner := a.NewConnector(a.dialect)
	return core.ConnectorFunc(func(ctx context.Context, opts core.TxOptions) (core.Connection, error) {
		if opts.Isolation != sql.LevelDefault || opts.ReadOnly {
			a.Logger.Debug("sqlite ignores isolation and read-only settings",
				slog.String("isolation", opts.Isolation.String()),
				slog.Bool("read_only", opts.ReadOnly))
		}
		return inner.Connect(ctx, core.TxOptions{})
	})
}

// Connect opens the SQLite database at cfg.Path.
// Use ":memory:" (or an empty path) for an in-memory database.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	params, err := ParseParams(cfg.Params)
	if err != nil {
		return err
	}

	path := cfg.Path
	if path == "" {
		path = memoryPath
	}

	db, err := sql.Open("sqlite", buildSQLiteDSN(path, params))
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// Every connection to :memory: is a distinct database.
	switch {
	case path == memoryPath:
		db.SetMaxOpenConns(1)
	case params.MaxOpenConns > 0:
		db.SetMaxOpenConns(params.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	a.Logger.Debug("opened sqlite database", slog.String("path", path))

	a.Pool = db
	a.Cfg = cfg
	return nil
}

// buildSQLiteDSN appends connection pragmas understood by modernc.org/sqlite.
func buildSQLiteDSN(path string, params *Params) string {
	var opts []string
	opts = append(opts, fmt.Sprintf("_pragma=busy_timeout(%d)", params.BusyTimeout))
	if params.ForeignKeys != nil && *params.ForeignKeys {
		opts = append(opts, "_pragma=foreign_keys(1)")
	}
	if params.JournalMode != "" && path != memoryPath {
		opts = append(opts, fmt.Sprintf("_pragma=journal_mode(%s)", strings.ToLower(params.JournalMode)))
	}
	if params.TxLock != "" {
		opts = append(opts, "_txlock="+params.TxLock)
	}
	return path + "?" + strings.Join(opts, "&")
}

// Ensure Adapter implements adapter.Adapter
var _ adapter.Adapter = (*Adapter)(nil)
