// Package ledger is a small double-entry ledger built on the transaction
// engine. Transfers move money between accounts and record an audit entry
// in a nested transaction.
package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// goose keeps its base FS and dialect in package state.
var gooseMu sync.Mutex

// ErrUnsupportedDialect is returned for targets the ledger schema does not
// target. Such databases can still use the transaction engine directly.
var ErrUnsupportedDialect = errors.New("migrations are not supported")

var gooseDialects = map[string]string{
	"sqlite":   "sqlite3",
	"postgres": "postgres",
}

// Supports reports whether the ledger can run on the named dialect.
func Supports(dialect string) bool {
	_, ok := gooseDialects[dialect]
	return ok
}

func gooseDialect(dialect string) (string, error) {
	gd, ok := gooseDialects[dialect]
	if !ok {
		return "", fmt.Errorf("%w for %s", ErrUnsupportedDialect, dialect)
	}
	return gd, nil
}

func withGoose(dialect string, fn func() error) error {
	gd, err := gooseDialect(dialect)
	if err != nil {
		return err
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect(gd); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	return fn()
}

// Migrate runs all pending migrations on db.
func Migrate(ctx context.Context, db *sql.DB, dialect string) error {
	return withGoose(dialect, func() error {
		if err := goose.UpContext(ctx, db, "migrations"); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		return nil
	})
}

// Rollback reverts the most recent migration.
func Rollback(ctx context.Context, db *sql.DB, dialect string) error {
	return withGoose(dialect, func() error {
		if err := goose.DownContext(ctx, db, "migrations"); err != nil {
			return fmt.Errorf("failed to roll back migration: %w", err)
		}
		return nil
	})
}

// Version returns the current migration version.
func Version(ctx context.Context, db *sql.DB, dialect string) (int64, error) {
	var version int64
	err := withGoose(dialect, func() error {
		v, err := goose.GetDBVersionContext(ctx, db)
		if err != nil {
			return fmt.Errorf("failed to read migration version: %w", err)
		}
		version = v
		return nil
	})
	return version, err
}
