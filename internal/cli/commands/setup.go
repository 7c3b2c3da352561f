package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/leaptx/internal/cli/config"
	"github.com/leapstack-labs/leaptx/internal/cli/output"
	"github.com/leapstack-labs/leaptx/internal/ledger"
	"github.com/leapstack-labs/leaptx/pkg/adapter"
	"github.com/leapstack-labs/leaptx/pkg/txn"
	"github.com/spf13/cobra"

	// Register the bundled adapters.
	_ "github.com/leapstack-labs/leaptx/pkg/adapters/duckdb"
	_ "github.com/leapstack-labs/leaptx/pkg/adapters/postgres"
	_ "github.com/leapstack-labs/leaptx/pkg/adapters/sqlite"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
	Adapter  adapter.Adapter
	DB       *txn.Database
	Store    *ledger.Store
}

// NewCommandContext connects to the configured target and registers it
// with the transaction engine.
// Returns the context and a cleanup function that must be called (typically via defer).
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cmdCtx := NewCommandContextWithoutDatabase(cmd)
	if err := checkLedgerTarget(cmdCtx.Cfg.Target.Type); err != nil {
		return nil, nil, err
	}

	a, db, err := openDatabase(cmd.Context(), cmdCtx.Cfg, cmdCtx.Logger)
	if err != nil {
		return nil, nil, err
	}
	cmdCtx.Adapter = a
	cmdCtx.DB = db
	cmdCtx.Store = ledger.NewStore(db, cmdCtx.Logger)

	cleanup := func() {
		txn.Unregister(db)
		if err := a.Close(); err != nil {
			cmdCtx.Logger.Warn("failed to close adapter", "error", err)
		}
	}
	return cmdCtx, cleanup, nil
}

// NewCommandContextWithoutDatabase creates a CommandContext without a connection.
// Useful for commands that don't need database access.
func NewCommandContextWithoutDatabase(cmd *cobra.Command) *CommandContext {
	cfg := getConfig()
	mode := output.Mode(cfg.OutputFormat)
	return &CommandContext{
		Cfg:      cfg,
		Logger:   config.GetLogger(cmd.Context()),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode),
	}
}

// getConfig returns the loaded configuration, or built-in defaults.
func getConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}
	tx := txn.DefaultConfig()
	tx.NestedTransactions = true
	return &config.Config{
		Environment:  config.DefaultEnv,
		OutputFormat: config.DefaultOutput,
		Target: &config.TargetConfig{
			Type:     config.DefaultTargetType,
			Database: config.DefaultDatabase,
		},
		Tx: tx,
	}
}

// checkLedgerTarget rejects targets the ledger schema cannot run on before
// any connection is opened.
func checkLedgerTarget(typ string) error {
	d, ok := adapter.DialectFor(typ)
	if !ok {
		return &adapter.UnknownAdapterError{Type: typ, Available: adapter.ListAdapters()}
	}
	if !ledger.Supports(d.Name()) {
		return fmt.Errorf("%s target cannot host the ledger: %w\nHint: use a sqlite or postgres target; %s is supported by the pkg/txn engine only",
			typ, ledger.ErrUnsupportedDialect, typ)
	}
	return nil
}

func openDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (adapter.Adapter, *txn.Database, error) {
	a, err := adapter.NewAdapter(cfg.Target.AdapterConfig(), logger)
	if err != nil {
		return nil, nil, err
	}
	if err := a.Connect(ctx, cfg.Target.AdapterConfig()); err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", cfg.Target.Type, err)
	}

	txCfg := cfg.Tx
	if d, ok := adapter.DialectFor(cfg.Target.Type); ok && txCfg.NestedTransactions && !d.SupportsSavepoints() {
		logger.Warn("target does not support savepoints, nested transactions are flattened",
			"type", cfg.Target.Type)
		txCfg.NestedTransactions = false
	}

	db, err := txn.Connect(a.Connector(), a.Dialect(),
		txn.WithName(cfg.Target.Type),
		txn.WithConfig(txCfg),
		txn.WithLogger(logger))
	if err != nil {
		_ = a.Close()
		return nil, nil, err
	}
	return a, db, nil
}

// migrateIfNeeded brings the ledger schema up to date.
func migrateIfNeeded(ctx context.Context, cmdCtx *CommandContext) error {
	return ledger.Migrate(ctx, cmdCtx.Adapter.DB(), cmdCtx.DB.Dialect().Name())
}
