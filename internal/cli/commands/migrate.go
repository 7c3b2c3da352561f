package commands

import (
	"fmt"
	"strconv"

	"github.com/leapstack-labs/leaptx/internal/cli/output"
	"github.com/leapstack-labs/leaptx/internal/ledger"
	"github.com/spf13/cobra"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply ledger schema migrations",
		Long: `Apply all pending ledger schema migrations to the configured target.

Use "migrate down" to revert the latest migration and "migrate status"
to print the current schema version.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := migrateIfNeeded(cmd.Context(), cmdCtx); err != nil {
				return err
			}
			return printVersion(cmd, cmdCtx)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Revert the latest migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := ledger.Rollback(cmd.Context(), cmdCtx.Adapter.DB(), cmdCtx.DB.Dialect().Name()); err != nil {
				return err
			}
			return printVersion(cmd, cmdCtx)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			return printVersion(cmd, cmdCtx)
		},
	})

	return cmd
}

func printVersion(cmd *cobra.Command, cmdCtx *CommandContext) error {
	version, err := ledger.Version(cmd.Context(), cmdCtx.Adapter.DB(), cmdCtx.DB.Dialect().Name())
	if err != nil {
		return err
	}

	r := cmdCtx.Renderer
	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(map[string]any{
			"target":  cmdCtx.Cfg.Target.Type,
			"version": version,
		})
	case output.ModeMarkdown:
		r.Println(output.FormatKeyValue("Target", cmdCtx.Cfg.Target.Type))
		r.Println(output.FormatKeyValue("Schema version", strconv.FormatInt(version, 10)))
	default:
		styles := r.Styles()
		r.Printf("%s schema at version %s\n",
			styles.Bold.Render(cmdCtx.Cfg.Target.Type),
			styles.Info.Render(strconv.FormatInt(version, 10)))
	}
	return nil
}

// requireSchema fails with a hint when the ledger tables are missing.
func requireSchema(cmd *cobra.Command, cmdCtx *CommandContext) error {
	version, err := ledger.Version(cmd.Context(), cmdCtx.Adapter.DB(), cmdCtx.DB.Dialect().Name())
	if err != nil {
		return err
	}
	if version == 0 {
		return fmt.Errorf("ledger schema not found\nHint: run 'leaptx migrate' first")
	}
	return nil
}
