package commands

import (
	"fmt"
	"strconv"

	"github.com/leapstack-labs/leaptx/internal/cli/output"
	"github.com/leapstack-labs/leaptx/internal/ledger"
	"github.com/spf13/cobra"
)

// NewAccountCommand creates the account command group.
func NewAccountCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage ledger accounts",
	}
	cmd.AddCommand(newAccountOpenCommand(), newAccountListCommand())
	return cmd
}

func newAccountOpenCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "open <owner> <balance>",
		Short:   "Open an account with an opening balance",
		Example: `  leaptx account open alice 100`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			balance, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid balance %q: %w", args[1], err)
			}

			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			if err := requireSchema(cmd, cmdCtx); err != nil {
				return err
			}

			acct, err := cmdCtx.Store.OpenAccount(cmd.Context(), args[0], balance)
			if err != nil {
				return err
			}
			return renderAccounts(cmdCtx.Renderer, []ledger.Account{acct})
		},
	}
}

func newAccountListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts and balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			if err := requireSchema(cmd, cmdCtx); err != nil {
				return err
			}

			accounts, err := cmdCtx.Store.Accounts(cmd.Context())
			if err != nil {
				return err
			}
			return renderAccounts(cmdCtx.Renderer, accounts)
		},
	}
}

type accountJSON struct {
	ID      string `json:"id"`
	Owner   string `json:"owner"`
	Balance int64  `json:"balance"`
}

func renderAccounts(r *output.Renderer, accounts []ledger.Account) error {
	if r.EffectiveMode() == output.ModeJSON {
		out := make([]accountJSON, len(accounts))
		for i, a := range accounts {
			out[i] = accountJSON(a)
		}
		return r.JSON(out)
	}

	rows := make([][]any, len(accounts))
	for i, a := range accounts {
		rows[i] = []any{a.ID, a.Owner, a.Balance}
	}
	r.Table([]string{"id", "owner", "balance"}, rows)
	return nil
}
