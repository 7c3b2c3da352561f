package commands

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/leapstack-labs/leaptx/internal/cli/config"
	"github.com/leapstack-labs/leaptx/internal/cli/output"
	"github.com/leapstack-labs/leaptx/internal/ledger"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// NewTransferCommand creates the transfer command.
func NewTransferCommand() *cobra.Command {
	var (
		repeat  int
		workers int
		watch   bool
	)

	cmd := &cobra.Command{
		Use:   "transfer <from> <to> <amount>",
		Short: "Move money between two accounts",
		Long: `Move money between two accounts inside a retried transaction.

With --repeat the transfer runs several times across --workers concurrent
workers, which exercises retries on serialization failures. With --watch
the transaction settings in the config file are reloaded while it runs.`,
		Example: `  leaptx transfer <from-id> <to-id> 25
  leaptx transfer <from-id> <to-id> 1 --repeat 100 --workers 8`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[2], err)
			}
			if repeat < 1 || workers < 1 {
				return fmt.Errorf("--repeat and --workers must be at least 1")
			}

			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			if err := requireSchema(cmd, cmdCtx); err != nil {
				return err
			}

			ctx := cmd.Context()
			if watch {
				stop, err := startWatcher(ctx, cmdCtx)
				if err != nil {
					return err
				}
				defer stop()
			}

			transfers, err := runTransfers(ctx, cmdCtx.Store, args[0], args[1], amount, repeat, workers)
			if err != nil {
				return err
			}
			return renderTransfers(cmdCtx.Renderer, transfers)
		},
	}

	cmd.Flags().IntVar(&repeat, "repeat", 1, "Number of transfers to run")
	cmd.Flags().IntVar(&workers, "workers", 1, "Number of concurrent workers")
	cmd.Flags().BoolVar(&watch, "watch", false, "Reload transaction settings when the config file changes")

	return cmd
}

func runTransfers(ctx context.Context, store *ledger.Store, from, to string, amount int64, repeat, workers int) ([]ledger.Transfer, error) {
	var (
		mu        sync.Mutex
		transfers = make([]ledger.Transfer, 0, repeat)
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for range repeat {
		g.Go(func() error {
			t, err := store.Transfer(ctx, from, to, amount)
			if err != nil {
				return err
			}
			mu.Lock()
			transfers = append(transfers, t)
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	return transfers, err
}

func startWatcher(ctx context.Context, cmdCtx *CommandContext) (func(), error) {
	path := config.GetConfigFileUsed()
	if path == "" {
		return nil, fmt.Errorf("--watch needs a config file\nHint: create leaptx.yaml or pass --config")
	}
	m, err := cmdCtx.DB.Manager()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	w := config.NewWatcher(path, m, cmdCtx.Logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := w.Run(ctx); err != nil {
			cmdCtx.Logger.Error("config watcher stopped", "error", err)
		}
	}()
	cmdCtx.Renderer.Success("watching " + path)

	return func() {
		cancel()
		<-done
	}, nil
}

type transferJSON struct {
	ID       string `json:"id"`
	From     string `json:"from"`
	To       string `json:"to"`
	Amount   int64  `json:"amount"`
	Attempts int    `json:"attempts"`
	Audited  bool   `json:"audited"`
}

func renderTransfers(r *output.Renderer, transfers []ledger.Transfer) error {
	if r.EffectiveMode() == output.ModeJSON {
		out := make([]transferJSON, len(transfers))
		for i, t := range transfers {
			out[i] = transferJSON(t)
		}
		return r.JSON(out)
	}

	rows := make([][]any, len(transfers))
	retried := 0
	for i, t := range transfers {
		rows[i] = []any{t.ID, t.From, t.To, t.Amount, t.Attempts, t.Audited}
		if t.Attempts > 1 {
			retried++
		}
	}
	r.Table([]string{"id", "from", "to", "amount", "attempts", "audited"}, rows)
	if retried > 0 {
		r.Warning(fmt.Sprintf("%d of %d transfers were retried", retried, len(transfers)))
	}
	return nil
}
