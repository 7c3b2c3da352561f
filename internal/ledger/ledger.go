package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/leapstack-labs/leaptx/pkg/txn"
)

// Errors returned by Store.
var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrSameAccount       = errors.New("cannot transfer to the same account")
)

// Account is a ledger account.
type Account struct {
	ID      string
	Owner   string
	Balance int64
}

// Transfer is a completed movement of money between two accounts.
type Transfer struct {
	ID       string
	From     string
	To       string
	Amount   int64
	Attempts int
	Audited  bool
}

// AuditEntry is one line of the audit log.
type AuditEntry struct {
	ID         string
	TransferID string
	Message    string
	CreatedAt  time.Time
}

// Store reads and writes the ledger through the transaction engine.
// Every method joins the transaction already current in ctx, if any.
type Store struct {
	db     *txn.Database
	logger *slog.Logger
}

// NewStore returns a store backed by db.
func NewStore(db *txn.Database, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{db: db, logger: logger}
}

// rebind rewrites ? placeholders for backends that use numbered ones.
func (s *Store) rebind(query string) string {
	if s.db.Dialect().Name() != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// OpenAccount creates an account with an opening balance.
func (s *Store) OpenAccount(ctx context.Context, owner string, balance int64) (Account, error) {
	if balance < 0 {
		return Account{}, ErrInvalidAmount
	}
	acct := Account{ID: uuid.NewString(), Owner: owner, Balance: balance}
	err := txn.ExecContext(ctx, func(ctx context.Context, tx *txn.Transaction) error {
		_, err := tx.Exec(ctx, s.rebind("INSERT INTO accounts (id, owner, balance) VALUES (?, ?, ?)"),
			acct.ID, acct.Owner, acct.Balance)
		return err
	}, txn.WithDatabase(s.db))
	if err != nil {
		return Account{}, fmt.Errorf("failed to open account: %w", err)
	}
	return acct, nil
}

// Account returns the account with the given id.
func (s *Store) Account(ctx context.Context, id string) (Account, error) {
	return txn.RunContext(ctx, func(ctx context.Context, tx *txn.Transaction) (Account, error) {
		return s.account(ctx, tx, id)
	}, txn.WithDatabase(s.db), txn.WithReadOnly(true))
}

func (s *Store) account(ctx context.Context, tx *txn.Transaction, id string) (Account, error) {
	acct := Account{ID: id}
	err := tx.QueryRow(ctx, s.rebind("SELECT owner, balance FROM accounts WHERE id = ?"), id).
		Scan(&acct.Owner, &acct.Balance)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	if err != nil {
		return Account{}, fmt.Errorf("failed to load account %s: %w", id, err)
	}
	return acct, nil
}

// Accounts lists all accounts ordered by owner.
func (s *Store) Accounts(ctx context.Context) ([]Account, error) {
	return txn.RunContext(ctx, func(ctx context.Context, tx *txn.Transaction) ([]Account, error) {
		rows, err := tx.Query(ctx, "SELECT id, owner, balance FROM accounts ORDER BY owner, id")
		if err != nil {
			return nil, fmt.Errorf("failed to list accounts: %w", err)
		}
		defer func() { _ = rows.Close() }()

		var accounts []Account
		for rows.Next() {
			var a Account
			if err := rows.Scan(&a.ID, &a.Owner, &a.Balance); err != nil {
				return nil, err
			}
			accounts = append(accounts, a)
		}
		return accounts, rows.Err()
	}, txn.WithDatabase(s.db), txn.WithReadOnly(true))
}

// Transfer moves amount from one account to another. The audit entry is
// written in a nested transaction; when the database isolates nested
// transactions with savepoints, a failed audit write does not undo the
// transfer.
func (s *Store) Transfer(ctx context.Context, from, to string, amount int64) (Transfer, error) {
	if amount <= 0 {
		return Transfer{}, ErrInvalidAmount
	}
	if from == to {
		return Transfer{}, ErrSameAccount
	}

	return txn.RunContext(ctx, func(ctx context.Context, tx *txn.Transaction) (Transfer, error) {
		t := Transfer{ID: uuid.NewString(), From: from, To: to, Amount: amount, Attempts: tx.Attempt()}

		src, err := s.account(ctx, tx, from)
		if err != nil {
			return Transfer{}, err
		}
		if _, err := s.account(ctx, tx, to); err != nil {
			return Transfer{}, err
		}
		if src.Balance < amount {
			return Transfer{}, fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, from, src.Balance, amount)
		}

		if err := s.adjust(ctx, tx, from, -amount); err != nil {
			return Transfer{}, err
		}
		if err := s.adjust(ctx, tx, to, amount); err != nil {
			return Transfer{}, err
		}
		if _, err := tx.Exec(ctx,
			s.rebind("INSERT INTO transfers (id, from_account, to_account, amount) VALUES (?, ?, ?, ?)"),
			t.ID, from, to, amount); err != nil {
			return Transfer{}, fmt.Errorf("failed to record transfer: %w", err)
		}

		err = s.audit(ctx, t.ID, fmt.Sprintf("moved %d from %s to %s", amount, from, to))
		switch {
		case err == nil:
			t.Audited = true
		case txn.IsTransient(err) || s.db.Dialect().IsTransient(err):
			return Transfer{}, err
		case s.db.Config().NestedTransactions:
			s.logger.Warn("audit entry dropped", "transfer", t.ID, "error", err)
		default:
			// The failed audit rolled back the shared transaction.
			return Transfer{}, err
		}
		return t, nil
	}, txn.WithDatabase(s.db))
}

func (s *Store) adjust(ctx context.Context, tx *txn.Transaction, id string, delta int64) error {
	if _, err := tx.Exec(ctx, s.rebind("UPDATE accounts SET balance = balance + ? WHERE id = ?"), delta, id); err != nil {
		return fmt.Errorf("failed to update account %s: %w", id, err)
	}
	return nil
}

func (s *Store) audit(ctx context.Context, transferID, message string) error {
	return txn.ExecContext(ctx, func(ctx context.Context, tx *txn.Transaction) error {
		if _, err := tx.Exec(ctx, s.rebind("INSERT INTO audit_log (id, transfer_id, message) VALUES (?, ?, ?)"),
			uuid.NewString(), transferID, message); err != nil {
			return fmt.Errorf("failed to write audit entry: %w", err)
		}
		return nil
	}, txn.WithDatabase(s.db))
}

// AuditLog returns the audit entries of a transfer.
func (s *Store) AuditLog(ctx context.Context, transferID string) ([]AuditEntry, error) {
	return txn.RunContext(ctx, func(ctx context.Context, tx *txn.Transaction) ([]AuditEntry, error) {
		rows, err := tx.Query(ctx,
			s.rebind("SELECT id, transfer_id, message, created_at FROM audit_log WHERE transfer_id = ? ORDER BY created_at, id"),
			transferID)
		if err != nil {
			return nil, fmt.Errorf("failed to read audit log: %w", err)
		}
		defer func() { _ = rows.Close() }()

		var entries []AuditEntry
		for rows.Next() {
			var e AuditEntry
			if err := rows.Scan(&e.ID, &e.TransferID, &e.Message, &e.CreatedAt); err != nil {
				return nil, err
			}
			entries = append(entries, e)
		}
		return entries, rows.Err()
	}, txn.WithDatabase(s.db), txn.WithReadOnly(true))
}

// TotalBalance returns the sum of all balances. Transfers never change it.
func (s *Store) TotalBalance(ctx context.Context) (int64, error) {
	return txn.RunContext(ctx, func(ctx context.Context, tx *txn.Transaction) (int64, error) {
		var total int64
		if err := tx.QueryRow(ctx, "SELECT COALESCE(SUM(balance), 0) FROM accounts").Scan(&total); err != nil {
			return 0, fmt.Errorf("failed to sum balances: %w", err)
		}
		return total, nil
	}, txn.WithDatabase(s.db), txn.WithReadOnly(true))
}
