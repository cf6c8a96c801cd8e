package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"billpay/internal/common/database"
	"billpay/internal/common/money"
)

// Store persists ledger entries and the derived balance.
type Store interface {
	// Balance returns the current balance in minor units. Unknown users
	// have a zero balance.
	Balance(ctx context.Context, userID string) (int64, error)
	// Append atomically applies a pending transaction to the balance and
	// persists it. The balance read, the conditional update and the entry
	// insert happen under a per-user lock, so two concurrent debits can
	// never both observe the same balance.
	Append(ctx context.Context, txn *Transaction) error
	// Get returns a ledger entry by ID, or ErrTransactionNotFound.
	Get(ctx context.Context, id string) (*Transaction, error)
	// List returns a user's entries, newest first.
	List(ctx context.Context, userID string, limit, offset int) ([]*Transaction, int64, error)
}

// PostgresStore implements Store on PostgreSQL. Per-user serialization
// comes from the row lock on wallet_balances.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

// Balance returns the current balance in minor units.
func (s *PostgresStore) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.db.QueryRow(ctx,
		`SELECT balance_minor FROM wallet_balances WHERE user_id = $1`,
		userID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading balance: %w", err)
	}
	return balance, nil
}

// Append applies a pending transaction and persists it.
func (s *PostgresStore) Append(ctx context.Context, txn *Transaction) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		// Ensure the balance row exists so the lock below has something
		// to take.
		if _, err := tx.Exec(ctx,
			`INSERT INTO wallet_balances (user_id, balance_minor, currency)
			 VALUES ($1, 0, $2)
			 ON CONFLICT (user_id) DO NOTHING`,
			txn.UserID, txn.Amount.Currency,
		); err != nil {
			return fmt.Errorf("ensuring balance row: %w", err)
		}

		// Row lock serializes concurrent attempts for the same user.
		var before int64
		if err := tx.QueryRow(ctx,
			`SELECT balance_minor FROM wallet_balances WHERE user_id = $1 FOR UPDATE`,
			txn.UserID,
		).Scan(&before); err != nil {
			return fmt.Errorf("locking balance row: %w", err)
		}

		after, err := txn.complete(before, time.Now())
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE wallet_balances SET balance_minor = $2, updated_at = now() WHERE user_id = $1`,
			txn.UserID, after,
		); err != nil {
			return fmt.Errorf("updating balance: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO wallet_transactions (
				id, user_id, amount_minor, currency, direction, status,
				description, reference_id, external_ref,
				balance_before, balance_after, created_at, completed_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			txn.ID, txn.UserID, txn.Amount.AmountMinor, txn.Amount.Currency,
			txn.Direction, txn.Status, txn.Description,
			nullStr(txn.ReferenceID), nullStr(txn.ExternalRef),
			txn.BalanceBefore, txn.BalanceAfter, txn.CreatedAt, txn.CompletedAt,
		); err != nil {
			return fmt.Errorf("inserting transaction: %w", err)
		}

		return nil
	})
}

// Get returns a ledger entry by ID.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Transaction, error) {
	row := s.db.QueryRow(ctx,
		`SELECT id, user_id, amount_minor, currency, direction, status,
				description, reference_id, external_ref,
				balance_before, balance_after, created_at, completed_at
		 FROM wallet_transactions WHERE id = $1`,
		id,
	)
	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("reading transaction: %w", err)
	}
	return txn, nil
}

// List returns a user's entries, newest first.
func (s *PostgresStore) List(ctx context.Context, userID string, limit, offset int) ([]*Transaction, int64, error) {
	var total int64
	if err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM wallet_transactions WHERE user_id = $1`,
		userID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting transactions: %w", err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, amount_minor, currency, direction, status,
				description, reference_id, external_ref,
				balance_before, balance_after, created_at, completed_at
		 FROM wallet_transactions
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	var txns []*Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning transaction: %w", err)
		}
		txns = append(txns, txn)
	}
	return txns, total, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var (
		txn         Transaction
		amountMinor int64
		currency    string
		refID       *string
		extRef      *string
	)
	if err := row.Scan(
		&txn.ID, &txn.UserID, &amountMinor, &currency, &txn.Direction, &txn.Status,
		&txn.Description, &refID, &extRef,
		&txn.BalanceBefore, &txn.BalanceAfter, &txn.CreatedAt, &txn.CompletedAt,
	); err != nil {
		return nil, err
	}
	txn.Amount = money.New(amountMinor, money.Currency(currency))
	if refID != nil {
		txn.ReferenceID = *refID
	}
	if extRef != nil {
		txn.ExternalRef = *extRef
	}
	return &txn, nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
