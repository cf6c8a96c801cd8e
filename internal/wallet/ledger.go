package wallet

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"billpay/internal/common/events"
	"billpay/internal/common/money"
)

// Service provides the wallet ledger operations. It is the only writer of
// wallet balances.
type Service struct {
	store     Store
	publisher events.Publisher
	currency  money.Currency
	logger    *slog.Logger
}

// NewService creates a wallet ledger service. publisher may be nil, in
// which case transitions are only logged.
func NewService(store Store, publisher events.Publisher, currency money.Currency, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		currency:  currency,
		logger:    logger,
	}
}

// Balance returns the user's current balance.
func (s *Service) Balance(ctx context.Context, userID string) (money.Money, error) {
	if userID == "" {
		return money.Money{}, fmt.Errorf("user_id is required")
	}
	minor, err := s.store.Balance(ctx, userID)
	if err != nil {
		return money.Money{}, err
	}
	return money.New(minor, s.currency), nil
}

// Debit appends a debit entry. Fails with InsufficientBalanceError when the
// amount exceeds the available balance; the balance is unchanged on failure.
func (s *Service) Debit(ctx context.Context, userID string, amount money.Money, referenceID, description string) (*Transaction, error) {
	txn, err := s.append(ctx, userID, amount, DirectionDebit, referenceID, description)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.TypeWalletDebited, txn)
	s.logger.Info("wallet debited",
		"transaction_id", txn.ID,
		"user_id", userID,
		"amount", amount.AmountMinor,
		"balance_after", txn.BalanceAfter,
	)
	return txn, nil
}

// Credit appends a credit entry.
func (s *Service) Credit(ctx context.Context, userID string, amount money.Money, referenceID, description string) (*Transaction, error) {
	txn, err := s.append(ctx, userID, amount, DirectionCredit, referenceID, description)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.TypeWalletCredited, txn)
	s.logger.Info("wallet credited",
		"transaction_id", txn.ID,
		"user_id", userID,
		"amount", amount.AmountMinor,
		"balance_after", txn.BalanceAfter,
	)
	return txn, nil
}

// Reverse appends an opposite-direction entry that undoes the original
// transaction. The original row is never edited; the reversing entry
// references it. Each call appends a new entry, so callers must not invoke
// Reverse twice for the same failure.
func (s *Service) Reverse(ctx context.Context, originalTxnID, reason string) (*Transaction, error) {
	original, err := s.store.Get(ctx, originalTxnID)
	if err != nil {
		return nil, err
	}

	direction := DirectionCredit
	if original.Direction == DirectionCredit {
		direction = DirectionDebit
	}

	txn, err := s.append(ctx, original.UserID, original.Amount, direction, original.ID,
		fmt.Sprintf("Reversal: %s", reason))
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.TypeWalletReversed, txn)
	s.logger.Info("wallet transaction reversed",
		"transaction_id", txn.ID,
		"original_id", original.ID,
		"user_id", original.UserID,
		"reason", reason,
	)
	return txn, nil
}

// Transactions lists a user's ledger entries, newest first.
func (s *Service) Transactions(ctx context.Context, userID string, limit, offset int) ([]*Transaction, int64, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	return s.store.List(ctx, userID, limit, offset)
}

func (s *Service) append(ctx context.Context, userID string, amount money.Money, direction Direction, referenceID, description string) (*Transaction, error) {
	txn, err := NewTransaction(ulid.Make().String(), userID, amount, direction, referenceID, description)
	if err != nil {
		return nil, err
	}
	if err := s.store.Append(ctx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *Service) publish(ctx context.Context, eventType string, txn *Transaction) {
	if s.publisher == nil {
		return
	}

	event, err := events.NewEvent(eventType, "wallet_transaction", txn.ID, events.WalletTransactionData{
		TransactionID: txn.ID,
		UserID:        txn.UserID,
		Direction:     string(txn.Direction),
		AmountMinor:   txn.Amount.AmountMinor,
		Currency:      string(txn.Amount.Currency),
		BalanceAfter:  txn.BalanceAfter,
		ReferenceID:   txn.ReferenceID,
	})
	if err != nil {
		s.logger.Error("failed to build wallet event", "error", err)
		return
	}

	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish wallet event",
			"error", err,
			"type", eventType,
			"transaction_id", txn.ID,
		)
	}
}
