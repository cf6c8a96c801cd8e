// Package wallet maintains per-user balances as an append-only ledger of
// immutable transactions.
package wallet

import (
	"errors"
	"fmt"
	"time"

	"billpay/internal/common/money"
)

// Direction is the side of a ledger entry.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// Status is the lifecycle state of a ledger entry.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Transaction is one immutable ledger entry. Once persisted it is never
// edited; a mistaken or compensated entry is corrected by appending an
// opposite-direction entry that references it.
type Transaction struct {
	ID            string      `json:"id"`
	UserID        string      `json:"user_id"`
	Amount        money.Money `json:"amount"`
	Direction     Direction   `json:"direction"`
	Status        Status      `json:"status"`
	Description   string      `json:"description,omitempty"`
	ReferenceID   string      `json:"reference_id,omitempty"`
	ExternalRef   string      `json:"external_ref,omitempty"`
	BalanceBefore int64       `json:"balance_before"`
	BalanceAfter  int64       `json:"balance_after"`
	CreatedAt     time.Time   `json:"created_at"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
}

// NewTransaction creates a pending ledger entry. Balance fields are filled
// by the store at append time, under the same lock as the balance write.
func NewTransaction(id, userID string, amount money.Money, direction Direction, referenceID, description string) (*Transaction, error) {
	if id == "" {
		return nil, errors.New("id is required")
	}
	if userID == "" {
		return nil, errors.New("user_id is required")
	}
	if !amount.IsPositive() {
		return nil, errors.New("amount must be positive")
	}
	if direction != DirectionCredit && direction != DirectionDebit {
		return nil, fmt.Errorf("invalid direction: %s", direction)
	}

	return &Transaction{
		ID:          id,
		UserID:      userID,
		Amount:      amount,
		Direction:   direction,
		Status:      StatusPending,
		Description: description,
		ReferenceID: referenceID,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// complete fills the balance snapshot and marks the entry completed.
// Returns the new balance, or InsufficientBalanceError when a debit would
// take the balance below zero.
func (t *Transaction) complete(balanceBefore int64, at time.Time) (int64, error) {
	var after int64
	switch t.Direction {
	case DirectionCredit:
		after = balanceBefore + t.Amount.AmountMinor
	case DirectionDebit:
		after = balanceBefore - t.Amount.AmountMinor
		if after < 0 {
			return 0, &InsufficientBalanceError{
				UserID:    t.UserID,
				Requested: t.Amount,
				Available: money.New(balanceBefore, t.Amount.Currency),
			}
		}
	default:
		return 0, fmt.Errorf("invalid direction: %s", t.Direction)
	}

	t.BalanceBefore = balanceBefore
	t.BalanceAfter = after
	t.Status = StatusCompleted
	completed := at.UTC()
	if completed.Before(t.CreatedAt) {
		completed = t.CreatedAt
	}
	t.CompletedAt = &completed
	return after, nil
}

// ErrTransactionNotFound is returned when a referenced ledger entry does
// not exist.
var ErrTransactionNotFound = errors.New("wallet transaction not found")

// InsufficientBalanceError is returned when a debit exceeds the available
// balance. It carries the shortfall so callers can surface it.
type InsufficientBalanceError struct {
	UserID    string
	Requested money.Money
	Available money.Money
}

// Error implements the error interface
func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for user %s: requested %d, available %d %s",
		e.UserID, e.Requested.AmountMinor, e.Available.AmountMinor, e.Requested.Currency)
}

// Shortfall returns how much the balance falls short of the request.
func (e *InsufficientBalanceError) Shortfall() money.Money {
	return money.New(e.Requested.AmountMinor-e.Available.AmountMinor, e.Requested.Currency)
}

// IsInsufficientBalance reports whether err is an insufficient balance error.
func IsInsufficientBalance(err error) bool {
	var target *InsufficientBalanceError
	return errors.As(err, &target)
}
