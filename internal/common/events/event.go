// Package events defines the event envelope published on every ledger and
// settlement state transition.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event types
const (
	TypeWalletDebited        = "wallet.debited"
	TypeWalletCredited       = "wallet.credited"
	TypeWalletReversed       = "wallet.reversed"
	TypeWalletReversalFailed = "wallet.reversal_failed"
	TypeSettlementCompleted  = "settlement.completed"
	TypeSettlementFailed     = "settlement.failed"
	TypePaymentStatusUpdated = "payment.status_updated"
	TypeWebhookReceived      = "gateway.webhook_received"
)

// Event represents a domain event envelope
type Event struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"type"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event
func NewEvent(eventType, aggregateType, aggregateID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            ulid.Make().String(),
		Type:          eventType,
		Version:       1,
		OccurredAt:    time.Now().UTC(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Data:          dataBytes,
	}, nil
}

// WithCorrelation adds a correlation ID
func (e *Event) WithCorrelation(correlationID string) *Event {
	e.CorrelationID = correlationID
	return e
}

// DecodeData decodes the event data into a struct
func (e *Event) DecodeData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Publisher publishes events to a message broker
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
}

// WalletTransactionData is the payload for wallet.* events.
type WalletTransactionData struct {
	TransactionID string `json:"transaction_id"`
	UserID        string `json:"user_id"`
	Direction     string `json:"direction"`
	AmountMinor   int64  `json:"amount_minor"`
	Currency      string `json:"currency"`
	BalanceAfter  int64  `json:"balance_after"`
	ReferenceID   string `json:"reference_id,omitempty"`
}

// ReversalFailedData is the payload for wallet.reversal_failed events.
// These events feed the manual reconciliation queue: a wallet debit could
// not be rolled back after a failed gateway charge.
type ReversalFailedData struct {
	UserID        string `json:"user_id"`
	OriginalTxnID string `json:"original_transaction_id"`
	PaymentID     string `json:"payment_id,omitempty"`
	AmountMinor   int64  `json:"amount_minor"`
	Currency      string `json:"currency"`
	Reason        string `json:"reason"`
	ReversalError string `json:"reversal_error"`
}

// SettlementData is the payload for settlement.* events.
type SettlementData struct {
	PaymentID      string `json:"payment_id"`
	UserID         string `json:"user_id"`
	TotalMinor     int64  `json:"total_minor"`
	WalletMinor    int64  `json:"wallet_minor"`
	GatewayMinor   int64  `json:"gateway_minor"`
	Currency       string `json:"currency"`
	WalletTxnID    string `json:"wallet_transaction_id,omitempty"`
	GatewayOrderID string `json:"gateway_order_id,omitempty"`
	FailureCode    string `json:"failure_code,omitempty"`
}

// PaymentStatusData is the payload for payment.status_updated events.
type PaymentStatusData struct {
	PaymentID      string `json:"payment_id"`
	OrderID        string `json:"order_id,omitempty"`
	PreviousStatus string `json:"previous_status"`
	Status         string `json:"status"`
	Source         string `json:"source"` // "settlement", "webhook" or "poll"
}
