// Package settlement decides how a due amount is covered by wallet balance
// versus the external gateway and drives the two-step charge as a
// compensating transaction.
package settlement

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"billpay/internal/common/money"
	"billpay/internal/faults"
)

// Method is how a payment is settled.
type Method string

const (
	MethodWallet     Method = "wallet"
	MethodGateway    Method = "gateway"
	MethodCombined   Method = "combined"
	MethodManualCash Method = "manual-cash"
)

// UsesGateway reports whether the method involves a gateway leg.
func (m Method) UsesGateway() bool {
	return m == MethodGateway || m == MethodCombined
}

// PaymentStatus is the lifecycle state of a payment.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentApproved   PaymentStatus = "approved"
	PaymentRejected   PaymentStatus = "rejected"
	PaymentIncomplete PaymentStatus = "incomplete"
)

// IsTerminal reports whether the status must never be overwritten.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentApproved || s == PaymentRejected
}

// Payment is one record of a due amount being settled.
type Payment struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Amount          money.Money     `json:"amount"`
	ExtraCharges    money.Money     `json:"extra_charges"`
	Method          Method          `json:"method"`
	Status          PaymentStatus   `json:"status"`
	WalletPortion   money.Money     `json:"wallet_portion"`
	GatewayPortion  money.Money     `json:"gateway_portion"`
	WalletTxnID     string          `json:"wallet_transaction_id,omitempty"`
	GatewayOrderID  string          `json:"gateway_order_id,omitempty"`
	GatewayChargeID string          `json:"gateway_charge_id,omitempty"`
	GatewayResponse json.RawMessage `json:"gateway_response,omitempty"`
	ReceiptNumber   string          `json:"receipt_number,omitempty"`
	ServiceYear     int             `json:"service_year,omitempty"`
	Note            string          `json:"note,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// normalizeExtra promotes an unset extra-charges value to zero in the
// amount's currency. Extra charges are optional on every entry point, so a
// zero-value Money must behave as the additive identity rather than trip
// the currency check.
func normalizeExtra(amount, extra money.Money) money.Money {
	if extra == (money.Money{}) {
		return money.Zero(amount.Currency)
	}
	return extra
}

// NewPayment creates a pending payment.
func NewPayment(id, userID string, amount, extraCharges money.Money, method Method, note string, serviceYear int) (*Payment, error) {
	if id == "" {
		return nil, errors.New("id is required")
	}
	if userID == "" {
		return nil, errors.New("user_id is required")
	}
	if !amount.IsPositive() {
		return nil, errors.New("amount must be positive")
	}
	extraCharges = normalizeExtra(amount, extraCharges)
	if extraCharges.IsNegative() {
		return nil, errors.New("extra charges must not be negative")
	}
	if serviceYear == 0 {
		serviceYear = time.Now().UTC().Year()
	}

	now := time.Now().UTC()
	return &Payment{
		ID:             id,
		UserID:         userID,
		Amount:         amount,
		ExtraCharges:   extraCharges,
		Method:         method,
		Status:         PaymentPending,
		WalletPortion:  money.Zero(amount.Currency),
		GatewayPortion: money.Zero(amount.Currency),
		ServiceYear:    serviceYear,
		Note:           note,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Total is the full due amount including extra charges.
func (p *Payment) Total() money.Money {
	return p.Amount.MustAdd(normalizeExtra(p.Amount, p.ExtraCharges))
}

// ApplyStatus transitions the payment. Terminal statuses are never
// overwritten, so a late-arriving webhook cannot regress an already
// settled payment; the return value reports whether anything changed.
func (p *Payment) ApplyStatus(status PaymentStatus) bool {
	if p.Status == status {
		return false
	}
	if p.Status.IsTerminal() {
		return false
	}

	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	if status == PaymentApproved && p.ReceiptNumber == "" {
		p.ReceiptNumber = receiptNumber(p.ID, p.ServiceYear)
	}
	return true
}

func receiptNumber(paymentID string, serviceYear int) string {
	suffix := paymentID
	if len(suffix) > 8 {
		suffix = suffix[len(suffix)-8:]
	}
	return fmt.Sprintf("RCPT-%d-%s", serviceYear, strings.ToUpper(suffix))
}

// ErrPaymentNotFound is returned when a payment does not exist.
var ErrPaymentNotFound = errors.New("payment not found")

// ValidationError is a bad settlement input. Surfaced verbatim, never
// retried.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// FaultCategory implements faults.Categorizer
func (e *ValidationError) FaultCategory() faults.Category {
	return faults.CategoryValidation
}
