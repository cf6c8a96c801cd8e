package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"billpay/internal/common/database"
	"billpay/internal/common/money"
)

// PaymentStore persists payments and webhook deduplication marks.
type PaymentStore interface {
	Create(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id string) (*Payment, error)
	GetByOrderID(ctx context.Context, orderID string) (*Payment, error)
	// Update persists the payment's mutable fields. The status column is
	// only written when the stored status is not terminal, mirroring
	// Payment.ApplyStatus; the return value reports whether a row changed.
	Update(ctx context.Context, p *Payment) (bool, error)
	// MarkWebhookProcessed records that an order_id+event pair was seen.
	// Returns false when the pair was already recorded, which makes
	// duplicate webhook deliveries no-ops.
	MarkWebhookProcessed(ctx context.Context, orderID, eventType string) (bool, error)
}

// PostgresPaymentStore implements PaymentStore on PostgreSQL.
type PostgresPaymentStore struct {
	db *database.DB
}

// NewPostgresPaymentStore creates a new PostgreSQL payment store.
func NewPostgresPaymentStore(db *database.DB) *PostgresPaymentStore {
	return &PostgresPaymentStore{db: db}
}

var _ PaymentStore = (*PostgresPaymentStore)(nil)

// Create inserts a new payment.
func (s *PostgresPaymentStore) Create(ctx context.Context, p *Payment) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO payments (
			id, user_id, amount_minor, extra_charges_minor, currency,
			method, status, wallet_portion_minor, gateway_portion_minor,
			wallet_txn_id, gateway_order_id, gateway_charge_id, gateway_response,
			receipt_number, service_year, note, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		p.ID, p.UserID, p.Amount.AmountMinor, p.ExtraCharges.AmountMinor, p.Amount.Currency,
		p.Method, p.Status, p.WalletPortion.AmountMinor, p.GatewayPortion.AmountMinor,
		nullStr(p.WalletTxnID), nullStr(p.GatewayOrderID), nullStr(p.GatewayChargeID), p.GatewayResponse,
		nullStr(p.ReceiptNumber), p.ServiceYear, p.Note, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("payment %s: %w", p.ID, database.ErrAlreadyExists)
		}
		return fmt.Errorf("inserting payment: %w", err)
	}
	return nil
}

const paymentColumns = `id, user_id, amount_minor, extra_charges_minor, currency,
	method, status, wallet_portion_minor, gateway_portion_minor,
	wallet_txn_id, gateway_order_id, gateway_charge_id, gateway_response,
	receipt_number, service_year, note, created_at, updated_at`

// Get returns a payment by ID.
func (s *PostgresPaymentStore) Get(ctx context.Context, id string) (*Payment, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	return scanPayment(row)
}

// GetByOrderID returns the payment linked to a gateway order.
func (s *PostgresPaymentStore) GetByOrderID(ctx context.Context, orderID string) (*Payment, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE gateway_order_id = $1`, orderID)
	return scanPayment(row)
}

// Update persists the payment's mutable fields with the terminal guard.
func (s *PostgresPaymentStore) Update(ctx context.Context, p *Payment) (bool, error) {
	p.UpdatedAt = time.Now().UTC()

	tag, err := s.db.Exec(ctx,
		`UPDATE payments SET
			status = $2, wallet_portion_minor = $3, gateway_portion_minor = $4,
			wallet_txn_id = $5, gateway_order_id = $6, gateway_charge_id = $7,
			gateway_response = $8, receipt_number = $9, note = $10, updated_at = $11,
			method = $12
		 WHERE id = $1
		   AND status NOT IN ('approved', 'rejected')`,
		p.ID, p.Status, p.WalletPortion.AmountMinor, p.GatewayPortion.AmountMinor,
		nullStr(p.WalletTxnID), nullStr(p.GatewayOrderID), nullStr(p.GatewayChargeID),
		p.GatewayResponse, nullStr(p.ReceiptNumber), p.Note, p.UpdatedAt,
		p.Method,
	)
	if err != nil {
		return false, fmt.Errorf("updating payment: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkWebhookProcessed records an order_id+event pair, once.
func (s *PostgresPaymentStore) MarkWebhookProcessed(ctx context.Context, orderID, eventType string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`INSERT INTO webhook_events (order_id, event_type)
		 VALUES ($1, $2)
		 ON CONFLICT (order_id, event_type) DO NOTHING`,
		orderID, eventType,
	)
	if err != nil {
		return false, fmt.Errorf("marking webhook processed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var (
		p                 Payment
		amountMinor       int64
		extraMinor        int64
		walletMinor       int64
		gatewayMinor      int64
		currency          string
		walletTxnID       *string
		gatewayOrderID    *string
		gatewayChargeID   *string
		receiptNumber     *string
	)
	err := row.Scan(
		&p.ID, &p.UserID, &amountMinor, &extraMinor, &currency,
		&p.Method, &p.Status, &walletMinor, &gatewayMinor,
		&walletTxnID, &gatewayOrderID, &gatewayChargeID, &p.GatewayResponse,
		&receiptNumber, &p.ServiceYear, &p.Note, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("scanning payment: %w", err)
	}

	cur := money.Currency(currency)
	p.Amount = money.New(amountMinor, cur)
	p.ExtraCharges = money.New(extraMinor, cur)
	p.WalletPortion = money.New(walletMinor, cur)
	p.GatewayPortion = money.New(gatewayMinor, cur)
	if walletTxnID != nil {
		p.WalletTxnID = *walletTxnID
	}
	if gatewayOrderID != nil {
		p.GatewayOrderID = *gatewayOrderID
	}
	if gatewayChargeID != nil {
		p.GatewayChargeID = *gatewayChargeID
	}
	if receiptNumber != nil {
		p.ReceiptNumber = *receiptNumber
	}
	return &p, nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
