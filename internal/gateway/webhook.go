package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"billpay/internal/common/money"
	"billpay/internal/faults"
)

// EventType is a normalized webhook event category.
type EventType string

const (
	EventPaymentSuccess EventType = "payment-success"
	EventPaymentFailed  EventType = "payment-failed"
	EventUserDropped    EventType = "user-dropped"
	EventOrderPaid      EventType = "order-paid"
	EventUnknown        EventType = "unknown"
)

// WebhookEvent is a verified, normalized webhook payload.
type WebhookEvent struct {
	Type             EventType       `json:"type"`
	OrderID          string          `json:"order_id"`
	GatewayPaymentID string          `json:"gateway_payment_id,omitempty"`
	Amount           money.Money     `json:"amount"`
	Status           string          `json:"status,omitempty"`
	FailureReason    string          `json:"failure_reason,omitempty"`
	ReceivedAt       time.Time       `json:"received_at"`
	Raw              json.RawMessage `json:"raw,omitempty"`
}

// SignatureError is a webhook signature mismatch. Never retried; the
// payload is discarded unprocessed.
type SignatureError struct {
	Reason string
}

// Error implements the error interface
func (e *SignatureError) Error() string {
	return fmt.Sprintf("webhook signature verification failed: %s", e.Reason)
}

// FaultCategory implements faults.Categorizer
func (e *SignatureError) FaultCategory() faults.Category {
	return faults.CategorySecurity
}

// VerifyWebhookSignature recomputes the HMAC-SHA256 of timestamp+rawBody
// with the webhook secret and compares it in constant time against the
// signature header.
func (c *Client) VerifyWebhookSignature(signature string, rawBody []byte, timestamp string) bool {
	if signature == "" || c.config.WebhookSecret == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(c.config.WebhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write(rawBody)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

// webhookPayload is the inbound wire shape.
type webhookPayload struct {
	Type string `json:"type"`
	Data struct {
		Order struct {
			OrderID       string  `json:"order_id"`
			OrderAmount   float64 `json:"order_amount"`
			OrderCurrency string  `json:"order_currency"`
		} `json:"order"`
		Payment struct {
			GatewayPaymentID json.Number `json:"cf_payment_id"`
			PaymentStatus    string      `json:"payment_status"`
			PaymentAmount    float64     `json:"payment_amount"`
			FailureReason    string      `json:"failure_reason"`
		} `json:"payment"`
	} `json:"data"`
}

// ProcessWebhook verifies the signature first and fails closed before any
// payload field is trusted, then normalizes the payload into a
// WebhookEvent.
func (c *Client) ProcessWebhook(rawBody []byte, signature, timestamp string) (*WebhookEvent, error) {
	if !c.VerifyWebhookSignature(signature, rawBody, timestamp) {
		return nil, &SignatureError{Reason: "signature mismatch"}
	}

	var payload webhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, fmt.Errorf("parsing webhook payload: %w", err)
	}
	if payload.Data.Order.OrderID == "" {
		return nil, fmt.Errorf("webhook payload missing order_id")
	}

	currency := money.Currency(payload.Data.Order.OrderCurrency)
	if currency == "" {
		currency = money.Currency(c.config.Currency)
	}
	amount := payload.Data.Payment.PaymentAmount
	if amount == 0 {
		amount = payload.Data.Order.OrderAmount
	}

	event := &WebhookEvent{
		Type:             normalizeEventType(payload.Type),
		OrderID:          payload.Data.Order.OrderID,
		GatewayPaymentID: payload.Data.Payment.GatewayPaymentID.String(),
		Amount:           money.NewFromMajor(amount, currency),
		Status:           payload.Data.Payment.PaymentStatus,
		FailureReason:    payload.Data.Payment.FailureReason,
		ReceivedAt:       time.Now().UTC(),
		Raw:              json.RawMessage(rawBody),
	}

	c.logger.Info("webhook processed",
		"type", event.Type,
		"order_id", event.OrderID,
		"status", event.Status,
	)

	return event, nil
}

func normalizeEventType(raw string) EventType {
	switch raw {
	case "PAYMENT_SUCCESS_WEBHOOK", "payment-success":
		return EventPaymentSuccess
	case "PAYMENT_FAILED_WEBHOOK", "payment-failed":
		return EventPaymentFailed
	case "PAYMENT_USER_DROPPED_WEBHOOK", "user-dropped":
		return EventUserDropped
	case "ORDER_PAID_WEBHOOK", "order-paid":
		return EventOrderPaid
	default:
		return EventUnknown
	}
}
