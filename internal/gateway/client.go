// Package gateway is the server-side client for the hosted-checkout payment
// gateway: order creation, status verification and webhook validation.
// Credentials never leave this package.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"billpay/internal/common/money"
	"billpay/internal/faults"
)

// Config holds gateway credentials and endpoints.
type Config struct {
	BaseURL       string        `envconfig:"GATEWAY_BASE_URL" default:"https://sandbox.gateway.example/pg"`
	ClientID      string        `envconfig:"GATEWAY_CLIENT_ID"`
	ClientSecret  string        `envconfig:"GATEWAY_CLIENT_SECRET"`
	WebhookSecret string        `envconfig:"GATEWAY_WEBHOOK_SECRET"`
	APIVersion    string        `envconfig:"GATEWAY_API_VERSION" default:"2023-08-01"`
	Currency      string        `envconfig:"GATEWAY_CURRENCY" default:"INR"`
	ReturnURL     string        `envconfig:"GATEWAY_RETURN_URL"`
	NotifyURL     string        `envconfig:"GATEWAY_NOTIFY_URL"`
	Timeout       time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"30s"`
	OrderExpiry   time.Duration `envconfig:"GATEWAY_ORDER_EXPIRY" default:"30m"`
}

// Client talks to the gateway's server-to-server API.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a gateway client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// CreateOrderRequest is the input for CreateOrder.
type CreateOrderRequest struct {
	OrderID       string
	Amount        money.Money
	CustomerID    string
	CustomerName  string
	CustomerPhone string
	CustomerEmail string
	Meta          map[string]string
}

// OrderResult is the outcome of a successful order creation. The
// PaymentSessionID drives the client-facing checkout step.
type OrderResult struct {
	OrderID          string          `json:"order_id"`
	PaymentSessionID string          `json:"payment_session_id"`
	Raw              json.RawMessage `json:"raw,omitempty"`
}

var (
	phonePattern = regexp.MustCompile(`^\+?[0-9]{8,15}$`)
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// validate checks all required fields, reporting the first failure.
func (r CreateOrderRequest) validate() error {
	switch {
	case r.OrderID == "":
		return &ValidationError{Field: "order_id", Reason: "is required"}
	case !r.Amount.IsPositive():
		return &ValidationError{Field: "order_amount", Reason: "must be positive"}
	case r.CustomerID == "":
		return &ValidationError{Field: "customer_id", Reason: "is required"}
	case r.CustomerPhone == "":
		return &ValidationError{Field: "customer_phone", Reason: "is required"}
	case !phonePattern.MatchString(r.CustomerPhone):
		return &ValidationError{Field: "customer_phone", Reason: "is not a valid phone number"}
	case r.CustomerEmail == "":
		return &ValidationError{Field: "customer_email", Reason: "is required"}
	case !emailPattern.MatchString(r.CustomerEmail):
		return &ValidationError{Field: "customer_email", Reason: "is not a valid email address"}
	}
	return nil
}

// CreateOrder creates a gateway order and returns the payment session
// identifier for the hosted checkout.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*OrderResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	expiry := time.Now().UTC().Add(c.config.OrderExpiry)
	body := map[string]any{
		"order_id":       req.OrderID,
		"order_amount":   req.Amount.ToMajor(),
		"order_currency": c.config.Currency,
		"customer_details": map[string]string{
			"customer_id":    req.CustomerID,
			"customer_name":  req.CustomerName,
			"customer_email": req.CustomerEmail,
			"customer_phone": req.CustomerPhone,
		},
		"order_meta": map[string]string{
			"return_url": c.config.ReturnURL,
			"notify_url": c.config.NotifyURL,
		},
		"order_expiry_time": expiry.Format(time.RFC3339),
		"payment_methods":   []string{"cc", "dc", "nb", "upi", "wallet"},
	}
	if len(req.Meta) > 0 {
		meta := body["order_meta"].(map[string]string)
		for k, v := range req.Meta {
			meta[k] = v
		}
	}

	raw, err := c.doJSON(ctx, http.MethodPost, "/orders", body)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		OrderID          string `json:"order_id"`
		PaymentSessionID string `json:"payment_session_id"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parsing order response: %w", err)
	}
	if parsed.PaymentSessionID == "" {
		// A 2xx without a session is a protocol violation, not a decline.
		return nil, &APIError{
			Status: http.StatusBadGateway,
			Op:     "create_order",
			Body:   "response missing payment_session_id",
		}
	}

	orderID := parsed.OrderID
	if orderID == "" {
		orderID = req.OrderID
	}

	c.logger.Info("gateway order created",
		"order_id", orderID,
		"amount", req.Amount.AmountMinor,
	)

	return &OrderResult{
		OrderID:          orderID,
		PaymentSessionID: parsed.PaymentSessionID,
		Raw:              raw,
	}, nil
}

// PaymentStatusResult is a normalized status-verification response.
type PaymentStatusResult struct {
	OrderID          string          `json:"order_id"`
	Status           string          `json:"payment_status"`
	GatewayPaymentID string          `json:"cf_payment_id,omitempty"`
	OrderAmount      float64         `json:"order_amount,omitempty"`
	PaymentAmount    float64         `json:"payment_amount,omitempty"`
	Method           string          `json:"payment_method,omitempty"`
	BankReference    string          `json:"bank_reference,omitempty"`
	PaymentTime      *time.Time      `json:"payment_time,omitempty"`
	FailureReason    string          `json:"failure_reason,omitempty"`
	Raw              json.RawMessage `json:"raw,omitempty"`
}

// IsPaid reports whether the status is a successful terminal state.
func (r *PaymentStatusResult) IsPaid() bool {
	switch r.Status {
	case "SUCCESS", "PAID":
		return true
	}
	return false
}

// IsFailed reports whether the status is a failed terminal state.
func (r *PaymentStatusResult) IsFailed() bool {
	switch r.Status {
	case "FAILED", "CANCELLED", "USER_DROPPED", "EXPIRED", "VOID":
		return true
	}
	return false
}

// GetPaymentStatus verifies the status of a gateway order.
func (c *Client) GetPaymentStatus(ctx context.Context, orderID string) (*PaymentStatusResult, error) {
	if orderID == "" {
		return nil, &ValidationError{Field: "order_id", Reason: "is required"}
	}

	raw, err := c.doJSON(ctx, http.MethodPost, "/orders/status", map[string]string{
		"order_id": orderID,
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		OrderID          string  `json:"order_id"`
		PaymentStatus    string  `json:"payment_status"`
		GatewayPaymentID string  `json:"cf_payment_id"`
		OrderAmount      float64 `json:"order_amount"`
		PaymentAmount    float64 `json:"payment_amount"`
		PaymentMethod    string  `json:"payment_method"`
		BankReference    string  `json:"bank_reference"`
		PaymentTime      string  `json:"payment_time"`
		FailureReason    string  `json:"failure_reason"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parsing status response: %w", err)
	}
	if parsed.PaymentStatus == "" {
		return nil, &APIError{
			Status: http.StatusBadGateway,
			Op:     "get_payment_status",
			Body:   "response missing payment_status",
		}
	}

	result := &PaymentStatusResult{
		OrderID:          parsed.OrderID,
		Status:           parsed.PaymentStatus,
		GatewayPaymentID: parsed.GatewayPaymentID,
		OrderAmount:      parsed.OrderAmount,
		PaymentAmount:    parsed.PaymentAmount,
		Method:           parsed.PaymentMethod,
		BankReference:    parsed.BankReference,
		FailureReason:    parsed.FailureReason,
		Raw:              raw,
	}
	if result.OrderID == "" {
		result.OrderID = orderID
	}
	if parsed.PaymentTime != "" {
		if t, err := time.Parse(time.RFC3339, parsed.PaymentTime); err == nil {
			result.PaymentTime = &t
		}
	}

	return result, nil
}

// doJSON issues an authenticated JSON request. Transport errors pass
// through raw for the caller's classifier; non-2xx statuses become
// *APIError.
func (c *Client) doJSON(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-client-id", c.config.ClientID)
	req.Header.Set("x-client-secret", c.config.ClientSecret)
	req.Header.Set("x-api-version", c.config.APIVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			Status: resp.StatusCode,
			Op:     method + " " + path,
			Body:   string(respBody),
		}
	}

	return respBody, nil
}

// ValidationError reports the first missing or malformed request field.
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

// APIError is a non-2xx response from the gateway.
type APIError struct {
	Status int
	Op     string
	Body   string
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("gateway %s failed: status=%d body=%s", e.Op, e.Status, e.Body)
}

// StatusCode implements faults.StatusCoder
func (e *APIError) StatusCode() int {
	return e.Status
}
