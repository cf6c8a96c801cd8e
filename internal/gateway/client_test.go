package gateway_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"billpay/internal/common/money"
	"billpay/internal/gateway"
)

func newTestClient(baseURL string) *gateway.Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return gateway.NewClient(gateway.Config{
		BaseURL:       baseURL,
		ClientID:      "test-client",
		ClientSecret:  "test-secret",
		APIVersion:    "2023-08-01",
		Currency:      "INR",
		ReturnURL:     "https://app.example/return",
		NotifyURL:     "https://app.example/webhooks/gateway",
		Timeout:       5 * time.Second,
		OrderExpiry:   30 * time.Minute,
		WebhookSecret: "whsec",
	}, logger)
}

func validOrderRequest() gateway.CreateOrderRequest {
	return gateway.CreateOrderRequest{
		OrderID:       "ORD-pay-1",
		Amount:        money.New(25000, money.INR),
		CustomerID:    "user-1",
		CustomerName:  "Asha Rao",
		CustomerPhone: "+919876543210",
		CustomerEmail: "asha@example.com",
	}
}

func TestCreateOrderSuccess(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders", r.URL.Path)
		assert.Equal(t, "test-client", r.Header.Get("x-client-id"))
		assert.Equal(t, "test-secret", r.Header.Get("x-client-secret"))
		assert.Equal(t, "2023-08-01", r.Header.Get("x-api-version"))

		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"order_id":"ORD-pay-1","payment_session_id":"session_abc123","order_status":"ACTIVE"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	result, err := client.CreateOrder(context.Background(), validOrderRequest())
	require.NoError(t, err)

	assert.Equal(t, "ORD-pay-1", result.OrderID)
	assert.Equal(t, "session_abc123", result.PaymentSessionID)

	// Amount goes over the wire in major units.
	assert.Equal(t, "ORD-pay-1", gotBody["order_id"])
	assert.InDelta(t, 250.0, gotBody["order_amount"], 0.0001)
	assert.Equal(t, "INR", gotBody["order_currency"])

	customer, ok := gotBody["customer_details"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "user-1", customer["customer_id"])
	assert.Equal(t, "+919876543210", customer["customer_phone"])

	meta, ok := gotBody["order_meta"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "https://app.example/return", meta["return_url"])
	assert.Equal(t, "https://app.example/webhooks/gateway", meta["notify_url"])
}

func TestCreateOrderMissingSessionID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"order_id":"ORD-pay-1","order_status":"ACTIVE"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.CreateOrder(context.Background(), validOrderRequest())
	require.Error(t, err)

	var apiErr *gateway.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Contains(t, apiErr.Body, "payment_session_id")
}

func TestCreateOrderUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"message":"something broke"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.CreateOrder(context.Background(), validOrderRequest())

	var apiErr *gateway.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode())
}

func TestCreateOrderValidationFirstFailure(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	tests := []struct {
		name   string
		mutate func(*gateway.CreateOrderRequest)
		field  string
	}{
		{"missing order id", func(r *gateway.CreateOrderRequest) { r.OrderID = "" }, "order_id"},
		{"zero amount", func(r *gateway.CreateOrderRequest) { r.Amount = money.New(0, money.INR) }, "order_amount"},
		{"negative amount", func(r *gateway.CreateOrderRequest) { r.Amount = money.New(-1, money.INR) }, "order_amount"},
		{"missing customer", func(r *gateway.CreateOrderRequest) { r.CustomerID = "" }, "customer_id"},
		{"missing phone", func(r *gateway.CreateOrderRequest) { r.CustomerPhone = "" }, "customer_phone"},
		{"malformed phone", func(r *gateway.CreateOrderRequest) { r.CustomerPhone = "not-a-phone" }, "customer_phone"},
		{"missing email", func(r *gateway.CreateOrderRequest) { r.CustomerEmail = "" }, "customer_email"},
		{"malformed email", func(r *gateway.CreateOrderRequest) { r.CustomerEmail = "not-an-email" }, "customer_email"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validOrderRequest()
			tt.mutate(&req)

			_, err := client.CreateOrder(context.Background(), req)
			var valErr *gateway.ValidationError
			require.ErrorAs(t, err, &valErr)
			assert.Equal(t, tt.field, valErr.Field)
		})
	}

	// Invalid requests never reach the gateway.
	assert.Equal(t, 0, calls)
}

func TestGetPaymentStatusPaid(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/status", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ORD-pay-1", body["order_id"])

		w.Write([]byte(`{
			"order_id": "ORD-pay-1",
			"payment_status": "SUCCESS",
			"cf_payment_id": "12345",
			"order_amount": 250.00,
			"payment_amount": 250.00,
			"payment_method": "upi",
			"payment_time": "2026-08-30T10:15:00Z"
		}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	result, err := client.GetPaymentStatus(context.Background(), "ORD-pay-1")
	require.NoError(t, err)

	assert.True(t, result.IsPaid())
	assert.False(t, result.IsFailed())
	assert.Equal(t, "12345", result.GatewayPaymentID)
	assert.Equal(t, "upi", result.Method)
	require.NotNil(t, result.PaymentTime)
	assert.Equal(t, 2026, result.PaymentTime.Year())
}

func TestGetPaymentStatusFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"order_id":"ORD-pay-1","payment_status":"FAILED","failure_reason":"card declined"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	result, err := client.GetPaymentStatus(context.Background(), "ORD-pay-1")
	require.NoError(t, err)

	assert.True(t, result.IsFailed())
	assert.Equal(t, "card declined", result.FailureReason)
}

func TestGetPaymentStatusMissingStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"order_id":"ORD-pay-1"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.GetPaymentStatus(context.Background(), "ORD-pay-1")

	var apiErr *gateway.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
}

func TestGetPaymentStatusRequiresOrderID(t *testing.T) {
	client := newTestClient("http://localhost:0")

	_, err := client.GetPaymentStatus(context.Background(), "")
	var valErr *gateway.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "order_id", valErr.Field)
}

func TestPaymentStatusTerminalStates(t *testing.T) {
	paid := []string{"SUCCESS", "PAID"}
	failed := []string{"FAILED", "CANCELLED", "USER_DROPPED", "EXPIRED", "VOID"}
	open := []string{"PENDING", "ACTIVE", "NOT_ATTEMPTED", ""}

	for _, s := range paid {
		r := gateway.PaymentStatusResult{Status: s}
		assert.True(t, r.IsPaid(), s)
		assert.False(t, r.IsFailed(), s)
	}
	for _, s := range failed {
		r := gateway.PaymentStatusResult{Status: s}
		assert.True(t, r.IsFailed(), s)
		assert.False(t, r.IsPaid(), s)
	}
	for _, s := range open {
		r := gateway.PaymentStatusResult{Status: s}
		assert.False(t, r.IsPaid(), s)
		assert.False(t, r.IsFailed(), s)
	}
}
