package api_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
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
	"billpay/internal/faults"
	"billpay/internal/gateway"
	"billpay/internal/settlement"
	"billpay/internal/settlement/api"
	"billpay/internal/wallet"
)

const webhookSecret = "whsec-test"

type env struct {
	wallet   *wallet.Service
	payments *settlement.MemoryPaymentStore
	router   http.Handler
}

func newEnv(t *testing.T, gatewayURL string) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	walletSvc := wallet.NewService(wallet.NewMemoryStore(), nil, money.INR, logger)
	payments := settlement.NewMemoryPaymentStore()
	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL:       gatewayURL,
		ClientID:      "id",
		ClientSecret:  "secret",
		WebhookSecret: webhookSecret,
		Currency:      "INR",
		Timeout:       2 * time.Second,
		OrderExpiry:   30 * time.Minute,
	}, logger)

	orch := settlement.NewOrchestrator(walletSvc, gatewayClient, payments, faults.New(), nil, logger)
	orch.SetRetryOptions(faults.RetryOptions{MaxRetries: 0, InitialDelay: time.Millisecond})

	handler := api.NewHandler(orch, gatewayClient, money.INR)
	return &env{
		wallet:   walletSvc,
		payments: payments,
		router:   handler.Routes(),
	}
}

func (e *env) post(t *testing.T, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case []byte:
		buf.Write(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func signWebhook(timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestSettleWalletOnlyEndpoint(t *testing.T) {
	e := newEnv(t, "http://unused")
	_, err := e.wallet.Credit(context.Background(), "user-1", money.New(50000, money.INR), "", "top-up")
	require.NoError(t, err)

	rec := e.post(t, "/settlements/wallet", map[string]any{
		"user_id":      "user-1",
		"amount_minor": 30000,
	}, nil)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Data struct {
			Success       bool   `json:"success"`
			PaymentID     string `json:"payment_id"`
			Status        string `json:"status"`
			ReceiptNumber string `json:"receipt_number"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Data.Success)
	assert.Equal(t, "approved", resp.Data.Status)
	assert.NotEmpty(t, resp.Data.ReceiptNumber)
}

func TestSettleWalletOnlyInsufficientBalanceEndpoint(t *testing.T) {
	e := newEnv(t, "http://unused")

	rec := e.post(t, "/settlements/wallet", map[string]any{
		"user_id":      "user-1",
		"amount_minor": 30000,
	}, nil)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "INSUFFICIENT_BALANCE")
	assert.Contains(t, rec.Body.String(), "shortfall")
}

func TestSettleEndpointValidation(t *testing.T) {
	e := newEnv(t, "http://unused")

	rec := e.post(t, "/settlements", map[string]any{
		"user_id": "user-1",
		// amount_minor missing
		"method": "gateway",
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = e.post(t, "/settlements", map[string]any{
		"user_id":      "user-1",
		"amount_minor": 1000,
		"method":       "manual-cash",
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSettleEndpointGatewayDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"message":"down"}`))
	}))
	defer server.Close()

	e := newEnv(t, server.URL)

	rec := e.post(t, "/settlements", map[string]any{
		"user_id":        "user-1",
		"amount_minor":   30000,
		"method":         "gateway",
		"customer_phone": "+919876543210",
		"customer_email": "asha@example.com",
	}, nil)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "GATEWAY_ERROR")
}

func seedPendingPayment(t *testing.T, e *env, orderID string) *settlement.Payment {
	t.Helper()
	p, err := settlement.NewPayment("pay-1", "user-1", money.New(30000, money.INR), money.New(0, money.INR), settlement.MethodGateway, "", 2026)
	require.NoError(t, err)
	p.GatewayOrderID = orderID
	p.GatewayPortion = money.New(30000, money.INR)
	require.NoError(t, e.payments.Create(context.Background(), p))
	return p
}

func TestGatewayWebhookEndpoint(t *testing.T) {
	e := newEnv(t, "http://unused")
	seedPendingPayment(t, e, "ORD-pay-1")

	body := []byte(`{
		"type": "PAYMENT_SUCCESS_WEBHOOK",
		"data": {
			"order": {"order_id": "ORD-pay-1", "order_amount": 300.00, "order_currency": "INR"},
			"payment": {"cf_payment_id": 9876, "payment_status": "SUCCESS", "payment_amount": 300.00}
		}
	}`)
	timestamp := "1756600000"

	rec := e.post(t, "/webhooks/gateway", body, map[string]string{
		"x-webhook-signature": signWebhook(timestamp, body),
		"x-webhook-timestamp": timestamp,
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "processed")

	payment, err := e.payments.Get(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, settlement.PaymentApproved, payment.Status)
	assert.Equal(t, "9876", payment.GatewayChargeID)
}

func TestGatewayWebhookRejectsInvalidSignature(t *testing.T) {
	e := newEnv(t, "http://unused")
	seedPendingPayment(t, e, "ORD-pay-1")

	body := []byte(`{
		"type": "PAYMENT_SUCCESS_WEBHOOK",
		"data": {
			"order": {"order_id": "ORD-pay-1", "order_amount": 300.00, "order_currency": "INR"},
			"payment": {"payment_status": "SUCCESS"}
		}
	}`)

	rec := e.post(t, "/webhooks/gateway", body, map[string]string{
		"x-webhook-signature": "Zm9yZ2VkLXNpZ25hdHVyZQ==",
		"x-webhook-timestamp": "1756600000",
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "SIGNATURE_INVALID")

	// The forged event changed nothing.
	payment, err := e.payments.Get(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, settlement.PaymentPending, payment.Status)
}

func TestGatewayWebhookUnknownOrderAcknowledged(t *testing.T) {
	e := newEnv(t, "http://unused")

	body := []byte(`{
		"type": "PAYMENT_SUCCESS_WEBHOOK",
		"data": {
			"order": {"order_id": "ORD-unknown", "order_amount": 10.00, "order_currency": "INR"},
			"payment": {"payment_status": "SUCCESS"}
		}
	}`)
	timestamp := "1756600000"

	rec := e.post(t, "/webhooks/gateway", body, map[string]string{
		"x-webhook-signature": signWebhook(timestamp, body),
		"x-webhook-timestamp": timestamp,
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ignored")
}

func TestGetPaymentEndpoint(t *testing.T) {
	e := newEnv(t, "http://unused")
	seedPendingPayment(t, e, "ORD-pay-1")

	req := httptest.NewRequest(http.MethodGet, "/payments/pay-1", nil)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"pay-1"`)

	req = httptest.NewRequest(http.MethodGet, "/payments/nope", nil)
	rec = httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordCashEndpoint(t *testing.T) {
	e := newEnv(t, "http://unused")

	rec := e.post(t, "/settlements/cash", map[string]any{
		"user_id":      "user-1",
		"amount_minor": 30000,
		"note":         "collected at office",
	}, nil)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "manual-cash")
	assert.Contains(t, rec.Body.String(), "approved")
}
