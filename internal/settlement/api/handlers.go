package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"billpay/internal/common/api"
	"billpay/internal/common/database"
	"billpay/internal/common/money"
	"billpay/internal/faults"
	"billpay/internal/gateway"
	"billpay/internal/settlement"
	"billpay/internal/wallet"
)

// Handler handles settlement HTTP requests
type Handler struct {
	orchestrator *settlement.Orchestrator
	gateway      *gateway.Client
	currency     money.Currency
}

// NewHandler creates a new settlement handler
func NewHandler(orchestrator *settlement.Orchestrator, gatewayClient *gateway.Client, currency money.Currency) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		gateway:      gatewayClient,
		currency:     currency,
	}
}

// Routes returns the settlement routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/settlements", h.Settle)
	r.Post("/settlements/wallet", h.SettleWalletOnly)
	r.Post("/settlements/cash", h.RecordCashPayment)

	r.Get("/payments/{id}", h.GetPayment)
	r.Post("/payments/{id}/resolve", h.ResolvePayment)

	r.Post("/webhooks/gateway", h.GatewayWebhook)

	return r
}

// SettleRequest is the API request for settling a due amount
type SettleRequest struct {
	UserID        string `json:"user_id" validate:"required,max=64"`
	AmountMinor   int64  `json:"amount_minor" validate:"required,gt=0"`
	ExtraMinor    int64  `json:"extra_charges_minor" validate:"gte=0"`
	Method        string `json:"method" validate:"required,oneof=gateway combined"`
	Note          string `json:"note" validate:"max=500"`
	ServiceYear   int    `json:"service_year"`
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`
	CustomerEmail string `json:"customer_email"`
}

// Settle handles POST /settlements
func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	result, err := h.orchestrator.Settle(r.Context(), settlement.SettleRequest{
		UserID:        req.UserID,
		Amount:        money.New(req.AmountMinor, h.currency),
		ExtraCharges:  money.New(req.ExtraMinor, h.currency),
		GatewayMethod: settlement.Method(req.Method),
		Note:          req.Note,
		ServiceYear:   req.ServiceYear,
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		CustomerEmail: req.CustomerEmail,
	})
	if err != nil {
		writeSettlementError(w, err)
		return
	}

	api.WriteData(w, http.StatusCreated, result)
}

// SettleWalletOnlyRequest is the API request for a wallet-only settlement
type SettleWalletOnlyRequest struct {
	UserID      string `json:"user_id" validate:"required,max=64"`
	AmountMinor int64  `json:"amount_minor" validate:"required,gt=0"`
	ExtraMinor  int64  `json:"extra_charges_minor" validate:"gte=0"`
	Note        string `json:"note" validate:"max=500"`
	ServiceYear int    `json:"service_year"`
}

// SettleWalletOnly handles POST /settlements/wallet
func (h *Handler) SettleWalletOnly(w http.ResponseWriter, r *http.Request) {
	var req SettleWalletOnlyRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	result, err := h.orchestrator.SettleWalletOnly(r.Context(), settlement.SettleRequest{
		UserID:       req.UserID,
		Amount:       money.New(req.AmountMinor, h.currency),
		ExtraCharges: money.New(req.ExtraMinor, h.currency),
		Note:         req.Note,
		ServiceYear:  req.ServiceYear,
	})
	if err != nil {
		writeSettlementError(w, err)
		return
	}

	api.WriteData(w, http.StatusCreated, result)
}

// RecordCashRequest is the API request for recording a cash collection
type RecordCashRequest struct {
	UserID      string `json:"user_id" validate:"required,max=64"`
	AmountMinor int64  `json:"amount_minor" validate:"required,gt=0"`
	ExtraMinor  int64  `json:"extra_charges_minor" validate:"gte=0"`
	Note        string `json:"note" validate:"max=500"`
	ServiceYear int    `json:"service_year"`
}

// RecordCashPayment handles POST /settlements/cash
func (h *Handler) RecordCashPayment(w http.ResponseWriter, r *http.Request) {
	var req RecordCashRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	payment, err := h.orchestrator.RecordCashPayment(r.Context(), settlement.SettleRequest{
		UserID:       req.UserID,
		Amount:       money.New(req.AmountMinor, h.currency),
		ExtraCharges: money.New(req.ExtraMinor, h.currency),
		Note:         req.Note,
		ServiceYear:  req.ServiceYear,
	})
	if err != nil {
		writeSettlementError(w, err)
		return
	}

	api.WriteData(w, http.StatusCreated, payment)
}

// GetPayment handles GET /payments/{id}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "payment ID required")
		return
	}

	payment, err := h.orchestrator.GetPayment(r.Context(), id)
	if err != nil {
		if errors.Is(err, settlement.ErrPaymentNotFound) || database.IsNotFound(err) {
			api.NotFound(w, "payment not found")
			return
		}
		api.InternalError(w, "failed to get payment")
		return
	}

	api.WriteData(w, http.StatusOK, payment)
}

// ResolvePayment handles POST /payments/{id}/resolve
func (h *Handler) ResolvePayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "payment ID required")
		return
	}

	payment, err := h.orchestrator.ResolvePending(r.Context(), id)
	if err != nil {
		if errors.Is(err, settlement.ErrPaymentNotFound) || database.IsNotFound(err) {
			api.NotFound(w, "payment not found")
			return
		}
		writeSettlementError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, payment)
}

// GatewayWebhook handles POST /webhooks/gateway. The signature is checked
// against the raw body before anything is parsed; an invalid signature is
// rejected without touching any payment.
func (h *Handler) GatewayWebhook(w http.ResponseWriter, r *http.Request) {
	rawBody, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		api.BadRequest(w, "failed to read request body")
		return
	}

	signature := r.Header.Get("x-webhook-signature")
	timestamp := r.Header.Get("x-webhook-timestamp")

	event, err := h.gateway.ProcessWebhook(rawBody, signature, timestamp)
	if err != nil {
		var sigErr *gateway.SignatureError
		if errors.As(err, &sigErr) {
			api.WriteError(w, http.StatusUnauthorized, api.ErrCodeSignatureInvalid, "webhook signature verification failed")
			return
		}
		api.BadRequest(w, "invalid webhook payload")
		return
	}

	payment, err := h.orchestrator.ApplyGatewayEvent(r.Context(), event)
	if err != nil {
		if errors.Is(err, settlement.ErrPaymentNotFound) || database.IsNotFound(err) {
			// Acknowledge so the gateway stops redelivering an event for an
			// order this system never created.
			api.WriteData(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		api.InternalError(w, "failed to process webhook")
		return
	}

	api.WriteData(w, http.StatusOK, map[string]string{
		"status":     "processed",
		"payment_id": payment.ID,
	})
}

// writeSettlementError maps settlement errors onto API responses.
func writeSettlementError(w http.ResponseWriter, err error) {
	var insufficient *wallet.InsufficientBalanceError
	if errors.As(err, &insufficient) {
		api.WriteErrorWithDetails(w, http.StatusUnprocessableEntity, api.ErrCodeInsufficientBalance,
			"wallet balance cannot cover the requested amount",
			map[string]string{
				"requested": insufficient.Requested.String(),
				"available": insufficient.Available.String(),
				"shortfall": insufficient.Shortfall().String(),
			})
		return
	}

	var settleVal *settlement.ValidationError
	if errors.As(err, &settleVal) {
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeValidation, settleVal.Error())
		return
	}

	var gwVal *gateway.ValidationError
	if errors.As(err, &gwVal) {
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeValidation, gwVal.Error())
		return
	}

	var classified *faults.ClassifiedError
	if errors.As(err, &classified) {
		switch classified.Category {
		case faults.CategoryValidation:
			api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeValidation, classified.Error())
		case faults.CategoryNetwork, faults.CategoryAPI:
			api.WriteError(w, http.StatusBadGateway, api.ErrCodeGatewayError, "payment gateway request failed")
		default:
			api.InternalError(w, "settlement failed")
		}
		return
	}

	api.InternalError(w, "settlement failed")
}
