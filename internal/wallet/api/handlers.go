package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"billpay/internal/common/api"
	"billpay/internal/common/database"
	"billpay/internal/common/money"
	"billpay/internal/wallet"
)

// Handler handles wallet HTTP requests
type Handler struct {
	service  *wallet.Service
	currency money.Currency
}

// NewHandler creates a new wallet handler
func NewHandler(service *wallet.Service, currency money.Currency) *Handler {
	return &Handler{service: service, currency: currency}
}

// Routes returns the wallet routes, mounted under /wallets
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/{userID}/balance", h.GetBalance)
	r.Get("/{userID}/transactions", h.ListTransactions)
	r.Post("/{userID}/credits", h.Credit)

	return r
}

// GetBalance handles GET /wallets/{userID}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		api.BadRequest(w, "user ID required")
		return
	}

	balance, err := h.service.Balance(r.Context(), userID)
	if err != nil {
		api.InternalError(w, "failed to get balance")
		return
	}

	api.WriteData(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"balance": balance,
	})
}

// ListTransactions handles GET /wallets/{userID}/transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		api.BadRequest(w, "user ID required")
		return
	}

	params := api.GetPaginationParams(r, 50, 100)

	txns, total, err := h.service.Transactions(r.Context(), userID, params.Limit, params.Offset)
	if err != nil {
		api.InternalError(w, "failed to list transactions")
		return
	}

	api.WritePaginated(w, txns, &api.Pagination{
		Limit:   params.Limit,
		Offset:  params.Offset,
		Total:   total,
		HasMore: int64(params.Offset+len(txns)) < total,
	})
}

// CreditRequest is the API request for crediting a wallet
type CreditRequest struct {
	AmountMinor int64  `json:"amount_minor" validate:"required,gt=0"`
	ReferenceID string `json:"reference_id" validate:"max=64"`
	Description string `json:"description" validate:"max=500"`
}

// Credit handles POST /wallets/{userID}/credits
func (h *Handler) Credit(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		api.BadRequest(w, "user ID required")
		return
	}

	var req CreditRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	description := req.Description
	if description == "" {
		description = "Wallet top-up"
	}

	txn, err := h.service.Credit(r.Context(), userID, money.New(req.AmountMinor, h.currency), req.ReferenceID, description)
	if err != nil {
		if errors.Is(err, database.ErrConflict) {
			api.Conflict(w, "conflicting wallet operation")
			return
		}
		api.InternalError(w, "failed to credit wallet")
		return
	}

	api.WriteData(w, http.StatusCreated, txn)
}
