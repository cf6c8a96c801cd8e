package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"billpay/internal/common/events"
	"billpay/internal/common/money"
	"billpay/internal/faults"
	"billpay/internal/gateway"
	"billpay/internal/wallet"
)

// WalletLedger is the slice of the wallet service the orchestrator drives.
type WalletLedger interface {
	Balance(ctx context.Context, userID string) (money.Money, error)
	Debit(ctx context.Context, userID string, amount money.Money, referenceID, description string) (*wallet.Transaction, error)
	Reverse(ctx context.Context, originalTxnID, reason string) (*wallet.Transaction, error)
}

// GatewayClient is the slice of the gateway API the orchestrator drives.
type GatewayClient interface {
	CreateOrder(ctx context.Context, req gateway.CreateOrderRequest) (*gateway.OrderResult, error)
	GetPaymentStatus(ctx context.Context, orderID string) (*gateway.PaymentStatusResult, error)
}

// Orchestrator coordinates the split-payment saga: wallet debit, gateway
// charge, and the compensating reversal when the gateway leg fails after
// the wallet leg succeeded.
type Orchestrator struct {
	wallet     WalletLedger
	gateway    GatewayClient
	calculator *Calculator
	classifier *faults.Classifier
	payments   PaymentStore
	publisher  events.Publisher
	retry      faults.RetryOptions
	logger     *slog.Logger
}

// NewOrchestrator creates a settlement orchestrator. publisher may be nil.
func NewOrchestrator(
	walletLedger WalletLedger,
	gatewayClient GatewayClient,
	payments PaymentStore,
	classifier *faults.Classifier,
	publisher events.Publisher,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		wallet:     walletLedger,
		gateway:    gatewayClient,
		calculator: NewCalculator(walletLedger),
		classifier: classifier,
		payments:   payments,
		publisher:  publisher,
		retry:      faults.DefaultRetryOptions(),
		logger:     logger,
	}
}

// SetRetryOptions overrides the gateway-leg retry policy.
func (o *Orchestrator) SetRetryOptions(opts faults.RetryOptions) {
	o.retry = opts
}

// SettleRequest is a request to settle a due amount for a user.
type SettleRequest struct {
	UserID        string
	Amount        money.Money
	ExtraCharges  money.Money
	GatewayMethod Method
	Note          string
	PaymentID     string
	ServiceYear   int
	CustomerName  string
	CustomerPhone string
	CustomerEmail string
}

// Result is the unified outcome of a settlement attempt. Success means
// every required leg completed (a created gateway order counts as a
// completed leg; its terminal confirmation arrives via webhook or poll).
type Result struct {
	Success          bool          `json:"success"`
	PaymentID        string        `json:"payment_id"`
	Status           PaymentStatus `json:"status"`
	TotalAmount      money.Money   `json:"total_amount"`
	WalletAmount     money.Money   `json:"wallet_amount"`
	GatewayAmount    money.Money   `json:"gateway_amount"`
	WalletTxnID      string        `json:"wallet_transaction_id,omitempty"`
	GatewayOrderID   string        `json:"gateway_order_id,omitempty"`
	GatewaySessionID string        `json:"gateway_session_id,omitempty"`
	ReceiptNumber    string        `json:"receipt_number,omitempty"`
	Message          string        `json:"message,omitempty"`
}

// Settle runs the split-payment saga:
// validate -> split -> wallet debit -> gateway order -> compensate on
// gateway failure. The wallet debit is never retried after a gateway
// attempt; the gateway leg is retried per the classifier's policy before
// compensation kicks in.
func (o *Orchestrator) Settle(ctx context.Context, req SettleRequest) (*Result, error) {
	if err := validateSettle(req); err != nil {
		return nil, err
	}

	split, err := o.calculator.Calculate(ctx, req.UserID, req.Amount, req.ExtraCharges)
	if err != nil {
		return nil, err
	}

	paymentID := req.PaymentID
	if paymentID == "" {
		paymentID = ulid.Make().String()
	}

	method := MethodGateway
	switch {
	case split.CanPayFullyFromWallet:
		method = MethodWallet
	case split.WalletAmount.IsPositive():
		method = MethodCombined
	}

	payment, err := NewPayment(paymentID, req.UserID, req.Amount, req.ExtraCharges, method, req.Note, req.ServiceYear)
	if err != nil {
		return nil, err
	}
	payment.WalletPortion = split.WalletAmount
	payment.GatewayPortion = split.GatewayAmount

	if err := o.payments.Create(ctx, payment); err != nil {
		return nil, fmt.Errorf("creating payment: %w", err)
	}

	o.logger.Info("settlement started",
		"payment_id", payment.ID,
		"user_id", req.UserID,
		"total", split.Total.AmountMinor,
		"wallet", split.WalletAmount.AmountMinor,
		"gateway", split.GatewayAmount.AmountMinor,
	)

	// Wallet leg. A failure here aborts before any gateway call, so there
	// is nothing to compensate yet.
	var debit *wallet.Transaction
	if split.WalletAmount.IsPositive() {
		debit, err = o.wallet.Debit(ctx, req.UserID, split.WalletAmount, payment.ID,
			fmt.Sprintf("Payment %s", payment.ID))
		if err != nil {
			payment.ApplyStatus(PaymentRejected)
			if _, uerr := o.payments.Update(ctx, payment); uerr != nil {
				o.logger.Error("failed to mark payment rejected", "error", uerr, "payment_id", payment.ID)
			}
			o.publishSettlement(ctx, events.TypeSettlementFailed, payment, "WALLET_DEBIT_FAILED")
			return nil, err
		}
		payment.WalletTxnID = debit.ID
	}

	// Gateway leg, retried per the classifier's policy.
	if split.RequiresGatewayPayment {
		orderReq := gateway.CreateOrderRequest{
			OrderID:       fmt.Sprintf("ORD-%s", payment.ID),
			Amount:        split.GatewayAmount,
			CustomerID:    req.UserID,
			CustomerName:  req.CustomerName,
			CustomerPhone: req.CustomerPhone,
			CustomerEmail: req.CustomerEmail,
			Meta:          map[string]string{"payment_id": payment.ID},
		}

		var order *gateway.OrderResult
		gerr := o.classifier.ExecuteWithRetry(ctx, "gateway.create_order", o.retry, func(ctx context.Context) error {
			var opErr error
			order, opErr = o.gateway.CreateOrder(ctx, orderReq)
			return opErr
		})
		if gerr != nil {
			return nil, o.failGatewayLeg(ctx, payment, debit, gerr)
		}

		payment.GatewayOrderID = order.OrderID
		payment.GatewayResponse = order.Raw
		if _, err := o.payments.Update(ctx, payment); err != nil {
			o.logger.Error("failed to record gateway order", "error", err, "payment_id", payment.ID)
		}

		result := o.resultFor(payment, split)
		result.Success = true
		result.GatewaySessionID = order.PaymentSessionID
		result.Message = "awaiting gateway confirmation"
		return result, nil
	}

	// Wallet covered everything; the settlement is terminal right away.
	payment.ApplyStatus(PaymentApproved)
	if _, err := o.payments.Update(ctx, payment); err != nil {
		o.logger.Error("failed to approve payment", "error", err, "payment_id", payment.ID)
	}
	o.publishSettlement(ctx, events.TypeSettlementCompleted, payment, "")

	result := o.resultFor(payment, split)
	result.Success = true
	result.Message = "settled from wallet"
	return result, nil
}

// failGatewayLeg compensates the wallet debit (when one happened) and
// records the failure. The reversal is best effort: its own failure is
// logged and published for manual reconciliation, never masking the
// gateway error returned to the caller.
func (o *Orchestrator) failGatewayLeg(ctx context.Context, payment *Payment, debit *wallet.Transaction, gatewayErr error) error {
	status := PaymentRejected

	if debit != nil {
		if o.compensateWallet(ctx, payment, debit.ID, "gateway payment failed") {
			// The debit was rolled back; the record no longer carries an
			// applied wallet leg.
			payment.WalletTxnID = ""
		} else {
			// Keep the pointer to the un-reversed debit so reconciliation
			// has more than the published event to go on.
			status = PaymentIncomplete
		}
	}

	payment.ApplyStatus(status)
	if _, err := o.payments.Update(ctx, payment); err != nil {
		o.logger.Error("failed to record gateway failure", "error", err, "payment_id", payment.ID)
	}

	o.publishSettlement(ctx, events.TypeSettlementFailed, payment, "GATEWAY_CHARGE_FAILED")
	o.logger.Warn("settlement failed on gateway leg",
		"payment_id", payment.ID,
		"user_id", payment.UserID,
		"error", gatewayErr,
	)
	return gatewayErr
}

// compensateWallet appends the reversing credit for a debit. Returns
// whether the reversal was recorded.
func (o *Orchestrator) compensateWallet(ctx context.Context, payment *Payment, debitID, reason string) bool {
	if _, err := o.wallet.Reverse(ctx, debitID, reason); err != nil {
		o.logger.Error("wallet reversal failed",
			"error", err,
			"payment_id", payment.ID,
			"transaction_id", debitID,
		)
		o.publishReversalFailed(ctx, payment, debitID, reason, err)
		return false
	}
	return true
}

// SettleWalletOnly settles entirely from the wallet. It fails up front
// with the shortfall when the balance cannot cover the full amount; it
// never partially debits.
func (o *Orchestrator) SettleWalletOnly(ctx context.Context, req SettleRequest) (*Result, error) {
	if req.UserID == "" {
		return nil, &ValidationError{Field: "user_id", Reason: "is required"}
	}
	if !req.Amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Reason: "must be positive"}
	}

	total, err := req.Amount.Add(normalizeExtra(req.Amount, req.ExtraCharges))
	if err != nil {
		return nil, err
	}

	balance, err := o.wallet.Balance(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if balance.LessThan(total) {
		return nil, &wallet.InsufficientBalanceError{
			UserID:    req.UserID,
			Requested: total,
			Available: balance,
		}
	}

	paymentID := req.PaymentID
	if paymentID == "" {
		paymentID = ulid.Make().String()
	}

	payment, err := NewPayment(paymentID, req.UserID, req.Amount, req.ExtraCharges, MethodWallet, req.Note, req.ServiceYear)
	if err != nil {
		return nil, err
	}
	payment.WalletPortion = total
	payment.GatewayPortion = money.Zero(total.Currency)

	if err := o.payments.Create(ctx, payment); err != nil {
		return nil, fmt.Errorf("creating payment: %w", err)
	}

	debit, err := o.wallet.Debit(ctx, req.UserID, total, payment.ID,
		fmt.Sprintf("Payment %s", payment.ID))
	if err != nil {
		// A concurrent attempt may have drained the balance between the
		// check and the debit; the ledger is the authority.
		payment.ApplyStatus(PaymentRejected)
		if _, uerr := o.payments.Update(ctx, payment); uerr != nil {
			o.logger.Error("failed to mark payment rejected", "error", uerr, "payment_id", payment.ID)
		}
		o.publishSettlement(ctx, events.TypeSettlementFailed, payment, "WALLET_DEBIT_FAILED")
		return nil, err
	}

	payment.WalletTxnID = debit.ID
	payment.ApplyStatus(PaymentApproved)
	if _, err := o.payments.Update(ctx, payment); err != nil {
		o.logger.Error("failed to approve payment", "error", err, "payment_id", payment.ID)
	}
	o.publishSettlement(ctx, events.TypeSettlementCompleted, payment, "")

	return &Result{
		Success:       true,
		PaymentID:     payment.ID,
		Status:        payment.Status,
		TotalAmount:   total,
		WalletAmount:  total,
		GatewayAmount: money.Zero(total.Currency),
		WalletTxnID:   debit.ID,
		ReceiptNumber: payment.ReceiptNumber,
		Message:       "settled from wallet",
	}, nil
}

// RecordCashPayment records an out-of-band cash collection as an approved
// payment. No wallet or gateway leg is involved.
func (o *Orchestrator) RecordCashPayment(ctx context.Context, req SettleRequest) (*Payment, error) {
	if req.UserID == "" {
		return nil, &ValidationError{Field: "user_id", Reason: "is required"}
	}
	if !req.Amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Reason: "must be positive"}
	}

	paymentID := req.PaymentID
	if paymentID == "" {
		paymentID = ulid.Make().String()
	}

	payment, err := NewPayment(paymentID, req.UserID, req.Amount, req.ExtraCharges, MethodManualCash, req.Note, req.ServiceYear)
	if err != nil {
		return nil, err
	}
	payment.ApplyStatus(PaymentApproved)

	if err := o.payments.Create(ctx, payment); err != nil {
		return nil, fmt.Errorf("creating payment: %w", err)
	}
	o.publishSettlement(ctx, events.TypeSettlementCompleted, payment, "")
	return payment, nil
}

// ApplyGatewayEvent applies a verified webhook event to the payment it
// references. Processing is idempotent per order_id + event type, and a
// terminal payment status is never regressed.
func (o *Orchestrator) ApplyGatewayEvent(ctx context.Context, ev *gateway.WebhookEvent) (*Payment, error) {
	payment, err := o.payments.GetByOrderID(ctx, ev.OrderID)
	if err != nil {
		return nil, err
	}

	var target PaymentStatus
	switch ev.Type {
	case gateway.EventPaymentSuccess, gateway.EventOrderPaid:
		target = PaymentApproved
	case gateway.EventPaymentFailed:
		target = PaymentRejected
	case gateway.EventUserDropped:
		target = PaymentIncomplete
	default:
		o.logger.Warn("unrecognized webhook event type",
			"order_id", ev.OrderID,
			"type", ev.Type,
		)
		return payment, nil
	}

	updated, err := o.applyGatewayOutcome(ctx, payment, target, ev.GatewayPaymentID, ev.Raw, "webhook")
	if err != nil {
		// The event stays unmarked so the gateway's redelivery retries it.
		return nil, err
	}

	fresh, err := o.payments.MarkWebhookProcessed(ctx, ev.OrderID, string(ev.Type))
	if err != nil {
		o.logger.Error("failed to record processed webhook",
			"error", err,
			"order_id", ev.OrderID,
		)
		return updated, nil
	}
	if !fresh {
		o.logger.Info("duplicate webhook ignored",
			"order_id", ev.OrderID,
			"type", ev.Type,
		)
		return updated, nil
	}

	o.publishWebhookReceived(ctx, updated, ev)
	return updated, nil
}

// ResolvePending resolves a payment stuck pending after an ambiguous
// gateway outcome (for instance a timed-out charge) by polling the
// gateway's status endpoint. It never guesses: the payment stays pending
// unless the gateway reports a terminal state.
func (o *Orchestrator) ResolvePending(ctx context.Context, paymentID string) (*Payment, error) {
	payment, err := o.payments.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status.IsTerminal() || payment.GatewayOrderID == "" {
		return payment, nil
	}

	var status *gateway.PaymentStatusResult
	gerr := o.classifier.ExecuteWithRetry(ctx, "gateway.get_payment_status", o.retry, func(ctx context.Context) error {
		var opErr error
		status, opErr = o.gateway.GetPaymentStatus(ctx, payment.GatewayOrderID)
		return opErr
	})
	if gerr != nil {
		return nil, gerr
	}

	switch {
	case status.IsPaid():
		return o.applyGatewayOutcome(ctx, payment, PaymentApproved, status.GatewayPaymentID, status.Raw, "poll")
	case status.IsFailed():
		return o.applyGatewayOutcome(ctx, payment, PaymentRejected, status.GatewayPaymentID, status.Raw, "poll")
	default:
		o.logger.Info("gateway payment still pending",
			"payment_id", payment.ID,
			"order_id", payment.GatewayOrderID,
			"gateway_status", status.Status,
		)
		return payment, nil
	}
}

// applyGatewayOutcome applies a terminal gateway outcome to a payment.
// A rejection after a standing wallet debit triggers the compensating
// reversal.
func (o *Orchestrator) applyGatewayOutcome(ctx context.Context, payment *Payment, target PaymentStatus, chargeID string, raw json.RawMessage, source string) (*Payment, error) {
	previous := payment.Status
	if !payment.ApplyStatus(target) {
		return payment, nil
	}

	if chargeID != "" && chargeID != "0" {
		payment.GatewayChargeID = chargeID
	}
	if len(raw) > 0 {
		payment.GatewayResponse = raw
	}

	changed, err := o.payments.Update(ctx, payment)
	if err != nil {
		return nil, err
	}
	if !changed {
		// Lost the race against another writer, who owns the side effects;
		// reload the authoritative row.
		return o.payments.Get(ctx, payment.ID)
	}

	// Only the writer whose status transition stuck may compensate, so a
	// webhook and a poll racing over the same failure reverse the debit
	// exactly once.
	if target == PaymentRejected && payment.WalletTxnID != "" {
		o.compensateWallet(ctx, payment, payment.WalletTxnID, "gateway payment failed")
	}

	o.publishStatusUpdated(ctx, payment, previous, source)
	if target == PaymentApproved {
		o.publishSettlement(ctx, events.TypeSettlementCompleted, payment, "")
	} else {
		o.publishSettlement(ctx, events.TypeSettlementFailed, payment, "GATEWAY_"+string(target))
	}

	o.logger.Info("payment status updated",
		"payment_id", payment.ID,
		"from", previous,
		"to", payment.Status,
		"source", source,
	)
	return payment, nil
}

// GetPayment returns a payment by ID.
func (o *Orchestrator) GetPayment(ctx context.Context, id string) (*Payment, error) {
	return o.payments.Get(ctx, id)
}

func validateSettle(req SettleRequest) error {
	switch {
	case req.UserID == "":
		return &ValidationError{Field: "user_id", Reason: "is required"}
	case !req.Amount.IsPositive():
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	case req.ExtraCharges.IsNegative():
		return &ValidationError{Field: "extra_charges", Reason: "must not be negative"}
	case !req.GatewayMethod.UsesGateway():
		return &ValidationError{Field: "gateway_method", Reason: "must be a gateway-capable method"}
	}
	return nil
}

func (o *Orchestrator) resultFor(payment *Payment, split *Split) *Result {
	return &Result{
		PaymentID:      payment.ID,
		Status:         payment.Status,
		TotalAmount:    split.Total,
		WalletAmount:   split.WalletAmount,
		GatewayAmount:  split.GatewayAmount,
		WalletTxnID:    payment.WalletTxnID,
		GatewayOrderID: payment.GatewayOrderID,
		ReceiptNumber:  payment.ReceiptNumber,
	}
}

func (o *Orchestrator) publishSettlement(ctx context.Context, eventType string, payment *Payment, failureCode string) {
	if o.publisher == nil {
		return
	}

	event, err := events.NewEvent(eventType, "payment", payment.ID, events.SettlementData{
		PaymentID:      payment.ID,
		UserID:         payment.UserID,
		TotalMinor:     payment.Total().AmountMinor,
		WalletMinor:    payment.WalletPortion.AmountMinor,
		GatewayMinor:   payment.GatewayPortion.AmountMinor,
		Currency:       string(payment.Amount.Currency),
		WalletTxnID:    payment.WalletTxnID,
		GatewayOrderID: payment.GatewayOrderID,
		FailureCode:    failureCode,
	})
	if err != nil {
		o.logger.Error("failed to build settlement event", "error", err)
		return
	}
	if err := o.publisher.Publish(ctx, event); err != nil {
		o.logger.Error("failed to publish settlement event", "error", err, "type", eventType)
	}
}

func (o *Orchestrator) publishReversalFailed(ctx context.Context, payment *Payment, txnID, reason string, cause error) {
	if o.publisher == nil {
		return
	}

	event, err := events.NewEvent(events.TypeWalletReversalFailed, "payment", payment.ID, events.ReversalFailedData{
		UserID:        payment.UserID,
		OriginalTxnID: txnID,
		PaymentID:     payment.ID,
		AmountMinor:   payment.WalletPortion.AmountMinor,
		Currency:      string(payment.Amount.Currency),
		Reason:        reason,
		ReversalError: cause.Error(),
	})
	if err != nil {
		o.logger.Error("failed to build reversal-failed event", "error", err)
		return
	}
	if err := o.publisher.Publish(ctx, event); err != nil {
		o.logger.Error("failed to publish reversal-failed event", "error", err, "payment_id", payment.ID)
	}
}

func (o *Orchestrator) publishStatusUpdated(ctx context.Context, payment *Payment, previous PaymentStatus, source string) {
	if o.publisher == nil {
		return
	}

	event, err := events.NewEvent(events.TypePaymentStatusUpdated, "payment", payment.ID, events.PaymentStatusData{
		PaymentID:      payment.ID,
		OrderID:        payment.GatewayOrderID,
		PreviousStatus: string(previous),
		Status:         string(payment.Status),
		Source:         source,
	})
	if err != nil {
		o.logger.Error("failed to build status event", "error", err)
		return
	}
	if err := o.publisher.Publish(ctx, event); err != nil {
		o.logger.Error("failed to publish status event", "error", err, "payment_id", payment.ID)
	}
}

func (o *Orchestrator) publishWebhookReceived(ctx context.Context, payment *Payment, ev *gateway.WebhookEvent) {
	if o.publisher == nil {
		return
	}

	event, err := events.NewEvent(events.TypeWebhookReceived, "payment", payment.ID, map[string]string{
		"order_id":   ev.OrderID,
		"event_type": string(ev.Type),
		"status":     ev.Status,
	})
	if err != nil {
		o.logger.Error("failed to build webhook event", "error", err)
		return
	}
	if err := o.publisher.Publish(ctx, event); err != nil {
		o.logger.Error("failed to publish webhook event", "error", err, "order_id", ev.OrderID)
	}
}
