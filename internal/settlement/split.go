package settlement

import (
	"context"

	"billpay/internal/common/money"
)

// Split is the wallet/gateway breakdown computed for a due amount. All
// amounts are exact minor units; WalletAmount + GatewayAmount always equals
// Total.
type Split struct {
	Total                  money.Money `json:"total"`
	WalletAmount           money.Money `json:"wallet_amount"`
	GatewayAmount          money.Money `json:"gateway_amount"`
	CanPayFullyFromWallet  bool        `json:"can_pay_fully_from_wallet"`
	RequiresGatewayPayment bool        `json:"requires_gateway_payment"`
	BalanceSnapshot        money.Money `json:"balance_snapshot"`
}

// BalanceReader reads a user's current wallet balance.
type BalanceReader interface {
	Balance(ctx context.Context, userID string) (money.Money, error)
}

// Calculator computes splits. Pure apart from the single balance read.
type Calculator struct {
	balances BalanceReader
}

// NewCalculator creates a split calculator.
func NewCalculator(balances BalanceReader) *Calculator {
	return &Calculator{balances: balances}
}

// Calculate computes how much of totalAmount+extraCharges the wallet
// covers: everything when the balance suffices, the whole balance when it
// partially covers, nothing when it is empty.
func (c *Calculator) Calculate(ctx context.Context, userID string, totalAmount, extraCharges money.Money) (*Split, error) {
	if userID == "" {
		return nil, &ValidationError{Field: "user_id", Reason: "is required"}
	}
	if !totalAmount.IsPositive() {
		return nil, &ValidationError{Field: "total_amount", Reason: "must be positive"}
	}
	extraCharges = normalizeExtra(totalAmount, extraCharges)
	if extraCharges.IsNegative() {
		return nil, &ValidationError{Field: "extra_charges", Reason: "must not be negative"}
	}

	balance, err := c.balances.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}

	final, err := totalAmount.Add(extraCharges)
	if err != nil {
		return nil, err
	}

	split := &Split{
		Total:           final,
		BalanceSnapshot: balance,
	}

	switch {
	case balance.GreaterThanOrEqual(final):
		split.WalletAmount = final
		split.GatewayAmount = money.Zero(final.Currency)
		split.CanPayFullyFromWallet = true
	case balance.IsPositive():
		split.WalletAmount = balance
		split.GatewayAmount = final.MustSub(balance)
		split.RequiresGatewayPayment = true
	default:
		split.WalletAmount = money.Zero(final.Currency)
		split.GatewayAmount = final
		split.RequiresGatewayPayment = true
	}

	return split, nil
}
