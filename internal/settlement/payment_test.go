package settlement_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"billpay/internal/common/money"
	"billpay/internal/settlement"
)

func TestApplyStatusTerminalGuard(t *testing.T) {
	p, err := settlement.NewPayment("pay-1", "user-1", inr(10000), inr(0), settlement.MethodGateway, "", 2026)
	require.NoError(t, err)
	assert.Equal(t, settlement.PaymentPending, p.Status)

	assert.True(t, p.ApplyStatus(settlement.PaymentApproved))
	assert.Equal(t, settlement.PaymentApproved, p.Status)

	// A late failure webhook must not regress the settled payment.
	assert.False(t, p.ApplyStatus(settlement.PaymentRejected))
	assert.Equal(t, settlement.PaymentApproved, p.Status)

	assert.False(t, p.ApplyStatus(settlement.PaymentIncomplete))
	assert.Equal(t, settlement.PaymentApproved, p.Status)
}

func TestApplyStatusRejectedIsTerminal(t *testing.T) {
	p, err := settlement.NewPayment("pay-1", "user-1", inr(10000), inr(0), settlement.MethodGateway, "", 2026)
	require.NoError(t, err)

	assert.True(t, p.ApplyStatus(settlement.PaymentRejected))
	assert.False(t, p.ApplyStatus(settlement.PaymentApproved))
	assert.Equal(t, settlement.PaymentRejected, p.Status)
}

func TestApplyStatusIncompleteIsNotTerminal(t *testing.T) {
	p, err := settlement.NewPayment("pay-1", "user-1", inr(10000), inr(0), settlement.MethodGateway, "", 2026)
	require.NoError(t, err)

	assert.True(t, p.ApplyStatus(settlement.PaymentIncomplete))
	// A pending charge resolved later may still approve.
	assert.True(t, p.ApplyStatus(settlement.PaymentApproved))
	assert.Equal(t, settlement.PaymentApproved, p.Status)
}

func TestReceiptNumberOnApproval(t *testing.T) {
	p, err := settlement.NewPayment("01HV3ZJXK2M9QRST5678ABCD", "user-1", inr(10000), inr(0), settlement.MethodWallet, "", 2026)
	require.NoError(t, err)
	assert.Empty(t, p.ReceiptNumber)

	require.True(t, p.ApplyStatus(settlement.PaymentApproved))
	assert.Equal(t, "RCPT-2026-5678ABCD", p.ReceiptNumber)

	// Receipt numbers are assigned once.
	receipt := p.ReceiptNumber
	p.ApplyStatus(settlement.PaymentRejected)
	assert.Equal(t, receipt, p.ReceiptNumber)
}

func TestReceiptNumberUppercasesSuffix(t *testing.T) {
	p, err := settlement.NewPayment("pay-abcdefgh", "user-1", inr(100), inr(0), settlement.MethodWallet, "", 2025)
	require.NoError(t, err)

	require.True(t, p.ApplyStatus(settlement.PaymentApproved))
	assert.True(t, strings.HasPrefix(p.ReceiptNumber, "RCPT-2025-"))
	assert.Equal(t, "RCPT-2025-ABCDEFGH", p.ReceiptNumber)
}

func TestTotalIncludesExtraCharges(t *testing.T) {
	p, err := settlement.NewPayment("pay-1", "user-1", inr(10000), inr(450), settlement.MethodWallet, "", 2026)
	require.NoError(t, err)
	assert.Equal(t, int64(10450), p.Total().AmountMinor)
}

func TestTotalWithUnsetExtraCharges(t *testing.T) {
	p, err := settlement.NewPayment("pay-1", "user-1", inr(10000), money.Money{}, settlement.MethodManualCash, "", 2026)
	require.NoError(t, err)

	// The stored extra charges carry the payment's currency and the total
	// never panics on the optional field.
	assert.Equal(t, money.INR, p.ExtraCharges.Currency)
	assert.Equal(t, int64(10000), p.Total().AmountMinor)
}

func TestMethodUsesGateway(t *testing.T) {
	assert.True(t, settlement.MethodGateway.UsesGateway())
	assert.True(t, settlement.MethodCombined.UsesGateway())
	assert.False(t, settlement.MethodWallet.UsesGateway())
	assert.False(t, settlement.MethodManualCash.UsesGateway())
}

func TestNewPaymentValidation(t *testing.T) {
	_, err := settlement.NewPayment("", "user-1", inr(100), inr(0), settlement.MethodWallet, "", 2026)
	assert.Error(t, err)

	_, err = settlement.NewPayment("pay-1", "", inr(100), inr(0), settlement.MethodWallet, "", 2026)
	assert.Error(t, err)

	_, err = settlement.NewPayment("pay-1", "user-1", inr(0), inr(0), settlement.MethodWallet, "", 2026)
	assert.Error(t, err)

	_, err = settlement.NewPayment("pay-1", "user-1", inr(100), inr(-5), settlement.MethodWallet, "", 2026)
	assert.Error(t, err)
}
