package settlement_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"billpay/internal/common/money"
	"billpay/internal/settlement"
)

type fixedBalance struct {
	balance money.Money
}

func (f fixedBalance) Balance(ctx context.Context, userID string) (money.Money, error) {
	return f.balance, nil
}

func inr(minor int64) money.Money {
	return money.New(minor, money.INR)
}

func TestCalculateFullWalletCoverage(t *testing.T) {
	calc := settlement.NewCalculator(fixedBalance{balance: inr(50000)})

	split, err := calc.Calculate(context.Background(), "user-1", inr(30000), inr(2000))
	require.NoError(t, err)

	assert.Equal(t, int64(32000), split.Total.AmountMinor)
	assert.Equal(t, int64(32000), split.WalletAmount.AmountMinor)
	assert.True(t, split.GatewayAmount.IsZero())
	assert.True(t, split.CanPayFullyFromWallet)
	assert.False(t, split.RequiresGatewayPayment)
}

func TestCalculatePartialWalletCoverage(t *testing.T) {
	calc := settlement.NewCalculator(fixedBalance{balance: inr(10000)})

	split, err := calc.Calculate(context.Background(), "user-1", inr(30000), inr(0))
	require.NoError(t, err)

	assert.Equal(t, int64(10000), split.WalletAmount.AmountMinor)
	assert.Equal(t, int64(20000), split.GatewayAmount.AmountMinor)
	assert.False(t, split.CanPayFullyFromWallet)
	assert.True(t, split.RequiresGatewayPayment)
}

func TestCalculateEmptyWallet(t *testing.T) {
	calc := settlement.NewCalculator(fixedBalance{balance: inr(0)})

	split, err := calc.Calculate(context.Background(), "user-1", inr(30000), inr(500))
	require.NoError(t, err)

	assert.True(t, split.WalletAmount.IsZero())
	assert.Equal(t, int64(30500), split.GatewayAmount.AmountMinor)
	assert.True(t, split.RequiresGatewayPayment)
}

func TestCalculateExactBalance(t *testing.T) {
	calc := settlement.NewCalculator(fixedBalance{balance: inr(30000)})

	split, err := calc.Calculate(context.Background(), "user-1", inr(30000), inr(0))
	require.NoError(t, err)

	assert.True(t, split.CanPayFullyFromWallet)
	assert.Equal(t, int64(30000), split.WalletAmount.AmountMinor)
	assert.True(t, split.GatewayAmount.IsZero())
}

func TestCalculateUnsetExtraChargesAreZero(t *testing.T) {
	calc := settlement.NewCalculator(fixedBalance{balance: inr(10000)})

	// Extra charges are optional; a zero-value amount must not trip the
	// currency check.
	split, err := calc.Calculate(context.Background(), "user-1", inr(30000), money.Money{})
	require.NoError(t, err)

	assert.Equal(t, int64(30000), split.Total.AmountMinor)
	assert.Equal(t, money.INR, split.Total.Currency)
	assert.Equal(t, int64(10000), split.WalletAmount.AmountMinor)
	assert.Equal(t, int64(20000), split.GatewayAmount.AmountMinor)
}

func TestCalculatePortionsAlwaysSumToTotal(t *testing.T) {
	for _, balance := range []int64{0, 1, 4999, 5000, 5001, 100000} {
		calc := settlement.NewCalculator(fixedBalance{balance: inr(balance)})

		split, err := calc.Calculate(context.Background(), "user-1", inr(5000), inr(250))
		require.NoError(t, err)

		sum := split.WalletAmount.MustAdd(split.GatewayAmount)
		assert.True(t, sum.Equal(split.Total), "balance=%d wallet=%d gateway=%d",
			balance, split.WalletAmount.AmountMinor, split.GatewayAmount.AmountMinor)
		assert.False(t, split.WalletAmount.IsNegative())
		assert.False(t, split.GatewayAmount.IsNegative())
	}
}

func TestCalculateValidation(t *testing.T) {
	calc := settlement.NewCalculator(fixedBalance{balance: inr(1000)})
	ctx := context.Background()

	var valErr *settlement.ValidationError

	_, err := calc.Calculate(ctx, "", inr(100), inr(0))
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "user_id", valErr.Field)

	_, err = calc.Calculate(ctx, "user-1", inr(0), inr(0))
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "total_amount", valErr.Field)

	_, err = calc.Calculate(ctx, "user-1", inr(100), inr(-1))
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "extra_charges", valErr.Field)
}
