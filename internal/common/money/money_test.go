package money_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"billpay/internal/common/money"
)

func TestAddSub(t *testing.T) {
	a := money.New(10050, money.INR)
	b := money.New(4950, money.INR)

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, int64(15000), sum.AmountMinor)

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.Equal(t, int64(5100), diff.AmountMinor)
}

func TestCurrencyMismatch(t *testing.T) {
	a := money.New(100, money.INR)
	b := money.New(100, money.USD)

	_, err := a.Add(b)
	assert.Error(t, err)

	_, err = a.Sub(b)
	assert.Error(t, err)

	_, err = money.Min(a, b)
	assert.Error(t, err)
}

func TestMin(t *testing.T) {
	a := money.New(300, money.INR)
	b := money.New(200, money.INR)

	m, err := money.Min(a, b)
	require.NoError(t, err)
	assert.Equal(t, int64(200), m.AmountMinor)
}

func TestComparisons(t *testing.T) {
	a := money.New(500, money.INR)
	b := money.New(200, money.INR)

	assert.True(t, a.GreaterThan(b))
	assert.True(t, b.LessThan(a))
	assert.True(t, a.GreaterThanOrEqual(money.New(500, money.INR)))
	assert.True(t, a.Equal(money.New(500, money.INR)))
	assert.False(t, a.Equal(b))
	assert.False(t, a.Equal(money.New(500, money.USD)))
}

func TestMajorConversion(t *testing.T) {
	m := money.NewFromMajor(123.45, money.INR)
	assert.Equal(t, int64(12345), m.AmountMinor)
	assert.InDelta(t, 123.45, m.ToMajor(), 0.0001)

	// Rounds instead of truncating.
	m = money.NewFromMajor(0.1+0.2, money.INR)
	assert.Equal(t, int64(30), m.AmountMinor)
}

func TestJSONRoundTrip(t *testing.T) {
	m := money.New(9900, money.INR)

	data, err := json.Marshal(m)
	require.NoError(t, err)

	var back money.Money
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, m.Equal(back))
}

func TestSum(t *testing.T) {
	total, err := money.Sum(
		money.New(100, money.INR),
		money.New(250, money.INR),
		money.New(50, money.INR),
	)
	require.NoError(t, err)
	assert.Equal(t, int64(400), total.AmountMinor)

	_, err = money.Sum(money.New(1, money.INR), money.New(1, money.EUR))
	assert.Error(t, err)
}
