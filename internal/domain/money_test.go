package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMoneyConvertRoundsDown(t *testing.T) {
	m := NewMoney(1_000_000, "USD") // 1.00 USD
	rate := decimal.NewFromFloat(41.237891)

	out := m.Convert("TRY", rate)
	assert.Equal(t, "TRY", out.Currency)
	assert.Equal(t, int64(41_237_891), out.Amount)
}

func TestMoneyConvertIdentityRate(t *testing.T) {
	m := NewMoney(250_000, "TRY")
	out := m.Convert("TRY", decimal.NewFromInt(1))
	assert.Equal(t, m.Amount, out.Amount)
}

func TestMoneyWithinBand(t *testing.T) {
	band := decimal.NewFromFloat(0.2)
	limit := int64(75_000)

	cases := []struct {
		amount int64
		want   bool
	}{
		{60_000, true},  // exactly -20%, inclusive
		{90_000, true},  // exactly +20%, inclusive
		{70_000, true},  // inside the band
		{59_999, false}, // just below
		{90_001, false}, // just above
		{75_000, true},  // the limit itself
	}
	for _, tc := range cases {
		got := NewMoney(tc.amount, "TRY").WithinBand(limit, band)
		assert.Equal(t, tc.want, got, "amount %d", tc.amount)
	}
}

func TestMoneyString(t *testing.T) {
	m := NewMoney(1_500_000, "EUR")
	assert.Equal(t, "1.50 EUR", m.String())
}

func TestRiskLevelFor(t *testing.T) {
	assert.Equal(t, RiskLow, RiskLevelFor(0))
	assert.Equal(t, RiskLow, RiskLevelFor(29))
	assert.Equal(t, RiskMedium, RiskLevelFor(30))
	assert.Equal(t, RiskHigh, RiskLevelFor(60))
	assert.Equal(t, RiskCritical, RiskLevelFor(80))
	assert.Equal(t, RiskCritical, RiskLevelFor(100))
}
