package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money represents a monetary value in a specific currency.
// Amount is stored as BIGINT micros (10^-6) to avoid floating point errors.
type Money struct {
	Amount   int64  // micros
	Currency string // ISO 4217
}

// NewMoney creates a new Money instance from micros.
func NewMoney(amount int64, currency string) Money {
	return Money{
		Amount:   amount,
		Currency: currency,
	}
}

// ToDecimal converts the int64 micros to a shopspring/decimal.Decimal.
func (m Money) ToDecimal() decimal.Decimal {
	return decimal.NewFromInt(m.Amount).Div(decimal.NewFromInt(1_000_000))
}

// FromDecimal converts a decimal.Decimal to int64 micros.
func FromDecimal(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(1_000_000)).IntPart()
}

// Convert converts the money to a target currency using a given FX rate.
// The rate is (Target / Source) and the result rounds down, so the
// new-account cap comparison can never overshoot by rounding.
func (m Money) Convert(targetCurrency string, rate decimal.Decimal) Money {
	amountDec := m.ToDecimal().Mul(rate)
	return Money{
		Amount:   FromDecimal(amountDec),
		Currency: targetCurrency,
	}
}

// WithinBand reports whether the amount falls inside the inclusive
// +/- band around limit, where band is a fraction (0.2 == 20%).
// Used by structuring detection.
func (m Money) WithinBand(limit int64, band decimal.Decimal) bool {
	lim := decimal.NewFromInt(limit)
	delta := lim.Mul(band)
	amt := decimal.NewFromInt(m.Amount)
	return amt.GreaterThanOrEqual(lim.Sub(delta)) && amt.LessThanOrEqual(lim.Add(delta))
}

// String returns the string representation of the money.
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.ToDecimal().StringFixed(2), m.Currency)
}

// IsSupportedCurrency reports whether the platform custodies the currency.
func IsSupportedCurrency(currency string) bool {
	switch currency {
	case "TRY", "USD", "EUR":
		return true
	default:
		return false
	}
}
