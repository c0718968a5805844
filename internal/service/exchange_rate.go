package service

import (
	"context"

	"github.com/shopspring/decimal"
)

// ExchangeRateService defines the interface for fetching FX rates. The
// engine never performs currency exchange; rates are only used to convert
// amounts into the TRY reference currency for compliance caps.
type ExchangeRateService interface {
	// GetExchangeRate returns the rate to convert from source to target currency.
	GetExchangeRate(ctx context.Context, sourceCurrency, targetCurrency string) (decimal.Decimal, error)
}

// MockExchangeRateService is a static implementation for testing.
type MockExchangeRateService struct{}

func NewMockExchangeRateService() *MockExchangeRateService {
	return &MockExchangeRateService{}
}

// GetExchangeRate returns static/mocked rates relative to TRY.
func (s *MockExchangeRateService) GetExchangeRate(ctx context.Context, source, target string) (decimal.Decimal, error) {
	if source == target {
		return decimal.NewFromInt(1), nil
	}

	// Base rates in TRY per unit
	rates := map[string]float64{
		"TRY": 1.0,
		"USD": 41.0,
		"EUR": 44.5,
	}

	sourceRate, ok1 := rates[source]
	targetRate, ok2 := rates[target]
	if !ok1 || !ok2 {
		return decimal.Zero, nil
	}

	// Rate = (TRY per source) / (TRY per target)
	sRate := decimal.NewFromFloat(sourceRate)
	tRate := decimal.NewFromFloat(targetRate)
	return sRate.Div(tRate), nil
}
