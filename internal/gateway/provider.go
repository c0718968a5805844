package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrTimeout is returned when a provider call exceeds its deadline.
var ErrTimeout = errors.New("provider call timed out")

// ChargeRequest asks the card/bank rail to collect funds for an order.
type ChargeRequest struct {
	OrderRef string
	Amount   int64 // micros
	Currency string
}

// Charge is the provider's acknowledgement of a charge request. Settlement
// is reported later via webhook.
type Charge struct {
	ProviderRef string
	CheckoutURL string
}

// PaymentProvider represents the external card/bank rail. Both calls must
// run under an explicit caller-supplied timeout; outcomes arrive
// asynchronously via webhook callbacks.
type PaymentProvider interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
	SendPayout(ctx context.Context, destination string, amount int64, currency string) (string, error)
}

// MockProvider simulates the external rail with latency and failure
// injection, mirroring sandbox behavior closely enough for tests.
type MockProvider struct {
	// FailureRate is the probability of failure (0.0 to 1.0).
	FailureRate float64
	// Latency bounds the simulated network delay.
	Latency time.Duration
}

func NewMockProvider() *MockProvider {
	return &MockProvider{
		FailureRate: 0.05,
		Latency:     150 * time.Millisecond,
	}
}

func (p *MockProvider) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	if err := p.simulate(ctx); err != nil {
		return nil, err
	}
	ref := fmt.Sprintf("CHG-%s-%05d", time.Now().Format("20060102-150405"), rand.Intn(100000))
	return &Charge{
		ProviderRef: ref,
		CheckoutURL: "https://checkout.example.com/" + ref,
	}, nil
}

func (p *MockProvider) SendPayout(ctx context.Context, destination string, amount int64, currency string) (string, error) {
	if err := p.simulate(ctx); err != nil {
		return "", err
	}
	return fmt.Sprintf("PAYOUT-%s-%05d", time.Now().Format("20060102-150405"), rand.Intn(100000)), nil
}

func (p *MockProvider) simulate(ctx context.Context) error {
	delay := p.Latency
	if delay <= 0 {
		delay = 150 * time.Millisecond
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
		return ctx.Err()
	}
	if rand.Float64() < p.FailureRate {
		return errors.New("provider temporarily unavailable")
	}
	return nil
}
