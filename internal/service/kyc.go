package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/repository"
)

// KYCProvider exposes the per-user verification status maintained by the
// external KYC pipeline. The engine only reads it.
type KYCProvider interface {
	StatusFor(ctx context.Context, userID uuid.UUID) (string, error)
}

// StoreKYCProvider reads the status the KYC pipeline writes to the users
// table.
type StoreKYCProvider struct {
	store QueryStore
}

func NewStoreKYCProvider(store QueryStore) *StoreKYCProvider {
	return &StoreKYCProvider{store: store}
}

func (p *StoreKYCProvider) StatusFor(ctx context.Context, userID uuid.UUID) (string, error) {
	status, err := p.store.Queries().GetUserKYCStatus(ctx, repository.ToPgUUID(userID))
	if err != nil {
		return "", fmt.Errorf("read kyc status: %w", err)
	}
	return status, nil
}
