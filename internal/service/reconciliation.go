package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/observability"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/repository"
)

// ReconciliationReport is the outcome of one integrity sweep. Both lists
// should always be empty; anything else is a serious defect.
type ReconciliationReport struct {
	AccountDrift []repository.AccountDriftRow `json:"account_drift"`
	Imbalances   []repository.ConservationRow `json:"imbalances"`
}

func (r *ReconciliationReport) Clean() bool {
	return len(r.AccountDrift) == 0 && len(r.Imbalances) == 0
}

// ReconciliationService cross-checks account balances against the ledger
// and verifies per-currency conservation: custodied balances plus
// outstanding holds must equal net external deposits.
type ReconciliationService struct {
	store QueryStore
	log   *zap.Logger
}

func NewReconciliationService(store QueryStore) *ReconciliationService {
	return &ReconciliationService{store: store, log: zap.L().Named("reconciliation")}
}

func (s *ReconciliationService) Run(ctx context.Context) (*ReconciliationReport, error) {
	queries := s.store.Queries()

	drift, err := queries.ListAccountDrift(ctx)
	if err != nil {
		return nil, fmt.Errorf("check account drift: %w", err)
	}
	imbalances, err := queries.ListConservationImbalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("check conservation: %w", err)
	}

	report := &ReconciliationReport{AccountDrift: drift, Imbalances: imbalances}
	for _, row := range drift {
		s.log.Error("account balance drifted from ledger",
			zap.String("account_id", repository.FromPgUUID(row.AccountID).String()),
			zap.String("currency", row.Currency),
			zap.Int64("balance", row.Balance),
			zap.Int64("entry_sum", row.EntrySum))
	}
	for _, row := range imbalances {
		s.log.Error("conservation violated",
			zap.String("currency", row.Currency),
			zap.Int64("net", row.Net))
	}
	observability.LedgerImbalances.Set(float64(len(drift) + len(imbalances)))
	return report, nil
}
