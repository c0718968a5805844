package service

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/domain"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/models"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/repository"
)

func requireExactlyOne(rows int64, operation string) error {
	if rows != 1 {
		return fmt.Errorf("%s affected %d rows", operation, rows)
	}
	return nil
}

// feeAccountID returns the platform fee account for a currency.
func feeAccountID(currency string) (uuid.UUID, error) {
	var idStr string
	switch currency {
	case "TRY":
		idStr = domain.FeeAccountTRY
	case "USD":
		idStr = domain.FeeAccountUSD
	case "EUR":
		idStr = domain.FeeAccountEUR
	default:
		return uuid.Nil, fmt.Errorf("%w: %s", models.ErrUnsupportedCurrency, currency)
	}
	return uuid.Parse(idStr)
}

// wrapBusy translates a lock_timeout expiry or an aborted deadlock victim
// into the retryable busy error.
func wrapBusy(err error) error {
	if err == nil {
		return nil
	}
	if repository.IsLockTimeout(err) || repository.IsDeadlock(err) {
		return fmt.Errorf("%w: %v", models.ErrBusy, err)
	}
	return err
}

func marshalReasonMetadata(reason string) ([]byte, error) {
	return json.Marshal(map[string]string{
		"reason": reason,
	})
}

// Actor is the authenticated caller of a service operation, taken from the
// request token or set to the system identity by background workers.
type Actor struct {
	ID   uuid.UUID
	Role string
}

// Trusted reports whether the actor may act on behalf of other users.
func (a Actor) Trusted() bool {
	return a.Role == domain.RoleAdmin || a.Role == domain.RoleSystem
}

// SystemActor is used by sweeps, webhook processing and reconciliation.
func SystemActor() Actor {
	return Actor{ID: uuid.MustParse(domain.SystemUserID), Role: domain.RoleSystem}
}

// ComplianceRejectionError carries the individual block reasons from a
// failed pre-flight check so the API layer can surface them.
type ComplianceRejectionError struct {
	Reasons []string
}

func (e *ComplianceRejectionError) Error() string {
	return fmt.Sprintf("compliance rejected: %v", e.Reasons)
}

func (e *ComplianceRejectionError) Unwrap() error {
	return models.ErrComplianceRejected
}
