package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/domain"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/models"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/observability"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/repository"
)

// providerEvent is the provider's callback payload.
type providerEvent struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	OrderRef  string `json:"order_ref"`
	Amount    int64  `json:"amount_micros"`
	Currency  string `json:"currency"`
}

type IngestResult struct {
	Status   string     `json:"status"` // processed, duplicate or ignored
	EscrowID *uuid.UUID `json:"escrow_id,omitempty"`
}

// WebhookService processes payment provider callbacks. Processing is
// idempotent: the processed-event record is written in the same transaction
// as the ledger effects, so a redelivered event either finds the record or
// loses the insert race, and in both cases changes nothing.
type WebhookService struct {
	store   QueryStore
	escrows *EscrowService
	audit   *AuditService
	secret  []byte
	log     *zap.Logger
}

func NewWebhookService(store QueryStore, escrows *EscrowService, secret string) *WebhookService {
	return &WebhookService{
		store:   store,
		escrows: escrows,
		audit:   NewAuditService(store),
		secret:  []byte(secret),
		log:     zap.L().Named("webhook"),
	}
}

// Ingest handles one provider delivery. The signature covers the raw body;
// verification failures are logged as security events and return an error
// without marking the event processed, so a corrected retry can succeed.
func (s *WebhookService) Ingest(ctx context.Context, payload []byte, signature string) (*IngestResult, error) {
	var event providerEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		s.log.Warn("undecodable webhook payload", zap.Error(err))
		observability.WebhookEvents.WithLabelValues("ignored").Inc()
		return &IngestResult{Status: "ignored"}, nil
	}
	if event.EventID == "" {
		observability.WebhookEvents.WithLabelValues("ignored").Inc()
		return &IngestResult{Status: "ignored"}, nil
	}

	// Idempotency first: a replay of an already-processed event must
	// succeed as a no-op before any other validation can reject it.
	if _, err := s.store.Queries().GetProcessedWebhookEvent(ctx, event.EventID); err == nil {
		observability.WebhookEvents.WithLabelValues("duplicate").Inc()
		return &IngestResult{Status: "duplicate"}, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check processed events: %w", err)
	}

	if !s.verifySignature(payload, signature) {
		s.log.Warn("webhook signature verification failed",
			zap.String("event_id", event.EventID),
			zap.String("event_type", event.EventType))
		observability.WebhookEvents.WithLabelValues("bad_signature").Inc()
		return nil, models.ErrInvalidSignature
	}

	switch event.EventType {
	case domain.WebhookChargeSucceeded, domain.WebhookChargeFailed:
	default:
		s.log.Info("unhandled webhook event type", zap.String("event_type", event.EventType))
		observability.WebhookEvents.WithLabelValues("ignored").Inc()
		return &IngestResult{Status: "ignored"}, nil
	}
	if event.OrderRef == "" {
		observability.WebhookEvents.WithLabelValues("ignored").Inc()
		return &IngestResult{Status: "ignored"}, nil
	}

	var escrowID uuid.UUID
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		escrow, err := qtx.GetEscrowByOrderRefForUpdate(ctx, event.OrderRef)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: %s", models.ErrOrderNotFound, event.OrderRef)
			}
			return fmt.Errorf("lock escrow by order ref: %w", err)
		}
		escrowID = escrow.ID

		switch event.EventType {
		case domain.WebhookChargeSucceeded:
			if err := s.applyChargeSucceeded(ctx, qtx, escrow, event); err != nil {
				return err
			}
		case domain.WebhookChargeFailed:
			if err := s.applyChargeFailed(ctx, qtx, escrow); err != nil {
				return err
			}
		}

		// Last statement on purpose: the event_id primary key arbitrates
		// concurrent deliveries of the same event.
		return qtx.InsertProcessedWebhookEvent(ctx, repository.InsertProcessedWebhookEventParams{
			EventID:   event.EventID,
			EventType: event.EventType,
			EscrowID:  repository.ToPgUUID(escrow.ID),
		})
	})
	if err != nil {
		if repository.IsUniqueViolation(err) {
			observability.WebhookEvents.WithLabelValues("duplicate").Inc()
			return &IngestResult{Status: "duplicate"}, nil
		}
		return nil, wrapBusy(err)
	}

	observability.WebhookEvents.WithLabelValues("processed").Inc()
	return &IngestResult{Status: "processed", EscrowID: &escrowID}, nil
}

// applyChargeSucceeded records the card collection: external funds arrive
// on the sender's account and are immediately moved into the hold, as two
// entries in the same transaction. Direct-pay escrows release right away.
func (s *WebhookService) applyChargeSucceeded(ctx context.Context, qtx *repository.Queries, escrow models.Escrow, event providerEvent) error {
	if escrow.FundingStatus == domain.FundingStatusCollected {
		// Redelivery raced past the processed-events check; converge.
		return nil
	}
	if escrow.Status != domain.EscrowStatusPending || escrow.FundingStatus != domain.FundingStatusAwaiting {
		return fmt.Errorf("%w: escrow %s is %s/%s", models.ErrInvalidState, escrow.ID, escrow.Status, escrow.FundingStatus)
	}
	if event.Amount != escrow.Amount || event.Currency != escrow.Currency {
		return fmt.Errorf("%w: charge %d %s does not match escrow %d %s",
			models.ErrValidation, event.Amount, event.Currency, escrow.Amount, escrow.Currency)
	}

	actor := SystemActor()
	if _, err := creditAccount(ctx, qtx, escrow.SenderAccountID, repository.ToPgUUID(escrow.ID), escrow.Amount, domain.EntryDeposit, actor.ID); err != nil {
		return err
	}
	if _, err := debitAccount(ctx, qtx, escrow.SenderAccountID, repository.ToPgUUID(escrow.ID), escrow.Amount, domain.EntryEscrowHold, actor.ID); err != nil {
		return err
	}
	if err := s.escrows.compliance.RecordSpend(ctx, qtx, escrow.SenderID, escrow.Amount); err != nil {
		return err
	}
	rows, err := qtx.UpdateEscrowFunding(ctx, repository.UpdateEscrowFundingParams{
		FundingStatus: domain.FundingStatusCollected,
		ID:            repository.ToPgUUID(escrow.ID),
	})
	if err != nil {
		return err
	}
	if err := requireExactlyOne(rows, "mark funding collected"); err != nil {
		return err
	}
	if err := s.audit.Write(ctx, qtx, "escrow", escrow.ID, &actor.ID, "funding_collected", domain.FundingStatusAwaiting, domain.FundingStatusCollected, nil); err != nil {
		return err
	}

	if escrow.ReleaseCondition == domain.ReleaseConditionDirect {
		escrow.FundingStatus = domain.FundingStatusCollected
		if err := s.escrows.payOut(ctx, qtx, &escrow, escrow.Remaining(), actor.ID, domain.EscrowStatusReleased); err != nil {
			return err
		}
		if err := s.audit.Write(ctx, qtx, "escrow", escrow.ID, &actor.ID, "released", domain.EscrowStatusPending, domain.EscrowStatusReleased, nil); err != nil {
			return err
		}
		return queueNotification(ctx, qtx, escrow, domain.OutboxEscrowReleased, escrow.RecipientID)
	}
	return queueNotification(ctx, qtx, escrow, domain.OutboxEscrowFunded, escrow.RecipientID)
}

// applyChargeFailed cancels a never-funded hold. No ledger entries are
// written: no money ever arrived.
func (s *WebhookService) applyChargeFailed(ctx context.Context, qtx *repository.Queries, escrow models.Escrow) error {
	if escrow.Status != domain.EscrowStatusPending || escrow.FundingStatus != domain.FundingStatusAwaiting {
		// Already settled or cancelled; nothing to converge.
		return nil
	}
	actor := SystemActor()
	rows, err := qtx.UpdateEscrowFunding(ctx, repository.UpdateEscrowFundingParams{
		FundingStatus: domain.FundingStatusFailed,
		ID:            repository.ToPgUUID(escrow.ID),
	})
	if err != nil {
		return err
	}
	if err := requireExactlyOne(rows, "mark funding failed"); err != nil {
		return err
	}
	rows, err = qtx.UpdateEscrowStatus(ctx, repository.UpdateEscrowStatusParams{
		Status: domain.EscrowStatusExpired,
		ID:     repository.ToPgUUID(escrow.ID),
	})
	if err != nil {
		return err
	}
	if err := requireExactlyOne(rows, "cancel unfunded escrow"); err != nil {
		return err
	}
	if err := s.audit.Write(ctx, qtx, "escrow", escrow.ID, &actor.ID, "funding_failed", domain.EscrowStatusPending, domain.EscrowStatusExpired, nil); err != nil {
		return err
	}
	return queueNotification(ctx, qtx, escrow, domain.OutboxEscrowCancelled, escrow.SenderID)
}

func (s *WebhookService) verifySignature(payload []byte, signature string) bool {
	if len(s.secret) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// SignPayload computes the signature the provider attaches; exported for
// the sandbox simulator and tests.
func SignPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
