package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/domain"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/gateway"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/models"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/observability"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/repository"
)

const (
	// defaultHoldTTL bounds how long an unproven hold may stay open before
	// the refund sweep returns it to the sender.
	defaultHoldTTL = 7 * 24 * time.Hour

	// defaultApprovalWindow is how long the sender has to approve or
	// dispute after proof verification before funds auto-release.
	defaultApprovalWindow = 72 * time.Hour
)

// EscrowService owns the escrow lifecycle: hold, release, refund, dispute.
// Every transition locks the escrow row first, so concurrent release and
// refund attempts serialize and exactly one wins.
type EscrowService struct {
	store          QueryStore
	compliance     *ComplianceService
	provider       gateway.PaymentProvider
	audit          *AuditService
	holdTTL        time.Duration
	approvalWindow time.Duration
	log            *zap.Logger
}

func NewEscrowService(store QueryStore, compliance *ComplianceService, provider gateway.PaymentProvider) *EscrowService {
	return &EscrowService{
		store:          store,
		compliance:     compliance,
		provider:       provider,
		audit:          NewAuditService(store),
		holdTTL:        defaultHoldTTL,
		approvalWindow: defaultApprovalWindow,
		log:            zap.L().Named("escrow"),
	}
}

// WithWindows overrides the hold TTL and the approval window; used by
// configuration wiring and tests.
func (s *EscrowService) WithWindows(holdTTL, approvalWindow time.Duration) *EscrowService {
	if holdTTL > 0 {
		s.holdTTL = holdTTL
	}
	if approvalWindow > 0 {
		s.approvalWindow = approvalWindow
	}
	return s
}

type CreateHoldCmd struct {
	Actor            Actor
	SenderID         uuid.UUID
	RecipientID      uuid.UUID
	Amount           int64
	Currency         string
	ReleaseCondition string
	FundingSource    string
}

type HoldResult struct {
	Escrow      models.Escrow `json:"escrow"`
	CheckoutURL string        `json:"checkout_url,omitempty"`
	Decision    *Decision     `json:"compliance,omitempty"`
}

// CreateHold opens a new escrow. Wallet funding debits the sender
// immediately; card funding creates the hold in awaiting state and relies
// on the provider webhook to collect.
func (s *EscrowService) CreateHold(ctx context.Context, cmd CreateHoldCmd) (*HoldResult, error) {
	if cmd.Amount <= 0 {
		return nil, fmt.Errorf("%w: invalid amount %d", models.ErrValidation, cmd.Amount)
	}
	if !domain.IsSupportedCurrency(cmd.Currency) {
		return nil, fmt.Errorf("%w: %s", models.ErrUnsupportedCurrency, cmd.Currency)
	}
	if cmd.SenderID == cmd.RecipientID {
		return nil, fmt.Errorf("%w: sender and recipient must differ", models.ErrValidation)
	}
	switch cmd.ReleaseCondition {
	case domain.ReleaseConditionProof, domain.ReleaseConditionApproval, domain.ReleaseConditionTimer:
	case domain.ReleaseConditionDirect:
		if cmd.FundingSource == domain.FundingSourceWallet {
			return nil, fmt.Errorf("%w: direct pay from wallet balance uses a transfer, not an escrow", models.ErrValidation)
		}
	default:
		return nil, fmt.Errorf("%w: unknown release condition %q", models.ErrValidation, cmd.ReleaseCondition)
	}
	if cmd.FundingSource != domain.FundingSourceWallet && cmd.FundingSource != domain.FundingSourceCard {
		return nil, fmt.Errorf("%w: unknown funding source %q", models.ErrValidation, cmd.FundingSource)
	}
	if cmd.Actor.ID != cmd.SenderID && !cmd.Actor.Trusted() {
		return nil, models.ErrUnauthorized
	}

	escrowID := uuid.New()
	decision, err := s.compliance.Evaluate(ctx, EvaluateInput{
		UserID:          cmd.SenderID,
		CounterpartyID:  &cmd.RecipientID,
		TransactionID:   &escrowID,
		Amount:          cmd.Amount,
		Currency:        cmd.Currency,
		TransactionType: domain.EntryEscrowHold,
	})
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, &ComplianceRejectionError{Reasons: decision.BlockReasons}
	}

	queries := s.store.Queries()
	senderAccount, err := queries.GetUserAccount(ctx, repository.GetUserAccountParams{
		UserID:   repository.ToPgUUID(cmd.SenderID),
		Currency: cmd.Currency,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve sender account: %w", accountErr(err))
	}
	recipientAccount, err := queries.GetUserAccount(ctx, repository.GetUserAccountParams{
		UserID:   repository.ToPgUUID(cmd.RecipientID),
		Currency: cmd.Currency,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve recipient account: %w", accountErr(err))
	}

	params := repository.CreateEscrowParams{
		ID:                 repository.ToPgUUID(escrowID),
		SenderID:           repository.ToPgUUID(cmd.SenderID),
		RecipientID:        repository.ToPgUUID(cmd.RecipientID),
		SenderAccountID:    repository.ToPgUUID(senderAccount.ID),
		RecipientAccountID: repository.ToPgUUID(recipientAccount.ID),
		Amount:             cmd.Amount,
		Currency:           cmd.Currency,
		Status:             domain.EscrowStatusPending,
		ReleaseCondition:   cmd.ReleaseCondition,
		FundingSource:      cmd.FundingSource,
		ExpiresAt:          repository.ToPgTime(time.Now().Add(s.holdTTL)),
	}

	result := &HoldResult{Decision: decision}

	if cmd.FundingSource == domain.FundingSourceCard {
		params.FundingStatus = domain.FundingStatusAwaiting
		params.ProviderOrderRef = orderRefFor(escrowID)

		callCtx, cancel := context.WithTimeout(ctx, providerCallTimeout)
		defer cancel()
		charge, err := s.provider.CreateCharge(callCtx, gateway.ChargeRequest{
			OrderRef: params.ProviderOrderRef,
			Amount:   cmd.Amount,
			Currency: cmd.Currency,
		})
		if err != nil {
			if errors.Is(err, gateway.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %v", models.ErrProviderTimeout, err)
			}
			return nil, fmt.Errorf("provider charge: %w", err)
		}
		result.CheckoutURL = charge.CheckoutURL
	} else {
		params.FundingStatus = domain.FundingStatusCollected
	}

	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		escrow, err := qtx.CreateEscrow(ctx, params)
		if err != nil {
			return err
		}
		if cmd.FundingSource == domain.FundingSourceWallet {
			if _, err := debitAccount(ctx, qtx, senderAccount.ID, params.ID, cmd.Amount, domain.EntryEscrowHold, cmd.Actor.ID); err != nil {
				return err
			}
			if err := s.compliance.RecordSpend(ctx, qtx, cmd.SenderID, cmd.Amount); err != nil {
				return err
			}
			if err := queueNotification(ctx, qtx, escrow, domain.OutboxEscrowFunded, cmd.RecipientID); err != nil {
				return err
			}
		}
		if err := s.audit.Write(ctx, qtx, "escrow", escrowID, &cmd.Actor.ID, "created", "", domain.EscrowStatusPending, nil); err != nil {
			return err
		}
		result.Escrow = escrow
		return nil
	})
	if err != nil {
		return nil, wrapBusy(err)
	}

	observability.EscrowTransitions.WithLabelValues("created").Inc()
	return result, nil
}

type ReleaseCmd struct {
	Actor    Actor
	EscrowID uuid.UUID
}

// ReleaseHold pays the remaining held amount out to the recipient. Only the
// recipient or an admin may release; non-admin release requires verified
// proof and an unexpired hold.
func (s *EscrowService) ReleaseHold(ctx context.Context, cmd ReleaseCmd) (models.Escrow, error) {
	var out models.Escrow
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		escrow, err := lockEscrow(ctx, qtx, cmd.EscrowID)
		if err != nil {
			return err
		}
		if escrow.RecipientID != cmd.Actor.ID && !cmd.Actor.Trusted() {
			return models.ErrUnauthorized
		}
		if escrow.Status != domain.EscrowStatusPending {
			return fmt.Errorf("%w: escrow is %s", models.ErrInvalidState, escrow.Status)
		}
		if escrow.FundingStatus != domain.FundingStatusCollected {
			return fmt.Errorf("%w: funding not collected", models.ErrInvalidState)
		}
		if time.Now().After(escrow.ExpiresAt) {
			return models.ErrExpired
		}
		if !cmd.Actor.Trusted() && !(escrow.ProofSubmitted && escrow.ProofVerified) {
			return models.ErrProofRequired
		}

		if err := s.payOut(ctx, qtx, &escrow, escrow.Remaining(), cmd.Actor.ID, domain.EscrowStatusReleased); err != nil {
			return err
		}
		if err := queueNotification(ctx, qtx, escrow, domain.OutboxEscrowReleased, escrow.SenderID); err != nil {
			return err
		}
		if err := s.audit.Write(ctx, qtx, "escrow", escrow.ID, &cmd.Actor.ID, "released", domain.EscrowStatusPending, domain.EscrowStatusReleased, nil); err != nil {
			return err
		}
		out = escrow
		return nil
	})
	if err != nil {
		return models.Escrow{}, wrapBusy(err)
	}
	observability.EscrowTransitions.WithLabelValues("released").Inc()
	return out, nil
}

type RefundCmd struct {
	Actor      Actor
	EscrowID   uuid.UUID
	Amount     int64 // 0 means refund everything remaining
	ServiceFee int64
	Reason     string
}

// RefundHold returns funds to the sender, optionally retaining a service
// fee for the platform. A partial refund leaves the escrow open with the
// remainder still held.
func (s *EscrowService) RefundHold(ctx context.Context, cmd RefundCmd) (models.Escrow, error) {
	if cmd.Amount < 0 || cmd.ServiceFee < 0 {
		return models.Escrow{}, fmt.Errorf("%w: negative refund or fee", models.ErrValidation)
	}
	if cmd.Reason == "" {
		return models.Escrow{}, fmt.Errorf("%w: a refund reason is required", models.ErrValidation)
	}

	var out models.Escrow
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		escrow, err := lockEscrow(ctx, qtx, cmd.EscrowID)
		if err != nil {
			return err
		}
		if escrow.SenderID != cmd.Actor.ID && !cmd.Actor.Trusted() {
			return models.ErrUnauthorized
		}
		if escrow.Status != domain.EscrowStatusPending && escrow.Status != domain.EscrowStatusDisputed {
			return fmt.Errorf("%w: escrow is %s", models.ErrInvalidState, escrow.Status)
		}
		if escrow.FundingStatus != domain.FundingStatusCollected {
			return fmt.Errorf("%w: funding not collected", models.ErrInvalidState)
		}

		remaining := escrow.Remaining()
		refund := cmd.Amount
		if refund == 0 {
			refund = remaining - cmd.ServiceFee
		}
		if refund <= 0 || refund+cmd.ServiceFee > remaining {
			return fmt.Errorf("%w: refund %d plus fee %d exceeds remaining %d", models.ErrValidation, refund, cmd.ServiceFee, remaining)
		}
		full := refund+cmd.ServiceFee == remaining

		entryType := domain.EntryPartialRefund
		if full {
			entryType = domain.EntryEscrowRefund
		}
		if _, err := creditAccount(ctx, qtx, escrow.SenderAccountID, repository.ToPgUUID(escrow.ID), refund, entryType, cmd.Actor.ID); err != nil {
			return err
		}
		if cmd.ServiceFee > 0 {
			feeAcct, err := feeAccountID(escrow.Currency)
			if err != nil {
				return err
			}
			if _, err := creditAccount(ctx, qtx, feeAcct, repository.ToPgUUID(escrow.ID), cmd.ServiceFee, domain.EntryPayment, cmd.Actor.ID); err != nil {
				return err
			}
		}

		status := escrow.Status
		if full {
			status = domain.EscrowStatusRefunded
		}
		rows, err := qtx.ApplyEscrowRefund(ctx, repository.ApplyEscrowRefundParams{
			RefundDelta: refund,
			FeeDelta:    cmd.ServiceFee,
			Status:      status,
			ID:          repository.ToPgUUID(escrow.ID),
		})
		if err != nil {
			return err
		}
		if err := requireExactlyOne(rows, "apply escrow refund"); err != nil {
			return err
		}
		if err := qtx.InsertRefundEvent(ctx, repository.InsertRefundEventParams{
			ID:         repository.ToPgUUID(uuid.New()),
			EscrowID:   repository.ToPgUUID(escrow.ID),
			Amount:     refund,
			ServiceFee: cmd.ServiceFee,
			Reason:     cmd.Reason,
			RefundedBy: repository.ToPgUUID(cmd.Actor.ID),
		}); err != nil {
			return fmt.Errorf("insert refund event: %w", err)
		}

		if full {
			if err := queueNotification(ctx, qtx, escrow, domain.OutboxEscrowRefunded, escrow.SenderID); err != nil {
				return err
			}
		}
		meta, metaErr := marshalReasonMetadata(cmd.Reason)
		if metaErr != nil {
			return metaErr
		}
		if err := s.audit.Write(ctx, qtx, "escrow", escrow.ID, &cmd.Actor.ID, "refunded", escrow.Status, status, meta); err != nil {
			return err
		}

		escrow.RefundedAmount += refund
		escrow.ServiceFeeRetained += cmd.ServiceFee
		escrow.Status = status
		out = escrow
		return nil
	})
	if err != nil {
		return models.Escrow{}, wrapBusy(err)
	}
	observability.EscrowTransitions.WithLabelValues("refunded").Inc()
	return out, nil
}

type DisputeCmd struct {
	Actor    Actor
	EscrowID uuid.UUID
	Reason   string
	Evidence string
}

// OpenDispute freezes a pending escrow. Either party may open one; funds
// stay held until an admin resolves it.
func (s *EscrowService) OpenDispute(ctx context.Context, cmd DisputeCmd) (models.Escrow, error) {
	if cmd.Reason == "" {
		return models.Escrow{}, fmt.Errorf("%w: a dispute reason is required", models.ErrValidation)
	}

	var out models.Escrow
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		escrow, err := lockEscrow(ctx, qtx, cmd.EscrowID)
		if err != nil {
			return err
		}
		if cmd.Actor.ID != escrow.SenderID && cmd.Actor.ID != escrow.RecipientID && !cmd.Actor.Trusted() {
			return models.ErrUnauthorized
		}
		if escrow.Status != domain.EscrowStatusPending {
			return fmt.Errorf("%w: escrow is %s", models.ErrInvalidState, escrow.Status)
		}
		if escrow.FundingStatus != domain.FundingStatusCollected {
			return fmt.Errorf("%w: funding not collected", models.ErrInvalidState)
		}

		rows, err := qtx.OpenEscrowDispute(ctx, repository.OpenEscrowDisputeParams{
			OpenedBy: repository.ToPgUUID(cmd.Actor.ID),
			Reason:   cmd.Reason,
			Evidence: cmd.Evidence,
			ID:       repository.ToPgUUID(escrow.ID),
		})
		if err != nil {
			return err
		}
		if err := requireExactlyOne(rows, "open dispute"); err != nil {
			return err
		}

		other := escrow.SenderID
		if cmd.Actor.ID == escrow.SenderID {
			other = escrow.RecipientID
		}
		if err := queueNotification(ctx, qtx, escrow, domain.OutboxEscrowDisputed, other); err != nil {
			return err
		}
		meta, metaErr := marshalReasonMetadata(cmd.Reason)
		if metaErr != nil {
			return metaErr
		}
		if err := s.audit.Write(ctx, qtx, "escrow", escrow.ID, &cmd.Actor.ID, "disputed", domain.EscrowStatusPending, domain.EscrowStatusDisputed, meta); err != nil {
			return err
		}

		escrow.Status = domain.EscrowStatusDisputed
		out = escrow
		return nil
	})
	if err != nil {
		return models.Escrow{}, wrapBusy(err)
	}
	observability.EscrowTransitions.WithLabelValues("disputed").Inc()
	return out, nil
}

type ResolveDisputeCmd struct {
	Actor       Actor
	EscrowID    uuid.UUID
	Resolution  string
	SenderShare int64 // split only: the portion returned to the sender
}

// ResolveDispute settles a disputed escrow by admin verdict: all to the
// recipient, all back to the sender, or a split.
func (s *EscrowService) ResolveDispute(ctx context.Context, cmd ResolveDisputeCmd) (models.Escrow, error) {
	if !cmd.Actor.Trusted() {
		return models.Escrow{}, models.ErrUnauthorized
	}

	var out models.Escrow
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		escrow, err := lockEscrow(ctx, qtx, cmd.EscrowID)
		if err != nil {
			return err
		}
		if escrow.Status != domain.EscrowStatusDisputed {
			return fmt.Errorf("%w: escrow is %s", models.ErrInvalidState, escrow.Status)
		}

		remaining := escrow.Remaining()
		now := repository.ToPgTime(time.Now())
		var finalStatus string
		var releasedAt pgtype.Timestamptz

		switch cmd.Resolution {
		case domain.ResolutionReleaseToRecipient:
			if _, err := creditAccount(ctx, qtx, escrow.RecipientAccountID, repository.ToPgUUID(escrow.ID), remaining, domain.EntryEscrowRelease, cmd.Actor.ID); err != nil {
				return err
			}
			finalStatus = domain.EscrowStatusReleased
			releasedAt = now

		case domain.ResolutionRefundToSender:
			if _, err := creditAccount(ctx, qtx, escrow.SenderAccountID, repository.ToPgUUID(escrow.ID), remaining, domain.EntryEscrowRefund, cmd.Actor.ID); err != nil {
				return err
			}
			finalStatus = domain.EscrowStatusRefunded
			if _, err := qtx.ApplyEscrowRefund(ctx, repository.ApplyEscrowRefundParams{
				RefundDelta: remaining,
				Status:      finalStatus,
				ID:          repository.ToPgUUID(escrow.ID),
			}); err != nil {
				return err
			}
			if err := qtx.InsertRefundEvent(ctx, repository.InsertRefundEventParams{
				ID:         repository.ToPgUUID(uuid.New()),
				EscrowID:   repository.ToPgUUID(escrow.ID),
				Amount:     remaining,
				Reason:     "dispute resolved in sender's favor",
				RefundedBy: repository.ToPgUUID(cmd.Actor.ID),
			}); err != nil {
				return fmt.Errorf("insert refund event: %w", err)
			}

		case domain.ResolutionSplit:
			if cmd.SenderShare <= 0 || cmd.SenderShare >= remaining {
				return fmt.Errorf("%w: split share %d must be between 0 and %d exclusive", models.ErrValidation, cmd.SenderShare, remaining)
			}
			if err := lockAccountsInOrder(ctx, qtx, escrow.SenderAccountID, escrow.RecipientAccountID); err != nil {
				return err
			}
			if _, err := creditAccount(ctx, qtx, escrow.SenderAccountID, repository.ToPgUUID(escrow.ID), cmd.SenderShare, domain.EntryEscrowRefund, cmd.Actor.ID); err != nil {
				return err
			}
			if _, err := creditAccount(ctx, qtx, escrow.RecipientAccountID, repository.ToPgUUID(escrow.ID), remaining-cmd.SenderShare, domain.EntryEscrowRelease, cmd.Actor.ID); err != nil {
				return err
			}
			finalStatus = domain.EscrowStatusReleased
			releasedAt = now
			if _, err := qtx.ApplyEscrowRefund(ctx, repository.ApplyEscrowRefundParams{
				RefundDelta: cmd.SenderShare,
				Status:      finalStatus,
				ID:          repository.ToPgUUID(escrow.ID),
			}); err != nil {
				return err
			}
			if err := qtx.InsertRefundEvent(ctx, repository.InsertRefundEventParams{
				ID:         repository.ToPgUUID(uuid.New()),
				EscrowID:   repository.ToPgUUID(escrow.ID),
				Amount:     cmd.SenderShare,
				Reason:     "dispute resolved with a split",
				RefundedBy: repository.ToPgUUID(cmd.Actor.ID),
			}); err != nil {
				return fmt.Errorf("insert refund event: %w", err)
			}

		default:
			return fmt.Errorf("%w: unknown resolution %q", models.ErrValidation, cmd.Resolution)
		}

		rows, err := qtx.ResolveEscrowDispute(ctx, repository.ResolveEscrowDisputeParams{
			Status:     finalStatus,
			Resolution: cmd.Resolution,
			ResolvedBy: repository.ToPgUUID(cmd.Actor.ID),
			ReleasedAt: releasedAt,
			ID:         repository.ToPgUUID(escrow.ID),
		})
		if err != nil {
			return err
		}
		if err := requireExactlyOne(rows, "resolve dispute"); err != nil {
			return err
		}

		for _, party := range []uuid.UUID{escrow.SenderID, escrow.RecipientID} {
			if err := queueNotification(ctx, qtx, escrow, domain.OutboxDisputeResolved, party); err != nil {
				return err
			}
		}
		meta, metaErr := marshalReasonMetadata(cmd.Resolution)
		if metaErr != nil {
			return metaErr
		}
		if err := s.audit.Write(ctx, qtx, "escrow", escrow.ID, &cmd.Actor.ID, "dispute_resolved", domain.EscrowStatusDisputed, finalStatus, meta); err != nil {
			return err
		}

		escrow.Status = finalStatus
		out = escrow
		return nil
	})
	if err != nil {
		return models.Escrow{}, wrapBusy(err)
	}
	observability.EscrowTransitions.WithLabelValues("dispute_resolved").Inc()
	return out, nil
}

type ProofCmd struct {
	Actor    Actor
	EscrowID uuid.UUID
	Verified bool
}

// RecordProof ingests the proof-of-service signal from the verification
// pipeline. Recording proof never moves funds; it only unlocks release.
func (s *EscrowService) RecordProof(ctx context.Context, cmd ProofCmd) (models.Escrow, error) {
	var out models.Escrow
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		escrow, err := lockEscrow(ctx, qtx, cmd.EscrowID)
		if err != nil {
			return err
		}
		if cmd.Actor.ID != escrow.RecipientID && !cmd.Actor.Trusted() {
			return models.ErrUnauthorized
		}
		if escrow.Status != domain.EscrowStatusPending {
			return fmt.Errorf("%w: escrow is %s", models.ErrInvalidState, escrow.Status)
		}

		params := repository.SetEscrowProofParams{
			ProofSubmitted: true,
			ProofVerified:  cmd.Verified,
			ID:             repository.ToPgUUID(escrow.ID),
		}
		if cmd.Verified {
			params.VerifiedAt = repository.ToPgTime(time.Now())
		}
		rows, err := qtx.SetEscrowProof(ctx, params)
		if err != nil {
			return err
		}
		if err := requireExactlyOne(rows, "set escrow proof"); err != nil {
			return err
		}
		if err := s.audit.Write(ctx, qtx, "escrow", escrow.ID, &cmd.Actor.ID, "proof_recorded", "", "", nil); err != nil {
			return err
		}

		escrow.ProofSubmitted = true
		escrow.ProofVerified = cmd.Verified
		out = escrow
		return nil
	})
	if err != nil {
		return models.Escrow{}, wrapBusy(err)
	}
	return out, nil
}

// Get returns one escrow, visible only to its parties and admins.
func (s *EscrowService) Get(ctx context.Context, actor Actor, escrowID uuid.UUID) (models.Escrow, error) {
	escrow, err := s.store.Queries().GetEscrow(ctx, repository.ToPgUUID(escrowID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Escrow{}, models.ErrEscrowNotFound
		}
		return models.Escrow{}, fmt.Errorf("load escrow: %w", err)
	}
	if actor.ID != escrow.SenderID && actor.ID != escrow.RecipientID && !actor.Trusted() {
		return models.Escrow{}, models.ErrUnauthorized
	}
	return escrow, nil
}

// RefundHistory lists the refund events of one escrow.
func (s *EscrowService) RefundHistory(ctx context.Context, actor Actor, escrowID uuid.UUID) ([]models.RefundEvent, error) {
	if _, err := s.Get(ctx, actor, escrowID); err != nil {
		return nil, err
	}
	events, err := s.store.Queries().ListRefundEvents(ctx, repository.ToPgUUID(escrowID))
	if err != nil {
		return nil, fmt.Errorf("list refund events: %w", err)
	}
	return events, nil
}

// payOut credits the recipient with the amount and moves the escrow to its
// final status. Caller holds the escrow row lock.
func (s *EscrowService) payOut(ctx context.Context, qtx *repository.Queries, escrow *models.Escrow, amount int64, actorID uuid.UUID, finalStatus string) error {
	if _, err := creditAccount(ctx, qtx, escrow.RecipientAccountID, repository.ToPgUUID(escrow.ID), amount, domain.EntryEscrowRelease, actorID); err != nil {
		return err
	}
	rows, err := qtx.UpdateEscrowStatus(ctx, repository.UpdateEscrowStatusParams{
		Status:     finalStatus,
		ReleasedAt: repository.ToPgTime(time.Now()),
		ID:         repository.ToPgUUID(escrow.ID),
	})
	if err != nil {
		return err
	}
	if err := requireExactlyOne(rows, "update escrow status"); err != nil {
		return err
	}
	escrow.Status = finalStatus
	return nil
}

func lockEscrow(ctx context.Context, qtx *repository.Queries, id uuid.UUID) (models.Escrow, error) {
	escrow, err := qtx.GetEscrowForUpdate(ctx, repository.ToPgUUID(id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Escrow{}, models.ErrEscrowNotFound
		}
		return models.Escrow{}, fmt.Errorf("lock escrow: %w", err)
	}
	return escrow, nil
}

func queueNotification(ctx context.Context, qtx *repository.Queries, escrow models.Escrow, eventType string, recipient uuid.UUID) error {
	payload, err := json.Marshal(map[string]any{
		"escrow_id": escrow.ID,
		"amount":    escrow.Amount,
		"currency":  escrow.Currency,
		"status":    escrow.Status,
	})
	if err != nil {
		return err
	}
	if err := qtx.InsertOutboxEvent(ctx, repository.InsertOutboxEventParams{
		ID:          repository.ToPgUUID(uuid.New()),
		EscrowID:    repository.ToPgUUID(escrow.ID),
		EventType:   eventType,
		RecipientID: repository.ToPgUUID(recipient),
		Payload:     payload,
	}); err != nil {
		return fmt.Errorf("queue notification: %w", err)
	}
	return nil
}

func orderRefFor(escrowID uuid.UUID) string {
	return "ord_" + escrowID.String()
}
