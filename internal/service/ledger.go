package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/domain"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/gateway"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/models"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/repository"
)

const providerCallTimeout = 30 * time.Second

// LedgerService owns direct balance movements: deposits, withdrawals and
// compliance-gated transfers between users. Escrow movements go through the
// EscrowService, which reuses the same debit/credit primitives.
type LedgerService struct {
	store      QueryStore
	compliance *ComplianceService
	provider   gateway.PaymentProvider
	audit      *AuditService
}

func NewLedgerService(store QueryStore, compliance *ComplianceService, provider gateway.PaymentProvider) *LedgerService {
	return &LedgerService{
		store:      store,
		compliance: compliance,
		provider:   provider,
		audit:      NewAuditService(store),
	}
}

// debitAccount locks the account, verifies funds and applies a negative
// ledger entry. It must run inside a transaction; multi-account callers
// are responsible for pre-locking rows in canonical order.
func debitAccount(ctx context.Context, qtx *repository.Queries, accountID uuid.UUID, escrowID pgtype.UUID, amount int64, entryType string, actorID uuid.UUID) (uuid.UUID, error) {
	if amount <= 0 {
		return uuid.Nil, fmt.Errorf("%w: debit amount must be positive", models.ErrValidation)
	}
	account, err := qtx.GetAccountForUpdate(ctx, repository.ToPgUUID(accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, models.ErrAccountNotFound
		}
		return uuid.Nil, fmt.Errorf("lock account: %w", err)
	}
	if account.Balance < amount {
		return uuid.Nil, models.ErrInsufficientFunds
	}

	rows, err := qtx.UpdateAccountBalance(ctx, repository.UpdateAccountBalanceParams{
		Delta: -amount,
		ID:    repository.ToPgUUID(accountID),
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("debit account: %w", err)
	}
	if err := requireExactlyOne(rows, "debit account"); err != nil {
		return uuid.Nil, err
	}

	entryID := uuid.New()
	if _, err := qtx.CreateLedgerEntry(ctx, repository.CreateLedgerEntryParams{
		ID:        repository.ToPgUUID(entryID),
		AccountID: repository.ToPgUUID(accountID),
		EscrowID:  escrowID,
		Amount:    -amount,
		Type:      entryType,
		ActorID:   repository.ToPgUUID(actorID),
	}); err != nil {
		return uuid.Nil, err
	}
	return entryID, nil
}

// creditAccount locks the account and applies a positive ledger entry.
func creditAccount(ctx context.Context, qtx *repository.Queries, accountID uuid.UUID, escrowID pgtype.UUID, amount int64, entryType string, actorID uuid.UUID) (uuid.UUID, error) {
	if amount <= 0 {
		return uuid.Nil, fmt.Errorf("%w: credit amount must be positive", models.ErrValidation)
	}
	if _, err := qtx.GetAccountForUpdate(ctx, repository.ToPgUUID(accountID)); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, models.ErrAccountNotFound
		}
		return uuid.Nil, fmt.Errorf("lock account: %w", err)
	}

	rows, err := qtx.UpdateAccountBalance(ctx, repository.UpdateAccountBalanceParams{
		Delta: amount,
		ID:    repository.ToPgUUID(accountID),
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("credit account: %w", err)
	}
	if err := requireExactlyOne(rows, "credit account"); err != nil {
		return uuid.Nil, err
	}

	entryID := uuid.New()
	if _, err := qtx.CreateLedgerEntry(ctx, repository.CreateLedgerEntryParams{
		ID:        repository.ToPgUUID(entryID),
		AccountID: repository.ToPgUUID(accountID),
		EscrowID:  escrowID,
		Amount:    amount,
		Type:      entryType,
		ActorID:   repository.ToPgUUID(actorID),
	}); err != nil {
		return uuid.Nil, err
	}
	return entryID, nil
}

// lockAccountsInOrder acquires both account locks in ascending id order so
// two transfers moving funds in opposite directions between the same pair
// cannot deadlock.
func lockAccountsInOrder(ctx context.Context, qtx *repository.Queries, first, second uuid.UUID) error {
	a, b := first, second
	if a.String() > b.String() {
		a, b = b, a
	}
	for _, id := range []uuid.UUID{a, b} {
		if _, err := qtx.GetAccountForUpdate(ctx, repository.ToPgUUID(id)); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return models.ErrAccountNotFound
			}
			return fmt.Errorf("lock account %s: %w", id, err)
		}
	}
	return nil
}

type TransferCmd struct {
	Actor      Actor
	FromUserID uuid.UUID
	ToUserID   uuid.UUID
	Amount     int64
	Currency   string
	Kind       string // payment or gift
}

type TransferResult struct {
	TransferID uuid.UUID `json:"transfer_id"`
	Status     string    `json:"status"`
	Decision   *Decision `json:"compliance,omitempty"`
}

// Transfer moves funds directly between two users after a compliance
// pre-flight. No escrow record is created.
func (s *LedgerService) Transfer(ctx context.Context, cmd TransferCmd) (*TransferResult, error) {
	if cmd.Amount <= 0 {
		return nil, fmt.Errorf("%w: invalid amount %d", models.ErrValidation, cmd.Amount)
	}
	if !domain.IsSupportedCurrency(cmd.Currency) {
		return nil, fmt.Errorf("%w: %s", models.ErrUnsupportedCurrency, cmd.Currency)
	}
	if cmd.Kind != domain.EntryPayment && cmd.Kind != domain.EntryGift {
		return nil, fmt.Errorf("%w: unknown transfer kind %q", models.ErrValidation, cmd.Kind)
	}
	if cmd.Actor.ID != cmd.FromUserID && !cmd.Actor.Trusted() {
		return nil, models.ErrUnauthorized
	}

	decision, err := s.compliance.Evaluate(ctx, EvaluateInput{
		UserID:          cmd.FromUserID,
		CounterpartyID:  &cmd.ToUserID,
		Amount:          cmd.Amount,
		Currency:        cmd.Currency,
		TransactionType: cmd.Kind,
	})
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, &ComplianceRejectionError{Reasons: decision.BlockReasons}
	}

	queries := s.store.Queries()
	fromAccount, err := queries.GetUserAccount(ctx, repository.GetUserAccountParams{
		UserID:   repository.ToPgUUID(cmd.FromUserID),
		Currency: cmd.Currency,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve sender account: %w", accountErr(err))
	}
	toAccount, err := queries.GetUserAccount(ctx, repository.GetUserAccountParams{
		UserID:   repository.ToPgUUID(cmd.ToUserID),
		Currency: cmd.Currency,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve recipient account: %w", accountErr(err))
	}

	transferID := uuid.New()
	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		if err := lockAccountsInOrder(ctx, qtx, fromAccount.ID, toAccount.ID); err != nil {
			return err
		}
		if _, err := debitAccount(ctx, qtx, fromAccount.ID, pgtype.UUID{}, cmd.Amount, cmd.Kind, cmd.Actor.ID); err != nil {
			return err
		}
		if _, err := creditAccount(ctx, qtx, toAccount.ID, pgtype.UUID{}, cmd.Amount, cmd.Kind, cmd.Actor.ID); err != nil {
			return err
		}
		if err := s.compliance.RecordSpend(ctx, qtx, cmd.FromUserID, cmd.Amount); err != nil {
			return err
		}
		return s.audit.Write(ctx, qtx, "transfer", transferID, &cmd.Actor.ID, "transfer_completed", "", "completed", nil)
	})
	if err != nil {
		return nil, wrapBusy(err)
	}

	return &TransferResult{TransferID: transferID, Status: "completed", Decision: decision}, nil
}

type DepositCmd struct {
	Actor     Actor
	AccountID uuid.UUID
	Amount    int64
}

// Deposit records externally arrived funds. It is the only entry point that
// grows the total custodied balance, so conservation checks treat it as an
// external flow.
func (s *LedgerService) Deposit(ctx context.Context, cmd DepositCmd) (uuid.UUID, error) {
	if cmd.Amount <= 0 {
		return uuid.Nil, fmt.Errorf("%w: invalid amount %d", models.ErrValidation, cmd.Amount)
	}
	var entryID uuid.UUID
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		entryID, err = creditAccount(ctx, qtx, cmd.AccountID, pgtype.UUID{}, cmd.Amount, domain.EntryDeposit, cmd.Actor.ID)
		return err
	})
	if err != nil {
		return uuid.Nil, wrapBusy(err)
	}
	return entryID, nil
}

type WithdrawCmd struct {
	Actor       Actor
	AccountID   uuid.UUID
	Amount      int64
	Destination string // IBAN or provider wallet handle
}

// Withdraw pays out to an external destination. The debit runs first so
// concurrent withdrawals serialize on the account row and cannot both
// dispatch a payout against the same balance; a failed or timed-out
// provider call is compensated with a reversing credit.
func (s *LedgerService) Withdraw(ctx context.Context, cmd WithdrawCmd) (uuid.UUID, error) {
	if cmd.Amount <= 0 {
		return uuid.Nil, fmt.Errorf("%w: invalid amount %d", models.ErrValidation, cmd.Amount)
	}
	if cmd.Destination == "" {
		return uuid.Nil, fmt.Errorf("%w: destination is required", models.ErrValidation)
	}

	account, err := s.store.Queries().GetAccount(ctx, repository.ToPgUUID(cmd.AccountID))
	if err != nil {
		return uuid.Nil, accountErr(err)
	}
	if account.UserID != cmd.Actor.ID && !cmd.Actor.Trusted() {
		return uuid.Nil, models.ErrUnauthorized
	}

	var entryID uuid.UUID
	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		entryID, err = debitAccount(ctx, qtx, cmd.AccountID, pgtype.UUID{}, cmd.Amount, domain.EntryWithdrawal, cmd.Actor.ID)
		return err
	})
	if err != nil {
		return uuid.Nil, wrapBusy(err)
	}

	callCtx, cancel := context.WithTimeout(ctx, providerCallTimeout)
	defer cancel()
	providerRef, err := s.provider.SendPayout(callCtx, cmd.Destination, cmd.Amount, account.Currency)
	if err != nil {
		if compErr := s.reverseWithdrawal(ctx, cmd, entryID); compErr != nil {
			return uuid.Nil, fmt.Errorf("provider payout: %v; reversal failed: %w", err, compErr)
		}
		if errors.Is(err, gateway.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return uuid.Nil, fmt.Errorf("%w: %v", models.ErrProviderTimeout, err)
		}
		return uuid.Nil, fmt.Errorf("provider payout: %w", err)
	}

	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		meta, metaErr := marshalReasonMetadata("provider_ref=" + providerRef)
		if metaErr != nil {
			return metaErr
		}
		return s.audit.Write(ctx, qtx, "withdrawal", entryID, &cmd.Actor.ID, "payout_sent", "", "completed", meta)
	})
	if err != nil {
		return uuid.Nil, wrapBusy(err)
	}
	return entryID, nil
}

// reverseWithdrawal puts a reserved amount back after the payout failed to
// dispatch. It runs detached from the caller's cancellation so an aborted
// request cannot strand the debit.
func (s *LedgerService) reverseWithdrawal(ctx context.Context, cmd WithdrawCmd, debitEntryID uuid.UUID) error {
	compCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), providerCallTimeout)
	defer cancel()
	return s.store.RunInTx(compCtx, func(qtx *repository.Queries) error {
		if _, err := creditAccount(compCtx, qtx, cmd.AccountID, pgtype.UUID{}, cmd.Amount, domain.EntryWithdrawal, cmd.Actor.ID); err != nil {
			return err
		}
		meta, err := marshalReasonMetadata("payout dispatch failed")
		if err != nil {
			return err
		}
		return s.audit.Write(compCtx, qtx, "withdrawal", debitEntryID, &cmd.Actor.ID, "payout_reversed", "", "reversed", meta)
	})
}

func accountErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrAccountNotFound
	}
	return err
}
