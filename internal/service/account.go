package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/domain"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/models"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/repository"
)

// AccountService covers account lifecycle and read paths. Balances only
// move through ledger and escrow operations.
type AccountService struct {
	store QueryStore
}

func NewAccountService(store QueryStore) *AccountService {
	return &AccountService{store: store}
}

type OpenAccountCmd struct {
	Actor    Actor
	UserID   uuid.UUID
	Currency string
}

// Open creates a zero-balance account for the user in one currency.
func (s *AccountService) Open(ctx context.Context, cmd OpenAccountCmd) (models.Account, error) {
	if !domain.IsSupportedCurrency(cmd.Currency) {
		return models.Account{}, fmt.Errorf("%w: %s", models.ErrUnsupportedCurrency, cmd.Currency)
	}
	if cmd.Actor.ID != cmd.UserID && !cmd.Actor.Trusted() {
		return models.Account{}, models.ErrUnauthorized
	}
	account, err := s.store.Queries().CreateAccount(ctx, repository.CreateAccountParams{
		ID:       repository.ToPgUUID(uuid.New()),
		UserID:   repository.ToPgUUID(cmd.UserID),
		Currency: cmd.Currency,
	})
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return models.Account{}, fmt.Errorf("%w: account already exists for %s", models.ErrValidation, cmd.Currency)
		}
		return models.Account{}, fmt.Errorf("create account: %w", err)
	}
	return account, nil
}

// Get returns one account, visible to its owner and admins.
func (s *AccountService) Get(ctx context.Context, actor Actor, accountID uuid.UUID) (models.Account, error) {
	account, err := s.store.Queries().GetAccount(ctx, repository.ToPgUUID(accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Account{}, models.ErrAccountNotFound
		}
		return models.Account{}, fmt.Errorf("load account: %w", err)
	}
	if account.UserID != actor.ID && !actor.Trusted() {
		return models.Account{}, models.ErrUnauthorized
	}
	return account, nil
}

// Statement returns the account's ledger entries, newest first.
func (s *AccountService) Statement(ctx context.Context, actor Actor, accountID uuid.UUID, limit, offset int32) ([]models.LedgerEntry, error) {
	if _, err := s.Get(ctx, actor, accountID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	entries, err := s.store.Queries().GetEntriesForAccount(ctx, repository.GetEntriesForAccountParams{
		AccountID: repository.ToPgUUID(accountID),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	return entries, nil
}
