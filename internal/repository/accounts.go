package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/models"
)

type CreateAccountParams struct {
	ID       pgtype.UUID
	UserID   pgtype.UUID
	Currency string
	Balance  int64
}

func (q *Queries) CreateAccount(ctx context.Context, arg CreateAccountParams) (models.Account, error) {
	var a models.Account
	err := q.db.QueryRow(ctx, `
		INSERT INTO accounts (id, user_id, currency, balance, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, user_id, currency, balance, created_at`,
		arg.ID, arg.UserID, arg.Currency, arg.Balance,
	).Scan(&a.ID, &a.UserID, &a.Currency, &a.Balance, &a.CreatedAt)
	if err != nil {
		return models.Account{}, fmt.Errorf("create account: %w", err)
	}
	return a, nil
}

func (q *Queries) GetAccount(ctx context.Context, id pgtype.UUID) (models.Account, error) {
	var a models.Account
	err := q.db.QueryRow(ctx, `
		SELECT id, user_id, currency, balance, created_at
		FROM accounts WHERE id = $1`, id,
	).Scan(&a.ID, &a.UserID, &a.Currency, &a.Balance, &a.CreatedAt)
	return a, err
}

// GetAccountForUpdate acquires the row's exclusive lock for the duration of
// the enclosing transaction. Multi-account operations must lock in
// ascending id order.
func (q *Queries) GetAccountForUpdate(ctx context.Context, id pgtype.UUID) (models.Account, error) {
	var a models.Account
	err := q.db.QueryRow(ctx, `
		SELECT id, user_id, currency, balance, created_at
		FROM accounts WHERE id = $1 FOR UPDATE`, id,
	).Scan(&a.ID, &a.UserID, &a.Currency, &a.Balance, &a.CreatedAt)
	return a, err
}

type GetUserAccountParams struct {
	UserID   pgtype.UUID
	Currency string
}

func (q *Queries) GetUserAccount(ctx context.Context, arg GetUserAccountParams) (models.Account, error) {
	var a models.Account
	err := q.db.QueryRow(ctx, `
		SELECT id, user_id, currency, balance, created_at
		FROM accounts WHERE user_id = $1 AND currency = $2`, arg.UserID, arg.Currency,
	).Scan(&a.ID, &a.UserID, &a.Currency, &a.Balance, &a.CreatedAt)
	return a, err
}

type UpdateAccountBalanceParams struct {
	Delta int64
	ID    pgtype.UUID
}

// UpdateAccountBalance applies a signed delta. The caller must already hold
// the row lock and have verified the balance for debits.
func (q *Queries) UpdateAccountBalance(ctx context.Context, arg UpdateAccountBalanceParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `UPDATE accounts SET balance = balance + $1 WHERE id = $2`, arg.Delta, arg.ID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
