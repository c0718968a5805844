package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/models"
)

type CreateUserParams struct {
	ID        pgtype.UUID
	Username  string
	Email     string
	Role      string
	KYCStatus string
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (models.User, error) {
	var u models.User
	err := q.db.QueryRow(ctx, `
		INSERT INTO users (id, username, email, role, kyc_status, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id, username, email, role, kyc_status, created_at`,
		arg.ID, arg.Username, arg.Email, arg.Role, arg.KYCStatus,
	).Scan(&u.ID, &u.Username, &u.Email, &u.Role, &u.KYCStatus, &u.CreatedAt)
	if err != nil {
		return models.User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (q *Queries) GetUser(ctx context.Context, id pgtype.UUID) (models.User, error) {
	var u models.User
	err := q.db.QueryRow(ctx, `
		SELECT id, username, email, role, kyc_status, created_at
		FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Username, &u.Email, &u.Role, &u.KYCStatus, &u.CreatedAt)
	return u, err
}

// GetUserKYCStatus reads the KYC enum maintained by the external pipeline.
func (q *Queries) GetUserKYCStatus(ctx context.Context, id pgtype.UUID) (string, error) {
	var status string
	err := q.db.QueryRow(ctx, `SELECT kyc_status FROM users WHERE id = $1`, id).Scan(&status)
	return status, err
}

type SetUserKYCStatusParams struct {
	KYCStatus string
	ID        pgtype.UUID
}

func (q *Queries) SetUserKYCStatus(ctx context.Context, arg SetUserKYCStatusParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `UPDATE users SET kyc_status = $1 WHERE id = $2`, arg.KYCStatus, arg.ID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
