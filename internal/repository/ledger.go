package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/models"
)

type CreateLedgerEntryParams struct {
	ID        pgtype.UUID
	AccountID pgtype.UUID
	EscrowID  pgtype.UUID // invalid UUID means no escrow link
	Amount    int64
	Type      string
	ActorID   pgtype.UUID
}

func (q *Queries) CreateLedgerEntry(ctx context.Context, arg CreateLedgerEntryParams) (models.LedgerEntry, error) {
	var e models.LedgerEntry
	var escrowID pgtype.UUID
	err := q.db.QueryRow(ctx, `
		INSERT INTO ledger_entries (id, account_id, escrow_id, amount, type, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, account_id, escrow_id, amount, type, actor_id, created_at`,
		arg.ID, arg.AccountID, arg.EscrowID, arg.Amount, arg.Type, arg.ActorID,
	).Scan(&e.ID, &e.AccountID, &escrowID, &e.Amount, &e.Type, &e.ActorID, &e.CreatedAt)
	if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("create ledger entry: %w", err)
	}
	e.EscrowID = FromPgUUIDPtr(escrowID)
	return e, nil
}

type GetEntriesForAccountParams struct {
	AccountID pgtype.UUID
	Limit     int32
	Offset    int32
}

func (q *Queries) GetEntriesForAccount(ctx context.Context, arg GetEntriesForAccountParams) ([]models.LedgerEntry, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, account_id, escrow_id, amount, type, actor_id, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, arg.AccountID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		var escrowID pgtype.UUID
		if err := rows.Scan(&e.ID, &e.AccountID, &escrowID, &e.Amount, &e.Type, &e.ActorID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.EscrowID = FromPgUUIDPtr(escrowID)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type OutgoingWindowParams struct {
	UserID   pgtype.UUID
	Currency string
	Since    pgtype.Timestamptz
}

// SumOutgoingSince totals funds the user sent in the window, in micros.
// Only negative entries on the user's own accounts count; the in-flight
// transaction is not yet in the ledger and is therefore excluded.
func (q *Queries) SumOutgoingSince(ctx context.Context, arg OutgoingWindowParams) (int64, error) {
	var total int64
	err := q.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(-e.amount), 0)
		FROM ledger_entries e
		JOIN accounts a ON a.id = e.account_id
		WHERE a.user_id = $1 AND a.currency = $2
		  AND e.amount < 0 AND e.created_at >= $3`,
		arg.UserID, arg.Currency, arg.Since,
	).Scan(&total)
	return total, err
}

// CountOutgoingSince counts outgoing transactions by the user in the window.
func (q *Queries) CountOutgoingSince(ctx context.Context, arg OutgoingWindowParams) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM ledger_entries e
		JOIN accounts a ON a.id = e.account_id
		WHERE a.user_id = $1 AND a.currency = $2
		  AND e.amount < 0 AND e.created_at >= $3`,
		arg.UserID, arg.Currency, arg.Since,
	).Scan(&count)
	return count, err
}

type OutgoingBandParams struct {
	UserID   pgtype.UUID
	Currency string
	Since    pgtype.Timestamptz
	Low      int64
	High     int64
}

// CountOutgoingInBandSince counts outgoing transactions whose magnitude lies
// in the inclusive [Low, High] band; used by structuring detection.
func (q *Queries) CountOutgoingInBandSince(ctx context.Context, arg OutgoingBandParams) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM ledger_entries e
		JOIN accounts a ON a.id = e.account_id
		WHERE a.user_id = $1 AND a.currency = $2
		  AND e.amount < 0 AND e.created_at >= $3
		  AND -e.amount BETWEEN $4 AND $5`,
		arg.UserID, arg.Currency, arg.Since, arg.Low, arg.High,
	).Scan(&count)
	return count, err
}

type CurrencyTotalRow struct {
	Currency string
	Total    int64
}

// LifetimeOutgoing returns the user's cumulative sent amount per currency.
func (q *Queries) LifetimeOutgoing(ctx context.Context, userID pgtype.UUID) ([]CurrencyTotalRow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT a.currency, COALESCE(SUM(-e.amount), 0)
		FROM ledger_entries e
		JOIN accounts a ON a.id = e.account_id
		WHERE a.user_id = $1 AND e.amount < 0
		GROUP BY a.currency`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CurrencyTotalRow
	for rows.Next() {
		var r CurrencyTotalRow
		if err := rows.Scan(&r.Currency, &r.Total); err != nil {
			return nil, fmt.Errorf("scan lifetime outgoing: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type AccountDriftRow struct {
	AccountID pgtype.UUID
	Currency  string
	Balance   int64
	EntrySum  int64
}

// ListAccountDrift returns accounts whose balance diverged from the sum of
// their ledger entries. The result should always be empty.
func (q *Queries) ListAccountDrift(ctx context.Context) ([]AccountDriftRow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT a.id, a.currency, a.balance, COALESCE(SUM(e.amount), 0) AS entry_sum
		FROM accounts a
		LEFT JOIN ledger_entries e ON e.account_id = a.id
		GROUP BY a.id, a.currency, a.balance
		HAVING a.balance <> COALESCE(SUM(e.amount), 0)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AccountDriftRow
	for rows.Next() {
		var r AccountDriftRow
		if err := rows.Scan(&r.AccountID, &r.Currency, &r.Balance, &r.EntrySum); err != nil {
			return nil, fmt.Errorf("scan account drift: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type ConservationRow struct {
	Currency string
	Net      int64
}

// ListConservationImbalances checks, per currency, that the sum of all
// balances plus outstanding collected escrow holds equals net external
// deposits. A non-empty result means money was created or destroyed.
func (q *Queries) ListConservationImbalances(ctx context.Context) ([]ConservationRow, error) {
	rows, err := q.db.Query(ctx, `
		WITH balances AS (
			SELECT currency, COALESCE(SUM(balance), 0) AS total
			FROM accounts GROUP BY currency
		), outstanding AS (
			SELECT currency, COALESCE(SUM(amount - refunded_amount - service_fee_retained), 0) AS total
			FROM escrows
			WHERE status IN ('pending', 'disputed') AND funding_status = 'collected'
			GROUP BY currency
		), external AS (
			SELECT a.currency, COALESCE(SUM(e.amount), 0) AS total
			FROM ledger_entries e
			JOIN accounts a ON a.id = e.account_id
			WHERE e.type IN ('deposit', 'withdrawal')
			GROUP BY a.currency
		)
		SELECT b.currency,
		       b.total + COALESCE(o.total, 0) - COALESCE(x.total, 0) AS net
		FROM balances b
		LEFT JOIN outstanding o ON o.currency = b.currency
		LEFT JOIN external x ON x.currency = b.currency
		WHERE b.total + COALESCE(o.total, 0) - COALESCE(x.total, 0) <> 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ConservationRow
	for rows.Next() {
		var r ConservationRow
		if err := rows.Scan(&r.Currency, &r.Net); err != nil {
			return nil, fmt.Errorf("scan conservation row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
