package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/models"
)

type InsertOutboxEventParams struct {
	ID          pgtype.UUID
	EscrowID    pgtype.UUID
	EventType   string
	RecipientID pgtype.UUID
	Payload     []byte
}

// InsertOutboxEvent records a notification inside the same transaction as
// the state change it announces; delivery happens post-commit via the
// outbox worker.
func (q *Queries) InsertOutboxEvent(ctx context.Context, arg InsertOutboxEventParams) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO escrow_outbox (id, escrow_id, event_type, recipient_id, payload, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', 0, NOW())`,
		arg.ID, arg.EscrowID, arg.EventType, arg.RecipientID, arg.Payload)
	return err
}

// ClaimPendingOutboxEvents locks a batch of undelivered events. SKIP LOCKED
// lets concurrent worker instances drain disjoint batches.
func (q *Queries) ClaimPendingOutboxEvents(ctx context.Context, limit int32) ([]models.OutboxEvent, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, escrow_id, event_type, recipient_id, payload, status, attempts, created_at, dispatched_at
		FROM escrow_outbox
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.OutboxEvent
	for rows.Next() {
		var e models.OutboxEvent
		var dispatchedAt pgtype.Timestamptz
		if err := rows.Scan(&e.ID, &e.EscrowID, &e.EventType, &e.RecipientID, &e.Payload, &e.Status, &e.Attempts, &e.CreatedAt, &dispatchedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		e.DispatchedAt = FromPgTimePtr(dispatchedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (q *Queries) MarkOutboxDispatched(ctx context.Context, id pgtype.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE escrow_outbox
		SET status = 'dispatched', dispatched_at = NOW(), attempts = attempts + 1
		WHERE id = $1`, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type MarkOutboxFailedParams struct {
	Status string // pending for retry, dead when attempts are exhausted
	ID     pgtype.UUID
}

func (q *Queries) MarkOutboxFailed(ctx context.Context, arg MarkOutboxFailedParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE escrow_outbox
		SET status = $1, attempts = attempts + 1
		WHERE id = $2`, arg.Status, arg.ID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
