package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/models"
)

func (q *Queries) GetProcessedWebhookEvent(ctx context.Context, eventID string) (models.ProcessedWebhookEvent, error) {
	var e models.ProcessedWebhookEvent
	var escrowID pgtype.UUID
	err := q.db.QueryRow(ctx, `
		SELECT event_id, event_type, escrow_id, processed_at
		FROM processed_webhook_events WHERE event_id = $1`, eventID,
	).Scan(&e.EventID, &e.EventType, &escrowID, &e.ProcessedAt)
	if err != nil {
		return models.ProcessedWebhookEvent{}, err
	}
	e.EscrowID = FromPgUUIDPtr(escrowID)
	return e, nil
}

type InsertProcessedWebhookEventParams struct {
	EventID   string
	EventType string
	EscrowID  pgtype.UUID
}

// InsertProcessedWebhookEvent must be the last statement of the ingestion
// transaction. The primary key on event_id is the idempotency arbiter: a
// unique violation here means a concurrent delivery already won.
func (q *Queries) InsertProcessedWebhookEvent(ctx context.Context, arg InsertProcessedWebhookEventParams) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO processed_webhook_events (event_id, event_type, escrow_id, processed_at)
		VALUES ($1, $2, $3, NOW())`,
		arg.EventID, arg.EventType, arg.EscrowID)
	return err
}
