package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/gateway"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/repository"
)

const (
	defaultMaxDispatchAttempts = 5
	dispatchTimeout            = 5 * time.Second
)

// OutboxService delivers queued escrow notifications to the dispatcher.
// Events are claimed with SKIP LOCKED so concurrent instances drain
// disjoint batches; a failed dispatch goes back to pending until attempts
// run out, then the event is parked as dead.
type OutboxService struct {
	store       QueryStore
	notifier    gateway.NotificationDispatcher
	maxAttempts int32
	log         *zap.Logger
}

func NewOutboxService(store QueryStore, notifier gateway.NotificationDispatcher) *OutboxService {
	return &OutboxService{
		store:       store,
		notifier:    notifier,
		maxAttempts: defaultMaxDispatchAttempts,
		log:         zap.L().Named("outbox"),
	}
}

// Drain claims and dispatches up to batch pending events, returning how
// many were delivered.
func (s *OutboxService) Drain(ctx context.Context, batch int32) (int, error) {
	var delivered int
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		events, err := qtx.ClaimPendingOutboxEvents(ctx, batch)
		if err != nil {
			return err
		}
		for _, event := range events {
			var data map[string]any
			if err := json.Unmarshal(event.Payload, &data); err != nil {
				s.log.Warn("outbox payload undecodable, parking event",
					zap.String("event_id", event.ID.String()), zap.Error(err))
				if _, err := qtx.MarkOutboxFailed(ctx, repository.MarkOutboxFailedParams{
					Status: "dead",
					ID:     repository.ToPgUUID(event.ID),
				}); err != nil {
					return err
				}
				continue
			}

			dispatchCtx, cancel := context.WithTimeout(ctx, dispatchTimeout)
			err := s.notifier.Dispatch(dispatchCtx, gateway.Notification{
				UserID: event.RecipientID,
				Type:   event.EventType,
				Title:  titleFor(event.EventType),
				Data:   data,
			})
			cancel()
			if err != nil {
				status := "pending"
				if event.Attempts+1 >= s.maxAttempts {
					status = "dead"
					s.log.Error("outbox event exhausted retries",
						zap.String("event_id", event.ID.String()),
						zap.String("event_type", event.EventType),
						zap.Error(err))
				}
				if _, err := qtx.MarkOutboxFailed(ctx, repository.MarkOutboxFailedParams{
					Status: status,
					ID:     repository.ToPgUUID(event.ID),
				}); err != nil {
					return err
				}
				continue
			}

			if _, err := qtx.MarkOutboxDispatched(ctx, repository.ToPgUUID(event.ID)); err != nil {
				return err
			}
			delivered++
		}
		return nil
	})
	if err != nil {
		return 0, wrapBusy(err)
	}
	return delivered, nil
}

func titleFor(eventType string) string {
	switch eventType {
	case "escrow_funded":
		return "Payment received into escrow"
	case "escrow_released", "escrow_auto_released":
		return "Escrow funds released"
	case "escrow_refunded", "escrow_auto_refunded":
		return "Escrow refunded"
	case "escrow_disputed":
		return "Escrow disputed"
	case "dispute_resolved":
		return "Dispute resolved"
	case "escrow_cancelled":
		return "Escrow cancelled"
	default:
		return "Escrow update"
	}
}
