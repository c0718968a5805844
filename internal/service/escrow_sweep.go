package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/domain"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/observability"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/repository"
)

// AutoRelease pays out holds whose verified proof has sat unchallenged past
// the approval window. Returns how many escrows were released.
//
// Candidates are listed up front, then each one is claimed and settled in
// its own transaction: a failure on one escrow is logged and skipped
// without rolling back the rest of the batch.
func (s *EscrowService) AutoRelease(ctx context.Context, batch int32) (int, error) {
	actor := SystemActor()
	cutoff := repository.ToPgTime(time.Now().Add(-s.approvalWindow))

	candidates, err := s.store.Queries().ListAutoReleasable(ctx, repository.SweepBatchParams{
		Cutoff: cutoff,
		Limit:  batch,
	})
	if err != nil {
		return 0, err
	}

	var released int
	for i := range candidates {
		id := candidates[i].ID
		var claimed bool
		err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
			claimed = false
			escrow, err := qtx.ClaimAutoReleasable(ctx, repository.ClaimEscrowParams{
				ID:     repository.ToPgUUID(id),
				Cutoff: cutoff,
			})
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return nil
				}
				return err
			}
			if err := s.payOut(ctx, qtx, &escrow, escrow.Remaining(), actor.ID, domain.EscrowStatusReleased); err != nil {
				return err
			}
			if err := queueNotification(ctx, qtx, escrow, domain.OutboxEscrowAutoReleased, escrow.RecipientID); err != nil {
				return err
			}
			if err := s.audit.Write(ctx, qtx, "escrow", escrow.ID, &actor.ID, "auto_released", domain.EscrowStatusPending, domain.EscrowStatusReleased, nil); err != nil {
				return err
			}
			claimed = true
			return nil
		})
		if err != nil {
			s.log.Error("auto-release failed, skipping escrow",
				zap.String("escrow_id", id.String()), zap.Error(wrapBusy(err)))
			continue
		}
		if claimed {
			released++
		}
	}
	if released > 0 {
		s.log.Info("auto-released escrows", zap.Int("count", released))
		observability.EscrowTransitions.WithLabelValues("auto_released").Add(float64(released))
	}
	return released, nil
}

// AutoRefund returns expired, never-proven holds to their senders in full.
// Same shape as AutoRelease: one transaction per claimed escrow.
func (s *EscrowService) AutoRefund(ctx context.Context, batch int32) (int, error) {
	actor := SystemActor()
	cutoff := repository.ToPgTime(time.Now())

	candidates, err := s.store.Queries().ListExpiredUnproven(ctx, repository.SweepBatchParams{
		Cutoff: cutoff,
		Limit:  batch,
	})
	if err != nil {
		return 0, err
	}

	var refunded int
	for i := range candidates {
		id := candidates[i].ID
		var claimed bool
		err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
			claimed = false
			escrow, err := qtx.ClaimExpiredUnproven(ctx, repository.ClaimEscrowParams{
				ID:     repository.ToPgUUID(id),
				Cutoff: cutoff,
			})
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return nil
				}
				return err
			}
			remaining := escrow.Remaining()
			if _, err := creditAccount(ctx, qtx, escrow.SenderAccountID, repository.ToPgUUID(escrow.ID), remaining, domain.EntryEscrowRefund, actor.ID); err != nil {
				return err
			}
			rows, err := qtx.ApplyEscrowRefund(ctx, repository.ApplyEscrowRefundParams{
				RefundDelta: remaining,
				Status:      domain.EscrowStatusRefunded,
				ID:          repository.ToPgUUID(escrow.ID),
			})
			if err != nil {
				return err
			}
			if err := requireExactlyOne(rows, "apply expiry refund"); err != nil {
				return err
			}
			if err := qtx.InsertRefundEvent(ctx, repository.InsertRefundEventParams{
				ID:         repository.ToPgUUID(uuid.New()),
				EscrowID:   repository.ToPgUUID(escrow.ID),
				Amount:     remaining,
				Reason:     "hold expired without proof of service",
				RefundedBy: repository.ToPgUUID(actor.ID),
			}); err != nil {
				return err
			}
			if err := queueNotification(ctx, qtx, escrow, domain.OutboxEscrowAutoRefunded, escrow.SenderID); err != nil {
				return err
			}
			if err := queueNotification(ctx, qtx, escrow, domain.OutboxEscrowAutoRefunded, escrow.RecipientID); err != nil {
				return err
			}
			if err := s.audit.Write(ctx, qtx, "escrow", escrow.ID, &actor.ID, "auto_refunded", domain.EscrowStatusPending, domain.EscrowStatusRefunded, nil); err != nil {
				return err
			}
			claimed = true
			return nil
		})
		if err != nil {
			s.log.Error("auto-refund failed, skipping escrow",
				zap.String("escrow_id", id.String()), zap.Error(wrapBusy(err)))
			continue
		}
		if claimed {
			refunded++
		}
	}
	if refunded > 0 {
		s.log.Info("auto-refunded expired escrows", zap.Int("count", refunded))
		observability.EscrowTransitions.WithLabelValues("auto_refunded").Add(float64(refunded))
	}
	return refunded, nil
}
