package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/models"
)

const escrowColumns = `
	id, sender_id, recipient_id, sender_account_id, recipient_account_id,
	amount, currency, status, release_condition, funding_source, funding_status,
	provider_order_ref, proof_submitted, proof_verified, proof_verified_at,
	refunded_amount, service_fee_retained, expires_at, released_at,
	dispute_opened_by, dispute_reason, dispute_evidence, dispute_opened_at,
	dispute_resolution, dispute_resolved_by, dispute_resolved_at,
	created_at, updated_at`

type escrowScanner interface {
	Scan(dest ...any) error
}

func scanEscrow(row escrowScanner) (models.Escrow, error) {
	var e models.Escrow
	var orderRef, disputeReason, disputeEvidence, disputeResolution pgtype.Text
	var proofVerifiedAt, releasedAt, disputeOpenedAt, disputeResolvedAt pgtype.Timestamptz
	var disputeOpenedBy, disputeResolvedBy pgtype.UUID

	err := row.Scan(
		&e.ID, &e.SenderID, &e.RecipientID, &e.SenderAccountID, &e.RecipientAccountID,
		&e.Amount, &e.Currency, &e.Status, &e.ReleaseCondition, &e.FundingSource, &e.FundingStatus,
		&orderRef, &e.ProofSubmitted, &e.ProofVerified, &proofVerifiedAt,
		&e.RefundedAmount, &e.ServiceFeeRetained, &e.ExpiresAt, &releasedAt,
		&disputeOpenedBy, &disputeReason, &disputeEvidence, &disputeOpenedAt,
		&disputeResolution, &disputeResolvedBy, &disputeResolvedAt,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return models.Escrow{}, err
	}

	e.ProviderOrderRef = orderRef.String
	e.ProofVerifiedAt = FromPgTimePtr(proofVerifiedAt)
	e.ReleasedAt = FromPgTimePtr(releasedAt)

	if disputeOpenedBy.Valid {
		d := &models.DisputeRecord{
			OpenedBy:   FromPgUUID(disputeOpenedBy),
			Reason:     disputeReason.String,
			Evidence:   disputeEvidence.String,
			Resolution: disputeResolution.String,
			ResolvedBy: FromPgUUIDPtr(disputeResolvedBy),
			ResolvedAt: FromPgTimePtr(disputeResolvedAt),
		}
		if disputeOpenedAt.Valid {
			d.OpenedAt = disputeOpenedAt.Time
		}
		e.Dispute = d
	}
	return e, nil
}

type CreateEscrowParams struct {
	ID                 pgtype.UUID
	SenderID           pgtype.UUID
	RecipientID        pgtype.UUID
	SenderAccountID    pgtype.UUID
	RecipientAccountID pgtype.UUID
	Amount             int64
	Currency           string
	Status             string
	ReleaseCondition   string
	FundingSource      string
	FundingStatus      string
	ProviderOrderRef   string
	ExpiresAt          pgtype.Timestamptz
}

func (q *Queries) CreateEscrow(ctx context.Context, arg CreateEscrowParams) (models.Escrow, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO escrows (
			id, sender_id, recipient_id, sender_account_id, recipient_account_id,
			amount, currency, status, release_condition, funding_source, funding_status,
			provider_order_ref, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULLIF($12, ''), $13, NOW(), NOW())
		RETURNING `+escrowColumns,
		arg.ID, arg.SenderID, arg.RecipientID, arg.SenderAccountID, arg.RecipientAccountID,
		arg.Amount, arg.Currency, arg.Status, arg.ReleaseCondition, arg.FundingSource,
		arg.FundingStatus, arg.ProviderOrderRef, arg.ExpiresAt)
	e, err := scanEscrow(row)
	if err != nil {
		return models.Escrow{}, fmt.Errorf("create escrow: %w", err)
	}
	return e, nil
}

func (q *Queries) GetEscrow(ctx context.Context, id pgtype.UUID) (models.Escrow, error) {
	row := q.db.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id)
	return scanEscrow(row)
}

// GetEscrowForUpdate serializes all state transitions on one escrow id.
// The lock is held until the enclosing transaction commits, so the loser of
// a concurrent release/refund race observes the post-transition status.
func (q *Queries) GetEscrowForUpdate(ctx context.Context, id pgtype.UUID) (models.Escrow, error) {
	row := q.db.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1 FOR UPDATE`, id)
	return scanEscrow(row)
}

// GetEscrowByOrderRefForUpdate locates the escrow a provider callback refers
// to and takes its row lock.
func (q *Queries) GetEscrowByOrderRefForUpdate(ctx context.Context, orderRef string) (models.Escrow, error) {
	row := q.db.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE provider_order_ref = $1 FOR UPDATE`, orderRef)
	return scanEscrow(row)
}

type UpdateEscrowStatusParams struct {
	Status     string
	ReleasedAt pgtype.Timestamptz
	ID         pgtype.UUID
}

func (q *Queries) UpdateEscrowStatus(ctx context.Context, arg UpdateEscrowStatusParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE escrows
		SET status = $1, released_at = COALESCE($2, released_at), updated_at = NOW()
		WHERE id = $3`, arg.Status, arg.ReleasedAt, arg.ID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type UpdateEscrowFundingParams struct {
	FundingStatus string
	ID            pgtype.UUID
}

func (q *Queries) UpdateEscrowFunding(ctx context.Context, arg UpdateEscrowFundingParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE escrows SET funding_status = $1, updated_at = NOW() WHERE id = $2`,
		arg.FundingStatus, arg.ID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type ApplyEscrowRefundParams struct {
	RefundDelta int64
	FeeDelta    int64
	Status      string
	ID          pgtype.UUID
}

// ApplyEscrowRefund accumulates refunded_amount and service_fee_retained.
// The check constraint refunded_amount + service_fee_retained <= amount
// backstops the service-level arithmetic.
func (q *Queries) ApplyEscrowRefund(ctx context.Context, arg ApplyEscrowRefundParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE escrows
		SET refunded_amount = refunded_amount + $1,
		    service_fee_retained = service_fee_retained + $2,
		    status = $3,
		    updated_at = NOW()
		WHERE id = $4`, arg.RefundDelta, arg.FeeDelta, arg.Status, arg.ID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type OpenEscrowDisputeParams struct {
	OpenedBy pgtype.UUID
	Reason   string
	Evidence string
	ID       pgtype.UUID
}

func (q *Queries) OpenEscrowDispute(ctx context.Context, arg OpenEscrowDisputeParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE escrows
		SET status = 'disputed',
		    dispute_opened_by = $1, dispute_reason = $2, dispute_evidence = $3,
		    dispute_opened_at = NOW(), updated_at = NOW()
		WHERE id = $4`, arg.OpenedBy, arg.Reason, arg.Evidence, arg.ID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type ResolveEscrowDisputeParams struct {
	Status     string
	Resolution string
	ResolvedBy pgtype.UUID
	ReleasedAt pgtype.Timestamptz
	ID         pgtype.UUID
}

func (q *Queries) ResolveEscrowDispute(ctx context.Context, arg ResolveEscrowDisputeParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE escrows
		SET status = $1,
		    dispute_resolution = $2, dispute_resolved_by = $3, dispute_resolved_at = NOW(),
		    released_at = COALESCE($4, released_at), updated_at = NOW()
		WHERE id = $5`, arg.Status, arg.Resolution, arg.ResolvedBy, arg.ReleasedAt, arg.ID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type SetEscrowProofParams struct {
	ProofSubmitted bool
	ProofVerified  bool
	VerifiedAt     pgtype.Timestamptz
	ID             pgtype.UUID
}

func (q *Queries) SetEscrowProof(ctx context.Context, arg SetEscrowProofParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE escrows
		SET proof_submitted = $1, proof_verified = $2,
		    proof_verified_at = COALESCE($3, proof_verified_at), updated_at = NOW()
		WHERE id = $4`, arg.ProofSubmitted, arg.ProofVerified, arg.VerifiedAt, arg.ID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type SweepBatchParams struct {
	Cutoff pgtype.Timestamptz
	Limit  int32
}

// ListAutoReleasable returns pending, collected escrows whose verified proof
// has waited past the approval cutoff. The sweep re-locks and re-checks
// each candidate with ClaimAutoReleasable before acting on it.
func (q *Queries) ListAutoReleasable(ctx context.Context, arg SweepBatchParams) ([]models.Escrow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE status = 'pending' AND funding_status = 'collected'
		  AND proof_submitted AND proof_verified
		  AND proof_verified_at <= $1
		ORDER BY proof_verified_at
		LIMIT $2`, arg.Cutoff, arg.Limit)
	if err != nil {
		return nil, err
	}
	return collectEscrows(rows)
}

// ListExpiredUnproven returns pending, collected escrows past expiry with no
// proof submitted, eligible for the automatic refund sweep.
func (q *Queries) ListExpiredUnproven(ctx context.Context, arg SweepBatchParams) ([]models.Escrow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE status = 'pending' AND funding_status = 'collected'
		  AND NOT proof_submitted
		  AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2`, arg.Cutoff, arg.Limit)
	if err != nil {
		return nil, err
	}
	return collectEscrows(rows)
}

type ClaimEscrowParams struct {
	ID     pgtype.UUID
	Cutoff pgtype.Timestamptz
}

// ClaimAutoReleasable locks one release candidate by id, re-checking
// eligibility under the lock. pgx.ErrNoRows means another worker holds the
// row or its state changed since listing.
func (q *Queries) ClaimAutoReleasable(ctx context.Context, arg ClaimEscrowParams) (models.Escrow, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE id = $1
		  AND status = 'pending' AND funding_status = 'collected'
		  AND proof_submitted AND proof_verified
		  AND proof_verified_at <= $2
		FOR UPDATE SKIP LOCKED`, arg.ID, arg.Cutoff)
	return scanEscrow(row)
}

// ClaimExpiredUnproven locks one refund candidate by id, re-checking
// eligibility under the lock.
func (q *Queries) ClaimExpiredUnproven(ctx context.Context, arg ClaimEscrowParams) (models.Escrow, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE id = $1
		  AND status = 'pending' AND funding_status = 'collected'
		  AND NOT proof_submitted
		  AND expires_at < $2
		FOR UPDATE SKIP LOCKED`, arg.ID, arg.Cutoff)
	return scanEscrow(row)
}

func collectEscrows(rows pgx.Rows) ([]models.Escrow, error) {
	defer rows.Close()
	var out []models.Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan escrow: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type EscrowsBetweenParams struct {
	SenderID    pgtype.UUID
	RecipientID pgtype.UUID
	Since       pgtype.Timestamptz
}

// CountEscrowsBetweenSince counts holds a sender opened toward the same
// recipient in the window; feeds the repeat-counterparty fraud rule.
func (q *Queries) CountEscrowsBetweenSince(ctx context.Context, arg EscrowsBetweenParams) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM escrows
		WHERE sender_id = $1 AND recipient_id = $2 AND created_at >= $3`,
		arg.SenderID, arg.RecipientID, arg.Since,
	).Scan(&count)
	return count, err
}

type InsertRefundEventParams struct {
	ID         pgtype.UUID
	EscrowID   pgtype.UUID
	Amount     int64
	ServiceFee int64
	Reason     string
	RefundedBy pgtype.UUID
}

func (q *Queries) InsertRefundEvent(ctx context.Context, arg InsertRefundEventParams) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO escrow_refund_events (id, escrow_id, amount, service_fee, reason, refunded_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		arg.ID, arg.EscrowID, arg.Amount, arg.ServiceFee, arg.Reason, arg.RefundedBy)
	return err
}

func (q *Queries) ListRefundEvents(ctx context.Context, escrowID pgtype.UUID) ([]models.RefundEvent, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, escrow_id, amount, service_fee, reason, refunded_by, created_at
		FROM escrow_refund_events
		WHERE escrow_id = $1
		ORDER BY created_at`, escrowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RefundEvent
	for rows.Next() {
		var r models.RefundEvent
		if err := rows.Scan(&r.ID, &r.EscrowID, &r.Amount, &r.ServiceFee, &r.Reason, &r.RefundedBy, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan refund event: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
