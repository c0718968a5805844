package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/models"
)

type InsertSARParams struct {
	ID             pgtype.UUID
	ReportType     string
	UserID         pgtype.UUID
	TransactionIDs []uuid.UUID
	TriggeredRules []string
	RiskScore      int32
	Status         string
}

type SARRow struct {
	Report   models.SuspiciousActivityReport
	Sequence int64
}

// InsertSAR appends a report; report_no is assigned from a sequence so the
// human-readable number is dense and monotonic.
func (q *Queries) InsertSAR(ctx context.Context, arg InsertSARParams) (SARRow, error) {
	ids := make([]string, len(arg.TransactionIDs))
	for i, id := range arg.TransactionIDs {
		ids[i] = id.String()
	}

	var row SARRow
	var notes pgtype.Text
	err := q.db.QueryRow(ctx, `
		INSERT INTO suspicious_activity_reports
			(id, report_type, user_id, transaction_ids, triggered_rules, risk_score, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4::uuid[], $5::text[], $6, $7, NOW(), NOW())
		RETURNING id, report_seq, report_type, user_id, transaction_ids, triggered_rules, risk_score, status, investigation_notes, created_at, updated_at`,
		arg.ID, arg.ReportType, arg.UserID, ids, arg.TriggeredRules, arg.RiskScore, arg.Status,
	).Scan(
		&row.Report.ID, &row.Sequence, &row.Report.ReportType, &row.Report.UserID,
		&row.Report.TransactionIDs, &row.Report.TriggeredRules, &row.Report.RiskScore,
		&row.Report.Status, &notes, &row.Report.CreatedAt, &row.Report.UpdatedAt,
	)
	if err != nil {
		return SARRow{}, fmt.Errorf("insert suspicious activity report: %w", err)
	}
	row.Report.InvestigationNotes = notes.String
	return row, nil
}

func scanSAR(row pgx.Row) (SARRow, error) {
	var r SARRow
	var notes pgtype.Text
	err := row.Scan(
		&r.Report.ID, &r.Sequence, &r.Report.ReportType, &r.Report.UserID,
		&r.Report.TransactionIDs, &r.Report.TriggeredRules, &r.Report.RiskScore,
		&r.Report.Status, &notes, &r.Report.CreatedAt, &r.Report.UpdatedAt,
	)
	if err != nil {
		return SARRow{}, err
	}
	r.Report.InvestigationNotes = notes.String
	return r, nil
}

const sarColumns = `id, report_seq, report_type, user_id, transaction_ids, triggered_rules, risk_score, status, investigation_notes, created_at, updated_at`

func (q *Queries) GetSAR(ctx context.Context, id pgtype.UUID) (SARRow, error) {
	return scanSAR(q.db.QueryRow(ctx, `SELECT `+sarColumns+` FROM suspicious_activity_reports WHERE id = $1`, id))
}

type ListSARsParams struct {
	Status string
	Limit  int32
	Offset int32
}

func (q *Queries) ListSARsByStatus(ctx context.Context, arg ListSARsParams) ([]SARRow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+sarColumns+`
		FROM suspicious_activity_reports
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, arg.Status, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SARRow
	for rows.Next() {
		r, err := scanSAR(rows)
		if err != nil {
			return nil, fmt.Errorf("scan suspicious activity report: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type UpdateSARStatusParams struct {
	Status string
	Notes  string
	ID     pgtype.UUID
}

// UpdateSARStatus records out-of-band human resolution. It never triggers
// ledger effects.
func (q *Queries) UpdateSARStatus(ctx context.Context, arg UpdateSARStatusParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE suspicious_activity_reports
		SET status = $1,
		    investigation_notes = COALESCE(NULLIF($2, ''), investigation_notes),
		    updated_at = NOW()
		WHERE id = $3`, arg.Status, arg.Notes, arg.ID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
