package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/domain"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/models"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/repository"
)

// sarTransitions lists the legal status moves for a suspicious activity
// report. Terminal statuses have no outgoing edges.
var sarTransitions = map[string][]string{
	domain.SARStatusPending:       {domain.SARStatusInvestigating, domain.SARStatusCleared},
	domain.SARStatusInvestigating: {domain.SARStatusEscalated, domain.SARStatusCleared, domain.SARStatusConfirmed},
	domain.SARStatusEscalated:     {domain.SARStatusReported, domain.SARStatusCleared, domain.SARStatusConfirmed},
	domain.SARStatusReported:      {domain.SARStatusConfirmed, domain.SARStatusCleared},
}

func canTransitionSAR(from, to string) bool {
	for _, next := range sarTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ReportService files and manages suspicious activity reports.
type ReportService struct {
	store QueryStore
	audit *AuditService
}

func NewReportService(store QueryStore) *ReportService {
	return &ReportService{store: store, audit: NewAuditService(store)}
}

type FileReportCmd struct {
	ReportType     string
	UserID         uuid.UUID
	TransactionIDs []uuid.UUID
	TriggeredRules []string
	RiskScore      int
}

// FileInTx files a report inside the caller's transaction, so a compliance
// evaluation and the report it produces commit atomically. The report number
// is assigned from a database sequence: SAR-<year>-<seq>.
func (s *ReportService) FileInTx(ctx context.Context, qtx *repository.Queries, cmd FileReportCmd) (models.SuspiciousActivityReport, error) {
	if cmd.ReportType == "" {
		return models.SuspiciousActivityReport{}, fmt.Errorf("%w: report type is required", models.ErrValidation)
	}
	row, err := qtx.InsertSAR(ctx, repository.InsertSARParams{
		ID:             repository.ToPgUUID(uuid.New()),
		ReportType:     cmd.ReportType,
		UserID:         repository.ToPgUUID(cmd.UserID),
		TransactionIDs: cmd.TransactionIDs,
		TriggeredRules: cmd.TriggeredRules,
		RiskScore:      int32(cmd.RiskScore),
		Status:         domain.SARStatusPending,
	})
	if err != nil {
		return models.SuspiciousActivityReport{}, err
	}
	report := row.Report
	report.ReportNo = formatReportNo(report.CreatedAt, row.Sequence)

	if err := s.audit.Write(ctx, qtx, "sar", report.ID, nil, "filed", "", domain.SARStatusPending, nil); err != nil {
		return models.SuspiciousActivityReport{}, err
	}
	return report, nil
}

// File files a report in its own transaction.
func (s *ReportService) File(ctx context.Context, cmd FileReportCmd) (models.SuspiciousActivityReport, error) {
	var report models.SuspiciousActivityReport
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		report, err = s.FileInTx(ctx, qtx, cmd)
		return err
	})
	if err != nil {
		return models.SuspiciousActivityReport{}, wrapBusy(err)
	}
	return report, nil
}

type ResolveReportCmd struct {
	Actor    Actor
	ReportID uuid.UUID
	Status   string
	Notes    string
}

// Resolve advances a report's investigation status. Resolution never touches
// balances; any remediation happens through the escrow and ledger APIs.
func (s *ReportService) Resolve(ctx context.Context, cmd ResolveReportCmd) (models.SuspiciousActivityReport, error) {
	if !cmd.Actor.Trusted() {
		return models.SuspiciousActivityReport{}, models.ErrUnauthorized
	}

	var report models.SuspiciousActivityReport
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		row, err := qtx.GetSAR(ctx, repository.ToPgUUID(cmd.ReportID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return models.ErrReportNotFound
			}
			return fmt.Errorf("load report: %w", err)
		}
		if !canTransitionSAR(row.Report.Status, cmd.Status) {
			return fmt.Errorf("%w: report cannot move from %s to %s", models.ErrInvalidState, row.Report.Status, cmd.Status)
		}

		rows, err := qtx.UpdateSARStatus(ctx, repository.UpdateSARStatusParams{
			Status: cmd.Status,
			Notes:  cmd.Notes,
			ID:     repository.ToPgUUID(cmd.ReportID),
		})
		if err != nil {
			return err
		}
		if err := requireExactlyOne(rows, "update report status"); err != nil {
			return err
		}
		if err := s.audit.Write(ctx, qtx, "sar", cmd.ReportID, &cmd.Actor.ID, "status_changed", row.Report.Status, cmd.Status, nil); err != nil {
			return err
		}

		report = row.Report
		report.Status = cmd.Status
		if cmd.Notes != "" {
			report.InvestigationNotes = cmd.Notes
		}
		report.ReportNo = formatReportNo(report.CreatedAt, row.Sequence)
		return nil
	})
	if err != nil {
		return models.SuspiciousActivityReport{}, wrapBusy(err)
	}
	return report, nil
}

// Get returns a single report. Admin only.
func (s *ReportService) Get(ctx context.Context, actor Actor, reportID uuid.UUID) (models.SuspiciousActivityReport, error) {
	if !actor.Trusted() {
		return models.SuspiciousActivityReport{}, models.ErrUnauthorized
	}
	row, err := s.store.Queries().GetSAR(ctx, repository.ToPgUUID(reportID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.SuspiciousActivityReport{}, models.ErrReportNotFound
		}
		return models.SuspiciousActivityReport{}, fmt.Errorf("load report: %w", err)
	}
	report := row.Report
	report.ReportNo = formatReportNo(report.CreatedAt, row.Sequence)
	return report, nil
}

// List returns reports filtered by status. Admin only.
func (s *ReportService) List(ctx context.Context, actor Actor, status string, limit, offset int32) ([]models.SuspiciousActivityReport, error) {
	if !actor.Trusted() {
		return nil, models.ErrUnauthorized
	}
	rows, err := s.store.Queries().ListSARsByStatus(ctx, repository.ListSARsParams{
		Status: status,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	out := make([]models.SuspiciousActivityReport, 0, len(rows))
	for _, row := range rows {
		report := row.Report
		report.ReportNo = formatReportNo(report.CreatedAt, row.Sequence)
		out = append(out, report)
	}
	return out, nil
}

func formatReportNo(filedAt time.Time, seq int64) string {
	return fmt.Sprintf("SAR-%d-%06d", filedAt.UTC().Year(), seq)
}
