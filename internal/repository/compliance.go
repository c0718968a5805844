package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/models"
)

// ListActiveThresholds loads the read-only threshold snapshot for one
// currency. An empty result means no currency-specific gating, not allow.
func (q *Queries) ListActiveThresholds(ctx context.Context, currency string) ([]models.ComplianceThreshold, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, threshold_type, currency, amount_limit, count_limit, window_minutes, action, risk_weight, active
		FROM compliance_thresholds
		WHERE currency = $1 AND active
		ORDER BY threshold_type`, currency)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ComplianceThreshold
	for rows.Next() {
		var t models.ComplianceThreshold
		if err := rows.Scan(&t.ID, &t.ThresholdType, &t.Currency, &t.AmountLimit, &t.CountLimit, &t.WindowMinutes, &t.Action, &t.RiskWeight, &t.Active); err != nil {
			return nil, fmt.Errorf("scan threshold: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (q *Queries) ListActiveFraudRules(ctx context.Context) ([]models.FraudRule, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, rule_type, name, params, action, risk_weight, active
		FROM fraud_rules
		WHERE active
		ORDER BY rule_type, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FraudRule
	for rows.Next() {
		var r models.FraudRule
		if err := rows.Scan(&r.ID, &r.RuleType, &r.Name, &r.Params, &r.Action, &r.RiskWeight, &r.Active); err != nil {
			return nil, fmt.Errorf("scan fraud rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type CreateThresholdParams struct {
	ID            pgtype.UUID
	ThresholdType string
	Currency      string
	AmountLimit   int64
	CountLimit    int32
	WindowMinutes int32
	Action        string
	RiskWeight    int32
}

func (q *Queries) CreateThreshold(ctx context.Context, arg CreateThresholdParams) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO compliance_thresholds (id, threshold_type, currency, amount_limit, count_limit, window_minutes, action, risk_weight, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)`,
		arg.ID, arg.ThresholdType, arg.Currency, arg.AmountLimit, arg.CountLimit, arg.WindowMinutes, arg.Action, arg.RiskWeight)
	return err
}

type CreateFraudRuleParams struct {
	ID         pgtype.UUID
	RuleType   string
	Name       string
	Params     []byte
	Action     string
	RiskWeight int32
}

func (q *Queries) CreateFraudRule(ctx context.Context, arg CreateFraudRuleParams) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO fraud_rules (id, rule_type, name, params, action, risk_weight, active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)`,
		arg.ID, arg.RuleType, arg.Name, arg.Params, arg.Action, arg.RiskWeight)
	return err
}

// GetRiskProfileForUpdate lazily creates the profile and takes its row lock,
// serializing concurrent evaluations for the same user.
func (q *Queries) GetRiskProfileForUpdate(ctx context.Context, userID pgtype.UUID) (models.RiskProfile, error) {
	var p models.RiskProfile
	var blockedReason pgtype.Text
	var lastEvaluatedAt pgtype.Timestamptz
	err := q.db.QueryRow(ctx, `
		INSERT INTO risk_profiles (user_id, risk_score, is_blocked, total_sent_micros, transaction_count, created_at, updated_at)
		VALUES ($1, 0, FALSE, 0, 0, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET updated_at = NOW()
		RETURNING user_id, risk_score, is_blocked, blocked_reason, total_sent_micros, transaction_count, last_evaluated_at, created_at, updated_at`,
		userID,
	).Scan(&p.UserID, &p.RiskScore, &p.IsBlocked, &blockedReason, &p.TotalSentMicros, &p.TransactionCount, &lastEvaluatedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return models.RiskProfile{}, err
	}
	p.BlockedReason = blockedReason.String
	p.LastEvaluatedAt = FromPgTimePtr(lastEvaluatedAt)
	return p, nil
}

func (q *Queries) GetRiskProfile(ctx context.Context, userID pgtype.UUID) (models.RiskProfile, error) {
	var p models.RiskProfile
	var blockedReason pgtype.Text
	var lastEvaluatedAt pgtype.Timestamptz
	err := q.db.QueryRow(ctx, `
		SELECT user_id, risk_score, is_blocked, blocked_reason, total_sent_micros, transaction_count, last_evaluated_at, created_at, updated_at
		FROM risk_profiles WHERE user_id = $1`, userID,
	).Scan(&p.UserID, &p.RiskScore, &p.IsBlocked, &blockedReason, &p.TotalSentMicros, &p.TransactionCount, &lastEvaluatedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return models.RiskProfile{}, err
	}
	p.BlockedReason = blockedReason.String
	p.LastEvaluatedAt = FromPgTimePtr(lastEvaluatedAt)
	return p, nil
}

type UpdateRiskProfileParams struct {
	RiskScore int32
	UserID    pgtype.UUID
}

func (q *Queries) UpdateRiskProfile(ctx context.Context, arg UpdateRiskProfileParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE risk_profiles
		SET risk_score = $1,
		    last_evaluated_at = NOW(), updated_at = NOW()
		WHERE user_id = $2`, arg.RiskScore, arg.UserID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type BumpRiskProfileSpendParams struct {
	SentDelta int64
	UserID    pgtype.UUID
}

// BumpRiskProfileSpend adds one settled outgoing transaction to the
// profile's lifetime aggregates. It runs in the transaction that moves the
// money, never in the evaluation transaction.
func (q *Queries) BumpRiskProfileSpend(ctx context.Context, arg BumpRiskProfileSpendParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE risk_profiles
		SET total_sent_micros = total_sent_micros + $1,
		    transaction_count = transaction_count + 1,
		    updated_at = NOW()
		WHERE user_id = $2`, arg.SentDelta, arg.UserID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type SetRiskProfileBlockedParams struct {
	IsBlocked bool
	Reason    string
	UserID    pgtype.UUID
}

func (q *Queries) SetRiskProfileBlocked(ctx context.Context, arg SetRiskProfileBlockedParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE risk_profiles
		SET is_blocked = $1, blocked_reason = NULLIF($2, ''), updated_at = NOW()
		WHERE user_id = $3`, arg.IsBlocked, arg.Reason, arg.UserID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
