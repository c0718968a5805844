package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/domain"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/models"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/observability"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/repository"
)

const (
	maxRiskScore = 100

	// structuringBand is the inclusive +/- fraction around a structuring
	// threshold limit within which repeated just-under-limit amounts count.
	structuringBand = "0.20"

	newAccountMaxAge = 24 * time.Hour
)

// Decision is the outcome of a compliance pre-flight for one prospective
// transaction. Allowed=false means the transaction must not proceed.
type Decision struct {
	Allowed        bool     `json:"allowed"`
	RiskScore      int      `json:"risk_score"`
	RiskLevel      string   `json:"risk_level"`
	RequiresKYC    bool     `json:"requires_kyc"`
	RequiresReview bool     `json:"requires_review"`
	BlockReasons   []string `json:"block_reasons,omitempty"`
	TriggeredRules []string `json:"triggered_rules,omitempty"`
}

// EvaluateInput describes the prospective transaction. The transaction is
// not yet in the ledger, so window aggregations never double-count it.
type EvaluateInput struct {
	UserID          uuid.UUID
	CounterpartyID  *uuid.UUID
	TransactionID   *uuid.UUID
	Amount          int64
	Currency        string
	TransactionType string
}

// ComplianceService evaluates AML thresholds and fraud rules against
// prospective transactions and maintains per-user risk profiles. Evaluation
// persists its risk side effects in its own transaction, so a block still
// raises the user's score. Lifetime spend aggregates are recorded by the
// money-moving transaction through RecordSpend, so an evaluation whose
// transaction later fails does not inflate them.
type ComplianceService struct {
	store         QueryStore
	kyc           KYCProvider
	fx            ExchangeRateService
	reports       *ReportService
	audit         *AuditService
	newAccountCap int64 // lifetime outgoing cap for accounts younger than 24h, in reference-currency micros
	log           *zap.Logger
}

func NewComplianceService(store QueryStore, kyc KYCProvider, fx ExchangeRateService, reports *ReportService, newAccountCap int64) *ComplianceService {
	return &ComplianceService{
		store:         store,
		kyc:           kyc,
		fx:            fx,
		reports:       reports,
		audit:         NewAuditService(store),
		newAccountCap: newAccountCap,
		log:           zap.L().Named("compliance"),
	}
}

// Evaluate runs the full rule scan for a prospective transaction. Rules
// never short-circuit: every active rule is evaluated so the aggregate risk
// delta and the triggered-rule list are complete even when an early rule
// already blocks.
func (s *ComplianceService) Evaluate(ctx context.Context, in EvaluateInput) (*Decision, error) {
	if in.Amount <= 0 {
		return nil, fmt.Errorf("%w: invalid amount %d", models.ErrValidation, in.Amount)
	}
	if !domain.IsSupportedCurrency(in.Currency) {
		return nil, fmt.Errorf("%w: %s", models.ErrUnsupportedCurrency, in.Currency)
	}

	// Self-dealing is rejected before any profile work: it is a structural
	// violation, not a risk signal.
	if in.CounterpartyID != nil && *in.CounterpartyID == in.UserID {
		observability.ComplianceDecisions.WithLabelValues("blocked").Inc()
		return &Decision{
			Allowed:      false,
			RiskLevel:    domain.RiskLow,
			BlockReasons: []string{"sender and recipient are the same user"},
		}, nil
	}

	var decision *Decision
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		d, err := s.evaluateTx(ctx, qtx, in)
		if err != nil {
			return err
		}
		decision = d
		return nil
	})
	if err != nil {
		return nil, wrapBusy(err)
	}

	outcome := "allowed"
	if !decision.Allowed {
		outcome = "blocked"
	} else if decision.RequiresReview {
		outcome = "review"
	}
	observability.ComplianceDecisions.WithLabelValues(outcome).Inc()
	return decision, nil
}

func (s *ComplianceService) evaluateTx(ctx context.Context, qtx *repository.Queries, in EvaluateInput) (*Decision, error) {
	// Row lock on the profile serializes concurrent evaluations for the
	// same user, so velocity counters cannot be raced past their limits.
	profile, err := qtx.GetRiskProfileForUpdate(ctx, repository.ToPgUUID(in.UserID))
	if err != nil {
		return nil, fmt.Errorf("load risk profile: %w", err)
	}

	if profile.IsBlocked {
		reason := profile.BlockedReason
		if reason == "" {
			reason = "account is blocked pending review"
		}
		return &Decision{
			Allowed:      false,
			RiskScore:    profile.RiskScore,
			RiskLevel:    profile.RiskLevel(),
			BlockReasons: []string{reason},
		}, nil
	}

	d := &Decision{Allowed: true}
	var riskDelta int
	var kycRequired bool
	now := time.Now()

	applyAction := func(action, label string, weight int) {
		riskDelta += weight
		d.TriggeredRules = append(d.TriggeredRules, label)
		switch action {
		case domain.ActionBlock:
			d.Allowed = false
			d.BlockReasons = append(d.BlockReasons, label)
		case domain.ActionRequireKYC:
			kycRequired = true
		case domain.ActionReport, domain.ActionDelay, domain.ActionRequireSource:
			d.RequiresReview = true
		}
	}

	thresholds, err := qtx.ListActiveThresholds(ctx, in.Currency)
	if err != nil {
		return nil, fmt.Errorf("load thresholds: %w", err)
	}
	for _, t := range thresholds {
		triggered, err := s.checkThreshold(ctx, qtx, in, profile, t, now)
		if err != nil {
			return nil, err
		}
		if triggered {
			applyAction(t.Action, fmt.Sprintf("threshold:%s", t.ThresholdType), t.RiskWeight)
		}
	}

	rules, err := qtx.ListActiveFraudRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load fraud rules: %w", err)
	}
	for _, r := range rules {
		triggered, err := s.checkFraudRule(ctx, qtx, in, r, now)
		if err != nil {
			return nil, err
		}
		if triggered {
			applyAction(r.Action, fmt.Sprintf("rule:%s", r.Name), r.RiskWeight)
		}
	}

	// require_kyc is deferred: it only bites if the user is not verified.
	if kycRequired {
		status, err := s.kyc.StatusFor(ctx, in.UserID)
		if err != nil {
			return nil, err
		}
		if status != domain.KYCVerified {
			d.RequiresKYC = true
			d.Allowed = false
			d.BlockReasons = append(d.BlockReasons, "identity verification required")
		}
	}

	if err := s.checkNewAccountCap(ctx, qtx, in, d, now); err != nil {
		return nil, err
	}

	newScore := profile.RiskScore + riskDelta
	if newScore > maxRiskScore {
		newScore = maxRiskScore
	}
	d.RiskScore = newScore
	d.RiskLevel = domain.RiskLevelFor(newScore)

	rows, err := qtx.UpdateRiskProfile(ctx, repository.UpdateRiskProfileParams{
		RiskScore: int32(newScore),
		UserID:    repository.ToPgUUID(in.UserID),
	})
	if err != nil {
		return nil, fmt.Errorf("update risk profile: %w", err)
	}
	if err := requireExactlyOne(rows, "update risk profile"); err != nil {
		return nil, err
	}

	if d.RequiresReview {
		var txIDs []uuid.UUID
		if in.TransactionID != nil {
			txIDs = append(txIDs, *in.TransactionID)
		}
		if _, err := s.reports.FileInTx(ctx, qtx, FileReportCmd{
			ReportType:     "transaction_monitoring",
			UserID:         in.UserID,
			TransactionIDs: txIDs,
			TriggeredRules: d.TriggeredRules,
			RiskScore:      newScore,
		}); err != nil {
			return nil, err
		}
	}

	meta, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	if err := s.audit.Write(ctx, qtx, "compliance", in.UserID, nil, "evaluated", "", d.RiskLevel, meta); err != nil {
		return nil, err
	}

	if !d.Allowed {
		s.log.Info("transaction blocked",
			zap.String("user_id", in.UserID.String()),
			zap.Int64("amount", in.Amount),
			zap.String("currency", in.Currency),
			zap.Strings("reasons", d.BlockReasons))
	}
	return d, nil
}

func (s *ComplianceService) checkThreshold(ctx context.Context, qtx *repository.Queries, in EvaluateInput, profile models.RiskProfile, t models.ComplianceThreshold, now time.Time) (bool, error) {
	window := repository.ToPgTime(now.Add(-windowFor(t)))
	outgoing := repository.OutgoingWindowParams{
		UserID:   repository.ToPgUUID(in.UserID),
		Currency: in.Currency,
		Since:    window,
	}

	switch t.ThresholdType {
	case domain.ThresholdSingleTransaction:
		return in.Amount >= t.AmountLimit, nil

	case domain.ThresholdDailyVolume, domain.ThresholdWeeklyVolume, domain.ThresholdMonthlyVolume:
		sum, err := qtx.SumOutgoingSince(ctx, outgoing)
		if err != nil {
			return false, fmt.Errorf("sum outgoing: %w", err)
		}
		return sum+in.Amount > t.AmountLimit, nil

	case domain.ThresholdVelocity:
		count, err := qtx.CountOutgoingSince(ctx, outgoing)
		if err != nil {
			return false, fmt.Errorf("count outgoing: %w", err)
		}
		return count+1 > int64(t.CountLimit), nil

	case domain.ThresholdStructuring:
		band := decimal.RequireFromString(structuringBand)
		money := domain.NewMoney(in.Amount, in.Currency)
		if !money.WithinBand(t.AmountLimit, band) {
			return false, nil
		}
		lim := decimal.NewFromInt(t.AmountLimit)
		low := lim.Sub(lim.Mul(band)).IntPart()
		high := lim.Add(lim.Mul(band)).IntPart()
		count, err := qtx.CountOutgoingInBandSince(ctx, repository.OutgoingBandParams{
			UserID:   repository.ToPgUUID(in.UserID),
			Currency: in.Currency,
			Since:    window,
			Low:      low,
			High:     high,
		})
		if err != nil {
			return false, fmt.Errorf("count in band: %w", err)
		}
		return count+1 >= int64(t.CountLimit), nil

	case domain.ThresholdRoundAmount:
		return t.AmountLimit > 0 && in.Amount%t.AmountLimit == 0, nil

	case domain.ThresholdDormantAccount:
		if profile.LastEvaluatedAt == nil || in.Amount < t.AmountLimit {
			return false, nil
		}
		return now.Sub(*profile.LastEvaluatedAt) > windowFor(t), nil

	case domain.ThresholdNewAccount:
		// Covered by the fixed lifetime cap check below.
		return false, nil

	default:
		s.log.Warn("unknown threshold type skipped", zap.String("type", t.ThresholdType))
		return false, nil
	}
}

type velocityRuleParams struct {
	MaxCount      int64 `json:"max_count"`
	WindowMinutes int   `json:"window_minutes"`
}

type patternRuleParams struct {
	RoundTo int64 `json:"round_to"`
}

type relationshipRuleParams struct {
	MaxRepeat     int64 `json:"max_repeat"`
	WindowMinutes int   `json:"window_minutes"`
}

func (s *ComplianceService) checkFraudRule(ctx context.Context, qtx *repository.Queries, in EvaluateInput, r models.FraudRule, now time.Time) (bool, error) {
	switch r.RuleType {
	case domain.RuleVelocity:
		var p velocityRuleParams
		if err := json.Unmarshal(r.Params, &p); err != nil || p.MaxCount <= 0 || p.WindowMinutes <= 0 {
			s.log.Warn("velocity rule has unusable params", zap.String("rule", r.Name))
			return false, nil
		}
		count, err := qtx.CountOutgoingSince(ctx, repository.OutgoingWindowParams{
			UserID:   repository.ToPgUUID(in.UserID),
			Currency: in.Currency,
			Since:    repository.ToPgTime(now.Add(-time.Duration(p.WindowMinutes) * time.Minute)),
		})
		if err != nil {
			return false, fmt.Errorf("count outgoing: %w", err)
		}
		return count+1 > p.MaxCount, nil

	case domain.RulePattern:
		var p patternRuleParams
		if err := json.Unmarshal(r.Params, &p); err != nil || p.RoundTo <= 0 {
			s.log.Warn("pattern rule has unusable params", zap.String("rule", r.Name))
			return false, nil
		}
		return in.Amount%p.RoundTo == 0, nil

	case domain.RuleRelationship:
		if in.CounterpartyID == nil {
			return false, nil
		}
		var p relationshipRuleParams
		if err := json.Unmarshal(r.Params, &p); err != nil || p.MaxRepeat <= 0 || p.WindowMinutes <= 0 {
			s.log.Warn("relationship rule has unusable params", zap.String("rule", r.Name))
			return false, nil
		}
		count, err := qtx.CountEscrowsBetweenSince(ctx, repository.EscrowsBetweenParams{
			SenderID:    repository.ToPgUUID(in.UserID),
			RecipientID: repository.ToPgUUID(*in.CounterpartyID),
			Since:       repository.ToPgTime(now.Add(-time.Duration(p.WindowMinutes) * time.Minute)),
		})
		if err != nil {
			return false, fmt.Errorf("count escrows between: %w", err)
		}
		return count+1 > p.MaxRepeat, nil

	case domain.RuleGeographic, domain.RuleBehavioral, domain.RuleDevice:
		// No geo/device signal feed is wired; these rule types stay inert
		// until one is.
		return false, nil

	default:
		s.log.Warn("unknown fraud rule type skipped", zap.String("type", r.RuleType))
		return false, nil
	}
}

// checkNewAccountCap applies the fixed lifetime outgoing cap to accounts
// younger than 24 hours, converting every currency into the reference
// currency before comparison.
func (s *ComplianceService) checkNewAccountCap(ctx context.Context, qtx *repository.Queries, in EvaluateInput, d *Decision, now time.Time) error {
	if s.newAccountCap <= 0 {
		return nil
	}
	user, err := qtx.GetUser(ctx, repository.ToPgUUID(in.UserID))
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if now.Sub(user.CreatedAt) >= newAccountMaxAge {
		return nil
	}

	totals, err := qtx.LifetimeOutgoing(ctx, repository.ToPgUUID(in.UserID))
	if err != nil {
		return fmt.Errorf("lifetime outgoing: %w", err)
	}
	totals = append(totals, repository.CurrencyTotalRow{Currency: in.Currency, Total: in.Amount})

	var lifetime int64
	for _, row := range totals {
		rate, err := s.fx.GetExchangeRate(ctx, row.Currency, domain.ReferenceCurrency)
		if err != nil {
			return fmt.Errorf("exchange rate %s: %w", row.Currency, err)
		}
		converted := domain.NewMoney(row.Total, row.Currency).Convert(domain.ReferenceCurrency, rate)
		lifetime += converted.Amount
	}

	if lifetime > s.newAccountCap {
		d.Allowed = false
		d.BlockReasons = append(d.BlockReasons, "new account lifetime limit exceeded")
		d.TriggeredRules = append(d.TriggeredRules, "threshold:new_account")
	}
	return nil
}

func windowFor(t models.ComplianceThreshold) time.Duration {
	if t.WindowMinutes > 0 {
		return time.Duration(t.WindowMinutes) * time.Minute
	}
	switch t.ThresholdType {
	case domain.ThresholdDailyVolume:
		return 24 * time.Hour
	case domain.ThresholdWeeklyVolume:
		return 7 * 24 * time.Hour
	case domain.ThresholdMonthlyVolume:
		return 30 * 24 * time.Hour
	default:
		return time.Hour
	}
}

// RecordSpend bumps the sender's lifetime outgoing aggregates inside the
// caller's transaction. Callers invoke it next to the debit, after the
// corresponding Evaluate has passed, so the profile row already exists.
func (s *ComplianceService) RecordSpend(ctx context.Context, qtx *repository.Queries, userID uuid.UUID, amount int64) error {
	rows, err := qtx.BumpRiskProfileSpend(ctx, repository.BumpRiskProfileSpendParams{
		SentDelta: amount,
		UserID:    repository.ToPgUUID(userID),
	})
	if err != nil {
		return fmt.Errorf("record spend: %w", err)
	}
	return requireExactlyOne(rows, "record spend")
}

// GetProfile returns the current risk profile, creating none.
func (s *ComplianceService) GetProfile(ctx context.Context, actor Actor, userID uuid.UUID) (models.RiskProfile, error) {
	if actor.ID != userID && !actor.Trusted() {
		return models.RiskProfile{}, models.ErrUnauthorized
	}
	profile, err := s.store.Queries().GetRiskProfile(ctx, repository.ToPgUUID(userID))
	if err != nil {
		return models.RiskProfile{}, fmt.Errorf("load risk profile: %w", err)
	}
	return profile, nil
}

type BlockUserCmd struct {
	Actor  Actor
	UserID uuid.UUID
	Block  bool
	Reason string
}

// SetBlocked manually blocks or unblocks a user. Admin only.
func (s *ComplianceService) SetBlocked(ctx context.Context, cmd BlockUserCmd) error {
	if !cmd.Actor.Trusted() {
		return models.ErrUnauthorized
	}
	if cmd.Block && cmd.Reason == "" {
		return fmt.Errorf("%w: a block reason is required", models.ErrValidation)
	}
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		if _, err := qtx.GetRiskProfileForUpdate(ctx, repository.ToPgUUID(cmd.UserID)); err != nil {
			return fmt.Errorf("load risk profile: %w", err)
		}
		rows, err := qtx.SetRiskProfileBlocked(ctx, repository.SetRiskProfileBlockedParams{
			IsBlocked: cmd.Block,
			Reason:    cmd.Reason,
			UserID:    repository.ToPgUUID(cmd.UserID),
		})
		if err != nil {
			return err
		}
		if err := requireExactlyOne(rows, "set blocked"); err != nil {
			return err
		}
		action := "unblocked"
		if cmd.Block {
			action = "blocked"
		}
		meta, metaErr := marshalReasonMetadata(cmd.Reason)
		if metaErr != nil {
			return metaErr
		}
		return s.audit.Write(ctx, qtx, "risk_profile", cmd.UserID, &cmd.Actor.ID, action, "", "", meta)
	})
	return wrapBusy(err)
}

type ThresholdCmd struct {
	Actor         Actor
	ThresholdType string
	Currency      string
	AmountLimit   int64
	CountLimit    int32
	WindowMinutes int32
	ActionOnHit   string
	RiskWeight    int32
}

// AddThreshold installs a new active threshold. Admin only.
func (s *ComplianceService) AddThreshold(ctx context.Context, cmd ThresholdCmd) (uuid.UUID, error) {
	if !cmd.Actor.Trusted() {
		return uuid.Nil, models.ErrUnauthorized
	}
	if !domain.IsSupportedCurrency(cmd.Currency) {
		return uuid.Nil, fmt.Errorf("%w: %s", models.ErrUnsupportedCurrency, cmd.Currency)
	}
	if !validThresholdType(cmd.ThresholdType) {
		return uuid.Nil, fmt.Errorf("%w: unknown threshold type %q", models.ErrValidation, cmd.ThresholdType)
	}
	if !validAction(cmd.ActionOnHit) {
		return uuid.Nil, fmt.Errorf("%w: unknown action %q", models.ErrValidation, cmd.ActionOnHit)
	}
	id := uuid.New()
	err := s.store.Queries().CreateThreshold(ctx, repository.CreateThresholdParams{
		ID:            repository.ToPgUUID(id),
		ThresholdType: cmd.ThresholdType,
		Currency:      cmd.Currency,
		AmountLimit:   cmd.AmountLimit,
		CountLimit:    cmd.CountLimit,
		WindowMinutes: cmd.WindowMinutes,
		Action:        cmd.ActionOnHit,
		RiskWeight:    cmd.RiskWeight,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("create threshold: %w", err)
	}
	return id, nil
}

type FraudRuleCmd struct {
	Actor       Actor
	RuleType    string
	Name        string
	Params      json.RawMessage
	ActionOnHit string
	RiskWeight  int32
}

// AddFraudRule installs a new active fraud rule. Admin only.
func (s *ComplianceService) AddFraudRule(ctx context.Context, cmd FraudRuleCmd) (uuid.UUID, error) {
	if !cmd.Actor.Trusted() {
		return uuid.Nil, models.ErrUnauthorized
	}
	if cmd.Name == "" {
		return uuid.Nil, fmt.Errorf("%w: rule name is required", models.ErrValidation)
	}
	if !validRuleType(cmd.RuleType) {
		return uuid.Nil, fmt.Errorf("%w: unknown rule type %q", models.ErrValidation, cmd.RuleType)
	}
	if !validAction(cmd.ActionOnHit) {
		return uuid.Nil, fmt.Errorf("%w: unknown action %q", models.ErrValidation, cmd.ActionOnHit)
	}
	params := cmd.Params
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	id := uuid.New()
	err := s.store.Queries().CreateFraudRule(ctx, repository.CreateFraudRuleParams{
		ID:         repository.ToPgUUID(id),
		RuleType:   cmd.RuleType,
		Name:       cmd.Name,
		Params:     params,
		Action:     cmd.ActionOnHit,
		RiskWeight: cmd.RiskWeight,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("create fraud rule: %w", err)
	}
	return id, nil
}

func validThresholdType(t string) bool {
	switch t {
	case domain.ThresholdSingleTransaction, domain.ThresholdDailyVolume,
		domain.ThresholdWeeklyVolume, domain.ThresholdMonthlyVolume,
		domain.ThresholdVelocity, domain.ThresholdStructuring,
		domain.ThresholdRoundAmount, domain.ThresholdNewAccount,
		domain.ThresholdDormantAccount:
		return true
	}
	return false
}

func validRuleType(t string) bool {
	switch t {
	case domain.RuleVelocity, domain.RulePattern, domain.RuleGeographic,
		domain.RuleBehavioral, domain.RuleDevice, domain.RuleRelationship:
		return true
	}
	return false
}

func validAction(a string) bool {
	switch a {
	case domain.ActionFlag, domain.ActionDelay, domain.ActionBlock,
		domain.ActionReport, domain.ActionRequireKYC, domain.ActionRequireSource:
		return true
	}
	return false
}
