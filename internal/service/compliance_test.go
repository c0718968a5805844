package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/domain"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/models"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/repository"
)

// addOutgoingEntry seeds ledger history for window-based checks.
func addOutgoingEntry(t *testing.T, db *pgxpool.Pool, accountID, userID uuid.UUID, amount int64) {
	t.Helper()
	queries := repository.New(db)
	_, err := queries.CreateLedgerEntry(context.Background(), repository.CreateLedgerEntryParams{
		ID:        repository.ToPgUUID(uuid.New()),
		AccountID: repository.ToPgUUID(accountID),
		Amount:    -amount,
		Type:      domain.EntryPayment,
		ActorID:   repository.ToPgUUID(userID),
	})
	require.NoError(t, err)
}

func TestComplianceSingleTransactionThreshold(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	env := newTestEnv(db)
	ctx := context.Background()

	user := createTestUser(t, db, "threshold-user", domain.KYCVerified)
	other := createTestUser(t, db, "threshold-other", domain.KYCVerified)
	createTestAccount(t, db, user.ID, "TRY", 1_000_000_000)

	_, err := env.compliance.AddThreshold(ctx, ThresholdCmd{
		Actor:         adminActor(),
		ThresholdType: domain.ThresholdSingleTransaction,
		Currency:      "TRY",
		AmountLimit:   50_000_000,
		ActionOnHit:   domain.ActionBlock,
		RiskWeight:    25,
	})
	require.NoError(t, err)

	blocked, err := env.compliance.Evaluate(ctx, EvaluateInput{
		UserID:          user.ID,
		CounterpartyID:  &other.ID,
		Amount:          60_000_000,
		Currency:        "TRY",
		TransactionType: domain.EntryPayment,
	})
	require.NoError(t, err)
	assert.False(t, blocked.Allowed)
	assert.Contains(t, blocked.BlockReasons, "threshold:single_transaction")
	assert.Equal(t, 25, blocked.RiskScore)

	allowed, err := env.compliance.Evaluate(ctx, EvaluateInput{
		UserID:          user.ID,
		CounterpartyID:  &other.ID,
		Amount:          40_000_000,
		Currency:        "TRY",
		TransactionType: domain.EntryPayment,
	})
	require.NoError(t, err)
	assert.True(t, allowed.Allowed)
	assert.Empty(t, allowed.BlockReasons)
}

func TestComplianceVelocityFilesReport(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	env := newTestEnv(db)
	ctx := context.Background()

	user := createTestUser(t, db, "velocity-user", domain.KYCVerified)
	acc := createTestAccount(t, db, user.ID, "TRY", 1_000_000_000)

	_, err := env.compliance.AddThreshold(ctx, ThresholdCmd{
		Actor:         adminActor(),
		ThresholdType: domain.ThresholdVelocity,
		Currency:      "TRY",
		CountLimit:    2,
		WindowMinutes: 60,
		ActionOnHit:   domain.ActionReport,
		RiskWeight:    15,
	})
	require.NoError(t, err)

	addOutgoingEntry(t, db, acc.ID, user.ID, 10_000_000)
	addOutgoingEntry(t, db, acc.ID, user.ID, 10_000_000)

	// Third transaction in the window exceeds the count limit: still
	// allowed, but flagged for review and a report is filed in the same
	// transaction.
	d, err := env.compliance.Evaluate(ctx, EvaluateInput{
		UserID:          user.ID,
		Amount:          10_000_000,
		Currency:        "TRY",
		TransactionType: domain.EntryPayment,
	})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.True(t, d.RequiresReview)
	assert.Contains(t, d.TriggeredRules, "threshold:velocity")

	reports, err := env.reports.List(ctx, adminActor(), domain.SARStatusPending, 10, 0)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, user.ID, reports[0].UserID)
	assert.Contains(t, reports[0].TriggeredRules, "threshold:velocity")
}

func TestComplianceStructuring(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	env := newTestEnv(db)
	ctx := context.Background()

	user := createTestUser(t, db, "structuring-user", domain.KYCVerified)
	acc := createTestAccount(t, db, user.ID, "TRY", 100_000_000_000)

	_, err := env.compliance.AddThreshold(ctx, ThresholdCmd{
		Actor:         adminActor(),
		ThresholdType: domain.ThresholdStructuring,
		Currency:      "TRY",
		AmountLimit:   10_000_000_000, // 10,000 TRY reporting line
		CountLimit:    3,
		WindowMinutes: 24 * 60,
		ActionOnHit:   domain.ActionBlock,
		RiskWeight:    40,
	})
	require.NoError(t, err)

	// Two prior just-under-the-line transfers inside the window.
	addOutgoingEntry(t, db, acc.ID, user.ID, 9_000_000_000)
	addOutgoingEntry(t, db, acc.ID, user.ID, 9_500_000_000)

	// Amount outside the +/-20% band is not structuring.
	small, err := env.compliance.Evaluate(ctx, EvaluateInput{
		UserID:          user.ID,
		Amount:          1_000_000_000,
		Currency:        "TRY",
		TransactionType: domain.EntryPayment,
	})
	require.NoError(t, err)
	assert.True(t, small.Allowed)

	// The third in-band transaction meets the count and is blocked.
	d, err := env.compliance.Evaluate(ctx, EvaluateInput{
		UserID:          user.ID,
		Amount:          9_800_000_000,
		Currency:        "TRY",
		TransactionType: domain.EntryPayment,
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.BlockReasons, "threshold:structuring")
}

func TestComplianceBlockedProfile(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	env := newTestEnv(db)
	ctx := context.Background()

	user := createTestUser(t, db, "blocked-user", domain.KYCVerified)
	createTestAccount(t, db, user.ID, "TRY", 100_000_000)

	require.NoError(t, env.compliance.SetBlocked(ctx, BlockUserCmd{
		Actor:  adminActor(),
		UserID: user.ID,
		Block:  true,
		Reason: "manual review",
	}))

	d, err := env.compliance.Evaluate(ctx, EvaluateInput{
		UserID:          user.ID,
		Amount:          1_000_000,
		Currency:        "TRY",
		TransactionType: domain.EntryPayment,
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.BlockReasons, "manual review")

	// A block reason is mandatory.
	err = env.compliance.SetBlocked(ctx, BlockUserCmd{
		Actor:  adminActor(),
		UserID: user.ID,
		Block:  true,
	})
	require.ErrorIs(t, err, models.ErrValidation)

	require.NoError(t, env.compliance.SetBlocked(ctx, BlockUserCmd{
		Actor:  adminActor(),
		UserID: user.ID,
		Block:  false,
	}))

	d, err = env.compliance.Evaluate(ctx, EvaluateInput{
		UserID:          user.ID,
		Amount:          1_000_000,
		Currency:        "TRY",
		TransactionType: domain.EntryPayment,
	})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestComplianceRequireKYCDeferred(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	env := newTestEnv(db)
	ctx := context.Background()

	unverified := createTestUser(t, db, "kyc-unverified", domain.KYCUnverified)
	verified := createTestUser(t, db, "kyc-verified", domain.KYCVerified)
	createTestAccount(t, db, unverified.ID, "TRY", 1_000_000_000)
	createTestAccount(t, db, verified.ID, "TRY", 1_000_000_000)

	_, err := env.compliance.AddThreshold(ctx, ThresholdCmd{
		Actor:         adminActor(),
		ThresholdType: domain.ThresholdSingleTransaction,
		Currency:      "TRY",
		AmountLimit:   100_000_000,
		ActionOnHit:   domain.ActionRequireKYC,
		RiskWeight:    10,
	})
	require.NoError(t, err)

	// The threshold only bites for users who are not verified.
	d, err := env.compliance.Evaluate(ctx, EvaluateInput{
		UserID:          unverified.ID,
		Amount:          200_000_000,
		Currency:        "TRY",
		TransactionType: domain.EntryPayment,
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.True(t, d.RequiresKYC)
	assert.Contains(t, d.BlockReasons, "identity verification required")

	d, err = env.compliance.Evaluate(ctx, EvaluateInput{
		UserID:          verified.ID,
		Amount:          200_000_000,
		Currency:        "TRY",
		TransactionType: domain.EntryPayment,
	})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.False(t, d.RequiresKYC)
}

func TestComplianceNewAccountCap(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	store := repository.NewStore(db)
	reports := NewReportService(store)
	// 100 TRY lifetime cap for day-old accounts.
	compliance := NewComplianceService(store, NewStoreKYCProvider(store), NewMockExchangeRateService(), reports, 100_000_000)
	ctx := context.Background()

	fresh := createTestUser(t, db, "fresh-user", domain.KYCVerified)
	createTestAccount(t, db, fresh.ID, "TRY", 1_000_000_000)

	d, err := compliance.Evaluate(ctx, EvaluateInput{
		UserID:          fresh.ID,
		Amount:          150_000_000,
		Currency:        "TRY",
		TransactionType: domain.EntryPayment,
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.BlockReasons, "new account lifetime limit exceeded")
	assert.Contains(t, d.TriggeredRules, "threshold:new_account")

	// USD converts into the reference currency before comparison.
	createTestAccount(t, db, fresh.ID, "USD", 1_000_000_000)
	d, err = compliance.Evaluate(ctx, EvaluateInput{
		UserID:          fresh.ID,
		Amount:          10_000_000, // 10 USD == 410 TRY at the mock rate
		Currency:        "USD",
		TransactionType: domain.EntryPayment,
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	// Aged accounts are no longer subject to the cap.
	backdateUser(t, db, fresh.ID, 25*time.Hour)
	d, err = compliance.Evaluate(ctx, EvaluateInput{
		UserID:          fresh.ID,
		Amount:          150_000_000,
		Currency:        "TRY",
		TransactionType: domain.EntryPayment,
	})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestComplianceSelfDealing(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	env := newTestEnv(db)

	user := createTestUser(t, db, "self-user", domain.KYCVerified)
	createTestAccount(t, db, user.ID, "TRY", 100_000_000)

	d, err := env.compliance.Evaluate(context.Background(), EvaluateInput{
		UserID:          user.ID,
		CounterpartyID:  &user.ID,
		Amount:          10_000_000,
		Currency:        "TRY",
		TransactionType: domain.EntryPayment,
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.BlockReasons, "sender and recipient are the same user")
}

func TestComplianceFraudRules(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	env := newTestEnv(db)
	ctx := context.Background()

	user := createTestUser(t, db, "rules-user", domain.KYCVerified)
	other := createTestUser(t, db, "rules-other", domain.KYCVerified)
	createTestAccount(t, db, user.ID, "TRY", 100_000_000_000)
	createTestAccount(t, db, other.ID, "TRY", 0)

	roundParams, _ := json.Marshal(map[string]any{"round_to": 1_000_000_000})
	_, err := env.compliance.AddFraudRule(ctx, FraudRuleCmd{
		Actor:       adminActor(),
		RuleType:    domain.RulePattern,
		Name:        "round_amounts",
		Params:      roundParams,
		ActionOnHit: domain.ActionFlag,
		RiskWeight:  20,
	})
	require.NoError(t, err)

	relParams, _ := json.Marshal(map[string]any{"max_repeat": 2, "window_minutes": 60})
	_, err = env.compliance.AddFraudRule(ctx, FraudRuleCmd{
		Actor:       adminActor(),
		RuleType:    domain.RuleRelationship,
		Name:        "repeat_counterparty",
		Params:      relParams,
		ActionOnHit: domain.ActionBlock,
		RiskWeight:  30,
	})
	require.NoError(t, err)

	// A suspiciously round amount is flagged but not blocked, and its
	// weight accrues on the profile.
	d, err := env.compliance.Evaluate(ctx, EvaluateInput{
		UserID:          user.ID,
		CounterpartyID:  &other.ID,
		Amount:          5_000_000_000,
		Currency:        "TRY",
		TransactionType: domain.EntryPayment,
	})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Contains(t, d.TriggeredRules, "rule:round_amounts")
	assert.Equal(t, 20, d.RiskScore)

	profile, err := env.compliance.GetProfile(ctx, adminActor(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, profile.RiskScore)

	// Two escrows toward the same counterparty are fine; the third in the
	// window trips the relationship rule.
	for i := 0; i < 2; i++ {
		_, err := env.escrows.CreateHold(ctx, CreateHoldCmd{
			Actor:            userActor(user),
			SenderID:         user.ID,
			RecipientID:      other.ID,
			Amount:           3_000_000,
			Currency:         "TRY",
			ReleaseCondition: domain.ReleaseConditionApproval,
			FundingSource:    domain.FundingSourceWallet,
		})
		require.NoError(t, err)
	}
	_, err = env.escrows.CreateHold(ctx, CreateHoldCmd{
		Actor:            userActor(user),
		SenderID:         user.ID,
		RecipientID:      other.ID,
		Amount:           3_000_000,
		Currency:         "TRY",
		ReleaseCondition: domain.ReleaseConditionApproval,
		FundingSource:    domain.FundingSourceWallet,
	})
	var rejection *ComplianceRejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Contains(t, rejection.Reasons, "rule:repeat_counterparty")
}

func TestComplianceSpendAggregatesFollowSettlement(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	env := newTestEnv(db)
	ctx := context.Background()

	sender := createTestUser(t, db, "agg-sender", domain.KYCVerified)
	recipient := createTestUser(t, db, "agg-host", domain.KYCVerified)
	createTestAccount(t, db, sender.ID, "TRY", 30_000_000)
	createTestAccount(t, db, recipient.ID, "TRY", 0)

	// Evaluation passes but the debit fails: the lifetime aggregates must
	// stay untouched because no money moved.
	_, err := env.escrows.CreateHold(ctx, CreateHoldCmd{
		Actor:            userActor(sender),
		SenderID:         sender.ID,
		RecipientID:      recipient.ID,
		Amount:           50_000_000,
		Currency:         "TRY",
		ReleaseCondition: domain.ReleaseConditionApproval,
		FundingSource:    domain.FundingSourceWallet,
	})
	require.ErrorIs(t, err, models.ErrInsufficientFunds)

	profile, err := env.compliance.GetProfile(ctx, adminActor(), sender.ID)
	require.NoError(t, err)
	assert.Zero(t, profile.TotalSentMicros)
	assert.Zero(t, profile.TransactionCount)

	// A settled hold bumps them exactly once.
	_, err = env.escrows.CreateHold(ctx, CreateHoldCmd{
		Actor:            userActor(sender),
		SenderID:         sender.ID,
		RecipientID:      recipient.ID,
		Amount:           20_000_000,
		Currency:         "TRY",
		ReleaseCondition: domain.ReleaseConditionApproval,
		FundingSource:    domain.FundingSourceWallet,
	})
	require.NoError(t, err)

	profile, err = env.compliance.GetProfile(ctx, adminActor(), sender.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(20_000_000), profile.TotalSentMicros)
	assert.Equal(t, int64(1), profile.TransactionCount)
}
