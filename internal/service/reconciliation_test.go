package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/domain"
)

func TestReconciliationCleanAfterLifecycle(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	env := newTestEnv(db)
	ctx := context.Background()

	sender := createTestUser(t, db, "recon-sender", domain.KYCVerified)
	recipient := createTestUser(t, db, "recon-recipient", domain.KYCVerified)
	createTestAccount(t, db, sender.ID, "TRY", 200_000_000)
	createTestAccount(t, db, recipient.ID, "TRY", 0)

	result, err := env.escrows.CreateHold(ctx, CreateHoldCmd{
		Actor:            userActor(sender),
		SenderID:         sender.ID,
		RecipientID:      recipient.ID,
		Amount:           120_000_000,
		Currency:         "TRY",
		ReleaseCondition: domain.ReleaseConditionApproval,
		FundingSource:    domain.FundingSourceWallet,
	})
	require.NoError(t, err)

	// Partially refund with a retained fee, then release the rest. Every
	// micro should be accounted for afterwards.
	_, err = env.escrows.RefundHold(ctx, RefundCmd{
		Actor:      adminActor(),
		EscrowID:   result.Escrow.ID,
		Amount:     40_000_000,
		ServiceFee: 2_000_000,
		Reason:     "partial cancellation",
	})
	require.NoError(t, err)

	_, err = env.escrows.RecordProof(ctx, ProofCmd{Actor: userActor(recipient), EscrowID: result.Escrow.ID, Verified: true})
	require.NoError(t, err)
	_, err = env.escrows.ReleaseHold(ctx, ReleaseCmd{Actor: userActor(recipient), EscrowID: result.Escrow.ID})
	require.NoError(t, err)

	report, err := env.reconciliation.Run(ctx)
	require.NoError(t, err)
	assert.True(t, report.Clean())
	assert.Empty(t, report.AccountDrift)
	assert.Empty(t, report.Imbalances)
}

func TestReconciliationDetectsDrift(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	env := newTestEnv(db)
	ctx := context.Background()

	user := createTestUser(t, db, "drift-user", domain.KYCVerified)
	acc := createTestAccount(t, db, user.ID, "TRY", 50_000_000)

	clean, err := env.reconciliation.Run(ctx)
	require.NoError(t, err)
	require.True(t, clean.Clean())

	// Corrupt the balance behind the ledger's back.
	_, err = db.Exec(ctx, "UPDATE accounts SET balance = balance + 7000000 WHERE id = $1", acc.ID)
	require.NoError(t, err)

	report, err := env.reconciliation.Run(ctx)
	require.NoError(t, err)
	assert.False(t, report.Clean())
	require.Len(t, report.AccountDrift, 1)
	drift := report.AccountDrift[0]
	assert.Equal(t, int64(57_000_000), drift.Balance)
	assert.Equal(t, int64(50_000_000), drift.EntrySum)
	// Phantom money also breaks per-currency conservation.
	require.Len(t, report.Imbalances, 1)
	assert.Equal(t, "TRY", report.Imbalances[0].Currency)
	assert.Equal(t, int64(7_000_000), report.Imbalances[0].Net)
}
