package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/domain"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/models"
)

func TestEscrowWalletLifecycle(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	env := newTestEnv(db)
	ctx := context.Background()

	sender := createTestUser(t, db, "traveller", domain.KYCVerified)
	recipient := createTestUser(t, db, "host", domain.KYCVerified)
	senderAcc := createTestAccount(t, db, sender.ID, "TRY", 100_000_000)
	recipientAcc := createTestAccount(t, db, recipient.ID, "TRY", 0)

	result, err := env.escrows.CreateHold(ctx, CreateHoldCmd{
		Actor:            userActor(sender),
		SenderID:         sender.ID,
		RecipientID:      recipient.ID,
		Amount:           40_000_000,
		Currency:         "TRY",
		ReleaseCondition: domain.ReleaseConditionProof,
		FundingSource:    domain.FundingSourceWallet,
	})
	require.NoError(t, err)
	require.Equal(t, domain.EscrowStatusPending, result.Escrow.Status)
	require.Equal(t, domain.FundingStatusCollected, result.Escrow.FundingStatus)

	// Wallet funding debits the sender immediately.
	assert.Equal(t, int64(60_000_000), accountBalance(t, db, senderAcc.ID))
	assert.Equal(t, int64(0), accountBalance(t, db, recipientAcc.ID))

	// Release is locked until proof is verified.
	_, err = env.escrows.ReleaseHold(ctx, ReleaseCmd{Actor: userActor(recipient), EscrowID: result.Escrow.ID})
	require.ErrorIs(t, err, models.ErrProofRequired)

	_, err = env.escrows.RecordProof(ctx, ProofCmd{
		Actor:    userActor(recipient),
		EscrowID: result.Escrow.ID,
		Verified: true,
	})
	require.NoError(t, err)

	released, err := env.escrows.ReleaseHold(ctx, ReleaseCmd{Actor: userActor(recipient), EscrowID: result.Escrow.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusReleased, released.Status)

	escrow, err := env.escrows.Get(ctx, userActor(sender), result.Escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusReleased, escrow.Status)
	assert.NotNil(t, escrow.ReleasedAt)

	assert.Equal(t, int64(60_000_000), accountBalance(t, db, senderAcc.ID))
	assert.Equal(t, int64(40_000_000), accountBalance(t, db, recipientAcc.ID))

	// Second release must fail: the escrow is terminal.
	_, err = env.escrows.ReleaseHold(ctx, ReleaseCmd{Actor: userActor(recipient), EscrowID: result.Escrow.ID})
	require.ErrorIs(t, err, models.ErrInvalidState)
}

func TestEscrowInsufficientFunds(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	env := newTestEnv(db)

	sender := createTestUser(t, db, "broke", domain.KYCVerified)
	recipient := createTestUser(t, db, "host2", domain.KYCVerified)
	createTestAccount(t, db, sender.ID, "TRY", 10_000_000)
	createTestAccount(t, db, recipient.ID, "TRY", 0)

	_, err := env.escrows.CreateHold(context.Background(), CreateHoldCmd{
		Actor:            userActor(sender),
		SenderID:         sender.ID,
		RecipientID:      recipient.ID,
		Amount:           40_000_000,
		Currency:         "TRY",
		ReleaseCondition: domain.ReleaseConditionApproval,
		FundingSource:    domain.FundingSourceWallet,
	})
	require.ErrorIs(t, err, models.ErrInsufficientFunds)
}

func TestEscrowRejectsSelfDealing(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	env := newTestEnv(db)

	u := createTestUser(t, db, "selfish", domain.KYCVerified)
	createTestAccount(t, db, u.ID, "TRY", 100_000_000)

	_, err := env.escrows.CreateHold(context.Background(), CreateHoldCmd{
		Actor:            userActor(u),
		SenderID:         u.ID,
		RecipientID:      u.ID,
		Amount:           10_000_000,
		Currency:         "TRY",
		ReleaseCondition: domain.ReleaseConditionApproval,
		FundingSource:    domain.FundingSourceWallet,
	})
	require.ErrorIs(t, err, models.ErrValidation)
}

func TestEscrowPartialThenFullRefund(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	env := newTestEnv(db)
	ctx := context.Background()

	sender := createTestUser(t, db, "partial-sender", domain.KYCVerified)
	recipient := createTestUser(t, db, "partial-host", domain.KYCVerified)
	senderAcc := createTestAccount(t, db, sender.ID, "TRY", 100_000_000)
	createTestAccount(t, db, recipient.ID, "TRY", 0)

	result, err := env.escrows.CreateHold(ctx, CreateHoldCmd{
		Actor:            userActor(sender),
		SenderID:         sender.ID,
		RecipientID:      recipient.ID,
		Amount:           100_000_000,
		Currency:         "TRY",
		ReleaseCondition: domain.ReleaseConditionApproval,
		FundingSource:    domain.FundingSourceWallet,
	})
	require.NoError(t, err)
	escrowID := result.Escrow.ID

	// Partial refund of 30 with a 5 service fee keeps the escrow open.
	escrow, err := env.escrows.RefundHold(ctx, RefundCmd{
		Actor:      userActor(sender),
		EscrowID:   escrowID,
		Amount:     30_000_000,
		ServiceFee: 5_000_000,
		Reason:     "date shortened",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusPending, escrow.Status)

	assert.Equal(t, int64(30_000_000), accountBalance(t, db, senderAcc.ID))
	feeAcc := uuid.MustParse(domain.FeeAccountTRY)
	assert.Equal(t, int64(5_000_000), accountBalance(t, db, feeAcc))

	current, err := env.escrows.Get(ctx, userActor(sender), escrowID)
	require.NoError(t, err)
	assert.Equal(t, int64(30_000_000), current.RefundedAmount)
	assert.Equal(t, int64(5_000_000), current.ServiceFeeRetained)
	assert.Equal(t, int64(65_000_000), current.Remaining())

	// Refunding everything that remains closes the hold.
	_, err = env.escrows.RefundHold(ctx, RefundCmd{
		Actor:    userActor(sender),
		EscrowID: escrowID,
		Amount:   0, // all remaining
		Reason:   "trip cancelled",
	})
	require.NoError(t, err)

	final, err := env.escrows.Get(ctx, userActor(sender), escrowID)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusRefunded, final.Status)
	assert.Equal(t, int64(0), final.Remaining())
	assert.Equal(t, int64(95_000_000), accountBalance(t, db, senderAcc.ID))

	events, err := env.escrows.RefundHistory(ctx, userActor(sender), escrowID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(30_000_000), events[0].Amount)
	assert.Equal(t, int64(65_000_000), events[1].Amount)
}

func TestEscrowDisputeSplit(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	env := newTestEnv(db)
	ctx := context.Background()

	sender := createTestUser(t, db, "disputer", domain.KYCVerified)
	recipient := createTestUser(t, db, "disputed", domain.KYCVerified)
	senderAcc := createTestAccount(t, db, sender.ID, "TRY", 100_000_000)
	recipientAcc := createTestAccount(t, db, recipient.ID, "TRY", 0)

	result, err := env.escrows.CreateHold(ctx, CreateHoldCmd{
		Actor:            userActor(sender),
		SenderID:         sender.ID,
		RecipientID:      recipient.ID,
		Amount:           100_000_000,
		Currency:         "TRY",
		ReleaseCondition: domain.ReleaseConditionApproval,
		FundingSource:    domain.FundingSourceWallet,
	})
	require.NoError(t, err)
	escrowID := result.Escrow.ID

	_, err = env.escrows.OpenDispute(ctx, DisputeCmd{
		Actor:    userActor(sender),
		EscrowID: escrowID,
		Reason:   "service not as described",
	})
	require.NoError(t, err)

	// Disputed escrows cannot be released.
	_, err = env.escrows.ReleaseHold(ctx, ReleaseCmd{Actor: adminActor(), EscrowID: escrowID})
	require.ErrorIs(t, err, models.ErrInvalidState)

	// Only admins resolve.
	_, err = env.escrows.ResolveDispute(ctx, ResolveDisputeCmd{
		Actor:      userActor(sender),
		EscrowID:   escrowID,
		Resolution: domain.ResolutionSplit,
	})
	require.ErrorIs(t, err, models.ErrUnauthorized)

	_, err = env.escrows.ResolveDispute(ctx, ResolveDisputeCmd{
		Actor:       adminActor(),
		EscrowID:    escrowID,
		Resolution:  domain.ResolutionSplit,
		SenderShare: 40_000_000,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(40_000_000), accountBalance(t, db, senderAcc.ID))
	assert.Equal(t, int64(60_000_000), accountBalance(t, db, recipientAcc.ID))

	final, err := env.escrows.Get(ctx, userActor(sender), escrowID)
	require.NoError(t, err)
	assert.Equal(t, domain.ResolutionSplit, final.Dispute.Resolution)
}

func TestEscrowReleaseAfterExpiry(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	env := newTestEnv(db)
	ctx := context.Background()

	sender := createTestUser(t, db, "late-sender", domain.KYCVerified)
	recipient := createTestUser(t, db, "late-host", domain.KYCVerified)
	createTestAccount(t, db, sender.ID, "TRY", 50_000_000)
	createTestAccount(t, db, recipient.ID, "TRY", 0)

	result, err := env.escrows.CreateHold(ctx, CreateHoldCmd{
		Actor:            userActor(sender),
		SenderID:         sender.ID,
		RecipientID:      recipient.ID,
		Amount:           50_000_000,
		Currency:         "TRY",
		ReleaseCondition: domain.ReleaseConditionProof,
		FundingSource:    domain.FundingSourceWallet,
	})
	require.NoError(t, err)

	_, err = env.escrows.RecordProof(ctx, ProofCmd{
		Actor:    userActor(recipient),
		EscrowID: result.Escrow.ID,
		Verified: true,
	})
	require.NoError(t, err)

	backdateEscrowExpiry(t, db, result.Escrow.ID, time.Hour)

	_, err = env.escrows.ReleaseHold(ctx, ReleaseCmd{Actor: userActor(recipient), EscrowID: result.Escrow.ID})
	require.ErrorIs(t, err, models.ErrExpired)
}

func TestEscrowConcurrentReleaseRefundOneWinner(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	env := newTestEnv(db)
	ctx := context.Background()

	sender := createTestUser(t, db, "race-sender", domain.KYCVerified)
	recipient := createTestUser(t, db, "race-host", domain.KYCVerified)
	senderAcc := createTestAccount(t, db, sender.ID, "TRY", 80_000_000)
	recipientAcc := createTestAccount(t, db, recipient.ID, "TRY", 0)

	result, err := env.escrows.CreateHold(ctx, CreateHoldCmd{
		Actor:            userActor(sender),
		SenderID:         sender.ID,
		RecipientID:      recipient.ID,
		Amount:           80_000_000,
		Currency:         "TRY",
		ReleaseCondition: domain.ReleaseConditionProof,
		FundingSource:    domain.FundingSourceWallet,
	})
	require.NoError(t, err)
	escrowID := result.Escrow.ID

	_, err = env.escrows.RecordProof(ctx, ProofCmd{
		Actor:    userActor(recipient),
		EscrowID: escrowID,
		Verified: true,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var releaseErr, refundErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, releaseErr = env.escrows.ReleaseHold(ctx, ReleaseCmd{Actor: userActor(recipient), EscrowID: escrowID})
	}()
	go func() {
		defer wg.Done()
		_, refundErr = env.escrows.RefundHold(ctx, RefundCmd{
			Actor:    userActor(sender),
			EscrowID: escrowID,
			Reason:   "changed my mind",
		})
	}()
	wg.Wait()

	// Exactly one side must win; the row lock serializes them and the
	// loser sees a terminal status.
	if releaseErr == nil {
		require.ErrorIs(t, refundErr, models.ErrInvalidState)
		assert.Equal(t, int64(80_000_000), accountBalance(t, db, recipientAcc.ID))
		assert.Equal(t, int64(0), accountBalance(t, db, senderAcc.ID))
	} else {
		require.NoError(t, refundErr)
		require.ErrorIs(t, releaseErr, models.ErrInvalidState)
		assert.Equal(t, int64(80_000_000), accountBalance(t, db, senderAcc.ID))
		assert.Equal(t, int64(0), accountBalance(t, db, recipientAcc.ID))
	}
}

func TestEscrowSweeps(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	env := newTestEnv(db)
	ctx := context.Background()

	sender := createTestUser(t, db, "sweep-sender", domain.KYCVerified)
	recipient := createTestUser(t, db, "sweep-host", domain.KYCVerified)
	senderAcc := createTestAccount(t, db, sender.ID, "TRY", 90_000_000)
	recipientAcc := createTestAccount(t, db, recipient.ID, "TRY", 0)

	// Hold A: proof verified long ago, approval window elapsed.
	holdA, err := env.escrows.CreateHold(ctx, CreateHoldCmd{
		Actor:            userActor(sender),
		SenderID:         sender.ID,
		RecipientID:      recipient.ID,
		Amount:           30_000_000,
		Currency:         "TRY",
		ReleaseCondition: domain.ReleaseConditionProof,
		FundingSource:    domain.FundingSourceWallet,
	})
	require.NoError(t, err)
	_, err = env.escrows.RecordProof(ctx, ProofCmd{Actor: userActor(recipient), EscrowID: holdA.Escrow.ID, Verified: true})
	require.NoError(t, err)
	backdateProofVerification(t, db, holdA.Escrow.ID, 80*time.Hour)

	// Hold B: expired without proof.
	holdB, err := env.escrows.CreateHold(ctx, CreateHoldCmd{
		Actor:            userActor(sender),
		SenderID:         sender.ID,
		RecipientID:      recipient.ID,
		Amount:           20_000_000,
		Currency:         "TRY",
		ReleaseCondition: domain.ReleaseConditionProof,
		FundingSource:    domain.FundingSourceWallet,
	})
	require.NoError(t, err)
	backdateEscrowExpiry(t, db, holdB.Escrow.ID, time.Hour)

	// Hold C: still live, must be untouched by both sweeps.
	holdC, err := env.escrows.CreateHold(ctx, CreateHoldCmd{
		Actor:            userActor(sender),
		SenderID:         sender.ID,
		RecipientID:      recipient.ID,
		Amount:           10_000_000,
		Currency:         "TRY",
		ReleaseCondition: domain.ReleaseConditionProof,
		FundingSource:    domain.FundingSourceWallet,
	})
	require.NoError(t, err)

	released, err := env.escrows.AutoRelease(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	refunded, err := env.escrows.AutoRefund(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, refunded)

	a, err := env.escrows.Get(ctx, userActor(sender), holdA.Escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusReleased, a.Status)

	b, err := env.escrows.Get(ctx, userActor(sender), holdB.Escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusRefunded, b.Status)

	c, err := env.escrows.Get(ctx, userActor(sender), holdC.Escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusPending, c.Status)

	// 90 seeded - 30 released - 10 still held = 50 back with the sender.
	assert.Equal(t, int64(50_000_000), accountBalance(t, db, senderAcc.ID))
	assert.Equal(t, int64(30_000_000), accountBalance(t, db, recipientAcc.ID))
}

func TestEscrowDisputeSplitConcurrentWithTransfers(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	env := newTestEnv(db)
	ctx := context.Background()

	sender := createTestUser(t, db, "split-race-sender", domain.KYCVerified)
	recipient := createTestUser(t, db, "split-race-host", domain.KYCVerified)
	senderAcc := createTestAccount(t, db, sender.ID, "TRY", 100_000_000)
	recipientAcc := createTestAccount(t, db, recipient.ID, "TRY", 50_000_000)

	result, err := env.escrows.CreateHold(ctx, CreateHoldCmd{
		Actor:            userActor(sender),
		SenderID:         sender.ID,
		RecipientID:      recipient.ID,
		Amount:           60_000_000,
		Currency:         "TRY",
		ReleaseCondition: domain.ReleaseConditionApproval,
		FundingSource:    domain.FundingSourceWallet,
	})
	require.NoError(t, err)
	escrowID := result.Escrow.ID

	_, err = env.escrows.OpenDispute(ctx, DisputeCmd{
		Actor:    userActor(sender),
		EscrowID: escrowID,
		Reason:   "item not delivered",
	})
	require.NoError(t, err)

	// Money moving the opposite direction while the split settles: both
	// paths take the pair's account locks in canonical order, so neither
	// can deadlock the other.
	var wg sync.WaitGroup
	var resolveErr error
	transferErrs := make([]error, 5)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, resolveErr = env.escrows.ResolveDispute(ctx, ResolveDisputeCmd{
			Actor:       adminActor(),
			EscrowID:    escrowID,
			Resolution:  domain.ResolutionSplit,
			SenderShare: 20_000_000,
		})
	}()
	go func() {
		defer wg.Done()
		for i := range transferErrs {
			_, transferErrs[i] = env.ledger.Transfer(ctx, TransferCmd{
				Actor:      userActor(recipient),
				FromUserID: recipient.ID,
				ToUserID:   sender.ID,
				Amount:     2_000_000,
				Currency:   "TRY",
				Kind:       domain.EntryPayment,
			})
		}
	}()
	wg.Wait()

	require.NoError(t, resolveErr)
	for _, err := range transferErrs {
		require.NoError(t, err)
	}

	// 100 seeded - 60 held + 20 split share + 10 transferred in.
	assert.Equal(t, int64(70_000_000), accountBalance(t, db, senderAcc.ID))
	// 50 seeded + 40 split remainder - 10 transferred out.
	assert.Equal(t, int64(80_000_000), accountBalance(t, db, recipientAcc.ID))
}

func TestEscrowSweepSkipsLockedRows(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	env := newTestEnv(db)
	ctx := context.Background()

	sender := createTestUser(t, db, "sweep-lock-sender", domain.KYCVerified)
	recipient := createTestUser(t, db, "sweep-lock-host", domain.KYCVerified)
	createTestAccount(t, db, sender.ID, "TRY", 100_000_000)
	recipientAcc := createTestAccount(t, db, recipient.ID, "TRY", 0)

	var holds []*HoldResult
	for i := 0; i < 2; i++ {
		hold, err := env.escrows.CreateHold(ctx, CreateHoldCmd{
			Actor:            userActor(sender),
			SenderID:         sender.ID,
			RecipientID:      recipient.ID,
			Amount:           30_000_000,
			Currency:         "TRY",
			ReleaseCondition: domain.ReleaseConditionProof,
			FundingSource:    domain.FundingSourceWallet,
		})
		require.NoError(t, err)
		_, err = env.escrows.RecordProof(ctx, ProofCmd{
			Actor:    userActor(recipient),
			EscrowID: hold.Escrow.ID,
			Verified: true,
		})
		require.NoError(t, err)
		backdateProofVerification(t, db, hold.Escrow.ID, 80*time.Hour)
		holds = append(holds, hold)
	}

	// Another worker holds the first candidate's row lock; the sweep must
	// still settle the second one instead of stalling the whole batch.
	tx, err := db.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Exec(ctx, `SELECT id FROM escrows WHERE id = $1 FOR UPDATE`, holds[0].Escrow.ID)
	require.NoError(t, err)

	released, err := env.escrows.AutoRelease(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	first, err := env.escrows.Get(ctx, userActor(sender), holds[0].Escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusPending, first.Status)
	second, err := env.escrows.Get(ctx, userActor(sender), holds[1].Escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusReleased, second.Status)

	require.NoError(t, tx.Rollback(ctx))

	released, err = env.escrows.AutoRelease(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	first, err = env.escrows.Get(ctx, userActor(sender), holds[0].Escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusReleased, first.Status)
	assert.Equal(t, int64(60_000_000), accountBalance(t, db, recipientAcc.ID))
}
