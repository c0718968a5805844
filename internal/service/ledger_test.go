package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/domain"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/gateway"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/models"
)

func TestTransferHappyPath(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	env := newTestEnv(db)
	ctx := context.Background()

	from := createTestUser(t, db, "transfer-from", domain.KYCVerified)
	to := createTestUser(t, db, "transfer-to", domain.KYCVerified)
	fromAcc := createTestAccount(t, db, from.ID, "TRY", 100_000_000)
	toAcc := createTestAccount(t, db, to.ID, "TRY", 0)

	res, err := env.ledger.Transfer(ctx, TransferCmd{
		Actor:      userActor(from),
		FromUserID: from.ID,
		ToUserID:   to.ID,
		Amount:     35_000_000,
		Currency:   "TRY",
		Kind:       domain.EntryPayment,
	})
	require.NoError(t, err)
	assert.Equal(t, "completed", res.Status)
	require.NotNil(t, res.Decision)
	assert.True(t, res.Decision.Allowed)

	assert.Equal(t, int64(65_000_000), accountBalance(t, db, fromAcc.ID))
	assert.Equal(t, int64(35_000_000), accountBalance(t, db, toAcc.ID))

	// Gifts move money the same way under their own entry type.
	_, err = env.ledger.Transfer(ctx, TransferCmd{
		Actor:      userActor(from),
		FromUserID: from.ID,
		ToUserID:   to.ID,
		Amount:     5_000_000,
		Currency:   "TRY",
		Kind:       domain.EntryGift,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(60_000_000), accountBalance(t, db, fromAcc.ID))

	entries, err := env.accounts.Statement(ctx, userActor(from), fromAcc.ID, 10, 0)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, domain.EntryGift, entries[0].Type)
}

func TestTransferGuards(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	env := newTestEnv(db)
	ctx := context.Background()

	from := createTestUser(t, db, "guard-from", domain.KYCVerified)
	to := createTestUser(t, db, "guard-to", domain.KYCVerified)
	fromAcc := createTestAccount(t, db, from.ID, "TRY", 10_000_000)
	createTestAccount(t, db, to.ID, "TRY", 0)

	// More than the wallet holds.
	_, err := env.ledger.Transfer(ctx, TransferCmd{
		Actor:      userActor(from),
		FromUserID: from.ID,
		ToUserID:   to.ID,
		Amount:     20_000_000,
		Currency:   "TRY",
		Kind:       domain.EntryPayment,
	})
	require.ErrorIs(t, err, models.ErrInsufficientFunds)
	assert.Equal(t, int64(10_000_000), accountBalance(t, db, fromAcc.ID))

	// Only the sender or an admin may move the sender's money.
	_, err = env.ledger.Transfer(ctx, TransferCmd{
		Actor:      userActor(to),
		FromUserID: from.ID,
		ToUserID:   to.ID,
		Amount:     1_000_000,
		Currency:   "TRY",
		Kind:       domain.EntryPayment,
	})
	require.ErrorIs(t, err, models.ErrUnauthorized)

	_, err = env.ledger.Transfer(ctx, TransferCmd{
		Actor:      userActor(from),
		FromUserID: from.ID,
		ToUserID:   to.ID,
		Amount:     1_000_000,
		Currency:   "XAU",
		Kind:       domain.EntryPayment,
	})
	require.ErrorIs(t, err, models.ErrUnsupportedCurrency)
}

func TestTransferComplianceRejection(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	env := newTestEnv(db)
	ctx := context.Background()

	from := createTestUser(t, db, "rejected-from", domain.KYCVerified)
	to := createTestUser(t, db, "rejected-to", domain.KYCVerified)
	fromAcc := createTestAccount(t, db, from.ID, "TRY", 500_000_000)
	createTestAccount(t, db, to.ID, "TRY", 0)

	_, err := env.compliance.AddThreshold(ctx, ThresholdCmd{
		Actor:         adminActor(),
		ThresholdType: domain.ThresholdSingleTransaction,
		Currency:      "TRY",
		AmountLimit:   100_000_000,
		ActionOnHit:   domain.ActionBlock,
		RiskWeight:    25,
	})
	require.NoError(t, err)

	_, err = env.ledger.Transfer(ctx, TransferCmd{
		Actor:      userActor(from),
		FromUserID: from.ID,
		ToUserID:   to.ID,
		Amount:     200_000_000,
		Currency:   "TRY",
		Kind:       domain.EntryPayment,
	})
	var rejection *ComplianceRejectionError
	require.ErrorAs(t, err, &rejection)
	require.ErrorIs(t, err, models.ErrComplianceRejected)
	assert.Contains(t, rejection.Reasons, "threshold:single_transaction")
	// The rejection happened before any ledger write.
	assert.Equal(t, int64(500_000_000), accountBalance(t, db, fromAcc.ID))
}

func TestDepositAndWithdraw(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	env := newTestEnv(db)
	ctx := context.Background()

	user := createTestUser(t, db, "cash-user", domain.KYCVerified)
	acc := createTestAccount(t, db, user.ID, "TRY", 0)

	_, err := env.ledger.Deposit(ctx, DepositCmd{
		Actor:     userActor(user),
		AccountID: acc.ID,
		Amount:    80_000_000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(80_000_000), accountBalance(t, db, acc.ID))

	_, err = env.ledger.Withdraw(ctx, WithdrawCmd{
		Actor:       userActor(user),
		AccountID:   acc.ID,
		Amount:      30_000_000,
		Destination: "TR330006100519786457841326",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(50_000_000), accountBalance(t, db, acc.ID))

	// Overdraft attempt leaves the balance alone.
	_, err = env.ledger.Withdraw(ctx, WithdrawCmd{
		Actor:       userActor(user),
		AccountID:   acc.ID,
		Amount:      60_000_000,
		Destination: "TR330006100519786457841326",
	})
	require.ErrorIs(t, err, models.ErrInsufficientFunds)
	assert.Equal(t, int64(50_000_000), accountBalance(t, db, acc.ID))

	_, err = env.ledger.Deposit(ctx, DepositCmd{
		Actor:     userActor(user),
		AccountID: acc.ID,
		Amount:    -1,
	})
	require.ErrorIs(t, err, models.ErrValidation)
}

func TestAccountOpenAndStatement(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	env := newTestEnv(db)
	ctx := context.Background()

	user := createTestUser(t, db, "acct-user", domain.KYCVerified)

	acc, err := env.accounts.Open(ctx, OpenAccountCmd{
		Actor:    userActor(user),
		UserID:   user.ID,
		Currency: "EUR",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), acc.Balance)

	// One account per user and currency.
	_, err = env.accounts.Open(ctx, OpenAccountCmd{
		Actor:    userActor(user),
		UserID:   user.ID,
		Currency: "EUR",
	})
	require.ErrorIs(t, err, models.ErrValidation)

	// Users cannot read other users' accounts.
	stranger := createTestUser(t, db, "acct-stranger", domain.KYCVerified)
	_, err = env.accounts.Get(ctx, userActor(stranger), acc.ID)
	require.ErrorIs(t, err, models.ErrUnauthorized)

	got, err := env.accounts.Get(ctx, adminActor(), acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "EUR", got.Currency)
}

func TestTransferConcurrentOppositeDirections(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	env := newTestEnv(db)
	ctx := context.Background()

	alice := createTestUser(t, db, "deadlock-alice", domain.KYCVerified)
	bob := createTestUser(t, db, "deadlock-bob", domain.KYCVerified)
	aliceAcc := createTestAccount(t, db, alice.ID, "TRY", 100_000_000)
	bobAcc := createTestAccount(t, db, bob.ID, "TRY", 100_000_000)

	// Opposing transfers hammer the same account pair from both sides;
	// canonical lock ordering keeps them deadlock-free.
	n := 10
	amount := int64(1_000_000)
	errs := make(chan error, n*2)
	for i := 0; i < n; i++ {
		go func() {
			_, err := env.ledger.Transfer(ctx, TransferCmd{
				Actor:      userActor(alice),
				FromUserID: alice.ID,
				ToUserID:   bob.ID,
				Amount:     amount,
				Currency:   "TRY",
				Kind:       domain.EntryPayment,
			})
			errs <- err
		}()
		go func() {
			_, err := env.ledger.Transfer(ctx, TransferCmd{
				Actor:      userActor(bob),
				FromUserID: bob.ID,
				ToUserID:   alice.ID,
				Amount:     amount,
				Currency:   "TRY",
				Kind:       domain.EntryPayment,
			})
			errs <- err
		}()
	}
	for i := 0; i < n*2; i++ {
		assert.NoError(t, <-errs)
	}

	assert.Equal(t, int64(100_000_000), accountBalance(t, db, aliceAcc.ID))
	assert.Equal(t, int64(100_000_000), accountBalance(t, db, bobAcc.ID))
}

func TestWithdrawReversesFailedPayout(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	env := newTestEnv(db)
	ctx := context.Background()

	user := createTestUser(t, db, "payout-fail", domain.KYCVerified)
	acc := createTestAccount(t, db, user.ID, "TRY", 80_000_000)

	failing := NewLedgerService(env.store, env.compliance, &gateway.MockProvider{
		FailureRate: 1,
		Latency:     time.Millisecond,
	})

	_, err := failing.Withdraw(ctx, WithdrawCmd{
		Actor:       userActor(user),
		AccountID:   acc.ID,
		Amount:      30_000_000,
		Destination: "TR330006100519786457841326",
	})
	require.Error(t, err)
	require.NotErrorIs(t, err, models.ErrInsufficientFunds)

	// The reserved amount came back: balance intact, the debit and its
	// reversal cancel out.
	assert.Equal(t, int64(80_000_000), accountBalance(t, db, acc.ID))
	var entries int
	var net int64
	err = db.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(amount), 0) FROM ledger_entries WHERE account_id = $1 AND type = $2`,
		acc.ID, domain.EntryWithdrawal).Scan(&entries, &net)
	require.NoError(t, err)
	assert.Equal(t, 2, entries)
	assert.Equal(t, int64(0), net)
}

func TestWithdrawConcurrentFullBalance(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	env := newTestEnv(db)
	ctx := context.Background()

	user := createTestUser(t, db, "payout-race", domain.KYCVerified)
	acc := createTestAccount(t, db, user.ID, "TRY", 50_000_000)

	// Both withdrawals target the full balance; the reservation debit
	// serializes them, so only one payout can ever be dispatched.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.ledger.Withdraw(ctx, WithdrawCmd{
				Actor:       userActor(user),
				AccountID:   acc.ID,
				Amount:      50_000_000,
				Destination: "TR330006100519786457841326",
			})
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			require.ErrorIs(t, err, models.ErrInsufficientFunds)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, int64(0), accountBalance(t, db, acc.ID))
}
