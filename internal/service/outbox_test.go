package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/domain"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/gateway"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/models"
)

type recordingNotifier struct {
	sent []gateway.Notification
	fail bool
}

func (n *recordingNotifier) Dispatch(ctx context.Context, notification gateway.Notification) error {
	if n.fail {
		return errors.New("push gateway unavailable")
	}
	n.sent = append(n.sent, notification)
	return nil
}

func walletHold(t *testing.T, env *testEnv, sender, recipient models.User, amount int64) models.Escrow {
	t.Helper()
	result, err := env.escrows.CreateHold(context.Background(), CreateHoldCmd{
		Actor:            userActor(sender),
		SenderID:         sender.ID,
		RecipientID:      recipient.ID,
		Amount:           amount,
		Currency:         "TRY",
		ReleaseCondition: domain.ReleaseConditionApproval,
		FundingSource:    domain.FundingSourceWallet,
	})
	require.NoError(t, err)
	return result.Escrow
}

func TestOutboxDrainDeliversQueuedEvents(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	env := newTestEnv(db)
	ctx := context.Background()

	sender := createTestUser(t, db, "outbox-sender", domain.KYCVerified)
	recipient := createTestUser(t, db, "outbox-recipient", domain.KYCVerified)
	createTestAccount(t, db, sender.ID, "TRY", 100_000_000)
	createTestAccount(t, db, recipient.ID, "TRY", 0)

	walletHold(t, env, sender, recipient, 60_000_000)

	notifier := &recordingNotifier{}
	outbox := NewOutboxService(env.store, notifier)

	delivered, err := outbox.Drain(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, domain.OutboxEscrowFunded, notifier.sent[0].Type)
	assert.Equal(t, recipient.ID, notifier.sent[0].UserID)

	// Nothing left to drain.
	delivered, err = outbox.Drain(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
}

func TestOutboxRetriesFailedDispatch(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	env := newTestEnv(db)
	ctx := context.Background()

	sender := createTestUser(t, db, "retry-sender", domain.KYCVerified)
	recipient := createTestUser(t, db, "retry-recipient", domain.KYCVerified)
	createTestAccount(t, db, sender.ID, "TRY", 100_000_000)
	createTestAccount(t, db, recipient.ID, "TRY", 0)

	walletHold(t, env, sender, recipient, 10_000_000)

	notifier := &recordingNotifier{fail: true}
	outbox := NewOutboxService(env.store, notifier)

	delivered, err := outbox.Drain(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)

	// The event went back to pending and succeeds once the gateway is up.
	notifier.fail = false
	delivered, err = outbox.Drain(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	require.Len(t, notifier.sent, 1)

	var attempts int32
	err = db.QueryRow(ctx, "SELECT attempts FROM escrow_outbox").Scan(&attempts)
	require.NoError(t, err)
	assert.Equal(t, int32(1), attempts)
}

func TestOutboxParksUndecodablePayload(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	env := newTestEnv(db)
	ctx := context.Background()

	sender := createTestUser(t, db, "dead-sender", domain.KYCVerified)
	recipient := createTestUser(t, db, "dead-recipient", domain.KYCVerified)
	createTestAccount(t, db, sender.ID, "TRY", 100_000_000)
	createTestAccount(t, db, recipient.ID, "TRY", 0)

	escrow := walletHold(t, env, sender, recipient, 10_000_000)
	_, err := db.Exec(ctx, `
		INSERT INTO escrow_outbox (id, escrow_id, event_type, recipient_id, payload, status)
		VALUES ($1, $2, 'escrow_funded', $3, '"garbage"'::jsonb, 'pending')`,
		uuid.New(), escrow.ID, recipient.ID)
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	outbox := NewOutboxService(env.store, notifier)

	delivered, err := outbox.Drain(ctx, 10)
	require.NoError(t, err)
	// The well-formed event still goes out; the broken one is parked.
	assert.Equal(t, 1, delivered)

	var status string
	err = db.QueryRow(ctx, `SELECT status FROM escrow_outbox WHERE payload = '"garbage"'::jsonb`).Scan(&status)
	require.NoError(t, err)
	assert.Equal(t, "dead", status)
}
