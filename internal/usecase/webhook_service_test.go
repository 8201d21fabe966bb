package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mealsub-backend/internal/domain"
)

func TestWebhookSettlesPaymentAndPostsLedger(t *testing.T) {
	f := newFixture(t)
	view := f.placeOrder(t, domain.MethodPix)
	in := f.openIntent(t, view.Payment.ID, "K1")

	ev, isNew, err := f.notify("evt-1", in.ProviderIntentRef, domain.IntentSucceeded)
	require.NoError(t, err)
	assert.True(t, isNew)
	require.NotNil(t, ev.IntentStatus)
	require.NotNil(t, ev.PaymentStatus)
	assert.Equal(t, domain.IntentSucceeded, *ev.IntentStatus)
	assert.Equal(t, domain.PaymentPaid, *ev.PaymentStatus)
	assert.NotNil(t, ev.ProcessedAt)

	p, err := f.payments.Get(context.Background(), alice, view.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, p.Status)
	assert.NotNil(t, p.PaidAt)

	recs := f.store.Receivables()
	require.Len(t, recs, 1)
	assert.Equal(t, domain.SourceOrder, recs[0].SourceType)
	assert.Equal(t, view.ID, recs[0].SourceID)
	assert.Equal(t, "39.80", recs[0].Amount.String())
	assert.Equal(t, "1.1.2.01", recs[0].AccountCode)

	mvs := f.store.CashMovements()
	require.Len(t, mvs, 1)
	assert.Equal(t, domain.DirectionIn, mvs[0].Direction)
	assert.Equal(t, domain.SourceReceivable, mvs[0].SourceType)
	assert.Equal(t, recs[0].ID, mvs[0].SourceID)
	assert.Equal(t, "39.80", mvs[0].Amount.String())
	assert.Equal(t, "1.1.1.01", mvs[0].AccountCode)

	assert.Contains(t, f.events.types(), domain.EventPaymentPaid)
}

func TestWebhookDuplicateEventIsIgnored(t *testing.T) {
	f := newFixture(t)
	view := f.placeOrder(t, domain.MethodPix)
	in := f.openIntent(t, view.Payment.ID, "K1")

	first, isNew, err := f.notify("evt-1", in.ProviderIntentRef, domain.IntentSucceeded)
	require.NoError(t, err)
	require.True(t, isNew)

	again, isNew, err := f.notify("evt-1", in.ProviderIntentRef, domain.IntentSucceeded)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, first.ID, again.ID)

	assert.Len(t, f.store.WebhookEvents(), 1)
	assert.Len(t, f.store.Receivables(), 1)
	assert.Len(t, f.store.CashMovements(), 1)
}

func TestWebhookUnknownIntentKeepsNothing(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.notify("evt-1", "mock_nope", domain.IntentSucceeded)
	assert.ErrorIs(t, err, domain.ErrIntentNotFound)
	assert.Empty(t, f.store.WebhookEvents(), "the event row rolls back with the failed unit")
}

func TestWebhookRequiresIdentifiers(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.notify("", "mock_x", domain.IntentSucceeded)
	assert.True(t, isValidation(err))
	_, _, err = f.notify("evt-1", "", domain.IntentSucceeded)
	assert.True(t, isValidation(err))
}

func TestWebhookLateFailureAfterPaid(t *testing.T) {
	f := newFixture(t)
	view := f.placeOrder(t, domain.MethodPix)
	in := f.openIntent(t, view.Payment.ID, "K1")

	_, _, err := f.notify("evt-1", in.ProviderIntentRef, domain.IntentSucceeded)
	require.NoError(t, err)

	ev, isNew, err := f.notify("evt-2", in.ProviderIntentRef, domain.IntentFailed)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, domain.IntentSucceeded, *ev.IntentStatus, "a succeeded intent never regresses")
	assert.Equal(t, domain.PaymentPaid, *ev.PaymentStatus)

	p, err := f.payments.Get(context.Background(), staff, view.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, p.Status)
	assert.Len(t, f.store.CashMovements(), 1)
}

func TestWebhookProcessingLeavesPaymentAlone(t *testing.T) {
	f := newFixture(t)
	view := f.placeOrder(t, domain.MethodPix)
	in := f.openIntent(t, view.Payment.ID, "K1")

	ev, _, err := f.notify("evt-1", in.ProviderIntentRef, domain.IntentProcessing)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentProcessing, *ev.IntentStatus)
	assert.Equal(t, domain.PaymentPending, *ev.PaymentStatus)

	latest, err := f.intents.Latest(context.Background(), alice, view.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentProcessing, latest.Status)
	assert.Empty(t, f.store.Receivables())
}

func TestWebhookFailureThenRetryWithNewKey(t *testing.T) {
	f := newFixture(t)
	view := f.placeOrder(t, domain.MethodPix)
	ctx := context.Background()

	k1 := f.openIntent(t, view.Payment.ID, "K1")
	ev, _, err := f.notify("evt-1", k1.ProviderIntentRef, domain.IntentFailed)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, *ev.PaymentStatus)

	f.clock = f.clock.Add(time.Second)
	k2 := f.openIntent(t, view.Payment.ID, "K2")
	ev, _, err = f.notify("evt-2", k2.ProviderIntentRef, domain.IntentSucceeded)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, *ev.PaymentStatus)

	p, err := f.payments.Get(ctx, alice, view.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, p.Status)
	assert.Len(t, f.store.Receivables(), 1)
	assert.Len(t, f.store.CashMovements(), 1)
}

func TestWebhookCarriesProviderReference(t *testing.T) {
	f := newFixture(t)
	view := f.placeOrder(t, domain.MethodPix)
	in := f.openIntent(t, view.Payment.ID, "K1")

	ref := "E2E-12345"
	paidAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_, _, err := f.webhooks.Process(context.Background(), domain.WebhookNotice{
		Provider:          domain.ProviderMock,
		EventID:           "evt-1",
		ProviderIntentRef: in.ProviderIntentRef,
		IntentStatus:      domain.IntentSucceeded,
		ProviderRef:       &ref,
		PaidAt:            &paidAt,
	}, nil)
	require.NoError(t, err)

	p, err := f.payments.Get(context.Background(), alice, view.Payment.ID)
	require.NoError(t, err)
	require.NotNil(t, p.ProviderRef)
	assert.Equal(t, ref, *p.ProviderRef)
	assert.True(t, paidAt.Equal(*p.PaidAt))
}

func TestWebhookLateStatusDoesNotReopenFailedIntent(t *testing.T) {
	f := newFixture(t)
	view := f.placeOrder(t, domain.MethodPix)
	ctx := context.Background()

	k1 := f.openIntent(t, view.Payment.ID, "K1")
	_, _, err := f.notify("evt-1", k1.ProviderIntentRef, domain.IntentFailed)
	require.NoError(t, err)

	ev, isNew, err := f.notify("evt-2", k1.ProviderIntentRef, domain.IntentProcessing)
	require.NoError(t, err)
	assert.True(t, isNew, "the late event is still recorded")
	assert.Equal(t, domain.IntentFailed, *ev.IntentStatus)
	assert.Equal(t, domain.PaymentFailed, *ev.PaymentStatus)

	_, _, err = f.notify("evt-3", k1.ProviderIntentRef, domain.IntentRequiresAction)
	require.NoError(t, err)

	latest, err := f.intents.Latest(ctx, alice, view.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentFailed, latest.Status)

	f.clock = f.clock.Add(time.Second)
	k2 := f.openIntent(t, view.Payment.ID, "K2")
	assert.NotEqual(t, k1.ID, k2.ID)
	assert.Len(t, f.mock.Calls(), 2)
}

func TestWebhookLateSuccessClosesExpiredIntent(t *testing.T) {
	f := newFixture(t)
	view := f.placeOrder(t, domain.MethodPix)
	in := f.openIntent(t, view.Payment.ID, "K1")

	_, _, err := f.notify("evt-1", in.ProviderIntentRef, domain.IntentExpired)
	require.NoError(t, err)
	ev, _, err := f.notify("evt-2", in.ProviderIntentRef, domain.IntentSucceeded)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentSucceeded, *ev.IntentStatus)
	assert.Equal(t, domain.PaymentPaid, *ev.PaymentStatus)
	assert.Len(t, f.store.CashMovements(), 1)
}
