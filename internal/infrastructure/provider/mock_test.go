package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mealsub-backend/internal/domain"
	"mealsub-backend/internal/money"
)

func intentReq(method domain.PaymentMethod) domain.IntentRequest {
	return domain.IntentRequest{
		Payment: domain.Payment{
			ID:      "pay-1",
			OrderID: "order-1",
			Method:  method,
			Status:  domain.PaymentPending,
			Amount:  money.MustParse("39.80"),
		},
		Payer:          domain.Payer{CustomerID: "cust-1", Email: "ana@example.com"},
		IdempotencyKey: "key-1",
	}
}

func TestMock_PixPayloadHasCopyPasteCode(t *testing.T) {
	m := NewMock()
	res, err := m.CreateIntent(context.Background(), intentReq(domain.MethodPix))
	require.NoError(t, err)

	assert.Equal(t, domain.IntentRequiresAction, res.Status)
	assert.Contains(t, res.ProviderIntentRef, "mock_")
	code, _ := res.ClientPayload["copyPasteCode"].(string)
	assert.NotEmpty(t, code)
	assert.NotEmpty(t, res.ClientPayload["qrCode"])
	require.NotNil(t, res.ExpiresAt)
	assert.Len(t, m.Calls(), 1)
}

func TestMock_CardPayloadHasCheckoutURL(t *testing.T) {
	res, err := NewMock().CreateIntent(context.Background(), intentReq(domain.MethodCard))
	require.NoError(t, err)
	assert.Contains(t, res.ClientPayload["checkoutUrl"], res.ProviderIntentRef)
}

func TestMock_RejectsCash(t *testing.T) {
	_, err := NewMock().CreateIntent(context.Background(), intentReq(domain.MethodCash))
	var verr domain.ErrValidation
	assert.True(t, errors.As(err, &verr))
}

func TestMock_FailWith(t *testing.T) {
	m := NewMock()
	m.FailWith(errors.New("boom"))
	_, err := m.CreateIntent(context.Background(), intentReq(domain.MethodPix))
	assert.EqualError(t, err, "boom")

	m.FailWith(nil)
	_, err = m.CreateIntent(context.Background(), intentReq(domain.MethodPix))
	assert.NoError(t, err)
	assert.Len(t, m.Calls(), 2)
}

func TestMock_ParseWebhook(t *testing.T) {
	body := []byte(`{"eventId":"evt-1","providerIntentRef":"mock_abc","status":"succeeded","providerRef":"txn-9","paidAt":"2026-03-01T10:00:00Z"}`)
	n, err := NewMock().ParseWebhook(context.Background(), nil, body)
	require.NoError(t, err)

	assert.Equal(t, domain.ProviderMock, n.Provider)
	assert.Equal(t, "evt-1", n.EventID)
	assert.Equal(t, "mock_abc", n.ProviderIntentRef)
	assert.Equal(t, domain.IntentSucceeded, n.IntentStatus)
	require.NotNil(t, n.ProviderRef)
	assert.Equal(t, "txn-9", *n.ProviderRef)
	require.NotNil(t, n.PaidAt)
}

func TestMock_ParseWebhookUnknownStatus(t *testing.T) {
	n, err := NewMock().ParseWebhook(context.Background(), nil, []byte(`{"eventId":"e","providerIntentRef":"r","status":"weird"}`))
	require.NoError(t, err)
	assert.Equal(t, domain.IntentRequiresAction, n.IntentStatus)
}

func TestMock_ParseWebhookMalformed(t *testing.T) {
	_, err := NewMock().ParseWebhook(context.Background(), nil, []byte(`{"status":"succeeded"}`))
	var verr domain.ErrValidation
	assert.True(t, errors.As(err, &verr))
}
