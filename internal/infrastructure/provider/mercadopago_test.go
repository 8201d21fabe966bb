package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mealsub-backend/internal/domain"
)

func newTestMercadoPago(t *testing.T, baseURL string) *MercadoPago {
	t.Helper()
	mp, err := NewMercadoPago(MercadoPagoConfig{AccessToken: "TEST-token", BaseURL: baseURL}, "https://api.example.com", http.DefaultClient)
	require.NoError(t, err)
	return mp
}

func TestMercadoPago_Pix(t *testing.T) {
	var got mpPaymentReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments", r.URL.Path)
		assert.Equal(t, "Bearer TEST-token", r.Header.Get("Authorization"))
		assert.Equal(t, "key-1", r.Header.Get("X-Idempotency-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id":123456,"status":"pending","point_of_interaction":{"transaction_data":{"qr_code":"00020126580014br.gov.bcb.pix","qr_code_base64":"iVBORw0"}}}`))
	}))
	defer srv.Close()

	res, err := newTestMercadoPago(t, srv.URL).CreateIntent(context.Background(), intentReq(domain.MethodPix))
	require.NoError(t, err)

	assert.Equal(t, "pix", got.PaymentMethodID)
	assert.InDelta(t, 39.80, got.TransactionAmount, 0.001)
	assert.Equal(t, "ana@example.com", got.Payer.Email)
	assert.Equal(t, externalRef("pay-1", "key-1"), got.ExternalReference)
	assert.Equal(t, got.ExternalReference, res.ProviderIntentRef)
	assert.Equal(t, domain.IntentRequiresAction, res.Status)
	assert.Equal(t, "00020126580014br.gov.bcb.pix", res.ClientPayload["copyPasteCode"])
}

func TestMercadoPago_CardUsesCheckoutPreference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/checkout/preferences", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"pref-1","init_point":"https://www.mercadopago.com/checkout/v1/redirect?pref_id=pref-1"}`))
	}))
	defer srv.Close()

	res, err := newTestMercadoPago(t, srv.URL).CreateIntent(context.Background(), intentReq(domain.MethodCard))
	require.NoError(t, err)
	assert.Equal(t, "https://www.mercadopago.com/checkout/v1/redirect?pref_id=pref-1", res.ClientPayload["checkoutUrl"])
}

func TestMercadoPago_ParseWebhookFetchesPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/123456", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":123456,"status":"approved","external_reference":"mp_ref","date_approved":"2026-03-01T10:00:00.000-03:00"}`))
	}))
	defer srv.Close()

	body := []byte(`{"id":98765,"type":"payment","action":"payment.updated","data":{"id":"123456"}}`)
	n, err := newTestMercadoPago(t, srv.URL).ParseWebhook(context.Background(), nil, body)
	require.NoError(t, err)

	assert.Equal(t, "98765", n.EventID)
	assert.Equal(t, "mp_ref", n.ProviderIntentRef)
	assert.Equal(t, domain.IntentSucceeded, n.IntentStatus)
	require.NotNil(t, n.ProviderRef)
	assert.Equal(t, "123456", *n.ProviderRef)
	require.NotNil(t, n.PaidAt)
}

func TestMercadoPago_ParseWebhookIgnoresOtherTopics(t *testing.T) {
	_, err := newTestMercadoPago(t, "http://unused").ParseWebhook(context.Background(), nil, []byte(`{"id":1,"type":"plan","data":{"id":"9"}}`))
	assert.Error(t, err)
}

func TestMercadoPagoStatuses(t *testing.T) {
	assert.Equal(t, domain.IntentProcessing, mercadoPagoStatuses.lookup("in_process"))
	assert.Equal(t, domain.IntentFailed, mercadoPagoStatuses.lookup("rejected"))
	assert.Equal(t, domain.IntentCanceled, mercadoPagoStatuses.lookup("cancelled"))
	assert.Equal(t, domain.IntentRequiresAction, mercadoPagoStatuses.lookup("charged_back"))
}
