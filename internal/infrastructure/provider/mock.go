package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"mealsub-backend/internal/domain"
)

var mockStatuses = statusTable{
	"requires_action": domain.IntentRequiresAction,
	"processing":      domain.IntentProcessing,
	"succeeded":       domain.IntentSucceeded,
	"failed":          domain.IntentFailed,
	"canceled":        domain.IntentCanceled,
	"expired":         domain.IntentExpired,
}

// Mock is an in-process provider for development and tests. It records every
// CreateIntent call it receives.
type Mock struct {
	TTL time.Duration

	mu    sync.Mutex
	calls []domain.IntentRequest
	fail  error
}

func NewMock() *Mock {
	return &Mock{TTL: 30 * time.Minute}
}

func (m *Mock) Name() domain.ProviderName { return domain.ProviderMock }

func (m *Mock) VerifiesWebhooks() bool { return false }

func (m *Mock) Supports(method domain.PaymentMethod) bool {
	return method.SupportsOnlineIntent()
}

// FailWith makes subsequent calls return err until it is called with nil.
func (m *Mock) FailWith(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}

func (m *Mock) Calls() []domain.IntentRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.IntentRequest(nil), m.calls...)
}

func (m *Mock) CreateIntent(ctx context.Context, req domain.IntentRequest) (domain.IntentResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	fail := m.fail
	m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return domain.IntentResult{}, err
	}
	if fail != nil {
		return domain.IntentResult{}, fail
	}
	if !m.Supports(req.Payment.Method) {
		return domain.IntentResult{}, unsupported(m.Name(), req.Payment.Method)
	}

	ref := "mock_" + uuid.NewString()
	payload := map[string]any{"amount": req.Payment.Amount.String()}
	switch req.Payment.Method {
	case domain.MethodPix:
		code := fmt.Sprintf("00020126MOCKPIX%s5204000053039865406%s", ref, req.Payment.Amount.String())
		payload["copyPasteCode"] = code
		payload["qrCode"] = base64.StdEncoding.EncodeToString([]byte(code))
	case domain.MethodCard:
		payload["checkoutUrl"] = "https://pay.mock.local/checkout/" + ref
	case domain.MethodWechatPay:
		payload["prepayId"] = "wx_" + ref
	}
	exp := time.Now().UTC().Add(m.TTL)
	return domain.IntentResult{
		Status:            domain.IntentRequiresAction,
		ProviderIntentRef: ref,
		ClientPayload:     payload,
		ExpiresAt:         &exp,
	}, nil
}

type mockNotification struct {
	EventID           string     `json:"eventId"`
	ProviderIntentRef string     `json:"providerIntentRef"`
	Status            string     `json:"status"`
	ProviderRef       string     `json:"providerRef"`
	PaidAt            *time.Time `json:"paidAt"`
}

// ParseWebhook accepts a plain JSON notification; authentication is left to
// the shared webhook token.
func (m *Mock) ParseWebhook(_ context.Context, _ http.Header, body []byte) (domain.WebhookNotice, error) {
	var n mockNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return domain.WebhookNotice{}, domain.Invalid("malformed mock notification: " + err.Error())
	}
	if n.EventID == "" || n.ProviderIntentRef == "" {
		return domain.WebhookNotice{}, domain.Invalid("eventId and providerIntentRef are required")
	}
	out := domain.WebhookNotice{
		Provider:          domain.ProviderMock,
		EventID:           n.EventID,
		ProviderIntentRef: n.ProviderIntentRef,
		IntentStatus:      mockStatuses.lookup(n.Status),
		PaidAt:            n.PaidAt,
	}
	if n.ProviderRef != "" {
		out.ProviderRef = &n.ProviderRef
	}
	return out, nil
}
