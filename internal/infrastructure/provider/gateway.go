package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"mealsub-backend/internal/domain"
)

// Gateway is a payment provider adapter.
type Gateway interface {
	Name() domain.ProviderName
	Supports(m domain.PaymentMethod) bool
	CreateIntent(ctx context.Context, req domain.IntentRequest) (domain.IntentResult, error)
	// ParseWebhook authenticates a provider notification and translates it
	// into the canonical notice.
	ParseWebhook(ctx context.Context, header http.Header, body []byte) (domain.WebhookNotice, error)
	// VerifiesWebhooks reports whether ParseWebhook authenticates the sender
	// on its own. Notifications for gateways that do not are only accepted
	// with a shared webhook token.
	VerifiesWebhooks() bool
}

// ErrBadSignature is returned when a notification fails provider-level
// authentication.
var ErrBadSignature = errors.New("webhook signature invalid")

// statusTable maps a provider's status vocabulary onto intent statuses.
type statusTable map[string]domain.IntentStatus

func (t statusTable) lookup(s string) domain.IntentStatus {
	if st, ok := t[strings.ToLower(strings.TrimSpace(s))]; ok {
		return st
	}
	return domain.IntentRequiresAction
}

func unsupported(p domain.ProviderName, m domain.PaymentMethod) error {
	return domain.Invalid(fmt.Sprintf("provider %s does not support method %s", p, m))
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// do sends req and returns the body of a 2xx response.
func do(hc *http.Client, req *http.Request) ([]byte, error) {
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func webhookURL(base string, p domain.ProviderName) string {
	return strings.TrimRight(base, "/") + "/api/payments/webhook/" + string(p)
}
