package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"mealsub-backend/internal/domain"
)

const stripeAPI = "https://api.stripe.com"

var stripeStatuses = statusTable{
	"requires_payment_method": domain.IntentRequiresAction,
	"requires_confirmation":   domain.IntentRequiresAction,
	"requires_action":         domain.IntentRequiresAction,
	"processing":              domain.IntentProcessing,
	"requires_capture":        domain.IntentProcessing,
	"succeeded":               domain.IntentSucceeded,
	"canceled":                domain.IntentCanceled,
}

// Event types that settle the outcome regardless of the object's status.
var stripeEventStatuses = map[string]domain.IntentStatus{
	"payment_intent.succeeded":      domain.IntentSucceeded,
	"payment_intent.payment_failed": domain.IntentFailed,
	"payment_intent.canceled":       domain.IntentCanceled,
}

type StripeConfig struct {
	SecretKey      string
	PublishableKey string
	WebhookSecret  string
	BaseURL        string
	Currency       string
}

type Stripe struct {
	secretKey      string
	publishableKey string
	webhookSecret  string
	baseURL        string
	currency       string
	tolerance      time.Duration
	http           *http.Client
}

func NewStripe(cfg StripeConfig, hc *http.Client) (*Stripe, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("stripe secret key missing")
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, errors.New("stripe webhook secret missing")
	}
	base := cfg.BaseURL
	if base == "" {
		base = stripeAPI
	}
	cur := cfg.Currency
	if cur == "" {
		cur = "brl"
	}
	return &Stripe{
		secretKey:      cfg.SecretKey,
		publishableKey: cfg.PublishableKey,
		webhookSecret:  cfg.WebhookSecret,
		baseURL:        strings.TrimRight(base, "/"),
		currency:       strings.ToLower(cur),
		tolerance:      5 * time.Minute,
		http:           hc,
	}, nil
}

func (s *Stripe) Name() domain.ProviderName { return domain.ProviderStripe }

func (s *Stripe) VerifiesWebhooks() bool { return true }

func (s *Stripe) Supports(m domain.PaymentMethod) bool { return m == domain.MethodCard }

type stripeIntent struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	ClientSecret string `json:"client_secret"`
	LatestCharge string `json:"latest_charge"`
	Created      int64  `json:"created"`
}

func (s *Stripe) CreateIntent(ctx context.Context, req domain.IntentRequest) (domain.IntentResult, error) {
	if !s.Supports(req.Payment.Method) {
		return domain.IntentResult{}, unsupported(s.Name(), req.Payment.Method)
	}
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Payment.Amount.MinorUnits(), 10))
	form.Set("currency", s.currency)
	form.Set("automatic_payment_methods[enabled]", "true")
	form.Set("metadata[payment_id]", req.Payment.ID)
	form.Set("metadata[order_id]", req.Payment.OrderID)
	if req.Payer.Email != "" {
		form.Set("receipt_email", req.Payer.Email)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/payment_intents", strings.NewReader(form.Encode()))
	if err != nil {
		return domain.IntentResult{}, err
	}
	httpReq.SetBasicAuth(s.secretKey, "")
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Idempotency-Key", req.Payment.ID+":"+req.IdempotencyKey)
	body, err := do(s.http, httpReq)
	if err != nil {
		return domain.IntentResult{}, fmt.Errorf("stripe create payment intent: %w", err)
	}
	var out stripeIntent
	if err := json.Unmarshal(body, &out); err != nil {
		return domain.IntentResult{}, fmt.Errorf("decode stripe payment intent: %w", err)
	}
	payload := map[string]any{"clientSecret": out.ClientSecret}
	if s.publishableKey != "" {
		payload["publishableKey"] = s.publishableKey
	}
	return domain.IntentResult{
		Status:            stripeStatuses.lookup(out.Status),
		ProviderIntentRef: out.ID,
		ClientPayload:     payload,
	}, nil
}

type stripeEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object stripeIntent `json:"object"`
	} `json:"data"`
}

func (s *Stripe) ParseWebhook(_ context.Context, h http.Header, body []byte) (domain.WebhookNotice, error) {
	if err := s.verifySignature(h.Get("Stripe-Signature"), body, time.Now()); err != nil {
		return domain.WebhookNotice{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	var ev stripeEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return domain.WebhookNotice{}, domain.Invalid("malformed stripe event: " + err.Error())
	}
	if !strings.HasPrefix(ev.Type, "payment_intent.") {
		return domain.WebhookNotice{}, domain.Invalid(fmt.Sprintf("unsupported stripe event type %q", ev.Type))
	}
	obj := ev.Data.Object
	status, ok := stripeEventStatuses[ev.Type]
	if !ok {
		status = stripeStatuses.lookup(obj.Status)
	}
	out := domain.WebhookNotice{
		Provider:          domain.ProviderStripe,
		EventID:           ev.ID,
		ProviderIntentRef: obj.ID,
		IntentStatus:      status,
	}
	if obj.LatestCharge != "" {
		out.ProviderRef = &obj.LatestCharge
	}
	if status == domain.IntentSucceeded && ev.Created > 0 {
		t := time.Unix(ev.Created, 0).UTC()
		out.PaidAt = &t
	}
	return out, nil
}

// verifySignature checks a "t=<unix>,v1=<hex hmac>" header against the
// signed payload "<t>.<body>".
func (s *Stripe) verifySignature(header string, body []byte, now time.Time) error {
	var (
		ts   string
		sigs []string
	)
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return errors.New("signature header malformed")
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("bad timestamp: %w", err)
	}
	if d := now.Sub(time.Unix(unix, 0)); d > s.tolerance || d < -s.tolerance {
		return errors.New("timestamp outside tolerance")
	}
	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	mac.Write([]byte(ts + "."))
	mac.Write(body)
	expected := mac.Sum(nil)
	for _, sig := range sigs {
		got, err := hex.DecodeString(sig)
		if err == nil && hmac.Equal(got, expected) {
			return nil
		}
	}
	return errors.New("no matching signature")
}
