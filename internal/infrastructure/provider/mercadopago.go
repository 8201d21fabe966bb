package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"mealsub-backend/internal/domain"
)

const mercadoPagoAPI = "https://api.mercadopago.com"

var mercadoPagoStatuses = statusTable{
	"pending":    domain.IntentRequiresAction,
	"in_process": domain.IntentProcessing,
	"authorized": domain.IntentProcessing,
	"approved":   domain.IntentSucceeded,
	"rejected":   domain.IntentFailed,
	"cancelled":  domain.IntentCanceled,
}

type MercadoPagoConfig struct {
	AccessToken string
	BaseURL     string
	Currency    string
}

// MercadoPago opens PIX payments directly and CARD payments through a hosted
// checkout preference. Both carry an external reference derived from the
// payment and key, which is the intent reference notifications resolve to.
type MercadoPago struct {
	token     string
	baseURL   string
	currency  string
	notifyURL string
	ttl       time.Duration
	http      *http.Client
}

func NewMercadoPago(cfg MercadoPagoConfig, notifyBase string, hc *http.Client) (*MercadoPago, error) {
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, fmt.Errorf("mercadopago access token missing")
	}
	base := cfg.BaseURL
	if base == "" {
		base = mercadoPagoAPI
	}
	cur := cfg.Currency
	if cur == "" {
		cur = "BRL"
	}
	return &MercadoPago{
		token:     cfg.AccessToken,
		baseURL:   strings.TrimRight(base, "/"),
		currency:  cur,
		notifyURL: webhookURL(notifyBase, domain.ProviderMercadoPago),
		ttl:       30 * time.Minute,
		http:      hc,
	}, nil
}

func (mp *MercadoPago) Name() domain.ProviderName { return domain.ProviderMercadoPago }

// VerifiesWebhooks is true because the status is always read back from the
// payments API, never taken from the notification.
func (mp *MercadoPago) VerifiesWebhooks() bool { return true }

func (mp *MercadoPago) Supports(m domain.PaymentMethod) bool {
	return m == domain.MethodPix || m == domain.MethodCard
}

func externalRef(paymentID, key string) string {
	return "mp_" + tradeNo(paymentID, key)
}

type mpPaymentReq struct {
	TransactionAmount float64 `json:"transaction_amount"`
	Description       string  `json:"description"`
	PaymentMethodID   string  `json:"payment_method_id"`
	ExternalReference string  `json:"external_reference"`
	NotificationURL   string  `json:"notification_url"`
	DateOfExpiration  string  `json:"date_of_expiration"`
	Payer             mpPayer `json:"payer"`
}

type mpPayer struct {
	Email string `json:"email"`
}

type mpPayment struct {
	ID                 int64  `json:"id"`
	Status             string `json:"status"`
	ExternalReference  string `json:"external_reference"`
	DateApproved       string `json:"date_approved"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
			TicketURL    string `json:"ticket_url"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

type mpPreferenceReq struct {
	Items             []mpItem `json:"items"`
	ExternalReference string   `json:"external_reference"`
	NotificationURL   string   `json:"notification_url"`
	Expires           bool     `json:"expires"`
	ExpirationDateTo  string   `json:"expiration_date_to"`
	Payer             mpPayer  `json:"payer"`
}

type mpItem struct {
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type mpPreference struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

func (mp *MercadoPago) CreateIntent(ctx context.Context, req domain.IntentRequest) (domain.IntentResult, error) {
	if !mp.Supports(req.Payment.Method) {
		return domain.IntentResult{}, unsupported(mp.Name(), req.Payment.Method)
	}
	ref := externalRef(req.Payment.ID, req.IdempotencyKey)
	expires := time.Now().UTC().Add(mp.ttl)
	payer := mpPayer{Email: req.Payer.Email}
	if payer.Email == "" {
		payer.Email = "customer-" + req.Payer.CustomerID + "@mealsub.invalid"
	}

	if req.Payment.Method == domain.MethodPix {
		var out mpPayment
		err := mp.post(ctx, "/v1/payments", req.IdempotencyKey, mpPaymentReq{
			TransactionAmount: req.Payment.Amount.Float(),
			Description:       "Order " + req.Payment.OrderID,
			PaymentMethodID:   "pix",
			ExternalReference: ref,
			NotificationURL:   mp.notifyURL,
			DateOfExpiration:  expires.Format("2006-01-02T15:04:05.000-07:00"),
			Payer:             payer,
		}, &out)
		if err != nil {
			return domain.IntentResult{}, err
		}
		td := out.PointOfInteraction.TransactionData
		if td.QRCode == "" {
			return domain.IntentResult{}, fmt.Errorf("mercadopago payment %d: missing pix qr code", out.ID)
		}
		return domain.IntentResult{
			Status:            mercadoPagoStatuses.lookup(out.Status),
			ProviderIntentRef: ref,
			ClientPayload: map[string]any{
				"copyPasteCode": td.QRCode,
				"qrCode":        td.QRCodeBase64,
				"ticketUrl":     td.TicketURL,
				"paymentId":     out.ID,
			},
			ExpiresAt: &expires,
		}, nil
	}

	var pref mpPreference
	err := mp.post(ctx, "/checkout/preferences", req.IdempotencyKey, mpPreferenceReq{
		Items: []mpItem{{
			Title:      "Order " + req.Payment.OrderID,
			Quantity:   1,
			UnitPrice:  req.Payment.Amount.Float(),
			CurrencyID: mp.currency,
		}},
		ExternalReference: ref,
		NotificationURL:   mp.notifyURL,
		Expires:           true,
		ExpirationDateTo:  expires.Format("2006-01-02T15:04:05.000-07:00"),
		Payer:             payer,
	}, &pref)
	if err != nil {
		return domain.IntentResult{}, err
	}
	if pref.InitPoint == "" {
		return domain.IntentResult{}, fmt.Errorf("mercadopago preference %s: missing init_point", pref.ID)
	}
	return domain.IntentResult{
		Status:            domain.IntentRequiresAction,
		ProviderIntentRef: ref,
		ClientPayload: map[string]any{
			"checkoutUrl":  pref.InitPoint,
			"preferenceId": pref.ID,
		},
		ExpiresAt: &expires,
	}, nil
}

func (mp *MercadoPago) post(ctx context.Context, path, idemKey string, in, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, mp.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+mp.token)
	req.Header.Set("X-Idempotency-Key", idemKey)
	body, err := do(mp.http, req)
	if err != nil {
		return fmt.Errorf("mercadopago %s: %w", path, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode mercadopago %s: %w", path, err)
	}
	return nil
}

type mpNotification struct {
	ID     json.Number `json:"id"`
	Type   string      `json:"type"`
	Action string      `json:"action"`
	Data   struct {
		ID string `json:"id"`
	} `json:"data"`
}

// ParseWebhook resolves a notification by fetching the payment it names;
// the notification itself carries no status.
func (mp *MercadoPago) ParseWebhook(ctx context.Context, _ http.Header, body []byte) (domain.WebhookNotice, error) {
	var n mpNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return domain.WebhookNotice{}, domain.Invalid("malformed mercadopago notification: " + err.Error())
	}
	if n.Type != "payment" || n.Data.ID == "" {
		return domain.WebhookNotice{}, domain.Invalid(fmt.Sprintf("unsupported mercadopago notification type %q", n.Type))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mp.baseURL+"/v1/payments/"+n.Data.ID, nil)
	if err != nil {
		return domain.WebhookNotice{}, err
	}
	req.Header.Set("Authorization", "Bearer "+mp.token)
	raw, err := do(mp.http, req)
	if err != nil {
		return domain.WebhookNotice{}, domain.Integration(mp.Name(), fmt.Errorf("fetch payment %s: %w", n.Data.ID, err))
	}
	var p mpPayment
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.WebhookNotice{}, domain.Integration(mp.Name(), fmt.Errorf("decode payment %s: %w", n.Data.ID, err))
	}
	eventID := n.ID.String()
	if eventID == "" {
		eventID = n.Data.ID + ":" + p.Status
	}
	providerRef := n.Data.ID
	out := domain.WebhookNotice{
		Provider:          domain.ProviderMercadoPago,
		EventID:           eventID,
		ProviderIntentRef: p.ExternalReference,
		IntentStatus:      mercadoPagoStatuses.lookup(p.Status),
		ProviderRef:       &providerRef,
	}
	if t, err := time.Parse("2006-01-02T15:04:05.000-07:00", p.DateApproved); err == nil {
		out.PaidAt = &t
	}
	return out, nil
}
