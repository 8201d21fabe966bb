package domain

import "time"

type ProviderName string

const (
	ProviderMock        ProviderName = "mock"
	ProviderWechat      ProviderName = "wechat"
	ProviderMercadoPago ProviderName = "mercadopago"
	ProviderStripe      ProviderName = "stripe"
)

// AllProviders is the closed set of gateways the service can talk to.
var AllProviders = []ProviderName{ProviderMock, ProviderWechat, ProviderMercadoPago, ProviderStripe}

func ParseProviderName(s string) (ProviderName, bool) {
	for _, p := range AllProviders {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}

type IntentStatus string

const (
	IntentRequiresAction IntentStatus = "REQUIRES_ACTION"
	IntentProcessing     IntentStatus = "PROCESSING"
	IntentSucceeded      IntentStatus = "SUCCEEDED"
	IntentFailed         IntentStatus = "FAILED"
	IntentCanceled       IntentStatus = "CANCELED"
	IntentExpired        IntentStatus = "EXPIRED"
)

func ParseIntentStatus(s string) (IntentStatus, bool) {
	switch st := IntentStatus(s); st {
	case IntentRequiresAction, IntentProcessing, IntentSucceeded, IntentFailed, IntentCanceled, IntentExpired:
		return st, true
	}
	return "", false
}

// IsActive reports whether the attempt is still in flight.
func (s IntentStatus) IsActive() bool {
	return s == IntentRequiresAction || s == IntentProcessing
}

// IsTerminal reports whether the attempt has finished.
func (s IntentStatus) IsTerminal() bool {
	return s == IntentSucceeded || s == IntentFailed || s == IntentCanceled || s == IntentExpired
}

// CanBecome reports whether a provider-reported status may replace s.
// Finished attempts never return to an active status. A late success may
// still close a failed, canceled or expired attempt since the money moved.
func (s IntentStatus) CanBecome(next IntentStatus) bool {
	switch {
	case s == next, s == IntentSucceeded:
		return false
	case s.IsTerminal():
		return next == IntentSucceeded
	}
	return true
}

// PaymentStatusFor maps a reported intent status onto the payment. The
// boolean is false when the intent status says nothing about the payment.
func PaymentStatusFor(s IntentStatus) (PaymentStatus, bool) {
	switch s {
	case IntentSucceeded:
		return PaymentPaid, true
	case IntentFailed, IntentCanceled, IntentExpired:
		return PaymentFailed, true
	}
	return "", false
}

type Channel string

const (
	ChannelWeb    Channel = "web"
	ChannelMobile Channel = "mobile"
)

func ParseChannel(s string) (Channel, bool) {
	switch c := Channel(s); c {
	case ChannelWeb, ChannelMobile:
		return c, true
	case "":
		return "", true
	}
	return "", false
}

type PaymentIntent struct {
	ID                string         `json:"id"`
	PaymentID         string         `json:"paymentId"`
	Provider          ProviderName   `json:"provider"`
	Status            IntentStatus   `json:"status"`
	IdempotencyKey    string         `json:"idempotencyKey"`
	ProviderIntentRef string         `json:"providerIntentRef"`
	ClientPayload     map[string]any `json:"clientPayload"`
	ExpiresAt         *time.Time     `json:"expiresAt,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// Lapsed reports whether an active intent is past its expiry.
func (i *PaymentIntent) Lapsed(now time.Time) bool {
	return i.Status.IsActive() && i.ExpiresAt != nil && now.After(*i.ExpiresAt)
}

// IntentRequest is what a gateway needs to open one payment attempt.
type IntentRequest struct {
	Payment        Payment
	Payer          Payer
	IdempotencyKey string
	Channel        Channel
}

// IntentResult is the canonical shape every gateway response is mapped into.
type IntentResult struct {
	Status            IntentStatus
	ProviderIntentRef string
	ClientPayload     map[string]any
	ExpiresAt         *time.Time
}

// WebhookNotice is a provider notification after adapter translation.
type WebhookNotice struct {
	Provider          ProviderName
	EventID           string
	ProviderIntentRef string
	IntentStatus      IntentStatus
	ProviderRef       *string
	PaidAt            *time.Time
}

type WebhookEvent struct {
	ID            string         `json:"id"`
	Provider      ProviderName   `json:"provider"`
	EventID       string         `json:"eventId"`
	Payload       []byte         `json:"-"`
	IntentStatus  *IntentStatus  `json:"intentStatus,omitempty"`
	PaymentStatus *PaymentStatus `json:"paymentStatus,omitempty"`
	ProcessedAt   *time.Time     `json:"processedAt,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}
