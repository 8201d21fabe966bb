package domain

import (
	"time"

	"mealsub-backend/internal/money"
)

type PaymentMethod string

const (
	MethodPix       PaymentMethod = "PIX"
	MethodCard      PaymentMethod = "CARD"
	MethodWechatPay PaymentMethod = "WECHAT_PAY"
	MethodCash      PaymentMethod = "CASH"
)

func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	switch m := PaymentMethod(s); m {
	case MethodPix, MethodCard, MethodWechatPay, MethodCash:
		return m, true
	}
	return "", false
}

// SupportsOnlineIntent reports whether a provider-backed attempt can be
// started for the method. Cash is settled at delivery.
func (m PaymentMethod) SupportsOnlineIntent() bool {
	return m != MethodCash
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending: {PaymentPaid, PaymentFailed},
	PaymentFailed:  {PaymentPending, PaymentPaid},
	PaymentPaid:    {PaymentRefunded},
}

func ParsePaymentStatus(s string) (PaymentStatus, bool) {
	switch st := PaymentStatus(s); st {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded:
		return st, true
	}
	return "", false
}

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, to := range paymentTransitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

type Payment struct {
	ID          string        `json:"id"`
	OrderID     string        `json:"orderId"`
	Method      PaymentMethod `json:"method"`
	Status      PaymentStatus `json:"status"`
	Amount      money.Amount  `json:"amount"`
	ProviderRef *string       `json:"providerRef,omitempty"`
	PaidAt      *time.Time    `json:"paidAt,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// Payer is the customer identity handed to gateways.
type Payer struct {
	CustomerID string
	Email      string
	OpenID     string
}
