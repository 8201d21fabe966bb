package domain

import "time"

const (
	EventOrderCreated         = "order.created"
	EventOrderStatusChanged   = "order.status_changed"
	EventPaymentStatusChanged = "payment.status_changed"
	EventPaymentPaid          = "payment.paid"
)

// Event is published after the unit of work that produced it commits.
type Event struct {
	Type      string    `json:"type"`
	OrderID   string    `json:"orderId"`
	PaymentID string    `json:"paymentId,omitempty"`
	Status    string    `json:"status"`
	Amount    string    `json:"amount,omitempty"`
	Occurred  time.Time `json:"occurred"`
}
