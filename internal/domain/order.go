package domain

import (
	"time"

	"mealsub-backend/internal/money"
)

type OrderStatus string

const (
	OrderCreated        OrderStatus = "CREATED"
	OrderConfirmed      OrderStatus = "CONFIRMED"
	OrderInProgress     OrderStatus = "IN_PROGRESS"
	OrderOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	OrderDelivered      OrderStatus = "DELIVERED"
	OrderReceived       OrderStatus = "RECEIVED"
	OrderCanceled       OrderStatus = "CANCELED"
)

// AllOrderStatuses lists every status in lifecycle order.
var AllOrderStatuses = []OrderStatus{
	OrderCreated,
	OrderConfirmed,
	OrderInProgress,
	OrderOutForDelivery,
	OrderDelivered,
	OrderReceived,
	OrderCanceled,
}

// RECEIVED and CANCELED have no outgoing edges.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderCreated:        {OrderConfirmed, OrderCanceled},
	OrderConfirmed:      {OrderInProgress, OrderCanceled},
	OrderInProgress:     {OrderOutForDelivery, OrderCanceled},
	OrderOutForDelivery: {OrderDelivered, OrderCanceled},
	OrderDelivered:      {OrderReceived},
}

func ParseOrderStatus(s string) (OrderStatus, bool) {
	for _, st := range AllOrderStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderReceived || s == OrderCanceled
}

// CanTransitionTo reports whether next is an edge of the transition table.
// Self-transitions are not edges; callers treat them separately.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, to := range orderTransitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

type OrderItem struct {
	MenuItemID string       `json:"menuItemId"`
	Name       string       `json:"name,omitempty"`
	Quantity   int          `json:"quantity"`
	UnitPrice  money.Amount `json:"unitPrice"`
}

func (i OrderItem) Subtotal() money.Amount {
	return i.UnitPrice.Times(i.Quantity)
}

type Order struct {
	ID           string       `json:"id"`
	CustomerID   *string      `json:"customerId"`
	OrderedAt    time.Time    `json:"orderedAt"`
	DeliveryDate Date         `json:"deliveryDate"`
	Status       OrderStatus  `json:"status"`
	TotalAmount  money.Amount `json:"totalAmount"`
	Items        []OrderItem  `json:"items"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// ComputeTotal sums qty x unit price over the line items.
func ComputeTotal(items []OrderItem) money.Amount {
	total := money.Zero()
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// OwnedBy reports whether the order belongs to the given customer.
func (o *Order) OwnedBy(customerID string) bool {
	return customerID != "" && o.CustomerID != nil && *o.CustomerID == customerID
}

type OrderFilter struct {
	// CustomerID restricts the listing; empty lists every order.
	CustomerID string
	Page       int
	PageSize   int
}

// MenuItem is an entry of the menu published for one delivery date.
type MenuItem struct {
	ID    string       `json:"id"`
	Name  string       `json:"name"`
	Price money.Amount `json:"price"`
}
