package domain

import (
	"time"

	"mealsub-backend/internal/money"
)

const (
	SourceOrder      = "ORDER"
	SourceReceivable = "AR"
	DirectionIn      = "IN"
)

// Receivable is the amount owed for one order, unique per (SourceType, SourceID).
type Receivable struct {
	ID          string       `json:"id"`
	SourceType  string       `json:"sourceType"`
	SourceID    string       `json:"sourceId"`
	CustomerID  *string      `json:"customerId,omitempty"`
	AccountCode string       `json:"accountCode"`
	Amount      money.Amount `json:"amount"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// CashMovement is unique per (Direction, SourceType, SourceID).
type CashMovement struct {
	ID          string       `json:"id"`
	Direction   string       `json:"direction"`
	SourceType  string       `json:"sourceType"`
	SourceID    string       `json:"sourceId"`
	AccountCode string       `json:"accountCode"`
	Amount      money.Amount `json:"amount"`
	OccurredAt  time.Time    `json:"occurredAt"`
}

type LedgerAccounts struct {
	Receivable string
	Cash       string
}
