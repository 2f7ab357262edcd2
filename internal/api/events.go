package api

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event is the wrapper for everything streamed to dashboard clients.
type Event struct {
	Type      string    `json:"type"` // "bar", "fill", "order", "loan", "snapshot"
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// BarEvent mirrors a processed bar.
type BarEvent struct {
	Pair   string          `json:"pair"`
	When   time.Time       `json:"when"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// FillEvent reports an order fill.
type FillEvent struct {
	OrderID        string                     `json:"order_id"`
	Pair           string                     `json:"pair"`
	Operation      string                     `json:"operation"`
	State          string                     `json:"state"`
	BalanceUpdates map[string]decimal.Decimal `json:"balance_updates"`
	Fees           map[string]decimal.Decimal `json:"fees,omitempty"`
}

// OrderEvent reports order lifecycle transitions: acceptance and cancels.
type OrderEvent struct {
	OrderID   string          `json:"order_id"`
	Pair      string          `json:"pair"`
	Operation string          `json:"operation"`
	Status    string          `json:"status"` // "ACCEPTED", "CANCELED"
	Amount    decimal.Decimal `json:"amount"`
}

// LoanEvent reports loan creation and repayment.
type LoanEvent struct {
	LoanID string          `json:"loan_id"`
	Symbol string          `json:"symbol"`
	Amount decimal.Decimal `json:"amount"`
	Status string          `json:"status"` // "CREATED", "REPAID"
}
