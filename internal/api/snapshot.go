package api

import (
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is the point-in-time state served at /api/snapshot and pushed
// to newly connected dashboard clients.
type Snapshot struct {
	GeneratedAt time.Time                  `json:"generated_at"`
	Balances    map[string]BalanceSnapshot `json:"balances"`
	OpenOrders  []OrderSnapshot            `json:"open_orders"`
	LastBars    []BarEvent                 `json:"last_bars"`
	OpenLoans   []LoanSnapshot             `json:"open_loans"`
}

// BalanceSnapshot mirrors the exchange's per-symbol balance report.
type BalanceSnapshot struct {
	Available decimal.Decimal `json:"available"`
	Hold      decimal.Decimal `json:"hold"`
	Borrowed  decimal.Decimal `json:"borrowed"`
	Interest  decimal.Decimal `json:"interest"`
	Total     decimal.Decimal `json:"total"`
}

// OrderSnapshot is a trimmed view of an open order.
type OrderSnapshot struct {
	ID           string          `json:"id"`
	Pair         string          `json:"pair"`
	Operation    string          `json:"operation"`
	Amount       decimal.Decimal `json:"amount"`
	AmountFilled decimal.Decimal `json:"amount_filled"`
}

// LoanSnapshot is a trimmed view of an open loan.
type LoanSnapshot struct {
	ID     string          `json:"id"`
	Symbol string          `json:"symbol"`
	Amount decimal.Decimal `json:"amount"`
}
