// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the simulator — trading pairs,
// OHLCV bars, order enums, and balance snapshots. It has no dependencies on
// internal packages, so it can be imported by any layer.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// BaseSign returns the sign of the base-symbol movement for the side:
// +1 for BUY (base is received), -1 for SELL (base is given).
func (s Side) BaseSign() decimal.Decimal {
	if s == SELL {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// OrderState enumerates the order lifecycle states.
type OrderState string

const (
	OrderOpen      OrderState = "OPEN"
	OrderCompleted OrderState = "COMPLETED"
	OrderCanceled  OrderState = "CANCELED"
)

// OrderType enumerates the supported order kinds.
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStop      OrderType = "STOP"
	OrderTypeStopLimit OrderType = "STOP_LIMIT"
)

// ————————————————————————————————————————————————————————————————————————
// Pairs and bars
// ————————————————————————————————————————————————————————————————————————

// Pair is a trading pair. In BTC/USD, BTC is the base symbol and USD is
// the quote symbol; prices are quote-per-base.
type Pair struct {
	Base  string
	Quote string
}

func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

// PairInfo carries the rounding precisions for a pair: base amounts are
// kept to BasePrecision fractional digits, quote amounts (and prices) to
// QuotePrecision.
type PairInfo struct {
	BasePrecision  int32
	QuotePrecision int32
}

// Bar summarizes trading activity in a time window: open, high, low and
// close prices plus the traded base volume.
type Bar struct {
	Pair   Pair
	When   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// Validate checks the bar invariants: low <= open,close <= high and
// volume >= 0.
func (b Bar) Validate() error {
	if b.Low.GreaterThan(b.Open) || b.Low.GreaterThan(b.Close) {
		return fmt.Errorf("bar %s @ %s: low %s above open/close", b.Pair, b.When, b.Low)
	}
	if b.High.LessThan(b.Open) || b.High.LessThan(b.Close) {
		return fmt.Errorf("bar %s @ %s: high %s below open/close", b.Pair, b.When, b.High)
	}
	if b.Volume.IsNegative() {
		return fmt.Errorf("bar %s @ %s: negative volume %s", b.Pair, b.When, b.Volume)
	}
	return nil
}

// BarEvent wraps a bar for delivery through the event dispatcher.
type BarEvent struct {
	Bar Bar
}

// When returns the event time; it satisfies the dispatcher's Event shape.
func (e BarEvent) When() time.Time {
	return e.Bar.When
}

// ————————————————————————————————————————————————————————————————————————
// Balances
// ————————————————————————————————————————————————————————————————————————

// Balance is the per-symbol balance snapshot reported by the exchange.
type Balance struct {
	// Funds immediately usable for new orders.
	Available decimal.Decimal

	// Funds reserved against open orders or loan collateral.
	Hold decimal.Decimal

	// Funds credited through open loans.
	Borrowed decimal.Decimal

	// Interest owed.
	Interest decimal.Decimal

	// (available + hold) - (borrowed + interest).
	Total decimal.Decimal
}

// NewBalance builds a Balance with Total derived from the other fields.
func NewBalance(available, hold, borrowed, interest decimal.Decimal) Balance {
	return Balance{
		Available: available,
		Hold:      hold,
		Borrowed:  borrowed,
		Interest:  interest,
		Total:     available.Add(hold).Sub(borrowed.Add(interest)),
	}
}
