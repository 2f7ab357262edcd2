// Package orders implements the order entities and their state machines:
// Market, Limit, Stop and StopLimit, each knowing how to compute the
// balance movement it would realize against a bar.
//
// The split the engine relies on: GetBalanceUpdates is a read-only probe
// against a bar (lifecycle state never changes inside it; stop orders may
// latch their trigger flag), AddFill commits a fill, and NotFilled is the
// post-bar notification for orders that did not trade.
package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"barsim/internal/liquidity"
	"barsim/pkg/money"
	"barsim/pkg/types"
)

// Fill records one (possibly partial) execution of an order.
type Fill struct {
	When time.Time

	// Signed per-symbol movement: positive credits, negative debits.
	BalanceUpdates money.ValueMap

	// Non-negative fee amounts charged for this fill.
	Fees money.ValueMap
}

// Order is the common interface over all order kinds.
type Order interface {
	ID() string
	Pair() types.Pair
	Operation() types.Side
	Type() types.OrderType
	Amount() decimal.Decimal
	AmountFilled() decimal.Decimal
	AmountRemaining() decimal.Decimal
	State() types.OrderState
	IsOpen() bool
	Fills() []Fill

	// GetBalanceUpdates computes the hypothetical movement this order
	// would realize against the bar, empty meaning no fill. It must not
	// change the order's lifecycle state.
	GetBalanceUpdates(bar types.Bar, liq liquidity.Strategy) money.ValueMap
	// AddFill commits a fill and completes the order once the remainder
	// truncates to zero at the pair's base precision.
	AddFill(when time.Time, balanceUpdates, fees money.ValueMap)
	// NotFilled is called after a bar on which the order did not trade.
	NotFilled()
	// Cancel transitions an open order to CANCELED.
	Cancel()

	Info() Info
}

// Info is the externally visible snapshot of an order.
type Info struct {
	ID              string
	Pair            types.Pair
	Type            types.OrderType
	Operation       types.Side
	State           types.OrderState
	IsOpen          bool
	Amount          decimal.Decimal
	AmountFilled    decimal.Decimal
	AmountRemaining decimal.Decimal
	LimitPrice      *decimal.Decimal
	StopPrice       *decimal.Decimal
	StopHit         *bool
	Fills           []Fill
}

// ————————————————————————————————————————————————————————————————————————
// Common state
// ————————————————————————————————————————————————————————————————————————

type baseOrder struct {
	id            string
	pair          types.Pair
	operation     types.Side
	amount        decimal.Decimal
	filled        decimal.Decimal
	state         types.OrderState
	fills         []Fill
	basePrecision int32
}

func newBaseOrder(id string, operation types.Side, pair types.Pair, amount decimal.Decimal, info types.PairInfo) baseOrder {
	return baseOrder{
		id:            id,
		pair:          pair,
		operation:     operation,
		amount:        amount,
		filled:        decimal.Zero,
		state:         types.OrderOpen,
		basePrecision: info.BasePrecision,
	}
}

func (o *baseOrder) ID() string                       { return o.id }
func (o *baseOrder) Pair() types.Pair                 { return o.pair }
func (o *baseOrder) Operation() types.Side            { return o.operation }
func (o *baseOrder) Amount() decimal.Decimal          { return o.amount }
func (o *baseOrder) AmountFilled() decimal.Decimal    { return o.filled }
func (o *baseOrder) AmountRemaining() decimal.Decimal { return o.amount.Sub(o.filled) }
func (o *baseOrder) State() types.OrderState          { return o.state }
func (o *baseOrder) IsOpen() bool                     { return o.state == types.OrderOpen }
func (o *baseOrder) Fills() []Fill                    { return o.fills }

func (o *baseOrder) AddFill(when time.Time, balanceUpdates, fees money.ValueMap) {
	o.filled = o.filled.Add(balanceUpdates.Get(o.pair.Base).Abs())
	o.fills = append(o.fills, Fill{When: when, BalanceUpdates: balanceUpdates.Copy(), Fees: fees.Copy()})
	// Base amounts are truncated on every fill, so completion is judged
	// at base precision rather than against the exact remainder.
	if money.Truncate(o.AmountRemaining(), o.basePrecision).IsZero() {
		o.state = types.OrderCompleted
	}
}

func (o *baseOrder) NotFilled() {}

func (o *baseOrder) Cancel() {
	if o.state == types.OrderOpen {
		o.state = types.OrderCanceled
	}
}

func (o *baseOrder) info(orderType types.OrderType) Info {
	return Info{
		ID:              o.id,
		Pair:            o.pair,
		Type:            orderType,
		Operation:       o.operation,
		State:           o.state,
		IsOpen:          o.IsOpen(),
		Amount:          o.amount,
		AmountFilled:    o.filled,
		AmountRemaining: o.AmountRemaining(),
		Fills:           append([]Fill(nil), o.fills...),
	}
}

// fillUpdates builds the balance movement of a fill: +base/-quote for a
// BUY, mirrored for a SELL.
func fillUpdates(operation types.Side, pair types.Pair, amount, price decimal.Decimal) money.ValueMap {
	sign := operation.BaseSign()
	return money.ValueMap{
		pair.Base:  amount.Mul(sign),
		pair.Quote: amount.Mul(price).Mul(sign).Neg(),
	}
}

// clipToLiquidity caps the unfilled remainder by the bar's remaining
// liquidity budget.
func (o *baseOrder) clipToLiquidity(liq liquidity.Strategy) decimal.Decimal {
	return decimal.Min(o.AmountRemaining(), liq.AvailableLiquidity())
}

// ————————————————————————————————————————————————————————————————————————
// Market
// ————————————————————————————————————————————————————————————————————————

// MarketOrder executes at the bar's open price, adjusted by liquidity
// impact. It is valid for a single bar: whatever is still unfilled after
// that bar is abandoned.
type MarketOrder struct {
	baseOrder
}

func NewMarketOrder(id string, operation types.Side, pair types.Pair, amount decimal.Decimal, info types.PairInfo) *MarketOrder {
	return &MarketOrder{baseOrder: newBaseOrder(id, operation, pair, amount, info)}
}

func (o *MarketOrder) Type() types.OrderType { return types.OrderTypeMarket }

func (o *MarketOrder) GetBalanceUpdates(bar types.Bar, liq liquidity.Strategy) money.ValueMap {
	amount := o.clipToLiquidity(liq)
	if !amount.IsPositive() {
		return nil
	}
	price := liq.CalculatePrice(bar.Open, amount.Mul(o.operation.BaseSign()))
	if !price.IsPositive() {
		return nil
	}
	return fillUpdates(o.operation, o.pair, amount, price)
}

// AddFill completes the one-bar lifecycle: a partial fill leaves nothing
// to carry to the next bar, so the residual is canceled immediately.
func (o *MarketOrder) AddFill(when time.Time, balanceUpdates, fees money.ValueMap) {
	o.baseOrder.AddFill(when, balanceUpdates, fees)
	o.Cancel()
}

// NotFilled cancels the order: market orders do not rest on the book.
func (o *MarketOrder) NotFilled() {
	o.Cancel()
}

func (o *MarketOrder) Info() Info {
	return o.info(types.OrderTypeMarket)
}

// ————————————————————————————————————————————————————————————————————————
// Limit
// ————————————————————————————————————————————————————————————————————————

// LimitOrder fills at its limit price once a bar touches it: a BUY when
// the bar trades at or below the limit, a SELL at or above. The fill
// price is always the limit itself, never better — bar data cannot tell
// where inside the range the touch happened.
type LimitOrder struct {
	baseOrder
	limitPrice decimal.Decimal
}

func NewLimitOrder(id string, operation types.Side, pair types.Pair, amount, limitPrice decimal.Decimal, info types.PairInfo) *LimitOrder {
	return &LimitOrder{
		baseOrder:  newBaseOrder(id, operation, pair, amount, info),
		limitPrice: limitPrice,
	}
}

func (o *LimitOrder) Type() types.OrderType       { return types.OrderTypeLimit }
func (o *LimitOrder) LimitPrice() decimal.Decimal { return o.limitPrice }

func (o *LimitOrder) GetBalanceUpdates(bar types.Bar, liq liquidity.Strategy) money.ValueMap {
	amount := o.clipToLiquidity(liq)
	if !amount.IsPositive() {
		return nil
	}
	if !limitTouched(o.operation, o.limitPrice, bar) {
		return nil
	}
	return fillUpdates(o.operation, o.pair, amount, o.limitPrice)
}

func (o *LimitOrder) Info() Info {
	ret := o.info(types.OrderTypeLimit)
	limit := o.limitPrice
	ret.LimitPrice = &limit
	return ret
}

func limitTouched(operation types.Side, limitPrice decimal.Decimal, bar types.Bar) bool {
	if operation == types.BUY {
		return bar.Low.LessThanOrEqual(limitPrice)
	}
	return bar.High.GreaterThanOrEqual(limitPrice)
}

// ————————————————————————————————————————————————————————————————————————
// Stop
// ————————————————————————————————————————————————————————————————————————

// StopOrder rests until the bar range reaches its stop price, then
// executes as a market order. On the trigger bar the reference price is
// the worse of the stop and the open (the order cannot execute before the
// market reaches the stop); on later bars it is the open.
type StopOrder struct {
	baseOrder
	stopPrice decimal.Decimal
	stopHit   bool
}

func NewStopOrder(id string, operation types.Side, pair types.Pair, amount, stopPrice decimal.Decimal, info types.PairInfo) *StopOrder {
	return &StopOrder{
		baseOrder: newBaseOrder(id, operation, pair, amount, info),
		stopPrice: stopPrice,
	}
}

func (o *StopOrder) Type() types.OrderType      { return types.OrderTypeStop }
func (o *StopOrder) StopPrice() decimal.Decimal { return o.stopPrice }
func (o *StopOrder) StopHit() bool              { return o.stopHit }

func (o *StopOrder) GetBalanceUpdates(bar types.Bar, liq liquidity.Strategy) money.ValueMap {
	ref, ok := o.referencePrice(bar)
	if !ok {
		return nil
	}
	amount := o.clipToLiquidity(liq)
	if !amount.IsPositive() {
		return nil
	}
	price := liq.CalculatePrice(ref, amount.Mul(o.operation.BaseSign()))
	if !price.IsPositive() {
		return nil
	}
	return fillUpdates(o.operation, o.pair, amount, price)
}

// referencePrice resolves the two-phase trigger. The latch survives bars
// without liquidity: once hit, the order keeps behaving as a market order
// until it fills.
func (o *StopOrder) referencePrice(bar types.Bar) (decimal.Decimal, bool) {
	if o.stopHit {
		return bar.Open, true
	}
	if !stopTriggered(o.operation, o.stopPrice, bar) {
		return decimal.Zero, false
	}
	o.stopHit = true
	if o.operation == types.BUY {
		return decimal.Max(o.stopPrice, bar.Open), true
	}
	return decimal.Min(o.stopPrice, bar.Open), true
}

func (o *StopOrder) Info() Info {
	ret := o.info(types.OrderTypeStop)
	stop := o.stopPrice
	hit := o.stopHit
	ret.StopPrice = &stop
	ret.StopHit = &hit
	return ret
}

func stopTriggered(operation types.Side, stopPrice decimal.Decimal, bar types.Bar) bool {
	if operation == types.BUY {
		return bar.High.GreaterThanOrEqual(stopPrice)
	}
	return bar.Low.LessThanOrEqual(stopPrice)
}

// ————————————————————————————————————————————————————————————————————————
// StopLimit
// ————————————————————————————————————————————————————————————————————————

// StopLimitOrder triggers like a stop and then fills like a limit order.
// When the stop trips inside a bar whose range also satisfies the limit,
// the fill happens on that same bar at the limit price.
type StopLimitOrder struct {
	baseOrder
	stopPrice  decimal.Decimal
	limitPrice decimal.Decimal
	stopHit    bool
}

func NewStopLimitOrder(id string, operation types.Side, pair types.Pair, amount, stopPrice, limitPrice decimal.Decimal, info types.PairInfo) *StopLimitOrder {
	return &StopLimitOrder{
		baseOrder:  newBaseOrder(id, operation, pair, amount, info),
		stopPrice:  stopPrice,
		limitPrice: limitPrice,
	}
}

func (o *StopLimitOrder) Type() types.OrderType       { return types.OrderTypeStopLimit }
func (o *StopLimitOrder) StopPrice() decimal.Decimal  { return o.stopPrice }
func (o *StopLimitOrder) LimitPrice() decimal.Decimal { return o.limitPrice }
func (o *StopLimitOrder) StopHit() bool               { return o.stopHit }

func (o *StopLimitOrder) GetBalanceUpdates(bar types.Bar, liq liquidity.Strategy) money.ValueMap {
	if !o.stopHit {
		if !stopTriggered(o.operation, o.stopPrice, bar) {
			return nil
		}
		o.stopHit = true
	}
	amount := o.clipToLiquidity(liq)
	if !amount.IsPositive() {
		return nil
	}
	if !limitTouched(o.operation, o.limitPrice, bar) {
		return nil
	}
	return fillUpdates(o.operation, o.pair, amount, o.limitPrice)
}

func (o *StopLimitOrder) Info() Info {
	ret := o.info(types.OrderTypeStopLimit)
	stop := o.stopPrice
	limit := o.limitPrice
	hit := o.stopHit
	ret.StopPrice = &stop
	ret.LimitPrice = &limit
	ret.StopHit = &hit
	return ret
}
