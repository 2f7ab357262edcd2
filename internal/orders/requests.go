package orders

import (
	"fmt"

	"github.com/shopspring/decimal"

	"barsim/internal/errs"
	"barsim/pkg/money"
	"barsim/pkg/types"
)

// Request is an order request as submitted through the exchange facade,
// validated against the pair's precisions before any state changes.
type Request interface {
	Pair() types.Pair
	Operation() types.Side
	Amount() decimal.Decimal
	Validate(info types.PairInfo) error
	// EstimatedFillPrice returns the price used to estimate the required
	// balances at acceptance, if the request implies one.
	EstimatedFillPrice() (decimal.Decimal, bool)
	// CreateOrder materializes the accepted request into an order entity.
	CreateOrder(id string, info types.PairInfo) Order
}

type baseRequest struct {
	operation types.Side
	pair      types.Pair
	amount    decimal.Decimal
}

func (r baseRequest) Pair() types.Pair        { return r.pair }
func (r baseRequest) Operation() types.Side   { return r.operation }
func (r baseRequest) Amount() decimal.Decimal { return r.amount }

func (r baseRequest) validate(info types.PairInfo) error {
	if r.operation != types.BUY && r.operation != types.SELL {
		return fmt.Errorf("operation %q: %w", r.operation, errs.ErrInvalidRequest)
	}
	if !r.amount.IsPositive() {
		return fmt.Errorf("amount %s must be positive: %w", r.amount, errs.ErrInvalidRequest)
	}
	if !r.amount.Equal(money.Truncate(r.amount, info.BasePrecision)) {
		return fmt.Errorf("amount %s exceeds base precision %d: %w",
			r.amount, info.BasePrecision, errs.ErrInvalidRequest)
	}
	return nil
}

func validatePrice(name string, price decimal.Decimal, info types.PairInfo) error {
	if !price.IsPositive() {
		return fmt.Errorf("%s %s must be positive: %w", name, price, errs.ErrInvalidRequest)
	}
	if !price.Equal(money.Truncate(price, info.QuotePrecision)) {
		return fmt.Errorf("%s %s exceeds quote precision %d: %w",
			name, price, info.QuotePrecision, errs.ErrInvalidRequest)
	}
	return nil
}

// MarketRequest asks for an immediate fill at the next bar's open.
type MarketRequest struct {
	baseRequest
}

func NewMarketRequest(operation types.Side, pair types.Pair, amount decimal.Decimal) MarketRequest {
	return MarketRequest{baseRequest{operation: operation, pair: pair, amount: amount}}
}

func (r MarketRequest) Validate(info types.PairInfo) error {
	return r.validate(info)
}

// EstimatedFillPrice is unknown for market orders; the facade falls back
// to the last seen price.
func (r MarketRequest) EstimatedFillPrice() (decimal.Decimal, bool) {
	return decimal.Zero, false
}

func (r MarketRequest) CreateOrder(id string, info types.PairInfo) Order {
	return NewMarketOrder(id, r.operation, r.pair, r.amount, info)
}

// LimitRequest asks for a fill at the limit price or better.
type LimitRequest struct {
	baseRequest
	limitPrice decimal.Decimal
}

func NewLimitRequest(operation types.Side, pair types.Pair, amount, limitPrice decimal.Decimal) LimitRequest {
	return LimitRequest{baseRequest{operation: operation, pair: pair, amount: amount}, limitPrice}
}

func (r LimitRequest) Validate(info types.PairInfo) error {
	if err := r.validate(info); err != nil {
		return err
	}
	return validatePrice("limit price", r.limitPrice, info)
}

func (r LimitRequest) EstimatedFillPrice() (decimal.Decimal, bool) {
	return r.limitPrice, true
}

func (r LimitRequest) CreateOrder(id string, info types.PairInfo) Order {
	return NewLimitOrder(id, r.operation, r.pair, r.amount, r.limitPrice, info)
}

// StopRequest becomes a market order once the stop price is reached.
type StopRequest struct {
	baseRequest
	stopPrice decimal.Decimal
}

func NewStopRequest(operation types.Side, pair types.Pair, amount, stopPrice decimal.Decimal) StopRequest {
	return StopRequest{baseRequest{operation: operation, pair: pair, amount: amount}, stopPrice}
}

func (r StopRequest) Validate(info types.PairInfo) error {
	if err := r.validate(info); err != nil {
		return err
	}
	return validatePrice("stop price", r.stopPrice, info)
}

func (r StopRequest) EstimatedFillPrice() (decimal.Decimal, bool) {
	return r.stopPrice, true
}

func (r StopRequest) CreateOrder(id string, info types.PairInfo) Order {
	return NewStopOrder(id, r.operation, r.pair, r.amount, r.stopPrice, info)
}

// StopLimitRequest becomes a limit order once the stop price is reached.
type StopLimitRequest struct {
	baseRequest
	stopPrice  decimal.Decimal
	limitPrice decimal.Decimal
}

func NewStopLimitRequest(operation types.Side, pair types.Pair, amount, stopPrice, limitPrice decimal.Decimal) StopLimitRequest {
	return StopLimitRequest{baseRequest{operation: operation, pair: pair, amount: amount}, stopPrice, limitPrice}
}

func (r StopLimitRequest) Validate(info types.PairInfo) error {
	if err := r.validate(info); err != nil {
		return err
	}
	if err := validatePrice("stop price", r.stopPrice, info); err != nil {
		return err
	}
	return validatePrice("limit price", r.limitPrice, info)
}

// EstimatedFillPrice is the limit price — that is where the execution
// will happen once triggered.
func (r StopLimitRequest) EstimatedFillPrice() (decimal.Decimal, bool) {
	return r.limitPrice, true
}

func (r StopLimitRequest) CreateOrder(id string, info types.PairInfo) Order {
	return NewStopLimitOrder(id, r.operation, r.pair, r.amount, r.stopPrice, r.limitPrice, info)
}
