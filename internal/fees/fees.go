// Package fees maps fills to the fees charged for them. Fee amounts are
// always non-negative costs; the engine subtracts them from the trader's
// balances and rounds them up to the relevant precision so rounding never
// under-charges.
package fees

import (
	"github.com/shopspring/decimal"

	"barsim/pkg/money"
	"barsim/pkg/types"
)

// Order is the slice of an order the fee strategies need.
type Order interface {
	Pair() types.Pair
	Operation() types.Side
}

// Strategy computes the fees for a fill described by its balance updates.
type Strategy interface {
	CalculateFees(order Order, balanceUpdates money.ValueMap) money.ValueMap
}

// NoFee charges nothing.
type NoFee struct{}

func NewNoFee() *NoFee { return &NoFee{} }

func (f *NoFee) CalculateFees(Order, money.ValueMap) money.ValueMap {
	return nil
}

// Percentage charges a percentage of what the trader pays: the negative
// side of the balance update. For a BUY that is the quote amount, for a
// SELL the base amount.
type Percentage struct {
	rate decimal.Decimal // percent per fill, e.g. 0.25 for 0.25%
}

// NewPercentage builds the strategy; rate is a percentage (0.25 = 0.25%).
func NewPercentage(rate decimal.Decimal) *Percentage {
	return &Percentage{rate: rate}
}

func (f *Percentage) CalculateFees(order Order, balanceUpdates money.ValueMap) money.ValueMap {
	ret := money.ValueMap{}
	hundred := decimal.NewFromInt(100)
	for _, symbol := range []string{order.Pair().Base, order.Pair().Quote} {
		amount := balanceUpdates.Get(symbol)
		if amount.IsNegative() {
			ret[symbol] = amount.Abs().Mul(f.rate).Div(hundred)
		}
	}
	return ret
}
