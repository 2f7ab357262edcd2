package money

import (
	"sort"

	"github.com/shopspring/decimal"
)

// ValueMap maps a symbol to a signed amount. It is the currency of the
// whole simulator: balance updates, fees, holds and interest all travel
// as ValueMaps. A nil ValueMap behaves as empty.
type ValueMap map[string]decimal.Decimal

// Get returns the amount for symbol, or zero if absent.
func (m ValueMap) Get(symbol string) decimal.Decimal {
	if m == nil {
		return decimal.Zero
	}
	return m[symbol]
}

// Copy returns an independent copy.
func (m ValueMap) Copy() ValueMap {
	ret := make(ValueMap, len(m))
	for symbol, amount := range m {
		ret[symbol] = amount
	}
	return ret
}

// Plus returns a new map with other's amounts added per symbol.
func (m ValueMap) Plus(other ValueMap) ValueMap {
	ret := m.Copy()
	for symbol, amount := range other {
		ret[symbol] = ret[symbol].Add(amount)
	}
	return ret
}

// Minus returns a new map with other's amounts subtracted per symbol.
func (m ValueMap) Minus(other ValueMap) ValueMap {
	ret := m.Copy()
	for symbol, amount := range other {
		ret[symbol] = ret[symbol].Sub(amount)
	}
	return ret
}

// Negated returns a new map with every amount negated.
func (m ValueMap) Negated() ValueMap {
	ret := make(ValueMap, len(m))
	for symbol, amount := range m {
		ret[symbol] = amount.Neg()
	}
	return ret
}

// Prune returns a new map without zero amounts.
func (m ValueMap) Prune() ValueMap {
	ret := make(ValueMap, len(m))
	for symbol, amount := range m {
		if !amount.IsZero() {
			ret[symbol] = amount
		}
	}
	return ret
}

// Negatives returns the negative entries sign-flipped, i.e. the amounts
// that must be paid: {symbol: -amount for amount < 0}.
func (m ValueMap) Negatives() ValueMap {
	ret := ValueMap{}
	for symbol, amount := range m {
		if amount.IsNegative() {
			ret[symbol] = amount.Neg()
		}
	}
	return ret
}

// Symbols returns the symbols in sorted order, for deterministic iteration.
func (m ValueMap) Symbols() []string {
	ret := make([]string, 0, len(m))
	for symbol := range m {
		ret = append(ret, symbol)
	}
	sort.Strings(ret)
	return ret
}
