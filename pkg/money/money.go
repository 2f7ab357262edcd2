// Package money holds the monetary vocabulary shared across all packages:
// rounding helpers with the three modes the simulator needs, and ValueMap,
// a per-symbol map of signed decimal amounts.
//
// All monetary quantities are shopspring decimals; floats never touch a
// money path.
package money

import (
	"github.com/shopspring/decimal"
)

// Truncate drops fractional digits beyond precision, rounding toward zero.
// Base amounts are truncated so a fill can never exceed available liquidity.
func Truncate(d decimal.Decimal, precision int32) decimal.Decimal {
	return d.Truncate(precision)
}

// Round rounds half-to-even to the given precision. Quote amounts use this.
func Round(d decimal.Decimal, precision int32) decimal.Decimal {
	return d.RoundBank(precision)
}

// RoundUp rounds away from zero to the given precision. Fees use this so
// rounding never under-charges.
func RoundUp(d decimal.Decimal, precision int32) decimal.Decimal {
	return d.RoundUp(precision)
}

// Sign returns -1, 0 or 1 as a decimal.
func Sign(d decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(int64(d.Sign()))
}
