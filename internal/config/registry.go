package config

import (
	"fmt"

	"github.com/shopspring/decimal"

	"barsim/pkg/types"
)

// Default precisions when a pair or symbol was never registered.
var (
	defaultPairInfo        = types.PairInfo{BasePrecision: 0, QuotePrecision: 2}
	defaultSymbolPrecision = int32(2)
)

// Registry holds the per-pair and per-symbol precisions consulted by the
// exchange while rounding amounts. It is populated during construction
// and effectively immutable once bars start flowing, so it carries no
// locking; the simulation is single-threaded.
type Registry struct {
	defaultPair types.PairInfo
	pairs       map[types.Pair]types.PairInfo
	symbols     map[string]int32
}

// NewRegistry creates a registry that falls back to def for unknown pairs.
func NewRegistry(def types.PairInfo) *Registry {
	return &Registry{
		defaultPair: def,
		pairs:       make(map[types.Pair]types.PairInfo),
		symbols:     make(map[string]int32),
	}
}

// PairInfo returns the precisions for pair, falling back to the default.
func (r *Registry) PairInfo(pair types.Pair) types.PairInfo {
	if info, ok := r.pairs[pair]; ok {
		return info
	}
	return r.defaultPair
}

// SetPairInfo registers the precisions for a pair.
func (r *Registry) SetPairInfo(pair types.Pair, info types.PairInfo) {
	r.pairs[pair] = info
}

// SymbolPrecision returns the precision for a standalone symbol amount
// (loan interest), falling back to the default.
func (r *Registry) SymbolPrecision(symbol string) int32 {
	if precision, ok := r.symbols[symbol]; ok {
		return precision
	}
	return defaultSymbolPrecision
}

// SetSymbolPrecision registers the precision for a symbol.
func (r *Registry) SetSymbolPrecision(symbol string, precision int32) {
	r.symbols[symbol] = precision
}

// BuildRegistry materializes the file config's pair and symbol tables.
func (c *Config) BuildRegistry() *Registry {
	r := NewRegistry(defaultPairInfo)
	for _, p := range c.Pairs {
		r.SetPairInfo(
			types.Pair{Base: p.Base, Quote: p.Quote},
			types.PairInfo{BasePrecision: p.BasePrecision, QuotePrecision: p.QuotePrecision},
		)
	}
	for _, s := range c.Symbols {
		r.SetSymbolPrecision(s.Symbol, s.Precision)
	}
	return r
}

// ParsePair resolves a "BASE/QUOTE" string against the configured pairs.
func (c *Config) ParsePair(s string) (types.Pair, error) {
	for _, p := range c.Pairs {
		if p.Base+"/"+p.Quote == s {
			return types.Pair{Base: p.Base, Quote: p.Quote}, nil
		}
	}
	return types.Pair{}, fmt.Errorf("pair %q is not configured", s)
}

// DecimalBalances parses the initial_balances table into decimals.
// Validate must have been called first; malformed amounts are skipped.
func (c *Config) DecimalBalances() map[string]decimal.Decimal {
	ret := make(map[string]decimal.Decimal, len(c.InitialBalances))
	for symbol, amount := range c.InitialBalances {
		if d, err := decimal.NewFromString(amount); err == nil {
			ret[symbol] = d
		}
	}
	return ret
}
