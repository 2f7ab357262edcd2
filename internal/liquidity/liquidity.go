// Package liquidity models how much of a bar's traded volume an order can
// consume and at what price. One strategy instance exists per pair and
// lives for the whole backtest; the engine resets it on every bar.
package liquidity

import (
	"github.com/shopspring/decimal"

	"barsim/pkg/types"
)

// Strategy is the per-pair liquidity model.
//
// The contract is deliberately loose: the impacted price must be monotonic
// in the consumed share and sign-consistent with the trade direction
// (BUY pays more, SELL receives less). AvailableLiquidity must be
// non-increasing within a bar.
type Strategy interface {
	// OnBar resets the per-bar budget.
	OnBar(bar types.Bar)
	// AvailableLiquidity returns the base volume still fillable this bar.
	AvailableLiquidity() decimal.Decimal
	// CalculatePrice returns the execution price for a fill of the given
	// signed base amount (positive = BUY) starting from the liquidity
	// already consumed this bar. refPrice is the order's reference price:
	// the bar open for market-style fills, the trigger price for stops.
	CalculatePrice(refPrice, signedBase decimal.Decimal) decimal.Decimal
	// TakeLiquidity consumes budget after a fill commits.
	TakeLiquidity(amount decimal.Decimal)
}

// Factory builds a fresh strategy for a pair the engine sees for the
// first time.
type Factory func() Strategy

// ————————————————————————————————————————————————————————————————————————
// InfiniteLiquidity
// ————————————————————————————————————————————————————————————————————————

// infiniteBudget stands in for an unbounded per-bar budget. Orders clip
// their requested amount against it, so it only needs to exceed any
// realistic order size.
var infiniteBudget = decimal.New(1, 30)

// InfiniteLiquidity fills any amount at the reference price. Useful for
// quick experiments where volume modeling is noise.
type InfiniteLiquidity struct{}

func NewInfiniteLiquidity() *InfiniteLiquidity { return &InfiniteLiquidity{} }

func (l *InfiniteLiquidity) OnBar(types.Bar) {}

func (l *InfiniteLiquidity) AvailableLiquidity() decimal.Decimal { return infiniteBudget }

func (l *InfiniteLiquidity) CalculatePrice(refPrice, _ decimal.Decimal) decimal.Decimal {
	return refPrice
}

func (l *InfiniteLiquidity) TakeLiquidity(decimal.Decimal) {}

// ————————————————————————————————————————————————————————————————————————
// VolumeShareImpact
// ————————————————————————————————————————————————————————————————————————

// VolumeShareImpact caps per-bar fills at a fraction of the bar's volume
// and degrades the execution price convexly as that volume is consumed:
//
//	price = ref · (1 ± impact · share²)
//
// where share is the cumulative base amount consumed this bar divided by
// the bar's total volume. BUY pushes the price up, SELL down.
type VolumeShareImpact struct {
	volumeShare decimal.Decimal // fraction of bar volume fillable, e.g. 0.25
	priceImpact decimal.Decimal // impact coefficient, e.g. 0.1

	barVolume decimal.Decimal
	used      decimal.Decimal
}

// NewVolumeShareImpact builds the strategy. volumeShare and priceImpact
// are fractions (0.25 = 25% of volume, 0.1 = 10% impact at full volume).
func NewVolumeShareImpact(volumeShare, priceImpact decimal.Decimal) *VolumeShareImpact {
	return &VolumeShareImpact{volumeShare: volumeShare, priceImpact: priceImpact}
}

// DefaultVolumeShareImpact returns the strategy with the stock parameters:
// a quarter of each bar's volume, 10% impact coefficient.
func DefaultVolumeShareImpact() *VolumeShareImpact {
	return NewVolumeShareImpact(decimal.RequireFromString("0.25"), decimal.RequireFromString("0.1"))
}

func (l *VolumeShareImpact) OnBar(bar types.Bar) {
	l.barVolume = bar.Volume
	l.used = decimal.Zero
}

func (l *VolumeShareImpact) AvailableLiquidity() decimal.Decimal {
	remaining := l.barVolume.Mul(l.volumeShare).Sub(l.used)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

func (l *VolumeShareImpact) CalculatePrice(refPrice, signedBase decimal.Decimal) decimal.Decimal {
	amount := signedBase.Abs()
	if amount.IsZero() || l.barVolume.IsZero() {
		return refPrice
	}
	share := l.used.Add(amount).Div(l.barVolume)
	impact := refPrice.Mul(l.priceImpact).Mul(share.Mul(share))
	if signedBase.IsNegative() {
		return refPrice.Sub(impact)
	}
	return refPrice.Add(impact)
}

func (l *VolumeShareImpact) TakeLiquidity(amount decimal.Decimal) {
	l.used = l.used.Add(amount)
}
