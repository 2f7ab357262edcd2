// Package strategy ships a small reference strategy for driving the
// exchange facade: a moving-average cross. It exists so a backtest run is
// useful out of the box and doubles as an example of the consumer-side
// API — real strategies live outside this repository.
package strategy

import (
	"log/slog"

	"github.com/shopspring/decimal"

	"barsim/internal/exchange"
	"barsim/pkg/types"
)

// Trader is the slice of the exchange facade the strategy acts through.
type Trader interface {
	CreateMarketOrder(operation types.Side, pair types.Pair, amount decimal.Decimal) (exchange.CreatedOrder, error)
}

// SMACross buys when the fast moving average of closes crosses above the
// slow one and sells the position back when it crosses below.
type SMACross struct {
	trader    Trader
	pair      types.Pair
	fast      int
	slow      int
	orderSize decimal.Decimal

	closes   []decimal.Decimal
	position decimal.Decimal
	logger   *slog.Logger
}

// NewSMACross creates the strategy. fast must be smaller than slow.
func NewSMACross(trader Trader, pair types.Pair, fast, slow int, orderSize decimal.Decimal, logger *slog.Logger) *SMACross {
	return &SMACross{
		trader:    trader,
		pair:      pair,
		fast:      fast,
		slow:      slow,
		orderSize: orderSize,
		logger:    logger.With("component", "sma-cross"),
	}
}

// OnBarEvent consumes one bar; subscribe it via SubscribeToBarEvents.
func (s *SMACross) OnBarEvent(event types.BarEvent) {
	s.closes = append(s.closes, event.Bar.Close)
	if len(s.closes) <= s.slow {
		return
	}
	// Keep one extra close so the previous averages can be compared.
	if len(s.closes) > s.slow+1 {
		s.closes = s.closes[1:]
	}

	fastPrev, fastCur := s.sma(s.fast)
	slowPrev, slowCur := s.sma(s.slow)

	crossedUp := fastPrev.LessThanOrEqual(slowPrev) && fastCur.GreaterThan(slowCur)
	crossedDown := fastPrev.GreaterThanOrEqual(slowPrev) && fastCur.LessThan(slowCur)

	switch {
	case crossedUp && s.position.IsZero():
		if _, err := s.trader.CreateMarketOrder(types.BUY, s.pair, s.orderSize); err != nil {
			s.logger.Warn("buy rejected", "error", err)
			return
		}
		s.position = s.orderSize
		s.logger.Info("golden cross", "pair", s.pair.String(), "close", event.Bar.Close)

	case crossedDown && s.position.IsPositive():
		if _, err := s.trader.CreateMarketOrder(types.SELL, s.pair, s.position); err != nil {
			s.logger.Warn("sell rejected", "error", err)
			return
		}
		s.logger.Info("death cross", "pair", s.pair.String(), "close", event.Bar.Close)
		s.position = decimal.Zero
	}
}

// sma returns the average of the last window closes, once excluding the
// newest close (prev) and once including it (cur).
func (s *SMACross) sma(window int) (prev, cur decimal.Decimal) {
	n := decimal.NewFromInt(int64(window))
	sumPrev, sumCur := decimal.Zero, decimal.Zero
	last := len(s.closes) - 1
	for i := 0; i < window; i++ {
		sumCur = sumCur.Add(s.closes[last-i])
		sumPrev = sumPrev.Add(s.closes[last-1-i])
	}
	return sumPrev.Div(n), sumCur.Div(n)
}
