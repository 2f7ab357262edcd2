// Package feed provides the bar sources that drive a backtest: OHLCV
// rows loaded from CSV files or fetched as klines from the Binance REST
// API. Either way the bars end up in a BarSource, which feeds the
// dispatcher in chronological order.
package feed

import (
	"fmt"

	"barsim/internal/dispatch"
	"barsim/pkg/types"
)

// BarSource serves a pre-loaded, chronologically ordered slice of bars
// as a dispatch source.
type BarSource struct {
	bars []types.Bar
	pos  int
}

// NewBarSource validates the bars (well-formed, strictly chronological)
// and wraps them in a source.
func NewBarSource(bars []types.Bar) (*BarSource, error) {
	for i, bar := range bars {
		if err := bar.Validate(); err != nil {
			return nil, fmt.Errorf("bar %d: %w", i, err)
		}
		if i > 0 && !bars[i-1].When.Before(bar.When) {
			return nil, fmt.Errorf("bar %d: timestamp %s not after %s", i, bar.When, bars[i-1].When)
		}
	}
	return &BarSource{bars: bars}, nil
}

// Len returns the number of bars left to serve.
func (s *BarSource) Len() int {
	return len(s.bars) - s.pos
}

func (s *BarSource) Peek() dispatch.Event {
	if s.pos >= len(s.bars) {
		return nil
	}
	return types.BarEvent{Bar: s.bars[s.pos]}
}

func (s *BarSource) Pop() dispatch.Event {
	if s.pos >= len(s.bars) {
		return nil
	}
	event := types.BarEvent{Bar: s.bars[s.pos]}
	s.pos++
	return event
}
