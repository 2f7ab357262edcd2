package orders

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"barsim/internal/errs"
	"barsim/internal/liquidity"
	"barsim/pkg/types"
)

var (
	btcusd   = types.Pair{Base: "BTC", Quote: "USD"}
	pairInfo = types.PairInfo{BasePrecision: 8, QuotePrecision: 2}
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func bar(open, high, low, closep, volume string) types.Bar {
	return types.Bar{
		Pair:   btcusd,
		When:   time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		Open:   d(open),
		High:   d(high),
		Low:    d(low),
		Close:  d(closep),
		Volume: d(volume),
	}
}

func infinite() liquidity.Strategy {
	l := liquidity.NewInfiniteLiquidity()
	l.OnBar(bar("100", "110", "95", "105", "10"))
	return l
}

func TestMarketOrderFillsAtOpen(t *testing.T) {
	t.Parallel()
	o := NewMarketOrder("o1", types.BUY, btcusd, d("1"), pairInfo)

	updates := o.GetBalanceUpdates(bar("100", "110", "95", "105", "10"), infinite())
	if !updates["BTC"].Equal(d("1")) || !updates["USD"].Equal(d("-100")) {
		t.Fatalf("updates = %v, want {BTC: 1, USD: -100}", updates)
	}
	if o.State() != types.OrderOpen {
		t.Error("GetBalanceUpdates changed the order state")
	}

	o.AddFill(time.Now(), updates, nil)
	if o.State() != types.OrderCompleted {
		t.Errorf("state = %s, want COMPLETED", o.State())
	}
	if !o.AmountFilled().Equal(d("1")) {
		t.Errorf("filled = %s, want 1", o.AmountFilled())
	}
	if len(o.Fills()) != 1 {
		t.Errorf("fills = %d, want 1", len(o.Fills()))
	}
}

func TestMarketOrderSellFlipsSigns(t *testing.T) {
	t.Parallel()
	o := NewMarketOrder("o1", types.SELL, btcusd, d("2"), pairInfo)

	updates := o.GetBalanceUpdates(bar("100", "110", "95", "105", "10"), infinite())
	if !updates["BTC"].Equal(d("-2")) || !updates["USD"].Equal(d("200")) {
		t.Fatalf("updates = %v, want {BTC: -2, USD: 200}", updates)
	}
}

func TestMarketOrderCanceledWhenNotFilled(t *testing.T) {
	t.Parallel()
	o := NewMarketOrder("o1", types.BUY, btcusd, d("1"), pairInfo)
	o.NotFilled()
	if o.State() != types.OrderCanceled {
		t.Errorf("state = %s, want CANCELED", o.State())
	}
}

func TestMarketOrderPartialFillCancelsRemainder(t *testing.T) {
	t.Parallel()
	o := NewMarketOrder("o1", types.BUY, btcusd, d("1"), pairInfo)
	l := liquidity.NewVolumeShareImpact(d("0.25"), d("0.1"))
	l.OnBar(bar("100", "110", "95", "105", "1"))

	updates := o.GetBalanceUpdates(bar("100", "110", "95", "105", "1"), l)
	if !updates["BTC"].Equal(d("0.25")) {
		t.Fatalf("clipped amount = %s, want 0.25", updates["BTC"])
	}

	o.AddFill(time.Now(), updates, nil)
	// Market orders live for one bar: the unfilled 0.75 is abandoned.
	if o.State() != types.OrderCanceled {
		t.Errorf("state = %s, want CANCELED", o.State())
	}
	if !o.AmountFilled().Equal(d("0.25")) {
		t.Errorf("filled = %s, want 0.25", o.AmountFilled())
	}
}

func TestMarketOrderNoLiquidityNoUpdates(t *testing.T) {
	t.Parallel()
	o := NewMarketOrder("o1", types.BUY, btcusd, d("1"), pairInfo)
	l := liquidity.NewVolumeShareImpact(d("0.25"), d("0.1"))
	l.OnBar(bar("100", "110", "95", "105", "0"))

	if updates := o.GetBalanceUpdates(bar("100", "110", "95", "105", "0"), l); updates != nil {
		t.Errorf("updates = %v, want nil", updates)
	}
}

func TestLimitOrderTouchSemantics(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		operation types.Side
		limit     string
		bar       types.Bar
		wantFill  bool
	}{
		{"buy not touched", types.BUY, "97", bar("100", "110", "98", "105", "10"), false},
		{"buy touched at low", types.BUY, "97", bar("100", "110", "97", "105", "10"), true},
		{"buy crossed", types.BUY, "97", bar("96", "100", "94", "98", "10"), true},
		{"sell not touched", types.SELL, "110", bar("100", "109", "95", "105", "10"), false},
		{"sell touched at high", types.SELL, "110", bar("100", "110", "95", "105", "10"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewLimitOrder("o1", tt.operation, btcusd, d("1"), d(tt.limit), pairInfo)
			updates := o.GetBalanceUpdates(tt.bar, infinite())
			if (updates != nil) != tt.wantFill {
				t.Fatalf("fill = %v, want %v (updates %v)", updates != nil, tt.wantFill, updates)
			}
			if tt.wantFill {
				// The fill price is the limit, never better.
				wantQuote := d(tt.limit).Mul(tt.operation.BaseSign()).Neg()
				if !updates["USD"].Equal(wantQuote) {
					t.Errorf("quote = %s, want %s", updates["USD"], wantQuote)
				}
			}
		})
	}
}

func TestLimitOrderStaysOpenWhenNotFilled(t *testing.T) {
	t.Parallel()
	o := NewLimitOrder("o1", types.BUY, btcusd, d("1"), d("97"), pairInfo)
	o.NotFilled()
	if o.State() != types.OrderOpen {
		t.Errorf("state = %s, want OPEN", o.State())
	}
}

func TestStopOrderTrigger(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		operation types.Side
		stop      string
		bar       types.Bar
		wantHit   bool
		wantPrice string // reference price on the trigger bar
	}{
		{"buy below stop", types.BUY, "105", bar("100", "104", "99", "102", "10"), false, ""},
		{"buy reaches stop", types.BUY, "105", bar("103", "107", "103", "106", "10"), true, "105"},
		{"buy gaps above stop", types.BUY, "105", bar("108", "112", "107", "110", "10"), true, "108"},
		{"sell above stop", types.SELL, "95", bar("100", "110", "96", "105", "10"), false, ""},
		{"sell reaches stop", types.SELL, "95", bar("100", "110", "94", "105", "10"), true, "95"},
		{"sell gaps below stop", types.SELL, "95", bar("92", "94", "90", "93", "10"), true, "92"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewStopOrder("o1", tt.operation, btcusd, d("1"), d(tt.stop), pairInfo)
			updates := o.GetBalanceUpdates(tt.bar, infinite())
			if o.StopHit() != tt.wantHit {
				t.Fatalf("stopHit = %v, want %v", o.StopHit(), tt.wantHit)
			}
			if !tt.wantHit {
				if updates != nil {
					t.Fatalf("updates = %v, want nil", updates)
				}
				return
			}
			wantQuote := d(tt.wantPrice).Mul(tt.operation.BaseSign()).Neg()
			if !updates["USD"].Equal(wantQuote) {
				t.Errorf("quote = %s, want %s", updates["USD"], wantQuote)
			}
		})
	}
}

func TestStopOrderBehavesAsMarketAfterTrigger(t *testing.T) {
	t.Parallel()
	o := NewStopOrder("o1", types.BUY, btcusd, d("1"), d("105"), pairInfo)

	// Trigger on a bar with no liquidity: the latch must survive.
	l := liquidity.NewVolumeShareImpact(d("0.25"), d("0.1"))
	empty := bar("103", "107", "103", "106", "0")
	l.OnBar(empty)
	if updates := o.GetBalanceUpdates(empty, l); updates != nil {
		t.Fatalf("updates = %v, want nil on empty bar", updates)
	}
	if !o.StopHit() {
		t.Fatal("stop should be latched even without liquidity")
	}

	// Next bar fills at its open like a market order.
	next := bar("106", "108", "104", "107", "10")
	updates := o.GetBalanceUpdates(next, infinite())
	if !updates["USD"].Equal(d("-106")) {
		t.Errorf("quote = %s, want -106 (next bar open)", updates["USD"])
	}
	// Stop orders rest across bars even when unfilled.
	o.NotFilled()
	if o.State() != types.OrderOpen {
		t.Errorf("state = %s, want OPEN", o.State())
	}
}

func TestStopLimitSameBarTriggerAndFill(t *testing.T) {
	t.Parallel()
	o := NewStopLimitOrder("o1", types.BUY, btcusd, d("1"), d("105"), d("106"), pairInfo)

	// Bar neither reaches the stop nor fills.
	b1 := bar("100", "104", "99", "102", "10")
	if updates := o.GetBalanceUpdates(b1, infinite()); updates != nil {
		t.Fatalf("updates = %v, want nil before trigger", updates)
	}
	if o.StopHit() {
		t.Fatal("stop hit too early")
	}

	// Bar reaches the stop and its range satisfies the limit: same-bar fill.
	b2 := bar("103", "107", "103", "106", "10")
	updates := o.GetBalanceUpdates(b2, infinite())
	if !o.StopHit() {
		t.Fatal("stop should be hit")
	}
	if !updates["BTC"].Equal(d("1")) || !updates["USD"].Equal(d("-106")) {
		t.Errorf("updates = %v, want {BTC: 1, USD: -106}", updates)
	}
}

func TestStopLimitTriggerWithoutLimitFill(t *testing.T) {
	t.Parallel()
	// SELL stop-limit: trigger at 95, but only sell at 99 or better.
	o := NewStopLimitOrder("o1", types.SELL, btcusd, d("1"), d("95"), d("99"), pairInfo)

	b := bar("96", "97", "94", "95", "10")
	if updates := o.GetBalanceUpdates(b, infinite()); updates != nil {
		t.Fatalf("updates = %v, want nil (limit not met)", updates)
	}
	if !o.StopHit() {
		t.Fatal("stop should be latched")
	}

	// Later bar trades back up through the limit.
	b2 := bar("98", "100", "97", "99", "10")
	updates := o.GetBalanceUpdates(b2, infinite())
	if !updates["USD"].Equal(d("99")) {
		t.Errorf("quote = %s, want 99", updates["USD"])
	}
}

func TestCompletionTruncatedAtBasePrecision(t *testing.T) {
	t.Parallel()
	info := types.PairInfo{BasePrecision: 2, QuotePrecision: 2}
	o := NewLimitOrder("o1", types.BUY, btcusd, d("1"), d("100"), info)

	// 0.996 filled leaves 0.004, which truncates to zero at precision 2.
	o.AddFill(time.Now(), money966(t), nil)
	if o.State() != types.OrderCompleted {
		t.Errorf("state = %s, want COMPLETED (remainder below precision)", o.State())
	}
}

func money966(t *testing.T) map[string]decimal.Decimal {
	t.Helper()
	return map[string]decimal.Decimal{"BTC": d("0.996"), "USD": d("-99.6")}
}

func TestCancel(t *testing.T) {
	t.Parallel()
	o := NewLimitOrder("o1", types.BUY, btcusd, d("1"), d("97"), pairInfo)
	o.Cancel()
	if o.State() != types.OrderCanceled {
		t.Errorf("state = %s, want CANCELED", o.State())
	}
	if o.IsOpen() {
		t.Error("canceled order reports open")
	}
}

func TestRequestValidation(t *testing.T) {
	t.Parallel()
	info := types.PairInfo{BasePrecision: 8, QuotePrecision: 2}
	tests := []struct {
		name string
		req  Request
		ok   bool
	}{
		{"valid market", NewMarketRequest(types.BUY, btcusd, d("1")), true},
		{"zero amount", NewMarketRequest(types.BUY, btcusd, d("0")), false},
		{"negative amount", NewMarketRequest(types.SELL, btcusd, d("-1")), false},
		{"amount too precise", NewMarketRequest(types.BUY, btcusd, d("0.000000001")), false},
		{"bad operation", NewMarketRequest(types.Side("HOLD"), btcusd, d("1")), false},
		{"valid limit", NewLimitRequest(types.BUY, btcusd, d("1"), d("97.25")), true},
		{"limit price too precise", NewLimitRequest(types.BUY, btcusd, d("1"), d("97.255")), false},
		{"limit price zero", NewLimitRequest(types.BUY, btcusd, d("1"), d("0")), false},
		{"valid stop", NewStopRequest(types.SELL, btcusd, d("1"), d("95")), true},
		{"stop price negative", NewStopRequest(types.SELL, btcusd, d("1"), d("-95")), false},
		{"valid stop limit", NewStopLimitRequest(types.BUY, btcusd, d("1"), d("105"), d("106")), true},
		{"stop limit bad limit", NewStopLimitRequest(types.BUY, btcusd, d("1"), d("105"), d("106.001")), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate(info)
			if tt.ok && err != nil {
				t.Errorf("Validate() error = %v, want nil", err)
			}
			if !tt.ok {
				if !errors.Is(err, errs.ErrInvalidRequest) {
					t.Errorf("Validate() error = %v, want ErrInvalidRequest", err)
				}
			}
		})
	}
}

func TestRequestEstimatedFillPrice(t *testing.T) {
	t.Parallel()
	if _, ok := NewMarketRequest(types.BUY, btcusd, d("1")).EstimatedFillPrice(); ok {
		t.Error("market request should not estimate a price")
	}
	if price, ok := NewLimitRequest(types.BUY, btcusd, d("1"), d("97")).EstimatedFillPrice(); !ok || !price.Equal(d("97")) {
		t.Errorf("limit estimate = %s, %v", price, ok)
	}
	if price, ok := NewStopRequest(types.BUY, btcusd, d("1"), d("105")).EstimatedFillPrice(); !ok || !price.Equal(d("105")) {
		t.Errorf("stop estimate = %s, %v", price, ok)
	}
	if price, ok := NewStopLimitRequest(types.BUY, btcusd, d("1"), d("105"), d("106")).EstimatedFillPrice(); !ok || !price.Equal(d("106")) {
		t.Errorf("stop-limit estimate = %s, %v", price, ok)
	}
}
