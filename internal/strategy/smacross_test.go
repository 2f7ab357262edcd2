package strategy

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"barsim/internal/exchange"
	"barsim/pkg/types"
)

var btcusd = types.Pair{Base: "BTC", Quote: "USD"}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type placed struct {
	operation types.Side
	amount    decimal.Decimal
}

type traderStub struct {
	orders []placed
	fail   error
}

func (t *traderStub) CreateMarketOrder(operation types.Side, pair types.Pair, amount decimal.Decimal) (exchange.CreatedOrder, error) {
	if t.fail != nil {
		return exchange.CreatedOrder{}, t.fail
	}
	t.orders = append(t.orders, placed{operation, amount})
	return exchange.CreatedOrder{ID: "stub"}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func feed(s *SMACross, closes ...string) {
	when := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		price := d(c)
		s.OnBarEvent(types.BarEvent{Bar: types.Bar{
			Pair: btcusd, When: when.Add(time.Duration(i) * time.Minute),
			Open: price, High: price, Low: price, Close: price, Volume: d("10"),
		}})
	}
}

func TestNoSignalWhileWarmingUp(t *testing.T) {
	t.Parallel()
	trader := &traderStub{}
	s := NewSMACross(trader, btcusd, 2, 4, d("1"), testLogger())

	feed(s, "100", "101", "102", "103")
	if len(trader.orders) != 0 {
		t.Errorf("orders during warmup = %v", trader.orders)
	}
}

func TestGoldenCrossBuysOnce(t *testing.T) {
	t.Parallel()
	trader := &traderStub{}
	s := NewSMACross(trader, btcusd, 2, 4, d("1"), testLogger())

	// Downtrend keeps the fast average below the slow one, then a sharp
	// rally crosses it above.
	feed(s, "110", "108", "106", "104", "102", "100", "120", "130")

	if len(trader.orders) != 1 {
		t.Fatalf("orders = %v, want a single buy", trader.orders)
	}
	if trader.orders[0].operation != types.BUY || !trader.orders[0].amount.Equal(d("1")) {
		t.Errorf("order = %+v, want BUY 1", trader.orders[0])
	}
}

func TestDeathCrossSellsPosition(t *testing.T) {
	t.Parallel()
	trader := &traderStub{}
	s := NewSMACross(trader, btcusd, 2, 4, d("1"), testLogger())

	// Rally then collapse: one buy, then the position is closed.
	feed(s, "110", "108", "106", "104", "102", "100", "120", "130", "90", "70")

	if len(trader.orders) != 2 {
		t.Fatalf("orders = %v, want buy then sell", trader.orders)
	}
	if trader.orders[1].operation != types.SELL || !trader.orders[1].amount.Equal(d("1")) {
		t.Errorf("second order = %+v, want SELL 1", trader.orders[1])
	}
}

func TestRejectedBuyKeepsFlatPosition(t *testing.T) {
	t.Parallel()
	trader := &traderStub{fail: os.ErrInvalid}
	s := NewSMACross(trader, btcusd, 2, 4, d("1"), testLogger())

	feed(s, "110", "108", "106", "104", "102", "100", "120", "130")
	if !s.position.IsZero() {
		t.Errorf("position = %s after rejected buy, want 0", s.position)
	}
}
