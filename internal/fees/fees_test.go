package fees

import (
	"testing"

	"github.com/shopspring/decimal"

	"barsim/pkg/money"
	"barsim/pkg/types"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type orderStub struct {
	pair types.Pair
	op   types.Side
}

func (o orderStub) Pair() types.Pair      { return o.pair }
func (o orderStub) Operation() types.Side { return o.op }

var btcusd = types.Pair{Base: "BTC", Quote: "USD"}

func TestNoFee(t *testing.T) {
	t.Parallel()
	f := NewNoFee()
	got := f.CalculateFees(orderStub{btcusd, types.BUY}, money.ValueMap{
		"BTC": d("1"), "USD": d("-100"),
	})
	if len(got) != 0 {
		t.Errorf("NoFee returned %v, want empty", got)
	}
}

func TestPercentageChargesPayingSide(t *testing.T) {
	t.Parallel()
	f := NewPercentage(d("0.25"))

	tests := []struct {
		name    string
		op      types.Side
		updates money.ValueMap
		symbol  string
		want    string
	}{
		{
			"buy pays quote",
			types.BUY,
			money.ValueMap{"BTC": d("1"), "USD": d("-100")},
			"USD",
			"0.25",
		},
		{
			"sell pays base",
			types.SELL,
			money.ValueMap{"BTC": d("-1"), "USD": d("100")},
			"BTC",
			"0.0025",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := f.CalculateFees(orderStub{btcusd, tt.op}, tt.updates)
			if len(got) != 1 {
				t.Fatalf("fees = %v, want single entry", got)
			}
			if !got[tt.symbol].Equal(d(tt.want)) {
				t.Errorf("fee[%s] = %s, want %s", tt.symbol, got[tt.symbol], tt.want)
			}
		})
	}
}

func TestPercentageIgnoresPositiveSide(t *testing.T) {
	t.Parallel()
	f := NewPercentage(d("1"))
	got := f.CalculateFees(orderStub{btcusd, types.BUY}, money.ValueMap{
		"BTC": d("1"), "USD": d("-100"),
	})
	if _, ok := got["BTC"]; ok {
		t.Errorf("fee charged on the receiving side: %v", got)
	}
}
