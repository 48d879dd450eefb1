package market

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestPositionNotional(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		size     string
		entry    string
		expected string
	}{
		{"long", "0.5", "40000", "20000"},
		{"short", "-0.5", "40000", "20000"},
		{"zero", "0", "40000", "0"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := Position{Size: d(tt.size), EntryPrice: d(tt.entry)}
			assert.True(t, p.Notional().Equal(d(tt.expected)),
				"got %s", p.Notional())
		})
	}
}

func TestTickerMid(t *testing.T) {
	t.Parallel()

	tk := Ticker{Bid: d("1.1"), Ask: d("1.3")}
	assert.True(t, tk.Mid().Equal(d("1.2")))
}

func TestRequestedNotional(t *testing.T) {
	t.Parallel()

	future := TradeProposal{Kind: KindFuture, Amount: d("100"), Leverage: 10}
	assert.True(t, future.RequestedNotional().Equal(d("1000")))

	spot := TradeProposal{Kind: KindSpot, Amount: d("100"), Leverage: 10}
	assert.True(t, spot.RequestedNotional().Equal(d("100")))
}

func TestCorrelationGroupContains(t *testing.T) {
	t.Parallel()

	g := CorrelationGroup{Name: "majors", Symbols: []string{"BTCUSDT", "ETHUSDT"}}
	assert.True(t, g.Contains("ETHUSDT"))
	assert.False(t, g.Contains("SOLUSDT"))
}
