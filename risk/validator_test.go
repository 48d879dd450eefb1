package risk

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tradegate/exchange/exchangetest"
	"tradegate/market"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

type fakeSettings struct {
	killSwitch   bool
	maxLeverage  int
	symbolCap    *decimal.Decimal
	groups       []market.CorrelationGroup
	groupsErr    error
	peak         *decimal.Decimal
	maxTradeSize *decimal.Decimal
}

func (f *fakeSettings) KillSwitchEnabled() (bool, error) { return f.killSwitch, nil }
func (f *fakeSettings) GlobalMaxLeverage() (int, error)  { return f.maxLeverage, nil }

func (f *fakeSettings) MaxSymbolExposureUSD() (decimal.Decimal, bool, error) {
	if f.symbolCap == nil {
		return decimal.Zero, false, nil
	}
	return *f.symbolCap, true, nil
}

func (f *fakeSettings) CorrelationGroups() ([]market.CorrelationGroup, error) {
	return f.groups, f.groupsErr
}

func (f *fakeSettings) PeakEquity() (decimal.Decimal, bool, error) {
	if f.peak == nil {
		return decimal.Zero, false, nil
	}
	return *f.peak, true, nil
}

func (f *fakeSettings) SetPeakEquity(v decimal.Decimal) error {
	f.peak = &v
	return nil
}

func (f *fakeSettings) GlobalMaxTradeSize() (decimal.Decimal, bool, error) {
	if f.maxTradeSize == nil {
		return decimal.Zero, false, nil
	}
	return *f.maxTradeSize, true, nil
}

type fakePortfolio struct {
	positions []market.Position
	orders    []market.Order
	equity    decimal.Decimal
}

func (f *fakePortfolio) Positions(kind market.Kind, symbol string) []market.Position {
	var out []market.Position
	for _, p := range f.positions {
		if symbol != "" && p.Symbol != symbol {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (f *fakePortfolio) Orders(kind market.Kind, symbol string) []market.Order {
	var out []market.Order
	for _, o := range f.orders {
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		out = append(out, o)
	}
	return out
}

func (f *fakePortfolio) TotalEquity() (decimal.Decimal, error) { return f.equity, nil }

func dptr(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func newValidator(s *fakeSettings, p *fakePortfolio) *Validator {
	return NewValidator(s, p, zap.NewNop())
}

func futureProposal(leverage int, amount string) *market.TradeProposal {
	return &market.TradeProposal{
		Symbol:   "BTCUSDT",
		Amount:   d(amount),
		Leverage: leverage,
		Side:     market.SideBuy,
		Kind:     market.KindFuture,
	}
}

func TestKillSwitchRejectsEverything(t *testing.T) {
	t.Parallel()

	v := newValidator(
		&fakeSettings{killSwitch: true, maxLeverage: 20},
		&fakePortfolio{equity: d("1000")},
	)

	dec := v.Validate(futureProposal(1, "10"))
	assert.False(t, dec.Allowed)
	assert.Equal(t, "KILL_SWITCH", dec.Code)
}

func TestLeverageCap(t *testing.T) {
	t.Parallel()

	settings := &fakeSettings{maxLeverage: 20, peak: dptr("1000")}
	pf := &fakePortfolio{equity: d("1000")}
	v := newValidator(settings, pf)

	// margin=100, leverage=10, cap=20 -> allowed
	dec := v.Validate(futureProposal(10, "100"))
	assert.True(t, dec.Allowed)

	// leverage=50 -> rejected, message names the cap
	dec = v.Validate(futureProposal(50, "100"))
	assert.False(t, dec.Allowed)
	assert.Equal(t, "LEVERAGE_CAP", dec.Code)
	assert.Contains(t, dec.Reason, "20x")

	// spot proposals ignore leverage
	spot := &market.TradeProposal{
		Symbol: "BTCUSDT", Amount: d("100"), Leverage: 50,
		Side: market.SideBuy, Kind: market.KindSpot,
	}
	dec = v.Validate(spot)
	assert.True(t, dec.Allowed)
}

func TestDrawdownThrottle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		equity  string
		allowed bool
		factor  string
	}{
		{"at peak", "1000", true, "1"},
		{"small dip", "970", true, "1"},
		{"over 5 percent", "940", true, "0.8"},
		{"over 10 percent", "880", true, "0.5"},
		{"exactly 20 percent", "800", false, "0"},
		{"over 20 percent", "750", false, "0"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			v := newValidator(
				&fakeSettings{maxLeverage: 20, peak: dptr("1000")},
				&fakePortfolio{equity: d(tt.equity)},
			)
			dec := v.Validate(futureProposal(5, "10"))
			assert.Equal(t, tt.allowed, dec.Allowed)
			if tt.allowed {
				assert.True(t, dec.Factor.Equal(d(tt.factor)),
					"factor %s, expected %s", dec.Factor, tt.factor)
			} else {
				assert.Equal(t, "DRAWDOWN_LIMIT", dec.Code)
				assert.Contains(t, dec.Reason, "drawdown")
			}
		})
	}
}

func TestDrawdownFactorMonotonic(t *testing.T) {
	t.Parallel()

	settings := &fakeSettings{maxLeverage: 20}
	prev := d("2")
	for _, equity := range []string{"1000", "960", "949", "920", "899", "850", "801"} {
		settings.peak = dptr("1000")
		v := newValidator(settings, &fakePortfolio{equity: d(equity)})
		dec := v.Validate(futureProposal(2, "1"))
		require.True(t, dec.Allowed, "equity %s", equity)
		assert.True(t, dec.Factor.LessThanOrEqual(prev),
			"factor must not increase as equity falls: %s at equity %s", dec.Factor, equity)
		prev = dec.Factor
	}
}

func TestNewPeakUpdatesWatermark(t *testing.T) {
	t.Parallel()

	settings := &fakeSettings{maxLeverage: 20, peak: dptr("1000")}
	v := newValidator(settings, &fakePortfolio{equity: d("1200")})

	dec := v.Validate(futureProposal(2, "10"))
	assert.True(t, dec.Allowed)
	assert.True(t, dec.Factor.Equal(d("1")))
	require.NotNil(t, settings.peak)
	assert.True(t, settings.peak.Equal(d("1200")))
}

func TestSymbolExposure(t *testing.T) {
	t.Parallel()

	// existing exposure 950 (position 900 + open order 50), cap 1000,
	// factor 1.0, new amount 100 -> 1050 > 1000 -> rejected
	pf := &fakePortfolio{
		equity: d("1000"),
		positions: []market.Position{{
			Symbol: "BTCUSDT", Kind: market.KindFuture, Side: market.SideBuy,
			Size: d("0.02"), EntryPrice: d("45000"),
		}},
		orders: []market.Order{{
			Symbol: "BTCUSDT", Kind: market.KindFuture, Side: market.SideBuy,
			Amount: d("0.001"), Price: d("50000"),
		}},
	}
	settings := &fakeSettings{maxLeverage: 20, peak: dptr("1000"), symbolCap: dptr("1000")}
	v := newValidator(settings, pf)

	dec := v.Validate(futureProposal(5, "100"))
	assert.False(t, dec.Allowed)
	assert.Equal(t, "SYMBOL_EXPOSURE", dec.Code)

	// 40 more fits under the cap: 950 + 40 <= 1000
	dec = v.Validate(futureProposal(5, "40"))
	assert.True(t, dec.Allowed)

	// throttled cap: factor 0.8 shrinks the limit to 800
	pf2 := &fakePortfolio{equity: d("930"), positions: pf.positions}
	dec = newValidator(settings, pf2).Validate(futureProposal(5, "1"))
	assert.False(t, dec.Allowed)
	assert.Equal(t, "SYMBOL_EXPOSURE", dec.Code)
}

func TestCorrelatedGroupExposure(t *testing.T) {
	t.Parallel()

	pf := &fakePortfolio{
		equity: d("1000"),
		positions: []market.Position{
			{Symbol: "ETHUSDT", Kind: market.KindFuture, Size: d("1"), EntryPrice: d("3000")},
			{Symbol: "SOLUSDT", Kind: market.KindFuture, Size: d("10"), EntryPrice: d("150")},
		},
	}
	settings := &fakeSettings{
		maxLeverage: 20,
		peak:        dptr("1000"),
		groups: []market.CorrelationGroup{{
			Name:    "alts",
			Symbols: []string{"ETHUSDT", "SOLUSDT"},
			CapUSD:  d("5000"),
		}},
	}
	v := newValidator(settings, pf)

	// combined group exposure 4500; 600 more breaches the 5000 cap
	p := &market.TradeProposal{
		Symbol: "ETHUSDT", Amount: d("600"), Leverage: 2,
		Side: market.SideBuy, Kind: market.KindFuture,
	}
	dec := v.Validate(p)
	assert.False(t, dec.Allowed)
	assert.Equal(t, "GROUP_EXPOSURE", dec.Code)

	// an ungrouped symbol is unaffected
	p2 := &market.TradeProposal{
		Symbol: "XRPUSDT", Amount: d("600"), Leverage: 2,
		Side: market.SideBuy, Kind: market.KindFuture,
	}
	dec = v.Validate(p2)
	assert.True(t, dec.Allowed)
}

func TestMalformedGroupsFailClosed(t *testing.T) {
	t.Parallel()

	v := newValidator(
		&fakeSettings{maxLeverage: 20, peak: dptr("1000"), groupsErr: assert.AnError},
		&fakePortfolio{equity: d("1000")},
	)
	dec := v.Validate(futureProposal(2, "10"))
	assert.False(t, dec.Allowed)
	assert.Equal(t, "CONFIG_UNREADABLE", dec.Code)
}

func TestMinNotionalRejectsWithoutAutoFix(t *testing.T) {
	t.Parallel()

	ex := &exchangetest.Stub{
		LimitsFn: func(ctx context.Context, symbol string) (market.SymbolLimits, error) {
			return market.SymbolLimits{MinNotional: d("20")}, nil
		},
	}
	v := newValidator(
		&fakeSettings{maxLeverage: 20, peak: dptr("1000")},
		&fakePortfolio{equity: d("1000")},
	)

	p := futureProposal(1, "5")
	dec := v.ValidateWithVenue(context.Background(), p, ex, d("1"))
	assert.False(t, dec.Allowed)
	assert.Equal(t, "MIN_NOTIONAL", dec.Code)
	assert.Contains(t, dec.Reason, "20")
	assert.Equal(t, 1, p.Leverage, "leverage must not change without the auto flag")
}

func TestMinNotionalAutoFix(t *testing.T) {
	t.Parallel()

	ex := &exchangetest.Stub{
		LimitsFn: func(ctx context.Context, symbol string) (market.SymbolLimits, error) {
			return market.SymbolLimits{MinNotional: d("20")}, nil
		},
	}
	v := newValidator(
		&fakeSettings{maxLeverage: 20, peak: dptr("1000")},
		&fakePortfolio{equity: d("1000")},
	)

	// margin 5, min 20: smallest tier >= 4 is 5
	p := futureProposal(1, "5")
	p.AutoFixLeverage = true
	dec := v.ValidateWithVenue(context.Background(), p, ex, d("1"))
	assert.True(t, dec.Allowed)
	assert.Equal(t, 5, p.Leverage)

	// even the global cap cannot clear the minimum
	p2 := futureProposal(1, "0.5")
	p2.AutoFixLeverage = true
	dec = v.ValidateWithVenue(context.Background(), p2, ex, d("1"))
	assert.False(t, dec.Allowed)
	assert.Equal(t, "MIN_NOTIONAL", dec.Code)
}

func TestGlobalTradeSizeCap(t *testing.T) {
	t.Parallel()

	ex := &exchangetest.Stub{}
	v := newValidator(
		&fakeSettings{maxLeverage: 20, peak: dptr("1000"), maxTradeSize: dptr("500")},
		&fakePortfolio{equity: d("1000")},
	)

	p := futureProposal(2, "600")
	dec := v.ValidateWithVenue(context.Background(), p, ex, d("1"))
	assert.False(t, dec.Allowed)
	assert.Equal(t, "TRADE_SIZE_CAP", dec.Code)

	// the throttle factor shrinks the cap
	p2 := futureProposal(2, "300")
	dec = v.ValidateWithVenue(context.Background(), p2, ex, d("0.5"))
	assert.False(t, dec.Allowed)

	dec = v.ValidateWithVenue(context.Background(), p2, ex, d("1"))
	assert.True(t, dec.Allowed)
}

func TestTradeSizeCapWithoutVenue(t *testing.T) {
	t.Parallel()

	v := newValidator(
		&fakeSettings{maxLeverage: 20, peak: dptr("1000"), maxTradeSize: dptr("2")},
		&fakePortfolio{equity: d("1000")},
	)

	fx := &market.TradeProposal{
		Symbol: "EUR_USD", Amount: d("3"),
		Side: market.SideBuy, Kind: market.KindForex,
	}
	dec := v.ValidateSize(fx, d("1"))
	assert.False(t, dec.Allowed)
	assert.Equal(t, "TRADE_SIZE_CAP", dec.Code)

	fx.Amount = d("2")
	dec = v.ValidateSize(fx, d("1"))
	assert.True(t, dec.Allowed)
}

func TestMinTierFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		margin      string
		minNotional string
		maxLev      int
		tier        int
		ok          bool
	}{
		{"already clears", "100", "20", 20, 1, true},
		{"needs 5x", "5", "20", 20, 5, true},
		{"needs exactly max", "1", "20", 20, 20, true},
		{"cannot clear", "0.1", "20", 20, 0, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tier, ok := MinTierFor(d(tt.margin), d(tt.minNotional), tt.maxLev)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.tier, tier)
		})
	}
}

func TestTiersUpTo(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []int{5, 10, 20}, TiersUpTo(4, 20))
	assert.Empty(t, TiersUpTo(30, 25))
}
