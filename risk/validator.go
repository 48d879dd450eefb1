package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradegate/market"
)

// Settings is the slice of the settings store the validator consults.
type Settings interface {
	KillSwitchEnabled() (bool, error)
	GlobalMaxLeverage() (int, error)
	MaxSymbolExposureUSD() (decimal.Decimal, bool, error)
	CorrelationGroups() ([]market.CorrelationGroup, error)
	PeakEquity() (decimal.Decimal, bool, error)
	SetPeakEquity(decimal.Decimal) error
	GlobalMaxTradeSize() (decimal.Decimal, bool, error)
}

// Portfolio is the read side of the position/equity cache the
// validator consults. No method may touch the network.
type Portfolio interface {
	Positions(kind market.Kind, symbol string) []market.Position
	Orders(kind market.Kind, symbol string) []market.Order
	TotalEquity() (decimal.Decimal, error)
}

// Decision is the outcome of a validation pass. Checks short-circuit:
// Reason carries the first failing check's message. Factor is the
// drawdown throttle applied to downstream dollar limits.
type Decision struct {
	Allowed bool
	Code    string
	Reason  string
	Factor  decimal.Decimal
}

func deny(code, reason string) Decision {
	return Decision{Allowed: false, Code: code, Reason: reason, Factor: decimal.Zero}
}

// Validator evaluates a proposed trade against portfolio-level risk
// rules. It is stateless apart from the peak-equity watermark write
// and issues no network mutation calls.
type Validator struct {
	settings  Settings
	portfolio Portfolio
	log       *zap.Logger
}

func NewValidator(settings Settings, portfolio Portfolio, log *zap.Logger) *Validator {
	return &Validator{settings: settings, portfolio: portfolio, log: log}
}

// Validate runs the cache-and-settings checks in order: kill switch,
// drawdown throttle, leverage cap, per-symbol exposure, correlated
// group exposure. Settings read failures deny the trade; risk checks
// fail closed.
func (v *Validator) Validate(p *market.TradeProposal) Decision {
	killed, err := v.settings.KillSwitchEnabled()
	if err != nil {
		return deny("CONFIG_UNREADABLE", fmt.Sprintf("risk config unreadable: %v", err))
	}
	if killed {
		return deny("KILL_SWITCH", "kill switch is enabled, all trading halted")
	}

	factor, dec := v.drawdownFactor()
	if dec != nil {
		return *dec
	}

	if p.Kind == market.KindFuture {
		maxLev, err := v.settings.GlobalMaxLeverage()
		if err != nil {
			return deny("CONFIG_UNREADABLE", fmt.Sprintf("risk config unreadable: %v", err))
		}
		if p.Leverage > maxLev {
			return deny("LEVERAGE_CAP", fmt.Sprintf(
				"requested leverage %dx exceeds global cap %dx", p.Leverage, maxLev))
		}
	}

	if dec := v.checkSymbolExposure(p, factor); dec != nil {
		return *dec
	}
	if dec := v.checkGroupExposure(p, factor); dec != nil {
		return *dec
	}

	return Decision{Allowed: true, Factor: factor}
}

// drawdownFactor derives the throttle from current vs. peak equity.
// A new high water mark is persisted and treated as factor 1.0 for
// this call. Peak drift under a racing write only self-corrects
// upward, so no extra coordination is needed.
func (v *Validator) drawdownFactor() (decimal.Decimal, *Decision) {
	one := decimal.NewFromInt(1)

	equity, err := v.portfolio.TotalEquity()
	if err != nil {
		d := deny("CONFIG_UNREADABLE", fmt.Sprintf("equity unavailable: %v", err))
		return decimal.Zero, &d
	}

	peak, ok, err := v.settings.PeakEquity()
	if err != nil {
		d := deny("CONFIG_UNREADABLE", fmt.Sprintf("risk config unreadable: %v", err))
		return decimal.Zero, &d
	}
	if !ok || peak.Sign() <= 0 || equity.GreaterThan(peak) {
		if equity.Sign() > 0 && (!ok || equity.GreaterThan(peak)) {
			if err := v.settings.SetPeakEquity(equity); err != nil {
				v.log.Warn("persist peak equity failed", zap.Error(err))
			}
		}
		return one, nil
	}

	drawdown := peak.Sub(equity).Div(peak)
	switch {
	case drawdown.GreaterThanOrEqual(decimal.NewFromFloat(0.20)):
		d := deny("DRAWDOWN_LIMIT", fmt.Sprintf(
			"drawdown %s%% is at or above 20%% of peak equity %s, trading suspended",
			drawdown.Mul(decimal.NewFromInt(100)).Round(2), peak))
		return decimal.Zero, &d
	case drawdown.GreaterThan(decimal.NewFromFloat(0.10)):
		return decimal.NewFromFloat(0.5), nil
	case drawdown.GreaterThan(decimal.NewFromFloat(0.05)):
		return decimal.NewFromFloat(0.8), nil
	default:
		return one, nil
	}
}

// checkSymbolExposure sums the absolute USD exposure of cached
// positions and open orders on the proposal's symbol and rejects when
// adding the requested amount would exceed the per-symbol cap scaled
// by the drawdown factor.
func (v *Validator) checkSymbolExposure(p *market.TradeProposal, factor decimal.Decimal) *Decision {
	capUSD, ok, err := v.settings.MaxSymbolExposureUSD()
	if err != nil {
		d := deny("CONFIG_UNREADABLE", fmt.Sprintf("risk config unreadable: %v", err))
		return &d
	}
	if !ok {
		return nil
	}

	exposure := symbolExposure(v.portfolio, p.Symbol)
	scaled := capUSD.Mul(factor)
	if exposure.Add(p.Amount).GreaterThan(scaled) {
		d := deny("SYMBOL_EXPOSURE", fmt.Sprintf(
			"%s exposure %s + %s exceeds cap %s", p.Symbol,
			exposure, p.Amount, scaled))
		return &d
	}
	return nil
}

func (v *Validator) checkGroupExposure(p *market.TradeProposal, factor decimal.Decimal) *Decision {
	groups, err := v.settings.CorrelationGroups()
	if err != nil {
		d := deny("CONFIG_UNREADABLE", fmt.Sprintf("risk config unreadable: %v", err))
		return &d
	}

	for _, g := range groups {
		if !g.Contains(p.Symbol) {
			continue
		}
		var exposure decimal.Decimal
		for _, sym := range g.Symbols {
			exposure = exposure.Add(symbolExposure(v.portfolio, sym))
		}
		scaled := g.CapUSD.Mul(factor)
		if exposure.Add(p.Amount).GreaterThan(scaled) {
			d := deny("GROUP_EXPOSURE", fmt.Sprintf(
				"correlated group %q exposure %s + %s exceeds cap %s",
				g.Name, exposure, p.Amount, scaled))
			return &d
		}
	}
	return nil
}

func symbolExposure(pf Portfolio, symbol string) decimal.Decimal {
	var total decimal.Decimal
	for _, pos := range pf.Positions("", symbol) {
		total = total.Add(pos.Notional())
	}
	for _, ord := range pf.Orders("", symbol) {
		total = total.Add(ord.Notional())
	}
	return total
}
