package risk

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"tradegate/exchange"
	"tradegate/market"
)

// LeverageTiers is the ascending ladder of standard leverage choices
// the auto-fix path and AllowedLeverages search.
var LeverageTiers = []int{1, 2, 3, 5, 10, 20, 25, 50, 75, 100}

// ValidateWithVenue runs the venue-aware checks after Validate passed:
// minimum notional (with the flag-gated leverage auto-fix) and the
// absolute trade-size cap. factor is the drawdown throttle from the
// first pass. The auto-fix path mutates p.Leverage in place.
func (v *Validator) ValidateWithVenue(ctx context.Context, p *market.TradeProposal, ex exchange.Exchange, factor decimal.Decimal) Decision {
	limits, err := ex.Limits(ctx, p.Symbol)
	if err != nil {
		return deny("VENUE_UNAVAILABLE", fmt.Sprintf(
			"symbol limits unavailable for %s: %v", p.Symbol, err))
	}

	if limits.MinNotional.Sign() > 0 && p.RequestedNotional().LessThan(limits.MinNotional) {
		if dec := v.fixLeverage(p, limits.MinNotional); dec != nil {
			return *dec
		}
	}

	return v.ValidateSize(p, factor)
}

// ValidateSize enforces the configured absolute trade-size cap, scaled
// by the drawdown throttle. It needs no venue connection, so it also
// covers instruments traded through the platform adapter.
func (v *Validator) ValidateSize(p *market.TradeProposal, factor decimal.Decimal) Decision {
	maxSize, ok, err := v.settings.GlobalMaxTradeSize()
	if err != nil {
		return deny("CONFIG_UNREADABLE", fmt.Sprintf("risk config unreadable: %v", err))
	}
	if ok {
		scaled := maxSize.Mul(factor)
		if p.Amount.GreaterThan(scaled) {
			return deny("TRADE_SIZE_CAP", fmt.Sprintf(
				"amount %s exceeds global max trade size %s", p.Amount, scaled))
		}
	}

	return Decision{Allowed: true, Factor: factor}
}

// fixLeverage handles a proposal whose notional is below the venue
// minimum. With AutoFixLeverage set on a futures proposal it raises
// the leverage to the smallest standard tier that clears the minimum;
// otherwise it rejects, naming the minimum.
func (v *Validator) fixLeverage(p *market.TradeProposal, minNotional decimal.Decimal) *Decision {
	if !p.AutoFixLeverage || p.Kind != market.KindFuture {
		d := deny("MIN_NOTIONAL", fmt.Sprintf(
			"notional %s below venue minimum %s for %s",
			p.RequestedNotional(), minNotional, p.Symbol))
		return &d
	}

	maxLev, err := v.settings.GlobalMaxLeverage()
	if err != nil {
		d := deny("CONFIG_UNREADABLE", fmt.Sprintf("risk config unreadable: %v", err))
		return &d
	}

	if tier, ok := MinTierFor(p.Amount, minNotional, maxLev); ok {
		p.Leverage = tier
		return nil
	}

	d := deny("MIN_NOTIONAL", fmt.Sprintf(
		"margin %s cannot clear venue minimum %s even at %dx leverage",
		p.Amount, minNotional, maxLev))
	return &d
}

// MinTierFor returns the smallest standard leverage tier not above
// maxLeverage whose notional (margin x tier) clears minNotional.
func MinTierFor(margin, minNotional decimal.Decimal, maxLeverage int) (int, bool) {
	for _, tier := range LeverageTiers {
		if tier > maxLeverage {
			break
		}
		if margin.Mul(decimal.NewFromInt(int64(tier))).GreaterThanOrEqual(minNotional) {
			return tier, true
		}
	}
	return 0, false
}

// TiersUpTo returns the ladder entries within [from, maxLeverage].
func TiersUpTo(from, maxLeverage int) []int {
	var out []int
	for _, tier := range LeverageTiers {
		if tier < from || tier > maxLeverage {
			continue
		}
		out = append(out, tier)
	}
	return out
}
