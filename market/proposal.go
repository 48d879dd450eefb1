package market

import "github.com/shopspring/decimal"

// TradeProposal is a strategy's request to open or adjust a position.
// Amount means USD margin for crypto markets and lots for forex.
// Proposals are transient and never persisted.
type TradeProposal struct {
	Symbol   string
	Amount   decimal.Decimal
	Leverage int
	Side     Side
	Kind     Kind
	UserID   string

	// Optional caller-supplied idempotency key. When empty the
	// execution pipeline mints one.
	IdempotencyKey string

	// AutoFixLeverage lets validation raise the requested leverage to
	// the smallest standard tier that clears the venue minimum
	// notional instead of rejecting outright.
	AutoFixLeverage bool

	// Optional protective levels and platform passthrough fields.
	// Zero decimals mean unset.
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	Comment    string
	Magic      int
}

// RequestedNotional is the effective USD value of the proposal:
// margin times leverage for futures, the raw amount otherwise.
func (p TradeProposal) RequestedNotional() decimal.Decimal {
	if p.Kind == KindFuture && p.Leverage > 1 {
		return p.Amount.Mul(decimal.NewFromInt(int64(p.Leverage)))
	}
	return p.Amount
}
