package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies which venue a symbol trades on.
type Kind string

const (
	KindSpot   Kind = "spot"
	KindFuture Kind = "future"
	KindForex  Kind = "forex"
)

// Crypto reports whether the kind is served by a crypto exchange
// adapter rather than the forex platform.
func (k Kind) Crypto() bool {
	return k == KindSpot || k == KindFuture
}

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Position is one cached venue position. Records are replaced wholesale
// on each portfolio sync, never mutated field by field.
type Position struct {
	Symbol        string
	Kind          Kind
	Side          Side
	Size          decimal.Decimal
	EntryPrice    decimal.Decimal
	Leverage      int
	UnrealizedPnL decimal.Decimal
}

// Notional returns the absolute USD value of the position at entry.
func (p Position) Notional() decimal.Decimal {
	return p.Size.Mul(p.EntryPrice).Abs()
}

// Order is a cached open or historical venue order.
type Order struct {
	ID            string
	ClientOrderID string
	Symbol        string
	Kind          Kind
	Side          Side
	Amount        decimal.Decimal
	Price         decimal.Decimal
	Status        string
	CreatedAt     time.Time
}

// Notional returns the absolute USD value of the order at its limit
// price. Market orders without a price contribute zero.
func (o Order) Notional() decimal.Decimal {
	return o.Amount.Mul(o.Price).Abs()
}

type Balance struct {
	Asset string
	Free  decimal.Decimal
	Used  decimal.Decimal
	Total decimal.Decimal
}

type Ticker struct {
	Symbol string
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	Last   decimal.Decimal
}

func (t Ticker) Mid() decimal.Decimal {
	return t.Bid.Add(t.Ask).Div(decimal.NewFromInt(2))
}

// SymbolLimits are the venue's published constraints for one symbol.
type SymbolLimits struct {
	MinNotional     decimal.Decimal
	MinAmount       decimal.Decimal
	PricePrecision  int32
	AmountPrecision int32
}

// Fill is one executed trade from the venue's account history.
type Fill struct {
	OrderID string
	Symbol  string
	Side    Side
	Amount  decimal.Decimal
	Price   decimal.Decimal
	Fee     decimal.Decimal
	Time    time.Time
}

// FundingPayment is one funding transfer on a perpetual position.
type FundingPayment struct {
	Symbol string
	Amount decimal.Decimal
	Time   time.Time
}

// CorrelationGroup caps the combined exposure of a set of symbols.
type CorrelationGroup struct {
	Name    string
	Symbols []string
	CapUSD  decimal.Decimal
}

// Contains reports whether the group includes the symbol.
func (g CorrelationGroup) Contains(symbol string) bool {
	for _, s := range g.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}
