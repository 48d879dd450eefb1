package exchange

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"tradegate/market"
)

// Exchange is the capability surface the core expects from one crypto
// venue (one instance per spot market, one per futures market). All
// calls are remote and may fail with network or venue-semantic errors;
// adapters classify failures into the closed Kind enumeration.
type Exchange interface {
	Name() string

	CreateMarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	CreateTriggerOrder(ctx context.Context, req TriggerOrderRequest) (*OrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error

	OpenOrders(ctx context.Context, symbol string) ([]market.Order, error)
	ClosedOrders(ctx context.Context, symbol string, limit int) ([]market.Order, error)
	Positions(ctx context.Context) ([]market.Position, error)
	Balances(ctx context.Context) ([]market.Balance, error)

	Ticker(ctx context.Context, symbol string) (market.Ticker, error)
	Tickers(ctx context.Context, symbols []string) (map[string]market.Ticker, error)
	Limits(ctx context.Context, symbol string) (market.SymbolLimits, error)

	TradeHistory(ctx context.Context, symbol string, since time.Time) ([]market.Fill, error)
	FundingHistory(ctx context.Context, symbol string, since time.Time) ([]market.FundingPayment, error)

	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginMode(ctx context.Context, symbol, mode string) error

	RoundPrice(ctx context.Context, symbol string, price decimal.Decimal) (decimal.Decimal, error)
	RoundAmount(ctx context.Context, symbol string, amount decimal.Decimal) (decimal.Decimal, error)
}

// OrderRequest submits a market order. ClientOrderID carries the
// pipeline's idempotency key so an ambiguous failure can be reconciled
// against the venue's order history.
type OrderRequest struct {
	Symbol        string
	Side          market.Side
	Amount        decimal.Decimal
	ClientOrderID string
	ReduceOnly    bool
}

// TriggerOrderRequest submits a stop/trigger order.
type TriggerOrderRequest struct {
	OrderRequest
	TriggerPrice decimal.Decimal
}

// OrderResult is the venue's acknowledgment of a submitted order.
// Raw preserves the untouched venue response for audit.
type OrderResult struct {
	OrderID       string
	ClientOrderID string
	Status        string
	FilledAmount  decimal.Decimal
	AvgPrice      decimal.Decimal
	Raw           json.RawMessage
}

// PlatformExchange is the capability surface of an MT-style forex
// platform. Platform orders are single-shot: the return code decides
// success, there is no retry or reconciliation path.
type PlatformExchange interface {
	Name() string

	CreateOrder(ctx context.Context, req PlatformOrderRequest) (*PlatformOrderResult, error)
	Positions(ctx context.Context) ([]market.Position, error)
	OpenOrders(ctx context.Context) ([]market.Order, error)
	AccountEquity(ctx context.Context) (decimal.Decimal, error)
}

// PlatformOrderRequest carries the platform-specific passthrough
// fields a proposal may set.
type PlatformOrderRequest struct {
	Symbol     string
	Side       market.Side
	Lots       decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	Comment    string
	Magic      int
}

// PlatformOrderResult reports the platform's return code. RetCode zero
// means accepted.
type PlatformOrderResult struct {
	RetCode int
	OrderID string
	Message string
}

func (r PlatformOrderResult) OK() bool { return r.RetCode == 0 }
