// Package exchangetest provides configurable in-memory fakes of the
// adapter interfaces for tests.
package exchangetest

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradegate/exchange"
	"tradegate/market"
)

// Stub implements exchange.Exchange. Zero-value methods return empty
// results; set the function fields to script behavior. Call counters
// are safe for concurrent use.
type Stub struct {
	VenueName string

	CreateMarketOrderFn  func(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error)
	CreateTriggerOrderFn func(ctx context.Context, req exchange.TriggerOrderRequest) (*exchange.OrderResult, error)
	OpenOrdersFn         func(ctx context.Context, symbol string) ([]market.Order, error)
	ClosedOrdersFn       func(ctx context.Context, symbol string, limit int) ([]market.Order, error)
	PositionsFn          func(ctx context.Context) ([]market.Position, error)
	BalancesFn           func(ctx context.Context) ([]market.Balance, error)
	TickerFn             func(ctx context.Context, symbol string) (market.Ticker, error)
	TickersFn            func(ctx context.Context, symbols []string) (map[string]market.Ticker, error)
	LimitsFn             func(ctx context.Context, symbol string) (market.SymbolLimits, error)
	TradeHistoryFn       func(ctx context.Context, symbol string, since time.Time) ([]market.Fill, error)
	FundingHistoryFn     func(ctx context.Context, symbol string, since time.Time) ([]market.FundingPayment, error)
	SetLeverageFn        func(ctx context.Context, symbol string, leverage int) error
	SetMarginModeFn      func(ctx context.Context, symbol, mode string) error

	mu    sync.Mutex
	calls map[string]int
}

var _ exchange.Exchange = (*Stub)(nil)

func (s *Stub) count(method string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[method]++
}

// Calls returns how many times the named method was invoked.
func (s *Stub) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *Stub) Name() string {
	if s.VenueName == "" {
		return "stub"
	}
	return s.VenueName
}

func (s *Stub) CreateMarketOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	s.count("CreateMarketOrder")
	if s.CreateMarketOrderFn != nil {
		return s.CreateMarketOrderFn(ctx, req)
	}
	return &exchange.OrderResult{OrderID: "stub-order", ClientOrderID: req.ClientOrderID, Status: "filled"}, nil
}

func (s *Stub) CreateTriggerOrder(ctx context.Context, req exchange.TriggerOrderRequest) (*exchange.OrderResult, error) {
	s.count("CreateTriggerOrder")
	if s.CreateTriggerOrderFn != nil {
		return s.CreateTriggerOrderFn(ctx, req)
	}
	return &exchange.OrderResult{OrderID: "stub-trigger", ClientOrderID: req.ClientOrderID, Status: "open"}, nil
}

func (s *Stub) CancelOrder(ctx context.Context, symbol, orderID string) error {
	s.count("CancelOrder")
	return nil
}

func (s *Stub) OpenOrders(ctx context.Context, symbol string) ([]market.Order, error) {
	s.count("OpenOrders")
	if s.OpenOrdersFn != nil {
		return s.OpenOrdersFn(ctx, symbol)
	}
	return nil, nil
}

func (s *Stub) ClosedOrders(ctx context.Context, symbol string, limit int) ([]market.Order, error) {
	s.count("ClosedOrders")
	if s.ClosedOrdersFn != nil {
		return s.ClosedOrdersFn(ctx, symbol, limit)
	}
	return nil, nil
}

func (s *Stub) Positions(ctx context.Context) ([]market.Position, error) {
	s.count("Positions")
	if s.PositionsFn != nil {
		return s.PositionsFn(ctx)
	}
	return nil, nil
}

func (s *Stub) Balances(ctx context.Context) ([]market.Balance, error) {
	s.count("Balances")
	if s.BalancesFn != nil {
		return s.BalancesFn(ctx)
	}
	return nil, nil
}

func (s *Stub) Ticker(ctx context.Context, symbol string) (market.Ticker, error) {
	s.count("Ticker")
	if s.TickerFn != nil {
		return s.TickerFn(ctx, symbol)
	}
	one := decimal.NewFromInt(1)
	return market.Ticker{Symbol: symbol, Bid: one, Ask: one, Last: one}, nil
}

func (s *Stub) Tickers(ctx context.Context, symbols []string) (map[string]market.Ticker, error) {
	s.count("Tickers")
	if s.TickersFn != nil {
		return s.TickersFn(ctx, symbols)
	}
	out := make(map[string]market.Ticker, len(symbols))
	for _, sym := range symbols {
		one := decimal.NewFromInt(1)
		out[sym] = market.Ticker{Symbol: sym, Bid: one, Ask: one, Last: one}
	}
	return out, nil
}

func (s *Stub) Limits(ctx context.Context, symbol string) (market.SymbolLimits, error) {
	s.count("Limits")
	if s.LimitsFn != nil {
		return s.LimitsFn(ctx, symbol)
	}
	return market.SymbolLimits{}, nil
}

func (s *Stub) TradeHistory(ctx context.Context, symbol string, since time.Time) ([]market.Fill, error) {
	s.count("TradeHistory")
	if s.TradeHistoryFn != nil {
		return s.TradeHistoryFn(ctx, symbol, since)
	}
	return nil, nil
}

func (s *Stub) FundingHistory(ctx context.Context, symbol string, since time.Time) ([]market.FundingPayment, error) {
	s.count("FundingHistory")
	if s.FundingHistoryFn != nil {
		return s.FundingHistoryFn(ctx, symbol, since)
	}
	return nil, nil
}

func (s *Stub) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	s.count("SetLeverage")
	if s.SetLeverageFn != nil {
		return s.SetLeverageFn(ctx, symbol, leverage)
	}
	return nil
}

func (s *Stub) SetMarginMode(ctx context.Context, symbol, mode string) error {
	s.count("SetMarginMode")
	if s.SetMarginModeFn != nil {
		return s.SetMarginModeFn(ctx, symbol, mode)
	}
	return nil
}

func (s *Stub) RoundPrice(ctx context.Context, symbol string, price decimal.Decimal) (decimal.Decimal, error) {
	return price, nil
}

func (s *Stub) RoundAmount(ctx context.Context, symbol string, amount decimal.Decimal) (decimal.Decimal, error) {
	return amount, nil
}

// Platform implements exchange.PlatformExchange.
type Platform struct {
	VenueName string

	CreateOrderFn   func(ctx context.Context, req exchange.PlatformOrderRequest) (*exchange.PlatformOrderResult, error)
	PositionsFn     func(ctx context.Context) ([]market.Position, error)
	OpenOrdersFn    func(ctx context.Context) ([]market.Order, error)
	AccountEquityFn func(ctx context.Context) (decimal.Decimal, error)
}

var _ exchange.PlatformExchange = (*Platform)(nil)

func (p *Platform) Name() string {
	if p.VenueName == "" {
		return "platform-stub"
	}
	return p.VenueName
}

func (p *Platform) CreateOrder(ctx context.Context, req exchange.PlatformOrderRequest) (*exchange.PlatformOrderResult, error) {
	if p.CreateOrderFn != nil {
		return p.CreateOrderFn(ctx, req)
	}
	return &exchange.PlatformOrderResult{RetCode: 0, OrderID: "platform-order"}, nil
}

func (p *Platform) Positions(ctx context.Context) ([]market.Position, error) {
	if p.PositionsFn != nil {
		return p.PositionsFn(ctx)
	}
	return nil, nil
}

func (p *Platform) OpenOrders(ctx context.Context) ([]market.Order, error) {
	if p.OpenOrdersFn != nil {
		return p.OpenOrdersFn(ctx)
	}
	return nil, nil
}

func (p *Platform) AccountEquity(ctx context.Context) (decimal.Decimal, error) {
	if p.AccountEquityFn != nil {
		return p.AccountEquityFn(ctx)
	}
	return decimal.Zero, nil
}
