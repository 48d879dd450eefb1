package portfolio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradegate/market"
	"tradegate/store"
)

// ErrNoEquityData means neither an equity snapshot nor a stored
// current balance exists yet.
var ErrNoEquityData = errors.New("no equity data available")

// EquityBreakdown is the labeled result of a full equity computation.
type EquityBreakdown struct {
	Spot       decimal.Decimal
	Futures    decimal.Decimal
	Forex      decimal.Decimal
	Unrealized decimal.Decimal
	Total      decimal.Decimal
	Time       time.Time
}

// TotalEquity is the fast path used by the risk validator: the total
// from the most recently persisted equity snapshot, falling back to
// the stored current balance. It never triggers a live computation.
func (c *Cache) TotalEquity() (decimal.Decimal, error) {
	snap, ok, err := c.cfg.Store.LatestEquity()
	if err != nil {
		return decimal.Zero, err
	}
	if ok {
		return snap.Total, nil
	}

	bal, ok, err := c.cfg.Store.CurrentBalance()
	if err != nil {
		return decimal.Zero, err
	}
	if ok {
		return bal, nil
	}
	return decimal.Zero, ErrNoEquityData
}

// CalculateFullEquity is the deliberately expensive on-demand path:
// it values every non-quote spot holding via batched ticker lookups,
// takes futures account equity as reported by the venue, sums
// unrealized P&L across open futures positions and adds platform
// equity when that adapter is reachable. This is the source of new
// equity snapshots.
func (c *Cache) CalculateFullEquity(ctx context.Context) (EquityBreakdown, error) {
	var out EquityBreakdown

	if c.cfg.Spot != nil {
		spot, err := c.spotEquity(ctx)
		if err != nil {
			return out, fmt.Errorf("spot equity: %w", err)
		}
		out.Spot = spot
	}

	if c.cfg.Futures != nil {
		futures, unrealized, err := c.futuresEquity(ctx)
		if err != nil {
			return out, fmt.Errorf("futures equity: %w", err)
		}
		out.Futures = futures
		out.Unrealized = unrealized
	}

	if c.cfg.Platform != nil {
		forex, err := c.cfg.Platform.AccountEquity(ctx)
		if err != nil {
			// Platform reachability is best-effort; crypto equity is
			// still worth snapshotting.
			c.log.Warn("platform equity unavailable", zap.Error(err))
		} else {
			out.Forex = forex
		}
	}

	out.Total = out.Spot.Add(out.Futures).Add(out.Forex).Add(out.Unrealized)
	out.Time = time.Now().UTC()
	return out, nil
}

// SnapshotEquity runs the full computation and appends the result to
// the persisted equity log.
func (c *Cache) SnapshotEquity(ctx context.Context) (EquityBreakdown, error) {
	b, err := c.CalculateFullEquity(ctx)
	if err != nil {
		return b, err
	}
	err = c.cfg.Store.AppendEquity(store.EquitySnapshot{
		Total:      b.Total,
		Spot:       b.Spot,
		Futures:    b.Futures,
		Forex:      b.Forex,
		Unrealized: b.Unrealized,
		Time:       b.Time,
	})
	if err != nil {
		return b, err
	}
	c.log.Info("equity snapshot",
		zap.String("total", b.Total.String()),
		zap.String("spot", b.Spot.String()),
		zap.String("futures", b.Futures.String()),
		zap.String("forex", b.Forex.String()),
		zap.String("unrealized", b.Unrealized.String()))
	return b, nil
}

func (c *Cache) spotEquity(ctx context.Context) (decimal.Decimal, error) {
	balances, err := c.cfg.Spot.Balances(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	var (
		total   decimal.Decimal
		symbols []string
	)
	for _, b := range balances {
		if b.Total.Sign() <= 0 {
			continue
		}
		if b.Asset == c.cfg.QuoteAsset {
			total = total.Add(b.Total)
			continue
		}
		symbols = append(symbols, b.Asset+c.cfg.QuoteAsset)
	}

	if len(symbols) == 0 {
		return total, nil
	}

	tickers, err := c.cfg.Spot.Tickers(ctx, symbols)
	if err != nil {
		return decimal.Zero, err
	}
	for _, b := range balances {
		if b.Asset == c.cfg.QuoteAsset || b.Total.Sign() <= 0 {
			continue
		}
		t, ok := tickers[b.Asset+c.cfg.QuoteAsset]
		if !ok {
			c.log.Warn("no ticker for spot holding", zap.String("asset", b.Asset))
			continue
		}
		total = total.Add(b.Total.Mul(t.Last))
	}
	return total, nil
}

func (c *Cache) futuresEquity(ctx context.Context) (futures, unrealized decimal.Decimal, err error) {
	balances, err := c.cfg.Futures.Balances(ctx)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	for _, b := range balances {
		if b.Asset == c.cfg.QuoteAsset {
			futures = futures.Add(b.Total)
		}
	}

	positions, err := c.cfg.Futures.Positions(ctx)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	for _, p := range positions {
		unrealized = unrealized.Add(p.UnrealizedPnL)
	}
	return futures, unrealized, nil
}

// PnLSummary aggregates trading fees and funding payments over a
// window.
type PnLSummary struct {
	Fees    decimal.Decimal
	Funding decimal.Decimal
}

// PnLBreakdown sums fees and funding for symbols with recent cached
// activity since the given time. Best-effort: per-symbol lookup
// failures are logged and skipped, never propagated.
func (c *Cache) PnLBreakdown(ctx context.Context, since time.Time) PnLSummary {
	var out PnLSummary
	if c.cfg.Futures == nil {
		return out
	}

	seen := map[string]bool{}
	for _, p := range c.Positions(market.KindFuture, "") {
		seen[p.Symbol] = true
	}
	for _, o := range c.Orders(market.KindFuture, "") {
		seen[o.Symbol] = true
	}

	for symbol := range seen {
		fills, err := c.cfg.Futures.TradeHistory(ctx, symbol, since)
		if err != nil {
			c.log.Warn("trade history lookup failed",
				zap.String("symbol", symbol), zap.Error(err))
		} else {
			for _, f := range fills {
				out.Fees = out.Fees.Add(f.Fee)
			}
		}

		funding, err := c.cfg.Futures.FundingHistory(ctx, symbol, since)
		if err != nil {
			c.log.Warn("funding history lookup failed",
				zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		for _, f := range funding {
			out.Funding = out.Funding.Add(f.Amount)
		}
	}
	return out
}
