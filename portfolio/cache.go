package portfolio

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tradegate/exchange"
	"tradegate/market"
	"tradegate/pkg/pool"
	"tradegate/store"
)

const (
	defaultSyncInterval = 30 * time.Second
	defaultQuoteAsset   = "USDT"
	defaultWorkers      = 4

	// Delay before the forced resync scheduled after a successful
	// execution, long enough for the venue to reflect the fill.
	postExecutionDelay = 2 * time.Second
)

// Config wires the cache to its venues and persistence.
type Config struct {
	Spot     exchange.Exchange
	Futures  exchange.Exchange
	Platform exchange.PlatformExchange
	Store    *store.Store

	SyncInterval time.Duration
	QuoteAsset   string
	Workers      int
}

// snapshot is the immutable result of one sync. It is replaced
// wholesale, never mutated, so readers can load it without locking.
type snapshot struct {
	positions []market.Position
	orders    []market.Order
	balances  []market.Balance
	syncedAt  time.Time
}

// Cache holds the last-synced venue state (positions, open orders,
// balances) and derives portfolio equity. All other components read
// this instead of querying venues directly.
type Cache struct {
	cfg  Config
	log  *zap.Logger
	pool *pool.Pool

	// mu serializes refreshes; concurrent Sync callers collapse onto
	// one in-flight refresh. Snapshot reads never take it.
	mu       sync.Mutex
	lastSync time.Time

	snap atomic.Pointer[snapshot]
}

func NewCache(cfg Config, log *zap.Logger) *Cache {
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = defaultSyncInterval
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = defaultQuoteAsset
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	return &Cache{
		cfg:  cfg,
		log:  log,
		pool: pool.New(cfg.Workers),
	}
}

// Sync refreshes cached state, at most once per interval unless force
// is set. A caller arriving while a refresh is in progress or within
// the interval simply uses the already-fresh cache.
func (c *Cache) Sync(ctx context.Context, force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !force && c.snap.Load() != nil && time.Since(c.lastSync) < c.cfg.SyncInterval {
		return nil
	}

	next := c.refresh(ctx)
	c.snap.Store(next)
	c.lastSync = time.Now()
	return nil
}

// refresh fetches all venue legs, each independently and tolerant of
// failure: a failing leg keeps its previous data rather than wiping
// the snapshot.
func (c *Cache) refresh(ctx context.Context) *snapshot {
	prev := c.snap.Load()
	if prev == nil {
		prev = &snapshot{}
	}

	var (
		wg sync.WaitGroup

		futPositions  []market.Position
		futPosErr     error
		futOrders     []market.Order
		futOrdErr     error
		spotBalances  []market.Balance
		spotPositions []market.Position
		spotErr       error
		pfPositions   []market.Position
		pfOrders      []market.Order
		pfErr         error
	)

	if c.cfg.Futures != nil {
		wg.Add(2)
		go func() {
			defer wg.Done()
			futPosErr = c.pool.Do(ctx, func() error {
				var err error
				futPositions, err = c.cfg.Futures.Positions(ctx)
				return err
			})
		}()
		go func() {
			defer wg.Done()
			futOrdErr = c.pool.Do(ctx, func() error {
				var err error
				futOrders, err = c.cfg.Futures.OpenOrders(ctx, "")
				return err
			})
		}()
	}

	if c.cfg.Spot != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			spotErr = c.pool.Do(ctx, func() error {
				var err error
				spotBalances, spotPositions, err = c.fetchSpot(ctx)
				return err
			})
		}()
	}

	if c.cfg.Platform != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pfErr = c.pool.Do(ctx, func() error {
				var err error
				pfPositions, err = c.cfg.Platform.Positions(ctx)
				if err != nil {
					return err
				}
				pfOrders, err = c.cfg.Platform.OpenOrders(ctx)
				return err
			})
		}()
	}

	wg.Wait()

	next := &snapshot{syncedAt: time.Now()}

	if c.cfg.Futures != nil && futPosErr == nil {
		for i := range futPositions {
			futPositions[i].Kind = market.KindFuture
		}
		next.positions = append(next.positions, futPositions...)
	} else {
		if futPosErr != nil {
			c.log.Warn("futures positions sync failed", zap.Error(futPosErr))
		}
		next.positions = append(next.positions, filterPositions(prev.positions, market.KindFuture, "")...)
	}

	if c.cfg.Futures != nil && futOrdErr == nil {
		for i := range futOrders {
			futOrders[i].Kind = market.KindFuture
		}
		next.orders = append(next.orders, futOrders...)
	} else {
		if futOrdErr != nil {
			c.log.Warn("futures orders sync failed", zap.Error(futOrdErr))
		}
		next.orders = append(next.orders, filterOrders(prev.orders, market.KindFuture, "")...)
	}

	if c.cfg.Spot != nil && spotErr == nil {
		next.balances = spotBalances
		next.positions = append(next.positions, spotPositions...)
	} else {
		if spotErr != nil {
			c.log.Warn("spot sync failed", zap.Error(spotErr))
		}
		next.balances = prev.balances
		next.positions = append(next.positions, filterPositions(prev.positions, market.KindSpot, "")...)
	}

	if c.cfg.Platform != nil && pfErr == nil {
		for i := range pfPositions {
			pfPositions[i].Kind = market.KindForex
		}
		for i := range pfOrders {
			pfOrders[i].Kind = market.KindForex
		}
		next.positions = append(next.positions, pfPositions...)
		next.orders = append(next.orders, pfOrders...)
	} else {
		if pfErr != nil {
			c.log.Warn("platform sync failed", zap.Error(pfErr))
		}
		next.positions = append(next.positions, filterPositions(prev.positions, market.KindForex, "")...)
		next.orders = append(next.orders, filterOrders(prev.orders, market.KindForex, "")...)
	}

	return next
}

// fetchSpot loads spot balances and exposes non-quote holdings as
// synthetic positions valued at the current ticker price.
func (c *Cache) fetchSpot(ctx context.Context) ([]market.Balance, []market.Position, error) {
	balances, err := c.cfg.Spot.Balances(ctx)
	if err != nil {
		return nil, nil, err
	}

	var symbols []string
	for _, b := range balances {
		if b.Asset == c.cfg.QuoteAsset || b.Total.Sign() <= 0 {
			continue
		}
		symbols = append(symbols, b.Asset+c.cfg.QuoteAsset)
	}

	var tickers map[string]market.Ticker
	if len(symbols) > 0 {
		tickers, err = c.cfg.Spot.Tickers(ctx, symbols)
		if err != nil {
			// Balances still count; synthetic positions just lose
			// their valuation until the next sync.
			c.log.Warn("spot ticker batch failed", zap.Error(err))
			tickers = nil
		}
	}

	var positions []market.Position
	for _, b := range balances {
		if b.Asset == c.cfg.QuoteAsset || b.Total.Sign() <= 0 {
			continue
		}
		pos := market.Position{
			Symbol: b.Asset + c.cfg.QuoteAsset,
			Kind:   market.KindSpot,
			Side:   market.SideBuy,
			Size:   b.Total,
		}
		if t, ok := tickers[pos.Symbol]; ok {
			pos.EntryPrice = t.Last
		}
		positions = append(positions, pos)
	}
	return balances, positions, nil
}

// Positions returns a filtered view over the last-synced snapshot.
// Empty kind or symbol match everything. No network access.
func (c *Cache) Positions(kind market.Kind, symbol string) []market.Position {
	s := c.snap.Load()
	if s == nil {
		return nil
	}
	return filterPositions(s.positions, kind, symbol)
}

// Orders returns a filtered view over the last-synced open orders.
func (c *Cache) Orders(kind market.Kind, symbol string) []market.Order {
	s := c.snap.Load()
	if s == nil {
		return nil
	}
	return filterOrders(s.orders, kind, symbol)
}

// Balances returns the last-synced spot balances.
func (c *Cache) Balances() []market.Balance {
	s := c.snap.Load()
	if s == nil {
		return nil
	}
	return s.balances
}

// SyncedAt reports when the current snapshot was taken.
func (c *Cache) SyncedAt() time.Time {
	s := c.snap.Load()
	if s == nil {
		return time.Time{}
	}
	return s.syncedAt
}

// UpdateAfterExecution schedules one forced sync after a short delay,
// shrinking the staleness window before the next risk check.
// Fire-and-forget.
func (c *Cache) UpdateAfterExecution() {
	time.AfterFunc(postExecutionDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.Sync(ctx, true); err != nil {
			c.log.Warn("post-execution sync failed", zap.Error(err))
		}
	})
}

func filterPositions(in []market.Position, kind market.Kind, symbol string) []market.Position {
	var out []market.Position
	for _, p := range in {
		if kind != "" && p.Kind != kind {
			continue
		}
		if symbol != "" && p.Symbol != symbol {
			continue
		}
		out = append(out, p)
	}
	return out
}

func filterOrders(in []market.Order, kind market.Kind, symbol string) []market.Order {
	var out []market.Order
	for _, o := range in {
		if kind != "" && o.Kind != kind {
			continue
		}
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		out = append(out, o)
	}
	return out
}
