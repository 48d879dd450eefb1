package cmd

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"tradegate/config"
	"tradegate/exchange"
	"tradegate/exchange/binance"
	"tradegate/exchange/oanda"
	"tradegate/execution"
	"tradegate/lease"
	"tradegate/portfolio"
	"tradegate/risk"
	"tradegate/store"
)

// gateway is the fully wired stack shared by the run and trade
// commands.
type gateway struct {
	cfg      *config.Config
	store    *store.Store
	lease    *lease.Lease
	cache    *portfolio.Cache
	pipeline *execution.Pipeline
	log      *zap.Logger
}

// buildGateway loads config, opens the store, builds the venue
// adapters and acquires the instance lease. Call close when done.
func buildGateway(ctx context.Context, configPath string) (*gateway, error) {
	_ = godotenv.Load()

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var (
		spot     exchange.Exchange
		futures  exchange.Exchange
		platform exchange.PlatformExchange
	)
	if cfg.Binance.Spot {
		spot = binance.NewSpot(cfg.Binance.APIKey, cfg.Binance.APISecret)
	}
	if cfg.Binance.Futures {
		futures = binance.NewFutures(cfg.Binance.APIKey, cfg.Binance.APISecret)
	}
	if cfg.OANDA.Enabled {
		platform = oanda.NewClient(cfg.OANDA.Token, cfg.OANDA.AccountID, cfg.OANDA.Practice)
	}

	lse := lease.New(st, lease.Config{
		TTL:       cfg.LeaseTTL(),
		Heartbeat: cfg.LeaseHeartbeat(),
	}, log)
	if err := lse.Acquire(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("acquire lease: %w", err)
	}

	cache := portfolio.NewCache(portfolio.Config{
		Spot:         spot,
		Futures:      futures,
		Platform:     platform,
		Store:        st,
		SyncInterval: cfg.CacheSyncInterval(),
		QuoteAsset:   cfg.Cache.QuoteAsset,
		Workers:      cfg.Cache.Workers,
	}, log)

	validator := risk.NewValidator(st, cache, log)
	pipeline := execution.NewPipeline(execution.Config{
		Spot:     spot,
		Futures:  futures,
		Platform: platform,
	}, lse, validator, cache, st, log)

	return &gateway{
		cfg:      cfg,
		store:    st,
		lease:    lse,
		cache:    cache,
		pipeline: pipeline,
		log:      log,
	}, nil
}

func (g *gateway) close() {
	if err := g.lease.Release(); err != nil {
		g.log.Warn("lease release failed", zap.Error(err))
	}
	g.store.Close()
	g.log.Sync()
}
