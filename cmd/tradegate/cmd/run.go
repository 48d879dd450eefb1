package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tradegate/portfolio"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the execution gateway",
	Long: `Start the gateway: acquire the instance lease, keep the portfolio
cache in sync and snapshot equity on a schedule.

Venue credentials are read from the environment (or a .env file):
BINANCE_API_KEY, BINANCE_API_SECRET, OANDA_API_TOKEN.

Example:
  tradegate run --config tradegate.yaml`,
	RunE: runRun,
}

var runConfigPath string

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "config", "f", "", "path to config file (YAML or JSON) (required)")
	runCmd.MarkFlagRequired("config")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, err := buildGateway(ctx, runConfigPath)
	if err != nil {
		return err
	}
	defer g.close()

	if err := g.cache.Sync(ctx, true); err != nil {
		g.log.Warn("initial portfolio sync failed", zap.Error(err))
	}

	go syncLoop(ctx, g.cache, g.cfg.CacheSyncInterval(), g.log)
	go snapshotLoop(ctx, g.cache, g.cfg.EquitySnapshotInterval(), g.log)

	g.log.Info("tradegate running",
		zap.Bool("spot", g.cfg.Binance.Spot),
		zap.Bool("futures", g.cfg.Binance.Futures),
		zap.Bool("forex", g.cfg.OANDA.Enabled),
		zap.String("store", g.cfg.Store.Path))

	<-ctx.Done()
	g.log.Info("shutting down")
	return nil
}

func syncLoop(ctx context.Context, cache *portfolio.Cache, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := cache.Sync(ctx, false); err != nil {
				log.Warn("portfolio sync failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

func snapshotLoop(ctx context.Context, cache *portfolio.Cache, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := cache.SnapshotEquity(ctx); err != nil {
				log.Warn("equity snapshot failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}
