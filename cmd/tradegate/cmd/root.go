package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tradegate",
	Short: "Order execution and risk control gateway for automated trading",
	Long: `Tradegate sits between trading strategies and live venues.

It provides:
  - Portfolio-level risk validation (kill switch, leverage caps,
    exposure limits, drawdown throttling)
  - Idempotent order execution with retry and reconciliation
  - A cached view of positions, orders and balances across venues
  - Equity tracking with persistent snapshots
  - A single-instance lease so only one process trades per account`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}
