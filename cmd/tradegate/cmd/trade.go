package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"tradegate/market"
)

var tradeCmd = &cobra.Command{
	Use:   "trade",
	Short: "Submit a single trade through the execution pipeline",
	Long: `Validate and execute one trade with full risk checks, idempotency
and retry handling, then print the outcome.

Examples:
  tradegate trade --config tradegate.yaml --symbol BTCUSDT --kind future \
    --side buy --amount 100 --leverage 5
  tradegate trade --config tradegate.yaml --symbol EUR_USD --kind forex \
    --side sell --amount 0.5 --stop-loss 1.0950`,
	RunE: runTrade,
}

var (
	tradeConfigPath string
	tradeSymbol     string
	tradeKind       string
	tradeSide       string
	tradeAmount     string
	tradeLeverage   int
	tradeStopLoss   string
	tradeTakeProfit string
	tradeKey        string
	tradeAutoFix    bool
)

func init() {
	rootCmd.AddCommand(tradeCmd)

	tradeCmd.Flags().StringVarP(&tradeConfigPath, "config", "f", "", "path to config file (required)")
	tradeCmd.Flags().StringVarP(&tradeSymbol, "symbol", "s", "", "symbol to trade (required)")
	tradeCmd.Flags().StringVarP(&tradeKind, "kind", "k", "future", "market kind (spot, future, forex)")
	tradeCmd.Flags().StringVar(&tradeSide, "side", "buy", "order side (buy, sell)")
	tradeCmd.Flags().StringVarP(&tradeAmount, "amount", "a", "", "margin in USD, or lots for forex (required)")
	tradeCmd.Flags().IntVarP(&tradeLeverage, "leverage", "l", 1, "leverage for futures")
	tradeCmd.Flags().StringVar(&tradeStopLoss, "stop-loss", "", "stop loss price")
	tradeCmd.Flags().StringVar(&tradeTakeProfit, "take-profit", "", "take profit price (forex only)")
	tradeCmd.Flags().StringVar(&tradeKey, "key", "", "idempotency key (generated when omitted)")
	tradeCmd.Flags().BoolVar(&tradeAutoFix, "auto-fix-leverage", false, "raise leverage to clear the venue minimum notional")

	tradeCmd.MarkFlagRequired("config")
	tradeCmd.MarkFlagRequired("symbol")
	tradeCmd.MarkFlagRequired("amount")
}

func runTrade(cmd *cobra.Command, args []string) error {
	proposal, err := buildProposal()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	g, err := buildGateway(ctx, tradeConfigPath)
	if err != nil {
		return err
	}
	defer g.close()

	out := g.pipeline.Execute(ctx, proposal)

	fmt.Printf("Status:  %s\n", out.Status)
	fmt.Printf("Message: %s\n", out.Message)
	if out.OrderID != "" {
		fmt.Printf("Order:   %s\n", out.OrderID)
	}
	fmt.Printf("Key:     %s\n", out.IdempotencyKey)

	if !out.Success {
		return fmt.Errorf("trade not executed")
	}
	return nil
}

func buildProposal() (*market.TradeProposal, error) {
	kind := market.Kind(tradeKind)
	switch kind {
	case market.KindSpot, market.KindFuture, market.KindForex:
	default:
		return nil, fmt.Errorf("unknown kind %q (spot, future, forex)", tradeKind)
	}

	side := market.Side(tradeSide)
	if side != market.SideBuy && side != market.SideSell {
		return nil, fmt.Errorf("unknown side %q (buy, sell)", tradeSide)
	}

	amount, err := decimal.NewFromString(tradeAmount)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}

	p := &market.TradeProposal{
		Symbol:          tradeSymbol,
		Amount:          amount,
		Leverage:        tradeLeverage,
		Side:            side,
		Kind:            kind,
		IdempotencyKey:  tradeKey,
		AutoFixLeverage: tradeAutoFix,
	}
	if tradeStopLoss != "" {
		if p.StopLoss, err = decimal.NewFromString(tradeStopLoss); err != nil {
			return nil, fmt.Errorf("parse stop-loss: %w", err)
		}
	}
	if tradeTakeProfit != "" {
		if p.TakeProfit, err = decimal.NewFromString(tradeTakeProfit); err != nil {
			return nil, fmt.Errorf("parse take-profit: %w", err)
		}
	}
	return p, nil
}
