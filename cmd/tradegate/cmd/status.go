package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tradegate/config"
	"tradegate/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show lease, equity and recent execution outcomes",
	Long: `Inspect the gateway's persisted state without touching any venue:
the instance lease, the latest equity snapshot, the kill switch and
the most recent audit records.

Example:
  tradegate status --config tradegate.yaml`,
	RunE: runStatus,
}

var (
	statusConfigPath string
	statusDBPath     string
	statusAuditRows  int
)

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVarP(&statusConfigPath, "config", "f", "", "path to config file")
	statusCmd.Flags().StringVar(&statusDBPath, "db", "", "path to the sqlite store (overrides config)")
	statusCmd.Flags().IntVarP(&statusAuditRows, "audit", "n", 10, "audit records to show")
}

func runStatus(cmd *cobra.Command, args []string) error {
	path, err := storePath(statusConfigPath, statusDBPath)
	if err != nil {
		return err
	}

	st, err := store.Open(path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	lease, ok, err := st.GetLease()
	if err != nil {
		return err
	}
	if ok {
		fmt.Printf("Lease:    %s on %s (pid %d), heartbeat %s ago\n",
			lease.Owner, lease.Host, lease.PID,
			time.Since(lease.HeartbeatAt).Round(time.Second))
	} else {
		fmt.Println("Lease:    free")
	}

	killed, err := st.KillSwitchEnabled()
	if err != nil {
		return err
	}
	fmt.Printf("Kill switch: %v\n", killed)

	equity, ok, err := st.LatestEquity()
	if err != nil {
		return err
	}
	if ok {
		fmt.Printf("Equity:   %s (spot %s, futures %s, forex %s, unrealized %s) at %s\n",
			equity.Total, equity.Spot, equity.Futures, equity.Forex,
			equity.Unrealized, equity.Time.Format(time.RFC3339))
	} else {
		fmt.Println("Equity:   no snapshots")
	}

	records, err := st.RecentAudit(statusAuditRows)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("Audit:    empty")
		return nil
	}
	fmt.Println("Audit:")
	for _, r := range records {
		fmt.Printf("  %s  %-8s %-10s %-4s %s x%d -> %s  %s\n",
			r.Time.Format("2006-01-02 15:04:05"), r.MarketKind, r.Symbol,
			r.Side, r.Amount, r.Leverage, r.Status, r.Message)
	}
	return nil
}

// storePath resolves the sqlite path from --db or the config file.
func storePath(configPath, dbPath string) (string, error) {
	if dbPath != "" {
		return dbPath, nil
	}
	if configPath == "" {
		return "", fmt.Errorf("either --config or --db is required")
	}
	return config.StorePath(configPath)
}
