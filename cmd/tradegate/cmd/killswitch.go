package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"tradegate/store"
)

var killswitchCmd = &cobra.Command{
	Use:   "killswitch [on|off]",
	Short: "Halt or resume all trading",
	Long: `Flip the persisted kill switch. While it is on, every trade
proposal is rejected before any venue call. The running gateway picks
the change up on its next validation, no restart needed.

Example:
  tradegate killswitch on --config tradegate.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runKillswitch,
}

var (
	killswitchConfigPath string
	killswitchDBPath     string
)

func init() {
	rootCmd.AddCommand(killswitchCmd)

	killswitchCmd.Flags().StringVarP(&killswitchConfigPath, "config", "f", "", "path to config file")
	killswitchCmd.Flags().StringVar(&killswitchDBPath, "db", "", "path to the sqlite store (overrides config)")
}

func runKillswitch(cmd *cobra.Command, args []string) error {
	var value string
	switch args[0] {
	case "on":
		value = "true"
	case "off":
		value = "false"
	default:
		return fmt.Errorf("argument must be on or off, got %q", args[0])
	}

	path, err := storePath(killswitchConfigPath, killswitchDBPath)
	if err != nil {
		return err
	}
	st, err := store.Open(path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.SetString(store.KeyKillSwitch, value); err != nil {
		return err
	}
	fmt.Printf("kill switch %s\n", args[0])
	return nil
}
