package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"wallet-watch/internal/app"
)

var (
	historyTarget string
	historyLimit  int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Display recent samples for a watch target",
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyTarget == "" {
			return fmt.Errorf("--target is required")
		}
		if historyLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.HistoryOptions{
			TargetID: historyTarget,
			Limit:    historyLimit,
		}
		return getApp().History(cmd.Context(), opts)
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyTarget, "target", "", "Watch target id")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of samples to display")
}
