package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"wallet-watch/internal/app"
)

var alertsLimit int

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Display recent alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertsLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		return getApp().Alerts(cmd.Context(), app.AlertsOptions{Limit: alertsLimit})
	},
}

func init() {
	alertsCmd.Flags().IntVar(&alertsLimit, "limit", 20, "Number of alerts to display")
}
