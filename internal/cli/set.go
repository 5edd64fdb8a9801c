package cli

import (
	"github.com/spf13/cobra"
)

var setCmd = &cobra.Command{
	Use:   "set <setting> <value>",
	Short: "Store a process-wide default (milestone, interval, minor, major, critical)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SetPref(cmd.Context(), args[0], args[1])
	},
}
