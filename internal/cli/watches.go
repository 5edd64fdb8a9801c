package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"wallet-watch/internal/watch"
)

var watchesCmd = &cobra.Command{
	Use:   "watches",
	Short: "Manage watch targets",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().WatchesList(cmd.Context())
	},
}

var watchesAddCmd = &cobra.Command{
	Use:   "add <token-id>",
	Short: "Start watching a token price",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		patch := patchFromFlags(cmd)
		return getApp().WatchAdd(cmd.Context(), args[0], name, patch)
	},
}

var watchesRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Stop watching a target",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().WatchRemove(cmd.Context(), args[0])
	},
}

var watchesSetCmd = &cobra.Command{
	Use:   "set <id>",
	Short: "Update a watch target's configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch := patchFromFlags(cmd)
		if patch == (watch.ConfigPatch{}) {
			return fmt.Errorf("no configuration flags provided")
		}
		return getApp().WatchSet(cmd.Context(), args[0], patch)
	},
}

// patchFromFlags converts only the flags the user actually set into a
// partial update, so unset flags keep the target's current values.
func patchFromFlags(cmd *cobra.Command) watch.ConfigPatch {
	var patch watch.ConfigPatch

	if cmd.Flags().Changed("name") {
		name, _ := cmd.Flags().GetString("name")
		patch.DisplayName = &name
	}
	if cmd.Flags().Changed("minor") {
		v, _ := cmd.Flags().GetFloat64("minor")
		patch.MinorPct = &v
	}
	if cmd.Flags().Changed("major") {
		v, _ := cmd.Flags().GetFloat64("major")
		patch.MajorPct = &v
	}
	if cmd.Flags().Changed("critical") {
		v, _ := cmd.Flags().GetFloat64("critical")
		patch.CriticalPct = &v
	}
	if cmd.Flags().Changed("alert-minor") {
		v, _ := cmd.Flags().GetBool("alert-minor")
		patch.AlertMinor = &v
	}
	if cmd.Flags().Changed("alert-major") {
		v, _ := cmd.Flags().GetBool("alert-major")
		patch.AlertMajor = &v
	}
	if cmd.Flags().Changed("alert-critical") {
		v, _ := cmd.Flags().GetBool("alert-critical")
		patch.AlertCritical = &v
	}
	if cmd.Flags().Changed("interval") {
		v, _ := cmd.Flags().GetDuration("interval")
		patch.Interval = &v
	}

	return patch
}

func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().String("name", "", "Display name for the target")
	cmd.Flags().Float64("minor", 0, "Minor tier threshold (percent)")
	cmd.Flags().Float64("major", 0, "Major tier threshold (percent)")
	cmd.Flags().Float64("critical", 0, "Critical tier threshold (percent)")
	cmd.Flags().Bool("alert-minor", true, "Alert on minor tier changes")
	cmd.Flags().Bool("alert-major", true, "Alert on major tier changes")
	cmd.Flags().Bool("alert-critical", true, "Alert on critical tier changes")
	cmd.Flags().Duration("interval", 0, "Sample interval (30s to 1h)")
}

func init() {
	addConfigFlags(watchesAddCmd)
	addConfigFlags(watchesSetCmd)

	watchesCmd.AddCommand(watchesAddCmd)
	watchesCmd.AddCommand(watchesRemoveCmd)
	watchesCmd.AddCommand(watchesSetCmd)
}
