package app

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"wallet-watch/internal/config"
	"wallet-watch/internal/service"
	"wallet-watch/internal/storage"
)

// Settable preference names exposed by the set command.
const (
	SettingMilestone       = "milestone"
	SettingDefaultInterval = "interval"
	SettingDefaultMinor    = "minor"
	SettingDefaultMajor    = "major"
	SettingDefaultCritical = "critical"
)

var settingKeys = map[string]string{
	SettingMilestone:       service.PrefMilestoneUSD,
	SettingDefaultInterval: service.PrefDefaultIntervalSec,
	SettingDefaultMinor:    service.PrefDefaultMinorPct,
	SettingDefaultMajor:    service.PrefDefaultMajorPct,
	SettingDefaultCritical: service.PrefDefaultCriticalPct,
}

// SetPref validates and stores a process-wide preference. The running
// daemon picks it up on its next start.
func (a *App) SetPref(ctx context.Context, name, value string) error {
	key, ok := settingKeys[name]
	if !ok {
		return fmt.Errorf("unknown setting %q", name)
	}

	switch name {
	case SettingDefaultInterval:
		secs, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("interval must be an integer number of seconds: %w", err)
		}
		if err := config.ValidateInterval(time.Duration(secs) * time.Second); err != nil {
			return err
		}
	default:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%s must be numeric: %w", name, err)
		}
		if v <= 0 {
			return fmt.Errorf("%s must be greater than zero", name)
		}
	}

	return a.withService(ctx, func(_ *service.Service, store *storage.Store) error {
		if err := store.SetPref(ctx, key, value); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%s set to %s\n", name, value)
		return nil
	})
}
