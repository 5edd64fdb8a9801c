package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"wallet-watch/internal/service"
	"wallet-watch/internal/storage"
	"wallet-watch/internal/watch"
)

// WatchesList prints the active watch targets across all watchers.
func (a *App) WatchesList(ctx context.Context) error {
	return a.withService(ctx, func(svc *service.Service, _ *storage.Store) error {
		rows, err := svc.ListTargets(ctx)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Fprintln(os.Stdout, "no watch targets configured")
			return nil
		}

		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Category\tID\tName\tTiers (minor/major/critical)\tInterval\tLast Value\tLast Sample (UTC)")
		for _, row := range rows {
			lastSample := "-"
			if row.LastSampleAt != nil {
				lastSample = row.LastSampleAt.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s/%s/%s%%\t%ds\t%s\t%s\n",
				row.Category,
				row.ID,
				row.DisplayName,
				row.MinorPct.String(),
				row.MajorPct.String(),
				row.CriticalPct.String(),
				row.IntervalSeconds,
				row.LastValue.StringFixed(2),
				lastSample,
			)
		}
		return writer.Flush()
	})
}

// Status prints loop state across all three watchers. Outside the daemon
// process no loops run, so Running reflects this process only.
func (a *App) Status(ctx context.Context) error {
	return a.withService(ctx, func(svc *service.Service, _ *storage.Store) error {
		if err := svc.Reconcile(ctx); err != nil {
			return err
		}

		statuses := svc.Status()
		if len(statuses) == 0 {
			fmt.Fprintln(os.Stdout, "no watch targets configured")
			return nil
		}

		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Category\tID\tName\tInterval\tLast Value\tLast Sample (UTC)\tRunning")
		for _, st := range statuses {
			lastSample := "-"
			if !st.LastSampleAt.IsZero() {
				lastSample = st.LastSampleAt.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
				st.Category,
				st.ID,
				st.DisplayName,
				st.Interval,
				st.LastValue.StringFixed(2),
				lastSample,
				st.Running,
			)
		}
		return writer.Flush()
	})
}

// WatchAdd registers a token watch.
func (a *App) WatchAdd(ctx context.Context, tokenID, displayName string, patch watch.ConfigPatch) error {
	return a.withService(ctx, func(svc *service.Service, _ *storage.Store) error {
		if err := svc.AddToken(ctx, tokenID, displayName, patch); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "watching %s\n", tokenID)
		return nil
	})
}

// WatchRemove deactivates a watch target by id.
func (a *App) WatchRemove(ctx context.Context, id string) error {
	return a.withService(ctx, func(svc *service.Service, _ *storage.Store) error {
		if err := svc.RemoveTarget(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "removed %s\n", id)
		return nil
	})
}

// WatchSet applies a partial configuration update to a watch target.
func (a *App) WatchSet(ctx context.Context, id string, patch watch.ConfigPatch) error {
	return a.withService(ctx, func(svc *service.Service, _ *storage.Store) error {
		if err := svc.UpdateTarget(ctx, id, patch); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "updated %s\n", id)
		return nil
	})
}
