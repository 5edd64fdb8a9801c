package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"wallet-watch/internal/service"
	"wallet-watch/internal/storage"
)

// Alerts prints recent alert records, newest first.
func (a *App) Alerts(ctx context.Context, opts AlertsOptions) error {
	return a.withService(ctx, func(_ *service.Service, store *storage.Store) error {
		alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
		if err != nil {
			return err
		}
		if len(alerts) == 0 {
			fmt.Fprintln(os.Stdout, "no alerts recorded")
			return nil
		}

		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Time (UTC)\tCategory\tTarget\tSeverity\tChange%\tDelivered\tMessage")
		for _, rec := range alerts {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
				rec.CreatedAt.UTC().Format(time.RFC3339),
				rec.Category,
				rec.TargetID,
				rec.Severity,
				rec.DeltaPct.StringFixed(2),
				rec.Delivered,
				sanitizeInline(rec.Message),
			)
		}
		return writer.Flush()
	})
}

// History prints recent samples for one target, newest first.
func (a *App) History(ctx context.Context, opts HistoryOptions) error {
	return a.withService(ctx, func(_ *service.Service, store *storage.Store) error {
		points, err := store.ListRecentHistory(ctx, opts.TargetID, opts.Limit)
		if err != nil {
			return err
		}
		if len(points) == 0 {
			fmt.Fprintln(os.Stdout, "no samples found")
			return nil
		}

		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Time (UTC)\tTarget\tLabel\tValue")
		for _, p := range points {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n",
				p.SampledAt.UTC().Format(time.RFC3339),
				p.TargetID,
				p.Label,
				p.Value.StringFixed(2),
			)
		}
		return writer.Flush()
	})
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
