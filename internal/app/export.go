package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"wallet-watch/internal/service"
	"wallet-watch/internal/storage"
)

// Export renders a target's price history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.TargetID == "" {
		return errors.New("--target is required")
	}
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	return a.withService(ctx, func(_ *service.Service, store *storage.Store) error {
		to := time.Now().UTC()
		if opts.To != nil {
			to = opts.To.UTC()
		}

		from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Watch.DefaultInterval)
		if opts.From != nil {
			from = opts.From.UTC()
		}

		if !from.Before(to) {
			return errors.New("from must be before to")
		}

		points, err := store.ListHistoryBetween(ctx, opts.TargetID, from, to)
		if err != nil {
			return err
		}
		if len(points) == 0 {
			a.Logger.Info().Str("target", opts.TargetID).Msg("no samples found for export window")
			return nil
		}

		downsampled := downsamplePoints(points, opts.MaxPoints)
		a.Logger.Info().Int("total", len(points)).Int("exported", len(downsampled)).Msg("exporting samples")

		if opts.CSVPath != "" {
			if err := writeHistoryCSV(opts.CSVPath, downsampled); err != nil {
				return err
			}
		}

		if opts.PNGPath != "" {
			if err := writeHistoryPNG(opts.PNGPath, opts.TargetID, downsampled); err != nil {
				return err
			}
		}

		return nil
	})
}

func downsamplePoints(points []storage.HistoryPoint, max int) []storage.HistoryPoint {
	if max <= 0 || len(points) <= max {
		return points
	}

	result := make([]storage.HistoryPoint, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writeHistoryCSV(path string, points []storage.HistoryPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"sampled_at", "target_id", "label", "value"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, p := range points {
		record := []string{
			p.SampledAt.Format(time.RFC3339),
			p.TargetID,
			p.Label,
			p.Value.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeHistoryPNG(path, targetID string, points []storage.HistoryPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(points))
	values := make([]float64, len(points))
	for i, p := range points {
		x[i] = p.SampledAt
		values[i] = p.Value.InexactFloat64()
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Value (USD)",
			ValueFormatter: valueFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    targetID,
				XValues: x,
				YValues: values,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
