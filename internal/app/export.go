package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"cgm-trend-alerts/internal/records"
	"cgm-trend-alerts/internal/storage"
)

// Export renders stored readings as CSV and/or a PNG chart.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Nightscout.SamplingGranularity)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	readings, err := store.ListReadingsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(readings) == 0 {
		a.Logger.Info().Msg("no readings found for export window")
		return nil
	}

	downsampled := downsampleReadings(readings, opts.MaxPoints)
	a.Logger.Info().Int("total", len(readings)).Int("exported", len(downsampled)).Msg("exporting readings")

	if opts.CSVPath != "" {
		if err := writeReadingsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := a.writeReadingsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleReadings(readings []storage.StoredReading, max int) []storage.StoredReading {
	if max <= 0 || len(readings) <= max {
		return readings
	}

	result := make([]storage.StoredReading, 0, max)
	step := float64(len(readings)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(readings) {
			idx = len(readings) - 1
		}
		result = append(result, readings[idx])
	}
	return result
}

func writeReadingsCSV(path string, readings []storage.StoredReading) error {
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

	if err := writer.Write([]string{"time_utc", "value_mgdl", "value_mmol", "trend", "device"}); err != nil {
		return err
	}

	for _, sr := range readings {
		row := []string{
			sr.Reading.Time.UTC().Format(time.RFC3339),
			fmt.Sprintf("%d", sr.Reading.Value),
			records.MmolFromMgdl(sr.Reading.Value).StringFixed(1),
			string(sr.Reading.Trend),
			sr.Reading.Device,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	return writer.Error()
}

func (a *App) writeReadingsPNG(path string, readings []storage.StoredReading) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, 0, len(readings))
	values := make([]float64, 0, len(readings))
	highLine := make([]float64, 0, len(readings))
	mediumLine := make([]float64, 0, len(readings))

	for _, sr := range readings {
		x = append(x, sr.Reading.Time)
		values = append(values, float64(sr.Reading.Value))
		highLine = append(highLine, float64(a.Config.Risk.HighThreshold))
		mediumLine = append(mediumLine, float64(a.Config.Risk.MediumThreshold))
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 540,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Glucose (mg/dL)",
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Glucose",
				XValues: x,
				YValues: values,
			},
			chart.TimeSeries{
				Name:    "High risk",
				XValues: x,
				YValues: highLine,
			},
			chart.TimeSeries{
				Name:    "Medium risk",
				XValues: x,
				YValues: mediumLine,
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
