package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"cgm-trend-alerts/internal/alerts"
	"cgm-trend-alerts/internal/predict"
	"cgm-trend-alerts/internal/records"
	"cgm-trend-alerts/internal/risk"
)

// Predict computes an on-demand forecast from stored readings and prints it.
// Insufficient data is reported explicitly, never as a zero-risk value.
func (a *App) Predict(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	forecasts := a.newForecastCache()
	if forecasts != nil {
		defer forecasts.Close()
	}

	now := time.Now().UTC()
	window := time.Duration(a.Config.Prediction.WindowDays) * 24 * time.Hour
	stored, err := store.ListReadingsBetween(ctx, now.Add(-window), now.Add(time.Minute))
	if err != nil {
		return err
	}

	readings := make([]records.GlucoseReading, 0, len(stored))
	for _, sr := range stored {
		readings = append(readings, sr.Reading)
	}

	forecast, err := a.newPredictor().Predict(readings)
	if err != nil {
		if errors.Is(err, predict.ErrInsufficientData) {
			fmt.Fprintf(os.Stdout, "insufficient data: %v\n", err)
			fmt.Fprintln(os.Stdout, "risk: unknown (not none)")
			return nil
		}
		return err
	}

	if forecasts != nil {
		if cacheErr := forecasts.StoreLatest(ctx, forecast); cacheErr != nil {
			a.Logger.Warn().Err(cacheErr).Msg("failed to cache forecast")
		}
	}

	printForecast(forecast)
	return nil
}

// CurrentRisk prints the persisted last-evaluated risk level, plus the cached
// forecast when one is available.
func (a *App) CurrentRisk(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	history := alerts.NewManager(store, a.Logger)
	assessor := risk.NewAssessor(a.thresholds(), store, history, a.Logger)

	level, err := assessor.CurrentLevel(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "risk: %s\n", level)

	forecasts := a.newForecastCache()
	if forecasts == nil {
		return nil
	}
	defer forecasts.Close()

	cached, ok, cacheErr := forecasts.Latest(ctx)
	if cacheErr != nil {
		a.Logger.Warn().Err(cacheErr).Msg("failed to read cached forecast")
		return nil
	}
	if ok {
		fmt.Fprintf(os.Stdout, "last forecast (%s): min %d mg/dL within %d min, trend %s\n",
			cached.GeneratedAt.Format(time.RFC3339), cached.MinProjected(), cached.HorizonMinutes(), cached.Trend)
	}
	return nil
}

func printForecast(forecast predict.Result) {
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Generated\t%s\n", forecast.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(writer, "Base\t%d mg/dL (%s mmol/L)\n", forecast.BaseValue, records.MmolFromMgdl(forecast.BaseValue).StringFixed(1))
	fmt.Fprintf(writer, "Trend\t%s\n", forecast.Trend)
	fmt.Fprintf(writer, "Rate\t%s mg/dL per minute\n", forecast.RatePerMinute.StringFixed(2))
	fmt.Fprintf(writer, "Confidence\t%.2f\n", forecast.Confidence)
	writer.Flush()

	pointWriter := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(pointWriter, "Offset (min)\tValue (mg/dL)\tValue (mmol/L)")
	for _, point := range forecast.Points {
		fmt.Fprintf(pointWriter, "+%d\t%d\t%s\n", point.OffsetMinutes, point.Value, records.MmolFromMgdl(point.Value).StringFixed(1))
	}
	pointWriter.Flush()
}
