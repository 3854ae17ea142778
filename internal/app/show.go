package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"cgm-trend-alerts/internal/records"
	"cgm-trend-alerts/internal/storage"
)

// Show prints recent stored glucose readings or treatment records.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if opts.Treatments {
		return a.showTreatments(ctx, store, opts)
	}

	readings, err := store.ListRecentReadings(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(readings) == 0 {
		fmt.Fprintln(os.Stdout, "no readings found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tmg/dL\tmmol/L\tTrend\tDevice")

	for _, sr := range readings {
		fmt.Fprintf(
			writer,
			"%s\t%d\t%s\t%s\t%s\n",
			sr.Reading.Time.UTC().Format(time.RFC3339),
			sr.Reading.Value,
			records.MmolFromMgdl(sr.Reading.Value).StringFixed(1),
			sr.Reading.Trend,
			sanitizeInline(sr.Reading.Device),
		)
	}

	writer.Flush()
	return nil
}

// showTreatments lists treatments from the last week, newest last.
func (a *App) showTreatments(ctx context.Context, store *storage.Store, opts ShowOptions) error {
	to := time.Now().UTC().Add(time.Minute)
	from := to.AddDate(0, 0, -7)

	treatments, err := store.ListTreatmentsBetween(ctx, from, to, records.TreatmentKind(opts.Kind))
	if err != nil {
		return err
	}
	if len(treatments) == 0 {
		fmt.Fprintln(os.Stdout, "no treatments found")
		return nil
	}
	if opts.Limit > 0 && len(treatments) > opts.Limit {
		treatments = treatments[len(treatments)-opts.Limit:]
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tKind\tCarbs\tInsulin\tDuration\tNotes")

	for _, st := range treatments {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%.1f\t%.1f\t%dm\t%s\n",
			st.Treatment.Time.UTC().Format(time.RFC3339),
			st.Treatment.Kind,
			st.Treatment.Carbs,
			st.Treatment.Insulin,
			st.Treatment.DurationMin,
			sanitizeInline(st.Treatment.Notes),
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
