package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"cgm-trend-alerts/internal/syncer"
)

// Sync runs one on-demand sync invocation and prints the report.
func (a *App) Sync(ctx context.Context, opts SyncOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	sync := syncer.New(a.newSource(), a.newNormalizer(), store, store, a.Logger)

	report, err := sync.Sync(ctx, opts.WindowDays)
	printReport(report)
	if err != nil {
		return err
	}

	total, countErr := store.CountReadings(ctx)
	if countErr != nil {
		return countErr
	}
	fmt.Fprintf(os.Stdout, "stored readings total: %d\n", total)
	return nil
}

func printReport(report syncer.Report) {
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Run\t%s\n", report.RunID)
	fmt.Fprintf(writer, "Window (days)\t%d\n", report.WindowDays)
	fmt.Fprintf(writer, "Glucose inserted\t%d\n", report.GlucoseInserted)
	fmt.Fprintf(writer, "Glucose duplicates\t%d\n", report.GlucoseDuplicates)
	fmt.Fprintf(writer, "Treatments inserted\t%d\n", report.TreatmentInserted)
	fmt.Fprintf(writer, "Treatment duplicates\t%d\n", report.TreatmentDuplicates)
	fmt.Fprintf(writer, "Skipped\t%d\n", len(report.Skipped))
	writer.Flush()

	for _, skip := range report.Skipped {
		fmt.Fprintf(os.Stdout, "skipped %s: %s\n", skip.Kind, skip.Reason)
	}
	for _, msg := range report.Errors {
		fmt.Fprintf(os.Stdout, "error: %s\n", msg)
	}
}
