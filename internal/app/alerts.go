package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"cgm-trend-alerts/internal/alerts"
	"cgm-trend-alerts/internal/storage"
)

// ListAlerts prints alert history matching the options.
func (a *App) ListAlerts(ctx context.Context, opts AlertsOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	manager := alerts.NewManager(store, a.Logger)

	filter := storage.AlertFilter{
		Level: opts.Level,
		Since: opts.Since,
		Limit: opts.Limit,
	}
	if opts.OnlyOpen {
		acked := false
		filter.Acknowledged = &acked
	}

	events, err := manager.List(ctx, filter)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tCreated (UTC)\tLevel\tCurrent\tProjected min\tHorizon\tAck")

	for _, event := range events {
		ack := "-"
		if event.Acknowledged {
			ack = "yes"
			if event.AcknowledgedAt != nil {
				ack = event.AcknowledgedAt.UTC().Format(time.RFC3339)
			}
		}
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%d\t%d\t%dm\t%s\n",
			event.ID,
			event.CreatedAt.UTC().Format(time.RFC3339),
			strings.ToUpper(event.Level),
			event.CurrentMgdl,
			event.PredictedMin,
			event.HorizonMinutes,
			ack,
		)
	}

	writer.Flush()
	return nil
}

// AcknowledgeAlert marks one alert acknowledged by id.
func (a *App) AcknowledgeAlert(ctx context.Context, id int64) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	manager := alerts.NewManager(store, a.Logger)
	if err := manager.Acknowledge(ctx, id); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "alert %d acknowledged\n", id)
	return nil
}
