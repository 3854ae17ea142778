package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"cgm-trend-alerts/internal/app"
)

var (
	alertsLevel    string
	alertsOnlyOpen bool
	alertsSince    string
	alertsLimit    int
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Inspect and acknowledge alert history",
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alert events",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.AlertsOptions{
			Level:    alertsLevel,
			OnlyOpen: alertsOnlyOpen,
			Limit:    alertsLimit,
		}

		if alertsSince != "" {
			since, err := time.Parse(time.RFC3339, alertsSince)
			if err != nil {
				return fmt.Errorf("invalid --since value: %w", err)
			}
			opts.Since = &since
		}

		return getApp().ListAlerts(cmd.Context(), opts)
	},
}

var alertsAckCmd = &cobra.Command{
	Use:   "ack <id>",
	Short: "Acknowledge an alert by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid alert id %q: %w", args[0], err)
		}

		return getApp().AcknowledgeAlert(cmd.Context(), id)
	},
}

func init() {
	alertsListCmd.Flags().StringVar(&alertsLevel, "level", "", "Filter by risk level (low|medium|high)")
	alertsListCmd.Flags().BoolVar(&alertsOnlyOpen, "open", false, "Only show unacknowledged alerts")
	alertsListCmd.Flags().StringVar(&alertsSince, "since", "", "Only show alerts created at or after this RFC3339 timestamp")
	alertsListCmd.Flags().IntVar(&alertsLimit, "limit", 50, "Maximum number of alerts to display")

	alertsCmd.AddCommand(alertsListCmd)
	alertsCmd.AddCommand(alertsAckCmd)
}
