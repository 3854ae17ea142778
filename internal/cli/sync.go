package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"cgm-trend-alerts/internal/app"
)

var syncDays int

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one on-demand sync over a day window",
	RunE: func(cmd *cobra.Command, args []string) error {
		if syncDays < 1 || syncDays > 90 {
			return fmt.Errorf("--days must be within [1, 90]")
		}

		return getApp().Sync(cmd.Context(), app.SyncOptions{WindowDays: syncDays})
	},
}

func init() {
	syncCmd.Flags().IntVar(&syncDays, "days", 1, "Sync window in days (1-90)")
}
