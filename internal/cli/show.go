package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"cgm-trend-alerts/internal/app"
)

var (
	showLimit      int
	showTreatments bool
	showKind       string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent glucose readings",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:      showLimit,
			Treatments: showTreatments,
			Kind:       showKind,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of records to display")
	showCmd.Flags().BoolVar(&showTreatments, "treatments", false, "Show treatment records instead of glucose readings")
	showCmd.Flags().StringVar(&showKind, "kind", "", "Filter treatments by kind (meal|correction-bolus|basal|exercise|finger-stick|note)")
}
