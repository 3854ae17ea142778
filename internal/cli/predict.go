package cli

import (
	"github.com/spf13/cobra"
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Compute a short-horizon glucose forecast from stored readings",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Predict(cmd.Context())
	},
}

var riskCmd = &cobra.Command{
	Use:   "risk",
	Short: "Print the last evaluated risk level",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().CurrentRisk(cmd.Context())
	},
}
