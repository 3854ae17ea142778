package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	simulateStart int
	simulateRate  float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一段血糖序列并触发预测与告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateStart <= 0 {
			return errors.New("--start 必须大于 0")
		}

		return getApp().SimulateAlert(cmd.Context(), simulateStart, simulateRate)
	},
}

func init() {
	simulateCmd.Flags().IntVar(&simulateStart, "start", 120, "起始血糖 (mg/dL)")
	simulateCmd.Flags().Float64Var(&simulateRate, "rate", -5, "每 5 分钟变化量 (mg/dL)")
}
