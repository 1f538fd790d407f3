package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"market-data-automation/internal/app"
)

var (
	simulateSymbol string
	simulatePrice  float64
	simulateNotify bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一条行情并评估价格阈值",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulatePrice <= 0 {
			return errors.New("--price 必须大于 0")
		}

		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Symbol: simulateSymbol,
			Price:  simulatePrice,
			Notify: simulateNotify,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "", "标的代码，例如 AAPL")
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "模拟价格")
	simulateCmd.Flags().BoolVar(&simulateNotify, "notify", false, "推送到所有已启用的告警通道")
}
