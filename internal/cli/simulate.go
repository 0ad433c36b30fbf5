package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"btcwatch/internal/app"
)

var (
	simulateUSD     float64
	simulateEUR     float64
	simulatePersist bool
	simulateWait    bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "用给定价格模拟一次行情并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateUSD <= 0 {
			return errors.New("--usd 必须大于 0")
		}
		if simulateEUR < 0 {
			return errors.New("--eur 不能为负数")
		}

		return getApp().SimulateAlert(cmd.Context(), cmd.OutOrStdout(), app.SimulateOptions{
			USD:     decimal.NewFromFloat(simulateUSD),
			EUR:     decimal.NewFromFloat(simulateEUR),
			Persist: simulatePersist,
			Wait:    simulateWait,
		})
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateUSD, "usd", 0, "BTC/USD 模拟价格")
	simulateCmd.Flags().Float64Var(&simulateEUR, "eur", 0, "BTC/EUR 模拟价格（可选）")
	simulateCmd.Flags().BoolVar(&simulatePersist, "persist", false, "从真实存储中移除已触发的告警")
	simulateCmd.Flags().BoolVar(&simulateWait, "wait", false, "保持通知可见直到窗口结束；否则命令退出时立即清除")
}
