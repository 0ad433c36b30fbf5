package cli

import (
	"github.com/spf13/cobra"

	"btcwatch/internal/app"
)

var (
	chartPNGPath string
	chartCSVPath string
)

var chartCmd = &cobra.Command{
	Use:   "chart",
	Short: "Export recent hourly prices as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Chart(cmd.Context(), app.ChartOptions{
			PNGPath: chartPNGPath,
			CSVPath: chartCSVPath,
		})
	},
}

func init() {
	chartCmd.Flags().StringVar(&chartPNGPath, "png", "", "Path to write PNG chart")
	chartCmd.Flags().StringVar(&chartCSVPath, "csv", "", "Path to write CSV data")
}
