package cli

import (
	"github.com/spf13/cobra"
)

var priceCmd = &cobra.Command{
	Use:   "price",
	Short: "Fetch and print the current price once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Price(cmd.Context(), cmd.OutOrStdout())
	},
}
