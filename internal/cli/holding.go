package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"btcwatch/internal/market"
)

var holdingCurrency string

var holdingCmd = &cobra.Command{
	Use:   "holding",
	Short: "Show or set the BTC holding",
}

var holdingShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the holding and its current value",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ShowHolding(cmd.Context(), cmd.OutOrStdout())
	},
}

var holdingSetCmd = &cobra.Command{
	Use:   "set <amount>",
	Short: "Store the BTC amount held",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := decimal.NewFromString(args[0])
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", args[0], err)
		}
		if amount.IsNegative() {
			return fmt.Errorf("amount must not be negative")
		}

		var ccy market.Currency
		if holdingCurrency != "" {
			if ccy, err = market.ParseCurrency(holdingCurrency); err != nil {
				return err
			}
		}
		return getApp().SetHolding(cmd.Context(), cmd.OutOrStdout(), amount, ccy)
	},
}

func init() {
	holdingSetCmd.Flags().StringVar(&holdingCurrency, "currency", "", "Display currency for the holding value (usd or eur)")

	holdingCmd.AddCommand(holdingShowCmd, holdingSetCmd)
}
