package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"btcwatch/internal/alarm"
	"btcwatch/internal/app"
	"btcwatch/internal/market"
)

var (
	alarmDirection string
	alarmCurrency  string
)

var alarmsCmd = &cobra.Command{
	Use:   "alarms",
	Short: "Manage price alarms",
}

var alarmsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored alarms",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListAlarms(cmd.Context(), cmd.OutOrStdout())
	},
}

var alarmsAddCmd = &cobra.Command{
	Use:   "add <price>",
	Short: "Add an alarm that fires once when the price crosses <price>",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		price, err := decimal.NewFromString(args[0])
		if err != nil {
			return fmt.Errorf("invalid price %q: %w", args[0], err)
		}
		dir, err := alarm.ParseDirection(alarmDirection)
		if err != nil {
			return err
		}
		ccy, err := market.ParseCurrency(alarmCurrency)
		if err != nil {
			return err
		}
		return getApp().AddAlarm(cmd.Context(), cmd.OutOrStdout(), app.AddAlarmOptions{
			Price:     price,
			Direction: dir,
			Currency:  ccy,
		})
	},
}

var alarmsDeleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete an alarm by id",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().DeleteAlarm(cmd.Context(), cmd.OutOrStdout(), args[0])
	},
}

func init() {
	alarmsAddCmd.Flags().StringVar(&alarmDirection, "direction", "above", "Fire when the price goes above or below the target")
	alarmsAddCmd.Flags().StringVar(&alarmCurrency, "currency", "usd", "Quote currency of the target (usd or eur)")

	alarmsCmd.AddCommand(alarmsListCmd, alarmsAddCmd, alarmsDeleteCmd)
}
