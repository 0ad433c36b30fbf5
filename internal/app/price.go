package app

import (
	"context"
	"fmt"
	"io"

	"btcwatch/internal/market"
	"btcwatch/internal/storage"
)

// Price fetches the ticker once and prints the tooltip text, the badge and the
// holding value.
func (a *App) Price(ctx context.Context, w io.Writer) error {
	tick, err := a.newTicker().FetchTick(ctx)
	if err != nil {
		return fmt.Errorf("fetch price: %w", err)
	}

	fmt.Fprintln(w, market.Title(tick, a.Config.Location()))
	fmt.Fprintf(w, "Badge: %s\n", market.BadgeText(tick.Price(market.USD)))

	kv, err := a.openStore(ctx)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("holding unavailable")
		return nil
	}
	defer kv.Close()

	return printHolding(ctx, w, storage.NewPreferences(kv), tick)
}

func printHolding(ctx context.Context, w io.Writer, prefs *storage.Preferences, tick market.PriceTick) error {
	amount, err := prefs.HoldingAmount(ctx)
	if err != nil {
		return err
	}
	ccy, err := prefs.DisplayCurrency(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Holding: %s BTC", amount.String())
	if price := tick.Price(ccy); price.IsPositive() && amount.IsPositive() {
		fmt.Fprintf(w, " %s", market.FormatHolding(amount.Mul(price), ccy))
	}
	fmt.Fprintln(w)
	return nil
}
