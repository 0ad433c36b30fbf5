package app

import (
	"context"
	"fmt"
	"io"

	"github.com/shopspring/decimal"

	"btcwatch/internal/market"
	"btcwatch/internal/storage"
)

// ShowHolding prints the stored holding, valued at the current price when the
// exchange is reachable.
func (a *App) ShowHolding(ctx context.Context, w io.Writer) error {
	kv, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer kv.Close()

	tick, err := a.newTicker().FetchTick(ctx)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("price unavailable; showing amount only")
		tick = market.PriceTick{}
	}
	return printHolding(ctx, w, storage.NewPreferences(kv), tick)
}

// SetHolding stores the BTC amount and, when given, the display currency.
func (a *App) SetHolding(ctx context.Context, w io.Writer, amount decimal.Decimal, ccy market.Currency) error {
	kv, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer kv.Close()

	prefs := storage.NewPreferences(kv)
	if err := prefs.SetHoldingAmount(ctx, amount); err != nil {
		return err
	}
	if ccy != "" {
		if err := prefs.SetDisplayCurrency(ctx, ccy); err != nil {
			return err
		}
	}
	fmt.Fprintf(w, "holding set to %s BTC\n", amount.String())
	return nil
}
