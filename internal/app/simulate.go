package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"btcwatch/internal/market"
	"btcwatch/internal/notify"
	"btcwatch/internal/service"
	"btcwatch/internal/storage"
)

// SimulateOptions describe a synthetic tick.
type SimulateOptions struct {
	USD decimal.Decimal
	EUR decimal.Decimal
	// Persist removes fired alarms from the real store. Otherwise a scratch copy is evaluated.
	Persist bool
	// Wait keeps the notifications up for the visibility window. Without it they
	// are cleared as soon as the simulation returns.
	Wait bool
}

// SimulateAlert 用给定价格构造一次行情，跑完整的告警评估与通知流程。
func (a *App) SimulateAlert(ctx context.Context, w io.Writer, opts SimulateOptions) (err error) {
	if !opts.USD.IsPositive() {
		return errors.New("--usd must be greater than zero")
	}
	quotes := map[market.Currency]market.Quote{market.USD: {Last: opts.USD}}
	if opts.EUR.IsPositive() {
		quotes[market.EUR] = market.Quote{Last: opts.EUR}
	}
	tick := market.NewPriceTick(time.Now().UTC(), quotes)

	kv, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer kv.Close()

	alarms := storage.NewAlarmStore(kv)
	if !opts.Persist {
		alarms, err = scratchCopy(ctx, alarms)
		if err != nil {
			return err
		}
	}

	surface, err := a.newSurface()
	if err != nil {
		return err
	}
	window := a.Config.Notify.VisibilityWindow
	dispatcher := notify.NewDispatcher(surface, notify.Options{VisibilityWindow: window}, a.Logger)
	defer func() {
		if cerr := dispatcher.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("clear simulated notifications: %w", cerr)
		}
	}()

	records, err := service.New(alarms, dispatcher, a.Logger).Simulate(ctx, tick)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(w, "no alarm fired")
		return nil
	}
	for _, rec := range records {
		fmt.Fprintf(w, "notified %s (alarm %s)\n", rec.NotificationID, rec.AlarmID)
	}

	if opts.Wait {
		select {
		case <-ctx.Done():
		case <-time.After(window):
		}
	}
	return nil
}

func scratchCopy(ctx context.Context, src *storage.AlarmStore) (*storage.AlarmStore, error) {
	current, err := src.List(ctx)
	if err != nil {
		return nil, err
	}
	dst := storage.NewAlarmStore(storage.NewMemory())
	for _, al := range current {
		if err := dst.Add(ctx, al); err != nil {
			return nil, err
		}
	}
	return dst, nil
}
