package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"btcwatch/internal/alarm"
	"btcwatch/internal/market"
	"btcwatch/internal/storage"
)

// AddAlarmOptions describe a new alarm from the command line.
type AddAlarmOptions struct {
	Price     decimal.Decimal
	Direction alarm.Direction
	Currency  market.Currency
}

func (a *App) withAlarms(ctx context.Context, fn func(*storage.AlarmStore) error) error {
	kv, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer kv.Close()
	return fn(storage.NewAlarmStore(kv))
}

// ListAlarms prints the stored alarms.
func (a *App) ListAlarms(ctx context.Context, w io.Writer) error {
	return a.withAlarms(ctx, func(store *storage.AlarmStore) error {
		alarms, err := store.List(ctx)
		if err != nil {
			return err
		}
		if len(alarms) == 0 {
			fmt.Fprintln(w, "no alarms set")
			return nil
		}

		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tCondition\tCreated")
		for _, al := range alarms {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", al.ID, al.Describe(), al.CreatedAt.In(a.Config.Location()).Format(time.RFC3339))
		}
		return tw.Flush()
	})
}

// AddAlarm stores a new alarm and prints its id.
func (a *App) AddAlarm(ctx context.Context, w io.Writer, opts AddAlarmOptions) error {
	al, err := alarm.New(opts.Price, opts.Direction, opts.Currency, time.Now())
	if err != nil {
		return err
	}
	return a.withAlarms(ctx, func(store *storage.AlarmStore) error {
		if err := store.Add(ctx, al); err != nil {
			return err
		}
		fmt.Fprintf(w, "added %s (%s)\n", al.ID, al.Describe())
		return nil
	})
}

// DeleteAlarm removes every alarm with id.
func (a *App) DeleteAlarm(ctx context.Context, w io.Writer, id string) error {
	return a.withAlarms(ctx, func(store *storage.AlarmStore) error {
		if err := store.Delete(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(w, "deleted %s\n", id)
		return nil
	})
}
