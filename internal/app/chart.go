package app

import (
	"context"
	"errors"

	"btcwatch/internal/history"
)

// ChartOptions select the chart outputs.
type ChartOptions struct {
	PNGPath string
	CSVPath string
}

// Chart fetches the recent hourly closes and writes them as PNG and/or CSV.
func (a *App) Chart(ctx context.Context, opts ChartOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	client := history.NewClient(history.Options{
		BaseURL: a.Config.History.BaseURL,
		Symbol:  a.Config.History.Symbol,
		Points:  a.Config.History.Points,
	}, a.Logger)

	points, err := client.Recent(ctx)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		a.Logger.Info().Msg("exchange returned no klines")
		return nil
	}
	a.Logger.Info().Int("points", len(points)).Msg("exporting price history")

	if opts.CSVPath != "" {
		if err := history.WriteCSV(opts.CSVPath, points); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := history.WritePNG(opts.PNGPath, client.Symbol(), points); err != nil {
			return err
		}
	}
	return nil
}
