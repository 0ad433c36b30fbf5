// Package history fetches the recent hourly price curve and renders it.
package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Point is one hourly close.
type Point struct {
	Time  time.Time
	Close decimal.Decimal
}

// Options configure the kline client.
type Options struct {
	BaseURL  string
	Symbol   string
	Interval string
	Points   int
}

// Client reads klines from the exchange's public market data API.
type Client struct {
	bn     *binance.Client
	opts   Options
	logger zerolog.Logger
}

// NewClient builds an unauthenticated kline client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	if opts.Symbol == "" {
		opts.Symbol = "BTCUSDT"
	}
	if opts.Interval == "" {
		opts.Interval = "1h"
	}
	if opts.Points <= 0 {
		opts.Points = 24
	}

	bn := binance.NewClient("", "")
	if opts.BaseURL != "" {
		bn.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}

	return &Client{
		bn:     bn,
		opts:   opts,
		logger: logger.With().Str("component", "history").Logger(),
	}
}

// Recent returns the last Points closes, oldest first.
func (c *Client) Recent(ctx context.Context) ([]Point, error) {
	klines, err := c.bn.NewKlinesService().
		Symbol(strings.ToUpper(c.opts.Symbol)).
		Interval(c.opts.Interval).
		Limit(c.opts.Points).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch %s klines: %w", c.opts.Symbol, err)
	}

	points := make([]Point, 0, len(klines))
	for _, k := range klines {
		closePrice, err := decimal.NewFromString(k.Close)
		if err != nil {
			return nil, fmt.Errorf("parse kline close %q: %w", k.Close, err)
		}
		points = append(points, Point{
			Time:  time.UnixMilli(k.OpenTime).UTC(),
			Close: closePrice,
		})
	}

	c.logger.Debug().Int("points", len(points)).Str("symbol", c.opts.Symbol).Msg("klines fetched")
	return points, nil
}

// Symbol reports the traded pair the client reads.
func (c *Client) Symbol() string {
	return c.opts.Symbol
}
