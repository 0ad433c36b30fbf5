package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"btcwatch/internal/market"
)

const tickerPath = "/api/v3/ticker/24hr"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TickerOptions parameterise the REST ticker client.
type TickerOptions struct {
	BaseURL   string
	Symbols   Symbols
	Timeout   time.Duration
	UserAgent string
}

// TickerClient fetches the multi-symbol 24h ticker in one request.
type TickerClient struct {
	opts    TickerOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	now     func() time.Time
}

// NewTickerClient constructs a REST ticker client.
func NewTickerClient(opts TickerOptions, logger zerolog.Logger) *TickerClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}

	return &TickerClient{
		opts:    opts,
		logger:  logger.With().Str("component", "ticker_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		now:     time.Now,
	}
}

// FetchTick retrieves the 24h ticker for every configured symbol.
func (c *TickerClient) FetchTick(ctx context.Context) (market.PriceTick, error) {
	if len(c.opts.Symbols) == 0 {
		return market.PriceTick{}, fmt.Errorf("no symbols configured")
	}

	symbols := make([]string, 0, len(c.opts.Symbols))
	for _, ccy := range c.opts.Symbols.Currencies() {
		symbols = append(symbols, strings.ToUpper(c.opts.Symbols[ccy]))
	}
	encoded, err := json.Marshal(symbols)
	if err != nil {
		return market.PriceTick{}, err
	}

	endpoint := c.baseURL + tickerPath + "?" + url.Values{"symbols": {string(encoded)}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return market.PriceTick{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return market.PriceTick{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return market.PriceTick{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return market.PriceTick{}, parseHTTPError(resp.StatusCode, payload)
	}

	return parseTickerArray(payload, c.opts.Symbols.bySymbol(), c.now().UTC())
}

func parseTickerArray(payload []byte, bySymbol map[string]market.Currency, observedAt time.Time) (market.PriceTick, error) {
	if !gjson.ValidBytes(payload) {
		return market.PriceTick{}, fmt.Errorf("%w: invalid json", ErrDataShape)
	}
	doc := gjson.ParseBytes(payload)
	if !doc.IsArray() {
		return market.PriceTick{}, fmt.Errorf("%w: expected ticker array", ErrDataShape)
	}

	quotes := make(map[market.Currency]market.Quote, len(bySymbol))
	for _, item := range doc.Array() {
		ccy, ok := bySymbol[strings.ToUpper(item.Get("symbol").String())]
		if !ok {
			continue
		}
		q, err := quoteFrom(item, "lastPrice", "highPrice", "lowPrice", "priceChangePercent")
		if err != nil {
			return market.PriceTick{}, err
		}
		quotes[ccy] = q
	}

	if len(quotes) != len(bySymbol) {
		return market.PriceTick{}, fmt.Errorf("%w: got %d of %d symbols", ErrDataShape, len(quotes), len(bySymbol))
	}
	return market.NewPriceTick(observedAt, quotes), nil
}

func quoteFrom(obj gjson.Result, last, high, low, change string) (market.Quote, error) {
	var q market.Quote
	fields := []struct {
		key string
		dst *decimal.Decimal
	}{
		{last, &q.Last},
		{high, &q.High},
		{low, &q.Low},
		{change, &q.ChangePct},
	}
	for _, f := range fields {
		v := obj.Get(f.key)
		if !v.Exists() {
			return market.Quote{}, fmt.Errorf("%w: missing %s", ErrDataShape, f.key)
		}
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return market.Quote{}, fmt.Errorf("%w: parse %s: %v", ErrDataShape, f.key, err)
		}
		*f.dst = d
	}
	return q, nil
}

func parseHTTPError(status int, payload []byte) error {
	if msg := gjson.GetBytes(payload, "msg").String(); msg != "" {
		return fmt.Errorf("exchange api error (%d): %s", status, msg)
	}
	if len(payload) > 0 {
		return fmt.Errorf("exchange api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("exchange api error (%d)", status)
}

var _ Fetcher = (*TickerClient)(nil)
