package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"btcwatch/internal/market"
)

const tickerPayload = `[
  {"symbol":"BTCUSDT","lastPrice":"50000.12","highPrice":"51000.00","lowPrice":"48000.00","priceChangePercent":"2.10"},
  {"symbol":"BTCEUR","lastPrice":"46000.00","highPrice":"47000.00","lowPrice":"44000.00","priceChangePercent":"1.90"},
  {"symbol":"ETHUSDT","lastPrice":"3000.00","highPrice":"1","lowPrice":"1","priceChangePercent":"0"}
]`

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func newTestTicker(url string) *TickerClient {
	return NewTickerClient(TickerOptions{
		BaseURL:   url,
		Symbols:   bothSymbols(),
		Timeout:   time.Second,
		UserAgent: "btcwatch-test",
	}, noopLogger())
}

func TestTickerFetchSuccess(t *testing.T) {
	var gotQuery, gotPath, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("symbols")
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(tickerPayload))
	}))
	defer srv.Close()

	tick, err := newTestTicker(srv.URL).FetchTick(context.Background())
	if err != nil {
		t.Fatalf("fetch should succeed: %v", err)
	}

	if gotPath != "/api/v3/ticker/24hr" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotQuery != `["BTCEUR","BTCUSDT"]` {
		t.Fatalf("unexpected symbols query %s", gotQuery)
	}
	if gotUA != "btcwatch-test" {
		t.Fatalf("unexpected user agent %q", gotUA)
	}
	if !tick.Price(market.USD).Equal(decimal.RequireFromString("50000.12")) {
		t.Fatalf("usd price = %s", tick.Price(market.USD))
	}
	if !tick.Price(market.EUR).Equal(decimal.NewFromInt(46000)) {
		t.Fatalf("eur price = %s", tick.Price(market.EUR))
	}
	if !tick.Low24h().Equal(decimal.NewFromInt(48000)) || !tick.ChangePct24h().Equal(decimal.RequireFromString("2.1")) {
		t.Fatal("24h stats not mapped")
	}
	if tick.ObservedAt().IsZero() {
		t.Fatal("tick needs an observation time")
	}
}

func TestTickerFetchMissingField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"symbol":"BTCUSDT","lastPrice":"1"},{"symbol":"BTCEUR","lastPrice":"1","highPrice":"1","lowPrice":"1","priceChangePercent":"1"}]`))
	}))
	defer srv.Close()

	if _, err := newTestTicker(srv.URL).FetchTick(context.Background()); !errors.Is(err, ErrDataShape) {
		t.Fatalf("missing fields should be ErrDataShape, got %v", err)
	}
}

func TestTickerFetchMissingSymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"symbol":"BTCUSDT","lastPrice":"1","highPrice":"1","lowPrice":"1","priceChangePercent":"1"}]`))
	}))
	defer srv.Close()

	if _, err := newTestTicker(srv.URL).FetchTick(context.Background()); !errors.Is(err, ErrDataShape) {
		t.Fatalf("missing symbol should be ErrDataShape, got %v", err)
	}
}

func TestTickerFetchNotArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT"}`))
	}))
	defer srv.Close()

	if _, err := newTestTicker(srv.URL).FetchTick(context.Background()); !errors.Is(err, ErrDataShape) {
		t.Fatalf("object payload should be ErrDataShape, got %v", err)
	}
}

func TestTickerFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"code":-1003,"msg":"Too many requests"}`))
	}))
	defer srv.Close()

	_, err := newTestTicker(srv.URL).FetchTick(context.Background())
	if err == nil || !strings.Contains(err.Error(), "Too many requests") {
		t.Fatalf("expected api error message, got %v", err)
	}
	if errors.Is(err, ErrDataShape) {
		t.Fatal("an HTTP failure is not a shape error")
	}
}

func TestTickerRequiresSymbols(t *testing.T) {
	c := NewTickerClient(TickerOptions{}, noopLogger())
	if _, err := c.FetchTick(context.Background()); err == nil {
		t.Fatal("fetch without symbols should fail")
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode("Stream"); err != nil || m != ModeStream {
		t.Fatalf("unexpected %q %v", m, err)
	}
	if _, err := ParseMode("carrier-pigeon"); err == nil {
		t.Fatal("unknown mode accepted")
	}
}
