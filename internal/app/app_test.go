package app

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"btcwatch/internal/alarm"
	"btcwatch/internal/config"
	"btcwatch/internal/market"
	"btcwatch/internal/storage"
)

const tickerPayload = `[
  {"symbol":"BTCUSDT","lastPrice":"50000.00","highPrice":"51000.00","lowPrice":"48000.00","priceChangePercent":"2.10"},
  {"symbol":"BTCEUR","lastPrice":"46000.00","highPrice":"47000.00","lowPrice":"44000.00","priceChangePercent":"1.90"}
]`

func newTestApp(t *testing.T, restURL string) *App {
	t.Helper()
	cfg := &config.Config{}
	cfg.App.Timezone = "UTC"
	cfg.Feed.RESTBaseURL = restURL
	cfg.Feed.Symbols = map[string]string{"usd": "BTCUSDT", "eur": "BTCEUR"}
	cfg.Feed.RequestTimeout = time.Second
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "btcwatch.db")
	cfg.Notify.Channels = []string{"log"}
	cfg.Notify.VisibilityWindow = 20 * time.Millisecond
	return NewApp(cfg, zerolog.Nop())
}

func tickerServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(tickerPayload))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAlarmCommands(t *testing.T) {
	a := newTestApp(t, "http://127.0.0.1:0")
	ctx := context.Background()

	var out bytes.Buffer
	if err := a.ListAlarms(ctx, &out); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out.String(), "no alarms set") {
		t.Fatalf("expected empty listing, got %q", out.String())
	}

	out.Reset()
	err := a.AddAlarm(ctx, &out, AddAlarmOptions{Price: decimal.NewFromInt(49000), Direction: alarm.Above, Currency: market.USD})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !strings.Contains(out.String(), "above $49,000.00") {
		t.Fatalf("unexpected add output %q", out.String())
	}

	out.Reset()
	if err := a.ListAlarms(ctx, &out); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out.String(), "above $49,000.00") {
		t.Fatalf("alarm missing from listing: %q", out.String())
	}

	if err := a.DeleteAlarm(ctx, &out, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	err = a.AddAlarm(ctx, &out, AddAlarmOptions{Price: decimal.Zero, Direction: alarm.Above, Currency: market.USD})
	if err == nil {
		t.Fatal("zero target must be rejected")
	}
}

func TestSimulateAlertScratchAndPersist(t *testing.T) {
	a := newTestApp(t, "http://127.0.0.1:0")
	ctx := context.Background()

	var out bytes.Buffer
	if err := a.AddAlarm(ctx, &out, AddAlarmOptions{Price: decimal.NewFromInt(49000), Direction: alarm.Above, Currency: market.USD}); err != nil {
		t.Fatalf("add: %v", err)
	}

	out.Reset()
	if err := a.SimulateAlert(ctx, &out, SimulateOptions{USD: decimal.NewFromInt(50000)}); err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if !strings.Contains(out.String(), "notified alarm_") {
		t.Fatalf("expected a notification, got %q", out.String())
	}

	out.Reset()
	_ = a.ListAlarms(ctx, &out)
	if strings.Contains(out.String(), "no alarms set") {
		t.Fatal("scratch simulation must not touch stored alarms")
	}

	out.Reset()
	if err := a.SimulateAlert(ctx, &out, SimulateOptions{USD: decimal.NewFromInt(50000), Persist: true, Wait: true}); err != nil {
		t.Fatalf("simulate persist: %v", err)
	}

	out.Reset()
	_ = a.ListAlarms(ctx, &out)
	if !strings.Contains(out.String(), "no alarms set") {
		t.Fatalf("fired alarm should be removed, got %q", out.String())
	}

	out.Reset()
	if err := a.SimulateAlert(ctx, &out, SimulateOptions{USD: decimal.NewFromInt(50000)}); err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if !strings.Contains(out.String(), "no alarm fired") {
		t.Fatalf("unexpected output %q", out.String())
	}

	if err := a.SimulateAlert(ctx, &out, SimulateOptions{}); err == nil {
		t.Fatal("missing usd price must be rejected")
	}
}

func TestSimulateAlertUSDOnlyWithEURAlarm(t *testing.T) {
	a := newTestApp(t, "http://127.0.0.1:0")
	ctx := context.Background()

	var out bytes.Buffer
	if err := a.AddAlarm(ctx, &out, AddAlarmOptions{Price: decimal.NewFromInt(49000), Direction: alarm.Above, Currency: market.USD}); err != nil {
		t.Fatalf("add usd: %v", err)
	}
	if err := a.AddAlarm(ctx, &out, AddAlarmOptions{Price: decimal.NewFromInt(1), Direction: alarm.Above, Currency: market.EUR}); err != nil {
		t.Fatalf("add eur: %v", err)
	}

	out.Reset()
	if err := a.SimulateAlert(ctx, &out, SimulateOptions{USD: decimal.NewFromInt(60000), Persist: true}); err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if strings.Count(out.String(), "notified alarm_") != 1 {
		t.Fatalf("usd alarm should fire alone, got %q", out.String())
	}

	out.Reset()
	if err := a.ListAlarms(ctx, &out); err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.Contains(out.String(), "above $49,000.00") || !strings.Contains(out.String(), "above €1.00") {
		t.Fatalf("only the eur alarm should remain, got %q", out.String())
	}
}

// telegramAPI answers the bot calls a simulated alert makes and records deletions.
func telegramAPI(t *testing.T, deleted chan<- string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:] {
		case "getMe":
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"btcwatch","username":"btcwatch_bot"}}`))
		case "sendMessage":
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":42,"date":0,"chat":{"id":100,"type":"private"}}}`))
		case "deleteMessage":
			deleted <- r.Form.Get("message_id")
			_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
		default:
			t.Errorf("unexpected bot method %s", r.URL.Path)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSimulateAlertClearsNotificationsWithoutWait(t *testing.T) {
	deleted := make(chan string, 4)
	tg := telegramAPI(t, deleted)

	a := newTestApp(t, "http://127.0.0.1:0")
	a.Config.Notify.Channels = []string{"telegram"}
	a.Config.Notify.VisibilityWindow = time.Hour
	a.Config.Notify.Telegram.BotToken = "token"
	a.Config.Notify.Telegram.ChatID = 100
	a.Config.Notify.Telegram.APIBase = tg.URL
	ctx := context.Background()

	var out bytes.Buffer
	if err := a.AddAlarm(ctx, &out, AddAlarmOptions{Price: decimal.NewFromInt(49000), Direction: alarm.Above, Currency: market.USD}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := a.SimulateAlert(ctx, &out, SimulateOptions{USD: decimal.NewFromInt(50000)}); err != nil {
		t.Fatalf("simulate: %v", err)
	}

	select {
	case id := <-deleted:
		if id != "42" {
			t.Fatalf("deleted message %s, want 42", id)
		}
	default:
		t.Fatal("simulated telegram alert was left in the chat")
	}
}

func TestPriceAndHolding(t *testing.T) {
	srv := tickerServer(t)
	a := newTestApp(t, srv.URL)
	ctx := context.Background()

	var out bytes.Buffer
	if err := a.SetHolding(ctx, &out, decimal.RequireFromString("0.5"), market.EUR); err != nil {
		t.Fatalf("set holding: %v", err)
	}

	out.Reset()
	if err := a.Price(ctx, &out); err != nil {
		t.Fatalf("price: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "Bitcoin Price") {
		t.Fatalf("title missing: %q", got)
	}
	if !strings.Contains(got, "Badge: 50.0") {
		t.Fatalf("badge missing: %q", got)
	}
	if !strings.Contains(got, "≈ 23 000.00 €") {
		t.Fatalf("holding value missing: %q", got)
	}

	out.Reset()
	if err := a.ShowHolding(ctx, &out); err != nil {
		t.Fatalf("show holding: %v", err)
	}
	if !strings.HasPrefix(out.String(), "Holding: 0.5 BTC") {
		t.Fatalf("unexpected holding output %q", out.String())
	}
}

func TestChartRequiresOutput(t *testing.T) {
	a := newTestApp(t, "http://127.0.0.1:0")
	if err := a.Chart(context.Background(), ChartOptions{}); err == nil {
		t.Fatal("chart without outputs must fail")
	}
}

func TestHealthURL(t *testing.T) {
	addr := &net.TCPAddr{IP: net.IPv4zero, Port: 8787}
	if got := healthURL(addr); got != "http://127.0.0.1:8787/healthz" {
		t.Fatalf("unexpected url %s", got)
	}
}
