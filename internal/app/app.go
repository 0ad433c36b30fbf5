package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"btcwatch/internal/api"
	"btcwatch/internal/config"
	"btcwatch/internal/feed"
	"btcwatch/internal/lifecycle"
	"btcwatch/internal/market"
	"btcwatch/internal/notify"
	"btcwatch/internal/presence"
	"btcwatch/internal/service"
	"btcwatch/internal/storage"
	"btcwatch/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) symbols() feed.Symbols {
	symbols := make(feed.Symbols, len(a.Config.Feed.Symbols))
	for ccy, symbol := range a.Config.Feed.Symbols {
		parsed, err := market.ParseCurrency(ccy)
		if err != nil {
			// Validate already rejected unknown currencies.
			continue
		}
		symbols[parsed] = symbol
	}
	return symbols
}

func (a *App) newTicker() *feed.TickerClient {
	cfg := a.Config.Feed
	ua := cfg.UserAgent
	if ua == "" {
		ua = version.UserAgent()
	}
	return feed.NewTickerClient(feed.TickerOptions{
		BaseURL:   cfg.RESTBaseURL,
		Symbols:   a.symbols(),
		Timeout:   cfg.RequestTimeout,
		UserAgent: ua,
	}, a.Logger)
}

func (a *App) newSource() (*feed.Source, error) {
	cfg := a.Config.Feed
	mode, err := feed.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	return feed.NewSource(feed.Options{
		Mode:                 mode,
		Symbols:              a.symbols(),
		StreamBaseURL:        cfg.WSBaseURL,
		PollInterval:         cfg.PollInterval,
		AlignPolls:           cfg.AlignPolls,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		ReconnectBackoff:     cfg.ReconnectBackoff,
		StaleAfter:           cfg.StaleAfter,
		OnStatus: func(st feed.Status) {
			a.Logger.Debug().Str("state", st.StateName).Int("attempts", st.ReconnectAttempts).Bool("polling", st.Polling).Msg("feed state")
		},
	}, a.newTicker(), feed.WSDialer{HandshakeTimeout: cfg.RequestTimeout}, a.Logger), nil
}

func (a *App) newSurface() (notify.Surface, error) {
	var surfaces notify.Fanout
	for _, ch := range a.Config.Notify.Channels {
		switch ch {
		case "log":
			surfaces = append(surfaces, notify.NewLogSurface(a.Logger))
		case "telegram":
			cfg := a.Config.Notify.Telegram
			tg, err := notify.NewTelegramSurface(notify.TelegramOptions{
				BotToken: cfg.BotToken,
				ChatID:   cfg.ChatID,
				BaseURL:  cfg.APIBase,
				Timeout:  cfg.Timeout,
			}, a.Logger)
			if err != nil {
				return nil, err
			}
			surfaces = append(surfaces, tg)
		}
	}
	switch len(surfaces) {
	case 0:
		a.Logger.Warn().Msg("no notification channel configured; alarms will only be logged")
		return notify.NewLogSurface(a.Logger), nil
	case 1:
		return surfaces[0], nil
	default:
		return surfaces, nil
	}
}

func (a *App) openStore(ctx context.Context) (storage.KV, error) {
	kv, err := storage.Open(ctx, a.Config.Storage, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return kv, nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kv, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer kv.Close()

	alarms := storage.NewAlarmStore(kv)
	prefs := storage.NewPreferences(kv)

	surface, err := a.newSurface()
	if err != nil {
		return err
	}
	dispatcher := notify.NewDispatcher(surface, notify.Options{VisibilityWindow: a.Config.Notify.VisibilityWindow}, a.Logger)
	defer func() {
		if err := dispatcher.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("clearing notifications on shutdown")
		}
	}()

	svc := service.New(alarms, dispatcher, a.Logger)
	source, err := a.newSource()
	if err != nil {
		return err
	}
	source.Subscribe(svc.HandleTick)

	bus := lifecycle.NewBus()
	bus.Subscribe(func(ev lifecycle.Event) {
		a.Logger.Info().Str("event", ev.String()).Msg("lifecycle event")
		switch ev {
		case lifecycle.Install, lifecycle.Startup, lifecycle.Restart:
			source.Restart()
		}
	})

	if first, err := prefs.MarkInstalled(ctx, time.Now()); err != nil {
		a.Logger.Warn().Err(err).Msg("could not record install marker")
	} else if first {
		bus.Publish(lifecycle.Install)
	}

	ping := presence.PingFunc(presence.Heartbeat)
	serverDone := make(chan error, 1)
	if a.Config.API.Enabled {
		router := api.NewRouter(api.Dependencies{
			Prices:        svc,
			Feed:          source,
			Alarms:        alarms,
			Preferences:   prefs,
			Notifications: dispatcher,
			Location:      a.Config.Location(),
			Logger:        a.Logger,
		})
		server := api.NewServer(a.Config.API.ListenAddr, router, a.Logger)
		ln, err := server.Listen()
		if err != nil {
			return fmt.Errorf("listen on %s: %w", a.Config.API.ListenAddr, err)
		}
		ping = presence.HTTPPing(nil, healthURL(ln.Addr()))
		go func() { serverDone <- server.Serve(ctx, ln) }()
	} else {
		close(serverDone)
	}

	var keeper *presence.Keeper
	if a.Config.Presence.Enabled {
		keeper = presence.NewKeeper(presence.Options{Interval: a.Config.Presence.Interval}, ping, a.Logger)
		bus.Subscribe(keeper.Handle)
		if err := keeper.Start(ctx); err != nil {
			return err
		}
	}

	if err := source.Start(ctx); err != nil {
		return err
	}
	stopSignals := watchLifecycleSignals(ctx, bus, a.Logger)

	a.Logger.Info().Str("mode", a.Config.Feed.Mode).Str("storage", a.Config.Storage.Driver).Msg("monitoring service started")
	<-ctx.Done()

	stopSignals()
	source.Stop()
	if keeper != nil {
		keeper.Stop()
	}
	if err := <-serverDone; err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("status api terminated with error")
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

func healthURL(addr net.Addr) string {
	host := addr.String()
	if tcp, ok := addr.(*net.TCPAddr); ok && tcp.IP.IsUnspecified() {
		host = net.JoinHostPort("127.0.0.1", fmt.Sprint(tcp.Port))
	}
	return "http://" + host + "/healthz"
}
