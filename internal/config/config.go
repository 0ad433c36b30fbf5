package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"btcwatch/internal/logging"
)

const (
	MinPollInterval = 3 * time.Second
	MaxPollInterval = 60 * time.Second
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Presence PresenceConfig `mapstructure:"presence"`
	API      APIConfig      `mapstructure:"api"`
	History  HistoryConfig  `mapstructure:"history"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Timezone    string `mapstructure:"timezone"`
}

// FeedConfig governs the price source.
type FeedConfig struct {
	Mode                 string            `mapstructure:"mode"`
	RESTBaseURL          string            `mapstructure:"rest_base_url"`
	WSBaseURL            string            `mapstructure:"ws_base_url"`
	Symbols              map[string]string `mapstructure:"symbols"`
	PollInterval         time.Duration     `mapstructure:"poll_interval"`
	AlignPolls           bool              `mapstructure:"align_polls"`
	RequestTimeout       time.Duration     `mapstructure:"request_timeout"`
	MaxReconnectAttempts int               `mapstructure:"max_reconnect_attempts"`
	ReconnectBackoff     time.Duration     `mapstructure:"reconnect_backoff"`
	StaleAfter           time.Duration     `mapstructure:"stale_after"`
	UserAgent            string            `mapstructure:"user_agent"`
}

// StorageConfig selects and configures the key-value backend.
type StorageConfig struct {
	Driver          string        `mapstructure:"driver"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Redis           RedisConfig   `mapstructure:"redis"`
	KeyPrefix       string        `mapstructure:"key_prefix"`
}

// RedisConfig covers the redis driver.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NotifyConfig defines notification routing.
type NotifyConfig struct {
	Channels         []string       `mapstructure:"channels"`
	VisibilityWindow time.Duration  `mapstructure:"visibility_window"`
	Telegram         TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	BotToken string        `mapstructure:"bot_token"`
	ChatID   int64         `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// PresenceConfig controls the self-ping loop.
type PresenceConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// APIConfig controls the status HTTP server.
type APIConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// HistoryConfig sets the kline source for chart export.
type HistoryConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Symbol  string `mapstructure:"symbol"`
	Points  int    `mapstructure:"points"`
}

// Load builds configuration from file, environment, and defaults.
// A .env file in the working directory is applied first when present.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("BTCWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "btcwatch")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.timezone", "Local")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("feed.mode", "stream")
	v.SetDefault("feed.rest_base_url", "https://api.binance.com")
	v.SetDefault("feed.ws_base_url", "wss://stream.binance.com:9443")
	v.SetDefault("feed.symbols", map[string]string{"usd": "BTCUSDT", "eur": "BTCEUR"})
	v.SetDefault("feed.poll_interval", "15s")
	v.SetDefault("feed.align_polls", false)
	v.SetDefault("feed.request_timeout", "10s")
	v.SetDefault("feed.max_reconnect_attempts", 5)
	v.SetDefault("feed.reconnect_backoff", "5s")
	v.SetDefault("feed.stale_after", "2m")
	v.SetDefault("feed.user_agent", "")

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite_path", "btcwatch.db")
	v.SetDefault("storage.max_open_conns", 10)
	v.SetDefault("storage.max_idle_conns", 5)
	v.SetDefault("storage.conn_max_lifetime", "30m")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.key_prefix", "btcwatch:")

	v.SetDefault("notify.channels", []string{"log"})
	v.SetDefault("notify.visibility_window", "30s")
	v.SetDefault("notify.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("notify.telegram.timeout", "10s")

	v.SetDefault("presence.enabled", true)
	v.SetDefault("presence.interval", "20s")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen_addr", "127.0.0.1:8787")

	v.SetDefault("history.base_url", "https://api.binance.com")
	v.SetDefault("history.symbol", "BTCUSDT")
	v.SetDefault("history.points", 24)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Feed.Mode {
	case "poll", "stream":
	default:
		return fmt.Errorf("feed.mode must be poll or stream, got %q", c.Feed.Mode)
	}
	if c.Feed.PollInterval < MinPollInterval || c.Feed.PollInterval > MaxPollInterval {
		return fmt.Errorf("feed.poll_interval must be between %s and %s", MinPollInterval, MaxPollInterval)
	}
	if len(c.Feed.Symbols) == 0 {
		return fmt.Errorf("feed.symbols needs at least one currency")
	}
	for ccy, symbol := range c.Feed.Symbols {
		switch strings.ToUpper(ccy) {
		case "USD", "EUR":
		default:
			return fmt.Errorf("feed.symbols: unsupported currency %q", ccy)
		}
		if strings.TrimSpace(symbol) == "" {
			return fmt.Errorf("feed.symbols.%s is empty", ccy)
		}
	}
	if c.Feed.MaxReconnectAttempts < 0 {
		return fmt.Errorf("feed.max_reconnect_attempts cannot be negative")
	}
	if c.Feed.ReconnectBackoff <= 0 {
		return fmt.Errorf("feed.reconnect_backoff must be greater than zero")
	}

	switch c.Storage.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres driver")
		}
	case "redis":
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}

	if c.Notify.VisibilityWindow <= 0 {
		return fmt.Errorf("notify.visibility_window must be greater than zero")
	}
	for _, ch := range c.Notify.Channels {
		switch ch {
		case "log":
		case "telegram":
			if c.Notify.Telegram.BotToken == "" {
				return fmt.Errorf("notify.telegram.bot_token 必须配置")
			}
			if c.Notify.Telegram.ChatID == 0 {
				return fmt.Errorf("notify.telegram.chat_id 必须配置")
			}
		default:
			return fmt.Errorf("notify.channels: unknown channel %q", ch)
		}
	}

	if c.Presence.Enabled && c.Presence.Interval <= 0 {
		return fmt.Errorf("presence.interval must be greater than zero")
	}
	if c.API.Enabled && c.API.ListenAddr == "" {
		return fmt.Errorf("api.listen_addr is required when the api is enabled")
	}
	if c.History.Points <= 0 {
		return fmt.Errorf("history.points must be greater than zero")
	}
	return nil
}

// HasChannel reports whether name is an enabled notification channel.
func (c *Config) HasChannel(name string) bool {
	for _, ch := range c.Notify.Channels {
		if ch == name {
			return true
		}
	}
	return false
}

// Location resolves the display timezone.
func (c *Config) Location() *time.Location {
	if c.App.Timezone == "" || strings.EqualFold(c.App.Timezone, "local") {
		return time.Local
	}
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
