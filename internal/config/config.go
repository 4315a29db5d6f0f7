package config

import (
	"errors"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Venues    VenuesConfig    `yaml:"venues"`
	State     StateConfig     `yaml:"state"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Timescale TimescaleConfig `yaml:"timescale"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type StrategyConfig struct {
	BaseAsset  string        `yaml:"base_asset"`
	QuoteAsset string        `yaml:"quote_asset"`
	Notional   float64       `yaml:"notional"`
	Interval   time.Duration `yaml:"interval"`
	MaxRuntime time.Duration `yaml:"max_runtime"`
}

// NotionalDecimal is the per-leg quote-currency order value.
func (s StrategyConfig) NotionalDecimal() decimal.Decimal {
	return decimal.NewFromFloat(s.Notional)
}

type VenuesConfig struct {
	Hyperliquid HyperliquidConfig `yaml:"hyperliquid"`
	Binance     BinanceConfig     `yaml:"binance"`
}

type HyperliquidConfig struct {
	BaseURL        string        `yaml:"base_url"`
	WSURL          string        `yaml:"ws_url"`
	Timeout        time.Duration `yaml:"timeout"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	SlippageBps    float64       `yaml:"slippage_bps"`
}

type BinanceConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Strategy.QuoteAsset == "" {
		cfg.Strategy.QuoteAsset = "USDT"
	}
	if cfg.Strategy.Interval == 0 {
		cfg.Strategy.Interval = 5 * time.Minute
	}
	if cfg.Strategy.MaxRuntime == 0 {
		cfg.Strategy.MaxRuntime = 30 * time.Minute
	}
	if cfg.Venues.Hyperliquid.BaseURL == "" {
		cfg.Venues.Hyperliquid.BaseURL = "https://api.hyperliquid.xyz"
	}
	if cfg.Venues.Hyperliquid.WSURL == "" {
		cfg.Venues.Hyperliquid.WSURL = "wss://api.hyperliquid.xyz/ws"
	}
	if cfg.Venues.Hyperliquid.Timeout == 0 {
		cfg.Venues.Hyperliquid.Timeout = 10 * time.Second
	}
	if cfg.Venues.Hyperliquid.ReconnectDelay == 0 {
		cfg.Venues.Hyperliquid.ReconnectDelay = 3 * time.Second
	}
	if cfg.Venues.Hyperliquid.PingInterval == 0 {
		cfg.Venues.Hyperliquid.PingInterval = 30 * time.Second
	}
	if cfg.Venues.Hyperliquid.SlippageBps == 0 {
		cfg.Venues.Hyperliquid.SlippageBps = 50
	}
	if cfg.Venues.Binance.BaseURL == "" {
		cfg.Venues.Binance.BaseURL = "https://fapi.binance.com"
	}
	if cfg.Venues.Binance.Timeout == 0 {
		cfg.Venues.Binance.Timeout = 10 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/dn-hedge-bot.db"
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = ":9090"
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Timescale.QueueSize == 0 {
		cfg.Timescale.QueueSize = 256
	}
}

func validate(cfg *Config) error {
	if cfg.Strategy.BaseAsset == "" {
		return errors.New("strategy.base_asset is required")
	}
	if cfg.Strategy.Notional <= 0 {
		return errors.New("strategy.notional must be > 0")
	}
	if cfg.Strategy.Interval <= 0 {
		return errors.New("strategy.interval must be > 0")
	}
	if cfg.Strategy.MaxRuntime < cfg.Strategy.Interval {
		return errors.New("strategy.max_runtime must be >= strategy.interval")
	}
	if cfg.Venues.Hyperliquid.SlippageBps < 0 {
		return errors.New("venues.hyperliquid.slippage_bps must be >= 0")
	}
	if cfg.Timescale.Enabled && cfg.Timescale.DSN == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	return nil
}
