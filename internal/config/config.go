package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"polaris/internal/engine"
	"polaris/internal/gateway/poloniex"
	"polaris/internal/live"
	"polaris/internal/logger"
	"polaris/internal/promotion"
)

type Config struct {
	App       AppConfig        `toml:"app"`
	Engine    engine.Config    `toml:"engine"`
	Market    MarketConfig     `toml:"market"`
	Database  DatabaseConfig   `toml:"database"`
	Poloniex  poloniex.Config  `toml:"poloniex"`
	Binance   BinanceConfig    `toml:"binance"`
	Promotion promotion.Config `toml:"promotion"`
	Risk      RiskConfig       `toml:"risk"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

type MarketConfig struct {
	MaxCached  int `toml:"max_cached"`
	HistoryLen int `toml:"history_len"`
	// Symbols to subscribe beyond what stored strategies already trade.
	Symbols []string `toml:"symbols"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

// BinanceConfig covers the read-only quote feed used as the arbitrage
// reference leg. No credentials: public ticker endpoints only.
type BinanceConfig struct {
	Enabled bool `toml:"enabled"`
}

type RiskConfig struct {
	Limits live.Limits        `toml:"limits"`
	Orders live.ManagerConfig `toml:"orders"`
}

// Load reads and validates the config file. Validation happens here, not
// at first use: a threshold no score can reach or a zero position cap is
// an operator mistake that must fail startup, not surface mid-trade.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.StringToTimeDurationHookFunc()
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = ":8086"
	}
	if c.Market.MaxCached <= 0 {
		c.Market.MaxCached = 500
	}
	if c.Market.HistoryLen <= 0 {
		c.Market.HistoryLen = 200
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/polaris.db"
	}
	if c.Promotion == (promotion.Config{}) {
		c.Promotion = promotion.DefaultConfig()
	}
}

func validate(c *Config) error {
	switch strings.ToLower(c.App.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app.log_level must be one of debug/info/warn/error, got %q", c.App.LogLevel)
	}
	if err := c.Promotion.Validate(); err != nil {
		return err
	}
	if err := c.Risk.Limits.Validate(); err != nil {
		return err
	}
	return nil
}

// ChangeListener receives the full re-validated config after a reload.
type ChangeListener func(*Config)

// Watcher keeps a live view of the config file. Only a subset of the
// config is safe to change at runtime (risk limits, log level); the
// listeners decide what to apply. A reload that fails validation is
// logged and discarded, the previous snapshot stays in force.
type Watcher struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	current   *Config
	listeners []ChangeListener
}

func NewWatcher(path string) (*Watcher, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	w := &Watcher{path: path, v: v, current: cfg}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := w.reload(); err != nil {
			logger.Errorf("config reload failed (%s): %v", evt.Name, err)
			return
		}
		logger.Infof("config reloaded from %s", w.path)
	})
	v.WatchConfig()
	return w, nil
}

func (w *Watcher) reload() error {
	if err := w.v.ReadInConfig(); err != nil {
		return err
	}
	cfg, err := decode(w.v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.current = cfg
	listeners := make([]ChangeListener, len(w.listeners))
	copy(listeners, w.listeners)
	w.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
	return nil
}

// Current returns the latest validated config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Subscribe registers a listener for future reloads.
func (w *Watcher) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}
