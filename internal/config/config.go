package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config is the root of the YAML configuration tree.
type Config struct {
	App     AppConfig     `toml:"app"`
	Server  ServerConfig  `toml:"server"`
	Market  MarketConfig  `toml:"market"`
	Predict PredictConfig `toml:"predict"`
	Engine  EngineConfig  `toml:"engine"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	DataDir  string `toml:"data_dir"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type MarketConfig struct {
	BaseURL         string `toml:"base_url"`
	RateLimitPerMin int    `toml:"rate_limit_per_min"`
	CacheTTLSeconds int    `toml:"cache_ttl_seconds"`
}

type PredictConfig struct {
	ModelVersion   string `toml:"model_version"`
	CacheTTLMin    int    `toml:"cache_ttl_minutes"`
	LookbackBars   int    `toml:"lookback_bars"`
	SignalLogPath  string `toml:"signal_log_path"`
	DefaultHorizon int    `toml:"default_horizon_minutes"`
}

type EngineConfig struct {
	MaxConcurrentRuns int     `toml:"max_concurrent_runs"`
	BarInterval       string  `toml:"bar_interval"`
	MaxBacktestBars   int     `toml:"max_backtest_bars"`
	TickSeconds       int     `toml:"tick_seconds"`
	FeeRate           float64 `toml:"fee_rate"`
}

// Load reads the YAML file at path and returns a validated Config.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a Config with every default applied, used when no
// config file is supplied (tests, ad-hoc runs).
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
