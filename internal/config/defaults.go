package config

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.DataDir == "" {
		c.App.DataDir = "data"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Market.BaseURL == "" {
		c.Market.BaseURL = "https://api.binance.com"
	}
	if c.Market.RateLimitPerMin <= 0 {
		c.Market.RateLimitPerMin = 300
	}
	if c.Market.CacheTTLSeconds <= 0 {
		c.Market.CacheTTLSeconds = 30
	}
	if c.Predict.ModelVersion == "" {
		c.Predict.ModelVersion = "trend-v1.2"
	}
	if c.Predict.CacheTTLMin <= 0 {
		c.Predict.CacheTTLMin = 15
	}
	if c.Predict.LookbackBars <= 0 {
		c.Predict.LookbackBars = 50
	}
	if c.Predict.DefaultHorizon <= 0 {
		c.Predict.DefaultHorizon = 60
	}
	if c.Engine.MaxConcurrentRuns <= 0 {
		c.Engine.MaxConcurrentRuns = 4
	}
	if c.Engine.BarInterval == "" {
		c.Engine.BarInterval = "1h"
	}
	if c.Engine.MaxBacktestBars <= 0 {
		c.Engine.MaxBacktestBars = 20000
	}
	if c.Engine.TickSeconds <= 0 {
		c.Engine.TickSeconds = 30
	}
	if c.Engine.FeeRate <= 0 {
		c.Engine.FeeRate = 0.001 // 10 bps per side, spot taker
	}
}
