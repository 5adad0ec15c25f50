package config

import "fmt"

func validate(c *Config) error {
	switch c.Engine.BarInterval {
	case "1h", "4h", "1d":
	default:
		return fmt.Errorf("engine.bar_interval must be one of 1h/4h/1d, got %q", c.Engine.BarInterval)
	}
	if c.Engine.FeeRate < 0 || c.Engine.FeeRate >= 0.1 {
		return fmt.Errorf("engine.fee_rate out of range: %v", c.Engine.FeeRate)
	}
	if c.Predict.CacheTTLMin > 1440 {
		return fmt.Errorf("predict.cache_ttl_minutes too large: %d", c.Predict.CacheTTLMin)
	}
	if c.Engine.MaxBacktestBars > 200000 {
		return fmt.Errorf("engine.max_backtest_bars too large: %d", c.Engine.MaxBacktestBars)
	}
	return nil
}
