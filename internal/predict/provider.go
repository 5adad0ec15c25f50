package predict

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/omarbizkit/ai-trading-system-sub002/internal/logger"
	"github.com/omarbizkit/ai-trading-system-sub002/internal/market"
)

// CandleProvider is the slice of the market service the provider needs.
type CandleProvider interface {
	History(ctx context.Context, asset, interval string, start, end int64) ([]market.Candle, error)
}

// ProviderConfig configures the cached live provider.
type ProviderConfig struct {
	Model        Model
	Candles      CandleProvider
	Store        *SignalStore // optional signal log
	CacheTTL     time.Duration
	LookbackBars int
}

// Provider serves live prediction signals. A signal generated less than
// CacheTTL ago (default 15 minutes) is reused for the same symbol and
// horizon instead of recomputing, which bounds upstream call volume and
// keeps decisions stable across near-simultaneous ticks.
type Provider struct {
	model    Model
	candles  CandleProvider
	store    *SignalStore
	ttl      time.Duration
	lookback int

	mu    sync.Mutex
	cache map[string]Signal
	now   func() time.Time
}

func NewProvider(cfg ProviderConfig) (*Provider, error) {
	if cfg.Model == nil {
		return nil, fmt.Errorf("model cannot be nil")
	}
	if cfg.Candles == nil {
		return nil, fmt.Errorf("candle provider cannot be nil")
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	lookback := cfg.LookbackBars
	if lookback < MinModelBars {
		lookback = 50
	}
	return &Provider{
		model:    cfg.Model,
		candles:  cfg.Candles,
		store:    cfg.Store,
		ttl:      ttl,
		lookback: lookback,
		cache:    make(map[string]Signal),
		now:      time.Now,
	}, nil
}

func (p *Provider) ModelVersion() string { return p.model.Version() }

// Signal returns a prediction for the asset at the given horizon,
// generating one synchronously when no fresh cached signal exists.
func (p *Provider) Signal(ctx context.Context, asset string, horizonMinutes int) (Signal, error) {
	sym, err := market.NormalizeAsset(asset)
	if err != nil {
		return Signal{}, err
	}
	if err := ValidateHorizon(horizonMinutes); err != nil {
		return Signal{}, err
	}
	key := fmt.Sprintf("%s|%d", sym, horizonMinutes)
	now := p.now().UTC()

	p.mu.Lock()
	cached, ok := p.cache[key]
	p.mu.Unlock()
	if ok && cached.FreshEnough(p.ttl, now) {
		return cached, nil
	}

	window, err := p.recentWindow(ctx, sym, now)
	if err != nil {
		return Signal{}, err
	}
	sig, feat, err := p.model.Predict(ctx, sym, window, horizonMinutes)
	if err != nil {
		return Signal{}, err
	}
	sig.CreatedAt = now

	p.mu.Lock()
	p.cache[key] = sig
	p.mu.Unlock()

	if p.store != nil {
		if err := p.store.Log(ctx, sig, feat); err != nil {
			logger.Warnf("[predict] signal log write failed: %v", err)
		}
	}
	return sig, nil
}

func (p *Provider) recentWindow(ctx context.Context, symbol string, now time.Time) ([]market.Candle, error) {
	iv, _ := market.ParseInterval("1h")
	end := now.UnixMilli()
	start := end - int64(p.lookback+2)*iv.Millis()
	return p.candles.History(ctx, symbol, iv.Key, start, end)
}
