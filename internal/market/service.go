package market

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/omarbizkit/ai-trading-system-sub002/internal/apperr"
	"github.com/omarbizkit/ai-trading-system-sub002/internal/logger"

	"golang.org/x/time/rate"
)

// ServiceConfig configures the market data service.
type ServiceConfig struct {
	Source          Source
	Store           *Store
	RateLimitPerMin int
	QuoteTTL        time.Duration
}

// Service is the market data provider: rate-limited upstream access with
// a sqlite bar cache and a short-lived in-memory quote cache.
type Service struct {
	source   Source
	store    *Store
	limiter  *rate.Limiter
	quoteTTL time.Duration

	mu     sync.RWMutex
	quotes map[string]Quote
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Source == nil {
		return nil, apperr.New(apperr.KindInternal, "market source cannot be nil")
	}
	if cfg.Store == nil {
		return nil, apperr.New(apperr.KindInternal, "candle store cannot be nil")
	}
	perSec := rate.Limit(float64(cfg.RateLimitPerMin) / 60.0)
	if cfg.RateLimitPerMin <= 0 {
		perSec = 5
	}
	ttl := cfg.QuoteTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Service{
		source:   cfg.Source,
		store:    cfg.Store,
		limiter:  rate.NewLimiter(perSec, 10),
		quoteTTL: ttl,
		quotes:   make(map[string]Quote),
	}, nil
}

// NormalizeAsset validates and uppercases a bare asset symbol.
func NormalizeAsset(asset string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(asset))
	if len(s) < 2 || len(s) > 10 {
		return "", apperr.Validationf("invalid asset symbol %q", asset)
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return "", apperr.Validationf("invalid asset symbol %q", asset)
		}
	}
	return s, nil
}

// Quote returns the latest price for an asset, serving a cached value
// while it is younger than the configured TTL.
func (s *Service) Quote(ctx context.Context, asset string) (Quote, error) {
	sym, err := NormalizeAsset(asset)
	if err != nil {
		return Quote{}, err
	}
	s.mu.RLock()
	cached, ok := s.quotes[sym]
	s.mu.RUnlock()
	if ok && time.Since(cached.At) < s.quoteTTL {
		return cached, nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return Quote{}, err
	}
	q, err := s.source.Quote(ctx, sym)
	if err != nil {
		return Quote{}, err
	}
	s.mu.Lock()
	s.quotes[sym] = q
	s.mu.Unlock()
	return q, nil
}

// History returns the OHLC series for [start, end] (unix ms, aligned to
// the interval grid), backfilling the cache from the source when bars are
// missing. The result is strictly ascending by open time.
func (s *Service) History(ctx context.Context, asset, interval string, start, end int64) ([]Candle, error) {
	sym, err := NormalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	iv, err := ParseInterval(interval)
	if err != nil {
		return nil, apperr.Validationf("interval must be one of %v", SupportedIntervals())
	}
	if start <= 0 || end <= 0 {
		return nil, apperr.Validationf("from/to are required")
	}
	start, end = iv.AlignRange(start, end)
	if start == end {
		return nil, apperr.Validationf("from/to must span at least one %s bar", iv.Key)
	}
	if err := s.ensure(ctx, sym, iv, start, end); err != nil {
		return nil, err
	}
	candles, err := s.store.Range(ctx, sym, iv.Key, start, end)
	if err != nil {
		return nil, err
	}
	if err := ValidateSeries(candles); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "cached series for %s %s is corrupt", sym, iv.Key)
	}
	return candles, nil
}

// ensure backfills [start, end] from the source until the cache holds the
// expected bar count or the source stops returning data. Bars newer than
// the last closed bar legitimately do not exist yet, so a short tail gap
// is not an error.
func (s *Service) ensure(ctx context.Context, symbol string, iv Interval, start, end int64) error {
	expected := iv.ExpectedBars(start, end)
	present, err := s.store.CountRange(ctx, symbol, iv.Key, start, end)
	if err != nil {
		return err
	}
	if present >= expected {
		return nil
	}
	logger.Debugf("[market] backfill %s %s: %d/%d bars cached", symbol, iv.Key, present, expected)
	cursor := start
	for cursor <= end {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		batch, err := s.source.Klines(ctx, KlineRequest{
			Symbol:   symbol,
			Interval: iv.SourceInterval,
			Start:    cursor,
			End:      end,
			Limit:    1000,
		})
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}
		if _, err := s.store.Upsert(ctx, symbol, iv.Key, batch); err != nil {
			return err
		}
		last := batch[len(batch)-1].OpenTime
		next := last + iv.Millis()
		if next <= cursor {
			break
		}
		cursor = next
	}
	return nil
}
