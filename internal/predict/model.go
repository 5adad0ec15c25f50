package predict

import (
	"context"
	"math"
	"time"

	"github.com/omarbizkit/ai-trading-system-sub002/internal/apperr"
	"github.com/omarbizkit/ai-trading-system-sub002/internal/market"

	talib "github.com/markcheno/go-talib"
)

const (
	rsiPeriod     = 14
	fastSMAPeriod = 10
	slowSMAPeriod = 30
	momPeriod     = 10

	// MinModelBars is the minimum history the model needs: the slowest
	// indicator period plus one bar of slack.
	MinModelBars = slowSMAPeriod + 1
)

// Features is the indicator vector behind a signal, kept for the log.
type Features struct {
	RSI      float64 `json:"rsi"`
	FastSMA  float64 `json:"fast_sma"`
	SlowSMA  float64 `json:"slow_sma"`
	Momentum float64 `json:"momentum"`
	Close    float64 `json:"close"`
}

// Model turns a candle window into a directional signal.
type Model interface {
	Predict(ctx context.Context, symbol string, candles []market.Candle, horizonMinutes int) (Signal, Features, error)
	Version() string
}

// TrendModel scores RSI, SMA crossover and momentum into a direction and
// confidence. It is a pure function of its candle input, which keeps
// backtests reproducible.
type TrendModel struct {
	version string
}

func NewTrendModel(version string) *TrendModel {
	if version == "" {
		version = "trend-v1.2"
	}
	return &TrendModel{version: version}
}

func (m *TrendModel) Version() string { return m.version }

func (m *TrendModel) Predict(ctx context.Context, symbol string, candles []market.Candle, horizonMinutes int) (Signal, Features, error) {
	if err := ctx.Err(); err != nil {
		return Signal{}, Features{}, err
	}
	if err := ValidateHorizon(horizonMinutes); err != nil {
		return Signal{}, Features{}, err
	}
	if len(candles) < MinModelBars {
		return Signal{}, Features{}, apperr.Upstreamf(nil,
			"model needs %d bars for %s, got %d", MinModelBars, symbol, len(candles))
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	last := len(closes) - 1
	feat := Features{
		RSI:      lastValue(talib.Rsi(closes, rsiPeriod)),
		FastSMA:  lastValue(talib.Sma(closes, fastSMAPeriod)),
		SlowSMA:  lastValue(talib.Sma(closes, slowSMAPeriod)),
		Momentum: lastValue(talib.Mom(closes, momPeriod)),
		Close:    closes[last],
	}

	score := m.score(feat)
	direction := DirectionHold
	switch {
	case score > 0.15:
		direction = DirectionUp
	case score < -0.15:
		direction = DirectionDown
	}
	confidence := math.Min(math.Abs(score), 1)

	// Expected move scales the score by horizon relative to a one-hour
	// reference; capped so long horizons stay sane.
	horizonScale := math.Min(float64(horizonMinutes)/60.0, 4)
	expectedMove := score * 0.004 * horizonScale
	predicted := feat.Close * (1 + expectedMove)

	var created time.Time
	if last >= 0 && candles[last].CloseTime > 0 {
		created = time.UnixMilli(candles[last].CloseTime).UTC()
	} else {
		created = time.Now().UTC()
	}
	return Signal{
		Symbol:         symbol,
		PredictedPrice: predicted,
		Direction:      direction,
		Confidence:     confidence,
		HorizonMinutes: horizonMinutes,
		ModelVersion:   m.version,
		CreatedAt:      created,
	}, feat, nil
}

// score folds the features into [-1, 1]: positive means up.
func (m *TrendModel) score(f Features) float64 {
	var score float64

	// RSI: oversold argues up, overbought argues down.
	switch {
	case f.RSI <= 30:
		score += 0.4
	case f.RSI >= 70:
		score -= 0.4
	default:
		score += (50 - f.RSI) / 50 * 0.2
	}

	// SMA crossover: fast above slow is an uptrend.
	if f.SlowSMA > 0 {
		spread := (f.FastSMA - f.SlowSMA) / f.SlowSMA
		score += clamp(spread*20, -0.4, 0.4)
	}

	// Momentum over the last period, relative to price.
	if f.Close > 0 {
		score += clamp(f.Momentum/f.Close*10, -0.3, 0.3)
	}
	return clamp(score, -1, 1)
}

func lastValue(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) && series[i] != 0 {
			return series[i]
		}
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
