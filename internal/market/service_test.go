package market

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarbizkit/ai-trading-system-sub002/internal/apperr"
)

// fakeSource serves a fixed hourly series and counts upstream calls.
type fakeSource struct {
	candles    []Candle
	quote      Quote
	quoteCalls atomic.Int64
	klineCalls atomic.Int64
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Quote(ctx context.Context, symbol string) (Quote, error) {
	f.quoteCalls.Add(1)
	q := f.quote
	q.Symbol = symbol
	q.At = time.Now().UTC()
	return q, nil
}

func (f *fakeSource) Klines(ctx context.Context, req KlineRequest) ([]Candle, error) {
	f.klineCalls.Add(1)
	var out []Candle
	for _, c := range f.candles {
		if c.OpenTime >= req.Start && (req.End == 0 || c.OpenTime <= req.End) {
			out = append(out, c)
			if req.Limit > 0 && len(out) >= req.Limit {
				break
			}
		}
	}
	return out, nil
}

var seriesBase = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func hourlySeries(n int) []Candle {
	out := make([]Candle, n)
	for i := range out {
		open := seriesBase.Add(time.Duration(i) * time.Hour)
		price := 100 + float64(i)
		out[i] = Candle{
			OpenTime:  open.UnixMilli(),
			CloseTime: open.Add(time.Hour).UnixMilli() - 1,
			Open:      price, High: price + 1, Low: price - 1, Close: price,
			Volume: 5, Trades: 50,
		}
	}
	return out
}

func newTestService(t *testing.T, src Source) *Service {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	svc, err := NewService(ServiceConfig{
		Source:          src,
		Store:           store,
		RateLimitPerMin: 6000,
		QuoteTTL:        time.Minute,
	})
	require.NoError(t, err)
	return svc
}

func TestNormalizeAsset(t *testing.T) {
	for in, want := range map[string]string{
		"btc":  "BTC",
		" ETH": "ETH",
		"sol ": "SOL",
	} {
		got, err := NormalizeAsset(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	for _, bad := range []string{"", "b", "btc-usd", "1INCH", "VERYLONGSYMBOL"} {
		_, err := NormalizeAsset(bad)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), bad)
	}
}

func TestServiceQuoteServesCachedValue(t *testing.T) {
	src := &fakeSource{quote: Quote{Price: 50000}}
	svc := newTestService(t, src)
	ctx := context.Background()

	q1, err := svc.Quote(ctx, "btc")
	require.NoError(t, err)
	assert.Equal(t, "BTC", q1.Symbol)
	assert.Equal(t, 50000.0, q1.Price)

	_, err = svc.Quote(ctx, "BTC")
	require.NoError(t, err)
	assert.EqualValues(t, 1, src.quoteCalls.Load(), "second quote should come from cache")
}

func TestServiceHistoryBackfillsOnce(t *testing.T) {
	src := &fakeSource{candles: hourlySeries(48)}
	svc := newTestService(t, src)
	ctx := context.Background()

	start := seriesBase.UnixMilli()
	end := seriesBase.Add(47 * time.Hour).UnixMilli()

	got, err := svc.History(ctx, "BTC", "1h", start, end)
	require.NoError(t, err)
	require.Len(t, got, 48)
	require.NoError(t, ValidateSeries(got))

	calls := src.klineCalls.Load()
	got2, err := svc.History(ctx, "BTC", "1h", start, end)
	require.NoError(t, err)
	assert.Len(t, got2, 48)
	assert.Equal(t, calls, src.klineCalls.Load(), "full cache hit should not refetch")
}

func TestServiceHistoryAscendingOrder(t *testing.T) {
	src := &fakeSource{candles: hourlySeries(24)}
	svc := newTestService(t, src)

	got, err := svc.History(context.Background(), "ETH", "1h",
		seriesBase.UnixMilli(), seriesBase.Add(23*time.Hour).UnixMilli())
	require.NoError(t, err)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].OpenTime, got[i-1].OpenTime)
	}
}

func TestServiceHistoryRejectsBadInput(t *testing.T) {
	svc := newTestService(t, &fakeSource{candles: hourlySeries(4)})
	ctx := context.Background()
	start := seriesBase.UnixMilli()
	end := seriesBase.Add(3 * time.Hour).UnixMilli()

	_, err := svc.History(ctx, "BTC", "5m", start, end)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = svc.History(ctx, "BTC", "1h", 0, end)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = svc.History(ctx, "b!", "1h", start, end)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestIntervalAlignRange(t *testing.T) {
	iv, err := ParseInterval("1h")
	require.NoError(t, err)

	start := seriesBase.Add(25 * time.Minute).UnixMilli()
	end := seriesBase.Add(3*time.Hour + 10*time.Minute).UnixMilli()
	s, e := iv.AlignRange(start, end)
	assert.Equal(t, seriesBase.UnixMilli(), s)
	assert.Equal(t, seriesBase.Add(3*time.Hour).UnixMilli(), e)
	assert.EqualValues(t, 4, iv.ExpectedBars(s, e))

	// reversed bounds swap
	s, e = iv.AlignRange(end, start)
	assert.LessOrEqual(t, s, e)
}

func TestValidateSeriesRejectsMalformedCandle(t *testing.T) {
	series := hourlySeries(3)
	series[1].High = series[1].Low - 1
	assert.Error(t, ValidateSeries(series))

	series = hourlySeries(3)
	series[2].OpenTime = series[1].OpenTime
	assert.Error(t, ValidateSeries(series))
}
