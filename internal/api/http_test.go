package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarbizkit/ai-trading-system-sub002/internal/engine"
	"github.com/omarbizkit/ai-trading-system-sub002/internal/market"
	"github.com/omarbizkit/ai-trading-system-sub002/internal/predict"
	"github.com/omarbizkit/ai-trading-system-sub002/internal/run"
)

var apiBase = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

type stubSource struct {
	candles []market.Candle
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) Quote(ctx context.Context, symbol string) (market.Quote, error) {
	return market.Quote{Symbol: symbol, Price: 50000, At: time.Now().UTC()}, nil
}

func (s *stubSource) Klines(ctx context.Context, req market.KlineRequest) ([]market.Candle, error) {
	var out []market.Candle
	for _, c := range s.candles {
		if c.OpenTime >= req.Start && (req.End == 0 || c.OpenTime <= req.End) {
			out = append(out, c)
		}
	}
	return out, nil
}

func stubCandles(n int) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		open := apiBase.Add(time.Duration(i) * time.Hour)
		price := 50000 + 10*float64(i)
		out[i] = market.Candle{
			OpenTime:  open.UnixMilli(),
			CloseTime: open.Add(time.Hour).UnixMilli() - 1,
			Open:      price, High: price + 20, Low: price - 20, Close: price,
			Volume: 3, Trades: 30,
		}
	}
	return out
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	candleStore, err := market.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { candleStore.Close() })

	marketSvc, err := market.NewService(market.ServiceConfig{
		Source:          &stubSource{candles: stubCandles(80)},
		Store:           candleStore,
		RateLimitPerMin: 6000,
		QuoteTTL:        time.Minute,
	})
	require.NoError(t, err)

	model := predict.NewTrendModel("trend-test")
	provider, err := predict.NewProvider(predict.ProviderConfig{
		Model:        model,
		Candles:      marketSvc,
		CacheTTL:     15 * time.Minute,
		LookbackBars: 50,
	})
	require.NoError(t, err)

	runStore, err := run.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { runStore.Close() })

	sim, err := engine.NewSimulator(runStore, marketSvc, provider, model, engine.Config{
		BarInterval:  "1h",
		TickInterval: time.Hour, // no live ticks during tests
	})
	require.NoError(t, err)
	manager := engine.NewManager(runStore, sim, model.Version())

	srv, err := NewServer(Config{
		Addr:    ":0",
		Runs:    manager,
		Market:  marketSvc,
		Signals: provider,
	})
	require.NoError(t, err)
	return srv
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func validParams() map[string]any {
	return map[string]any{
		"stop_loss_fraction":    0.05,
		"take_profit_fraction":  0.10,
		"confidence_threshold":  0.6,
		"max_position_fraction": 0.5,
	}
}

func backtestBody() map[string]any {
	return map[string]any{
		"symbol":            "BTC",
		"starting_capital":  10000,
		"parameters":        validParams(),
		"time_period_start": apiBase.Add(40 * time.Hour).Format(time.RFC3339),
		"time_period_end":   apiBase.Add(60 * time.Hour).Format(time.RFC3339),
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv.Handler(), http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateRunValidation(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	// missing required fields
	w := doJSON(t, h, http.MethodPost, "/api/runs", map[string]any{"mode": "simulation"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// bad mode
	body := map[string]any{
		"mode": "paper", "symbol": "BTC", "starting_capital": 10000,
		"parameters": validParams(),
	}
	w = doJSON(t, h, http.MethodPost, "/api/runs", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// backtest window in the future
	body = backtestBody()
	body["mode"] = "backtest"
	body["time_period_start"] = time.Now().Add(time.Hour).Format(time.RFC3339)
	body["time_period_end"] = time.Now().Add(48 * time.Hour).Format(time.RFC3339)
	w = doJSON(t, h, http.MethodPost, "/api/runs", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateSimulationRun(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	body := map[string]any{
		"mode": "simulation", "symbol": "btc", "starting_capital": 10000,
		"parameters": validParams(),
	}
	w := doJSON(t, h, http.MethodPost, "/api/runs", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Run run.TradingRun `json:"run"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Run.ID)
	assert.Equal(t, "BTC", resp.Run.Symbol)
	assert.Equal(t, run.ModeSimulation, resp.Run.Mode)
	assert.Nil(t, resp.Run.Summary)

	// fetch it back
	w = doJSON(t, h, http.MethodGet, "/api/runs/"+resp.Run.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// negative reported capital is rejected and leaves the run open
	w = doJSON(t, h, http.MethodPatch, "/api/runs/"+resp.Run.ID,
		map[string]any{"final_capital": -1.0})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// finalize stops the loop and completes the run; the stored capital
	// is the server-derived value
	w = doJSON(t, h, http.MethodPatch, "/api/runs/"+resp.Run.ID,
		map[string]any{"final_capital": 12345.0})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Run.Summary)
	assert.Equal(t, 10000.0, resp.Run.Summary.FinalCapital)
	assert.True(t, resp.Run.Summary.SessionEnd.After(resp.Run.SessionStart))

	// a second finalize conflicts
	w = doJSON(t, h, http.MethodPatch, "/api/runs/"+resp.Run.ID, map[string]any{})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetRunNotFound(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv.Handler(), http.MethodGet, "/api/runs/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBacktestEndpointCompletesRun(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv.Handler(), http.MethodPost, "/api/backtest", backtestBody())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Run run.TradingRun `json:"run"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Run.Summary)
	assert.Equal(t, run.ModeBacktest, resp.Run.Mode)
	assert.Positive(t, resp.Run.Summary.FinalCapital)

	// trades endpoint pages, possibly empty
	w = doJSON(t, srv.Handler(), http.MethodGet,
		fmt.Sprintf("/api/runs/%s/trades?limit=10&offset=0", resp.Run.ID), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTradesEndpointValidation(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	w := doJSON(t, h, http.MethodGet, "/api/runs/nope/trades", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// need a real run for the limit check
	resp := doJSON(t, h, http.MethodPost, "/api/backtest", backtestBody())
	require.Equal(t, http.StatusOK, resp.Code)
	var body struct {
		Run run.TradingRun `json:"run"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))

	w = doJSON(t, h, http.MethodGet, "/api/runs/"+body.Run.ID+"/trades?limit=101", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMarketEndpoints(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	w := doJSON(t, h, http.MethodGet, "/api/market/btc", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var quoteResp struct {
		Quote market.Quote `json:"quote"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &quoteResp))
	assert.Equal(t, "BTC", quoteResp.Quote.Symbol)
	assert.Equal(t, 50000.0, quoteResp.Quote.Price)

	from := apiBase.UnixMilli()
	to := apiBase.Add(24 * time.Hour).UnixMilli()
	w = doJSON(t, h, http.MethodGet,
		fmt.Sprintf("/api/market/btc/history?from=%d&to=%d&interval=1h", from, to), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// missing range
	w = doJSON(t, h, http.MethodGet, "/api/market/btc/history", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// bad symbol
	w = doJSON(t, h, http.MethodGet, "/api/market/b!/history?from=1&to=2", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPredictionEndpoint(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	w := doJSON(t, h, http.MethodGet, "/api/predictions/btc?horizon=3", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, h, http.MethodGet, "/api/predictions/btc?horizon=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
