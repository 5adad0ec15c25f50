package market

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/omarbizkit/ai-trading-system-sub002/internal/apperr"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/tidwall/gjson"
)

const invalidSymbolCode = -1121 // binance API error for unknown symbols

// BinanceSource serves quotes and klines from the Binance spot REST API.
// Assets are quoted against USDT ("BTC" -> "BTCUSDT").
type BinanceSource struct {
	baseURL string
	cli     *binance.Client
	httpCli *http.Client
}

func NewBinanceSource(baseURL string) *BinanceSource {
	cli := binance.NewClient("", "")
	if baseURL != "" {
		cli.BaseURL = baseURL
	} else {
		baseURL = cli.BaseURL
	}
	return &BinanceSource{
		baseURL: baseURL,
		cli:     cli,
		httpCli: &http.Client{Timeout: 15 * time.Second},
	}
}

func (b *BinanceSource) Name() string { return "binance" }

// Pair maps a bare asset symbol onto its USDT trading pair.
func Pair(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if strings.HasSuffix(s, "USDT") {
		return s
	}
	return s + "USDT"
}

// Quote reads the 24h ticker. The stats endpoint is parsed directly so a
// single call yields price, change and volume.
func (b *BinanceSource) Quote(ctx context.Context, symbol string) (Quote, error) {
	u, err := url.Parse(b.baseURL)
	if err != nil {
		return Quote{}, err
	}
	u.Path = "/api/v3/ticker/24hr"
	q := u.Query()
	q.Set("symbol", Pair(symbol))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Quote{}, err
	}
	resp, err := b.httpCli.Do(req)
	if err != nil {
		return Quote{}, apperr.Upstreamf(err, "binance ticker request failed")
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Quote{}, apperr.Upstreamf(err, "binance ticker read failed")
	}
	if resp.StatusCode != http.StatusOK {
		if gjson.GetBytes(body, "code").Int() == invalidSymbolCode {
			return Quote{}, apperr.NotFoundf("unknown asset %s", symbol)
		}
		return Quote{}, apperr.Upstreamf(nil, "binance ticker status %d", resp.StatusCode)
	}
	price := gjson.GetBytes(body, "lastPrice").Float()
	if price <= 0 {
		return Quote{}, apperr.Upstreamf(nil, "binance ticker returned no price for %s", symbol)
	}
	return Quote{
		Symbol:       strings.ToUpper(strings.TrimSpace(symbol)),
		Price:        price,
		Change24hPct: gjson.GetBytes(body, "priceChangePercent").Float(),
		Volume24h:    gjson.GetBytes(body, "quoteVolume").Float(),
		At:           time.Now().UTC(),
	}, nil
}

func (b *BinanceSource) Klines(ctx context.Context, req KlineRequest) ([]Candle, error) {
	if req.Symbol == "" || req.Interval == "" {
		return nil, fmt.Errorf("symbol/interval cannot be empty")
	}
	limit := req.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	svc := b.cli.NewKlinesService().
		Symbol(Pair(req.Symbol)).
		Interval(req.Interval).
		Limit(limit)
	if req.Start > 0 {
		svc.StartTime(req.Start)
	}
	if req.End > 0 {
		svc.EndTime(req.End)
	}
	raw, err := svc.Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && apiErr.Code == invalidSymbolCode {
			return nil, apperr.NotFoundf("unknown asset %s", req.Symbol)
		}
		return nil, apperr.Upstreamf(err, "binance klines fetch failed")
	}
	out := make([]Candle, 0, len(raw))
	for _, k := range raw {
		out = append(out, Candle{
			OpenTime:  k.OpenTime,
			CloseTime: k.CloseTime,
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
			Trades:    k.TradeNum,
		})
	}
	return out, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
