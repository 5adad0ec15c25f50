package market

import "context"

// KlineRequest describes one remote kline fetch.
type KlineRequest struct {
	Symbol   string
	Interval string
	Start    int64 // unix ms
	End      int64 // unix ms, 0 means open-ended
	Limit    int
}

// Source abstracts the upstream exchange feed so the service (and tests)
// can swap implementations.
type Source interface {
	Quote(ctx context.Context, symbol string) (Quote, error)
	Klines(ctx context.Context, req KlineRequest) ([]Candle, error)
	Name() string
}
