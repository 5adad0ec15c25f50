package market

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Interval describes a supported bar granularity (internal duration plus
// the exchange interval string).
type Interval struct {
	Key            string
	Duration       time.Duration
	SourceInterval string
}

var supportedIntervals = map[string]Interval{
	"1h": {Key: "1h", Duration: time.Hour, SourceInterval: "1h"},
	"4h": {Key: "4h", Duration: 4 * time.Hour, SourceInterval: "4h"},
	"1d": {Key: "1d", Duration: 24 * time.Hour, SourceInterval: "1d"},
}

// ParseInterval returns the normalized interval definition.
func ParseInterval(input string) (Interval, error) {
	key := strings.ToLower(strings.TrimSpace(input))
	iv, ok := supportedIntervals[key]
	if !ok {
		return Interval{}, fmt.Errorf("unsupported interval: %s", input)
	}
	return iv, nil
}

// SupportedIntervals returns all supported keys, sorted.
func SupportedIntervals() []string {
	keys := make([]string, 0, len(supportedIntervals))
	for k := range supportedIntervals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (iv Interval) Millis() int64 {
	return iv.Duration.Milliseconds()
}

func alignDown(ts, step int64) int64 {
	if step <= 0 {
		return ts
	}
	rem := ts % step
	if rem < 0 {
		rem += step
	}
	return ts - rem
}

// AlignRange snaps millisecond timestamps onto the interval grid and
// guarantees start <= end.
func (iv Interval) AlignRange(start, end int64) (int64, int64) {
	step := iv.Millis()
	if end < start {
		start, end = end, start
	}
	alStart := alignDown(start, step)
	alEnd := alignDown(end, step)
	if alEnd < alStart {
		alEnd = alStart
	}
	return alStart, alEnd
}

// ExpectedBars counts the bars a complete start~end series (inclusive)
// would hold.
func (iv Interval) ExpectedBars(start, end int64) int64 {
	if end < start {
		return 0
	}
	step := iv.Millis()
	if step == 0 {
		return 0
	}
	return ((end - start) / step) + 1
}

// Candle is one OHLC bar. Timestamps are unix milliseconds.
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

// Valid reports whether the OHLC values are internally consistent.
func (c Candle) Valid() bool {
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return false
	}
	if c.High < c.Open || c.High < c.Close || c.High < c.Low {
		return false
	}
	if c.Low > c.Open || c.Low > c.Close {
		return false
	}
	return c.CloseTime > c.OpenTime
}

// ValidateSeries checks OHLC sanity and strict ascending order by open
// time across the whole slice.
func ValidateSeries(candles []Candle) error {
	var prev int64 = -1
	for i, c := range candles {
		if !c.Valid() {
			return fmt.Errorf("candle %d malformed (open_time=%d)", i, c.OpenTime)
		}
		if c.OpenTime <= prev {
			return fmt.Errorf("series not strictly ascending at index %d", i)
		}
		prev = c.OpenTime
	}
	return nil
}

// Quote is the latest observed price for an asset.
type Quote struct {
	Symbol       string    `json:"symbol"`
	Price        float64   `json:"price"`
	Change24hPct float64   `json:"change_24h_pct"`
	Volume24h    float64   `json:"volume_24h"`
	At           time.Time `json:"at"`
}
