package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarbizkit/ai-trading-system-sub002/internal/run"
)

func plTrade(pl, after, gross float64) run.Trade {
	return run.Trade{Side: run.SideSell, ProfitLoss: &pl, PortfolioAfter: after, GrossValue: gross}
}

func buyTrade(after, gross float64) run.Trade {
	return run.Trade{Side: run.SideBuy, PortfolioAfter: after, GrossValue: gross}
}

func TestComputeSummaryNoTrades(t *testing.T) {
	end := time.Now().UTC()
	sum := ComputeSummary(10000, 10000, end, nil)

	assert.Nil(t, sum.WinRate)
	assert.Nil(t, sum.BestTradePL)
	assert.Nil(t, sum.WorstTradePL)
	assert.Zero(t, sum.TotalReturn)
	assert.Zero(t, sum.MaxDrawdown)
	assert.Zero(t, sum.AvgTradeSize)
	assert.Equal(t, 10000.0, sum.FinalCapital)
}

func TestComputeSummaryWinRateOverAllTrades(t *testing.T) {
	trades := []run.Trade{
		buyTrade(9990, 5000),
		plTrade(100, 10090, 5000),
		buyTrade(10080, 5000),
		plTrade(-50, 10030, 5000),
	}
	sum := ComputeSummary(10000, 10030, time.Now(), trades)

	// 1 winning trade out of 4 executed, as a percentage
	require.NotNil(t, sum.WinRate)
	assert.InDelta(t, 25.0, *sum.WinRate, 1e-12)
	require.NotNil(t, sum.BestTradePL)
	assert.Equal(t, 100.0, *sum.BestTradePL)
	require.NotNil(t, sum.WorstTradePL)
	assert.Equal(t, -50.0, *sum.WorstTradePL)
	assert.InDelta(t, 5000.0, sum.AvgTradeSize, 1e-9)
	assert.InDelta(t, 0.3, sum.TotalReturn, 1e-9)
}

func TestComputeSummaryBuyHeavyRunHasLowWinRate(t *testing.T) {
	// one winning sell among three buys: 1/4 = 25%
	trades := []run.Trade{
		buyTrade(10000, 1000),
		buyTrade(10000, 1000),
		buyTrade(10000, 1000),
		plTrade(60, 10060, 1000),
	}
	sum := ComputeSummary(10000, 10060, time.Now(), trades)
	require.NotNil(t, sum.WinRate)
	assert.InDelta(t, 25.0, *sum.WinRate, 1e-12)
}

func TestComputeSummaryBreakEvenIsNotAWin(t *testing.T) {
	trades := []run.Trade{plTrade(0, 10000, 1000)}
	sum := ComputeSummary(10000, 10000, time.Now(), trades)
	require.NotNil(t, sum.WinRate)
	assert.Zero(t, *sum.WinRate)
}

func TestComputeSummarySingleRoundTrip(t *testing.T) {
	// 10000 -> buy 0.1@50000 fee 5 -> sell 0.1@55000 fee 5
	trades := []run.Trade{
		buyTrade(9995, 5000),
		plTrade(495, 10490, 5500),
	}
	sum := ComputeSummary(10000, 10490, time.Now(), trades)

	assert.InDelta(t, 4.9, sum.TotalReturn, 1e-9)
	require.NotNil(t, sum.WinRate)
	assert.InDelta(t, 50.0, *sum.WinRate, 1e-12)
	require.NotNil(t, sum.BestTradePL)
	assert.Equal(t, 495.0, *sum.BestTradePL)
}

func TestComputeSummaryMaxDrawdown(t *testing.T) {
	// curve: 10000 (seed) -> 11000 -> 8800 -> 9500: worst dip is -20% off
	// the 11000 peak
	trades := []run.Trade{
		plTrade(1000, 11000, 1000),
		plTrade(-2200, 8800, 1000),
		plTrade(700, 9500, 1000),
	}
	sum := ComputeSummary(10000, 9500, time.Now(), trades)
	assert.InDelta(t, -20.0, sum.MaxDrawdown, 1e-9)
}

func TestComputeSummaryDrawdownFromStartingCapital(t *testing.T) {
	// first trade dips below the starting capital before any new peak
	trades := []run.Trade{plTrade(-500, 9500, 1000)}
	sum := ComputeSummary(10000, 9500, time.Now(), trades)
	assert.InDelta(t, -5.0, sum.MaxDrawdown, 1e-9)
}

func TestComputeSummaryMonotoneCurveHasZeroDrawdown(t *testing.T) {
	trades := []run.Trade{
		plTrade(100, 10100, 1000),
		plTrade(200, 10300, 1000),
		plTrade(50, 10350, 1000),
	}
	sum := ComputeSummary(10000, 10350, time.Now(), trades)
	assert.Zero(t, sum.MaxDrawdown)
}
