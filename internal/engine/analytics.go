package engine

import (
	"time"

	"github.com/omarbizkit/ai-trading-system-sub002/internal/run"
)

// ComputeSummary derives the completed-run metrics from the trade record.
// Percentages are stored as percentages (4.9, not 0.049). win_rate counts
// winning trades over all executed trades, buys included, matching the
// total_trades/winning_trades counters the run store maintains; it is nil
// only when no trade executed at all. Trades must be in execution order
// (oldest first); the capital curve is seeded with the starting capital
// so a drawdown before the first trade recovers is still counted.
func ComputeSummary(startingCapital, finalCapital float64, sessionEnd time.Time, trades []run.Trade) run.Summary {
	sum := run.Summary{
		SessionEnd:   sessionEnd.UTC(),
		FinalCapital: finalCapital,
	}
	if startingCapital > 0 {
		sum.TotalReturn = (finalCapital - startingCapital) / startingCapital * 100
	}

	var (
		wins      int
		sizeTotal float64
		best      *float64
		worst     *float64
	)
	peak := startingCapital
	maxDD := 0.0
	for _, t := range trades {
		sizeTotal += t.GrossValue
		if t.Winning() {
			wins++
		}
		if t.ProfitLoss != nil {
			pl := *t.ProfitLoss
			if best == nil || pl > *best {
				v := pl
				best = &v
			}
			if worst == nil || pl < *worst {
				v := pl
				worst = &v
			}
		}
		if t.PortfolioAfter > peak {
			peak = t.PortfolioAfter
		} else if peak > 0 {
			dd := (t.PortfolioAfter - peak) / peak * 100
			if dd < maxDD {
				maxDD = dd
			}
		}
	}
	sum.MaxDrawdown = maxDD
	if len(trades) > 0 {
		sum.AvgTradeSize = sizeTotal / float64(len(trades))
		wr := float64(wins) / float64(len(trades)) * 100
		sum.WinRate = &wr
	}
	sum.BestTradePL = best
	sum.WorstTradePL = worst
	return sum
}
