package run

import (
	"time"

	"github.com/omarbizkit/ai-trading-system-sub002/internal/apperr"
)

const (
	ModeSimulation = "simulation"
	ModeBacktest   = "backtest"
)

const (
	SideBuy  = "buy"
	SideSell = "sell"
)

const (
	TriggerAISignal   = "ai_signal"
	TriggerStopLoss   = "stop_loss"
	TriggerTakeProfit = "take_profit"
	TriggerManual     = "manual"
)

// RiskParams is the risk-rule configuration frozen into a run at
// creation.
type RiskParams struct {
	StopLossFraction    float64 `json:"stop_loss_fraction"`
	TakeProfitFraction  float64 `json:"take_profit_fraction"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	MaxPositionFraction float64 `json:"max_position_fraction"`
}

func (p RiskParams) Validate() error {
	if p.StopLossFraction <= 0 || p.StopLossFraction >= 1 {
		return apperr.Validationf("stop_loss_fraction must be in (0, 1), got %v", p.StopLossFraction)
	}
	if p.TakeProfitFraction <= 0 {
		return apperr.Validationf("take_profit_fraction must be > 0, got %v", p.TakeProfitFraction)
	}
	if p.ConfidenceThreshold < 0 || p.ConfidenceThreshold > 1 {
		return apperr.Validationf("confidence_threshold must be in [0, 1], got %v", p.ConfidenceThreshold)
	}
	if p.MaxPositionFraction <= 0 || p.MaxPositionFraction > 1 {
		return apperr.Validationf("max_position_fraction must be in (0, 1], got %v", p.MaxPositionFraction)
	}
	return nil
}

// Summary holds the derived fields that only exist once a run has been
// finalized. A nil Summary on TradingRun means the run is still open, so
// "metrics only valid when completed" is carried by the type rather than
// a pile of nullable columns.
type Summary struct {
	SessionEnd   time.Time `json:"session_end"`
	FinalCapital float64   `json:"final_capital"`
	WinRate      *float64  `json:"win_rate"`     // winning/total trades ×100, nil when no trades executed
	TotalReturn  float64   `json:"total_return"` // percentage
	MaxDrawdown  float64   `json:"max_drawdown"` // non-positive percentage
	AvgTradeSize float64   `json:"avg_trade_size"`
	BestTradePL  *float64  `json:"best_trade_pl"`
	WorstTradePL *float64  `json:"worst_trade_pl"`
}

// TradingRun is one simulation or backtest session.
type TradingRun struct {
	ID              string     `json:"id"`
	Owner           *string    `json:"owner"` // nil means guest
	Mode            string     `json:"mode"`
	Symbol          string     `json:"symbol"`
	StartingCapital float64    `json:"starting_capital"`
	ModelVersion    string     `json:"model_version"`
	Params          RiskParams `json:"parameters"`
	TotalTrades     int        `json:"total_trades"`
	WinningTrades   int        `json:"winning_trades"`
	SessionStart    time.Time  `json:"session_start"`
	WindowStart     *time.Time `json:"time_period_start,omitempty"` // backtest only
	WindowEnd       *time.Time `json:"time_period_end,omitempty"`   // backtest only
	Summary         *Summary   `json:"summary,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Completed reports whether the run has been finalized.
func (r *TradingRun) Completed() bool { return r.Summary != nil }

// Trade is one executed buy or sell. Records are append-only.
type Trade struct {
	ID              string    `json:"id"`
	RunID           string    `json:"run_id"`
	Side            string    `json:"side"`
	Symbol          string    `json:"symbol"`
	Quantity        float64   `json:"quantity"`
	Price           float64   `json:"price"`
	GrossValue      float64   `json:"gross_value"`
	Fee             float64   `json:"fee"`
	NetValue        float64   `json:"net_value"`
	PortfolioBefore float64   `json:"portfolio_value_before"`
	PortfolioAfter  float64   `json:"portfolio_value_after"`
	ProfitLoss      *float64  `json:"profit_loss"` // nil for buys
	Trigger         string    `json:"trigger"`
	Confidence      float64   `json:"ai_confidence"`
	MarketPrice     float64   `json:"market_price"`
	ExecutedAt      time.Time `json:"executed_at"`
}

// Winning reports whether the trade realized a strictly positive profit.
func (t Trade) Winning() bool {
	return t.ProfitLoss != nil && *t.ProfitLoss > 0
}
