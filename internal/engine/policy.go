package engine

import (
	"github.com/omarbizkit/ai-trading-system-sub002/internal/predict"
	"github.com/omarbizkit/ai-trading-system-sub002/internal/run"
)

// Action is the policy's verdict for one tick.
type Action struct {
	Side     string // run.SideBuy, run.SideSell or "" for hold
	Quantity float64
	Trigger  string
}

func (a Action) Hold() bool { return a.Side == "" }

// PositionView is the slice of ledger state the policy reads. The policy
// never mutates the ledger; execution stays with the engine.
type PositionView struct {
	Cash             float64
	Quantity         float64
	UnrealizedReturn float64
	TotalValue       float64
}

// Decide maps one (position, signal, price) observation to at most one
// action. Risk-rule exits are checked before the signal so a stop-loss
// or take-profit fires even when the model says hold. Same inputs, same
// output: the policy holds no state of its own.
func Decide(pos PositionView, sig predict.Signal, params run.RiskParams, price float64) Action {
	if pos.Quantity > 0 {
		if pos.UnrealizedReturn >= params.TakeProfitFraction {
			return Action{Side: run.SideSell, Quantity: pos.Quantity, Trigger: run.TriggerTakeProfit}
		}
		if pos.UnrealizedReturn <= -params.StopLossFraction {
			return Action{Side: run.SideSell, Quantity: pos.Quantity, Trigger: run.TriggerStopLoss}
		}
	}

	if sig.Confidence < params.ConfidenceThreshold {
		return Action{}
	}

	switch sig.Direction {
	case predict.DirectionUp:
		if pos.Quantity > 0 || price <= 0 {
			return Action{}
		}
		budget := params.MaxPositionFraction * pos.TotalValue
		if budget > pos.Cash {
			budget = pos.Cash
		}
		qty := budget / price
		if qty <= 0 {
			return Action{}
		}
		return Action{Side: run.SideBuy, Quantity: qty, Trigger: run.TriggerAISignal}
	case predict.DirectionDown:
		if pos.Quantity <= 0 {
			return Action{}
		}
		return Action{Side: run.SideSell, Quantity: pos.Quantity, Trigger: run.TriggerAISignal}
	}
	return Action{}
}
