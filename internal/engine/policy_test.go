package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/omarbizkit/ai-trading-system-sub002/internal/predict"
	"github.com/omarbizkit/ai-trading-system-sub002/internal/run"
)

var testParams = run.RiskParams{
	StopLossFraction:    0.05,
	TakeProfitFraction:  0.10,
	ConfidenceThreshold: 0.6,
	MaxPositionFraction: 0.5,
}

func upSignal(confidence float64) predict.Signal {
	return predict.Signal{Direction: predict.DirectionUp, Confidence: confidence}
}

func TestDecideBuysOnConfidentUpSignal(t *testing.T) {
	pos := PositionView{Cash: 10000, TotalValue: 10000}
	act := Decide(pos, upSignal(0.8), testParams, 50000)

	assert.Equal(t, run.SideBuy, act.Side)
	assert.Equal(t, run.TriggerAISignal, act.Trigger)
	// half the portfolio at 50,000
	assert.InDelta(t, 0.1, act.Quantity, 1e-9)
}

func TestDecideHoldsBelowConfidenceThreshold(t *testing.T) {
	pos := PositionView{Cash: 10000, TotalValue: 10000}
	act := Decide(pos, upSignal(0.59), testParams, 50000)
	assert.True(t, act.Hold())
}

func TestDecideDoesNotPyramid(t *testing.T) {
	pos := PositionView{Cash: 5000, Quantity: 0.1, TotalValue: 10000}
	act := Decide(pos, upSignal(0.9), testParams, 50000)
	assert.True(t, act.Hold())
}

func TestDecideBudgetCappedByCash(t *testing.T) {
	// position fraction of total value exceeds cash on hand
	params := testParams
	params.MaxPositionFraction = 1.0
	act := Decide(PositionView{Cash: 1000, TotalValue: 10000}, upSignal(0.9), params, 50000)

	assert.Equal(t, run.SideBuy, act.Side)
	assert.InDelta(t, 0.02, act.Quantity, 1e-9)
}

func TestDecideStopLossFiresRegardlessOfSignal(t *testing.T) {
	pos := PositionView{Cash: 0, Quantity: 0.1, UnrealizedReturn: -0.06, TotalValue: 4700}
	act := Decide(pos, upSignal(0.95), testParams, 47000)

	assert.Equal(t, run.SideSell, act.Side)
	assert.Equal(t, run.TriggerStopLoss, act.Trigger)
	assert.InDelta(t, 0.1, act.Quantity, 1e-12)
}

func TestDecideTakeProfitBeatsStopLossCheck(t *testing.T) {
	pos := PositionView{Cash: 0, Quantity: 0.1, UnrealizedReturn: 0.12, TotalValue: 5600}
	act := Decide(pos, predict.Signal{Direction: predict.DirectionHold}, testParams, 56000)

	assert.Equal(t, run.SideSell, act.Side)
	assert.Equal(t, run.TriggerTakeProfit, act.Trigger)
}

func TestDecideSellsFullPositionOnDownFlip(t *testing.T) {
	pos := PositionView{Cash: 100, Quantity: 0.1, UnrealizedReturn: 0.02, TotalValue: 5200}
	sig := predict.Signal{Direction: predict.DirectionDown, Confidence: 0.7}
	act := Decide(pos, sig, testParams, 51000)

	assert.Equal(t, run.SideSell, act.Side)
	assert.Equal(t, run.TriggerAISignal, act.Trigger)
	assert.InDelta(t, 0.1, act.Quantity, 1e-12)
}

func TestDecideDownSignalWhileFlatHolds(t *testing.T) {
	pos := PositionView{Cash: 10000, TotalValue: 10000}
	sig := predict.Signal{Direction: predict.DirectionDown, Confidence: 0.9}
	assert.True(t, Decide(pos, sig, testParams, 50000).Hold())
}

func TestDecideIsDeterministic(t *testing.T) {
	pos := PositionView{Cash: 10000, TotalValue: 10000}
	sig := upSignal(0.8)
	first := Decide(pos, sig, testParams, 50000)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Decide(pos, sig, testParams, 50000))
	}
}
