package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omarbizkit/ai-trading-system-sub002/internal/apperr"
	"github.com/omarbizkit/ai-trading-system-sub002/internal/logger"
	"github.com/omarbizkit/ai-trading-system-sub002/internal/market"
	"github.com/omarbizkit/ai-trading-system-sub002/internal/predict"
	"github.com/omarbizkit/ai-trading-system-sub002/internal/run"
)

// MarketData is the slice of the market service the engine needs.
type MarketData interface {
	Quote(ctx context.Context, asset string) (market.Quote, error)
	History(ctx context.Context, asset, interval string, start, end int64) ([]market.Candle, error)
}

// SignalSource serves live signals (cached provider in production).
type SignalSource interface {
	Signal(ctx context.Context, asset string, horizonMinutes int) (predict.Signal, error)
}

// Config tunes the simulator.
type Config struct {
	MaxConcurrentRuns int
	BarInterval       string
	MaxBacktestBars   int
	TickInterval      time.Duration
	FeeRate           float64
	HorizonMinutes    int
}

// Simulator executes runs: backtests synchronously over historical bars,
// live simulations on a ticker goroutine per run. Each run's ledger is
// touched by exactly one goroutine, so runs never contend with each
// other.
type Simulator struct {
	store   *run.Store
	market  MarketData
	signals SignalSource
	model   predict.Model
	cfg     Config

	sem    chan struct{}
	events *eventHub

	mu   sync.Mutex
	live map[string]context.CancelFunc
	wg   sync.WaitGroup
}

func NewSimulator(store *run.Store, md MarketData, signals SignalSource, model predict.Model, cfg Config) (*Simulator, error) {
	if store == nil || md == nil || model == nil {
		return nil, fmt.Errorf("simulator dependencies cannot be nil")
	}
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = 4
	}
	if cfg.BarInterval == "" {
		cfg.BarInterval = "1h"
	}
	if cfg.MaxBacktestBars <= 0 {
		cfg.MaxBacktestBars = 20000
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 30 * time.Second
	}
	if cfg.FeeRate < 0 {
		cfg.FeeRate = 0
	}
	if cfg.HorizonMinutes <= 0 {
		cfg.HorizonMinutes = 60
	}
	return &Simulator{
		store:   store,
		market:  md,
		signals: signals,
		model:   model,
		cfg:     cfg,
		sem:     make(chan struct{}, cfg.MaxConcurrentRuns),
		events:  newEventHub(),
		live:    make(map[string]context.CancelFunc),
	}, nil
}

// Backtest replays the run's window bar by bar and finalizes the run.
// The model sees only bars at or before the one being decided, so a
// backtest over the same window always produces the same trades.
func (s *Simulator) Backtest(ctx context.Context, r *run.TradingRun) (*run.TradingRun, error) {
	if r.WindowStart == nil || r.WindowEnd == nil {
		return nil, apperr.Validationf("backtest run %s has no time window", r.ID)
	}
	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	iv, err := market.ParseInterval(s.cfg.BarInterval)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "bad engine interval")
	}
	startMs, endMs := iv.AlignRange(r.WindowStart.UnixMilli(), r.WindowEnd.UnixMilli())
	warmupMs := startMs - int64(predict.MinModelBars+2)*iv.Millis()

	candles, err := s.market.History(ctx, r.Symbol, iv.Key, warmupMs, endMs)
	if err != nil {
		return nil, err
	}

	ledger := NewLedger(r.StartingCapital)
	var trades []run.Trade
	skipped := 0
	for i, bar := range candles {
		if bar.OpenTime < startMs {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		window := candles[:i+1]
		if len(window) < predict.MinModelBars {
			continue
		}
		sig, _, err := s.model.Predict(ctx, r.Symbol, window, s.cfg.HorizonMinutes)
		if err != nil {
			skipped++
			logger.Warnf("[engine] run %s: prediction failed at bar %d, skipping tick: %v", r.ID, i, err)
			continue
		}
		price := bar.Close
		at := time.UnixMilli(bar.CloseTime).UTC()
		trade, err := s.step(ctx, r, ledger, sig, price, at)
		if err != nil {
			return nil, err
		}
		if trade != nil {
			trades = append(trades, *trade)
		}
	}

	// Open positions do not survive a completed run; close out at the
	// last observed price.
	if ledger.HasPosition() && len(candles) > 0 {
		last := candles[len(candles)-1]
		at := time.UnixMilli(last.CloseTime).UTC()
		trade, err := s.execute(ctx, r, ledger,
			Action{Side: run.SideSell, Quantity: ledger.Quantity(), Trigger: run.TriggerManual},
			last.Close, 0, at)
		if err != nil {
			return nil, err
		}
		trades = append(trades, *trade)
	}

	if skipped > 0 {
		logger.Infof("[engine] run %s: %d ticks skipped on prediction errors", r.ID, skipped)
	}
	// session_end is when the run finished, not the historical window
	// bound; the window lives in its own fields.
	sum := ComputeSummary(r.StartingCapital, ledger.Cash(), time.Now().UTC(), trades)
	if err := s.store.FinalizeRun(ctx, r.ID, sum); err != nil {
		return nil, err
	}
	return s.store.GetRun(ctx, r.ID)
}

// StartLive launches the tick loop for a simulation run. The loop stops
// when StopLive is called or the parent context ends; it never finalizes
// the run by itself.
func (s *Simulator) StartLive(ctx context.Context, r *run.TradingRun) error {
	if s.signals == nil {
		return apperr.New(apperr.KindInternal, "live simulation requires a signal source")
	}
	s.mu.Lock()
	if _, exists := s.live[r.ID]; exists {
		s.mu.Unlock()
		return apperr.Validationf("run %s is already ticking", r.ID)
	}
	if len(s.live) >= s.cfg.MaxConcurrentRuns {
		s.mu.Unlock()
		return apperr.New(apperr.KindRateLimited,
			"max concurrent simulation runs reached (%d)", s.cfg.MaxConcurrentRuns)
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.live[r.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.StopLive(r.ID)
		s.liveLoop(runCtx, r)
	}()
	return nil
}

// StopLive cancels a run's tick loop. Safe to call for unknown ids.
func (s *Simulator) StopLive(id string) {
	s.mu.Lock()
	cancel, ok := s.live[id]
	if ok {
		delete(s.live, id)
	}
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// LiveCount reports how many simulation loops are ticking.
func (s *Simulator) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Wait blocks until all live loops have exited.
func (s *Simulator) Wait() { s.wg.Wait() }

func (s *Simulator) liveLoop(ctx context.Context, r *run.TradingRun) {
	ledger := NewLedger(r.StartingCapital)
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	logger.Infof("[engine] run %s: live simulation started (%s ticks)", r.ID, s.cfg.TickInterval)
	for {
		select {
		case <-ctx.Done():
			logger.Infof("[engine] run %s: live simulation stopped", r.ID)
			return
		case <-ticker.C:
		}
		if err := s.liveTick(ctx, r, ledger); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warnf("[engine] run %s: tick skipped: %v", r.ID, err)
		}
	}
}

func (s *Simulator) liveTick(ctx context.Context, r *run.TradingRun, ledger *Ledger) error {
	q, err := s.market.Quote(ctx, r.Symbol)
	if err != nil {
		return err
	}
	sig, err := s.signals.Signal(ctx, r.Symbol, s.cfg.HorizonMinutes)
	if err != nil {
		return err
	}
	_, err = s.step(ctx, r, ledger, sig, q.Price, time.Now().UTC())
	return err
}

// step runs the policy for one tick and executes at most one trade. A
// ledger rejection downgrades the action to a hold instead of failing
// the run.
func (s *Simulator) step(ctx context.Context, r *run.TradingRun, ledger *Ledger, sig predict.Signal, price float64, at time.Time) (*run.Trade, error) {
	pos := PositionView{
		Cash:             ledger.Cash(),
		Quantity:         ledger.Quantity(),
		UnrealizedReturn: ledger.UnrealizedReturn(price),
		TotalValue:       ledger.TotalValue(price),
	}
	act := Decide(pos, sig, r.Params, price)
	if act.Hold() {
		return nil, nil
	}
	trade, err := s.execute(ctx, r, ledger, act, price, sig.Confidence, at)
	if err == ErrInsufficientFunds || err == ErrInsufficientPosition {
		logger.Warnf("[engine] run %s: %s rejected by ledger (%v), holding", r.ID, act.Side, err)
		return nil, nil
	}
	return trade, err
}

// execute applies the action to the ledger and persists the trade.
func (s *Simulator) execute(ctx context.Context, r *run.TradingRun, ledger *Ledger, act Action, price float64, confidence float64, at time.Time) (*run.Trade, error) {
	before := ledger.TotalValue(price)
	qty := act.Quantity
	gross := qty * price
	fee := gross * s.cfg.FeeRate

	t := run.Trade{
		ID:          uuid.NewString(),
		RunID:       r.ID,
		Side:        act.Side,
		Symbol:      r.Symbol,
		Price:       price,
		Trigger:     act.Trigger,
		Confidence:  confidence,
		MarketPrice: price,
		ExecutedAt:  at,
	}

	switch act.Side {
	case run.SideBuy:
		// Shrink a full-budget buy so quantity*price+fee still fits in
		// cash at the configured fee rate. The shave keeps the float
		// result strictly inside the ledger's decimal cash balance.
		if cost := gross + fee; cost > ledger.Cash() {
			qty = ledger.Cash() / (price * (1 + s.cfg.FeeRate)) * (1 - 1e-9)
			gross = qty * price
			fee = gross * s.cfg.FeeRate
		}
		if err := ledger.ApplyBuy(qty, price, fee); err != nil {
			return nil, err
		}
		t.NetValue = gross - fee
	case run.SideSell:
		pl, err := ledger.ApplySell(qty, price, fee)
		if err != nil {
			return nil, err
		}
		t.ProfitLoss = &pl
		t.NetValue = gross - fee
	default:
		return nil, fmt.Errorf("unknown trade side %q", act.Side)
	}

	t.Quantity = qty
	t.GrossValue = gross
	t.Fee = fee
	t.PortfolioBefore = before
	t.PortfolioAfter = ledger.TotalValue(price)

	if err := s.store.InsertTrade(ctx, &t); err != nil {
		return nil, err
	}
	s.events.publish(t)
	logger.Debugf("[engine] run %s: %s %.8f %s @ %.2f (%s), portfolio %.2f -> %.2f",
		r.ID, t.Side, t.Quantity, t.Symbol, t.Price, t.Trigger, t.PortfolioBefore, t.PortfolioAfter)
	return &t, nil
}
