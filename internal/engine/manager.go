package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/omarbizkit/ai-trading-system-sub002/internal/apperr"
	"github.com/omarbizkit/ai-trading-system-sub002/internal/logger"
	"github.com/omarbizkit/ai-trading-system-sub002/internal/market"
	"github.com/omarbizkit/ai-trading-system-sub002/internal/run"
)

// CreateRequest carries everything needed to open a run.
type CreateRequest struct {
	Owner           *string        `json:"owner"`
	Mode            string         `json:"mode"`
	Symbol          string         `json:"symbol"`
	StartingCapital float64        `json:"starting_capital"`
	Params          run.RiskParams `json:"parameters"`
	WindowStart     *time.Time     `json:"time_period_start"`
	WindowEnd       *time.Time     `json:"time_period_end"`
}

// Manager owns the run lifecycle: validate and create, hand backtests to
// the simulator, start/stop live loops, finalize exactly once.
type Manager struct {
	store *run.Store
	sim   *Simulator

	modelVersion string
	now          func() time.Time
}

func NewManager(store *run.Store, sim *Simulator, modelVersion string) *Manager {
	return &Manager{
		store:        store,
		sim:          sim,
		modelVersion: modelVersion,
		now:          time.Now,
	}
}

// Create validates the request and persists a new open run. A simulation
// run starts ticking immediately; a backtest run is created open and
// executed by RunBacktest.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*run.TradingRun, error) {
	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	if mode != run.ModeSimulation && mode != run.ModeBacktest {
		return nil, apperr.Validationf("mode must be %q or %q, got %q",
			run.ModeSimulation, run.ModeBacktest, req.Mode)
	}
	symbol, err := market.NormalizeAsset(req.Symbol)
	if err != nil {
		return nil, err
	}
	if req.StartingCapital <= 0 {
		return nil, apperr.Validationf("starting_capital must be > 0, got %v", req.StartingCapital)
	}
	if err := req.Params.Validate(); err != nil {
		return nil, err
	}
	now := m.now().UTC()
	if err := m.validateWindow(mode, req.WindowStart, req.WindowEnd, now); err != nil {
		return nil, err
	}
	// Reject over-capacity simulations before persisting anything.
	if mode == run.ModeSimulation && m.sim.LiveCount() >= m.sim.cfg.MaxConcurrentRuns {
		return nil, apperr.New(apperr.KindRateLimited,
			"max concurrent simulation runs reached (%d)", m.sim.cfg.MaxConcurrentRuns)
	}

	r := &run.TradingRun{
		ID:              uuid.NewString(),
		Owner:           req.Owner,
		Mode:            mode,
		Symbol:          symbol,
		StartingCapital: req.StartingCapital,
		ModelVersion:    m.modelVersion,
		Params:          req.Params,
		SessionStart:    now,
		WindowStart:     req.WindowStart,
		WindowEnd:       req.WindowEnd,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := m.store.InsertRun(ctx, r); err != nil {
		return nil, err
	}
	logger.Infof("[run] created %s run %s for %s (capital %.2f)", mode, r.ID, symbol, r.StartingCapital)

	if mode == run.ModeSimulation {
		if err := m.sim.StartLive(context.WithoutCancel(ctx), r); err != nil {
			// No partial runs: a simulation that never got a tick loop
			// must not linger as an open record.
			if delErr := m.store.DeleteRun(ctx, r.ID); delErr != nil {
				logger.Errorf("[run] rollback of %s failed: %v", r.ID, delErr)
			}
			return nil, err
		}
	}
	return r, nil
}

func (m *Manager) validateWindow(mode string, start, end *time.Time, now time.Time) error {
	if mode == run.ModeSimulation {
		if start != nil || end != nil {
			return apperr.Validationf("simulation runs do not take a time window")
		}
		return nil
	}
	if start == nil || end == nil {
		return apperr.Validationf("backtest runs require time_period_start and time_period_end")
	}
	if !start.Before(*end) {
		return apperr.Validationf("time_period_start must be before time_period_end")
	}
	if end.After(now) {
		return apperr.Validationf("backtest window must lie in the past")
	}
	iv, err := market.ParseInterval(m.sim.cfg.BarInterval)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, err, "bad engine interval")
	}
	bars := iv.ExpectedBars(iv.AlignRange(start.UnixMilli(), end.UnixMilli()))
	if bars > int64(m.sim.cfg.MaxBacktestBars) {
		return apperr.Validationf("window spans %d %s bars, max is %d",
			bars, iv.Key, m.sim.cfg.MaxBacktestBars)
	}
	return nil
}

// RunBacktest executes an open backtest run to completion and returns the
// finalized record.
func (m *Manager) RunBacktest(ctx context.Context, id string) (*run.TradingRun, error) {
	r, err := m.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Mode != run.ModeBacktest {
		return nil, apperr.Validationf("run %s is not a backtest", id)
	}
	if r.Completed() {
		return nil, apperr.New(apperr.KindAlreadyCompleted, "run %s is already completed", id)
	}
	return m.sim.Backtest(ctx, r)
}

// CreateAndBacktest is the one-shot path: create the run and execute it
// synchronously.
func (m *Manager) CreateAndBacktest(ctx context.Context, req CreateRequest) (*run.TradingRun, error) {
	req.Mode = run.ModeBacktest
	r, err := m.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	done, err := m.sim.Backtest(ctx, r)
	if err != nil {
		return nil, err
	}
	return done, nil
}

// Finalize closes an open run at end. Completed runs reject a second
// finalize; their stored summary is immutable. reportedCapital is the
// client's view of the final capital: it must not be negative, and the
// server-derived value (portfolio after the last persisted trade) is
// what gets stored.
func (m *Manager) Finalize(ctx context.Context, id string, end time.Time, reportedCapital *float64) (*run.TradingRun, error) {
	if reportedCapital != nil && *reportedCapital < 0 {
		return nil, apperr.Validationf("final_capital must be >= 0, got %v", *reportedCapital)
	}
	r, err := m.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Completed() {
		return nil, apperr.New(apperr.KindAlreadyCompleted, "run %s is already completed", id)
	}
	end = end.UTC()
	if !end.After(r.SessionStart) {
		return nil, apperr.Validationf("session_end must be after session_start")
	}

	if r.Mode == run.ModeSimulation {
		m.sim.StopLive(id)
	}

	trades, err := m.store.AllTrades(ctx, id)
	if err != nil {
		return nil, err
	}
	// Final capital is the portfolio value after the last executed trade;
	// a run with no trades ends where it started.
	final := r.StartingCapital
	if n := len(trades); n > 0 {
		final = trades[n-1].PortfolioAfter
	}
	if reportedCapital != nil && *reportedCapital != final {
		logger.Warnf("[run] %s: client reported final capital %.2f, server derived %.2f",
			id, *reportedCapital, final)
	}
	sum := ComputeSummary(r.StartingCapital, final, end, trades)
	if err := m.store.FinalizeRun(ctx, id, sum); err != nil {
		return nil, err
	}
	logger.Infof("[run] finalized %s: final capital %.2f over %d trades", id, final, len(trades))
	return m.store.GetRun(ctx, id)
}

func (m *Manager) Get(ctx context.Context, id string) (*run.TradingRun, error) {
	return m.store.GetRun(ctx, id)
}

func (m *Manager) List(ctx context.Context, limit int) ([]*run.TradingRun, error) {
	return m.store.ListRuns(ctx, limit)
}

func (m *Manager) Trades(ctx context.Context, id string, limit, offset int) ([]run.Trade, int64, error) {
	return m.store.ListTrades(ctx, id, limit, offset)
}

// SubscribeTrades streams a run's executed trades as they happen.
func (m *Manager) SubscribeTrades(id string) chan run.Trade {
	return m.sim.SubscribeTrades(id)
}

func (m *Manager) UnsubscribeTrades(id string, ch chan run.Trade) {
	m.sim.UnsubscribeTrades(id, ch)
}
