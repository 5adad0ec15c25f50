// Package app assembles the services from configuration and runs them.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/omarbizkit/ai-trading-system-sub002/internal/api"
	"github.com/omarbizkit/ai-trading-system-sub002/internal/config"
	"github.com/omarbizkit/ai-trading-system-sub002/internal/engine"
	"github.com/omarbizkit/ai-trading-system-sub002/internal/logger"
	"github.com/omarbizkit/ai-trading-system-sub002/internal/market"
	"github.com/omarbizkit/ai-trading-system-sub002/internal/predict"
	"github.com/omarbizkit/ai-trading-system-sub002/internal/run"
)

// App holds the wired components for one process.
type App struct {
	cfg       *config.Config
	server    *api.Server
	simulator *engine.Simulator
	runStore  *run.Store
	candles   *market.Store
	signalLog *predict.SignalStore
}

// New builds every component from the config. Stores open eagerly so a
// bad data directory fails at startup, not on the first request.
func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	candleStore, err := market.NewStore(cfg.App.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening candle store failed: %w", err)
	}
	source := market.NewBinanceSource(cfg.Market.BaseURL)
	marketSvc, err := market.NewService(market.ServiceConfig{
		Source:          source,
		Store:           candleStore,
		RateLimitPerMin: cfg.Market.RateLimitPerMin,
		QuoteTTL:        time.Duration(cfg.Market.CacheTTLSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}

	model := predict.NewTrendModel(cfg.Predict.ModelVersion)
	signalLogPath := cfg.Predict.SignalLogPath
	if signalLogPath == "" {
		signalLogPath = filepath.Join(cfg.App.DataDir, "signals.db")
	}
	signalLog, err := predict.NewSignalStore(signalLogPath)
	if err != nil {
		return nil, fmt.Errorf("opening signal log failed: %w", err)
	}
	provider, err := predict.NewProvider(predict.ProviderConfig{
		Model:        model,
		Candles:      marketSvc,
		Store:        signalLog,
		CacheTTL:     time.Duration(cfg.Predict.CacheTTLMin) * time.Minute,
		LookbackBars: cfg.Predict.LookbackBars,
	})
	if err != nil {
		return nil, err
	}

	runStore, err := run.NewStore(cfg.App.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening run store failed: %w", err)
	}
	sim, err := engine.NewSimulator(runStore, marketSvc, provider, model, engine.Config{
		MaxConcurrentRuns: cfg.Engine.MaxConcurrentRuns,
		BarInterval:       cfg.Engine.BarInterval,
		MaxBacktestBars:   cfg.Engine.MaxBacktestBars,
		TickInterval:      time.Duration(cfg.Engine.TickSeconds) * time.Second,
		FeeRate:           cfg.Engine.FeeRate,
		HorizonMinutes:    cfg.Predict.DefaultHorizon,
	})
	if err != nil {
		return nil, err
	}
	manager := engine.NewManager(runStore, sim, model.Version())

	server, err := api.NewServer(api.Config{
		Addr:    cfg.Server.Addr,
		Runs:    manager,
		Market:  marketSvc,
		Signals: provider,
	})
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:       cfg,
		server:    server,
		simulator: sim,
		runStore:  runStore,
		candles:   candleStore,
		signalLog: signalLog,
	}, nil
}

// Run serves until ctx is cancelled, then drains live simulations and
// closes the stores.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server.Start(gctx)
	})
	err := g.Wait()

	a.simulator.Wait()
	if cerr := a.runStore.Close(); cerr != nil {
		logger.Warnf("[app] closing run store: %v", cerr)
	}
	if cerr := a.candles.Close(); cerr != nil {
		logger.Warnf("[app] closing candle store: %v", cerr)
	}
	if cerr := a.signalLog.Close(); cerr != nil {
		logger.Warnf("[app] closing signal log: %v", cerr)
	}
	return err
}
