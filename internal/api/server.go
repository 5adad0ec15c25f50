// Package api exposes the run, market and prediction operations over
// HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/omarbizkit/ai-trading-system-sub002/internal/apperr"
	"github.com/omarbizkit/ai-trading-system-sub002/internal/engine"
	"github.com/omarbizkit/ai-trading-system-sub002/internal/logger"
	"github.com/omarbizkit/ai-trading-system-sub002/internal/market"
	"github.com/omarbizkit/ai-trading-system-sub002/internal/predict"
)

// Server wires the gin router over the domain services.
type Server struct {
	addr    string
	runs    *engine.Manager
	market  *market.Service
	signals *predict.Provider
	router  *gin.Engine
}

type Config struct {
	Addr    string
	Runs    *engine.Manager
	Market  *market.Service
	Signals *predict.Provider
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Runs == nil || cfg.Market == nil || cfg.Signals == nil {
		return nil, errors.New("api server dependencies cannot be nil")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:    cfg.Addr,
		runs:    cfg.Runs,
		market:  cfg.Market,
		signals: cfg.Signals,
		router:  router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/api/health", s.handleHealth)

	api := s.router.Group("/api")
	api.POST("/runs", s.handleCreateRun)
	api.GET("/runs", s.handleListRuns)
	api.GET("/runs/:id", s.handleGetRun)
	api.PATCH("/runs/:id", s.handleFinalizeRun)
	api.GET("/runs/:id/trades", s.handleListTrades)
	api.GET("/runs/:id/events", s.handleRunEvents)
	api.POST("/backtest", s.handleBacktest)
	api.GET("/predictions/:asset", s.handlePrediction)
	api.GET("/market/:asset", s.handleQuote)
	api.GET("/market/:asset/history", s.handleHistory)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("[api] listening on %s", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// fail renders an error with the status its kind maps to.
func fail(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := kind.HTTPStatus()
	if status >= http.StatusInternalServerError {
		logger.Errorf("[api] %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": kind.String()})
}
