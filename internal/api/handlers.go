package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/omarbizkit/ai-trading-system-sub002/internal/apperr"
	"github.com/omarbizkit/ai-trading-system-sub002/internal/engine"
	"github.com/omarbizkit/ai-trading-system-sub002/internal/run"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

type createRunRequest struct {
	Owner           *string        `json:"owner"`
	Mode            string         `json:"mode" binding:"required"`
	Symbol          string         `json:"symbol" binding:"required"`
	StartingCapital float64        `json:"starting_capital" binding:"required"`
	Params          run.RiskParams `json:"parameters"`
	WindowStart     *time.Time     `json:"time_period_start"`
	WindowEnd       *time.Time     `json:"time_period_end"`
}

func (r createRunRequest) toCreate() engine.CreateRequest {
	return engine.CreateRequest{
		Owner:           r.Owner,
		Mode:            r.Mode,
		Symbol:          r.Symbol,
		StartingCapital: r.StartingCapital,
		Params:          r.Params,
		WindowStart:     r.WindowStart,
		WindowEnd:       r.WindowEnd,
	}
}

func (s *Server) handleCreateRun(c *gin.Context) {
	var req createRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperr.Validationf("invalid request body: %v", err))
		return
	}
	r, err := s.runs.Create(c.Request.Context(), req.toCreate())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"run": r})
}

func (s *Server) handleListRuns(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		fail(c, apperr.Validationf("limit must be an integer"))
		return
	}
	list, err := s.runs.List(c.Request.Context(), limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": list})
}

func (s *Server) handleGetRun(c *gin.Context) {
	r, err := s.runs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": r})
}

func (s *Server) handleFinalizeRun(c *gin.Context) {
	var req struct {
		SessionEnd   *time.Time `json:"session_end"`
		FinalCapital *float64   `json:"final_capital"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperr.Validationf("invalid request body: %v", err))
		return
	}
	end := time.Now().UTC()
	if req.SessionEnd != nil {
		end = *req.SessionEnd
	}
	r, err := s.runs.Finalize(c.Request.Context(), c.Param("id"), end, req.FinalCapital)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": r})
}

func (s *Server) handleListTrades(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		fail(c, apperr.Validationf("limit must be an integer"))
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil {
		fail(c, apperr.Validationf("offset must be an integer"))
		return
	}
	trades, total, err := s.runs.Trades(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		fail(c, err)
		return
	}
	if trades == nil {
		trades = []run.Trade{}
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "total": total, "limit": limit, "offset": offset})
}

// handleRunEvents streams executed trades over SSE until the run stops
// producing or the client disconnects.
func (s *Server) handleRunEvents(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.runs.Get(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	ch := s.runs.SubscribeTrades(id)
	defer s.runs.UnsubscribeTrades(id, ch)

	c.Stream(func(w io.Writer) bool {
		select {
		case t, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("trade", t)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

type backtestRequest struct {
	Owner           *string        `json:"owner"`
	Symbol          string         `json:"symbol" binding:"required"`
	StartingCapital float64        `json:"starting_capital" binding:"required"`
	Params          run.RiskParams `json:"parameters"`
	WindowStart     time.Time      `json:"time_period_start" binding:"required"`
	WindowEnd       time.Time      `json:"time_period_end" binding:"required"`
}

// handleBacktest runs a backtest synchronously and returns the completed
// run with its summary.
func (s *Server) handleBacktest(c *gin.Context) {
	var req backtestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperr.Validationf("invalid request body: %v", err))
		return
	}
	r, err := s.runs.CreateAndBacktest(c.Request.Context(), engine.CreateRequest{
		Owner:           req.Owner,
		Mode:            run.ModeBacktest,
		Symbol:          req.Symbol,
		StartingCapital: req.StartingCapital,
		Params:          req.Params,
		WindowStart:     &req.WindowStart,
		WindowEnd:       &req.WindowEnd,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": r})
}

func (s *Server) handlePrediction(c *gin.Context) {
	horizon, err := strconv.Atoi(c.DefaultQuery("horizon", "60"))
	if err != nil {
		fail(c, apperr.Validationf("horizon must be an integer (minutes)"))
		return
	}
	sig, err := s.signals.Signal(c.Request.Context(), c.Param("asset"), horizon)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"signal": sig})
}

func (s *Server) handleQuote(c *gin.Context) {
	q, err := s.market.Quote(c.Request.Context(), c.Param("asset"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quote": q})
}

func (s *Server) handleHistory(c *gin.Context) {
	from, err := strconv.ParseInt(c.Query("from"), 10, 64)
	if err != nil {
		fail(c, apperr.Validationf("from must be unix milliseconds"))
		return
	}
	to, err := strconv.ParseInt(c.Query("to"), 10, 64)
	if err != nil {
		fail(c, apperr.Validationf("to must be unix milliseconds"))
		return
	}
	interval := c.DefaultQuery("interval", "1h")
	candles, err := s.market.History(c.Request.Context(), c.Param("asset"), interval, from, to)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"candles": candles, "interval": interval})
}
