package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/BirdFarmer/BinanceRepo-sub002/internal/balance"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/engine"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/position"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/risk"
	"github.com/BirdFarmer/BinanceRepo-sub002/pkg/db"
)

type openPositionRequest struct {
	Symbol     string  `json:"symbol" binding:"required,min=1"`
	Side       string  `json:"side" binding:"required,oneof=LONG SHORT BUY SELL long short buy sell"`
	Price      float64 `json:"price" binding:"gte=0"`
	TakeProfit float64 `json:"take_profit" binding:"gte=0"`
	StopLoss   float64 `json:"stop_loss" binding:"gte=0"`
	Signal     string  `json:"signal"`
}

type closeAllRequest struct {
	Prices map[string]float64 `json:"prices"`
}

type exitModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

type trailingRequest struct {
	ActivationPct float64 `json:"activation_pct" binding:"gte=0"`
	CallbackPct   float64 `json:"callback_pct" binding:"gte=0"`
	ATRMultiplier float64 `json:"atr_multiplier" binding:"gte=0"`
}

type leverageRequest struct {
	Leverage int    `json:"leverage" binding:"gte=0,lte=125"`
	Interval string `json:"interval"`
}

type directionFilterRequest struct {
	Filter string `json:"filter" binding:"required"`
}

type listTradesQuery struct {
	Session string `form:"session"`
	Limit   int    `form:"limit"`
}

func (q *listTradesQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

// tradeView is the journal row as served to clients.
type tradeView struct {
	ID          int64      `json:"id"`
	PositionID  string     `json:"position_id"`
	Symbol      string     `json:"symbol"`
	Side        string     `json:"side"`
	Signal      string     `json:"signal,omitempty"`
	Interval    string     `json:"interval,omitempty"`
	EntryPrice  float64    `json:"entry_price"`
	Qty         float64    `json:"qty"`
	Leverage    int        `json:"leverage"`
	TakeProfit  float64    `json:"take_profit"`
	StopLoss    float64    `json:"stop_loss"`
	Liquidation float64    `json:"liquidation_price"`
	Trailing    bool       `json:"trailing"`
	EntryTime   time.Time  `json:"entry_time"`
	ExitPrice   *float64   `json:"exit_price,omitempty"`
	ExitTime    *time.Time `json:"exit_time,omitempty"`
	Profit      *float64   `json:"profit,omitempty"`
	CloseReason string     `json:"close_reason,omitempty"`
	Closed      bool       `json:"closed"`
}

func toTradeView(t db.Trade) tradeView {
	v := tradeView{
		ID:          t.ID,
		PositionID:  t.PositionID,
		Symbol:      t.Symbol,
		Side:        t.Side,
		Signal:      t.Signal,
		Interval:    t.Interval,
		EntryPrice:  t.EntryPrice,
		Qty:         t.Qty,
		Leverage:    t.Leverage,
		TakeProfit:  t.TakeProfit,
		StopLoss:    t.StopLoss,
		Liquidation: t.LiquidationPrice,
		Trailing:    t.Trailing,
		EntryTime:   t.EntryTime,
		CloseReason: t.CloseReason,
		Closed:      t.Closed,
	}
	if t.Closed {
		exit, profit, at := t.ExitPrice, t.Profit, t.ExitTime
		v.ExitPrice, v.Profit, v.ExitTime = &exit, &profit, &at
	}
	return v
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

func respondAbort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// entryStatus maps an entry error to an HTTP status.
func entryStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrHalted), errors.Is(err, engine.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, position.ErrDirectionFiltered),
		errors.Is(err, position.ErrCapacity),
		errors.Is(err, position.ErrDuplicateSymbol),
		errors.Is(err, balance.ErrInsufficientBalance):
		return http.StatusConflict
	case errors.Is(err, engine.ErrNoPrice),
		errors.Is(err, engine.ErrZeroQty),
		errors.Is(err, risk.ErrSkip),
		errors.Is(err, position.ErrInvalidPosition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrEntryFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"engine": s.opts.Engine.Status(),
		"meta":   s.opts.Meta,
	})
}

// getMetrics returns the JSON metrics snapshot.
func (s *Server) getMetrics(c *gin.Context) {
	if s.opts.Metrics == nil {
		respondError(c, http.StatusServiceUnavailable, "METRICS_UNAVAILABLE", "metrics not available")
		return
	}
	c.JSON(http.StatusOK, s.opts.Metrics.GetSnapshot())
}

func (s *Server) getPositions(c *gin.Context) {
	c.JSON(http.StatusOK, s.opts.Engine.OpenPositions())
}

func (s *Server) getBalance(c *gin.Context) {
	c.JSON(http.StatusOK, s.opts.Engine.Balance())
}

func (s *Server) getTrades(c *gin.Context) {
	if s.opts.Trades == nil {
		respondError(c, http.StatusServiceUnavailable, "JOURNAL_UNAVAILABLE", "trade journal not available")
		return
	}
	var q listTradesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	q.normalize()
	if q.Session == "" {
		q.Session = s.opts.Engine.Status().SessionID
	}

	trades, err := s.opts.Trades.ListTrades(c.Request.Context(), q.Session, q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	out := make([]tradeView, 0, len(trades))
	for _, t := range trades {
		out = append(out, toTradeView(t))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getTradeStats(c *gin.Context) {
	if s.opts.Trades == nil {
		respondError(c, http.StatusServiceUnavailable, "JOURNAL_UNAVAILABLE", "trade journal not available")
		return
	}
	session := c.Query("session")
	if session == "" {
		session = s.opts.Engine.Status().SessionID
	}
	stats, err := s.opts.Trades.SessionStats(c.Request.Context(), session)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session": session,
		"trades":  stats.Trades,
		"wins":    stats.Wins,
		"losses":  stats.Losses,
		"net_pnl": stats.NetPnL,
	})
}

// openPosition is the manual entry path; it runs the same pipeline as signals.
func (s *Server) openPosition(c *gin.Context) {
	var req openPositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	side, err := position.ParseSide(req.Side)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	tag := req.Signal
	if tag == "" {
		tag = "manual:" + CurrentOperator(c)
	}

	p, err := s.opts.Engine.Enter(c.Request.Context(), engine.Signal{
		Symbol:     strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Side:       side,
		Tag:        tag,
		Price:      req.Price,
		TakeProfit: req.TakeProfit,
		StopLoss:   req.StopLoss,
	})
	if err != nil {
		respondError(c, entryStatus(err), strings.ToUpper(engine.RejectCode(err)), err.Error())
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (s *Server) closeAll(c *gin.Context) {
	var req closeAllRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
	}
	closed := s.opts.Engine.CloseAll(c.Request.Context(), req.Prices, time.Now())

	var pnl float64
	for _, cl := range closed {
		pnl += cl.PnL()
	}
	c.JSON(http.StatusOK, gin.H{
		"closed":  len(closed),
		"net_pnl": pnl,
		"balance": s.opts.Engine.Balance(),
	})
}

func (s *Server) halt(c *gin.Context) {
	s.opts.Engine.Halt()
	c.JSON(http.StatusOK, gin.H{"halted": true})
}

func (s *Server) updateExitMode(c *gin.Context) {
	var req exitModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	mode, err := risk.ParseExitMode(req.Mode)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_EXIT_MODE", err.Error())
		return
	}
	s.opts.Engine.SetExitMode(mode)
	c.JSON(http.StatusOK, s.opts.Engine.Status().Risk)
}

func (s *Server) updateTrailing(c *gin.Context) {
	var req trailingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	s.opts.Engine.SetTrailingConfig(req.ActivationPct, req.CallbackPct, req.ATRMultiplier)
	c.JSON(http.StatusOK, s.opts.Engine.Status().Risk)
}

func (s *Server) updateDirectionFilter(c *gin.Context) {
	var req directionFilterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	f, err := position.ParseDirectionFilter(req.Filter)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_DIRECTION_FILTER", err.Error())
		return
	}
	s.opts.Engine.SetDirectionFilter(f)
	c.JSON(http.StatusOK, s.opts.Engine.Status())
}

func (s *Server) updateLeverage(c *gin.Context) {
	var req leverageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if err := s.opts.Engine.UpdateLeverageAndInterval(req.Leverage, req.Interval); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_LEVERAGE", err.Error())
		return
	}
	c.JSON(http.StatusOK, s.opts.Engine.Status().Risk)
}
