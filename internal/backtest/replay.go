// Package backtest replays historical candles through the same controller
// used for paper and live trading.
package backtest

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/BirdFarmer/BinanceRepo-sub002/internal/engine"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/market"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/position"
)

var ErrNoData = errors.New("backtest: no candles to replay")

// Engine is the part of the controller the replay drives.
type Engine interface {
	EvaluateTicks(ctx context.Context, prices map[string]float64, ts time.Time) []position.Closure
	CloseAll(ctx context.Context, prices map[string]float64, ts time.Time) []position.Closure
	Balance() engine.BalanceInfo
}

// Clock is a manually advanced time source.
type Clock struct {
	mu sync.RWMutex
	t  time.Time
}

func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.t
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// Summary is the outcome of a replay.
type Summary struct {
	Candles      int                          `json:"candles"`
	Trades       int                          `json:"trades"`
	Wins         int                          `json:"wins"`
	Losses       int                          `json:"losses"`
	NetPnL       float64                      `json:"net_pnl"`
	MaxDrawdown  float64                      `json:"max_drawdown"`
	FinalBalance float64                      `json:"final_balance"`
	ByReason     map[position.CloseReason]int `json:"by_reason"`
	BySymbol     map[string]float64           `json:"pnl_by_symbol"`
	Start        time.Time                    `json:"start"`
	End          time.Time                    `json:"end"`
}

// WinRate is the share of winning trades in percent.
func (s Summary) WinRate() float64 {
	if s.Trades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Trades) * 100
}

// Replay walks candles in close-time order. For every candle the open
// positions are evaluated against a simulated intrabar path, then the candle
// is stored and handed to OnCandle, which may open new positions at its close.
type Replay struct {
	Engine   Engine
	Store    *market.Store
	Interval string
	Clock    *Clock
	OnCandle func(ctx context.Context, c market.Candle)

	summary Summary
	equity  float64
	peak    float64
}

// Run replays series (symbol -> candles) and closes what is still open at the
// last close price.
func (r *Replay) Run(ctx context.Context, series map[string][]market.Candle) (Summary, error) {
	candles := merge(series)
	if len(candles) == 0 {
		return Summary{}, ErrNoData
	}

	r.summary = Summary{
		ByReason: make(map[position.CloseReason]int),
		BySymbol: make(map[string]float64),
		Start:    candles[0].OpenTime,
		End:      candles[len(candles)-1].CloseTime,
	}
	r.equity = r.Engine.Balance().Total
	r.peak = r.equity

	last := make(map[string]float64)
	for i, c := range candles {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return r.summary, err
			}
		}
		if r.Clock != nil {
			r.Clock.Set(c.CloseTime)
		}
		for _, price := range intrabarPath(c) {
			r.record(r.Engine.EvaluateTicks(ctx, map[string]float64{c.Symbol: price}, c.CloseTime))
		}
		last[c.Symbol] = c.Close
		r.summary.Candles++

		if r.Store != nil {
			r.Store.Put(r.Interval, c)
		}
		if r.OnCandle != nil {
			r.OnCandle(ctx, c)
		}
	}

	r.record(r.Engine.CloseAll(ctx, last, r.summary.End))
	r.summary.FinalBalance = r.Engine.Balance().Total

	s := r.summary
	log.Printf("backtest: %d candles, %d trades (%d wins / %d losses, %.1f%%), net pnl %.4f, max drawdown %.4f, final balance %.4f",
		s.Candles, s.Trades, s.Wins, s.Losses, s.WinRate(), s.NetPnL, s.MaxDrawdown, s.FinalBalance)
	return s, nil
}

func (r *Replay) record(closed []position.Closure) {
	for _, cl := range closed {
		pnl := cl.PnL()
		r.summary.Trades++
		if pnl > 0 {
			r.summary.Wins++
		} else {
			r.summary.Losses++
		}
		r.summary.NetPnL += pnl
		r.summary.ByReason[cl.Reason]++
		r.summary.BySymbol[cl.Position.Symbol] += pnl

		r.equity += pnl
		if r.equity > r.peak {
			r.peak = r.equity
		}
		if dd := r.peak - r.equity; dd > r.summary.MaxDrawdown {
			r.summary.MaxDrawdown = dd
		}
	}
}

// intrabarPath orders the candle extremes the way price most likely moved:
// an up candle visits its low before its high, a down candle the reverse.
func intrabarPath(c market.Candle) []float64 {
	if c.Close >= c.Open {
		return []float64{c.Open, c.Low, c.High, c.Close}
	}
	return []float64{c.Open, c.High, c.Low, c.Close}
}

// merge flattens per-symbol series into one slice ordered by close time,
// then by symbol so runs are reproducible.
func merge(series map[string][]market.Candle) []market.Candle {
	var out []market.Candle
	for symbol, cs := range series {
		for _, c := range cs {
			if !c.Closed {
				continue
			}
			if c.Symbol == "" {
				c.Symbol = symbol
			}
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CloseTime.Equal(out[j].CloseTime) {
			return out[i].CloseTime.Before(out[j].CloseTime)
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}
