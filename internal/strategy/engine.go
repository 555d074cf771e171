package strategy

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BirdFarmer/BinanceRepo-sub002/internal/market"
)

// Params are the tunables shared by the built-in strategies.
type Params struct {
	FastEMA    int
	SlowEMA    int
	RSIPeriod  int
	Oversold   float64
	Overbought float64
}

// New builds a strategy by name.
func New(name string, p Params) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "ema_cross":
		return NewEMACross(p.FastEMA, p.SlowEMA, p.RSIPeriod, p.Oversold, p.Overbought), nil
	case "rsi", "rsi_reversion":
		return NewRSIReversion(p.RSIPeriod, p.Oversold, p.Overbought), nil
	}
	return nil, fmt.Errorf("unknown strategy %q", name)
}

// Handler receives emitted signals.
type Handler func(ctx context.Context, sig Signal)

// Runner evaluates a strategy on every closed candle and forwards signals.
type Runner struct {
	strategy Strategy
	source   market.CandleSource
	interval string
	handler  Handler

	paused atomic.Bool
	mu     sync.Mutex
	last   map[string]time.Time // symbol -> candle already evaluated
}

func NewRunner(s Strategy, source market.CandleSource, interval string, h Handler) *Runner {
	return &Runner{
		strategy: s,
		source:   source,
		interval: interval,
		handler:  h,
		last:     make(map[string]time.Time),
	}
}

func (r *Runner) Pause()  { r.paused.Store(true) }
func (r *Runner) Resume() { r.paused.Store(false) }

func (r *Runner) Strategy() Strategy { return r.strategy }

// OnCandle evaluates the strategy once per closed candle of a symbol.
func (r *Runner) OnCandle(ctx context.Context, c market.Candle) {
	if r.paused.Load() || !c.Closed {
		return
	}

	r.mu.Lock()
	if seen, ok := r.last[c.Symbol]; ok && !c.OpenTime.After(seen) {
		r.mu.Unlock()
		return
	}
	r.last[c.Symbol] = c.OpenTime
	r.mu.Unlock()

	candles, err := r.source.Candles(ctx, c.Symbol, r.interval, r.strategy.Lookback())
	if err != nil {
		log.Printf("strategy: candles %s: %v", c.Symbol, err)
		return
	}
	sig := r.strategy.Evaluate(c.Symbol, candles)
	if sig == nil {
		return
	}
	log.Printf("strategy: %s %s %s @ %.6f (%s)", r.strategy.Name(), sig.Symbol, sig.Side, sig.Price, sig.Note)
	if r.handler != nil {
		r.handler(ctx, *sig)
	}
}
