package risk

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"

	"github.com/BirdFarmer/BinanceRepo-sub002/internal/position"
)

// minActivationPct floors the volatility-derived trailing activation.
const minActivationPct = 0.05

// Engine derives take-profit, stop-loss and trailing parameters for entries.
// Settings are process wide and may be changed while the engine is in use.
type Engine struct {
	mu       sync.RWMutex
	settings Settings
	ind      IndicatorSource
}

func NewEngine(ind IndicatorSource, s Settings) *Engine {
	return &Engine{ind: ind, settings: s}
}

// Settings returns a copy of the current settings.
func (e *Engine) Settings() Settings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.settings
}

func (e *Engine) SetExitMode(m ExitMode) {
	e.mu.Lock()
	e.settings.ExitMode = m
	e.mu.Unlock()
	log.Printf("risk: exit mode set to %s", m)
}

// SetTrailing updates the trailing parameters. Negative values are ignored.
func (e *Engine) SetTrailing(activationPct, callbackPct, atrMultiplier float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if activationPct >= 0 {
		e.settings.TrailingActivationPct = activationPct
	}
	if callbackPct >= 0 {
		e.settings.TrailingCallbackPct = callbackPct
	}
	if atrMultiplier > 0 {
		e.settings.TrailingATRMultiplier = atrMultiplier
	}
}

// SetLeverage changes leverage and the indicator interval for future entries.
func (e *Engine) SetLeverage(leverage int, interval string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if leverage > 0 {
		e.settings.Leverage = leverage
	}
	if interval != "" {
		e.settings.Interval = interval
	}
}

// rule is one row of the derivation table. The first row whose match returns
// true produces the levels.
type rule struct {
	name  string
	match func(Input, Settings) bool
	apply func(context.Context, *Engine, Input, Settings) (Levels, error)
}

var rules = []rule{
	{name: "explicit_sl", match: hasExplicitSL, apply: explicitStop},
	{name: "explicit_tp", match: hasExplicitTP, apply: explicitTarget},
	{name: "pnl_percent", match: pnlPercentActive, apply: pnlPercent},
	{name: "atr", match: always, apply: atrDefault},
}

func hasExplicitSL(in Input, _ Settings) bool { return in.ExplicitSL > 0 }
func hasExplicitTP(in Input, _ Settings) bool { return in.ExplicitTP > 0 }
func always(Input, Settings) bool             { return true }

// pnlPercentActive matches only in pnl_percent mode; a target configured for
// another mode is ignored.
func pnlPercentActive(_ Input, s Settings) bool {
	return s.ExitMode == ExitPnLPercent && s.PnLTargetPct > 0
}

func explicitStop(_ context.Context, _ *Engine, in Input, s Settings) (Levels, error) {
	sign := in.Side.Sign()
	tp := in.ExplicitTP
	if tp <= 0 {
		tp = in.Price + sign*2*math.Abs(in.Price-in.ExplicitSL)
	}
	return Levels{
		TakeProfit:    tp,
		StopLoss:      in.ExplicitSL,
		ActivationPct: s.TrailingActivationPct,
		CallbackPct:   s.TrailingCallbackPct,
	}, nil
}

func explicitTarget(_ context.Context, _ *Engine, in Input, s Settings) (Levels, error) {
	dist := math.Abs(in.ExplicitTP - in.Price)
	return Levels{
		TakeProfit:    in.ExplicitTP,
		StopLoss:      in.Price - in.Side.Sign()*dist,
		ActivationPct: s.TrailingActivationPct,
		CallbackPct:   s.TrailingCallbackPct,
	}, nil
}

func pnlPercent(_ context.Context, _ *Engine, in Input, s Settings) (Levels, error) {
	sign := in.Side.Sign()
	target := s.PnLTargetPct / 100
	tp := in.Price * (1 + sign*target)
	sl := in.Price * (1 - sign*target/s.rr())
	riskPct := math.Abs(in.Price-sl) / in.Price * 100
	return Levels{
		TakeProfit:    tp,
		StopLoss:      sl,
		ActivationPct: riskPct / 2,
		CallbackPct:   riskPct,
	}, nil
}

func atrDefault(ctx context.Context, e *Engine, in Input, s Settings) (Levels, error) {
	if e.ind == nil {
		return Levels{}, fmt.Errorf("%w: no indicator source", ErrSkip)
	}
	tpPct, slPct, err := e.ind.ATRLevels(ctx, in.Symbol, s.Interval, s.BaseTPPct, s.StopMultiplier)
	if err != nil {
		return Levels{}, fmt.Errorf("%w: atr levels: %v", ErrSkip, err)
	}
	if !positiveFinite(tpPct) || !positiveFinite(slPct) {
		return Levels{}, fmt.Errorf("%w: atr levels tp=%v sl=%v", ErrSkip, tpPct, slPct)
	}
	sign := in.Side.Sign()
	return Levels{
		TakeProfit:    in.Price * (1 + sign*tpPct/100),
		StopLoss:      in.Price * (1 - sign*slPct/100),
		ActivationPct: slPct / 2,
		CallbackPct:   slPct,
	}, nil
}

// Derive produces the levels for an entry. Any failure wraps ErrSkip.
func (e *Engine) Derive(ctx context.Context, in Input) (Levels, error) {
	if !in.Side.Valid() || !positiveFinite(in.Price) {
		return Levels{}, fmt.Errorf("%w: invalid input %s %s @ %v", ErrSkip, in.Symbol, in.Side, in.Price)
	}
	s := e.Settings()
	if s.Leverage <= 0 {
		return Levels{}, fmt.Errorf("%w: leverage %d", ErrSkip, s.Leverage)
	}

	var (
		lv  Levels
		err error
	)
	for _, r := range rules {
		if !r.match(in, s) {
			continue
		}
		lv, err = r.apply(ctx, e, in, s)
		lv.Rule = r.name
		break
	}
	if err != nil {
		return Levels{}, err
	}

	if s.ExitMode == ExitTrailing && in.ExplicitSL <= 0 {
		if err := e.trailingOverride(ctx, in, s, &lv); err != nil {
			return Levels{}, err
		}
	}

	lv.Liquidation = LiquidationPrice(in.Side, in.Price, s.Leverage, s.MaintMarginRate)
	if stop, moved := ClampStop(in.Side, in.Price, lv.StopLoss, lv.Liquidation); moved {
		log.Printf("risk: %s %s stop %.6f beyond liquidation %.6f, clamped to %.6f",
			in.Symbol, in.Side, lv.StopLoss, lv.Liquidation, stop)
		lv.StopLoss = stop
		lv.Clamped = true
	}

	if err := validate(in, lv); err != nil {
		return Levels{}, err
	}
	lv.Trailing = s.ExitMode == ExitTrailing && lv.ActivationPct > 0 && lv.CallbackPct > 0
	lv.Leverage = s.Leverage
	lv.Interval = s.Interval
	return lv, nil
}

// trailingOverride re-derives the activation from current volatility and
// moves the stop to match it.
func (e *Engine) trailingOverride(ctx context.Context, in Input, s Settings, lv *Levels) error {
	if e.ind == nil {
		return fmt.Errorf("%w: no indicator source for trailing", ErrSkip)
	}
	atrPct, err := e.ind.ATRPercent(ctx, in.Symbol, s.Interval)
	if err != nil {
		return fmt.Errorf("%w: atr for trailing: %v", ErrSkip, err)
	}
	if !positiveFinite(atrPct) {
		return fmt.Errorf("%w: atr percent %v", ErrSkip, atrPct)
	}
	mult := s.TrailingATRMultiplier
	if mult <= 0 {
		mult = 1
	}
	act := math.Max(atrPct*mult, minActivationPct)

	callback := s.TrailingCallbackPct
	if callback <= 0 {
		callback = lv.CallbackPct
	}
	if callback <= 0 {
		callback = act
	}

	lv.ActivationPct = act
	lv.CallbackPct = callback
	lv.StopLoss = in.Price - in.Side.Sign()*(act/100*in.Price/s.rr())
	return nil
}

func validate(in Input, lv Levels) error {
	if !positiveFinite(lv.TakeProfit) || !positiveFinite(lv.StopLoss) {
		return fmt.Errorf("%w: %s %s tp=%v sl=%v", ErrSkip, in.Symbol, in.Side, lv.TakeProfit, lv.StopLoss)
	}
	if in.Side == position.Long && !(lv.StopLoss < in.Price && in.Price < lv.TakeProfit) {
		return fmt.Errorf("%w: %s long levels out of order sl=%v price=%v tp=%v", ErrSkip, in.Symbol, lv.StopLoss, in.Price, lv.TakeProfit)
	}
	if in.Side == position.Short && !(lv.TakeProfit < in.Price && in.Price < lv.StopLoss) {
		return fmt.Errorf("%w: %s short levels out of order tp=%v price=%v sl=%v", ErrSkip, in.Symbol, lv.TakeProfit, in.Price, lv.StopLoss)
	}
	return nil
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
