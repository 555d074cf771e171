package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/BirdFarmer/BinanceRepo-sub002/internal/balance"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/events"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/position"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/risk"
	"github.com/BirdFarmer/BinanceRepo-sub002/pkg/cache"
	"github.com/BirdFarmer/BinanceRepo-sub002/pkg/config"
	"github.com/BirdFarmer/BinanceRepo-sub002/pkg/exchanges/common"
)

var (
	ErrHalted      = errors.New("engine halted: new entries disabled")
	ErrNotReady    = errors.New("symbol metadata not ready")
	ErrNoPrice     = errors.New("no price for symbol")
	ErrZeroQty     = errors.New("quantity rounds to zero")
	ErrNoGateway   = errors.New("live mode requires an exchange gateway")
	ErrUnprotected = errors.New("position open without protective order")
	ErrEntryFailed = errors.New("exchange entry failed")
)

// Options configures a Controller.
type Options struct {
	Mode           string
	SessionID      string
	Symbols        []string
	MarginPerTrade float64
	MarginType     string
	LegSpacing     time.Duration
	// Clock overrides time.Now; the backtest replay drives it from candle times.
	Clock func() time.Time
}

// Controller drives positions from entry to settlement.
type Controller struct {
	opts Options

	ledger  *position.Ledger
	balance *balance.Manager
	risk    *risk.Engine
	symbols SymbolRules
	gateway common.Gateway
	sink    Sink
	bus     events.Publisher

	legs   *rate.Limiter
	halted atomic.Bool

	prices *cache.PriceCache

	marginSet sync.Map // symbol -> struct{}
	now       func() time.Time
}

// Deps groups the collaborators of a Controller. Gateway is only required in
// live mode; Sink and Bus are optional.
type Deps struct {
	Ledger  *position.Ledger
	Balance *balance.Manager
	Risk    *risk.Engine
	Symbols SymbolRules
	Gateway common.Gateway
	Sink    Sink
	Bus     events.Publisher
}

func NewController(opts Options, deps Deps) (*Controller, error) {
	if deps.Ledger == nil || deps.Balance == nil || deps.Risk == nil || deps.Symbols == nil {
		return nil, errors.New("engine: ledger, balance, risk and symbols are required")
	}
	if opts.Mode == config.ModeLive && deps.Gateway == nil {
		return nil, ErrNoGateway
	}
	if opts.LegSpacing <= 0 {
		opts.LegSpacing = 250 * time.Millisecond
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Controller{
		opts:    opts,
		ledger:  deps.Ledger,
		balance: deps.Balance,
		risk:    deps.Risk,
		symbols: deps.Symbols,
		gateway: deps.Gateway,
		sink:    deps.Sink,
		bus:     deps.Bus,
		legs:    rate.NewLimiter(rate.Every(opts.LegSpacing), 1),
		prices:  cache.NewPriceCache(),
		now:     now,
	}, nil
}

func (c *Controller) live() bool { return c.opts.Mode == config.ModeLive }

// EnterLong opens a long position for sig.
func (c *Controller) EnterLong(ctx context.Context, sig Signal) (position.Position, error) {
	sig.Side = position.Long
	return c.Enter(ctx, sig)
}

// EnterShort opens a short position for sig.
func (c *Controller) EnterShort(ctx context.Context, sig Signal) (position.Position, error) {
	sig.Side = position.Short
	return c.Enter(ctx, sig)
}

// Enter runs the entry pipeline. Rejections and skips are logged and
// published; the returned error says why no position was opened.
func (c *Controller) Enter(ctx context.Context, sig Signal) (position.Position, error) {
	p, err := c.enter(ctx, sig)
	if err != nil {
		log.Printf("engine: entry %s %s rejected: %v", sig.Symbol, sig.Side, err)
		c.publish(events.EventEntryRejected, events.EntryRejected{
			Symbol: sig.Symbol,
			Side:   string(sig.Side),
			Code:   RejectCode(err),
			Reason: err.Error(),
		})
	}
	return p, err
}

// RejectCode maps an entry error to a short stable label.
func RejectCode(err error) string {
	switch {
	case errors.Is(err, ErrHalted):
		return "halted"
	case errors.Is(err, ErrNotReady):
		return "not_ready"
	case errors.Is(err, ErrNoPrice):
		return "no_price"
	case errors.Is(err, ErrZeroQty):
		return "zero_qty"
	case errors.Is(err, position.ErrDirectionFiltered):
		return "direction_filtered"
	case errors.Is(err, position.ErrCapacity):
		return "capacity"
	case errors.Is(err, position.ErrDuplicateSymbol):
		return "duplicate_symbol"
	case errors.Is(err, position.ErrInvalidPosition):
		return "invalid_position"
	case errors.Is(err, balance.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, risk.ErrSkip):
		return "risk_skip"
	case errors.Is(err, ErrEntryFailed):
		return "gateway"
	}
	return "other"
}

func (c *Controller) enter(ctx context.Context, sig Signal) (position.Position, error) {
	if c.halted.Load() {
		return position.Position{}, ErrHalted
	}
	if !c.symbols.IsReady() {
		return position.Position{}, ErrNotReady
	}
	if !sig.Side.Valid() {
		return position.Position{}, fmt.Errorf("invalid side %q", sig.Side)
	}
	if err := c.ledger.Check(sig.Symbol, sig.Side); err != nil {
		return position.Position{}, err
	}

	price := sig.Price
	if price <= 0 {
		price = c.LastPrice(sig.Symbol)
	}
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return position.Position{}, fmt.Errorf("%w: %s", ErrNoPrice, sig.Symbol)
	}

	levels, err := c.risk.Derive(ctx, risk.Input{
		Symbol:     sig.Symbol,
		Side:       sig.Side,
		Price:      price,
		ExplicitTP: sig.TakeProfit,
		ExplicitSL: sig.StopLoss,
	})
	if err != nil {
		return position.Position{}, err
	}

	// leverage comes from the same settings snapshot as the liquidation price
	leverage := levels.Leverage
	rawQty := c.opts.MarginPerTrade * float64(leverage) / price
	qty, known := c.symbols.RoundQty(sig.Symbol, rawQty)
	if !known {
		log.Printf("engine: no metadata for %s, using unrounded qty %.8f", sig.Symbol, rawQty)
		qty = rawQty
	}
	if qty <= 0 {
		return position.Position{}, fmt.Errorf("%w: %s raw %.8f", ErrZeroQty, sig.Symbol, rawQty)
	}

	now := c.now()
	p := position.Position{
		ID:          uuid.NewString(),
		Symbol:      sig.Symbol,
		Side:        sig.Side,
		Signal:      sig.Tag,
		Interval:    levels.Interval,
		EntryPrice:  price,
		Qty:         qty,
		Leverage:    leverage,
		Margin:      qty * price / float64(leverage),
		TakeProfit:  levels.TakeProfit,
		StopLoss:    levels.StopLoss,
		Liquidation: levels.Liquidation,
		EntryTime:   now,
		KlineTime:   sig.KlineTime,
	}
	if levels.Trailing {
		p.Trailing = position.Trailing{
			Enabled:       true,
			ActivationPct: levels.ActivationPct,
			CallbackPct:   levels.CallbackPct,
		}
	}

	if err := c.ledger.Admit(p, c.balance.Reserve); err != nil {
		return position.Position{}, err
	}

	if c.live() {
		fill, err := c.openOnExchange(ctx, p)
		if err != nil {
			c.rollback(p)
			return position.Position{}, err
		}
		if fill > 0 && fill != p.EntryPrice {
			c.ledger.Update(p.Symbol, func(stored *position.Position) { stored.EntryPrice = fill })
			p.EntryPrice = fill
		}
	}

	if c.sink != nil {
		id, err := c.sink.LogOpen(ctx, p, c.opts.SessionID)
		if err != nil {
			log.Printf("engine: persist open %s: %v", p.Symbol, err)
		} else {
			p.TradeID = id
			c.ledger.Update(p.Symbol, func(stored *position.Position) { stored.TradeID = id })
		}
	}

	log.Printf("engine: opened %s %s qty=%.8f entry=%.6f tp=%.6f sl=%.6f liq=%.6f trailing=%v rule=%s",
		p.Symbol, p.Side, p.Qty, p.EntryPrice, p.TakeProfit, p.StopLoss, p.Liquidation, p.Trailing.Enabled, levels.Rule)
	c.publish(events.EventPositionOpened, events.PositionOpened{
		PositionID: p.ID,
		Symbol:     p.Symbol,
		Side:       string(p.Side),
		EntryPrice: p.EntryPrice,
		Qty:        p.Qty,
		Leverage:   p.Leverage,
		TakeProfit: p.TakeProfit,
		StopLoss:   p.StopLoss,
		Trailing:   p.Trailing.Enabled,
		Time:       now,
	})
	return p, nil
}

// rollback undoes an admission whose market order never filled.
func (c *Controller) rollback(p position.Position) {
	if _, ok := c.ledger.Remove(p.Symbol); ok {
		c.balance.Release(p.Margin)
	}
}

// EvaluateTicks records prices and, outside live mode, closes positions whose
// stop, target or trailing trigger was hit.
func (c *Controller) EvaluateTicks(ctx context.Context, prices map[string]float64, ts time.Time) []position.Closure {
	c.recordPrices(prices)
	if c.live() {
		// exits happen on the exchange and are picked up by reconciliation
		return nil
	}
	closed := c.ledger.Evaluate(prices)
	for i, cl := range closed {
		closed[i] = c.settle(ctx, cl, ts)
	}
	return closed
}

// CloseAll closes every open position. Missing prices fall back to the last
// tick, then to the entry price. In live mode each position is flattened on
// the exchange first.
func (c *Controller) CloseAll(ctx context.Context, prices map[string]float64, ts time.Time) []position.Closure {
	c.recordPrices(prices)
	if c.live() {
		for _, p := range c.ledger.Snapshot() {
			c.flattenOnExchange(ctx, p)
		}
	}
	merged := c.pricesSnapshot()

	closed := c.ledger.Drain(merged, position.ReasonCloseAll)
	for i, cl := range closed {
		closed[i] = c.settle(ctx, cl, ts)
	}
	if len(closed) > 0 {
		log.Printf("engine: close-all settled %d positions", len(closed))
	}
	return closed
}

// SettleExchangeClose settles a position the exchange has already closed,
// pricing it at the last tick.
func (c *Controller) SettleExchangeClose(ctx context.Context, symbol string) bool {
	return c.SettleExchangeFill(ctx, symbol, 0, position.ReasonExchange)
}

// SettleExchangeFill settles a position closed by an exchange-side order at
// its fill price. A zero price falls back to the last tick, then the entry.
func (c *Controller) SettleExchangeFill(ctx context.Context, symbol string, price float64, reason position.CloseReason) bool {
	p, ok := c.ledger.Remove(symbol)
	if !ok {
		return false
	}
	exit := price
	if exit <= 0 {
		exit = c.LastPrice(symbol)
	}
	if exit <= 0 {
		exit = p.EntryPrice
	}
	if c.gateway != nil {
		if err := c.gateway.CancelAllOpenOrders(ctx, symbol); err != nil {
			log.Printf("engine: cancel leftover orders %s: %v", symbol, err)
		}
	}
	c.settle(ctx, position.Closure{Position: p, ExitPrice: exit, Reason: reason}, c.now())
	return true
}

func (c *Controller) settle(ctx context.Context, cl position.Closure, ts time.Time) position.Closure {
	cl = cl.Finalize(ts)
	pnl := cl.Profit
	bal := c.balance.Settle(cl.Position.Margin, pnl)

	if c.sink != nil {
		if err := c.sink.LogClose(ctx, cl, c.opts.SessionID); err != nil {
			log.Printf("engine: persist close %s: %v", cl.Position.Symbol, err)
		}
	}

	log.Printf("engine: closed %s %s reason=%s entry=%.6f exit=%.6f pnl=%.4f balance=%.4f",
		cl.Position.Symbol, cl.Position.Side, cl.Reason, cl.Position.EntryPrice, cl.ExitPrice, pnl, bal)
	c.publish(events.EventPositionClosed, events.PositionClosed{
		PositionID: cl.Position.ID,
		Symbol:     cl.Position.Symbol,
		Side:       string(cl.Position.Side),
		EntryPrice: cl.Position.EntryPrice,
		ExitPrice:  cl.ExitPrice,
		Qty:        cl.Position.Qty,
		Profit:     pnl,
		Reason:     string(cl.Reason),
		Balance:    bal,
		Time:       ts,
	})
	return cl
}

func (c *Controller) recordPrices(prices map[string]float64) {
	if len(prices) == 0 {
		return
	}
	c.prices.SetAll(prices, c.now())
}

func (c *Controller) pricesSnapshot() map[string]float64 {
	return c.prices.Snapshot()
}

// RecordTick stores the latest price of one symbol.
func (c *Controller) RecordTick(symbol string, price float64) {
	c.prices.Set(symbol, price, c.now())
}

// LastPrice returns the last recorded price or 0.
func (c *Controller) LastPrice(symbol string) float64 {
	p, _ := c.prices.Get(symbol)
	return p
}

// Halt stops new entries. Open positions keep being evaluated.
func (c *Controller) Halt() {
	if !c.halted.Swap(true) {
		log.Printf("engine: halted, no new entries")
	}
}

func (c *Controller) Halted() bool { return c.halted.Load() }

func (c *Controller) OpenPositions() []position.Position { return c.ledger.Snapshot() }

func (c *Controller) Balance() BalanceInfo {
	avail, reserved, realized := c.balance.Snapshot()
	return BalanceInfo{Available: avail, Reserved: reserved, Realized: realized, Total: avail + reserved}
}

func (c *Controller) Status() SystemStatus {
	return SystemStatus{
		Mode:          c.opts.Mode,
		SessionID:     c.opts.SessionID,
		Symbols:       c.opts.Symbols,
		Ready:         c.symbols.IsReady(),
		Halted:        c.Halted(),
		OpenPositions: c.ledger.Len(),
		Capacity:      c.ledger.Capacity(),
		Filter:        string(c.ledger.Filter()),
		Risk:          c.risk.Settings(),
		ServerTime:    c.now(),
	}
}

func (c *Controller) SetExitMode(mode risk.ExitMode) { c.risk.SetExitMode(mode) }

func (c *Controller) SetTrailingConfig(activationPct, callbackPct, atrMultiplier float64) {
	c.risk.SetTrailing(activationPct, callbackPct, atrMultiplier)
	log.Printf("engine: trailing config activation=%.4f%% callback=%.4f%% atr_mult=%.2f",
		activationPct, callbackPct, atrMultiplier)
}

// SetDirectionFilter changes which sides new entries may take.
func (c *Controller) SetDirectionFilter(f position.DirectionFilter) {
	c.ledger.SetFilter(f)
	log.Printf("engine: direction filter set to %s", f)
}

// UpdateLeverageAndInterval applies to entries made after the call.
func (c *Controller) UpdateLeverageAndInterval(leverage int, interval string) error {
	if leverage < 0 || leverage > 125 {
		return fmt.Errorf("leverage %d out of range", leverage)
	}
	c.risk.SetLeverage(leverage, interval)
	log.Printf("engine: leverage=%d interval=%s", leverage, interval)
	return nil
}

func (c *Controller) publish(e events.Event, payload any) {
	if c.bus != nil {
		c.bus.Publish(e, payload)
	}
}
