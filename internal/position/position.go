package position

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Side is the direction of a futures position.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// Sign returns +1 for longs and -1 for shorts.
func (s Side) Sign() float64 {
	if s == Short {
		return -1
	}
	return 1
}

func (s Side) Valid() bool { return s == Long || s == Short }

// ParseSide accepts LONG/SHORT as well as the order-side spellings BUY/SELL.
func ParseSide(raw string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "LONG", "BUY":
		return Long, nil
	case "SHORT", "SELL":
		return Short, nil
	}
	return "", fmt.Errorf("unknown side %q", raw)
}

// DirectionFilter restricts which sides may be opened.
type DirectionFilter string

const (
	DirectionBoth      DirectionFilter = "both"
	DirectionLongOnly  DirectionFilter = "long"
	DirectionShortOnly DirectionFilter = "short"
)

func ParseDirectionFilter(raw string) (DirectionFilter, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "both", "all":
		return DirectionBoth, nil
	case "long", "long_only", "longs":
		return DirectionLongOnly, nil
	case "short", "short_only", "shorts":
		return DirectionShortOnly, nil
	}
	return "", fmt.Errorf("unknown direction filter %q", raw)
}

// Allows reports whether side passes the filter.
func (f DirectionFilter) Allows(side Side) bool {
	switch f {
	case DirectionLongOnly:
		return side == Long
	case DirectionShortOnly:
		return side == Short
	}
	return true
}

// CloseReason records which path closed a position.
type CloseReason string

const (
	ReasonStopLoss     CloseReason = "stop_loss"
	ReasonTakeProfit   CloseReason = "take_profit"
	ReasonTrailingStop CloseReason = "trailing_stop"
	ReasonCloseAll     CloseReason = "close_all"
	ReasonExchange     CloseReason = "exchange"
)

// TrailingPhase is one-way: NotActivated can only move to Activated.
type TrailingPhase int

const (
	NotActivated TrailingPhase = iota
	Activated
)

func (p TrailingPhase) String() string {
	if p == Activated {
		return "activated"
	}
	return "not_activated"
}

// Trailing holds the trailing-stop parameters and progress of one position.
// ActivationPrice and Extreme are meaningful only once Phase is Activated.
type Trailing struct {
	Enabled         bool          `json:"enabled"`
	ActivationPct   float64       `json:"activation_pct"`
	CallbackPct     float64       `json:"callback_pct"`
	Phase           TrailingPhase `json:"-"`
	ActivationPrice float64       `json:"activation_price,omitempty"`
	Extreme         float64       `json:"extreme,omitempty"`
}

func (t Trailing) Active() bool { return t.Phase == Activated }

// Position is an open futures position held by the engine.
type Position struct {
	ID          string    `json:"id"`
	TradeID     int64     `json:"trade_id,omitempty"`
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	Signal      string    `json:"signal,omitempty"`
	Interval    string    `json:"interval,omitempty"`
	EntryPrice  float64   `json:"entry_price"`
	Qty         float64   `json:"qty"`
	Leverage    int       `json:"leverage"`
	Margin      float64   `json:"margin"`
	TakeProfit  float64   `json:"take_profit"`
	StopLoss    float64   `json:"stop_loss"`
	Liquidation float64   `json:"liquidation_price"`
	Trailing    Trailing  `json:"trailing"`
	EntryTime   time.Time `json:"entry_time"`
	KlineTime   time.Time `json:"kline_time,omitempty"`
}

// PnL is the price-movement profit of closing at exit. Fees are not modelled.
func (p Position) PnL(exit float64) float64 {
	return (exit - p.EntryPrice) * p.Qty * p.Side.Sign()
}

// ActivationThreshold is the price at which trailing arms.
func (p Position) ActivationThreshold() float64 {
	return p.EntryPrice * (1 + p.Side.Sign()*p.Trailing.ActivationPct/100)
}

// RetraceTrigger is the close level derived from the current extreme.
func (p Position) RetraceTrigger() float64 {
	return p.Trailing.Extreme * (1 - p.Side.Sign()*p.Trailing.CallbackPct/100)
}

func (p Position) valid() bool {
	return p.Side.Valid() && p.Qty > 0 && p.EntryPrice > 0 && !math.IsNaN(p.StopLoss) && !math.IsNaN(p.TakeProfit)
}

// comparisons tolerate float noise from percent arithmetic
const priceEpsilon = 1e-9

func atOrBelow(price, level float64) bool { return price <= level*(1+priceEpsilon) }
func atOrAbove(price, level float64) bool { return price >= level*(1-priceEpsilon) }

// favourable reports whether price has reached level in the position's profit direction.
func (p Position) favourable(price, level float64) bool {
	if p.Side == Long {
		return atOrAbove(price, level)
	}
	return atOrBelow(price, level)
}

// adverse reports whether price has reached level against the position.
func (p Position) adverse(price, level float64) bool {
	if p.Side == Long {
		return atOrBelow(price, level)
	}
	return atOrAbove(price, level)
}

// Evaluate advances the position by one price tick. The stop-loss is always
// checked first and fills at the stop level; a fixed take-profit fills at the
// target level; a trailing close fills at the observed tick.
func (p *Position) Evaluate(price float64) (exit float64, reason CloseReason, closed bool) {
	if p.StopLoss > 0 && p.adverse(price, p.StopLoss) {
		return p.StopLoss, ReasonStopLoss, true
	}

	if !p.Trailing.Enabled {
		if p.TakeProfit > 0 && p.favourable(price, p.TakeProfit) {
			return p.TakeProfit, ReasonTakeProfit, true
		}
		return 0, "", false
	}

	t := &p.Trailing
	if t.Phase == NotActivated {
		if p.favourable(price, p.ActivationThreshold()) {
			t.Phase = Activated
			t.ActivationPrice = price
			t.Extreme = price
		}
		return 0, "", false
	}

	if (p.Side == Long && price > t.Extreme) || (p.Side == Short && price < t.Extreme) {
		t.Extreme = price
	}
	if p.adverse(price, p.RetraceTrigger()) {
		return price, ReasonTrailingStop, true
	}
	return 0, "", false
}
