package strategy

import (
	"time"

	"github.com/BirdFarmer/BinanceRepo-sub002/internal/market"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/position"
)

// Signal is an entry decision emitted by a strategy.
type Signal struct {
	Symbol string
	Side   position.Side
	Tag    string
	Price  float64
	Time   time.Time
	Note   string
}

// Strategy decides on entries from a window of closed candles, oldest first.
// Implementations must be deterministic for a given window.
type Strategy interface {
	Name() string
	// Lookback is the number of candles the strategy needs.
	Lookback() int
	Evaluate(symbol string, candles []market.Candle) *Signal
}
