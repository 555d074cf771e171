package strategy

import (
	"fmt"

	"github.com/BirdFarmer/BinanceRepo-sub002/internal/indicators"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/market"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/position"
)

// RSIReversion enters against extremes: long when RSI leaves the oversold
// zone, short when it leaves the overbought zone.
type RSIReversion struct {
	period     int
	oversold   float64
	overbought float64
}

// NewRSIReversion creates a new RSI strategy.
func NewRSIReversion(period int, oversold, overbought float64) *RSIReversion {
	if period <= 0 {
		period = 14
	}
	if oversold <= 0 {
		oversold = 30
	}
	if overbought <= 0 {
		overbought = 70
	}
	return &RSIReversion{period: period, oversold: oversold, overbought: overbought}
}

func (s *RSIReversion) Name() string { return fmt.Sprintf("rsi_%d", s.period) }

func (s *RSIReversion) Lookback() int { return s.period*4 + 2 }

func (s *RSIReversion) Evaluate(symbol string, candles []market.Candle) *Signal {
	if len(candles) < s.period+2 {
		return nil
	}
	closes := indicators.Closes(candles)
	prev := indicators.RSI(closes[:len(closes)-1], s.period)
	cur := indicators.RSI(closes, s.period)
	last := candles[len(candles)-1]

	sig := &Signal{Symbol: symbol, Tag: s.Name(), Price: last.Close, Time: last.CloseTime}
	switch {
	case prev < s.oversold && cur >= s.oversold:
		sig.Side = position.Long
	case prev > s.overbought && cur <= s.overbought:
		sig.Side = position.Short
	default:
		return nil
	}
	sig.Note = fmt.Sprintf("rsi %.1f -> %.1f", prev, cur)
	return sig
}
