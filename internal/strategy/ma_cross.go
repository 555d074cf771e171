package strategy

import (
	"fmt"

	"github.com/BirdFarmer/BinanceRepo-sub002/internal/indicators"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/market"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/position"
)

// EMACross goes long when the fast EMA crosses above the slow EMA and short
// on the opposite cross. The RSI filter drops longs into overbought markets
// and shorts into oversold ones.
type EMACross struct {
	fastPeriod int
	slowPeriod int
	rsiPeriod  int
	overbought float64
	oversold   float64
}

// NewEMACross creates a new EMA cross strategy.
func NewEMACross(fast, slow, rsiPeriod int, oversold, overbought float64) *EMACross {
	if fast <= 0 {
		fast = 9
	}
	if slow <= fast {
		slow = fast * 2
	}
	if rsiPeriod <= 0 {
		rsiPeriod = 14
	}
	if overbought <= 0 {
		overbought = 70
	}
	if oversold <= 0 {
		oversold = 30
	}
	return &EMACross{
		fastPeriod: fast,
		slowPeriod: slow,
		rsiPeriod:  rsiPeriod,
		overbought: overbought,
		oversold:   oversold,
	}
}

func (s *EMACross) Name() string {
	return fmt.Sprintf("ema_cross_%d_%d", s.fastPeriod, s.slowPeriod)
}

func (s *EMACross) Lookback() int {
	n := s.slowPeriod * 3
	if m := s.rsiPeriod*3 + 1; m > n {
		n = m
	}
	return n
}

func (s *EMACross) Evaluate(symbol string, candles []market.Candle) *Signal {
	if len(candles) < s.slowPeriod+1 {
		return nil
	}
	closes := indicators.Closes(candles)
	fast := indicators.EMASeries(closes, s.fastPeriod)
	slow := indicators.EMASeries(closes, s.slowPeriod)

	n := len(closes) - 1
	prevFast, prevSlow := fast[n-1], slow[n-1]
	curFast, curSlow := fast[n], slow[n]
	if prevSlow == 0 {
		return nil
	}
	hasRSI := len(closes) > s.rsiPeriod
	rsi := indicators.RSI(closes, s.rsiPeriod)
	last := candles[n]

	sig := &Signal{Symbol: symbol, Tag: s.Name(), Price: last.Close, Time: last.CloseTime}
	switch {
	case prevFast <= prevSlow && curFast > curSlow:
		if hasRSI && rsi >= s.overbought {
			return nil
		}
		sig.Side = position.Long
		sig.Note = fmt.Sprintf("golden cross: EMA%d(%.4f) > EMA%d(%.4f) rsi=%.1f", s.fastPeriod, curFast, s.slowPeriod, curSlow, rsi)
	case prevFast >= prevSlow && curFast < curSlow:
		if hasRSI && rsi <= s.oversold {
			return nil
		}
		sig.Side = position.Short
		sig.Note = fmt.Sprintf("death cross: EMA%d(%.4f) < EMA%d(%.4f) rsi=%.1f", s.fastPeriod, curFast, s.slowPeriod, curSlow, rsi)
	default:
		return nil
	}
	return sig
}
