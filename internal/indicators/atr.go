package indicators

import (
	"math"

	"github.com/BirdFarmer/BinanceRepo-sub002/internal/market"
)

// TrueRange of bar i; the first bar has no previous close and uses high-low.
func TrueRange(candles []market.Candle, i int) float64 {
	c := candles[i]
	tr := c.High - c.Low
	if i == 0 {
		return tr
	}
	prev := candles[i-1].Close
	return math.Max(tr, math.Max(math.Abs(c.High-prev), math.Abs(c.Low-prev)))
}

// ATR is Wilder's average true range, seeded with the mean of the first
// period true ranges. It returns 0 when fewer than period+1 candles exist.
func ATR(candles []market.Candle, period int) float64 {
	if period <= 0 || len(candles) < period+1 {
		return 0
	}
	trs := make([]float64, 0, period)
	for i := 1; i <= period; i++ {
		trs = append(trs, TrueRange(candles, i))
	}
	atr := SMA(trs, period)
	for i := period + 1; i < len(candles); i++ {
		atr = (atr*float64(period-1) + TrueRange(candles, i)) / float64(period)
	}
	return atr
}

// Closes extracts close prices.
func Closes(candles []market.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
