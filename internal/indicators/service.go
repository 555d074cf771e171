package indicators

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/BirdFarmer/BinanceRepo-sub002/internal/market"
)

// ErrNotEnoughData is returned when a series is too short for the indicator.
var ErrNotEnoughData = errors.New("indicators: not enough candles")

// Service computes volatility figures from a candle source.
type Service struct {
	source    market.CandleSource
	atrPeriod int
}

func NewService(source market.CandleSource, atrPeriod int) *Service {
	if atrPeriod <= 0 {
		atrPeriod = 14
	}
	return &Service{source: source, atrPeriod: atrPeriod}
}

// ATRPercent is ATR relative to the latest close, as a percent number.
func (s *Service) ATRPercent(ctx context.Context, symbol, interval string) (float64, error) {
	// extra bars let Wilder smoothing settle
	candles, err := s.source.Candles(ctx, symbol, interval, s.atrPeriod*5+1)
	if err != nil {
		return 0, err
	}
	if len(candles) < s.atrPeriod+1 {
		return 0, fmt.Errorf("%w: %s %s has %d", ErrNotEnoughData, symbol, interval, len(candles))
	}
	last := candles[len(candles)-1].Close
	if last <= 0 {
		return 0, fmt.Errorf("indicators: bad close %v for %s", last, symbol)
	}
	pct := ATR(candles, s.atrPeriod) / last * 100
	if math.IsNaN(pct) || math.IsInf(pct, 0) {
		return 0, fmt.Errorf("indicators: atr percent not finite for %s", symbol)
	}
	return pct, nil
}

// ATRLevels returns take-profit and stop-loss percents: the stop sits
// stopMult ATRs away and the target is at least twice the stop distance and
// never below baseTPPct.
func (s *Service) ATRLevels(ctx context.Context, symbol, interval string, baseTPPct, stopMult float64) (float64, float64, error) {
	atrPct, err := s.ATRPercent(ctx, symbol, interval)
	if err != nil {
		return 0, 0, err
	}
	if stopMult <= 0 {
		stopMult = 1.5
	}
	slPct := atrPct * stopMult
	tpPct := math.Max(baseTPPct, 2*slPct)
	return tpPct, slPct, nil
}
