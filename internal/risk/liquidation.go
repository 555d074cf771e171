package risk

import "github.com/BirdFarmer/BinanceRepo-sub002/internal/position"

// LiquidationBufferPct keeps a clamped stop this far (percent of entry) inside
// the liquidation price.
const LiquidationBufferPct = 0.1

// LiquidationPrice is the isolated-margin liquidation estimate for an entry.
// It returns 0 when leverage is not positive.
func LiquidationPrice(side position.Side, entry float64, leverage int, mmr float64) float64 {
	if leverage <= 0 || entry <= 0 {
		return 0
	}
	inv := 1 / float64(leverage)
	if side == position.Short {
		return entry * (1 + inv - mmr)
	}
	return entry * (1 - inv + mmr)
}

// ClampStop moves stop inside the liquidation price when it sits at or
// beyond it. The second result reports whether it moved.
func ClampStop(side position.Side, entry, stop, liq float64) (float64, bool) {
	if liq <= 0 {
		return stop, false
	}
	buffer := entry * LiquidationBufferPct / 100
	if side == position.Short {
		if stop >= liq {
			return liq - buffer, true
		}
		return stop, false
	}
	if stop <= liq {
		return liq + buffer, true
	}
	return stop, false
}
