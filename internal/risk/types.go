package risk

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/BirdFarmer/BinanceRepo-sub002/internal/position"
)

// ErrSkip marks an entry that must be dropped because its risk levels could
// not be derived. It is never fatal.
var ErrSkip = errors.New("risk: skip entry")

// ExitMode is the process-wide exit policy.
type ExitMode string

const (
	ExitFixedTP    ExitMode = "fixed_tp"
	ExitPnLPercent ExitMode = "pnl_percent"
	ExitTrailing   ExitMode = "trailing"
)

func ParseExitMode(raw string) (ExitMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "fixed", "fixed_tp", "take_profit":
		return ExitFixedTP, nil
	case "pnl", "pnl_percent", "percent":
		return ExitPnLPercent, nil
	case "trailing", "trailing_stop":
		return ExitTrailing, nil
	}
	return "", fmt.Errorf("unknown exit mode %q", raw)
}

// Settings are the tunables the engine reads on every derivation.
// Percent fields hold percent numbers (1.5 means 1.5%).
type Settings struct {
	ExitMode              ExitMode `json:"exit_mode"`
	PnLTargetPct          float64  `json:"pnl_target_pct"`
	RRDivider             float64  `json:"rr_divider"`
	BaseTPPct             float64  `json:"base_tp_pct"`
	StopMultiplier        float64  `json:"stop_multiplier"`
	TrailingATRMultiplier float64  `json:"trailing_atr_multiplier"`
	TrailingActivationPct float64  `json:"trailing_activation_pct"`
	TrailingCallbackPct   float64  `json:"trailing_callback_pct"`
	Leverage              int      `json:"leverage"`
	MaintMarginRate       float64  `json:"maint_margin_rate"`
	Interval              string   `json:"interval"`
}

// DefaultSettings mirrors the config defaults.
func DefaultSettings() Settings {
	return Settings{
		ExitMode:              ExitFixedTP,
		RRDivider:             2,
		BaseTPPct:             1.0,
		StopMultiplier:        1.5,
		TrailingATRMultiplier: 1.0,
		Leverage:              10,
		MaintMarginRate:       0.004,
		Interval:              "5m",
	}
}

func (s Settings) rr() float64 {
	if s.RRDivider <= 0 {
		return 2
	}
	return s.RRDivider
}

// Input describes one entry request. Zero ExplicitTP/ExplicitSL mean absent.
type Input struct {
	Symbol     string
	Side       position.Side
	Price      float64
	ExplicitTP float64
	ExplicitSL float64
}

// Levels is the derived risk plan for an entry.
type Levels struct {
	TakeProfit    float64 `json:"take_profit"`
	StopLoss      float64 `json:"stop_loss"`
	Liquidation   float64 `json:"liquidation_price"`
	ActivationPct float64 `json:"activation_pct,omitempty"`
	CallbackPct   float64 `json:"callback_pct,omitempty"`
	Trailing      bool    `json:"trailing"`
	Rule          string  `json:"rule"`
	Clamped       bool    `json:"clamped"`
	// Leverage and Interval are the settings the levels were derived with.
	Leverage int    `json:"leverage"`
	Interval string `json:"interval"`
}

// IndicatorSource supplies volatility measurements. Percent results are
// percent numbers relative to the latest close.
type IndicatorSource interface {
	ATRPercent(ctx context.Context, symbol, interval string) (float64, error)
	ATRLevels(ctx context.Context, symbol, interval string, baseTPPct, stopMult float64) (tpPct, slPct float64, err error)
}
