package risk

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/BirdFarmer/BinanceRepo-sub002/internal/position"
)

type stubIndicators struct {
	atrPct       float64
	tpPct, slPct float64
	err          error
}

func (s stubIndicators) ATRPercent(context.Context, string, string) (float64, error) {
	return s.atrPct, s.err
}

func (s stubIndicators) ATRLevels(context.Context, string, string, float64, float64) (float64, float64, error) {
	return s.tpPct, s.slPct, s.err
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestRulePrecedence(t *testing.T) {
	ind := stubIndicators{atrPct: 0.5, tpPct: 2, slPct: 1}
	tests := []struct {
		name     string
		settings func(*Settings)
		in       Input
		wantTP   float64
		wantSL   float64
		wantRule string
	}{
		{
			name:     "explicit tp and sl verbatim",
			in:       Input{Symbol: "BTCUSDT", Side: position.Long, Price: 100, ExplicitTP: 107, ExplicitSL: 96},
			wantTP:   107,
			wantSL:   96,
			wantRule: "explicit_sl",
		},
		{
			name:     "explicit sl long gets 2:1 target",
			in:       Input{Symbol: "BTCUSDT", Side: position.Long, Price: 100, ExplicitSL: 97},
			wantTP:   106,
			wantSL:   97,
			wantRule: "explicit_sl",
		},
		{
			name:     "explicit sl short gets 2:1 target",
			in:       Input{Symbol: "BTCUSDT", Side: position.Short, Price: 100, ExplicitSL: 102},
			wantTP:   96,
			wantSL:   102,
			wantRule: "explicit_sl",
		},
		{
			name:     "explicit tp only mirrors the stop",
			in:       Input{Symbol: "BTCUSDT", Side: position.Short, Price: 100, ExplicitTP: 95},
			wantTP:   95,
			wantSL:   105,
			wantRule: "explicit_tp",
		},
		{
			name:     "pnl percent",
			settings: func(s *Settings) { s.ExitMode = ExitPnLPercent; s.PnLTargetPct = 4 },
			in:       Input{Symbol: "BTCUSDT", Side: position.Long, Price: 100},
			wantTP:   104,
			wantSL:   98,
			wantRule: "pnl_percent",
		},
		{
			name:     "pnl percent needs a target",
			settings: func(s *Settings) { s.ExitMode = ExitPnLPercent },
			in:       Input{Symbol: "BTCUSDT", Side: position.Long, Price: 100},
			wantTP:   102,
			wantSL:   99,
			wantRule: "atr",
		},
		{
			name:     "atr default short",
			in:       Input{Symbol: "BTCUSDT", Side: position.Short, Price: 100},
			wantTP:   98,
			wantSL:   101,
			wantRule: "atr",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			if tt.settings != nil {
				tt.settings(&s)
			}
			lv, err := NewEngine(ind, s).Derive(context.Background(), tt.in)
			if err != nil {
				t.Fatalf("Derive: %v", err)
			}
			if !approx(lv.TakeProfit, tt.wantTP) || !approx(lv.StopLoss, tt.wantSL) || lv.Rule != tt.wantRule {
				t.Fatalf("got tp=%v sl=%v rule=%s, expected tp=%v sl=%v rule=%s",
					lv.TakeProfit, lv.StopLoss, lv.Rule, tt.wantTP, tt.wantSL, tt.wantRule)
			}
			if lv.Trailing {
				t.Fatalf("trailing must be off outside trailing mode")
			}
		})
	}
}

func TestPnLPercentPrecomputesTrailing(t *testing.T) {
	s := DefaultSettings()
	s.ExitMode = ExitPnLPercent
	s.PnLTargetPct = 4
	s.RRDivider = 4
	lv, err := NewEngine(nil, s).Derive(context.Background(), Input{Symbol: "X", Side: position.Long, Price: 200})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	// risk distance is 1% of price
	if !approx(lv.StopLoss, 198) || !approx(lv.ActivationPct, 0.5) || !approx(lv.CallbackPct, 1) {
		t.Fatalf("unexpected levels: %+v", lv)
	}
}

func TestLiquidationClamp(t *testing.T) {
	s := DefaultSettings()
	s.Leverage = 10
	s.MaintMarginRate = 0.004
	e := NewEngine(nil, s)

	lv, err := e.Derive(context.Background(), Input{Symbol: "BTCUSDT", Side: position.Long, Price: 100, ExplicitSL: 85})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if !approx(lv.Liquidation, 90.4) {
		t.Fatalf("liquidation=%v, expected 90.4", lv.Liquidation)
	}
	if !approx(lv.StopLoss, 90.5) || !lv.Clamped {
		t.Fatalf("stop=%v clamped=%v, expected 90.5", lv.StopLoss, lv.Clamped)
	}

	short, err := e.Derive(context.Background(), Input{Symbol: "BTCUSDT", Side: position.Short, Price: 100, ExplicitSL: 115})
	if err != nil {
		t.Fatalf("Derive short: %v", err)
	}
	if !approx(short.Liquidation, 109.6) || !approx(short.StopLoss, 109.5) {
		t.Fatalf("short liq=%v stop=%v", short.Liquidation, short.StopLoss)
	}

	inside, _ := e.Derive(context.Background(), Input{Symbol: "BTCUSDT", Side: position.Long, Price: 100, ExplicitSL: 95})
	if inside.Clamped || inside.StopLoss != 95 {
		t.Fatalf("stop inside liquidation must stay: %+v", inside)
	}
}

func TestTrailingOverride(t *testing.T) {
	s := DefaultSettings()
	s.ExitMode = ExitTrailing
	s.TrailingATRMultiplier = 2
	s.TrailingCallbackPct = 0.3

	lv, err := NewEngine(stubIndicators{atrPct: 0.4, tpPct: 2, slPct: 1}, s).
		Derive(context.Background(), Input{Symbol: "BTCUSDT", Side: position.Long, Price: 100})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if !lv.Trailing || !approx(lv.ActivationPct, 0.8) || !approx(lv.CallbackPct, 0.3) {
		t.Fatalf("unexpected trailing: %+v", lv)
	}
	// stop = entry - act% * price / rr
	if !approx(lv.StopLoss, 99.6) {
		t.Fatalf("stop=%v, expected 99.6", lv.StopLoss)
	}
}

func TestTrailingIgnoresPnLTarget(t *testing.T) {
	s := DefaultSettings()
	s.ExitMode = ExitTrailing
	s.PnLTargetPct = 4

	lv, err := NewEngine(stubIndicators{atrPct: 0.5, tpPct: 2, slPct: 1}, s).
		Derive(context.Background(), Input{Symbol: "BTCUSDT", Side: position.Long, Price: 100})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if lv.Rule != "atr" {
		t.Fatalf("rule=%s, expected atr outside pnl_percent mode", lv.Rule)
	}
	// callback comes from the atr stop percent, activation from current atr
	if !approx(lv.TakeProfit, 102) || !approx(lv.CallbackPct, 1) || !approx(lv.ActivationPct, 0.5) {
		t.Fatalf("unexpected levels: %+v", lv)
	}
	if !approx(lv.StopLoss, 99.75) || !lv.Trailing {
		t.Fatalf("unexpected stop/trailing: %+v", lv)
	}
}

func TestTrailingOverrideFloorsActivation(t *testing.T) {
	s := DefaultSettings()
	s.ExitMode = ExitTrailing
	lv, err := NewEngine(stubIndicators{atrPct: 0.001, tpPct: 2, slPct: 1}, s).
		Derive(context.Background(), Input{Symbol: "BTCUSDT", Side: position.Short, Price: 100})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	// no configured callback: the atr rule's callback (sl%) is reused
	if !approx(lv.ActivationPct, 0.05) || !approx(lv.CallbackPct, 1) || !approx(lv.StopLoss, 100.025) {
		t.Fatalf("unexpected levels: %+v", lv)
	}
}

func TestTrailingSkippedWithExplicitStop(t *testing.T) {
	s := DefaultSettings()
	s.ExitMode = ExitTrailing
	s.TrailingActivationPct = 1
	s.TrailingCallbackPct = 0.5
	ind := stubIndicators{err: errors.New("no candles")}

	lv, err := NewEngine(ind, s).Derive(context.Background(),
		Input{Symbol: "BTCUSDT", Side: position.Long, Price: 100, ExplicitSL: 97})
	if err != nil {
		t.Fatalf("explicit stop must not need atr: %v", err)
	}
	if lv.StopLoss != 97 || !lv.Trailing || lv.ActivationPct != 1 || lv.CallbackPct != 0.5 {
		t.Fatalf("unexpected levels: %+v", lv)
	}
}

func TestDeriveSkips(t *testing.T) {
	tests := []struct {
		name string
		ind  IndicatorSource
		mode ExitMode
		in   Input
	}{
		{"indicator failure", stubIndicators{err: errors.New("boom")}, ExitFixedTP, Input{Symbol: "A", Side: position.Long, Price: 10}},
		{"zero atr levels", stubIndicators{tpPct: 0, slPct: 1}, ExitFixedTP, Input{Symbol: "A", Side: position.Long, Price: 10}},
		{"nan atr levels", stubIndicators{tpPct: math.NaN(), slPct: 1}, ExitFixedTP, Input{Symbol: "A", Side: position.Long, Price: 10}},
		{"trailing atr missing", stubIndicators{tpPct: 2, slPct: 1}, ExitTrailing, Input{Symbol: "A", Side: position.Long, Price: 10}},
		{"no indicator source", nil, ExitFixedTP, Input{Symbol: "A", Side: position.Long, Price: 10}},
		{"zero price", stubIndicators{tpPct: 2, slPct: 1}, ExitFixedTP, Input{Symbol: "A", Side: position.Long}},
		{"stop on wrong side", stubIndicators{}, ExitFixedTP, Input{Symbol: "A", Side: position.Long, Price: 10, ExplicitSL: 11}},
	}
	zeroLev := DefaultSettings()
	zeroLev.Leverage = 0
	if _, err := NewEngine(nil, zeroLev).Derive(context.Background(), Input{Symbol: "A", Side: position.Long, Price: 10, ExplicitSL: 9}); !errors.Is(err, ErrSkip) {
		t.Fatalf("zero leverage: expected ErrSkip, got %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			s.ExitMode = tt.mode
			_, err := NewEngine(tt.ind, s).Derive(context.Background(), tt.in)
			if !errors.Is(err, ErrSkip) {
				t.Fatalf("expected ErrSkip, got %v", err)
			}
		})
	}
}

func TestSettersUpdateSettings(t *testing.T) {
	e := NewEngine(nil, DefaultSettings())
	e.SetExitMode(ExitTrailing)
	e.SetTrailing(0.6, 0.2, 3)
	e.SetLeverage(20, "15m")
	e.SetLeverage(0, "")

	s := e.Settings()
	if s.ExitMode != ExitTrailing || s.TrailingActivationPct != 0.6 || s.TrailingCallbackPct != 0.2 ||
		s.TrailingATRMultiplier != 3 || s.Leverage != 20 || s.Interval != "15m" {
		t.Fatalf("unexpected settings: %+v", s)
	}
	lv, err := e.Derive(context.Background(), Input{Symbol: "BTCUSDT", Side: position.Long, Price: 100, ExplicitSL: 99})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if lv.Leverage != 20 || lv.Interval != "15m" || !approx(lv.Liquidation, LiquidationPrice(position.Long, 100, 20, s.MaintMarginRate)) {
		t.Fatalf("levels must carry the settings they were derived with: %+v", lv)
	}
	if _, err := ParseExitMode("bogus"); err == nil {
		t.Fatalf("expected error for unknown exit mode")
	}
}
