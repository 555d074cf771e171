// Package engine owns the position lifecycle: entry admission, simulated or
// exchange-backed fills, per-tick exits and settlement.
package engine

import (
	"context"
	"time"

	"github.com/BirdFarmer/BinanceRepo-sub002/internal/position"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/risk"
	"github.com/BirdFarmer/BinanceRepo-sub002/pkg/db"
)

// Service defines the interface for trading engine operations.
// The API layer should only interact with the engine through this interface.
type Service interface {
	// Entries and exits
	Enter(ctx context.Context, sig Signal) (position.Position, error)
	CloseAll(ctx context.Context, prices map[string]float64, ts time.Time) []position.Closure

	// Queries
	OpenPositions() []position.Position
	Balance() BalanceInfo
	Status() SystemStatus

	// Halt disables new entries; open positions stay managed
	Halt()

	// Runtime configuration; applies to positions opened afterwards
	SetExitMode(mode risk.ExitMode)
	SetTrailingConfig(activationPct, callbackPct, atrMultiplier float64)
	UpdateLeverageAndInterval(leverage int, interval string) error
	SetDirectionFilter(f position.DirectionFilter)
}

// TradeReader defines read-only journal access for the API layer.
type TradeReader interface {
	ListTrades(ctx context.Context, sessionID string, limit int) ([]db.Trade, error)
	SessionStats(ctx context.Context, sessionID string) (db.TradeStats, error)
}

// Sink records position opens and closes.
type Sink interface {
	LogOpen(ctx context.Context, p position.Position, sessionID string) (int64, error)
	LogClose(ctx context.Context, c position.Closure, sessionID string) error
}

// SymbolRules rounds quantities and prices to exchange filters.
type SymbolRules interface {
	IsReady() bool
	RoundQty(symbol string, qty float64) (float64, bool)
	RoundPrice(symbol string, price float64) (float64, bool)
}

var _ Service = (*Controller)(nil)
