package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/BirdFarmer/BinanceRepo-sub002/internal/position"
	"github.com/BirdFarmer/BinanceRepo-sub002/pkg/db"
)

// ErrNoRecord is returned when closing a position that was never journaled.
var ErrNoRecord = errors.New("position has no trade record")

// TradeSink journals position opens and closes into the trades table.
type TradeSink struct {
	db       *db.Database
	writes   atomic.Uint64
	failures atomic.Uint64
}

func NewTradeSink(database *db.Database) *TradeSink {
	return &TradeSink{db: database}
}

// LogOpen inserts an open trade row and returns its id.
func (s *TradeSink) LogOpen(ctx context.Context, p position.Position, sessionID string) (int64, error) {
	id, err := s.db.InsertTrade(ctx, db.Trade{
		PositionID:       p.ID,
		SessionID:        sessionID,
		Symbol:           p.Symbol,
		Side:             string(p.Side),
		Signal:           p.Signal,
		Interval:         p.Interval,
		EntryPrice:       p.EntryPrice,
		Qty:              p.Qty,
		Leverage:         p.Leverage,
		Margin:           p.Margin,
		TakeProfit:       p.TakeProfit,
		StopLoss:         p.StopLoss,
		LiquidationPrice: p.Liquidation,
		Trailing:         p.Trailing.Enabled,
		EntryTime:        p.EntryTime,
		KlineTime:        p.KlineTime,
	})
	return id, s.track(err, "log open")
}

// LogClose marks the trade row of a closed position. Closures that were not
// finalized are stamped with the current time.
func (s *TradeSink) LogClose(ctx context.Context, c position.Closure, _ string) error {
	if c.Position.TradeID == 0 {
		return s.track(fmt.Errorf("%w: %s", ErrNoRecord, c.Position.ID), "log close")
	}
	c = c.Finalize(time.Now())
	err := s.db.CloseTrade(ctx, c.Position.TradeID, c.ExitPrice, c.ExitTime, c.Profit, string(c.Reason))
	return s.track(err, "log close")
}

// GetTrades lists the session's trades, newest first.
func (s *TradeSink) GetTrades(ctx context.Context, sessionID string) ([]db.Trade, error) {
	return s.db.ListTrades(ctx, sessionID, 0)
}

// Stats reports successful writes and failures.
func (s *TradeSink) Stats() (writes, failures uint64) {
	return s.writes.Load(), s.failures.Load()
}

func (s *TradeSink) track(err error, op string) error {
	if err != nil {
		s.failures.Add(1)
		return fmt.Errorf("%s: %w", op, err)
	}
	s.writes.Add(1)
	return nil
}
