package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BirdFarmer/BinanceRepo-sub002/internal/position"
	"github.com/BirdFarmer/BinanceRepo-sub002/pkg/db"
)

func newSink(t *testing.T) *TradeSink {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return NewTradeSink(database)
}

func TestSinkOpenClose(t *testing.T) {
	sink := newSink(t)
	ctx := context.Background()

	p := position.Position{
		ID: "pos-1", Symbol: "BTCUSDT", Side: position.Short, EntryPrice: 100, Qty: 2,
		Leverage: 10, Margin: 20, TakeProfit: 96, StopLoss: 102, Liquidation: 109.6,
		Trailing:  position.Trailing{Enabled: true, ActivationPct: 1, CallbackPct: 0.5},
		EntryTime: time.Now(),
	}
	id, err := sink.LogOpen(ctx, p, "s1")
	if err != nil || id == 0 {
		t.Fatalf("LogOpen id=%d err=%v", id, err)
	}
	p.TradeID = id

	exitAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cl := position.Closure{Position: p, ExitPrice: 97, Reason: position.ReasonTrailingStop}.Finalize(exitAt)
	if err := sink.LogClose(ctx, cl, "s1"); err != nil {
		t.Fatalf("LogClose: %v", err)
	}

	trades, err := sink.GetTrades(ctx, "s1")
	if err != nil || len(trades) != 1 {
		t.Fatalf("GetTrades=%v err=%v", trades, err)
	}
	tr := trades[0]
	if !tr.Closed || tr.Profit != 6 || tr.CloseReason != "trailing_stop" || !tr.Trailing || tr.Side != "SHORT" {
		t.Fatalf("unexpected trade: %+v", tr)
	}
	if !tr.ExitTime.Equal(exitAt) {
		t.Fatalf("exit time=%v, expected the closure's %v", tr.ExitTime, exitAt)
	}
	if w, f := sink.Stats(); w != 2 || f != 0 {
		t.Fatalf("stats=%d/%d", w, f)
	}
}

func TestSinkCloseWithoutRecord(t *testing.T) {
	sink := newSink(t)
	err := sink.LogClose(context.Background(), position.Closure{Position: position.Position{ID: "x"}}, "s1")
	if !errors.Is(err, ErrNoRecord) {
		t.Fatalf("expected ErrNoRecord, got %v", err)
	}
	if _, f := sink.Stats(); f != 1 {
		t.Fatalf("failure not counted")
	}
}
