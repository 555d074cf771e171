package backtest

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/BirdFarmer/BinanceRepo-sub002/internal/engine"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/market"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/position"
)

// ledgerEngine settles closures from a real ledger against a fixed balance.
type ledgerEngine struct {
	ledger  *position.Ledger
	balance float64
	ticks   []float64
}

func (e *ledgerEngine) EvaluateTicks(_ context.Context, prices map[string]float64, _ time.Time) []position.Closure {
	for _, p := range prices {
		e.ticks = append(e.ticks, p)
	}
	return e.settle(e.ledger.Evaluate(prices))
}

func (e *ledgerEngine) CloseAll(_ context.Context, prices map[string]float64, _ time.Time) []position.Closure {
	return e.settle(e.ledger.Drain(prices, position.ReasonCloseAll))
}

func (e *ledgerEngine) settle(closed []position.Closure) []position.Closure {
	for _, cl := range closed {
		e.balance += cl.PnL()
	}
	return closed
}

func (e *ledgerEngine) Balance() engine.BalanceInfo {
	return engine.BalanceInfo{Available: e.balance, Total: e.balance}
}

var t0 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func candle(symbol string, i int, o, h, l, c float64) market.Candle {
	open := t0.Add(time.Duration(i) * time.Minute)
	return market.Candle{
		Symbol: symbol, OpenTime: open, CloseTime: open.Add(time.Minute - time.Millisecond),
		Open: o, High: h, Low: l, Close: c, Closed: true,
	}
}

func TestReplaySettlesAndSummarises(t *testing.T) {
	eng := &ledgerEngine{ledger: position.NewLedger(8, position.DirectionBoth), balance: 1000}
	clock := &Clock{}
	store := market.NewStore(0)

	var entryTimes []time.Time
	open := func(symbol string, side position.Side, price, tp, sl float64) {
		p := position.Position{ID: symbol, Symbol: symbol, Side: side, EntryPrice: price, Qty: 1, TakeProfit: tp, StopLoss: sl}
		if err := eng.ledger.Admit(p, nil); err != nil {
			t.Fatalf("admit %s: %v", symbol, err)
		}
		entryTimes = append(entryTimes, clock.Now())
	}

	r := &Replay{
		Engine:   eng,
		Store:    store,
		Interval: "1m",
		Clock:    clock,
		OnCandle: func(_ context.Context, c market.Candle) {
			switch {
			case c.Symbol == "BTCUSDT" && c.OpenTime.Equal(t0):
				open("BTCUSDT", position.Long, c.Close, 102, 98)
			case c.Symbol == "ETHUSDT" && c.OpenTime.Equal(t0):
				open("ETHUSDT", position.Short, c.Close, 48, 52)
			case c.Symbol == "ETHUSDT" && c.OpenTime.Equal(t0.Add(time.Minute)):
				open("ETHUSDT", position.Short, c.Close, 47, 51)
			}
		},
	}

	series := map[string][]market.Candle{
		"BTCUSDT": {
			candle("BTCUSDT", 0, 100, 100, 100, 100),
			candle("BTCUSDT", 1, 100, 103, 99.5, 101), // up bar: low first, then TP
		},
		"ETHUSDT": {
			candle("ETHUSDT", 0, 50, 50, 50, 50),
			candle("ETHUSDT", 1, 50, 53, 49, 49), // down bar: high first, short stopped
			candle("ETHUSDT", 2, 49, 49.5, 48, 48.5),
		},
	}

	sum, err := r.Run(context.Background(), series)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Candles != 5 || sum.Trades != 3 || sum.Wins != 2 || sum.Losses != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if math.Abs(sum.NetPnL-0.5) > 1e-9 || math.Abs(sum.FinalBalance-1000.5) > 1e-9 {
		t.Fatalf("net=%v final=%v, expected 0.5 and 1000.5", sum.NetPnL, sum.FinalBalance)
	}
	if math.Abs(sum.MaxDrawdown-2) > 1e-9 {
		t.Fatalf("max drawdown=%v, expected 2", sum.MaxDrawdown)
	}
	if sum.ByReason[position.ReasonTakeProfit] != 1 || sum.ByReason[position.ReasonStopLoss] != 1 || sum.ByReason[position.ReasonCloseAll] != 1 {
		t.Fatalf("by reason: %v", sum.ByReason)
	}
	if eng.ledger.Len() != 0 {
		t.Fatalf("positions left open after replay")
	}
	if !entryTimes[0].Equal(series["BTCUSDT"][0].CloseTime) {
		t.Fatalf("clock not driven by candle close: %v", entryTimes[0])
	}
	if got, _ := store.Candles(context.Background(), "ETHUSDT", "1m", 10); len(got) != 3 {
		t.Fatalf("store has %d ETH candles, expected 3", len(got))
	}
}

func TestReplayRejectsEmptyInput(t *testing.T) {
	r := &Replay{Engine: &ledgerEngine{ledger: position.NewLedger(1, position.DirectionBoth)}}
	if _, err := r.Run(context.Background(), nil); !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestIntrabarPath(t *testing.T) {
	tests := []struct {
		name string
		c    market.Candle
		want []float64
	}{
		{"up", market.Candle{Open: 1, High: 4, Low: 0.5, Close: 3}, []float64{1, 0.5, 4, 3}},
		{"down", market.Candle{Open: 3, High: 4, Low: 0.5, Close: 1}, []float64{3, 4, 0.5, 1}},
	}
	for _, tt := range tests {
		got := intrabarPath(tt.c)
		for i := range tt.want {
			if got[i] != tt.want[i] {
				t.Fatalf("%s: path=%v, expected %v", tt.name, got, tt.want)
			}
		}
	}
}

func TestMergeOrdersByCloseThenSymbol(t *testing.T) {
	forming := candle("ETHUSDT", 3, 1, 1, 1, 1)
	forming.Closed = false
	got := merge(map[string][]market.Candle{
		"ETHUSDT": {candle("ETHUSDT", 0, 1, 1, 1, 1), candle("ETHUSDT", 1, 1, 1, 1, 1), forming},
		"BTCUSDT": {candle("BTCUSDT", 1, 1, 1, 1, 1), candle("BTCUSDT", 0, 1, 1, 1, 1)},
	})
	want := []string{"BTCUSDT", "ETHUSDT", "BTCUSDT", "ETHUSDT"}
	if len(got) != len(want) {
		t.Fatalf("len=%d, expected %d", len(got), len(want))
	}
	for i, c := range got {
		if c.Symbol != want[i] {
			t.Fatalf("order[%d]=%s, expected %s", i, c.Symbol, want[i])
		}
	}
}
