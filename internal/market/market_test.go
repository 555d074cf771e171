package market

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BirdFarmer/BinanceRepo-sub002/internal/events"
	marketpkg "github.com/BirdFarmer/BinanceRepo-sub002/pkg/market/binance"
)

func candle(symbol string, minute int, close float64) Candle {
	open := time.Date(2024, 1, 1, 0, minute, 0, 0, time.UTC)
	return Candle{Symbol: symbol, OpenTime: open, CloseTime: open.Add(time.Minute), Open: close, High: close, Low: close, Close: close, Closed: true}
}

func TestStorePutOrdering(t *testing.T) {
	s := NewStore(3)
	if s.Put("1m", Candle{Symbol: "BTCUSDT", Close: 1}) {
		t.Fatalf("forming candle must be ignored")
	}
	for i := 0; i < 5; i++ {
		if !s.Put("1m", candle("BTCUSDT", i, float64(100+i))) {
			t.Fatalf("candle %d not stored", i)
		}
	}
	if s.Put("1m", candle("BTCUSDT", 4, 200)) {
		t.Fatalf("replacement must not report a new candle")
	}
	if s.Put("1m", candle("BTCUSDT", 1, 1)) {
		t.Fatalf("stale candle must be ignored")
	}

	got, err := s.Candles(context.Background(), "BTCUSDT", "1m", 0)
	if err != nil {
		t.Fatalf("Candles: %v", err)
	}
	if len(got) != 3 || got[0].Close != 102 || got[2].Close != 200 {
		t.Fatalf("unexpected series: %+v", got)
	}
	if last, ok := s.Last("BTCUSDT", "1m"); !ok || last.Close != 200 {
		t.Fatalf("Last=%+v ok=%v", last, ok)
	}
	if _, err := s.Candles(context.Background(), "ETHUSDT", "1m", 10); !errors.Is(err, ErrNoCandles) {
		t.Fatalf("expected ErrNoCandles, got %v", err)
	}
}

type fakeKlines struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeKlines) GetKlines(_ context.Context, symbol, _ string, limit int, _, _ int64) ([]marketpkg.Kline, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	out := make([]marketpkg.Kline, 0, limit)
	for i := 0; i < limit && i < 3; i++ {
		out = append(out, marketpkg.Kline{
			Symbol: symbol, OpenTime: int64(i) * 60000, CloseTime: int64(i)*60000 + 59999,
			Close: float64(100 + i), Closed: true,
		})
	}
	return out, nil
}

type fakeStream struct{}

func (fakeStream) SubscribeKlines(ctx context.Context, symbol, _ string) (<-chan marketpkg.Kline, func(), error) {
	ch := make(chan marketpkg.Kline, 2)
	ch <- marketpkg.Kline{Symbol: symbol, OpenTime: 3 * 60000, Close: 104}
	ch <- marketpkg.Kline{Symbol: symbol, OpenTime: 3 * 60000, CloseTime: 4*60000 - 1, Close: 105, Closed: true}
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, func() {}, nil
}

func TestFeedWarmsUpAndStreams(t *testing.T) {
	bus := events.NewBus()
	closedCh, unsub := bus.Subscribe(8, events.EventCandleClosed)
	defer unsub()

	store := NewStore(0)
	var mu sync.Mutex
	ticks := map[string][]float64{}
	f := &Feed{
		Client:       &fakeKlines{},
		Stream:       fakeStream{},
		Store:        store,
		Bus:          bus,
		Symbols:      []string{"BTCUSDT"},
		Interval:     "1m",
		PollInterval: time.Hour,
		OnTick: func(symbol string, price float64) {
			mu.Lock()
			ticks[symbol] = append(ticks[symbol], price)
			mu.Unlock()
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	select {
	case ev := <-closedCh:
		c, ok := ev.(events.CandleClosed)
		if !ok || c.Close != 105 {
			t.Fatalf("unexpected event: %#v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no candle published")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, _ := store.Candles(context.Background(), "BTCUSDT", "1m", 0)
	if len(got) != 4 || got[3].Close != 105 {
		t.Fatalf("unexpected store: %+v", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if p := ticks["BTCUSDT"]; len(p) < 2 || p[0] != 104 || p[1] != 105 {
		t.Fatalf("ticks=%v, expected forming and closed prices", p)
	}
}
