package market

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BirdFarmer/BinanceRepo-sub002/internal/events"
	marketpkg "github.com/BirdFarmer/BinanceRepo-sub002/pkg/market/binance"
)

// KlineClient is the REST side of the market data API.
type KlineClient interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int, startTime, endTime int64) ([]marketpkg.Kline, error)
}

// KlineStreamer is the websocket side of the market data API.
type KlineStreamer interface {
	SubscribeKlines(ctx context.Context, symbol, interval string) (<-chan marketpkg.Kline, func(), error)
}

// Feed keeps the Store current for a set of symbols and reports every price
// update to OnTick. It streams klines over websocket and polls REST as a gap
// filler; without a Stream it polls only.
type Feed struct {
	Client       KlineClient
	Stream       KlineStreamer
	Store        *Store
	Bus          events.Publisher
	Symbols      []string
	Interval     string
	PollInterval time.Duration
	WarmupBars   int

	// OnTick receives the latest price of a symbol, forming bar included.
	OnTick func(symbol string, price float64)
	// OnCandle receives each newly stored closed candle.
	OnCandle func(c Candle)
}

// Run warms the store up and blocks until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	if f.Client == nil || f.Store == nil {
		return errors.New("market feed: client and store are required")
	}
	if f.PollInterval <= 0 {
		f.PollInterval = 30 * time.Second
	}
	if f.WarmupBars <= 0 {
		f.WarmupBars = 200
	}

	f.warmup(ctx)

	g, ctx := errgroup.WithContext(ctx)
	if f.Stream != nil {
		for _, sym := range f.Symbols {
			symbol := sym
			g.Go(func() error {
				f.stream(ctx, symbol)
				return nil
			})
		}
	}
	g.Go(func() error {
		f.poll(ctx)
		return nil
	})
	return g.Wait()
}

func (f *Feed) warmup(ctx context.Context) {
	for _, sym := range f.Symbols {
		klines, err := f.Client.GetKlines(ctx, sym, f.Interval, f.WarmupBars, 0, 0)
		if err != nil {
			log.Printf("market feed: warmup %s error: %v", sym, err)
			continue
		}
		stored := 0
		for _, k := range klines {
			if f.Store.Put(f.Interval, FromKline(k)) {
				stored++
			}
		}
		log.Printf("market feed: warmed %s with %d candles", sym, stored)
	}
}

// stream resubscribes with a short pause whenever the socket drops.
func (f *Feed) stream(ctx context.Context, symbol string) {
	for ctx.Err() == nil {
		ch, stop, err := f.Stream.SubscribeKlines(ctx, symbol, f.Interval)
		if err != nil {
			log.Printf("market feed: ws subscribe %s error: %v", symbol, err)
		} else {
			for k := range ch {
				f.ingest(FromKline(k))
			}
			stop()
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (f *Feed) poll(ctx context.Context) {
	ticker := time.NewTicker(f.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sym := range f.Symbols {
				klines, err := f.Client.GetKlines(ctx, sym, f.Interval, 2, 0, 0)
				if err != nil {
					log.Printf("market feed: snapshot %s error: %v", sym, err)
					continue
				}
				for _, k := range klines {
					f.ingest(FromKline(k))
				}
			}
		}
	}
}

func (f *Feed) ingest(c Candle) {
	if c.Symbol == "" || c.Close <= 0 {
		return
	}
	if f.OnTick != nil {
		f.OnTick(c.Symbol, c.Close)
	}
	if !f.Store.Put(f.Interval, c) {
		return
	}
	if f.Bus != nil {
		f.Bus.Publish(events.EventCandleClosed, events.CandleClosed{Symbol: c.Symbol, Close: c.Close, Time: c.CloseTime})
	}
	if f.OnCandle != nil {
		f.OnCandle(c)
	}
}
