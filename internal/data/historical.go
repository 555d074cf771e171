package data

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/BirdFarmer/BinanceRepo-sub002/internal/market"
	marketpkg "github.com/BirdFarmer/BinanceRepo-sub002/pkg/market/binance"
)

// KlineClient fetches klines in pages.
type KlineClient interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int, startTime, endTime int64) ([]marketpkg.Kline, error)
}

// HistoricalDataService fetches historical market data.
type HistoricalDataService struct {
	client   KlineClient
	pageSize int
}

// NewHistoricalDataService creates a new service instance.
func NewHistoricalDataService(client KlineClient) *HistoricalDataService {
	return &HistoricalDataService{client: client, pageSize: marketpkg.MaxKlinesPerRequest}
}

// Range returns the closed candles whose open time lies in [start, end),
// paging forward until the window is covered. A fetch error on a later page
// returns what was collected so far together with the error.
func (s *HistoricalDataService) Range(ctx context.Context, symbol, interval string, start, end time.Time) ([]market.Candle, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("empty window %s..%s", start, end)
	}
	var out []market.Candle
	cursor := start.UnixMilli()
	endMs := end.UnixMilli()

	for cursor < endMs {
		klines, err := s.client.GetKlines(ctx, symbol, interval, s.pageSize, cursor, endMs-1)
		if err != nil {
			return out, fmt.Errorf("klines %s from %d: %w", symbol, cursor, err)
		}
		if len(klines) == 0 {
			break
		}
		next := cursor
		for _, k := range klines {
			if k.OpenTime < cursor || k.OpenTime >= endMs {
				continue
			}
			c := market.FromKline(k)
			c.Symbol = symbol
			if c.Closed {
				out = append(out, c)
			}
			next = k.OpenTime + 1
		}
		if next == cursor {
			break
		}
		cursor = next
		if len(klines) < s.pageSize {
			break
		}
	}
	log.Printf("data: loaded %d %s candles for %s", len(out), interval, symbol)
	return out, nil
}
