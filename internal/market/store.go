package market

import (
	"context"
	"fmt"
	"sync"
)

// DefaultStoreDepth bounds each series kept in a Store.
const DefaultStoreDepth = 500

// Store is an in-memory CandleSource fed by the live feed or the backtest
// replay. Only closed candles are kept, so readers never see a forming bar.
type Store struct {
	mu     sync.RWMutex
	depth  int
	series map[string][]Candle
}

func NewStore(depth int) *Store {
	if depth <= 0 {
		depth = DefaultStoreDepth
	}
	return &Store{depth: depth, series: make(map[string][]Candle)}
}

func seriesKey(symbol, interval string) string { return symbol + "@" + interval }

// Put stores a closed candle and reports whether it extended the series.
// A candle with the same open time as the last one replaces it in place;
// older candles are ignored.
func (s *Store) Put(interval string, c Candle) bool {
	if !c.Closed {
		return false
	}
	key := seriesKey(c.Symbol, interval)

	s.mu.Lock()
	defer s.mu.Unlock()

	arr := s.series[key]
	if n := len(arr); n > 0 {
		last := arr[n-1]
		switch {
		case c.OpenTime.Equal(last.OpenTime):
			arr[n-1] = c
			return false
		case c.OpenTime.Before(last.OpenTime):
			return false
		}
	}
	arr = append(arr, c)
	if len(arr) > s.depth {
		arr = append(arr[:0:0], arr[len(arr)-s.depth:]...)
	}
	s.series[key] = arr
	return true
}

// Candles returns up to limit of the newest candles, oldest first.
func (s *Store) Candles(_ context.Context, symbol, interval string, limit int) ([]Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	arr := s.series[seriesKey(symbol, interval)]
	if len(arr) == 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrNoCandles, symbol, interval)
	}
	if limit > 0 && len(arr) > limit {
		arr = arr[len(arr)-limit:]
	}
	out := make([]Candle, len(arr))
	copy(out, arr)
	return out, nil
}

// Last returns the newest candle of a series.
func (s *Store) Last(symbol, interval string) (Candle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.series[seriesKey(symbol, interval)]
	if len(arr) == 0 {
		return Candle{}, false
	}
	return arr[len(arr)-1], true
}

// Reset drops every series.
func (s *Store) Reset() {
	s.mu.Lock()
	s.series = make(map[string][]Candle)
	s.mu.Unlock()
}
