package market

import (
	"context"
	"errors"
	"time"

	marketpkg "github.com/BirdFarmer/BinanceRepo-sub002/pkg/market/binance"
)

// ErrNoCandles is returned when a series has not been populated yet.
var ErrNoCandles = errors.New("no candles for series")

// Candle is a final OHLCV bar.
type Candle struct {
	Symbol    string    `json:"symbol"`
	OpenTime  time.Time `json:"open_time"`
	CloseTime time.Time `json:"close_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Closed    bool      `json:"closed"`
}

// FromKline converts an exchange kline.
func FromKline(k marketpkg.Kline) Candle {
	return Candle{
		Symbol:    k.Symbol,
		OpenTime:  time.UnixMilli(k.OpenTime).UTC(),
		CloseTime: time.UnixMilli(k.CloseTime).UTC(),
		Open:      k.Open,
		High:      k.High,
		Low:       k.Low,
		Close:     k.Close,
		Volume:    k.Volume,
		Closed:    k.Closed,
	}
}

// CandleSource serves the most recent closed candles of a series, oldest first.
type CandleSource interface {
	Candles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}
