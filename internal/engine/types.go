package engine

import (
	"time"

	"github.com/BirdFarmer/BinanceRepo-sub002/internal/position"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/risk"
)

// Signal is an entry request from a signal producer or the API. Zero
// TakeProfit/StopLoss mean the risk engine derives them; zero Price means the
// last observed tick is used.
type Signal struct {
	Symbol     string        `json:"symbol"`
	Side       position.Side `json:"side"`
	Tag        string        `json:"signal,omitempty"`
	Price      float64       `json:"price,omitempty"`
	TakeProfit float64       `json:"take_profit,omitempty"`
	StopLoss   float64       `json:"stop_loss,omitempty"`
	KlineTime  time.Time     `json:"kline_time,omitempty"`
}

// BalanceInfo represents balance information.
type BalanceInfo struct {
	Available float64 `json:"available"`
	Reserved  float64 `json:"reserved"`
	Realized  float64 `json:"realized_pnl"`
	Total     float64 `json:"total"`
}

// SystemStatus represents the system runtime status.
type SystemStatus struct {
	Mode          string        `json:"mode"`
	SessionID     string        `json:"session_id"`
	Symbols       []string      `json:"symbols"`
	Ready         bool          `json:"ready"`
	Halted        bool          `json:"halted"`
	OpenPositions int           `json:"open_positions"`
	Capacity      int           `json:"capacity"`
	Filter        string        `json:"direction_filter"`
	Risk          risk.Settings `json:"risk"`
	ServerTime    time.Time     `json:"server_time"`
}
