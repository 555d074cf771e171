package db

import "time"

// Trade is one journal row: a position from entry to (optional) exit.
type Trade struct {
	ID               int64
	PositionID       string
	SessionID        string
	Symbol           string
	Side             string
	Signal           string
	Interval         string
	EntryPrice       float64
	Qty              float64
	Leverage         int
	Margin           float64
	TakeProfit       float64
	StopLoss         float64
	LiquidationPrice float64
	Trailing         bool
	ExitMode         string
	EntryTime        time.Time
	KlineTime        time.Time
	ExitPrice        float64
	ExitTime         time.Time
	Profit           float64
	CloseReason      string
	Closed           bool
}

// Session marks one engine run.
type Session struct {
	ID        string
	Mode      string
	Host      string
	StartedAt time.Time
}

// TradeStats summarises the closed trades of a session.
type TradeStats struct {
	Trades int
	Wins   int
	Losses int
	NetPnL float64
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
