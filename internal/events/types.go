package events

import "time"

// Event enumerates high-level topics inside the engine.
type Event string

const (
	EventPositionOpened Event = "position.opened"
	EventPositionClosed Event = "position.closed"
	EventEntryRejected  Event = "entry.rejected"
	EventRiskAlert      Event = "risk.alert"
	EventCandleClosed   Event = "candle.closed"
)

// PositionOpened is published once a position is admitted and filled.
type PositionOpened struct {
	PositionID string    `json:"position_id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	Qty        float64   `json:"qty"`
	Leverage   int       `json:"leverage"`
	TakeProfit float64   `json:"take_profit"`
	StopLoss   float64   `json:"stop_loss"`
	Trailing   bool      `json:"trailing"`
	Time       time.Time `json:"time"`
}

// PositionClosed is published after settlement.
type PositionClosed struct {
	PositionID string    `json:"position_id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Qty        float64   `json:"qty"`
	Profit     float64   `json:"profit"`
	Reason     string    `json:"reason"`
	Balance    float64   `json:"balance"`
	Time       time.Time `json:"time"`
}

// EntryRejected reports an entry that did not become a position.
type EntryRejected struct {
	Symbol string `json:"symbol"`
	Side   string `json:"side"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// RiskAlert flags a condition that needs operator attention.
type RiskAlert struct {
	Symbol  string    `json:"symbol"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// CandleClosed carries the latest final candle close per symbol.
type CandleClosed struct {
	Symbol string    `json:"symbol"`
	Close  float64   `json:"close"`
	Time   time.Time `json:"time"`
}
