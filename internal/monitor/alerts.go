package monitor

import (
	"fmt"
	"log"
	"time"

	"github.com/BirdFarmer/BinanceRepo-sub002/internal/events"
)

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(message string) error
}

// LogSink writes alerts to the process log.
type LogSink struct{}

func (LogSink) Send(message string) error {
	log.Printf("ALERT %s", message)
	return nil
}

func formatAlert(a events.RiskAlert) string {
	ts := a.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return fmt.Sprintf("[%s] %s %s: %s", ts.UTC().Format(time.RFC3339), a.Kind, a.Symbol, a.Message)
}
