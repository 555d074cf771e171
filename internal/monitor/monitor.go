package monitor

import (
	"context"
	"log"

	"github.com/BirdFarmer/BinanceRepo-sub002/internal/events"
)

// Monitor turns bus events into metrics and alert deliveries.
type Monitor struct {
	Bus     *events.Bus
	Metrics *Metrics
	Alerts  AlertSink
}

// Run consumes events until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	if m.Bus == nil || m.Metrics == nil {
		log.Println("monitor not fully configured; skipping")
		<-ctx.Done()
		return nil
	}
	if m.Alerts == nil {
		m.Alerts = LogSink{}
	}
	stream, unsub := m.Bus.Subscribe(256,
		events.EventPositionOpened,
		events.EventPositionClosed,
		events.EventEntryRejected,
		events.EventRiskAlert,
		events.EventCandleClosed,
	)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-stream:
			if !ok {
				return nil
			}
			m.handle(msg)
		}
	}
}

func (m *Monitor) handle(msg any) {
	switch ev := msg.(type) {
	case events.PositionOpened:
		m.Metrics.ObserveEntry(ev.Side)
	case events.PositionClosed:
		m.Metrics.ObserveExit(ev.Reason, ev.Side, ev.Profit, ev.Balance)
	case events.EntryRejected:
		m.Metrics.ObserveRejection(ev.Code)
	case events.CandleClosed:
		m.Metrics.ObserveCandle()
	case events.RiskAlert:
		m.Metrics.ObserveAlert(ev.Kind)
		if err := m.Alerts.Send(formatAlert(ev)); err != nil {
			log.Printf("monitor: alert delivery failed: %v", err)
		}
	}
}
