package events

import "testing"

func TestBusFanOutAndUnsubscribe(t *testing.T) {
	bus := NewBus()
	both, unsubBoth := bus.Subscribe(4, EventPositionOpened, EventPositionClosed)
	closedOnly, unsubClosed := bus.Subscribe(4, EventPositionClosed)
	defer unsubClosed()

	bus.Publish(EventPositionOpened, PositionOpened{Symbol: "BTCUSDT"})
	bus.Publish(EventPositionClosed, PositionClosed{Symbol: "BTCUSDT"})

	if got := len(both); got != 2 {
		t.Fatalf("multi-topic subscriber got %d events, expected 2", got)
	}
	if got := len(closedOnly); got != 1 {
		t.Fatalf("closed subscriber got %d events, expected 1", got)
	}

	unsubBoth()
	unsubBoth() // second call is a no-op
	bus.Publish(EventPositionClosed, PositionClosed{})
	if got := len(closedOnly); got != 2 {
		t.Fatalf("remaining subscriber got %d events, expected 2", got)
	}
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := NewBus()
	_, unsub := bus.Subscribe(1, EventRiskAlert)
	defer unsub()

	bus.Publish(EventRiskAlert, RiskAlert{})
	bus.Publish(EventRiskAlert, RiskAlert{})
	if bus.Dropped() != 1 {
		t.Fatalf("dropped=%d, expected 1", bus.Dropped())
	}
}
