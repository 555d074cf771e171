package reconciliation

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/BirdFarmer/BinanceRepo-sub002/internal/events"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/position"
	"github.com/BirdFarmer/BinanceRepo-sub002/pkg/exchanges/common"
)

// ExchangePositions lists the positions the exchange holds.
type ExchangePositions interface {
	OpenPositions(ctx context.Context) ([]common.PositionInfo, error)
}

// LocalBook is the engine's view of open positions.
type LocalBook interface {
	Snapshot() []position.Position
}

// Settler closes a local position the exchange no longer holds.
type Settler interface {
	SettleExchangeClose(ctx context.Context, symbol string) bool
}

// Service periodically compares local positions with the exchange.
type Service struct {
	exchange ExchangePositions
	local    LocalBook
	settler  Settler
	bus      events.Publisher
	interval time.Duration
	grace    time.Duration
	now      func() time.Time
	mu       sync.Mutex
}

// Report contains reconciliation results
type Report struct {
	Timestamp time.Time
	Diffs     []Diff
	Settled   int
}

func (r *Report) HasDiffs() bool { return len(r.Diffs) > 0 }

// DiffKind classifies a mismatch.
type DiffKind string

const (
	// DiffMissing: open locally, flat on the exchange (stop or target filled there).
	DiffMissing DiffKind = "missing_on_exchange"
	// DiffOrphan: open on the exchange, unknown locally.
	DiffOrphan DiffKind = "orphan_on_exchange"
	// DiffQty: both sides hold the symbol with different size or direction.
	DiffQty DiffKind = "quantity_mismatch"
)

// Diff represents a position difference
type Diff struct {
	Symbol      string
	Kind        DiffKind
	LocalQty    float64
	ExchangeQty float64
	Settled     bool
}

// NewService builds a reconciler. grace skips positions younger than it,
// which may not have reached the exchange yet.
func NewService(exchange ExchangePositions, local LocalBook, settler Settler, bus events.Publisher, interval, grace time.Duration) *Service {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Service{
		exchange: exchange,
		local:    local,
		settler:  settler,
		bus:      bus,
		interval: interval,
		grace:    grace,
		now:      time.Now,
	}
}

// Run reconciles every interval until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	log.Printf("reconciliation: started (interval: %v)", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			report, err := s.Reconcile(ctx)
			if err != nil {
				log.Printf("reconciliation: error: %v", err)
				continue
			}
			s.handleReport(report)
		case <-ctx.Done():
			return nil
		}
	}
}

// Reconcile performs one comparison pass.
func (s *Service) Reconcile(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &Report{Timestamp: s.now()}
	if s.exchange == nil {
		return report, nil
	}

	remote, err := s.exchange.OpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch exchange positions: %w", err)
	}
	bySymbol := make(map[string]common.PositionInfo, len(remote))
	for _, p := range remote {
		bySymbol[p.Symbol] = p
	}

	known := make(map[string]bool)
	for _, p := range s.local.Snapshot() {
		known[p.Symbol] = true
		localQty := p.Qty * p.Side.Sign()
		ex, ok := bySymbol[p.Symbol]
		if !ok {
			if s.now().Sub(p.EntryTime) < s.grace {
				continue
			}
			diff := Diff{Symbol: p.Symbol, Kind: DiffMissing, LocalQty: localQty}
			if s.settler != nil && s.settler.SettleExchangeClose(ctx, p.Symbol) {
				diff.Settled = true
				report.Settled++
			}
			report.Diffs = append(report.Diffs, diff)
			continue
		}
		if math.Abs(ex.Amount-localQty) > qtyTolerance(p.Qty) {
			report.Diffs = append(report.Diffs, Diff{Symbol: p.Symbol, Kind: DiffQty, LocalQty: localQty, ExchangeQty: ex.Amount})
		}
	}
	for symbol, ex := range bySymbol {
		if !known[symbol] {
			report.Diffs = append(report.Diffs, Diff{Symbol: symbol, Kind: DiffOrphan, ExchangeQty: ex.Amount})
		}
	}
	return report, nil
}

func qtyTolerance(qty float64) float64 {
	return math.Max(1e-8, qty*1e-6)
}

func (s *Service) handleReport(report *Report) {
	if !report.HasDiffs() {
		return
	}
	for _, d := range report.Diffs {
		log.Printf("reconciliation: %s %s local=%.6f exchange=%.6f settled=%v",
			d.Symbol, d.Kind, d.LocalQty, d.ExchangeQty, d.Settled)
		if d.Settled || s.bus == nil {
			continue
		}
		s.bus.Publish(events.EventRiskAlert, events.RiskAlert{
			Symbol:  d.Symbol,
			Kind:    string(d.Kind),
			Message: fmt.Sprintf("local=%.6f exchange=%.6f", d.LocalQty, d.ExchangeQty),
			Time:    report.Timestamp,
		})
	}
}
