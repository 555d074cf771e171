package position

import (
	"errors"
	"log"
	"math"
	"sort"
	"sync"
	"time"
)

// DefaultCapacity is the maximum number of concurrently open positions.
const DefaultCapacity = 8

var (
	ErrDirectionFiltered = errors.New("direction excluded by filter")
	ErrCapacity          = errors.New("open position capacity reached")
	ErrDuplicateSymbol   = errors.New("symbol already has an open position")
	ErrInvalidPosition   = errors.New("invalid position")
)

// Closure is a position removed from the ledger by a close path. ExitTime,
// Profit and Closed are filled in by Finalize when the closure is settled.
type Closure struct {
	Position  Position
	ExitPrice float64
	Reason    CloseReason
	ExitTime  time.Time
	Profit    float64
	Closed    bool
}

// PnL of the closure.
func (c Closure) PnL() float64 { return c.Position.PnL(c.ExitPrice) }

// Finalize stamps the exit time and realized profit. A finalized closure is
// returned unchanged.
func (c Closure) Finalize(at time.Time) Closure {
	if c.Closed {
		return c
	}
	c.ExitTime = at
	c.Profit = c.PnL()
	c.Closed = true
	return c
}

// Ledger is the table of open positions, keyed by symbol. Admission, removal
// and tick evaluation all happen under one lock, so readers only ever see
// fully built positions and capacity cannot be overshot.
type Ledger struct {
	mu       sync.RWMutex
	capacity int
	filter   DirectionFilter
	open     map[string]*Position
}

func NewLedger(capacity int, filter DirectionFilter) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if filter == "" {
		filter = DirectionBoth
	}
	return &Ledger{
		capacity: capacity,
		filter:   filter,
		open:     make(map[string]*Position),
	}
}

func (l *Ledger) SetFilter(f DirectionFilter) {
	l.mu.Lock()
	l.filter = f
	l.mu.Unlock()
}

func (l *Ledger) Filter() DirectionFilter {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.filter
}

func (l *Ledger) Capacity() int { return l.capacity }

// Check runs the admission rules without mutating the ledger. Entry paths use
// it to reject early before deriving risk; Admit re-checks under the lock.
func (l *Ledger) Check(symbol string, side Side) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.checkLocked(symbol, side)
}

func (l *Ledger) checkLocked(symbol string, side Side) error {
	if !l.filter.Allows(side) {
		return ErrDirectionFiltered
	}
	if len(l.open) >= l.capacity {
		return ErrCapacity
	}
	if _, ok := l.open[symbol]; ok {
		return ErrDuplicateSymbol
	}
	return nil
}

// Admit inserts p if it passes the direction filter, capacity and symbol
// uniqueness checks. reserve, when non-nil, is called with the position margin
// inside the same critical section; its error aborts the admission.
func (l *Ledger) Admit(p Position, reserve func(margin float64) error) error {
	if !p.valid() || p.Symbol == "" {
		return ErrInvalidPosition
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkLocked(p.Symbol, p.Side); err != nil {
		return err
	}
	if reserve != nil {
		if err := reserve(p.Margin); err != nil {
			return err
		}
	}
	stored := p
	l.open[p.Symbol] = &stored
	return nil
}

// Remove deletes the position for symbol and returns it.
func (l *Ledger) Remove(symbol string) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.open[symbol]
	if !ok {
		return Position{}, false
	}
	delete(l.open, symbol)
	return *p, true
}

// Update applies fn to the stored position for symbol.
func (l *Ledger) Update(symbol string, fn func(*Position)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.open[symbol]
	if !ok {
		return false
	}
	fn(p)
	return true
}

func (l *Ledger) Get(symbol string) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.open[symbol]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.open)
}

// Snapshot returns copies of all open positions, oldest first.
func (l *Ledger) Snapshot() []Position {
	l.mu.RLock()
	res := make([]Position, 0, len(l.open))
	for _, p := range l.open {
		res = append(res, *p)
	}
	l.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool {
		if res[i].EntryTime.Equal(res[j].EntryTime) {
			return res[i].Symbol < res[j].Symbol
		}
		return res[i].EntryTime.Before(res[j].EntryTime)
	})
	return res
}

// Symbols lists the symbols that currently hold a position.
func (l *Ledger) Symbols() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	res := make([]string, 0, len(l.open))
	for s := range l.open {
		res = append(res, s)
	}
	sort.Strings(res)
	return res
}

// Evaluate runs one close sweep over the positions that have a price in
// prices. Closed positions are removed before Evaluate returns. A position
// with a bad price or corrupt state is skipped and the sweep continues.
func (l *Ledger) Evaluate(prices map[string]float64) []Closure {
	l.mu.Lock()
	defer l.mu.Unlock()

	var closed []Closure
	for symbol, p := range l.open {
		price, ok := prices[symbol]
		if !ok {
			continue
		}
		if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
			log.Printf("ledger: skip %s, bad tick price %v", symbol, price)
			continue
		}
		if !p.valid() {
			log.Printf("ledger: skip %s, invalid position state %+v", symbol, *p)
			continue
		}
		exit, reason, done := p.Evaluate(price)
		if !done {
			continue
		}
		closed = append(closed, Closure{Position: *p, ExitPrice: exit, Reason: reason})
		delete(l.open, symbol)
	}
	sort.Slice(closed, func(i, j int) bool { return closed[i].Position.Symbol < closed[j].Position.Symbol })
	return closed
}

// Drain removes every open position, pricing each with prices when available
// and falling back to the entry price otherwise.
func (l *Ledger) Drain(prices map[string]float64, reason CloseReason) []Closure {
	l.mu.Lock()
	defer l.mu.Unlock()

	res := make([]Closure, 0, len(l.open))
	for symbol, p := range l.open {
		exit, ok := prices[symbol]
		if !ok || exit <= 0 {
			exit = p.EntryPrice
		}
		res = append(res, Closure{Position: *p, ExitPrice: exit, Reason: reason})
		delete(l.open, symbol)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Position.Symbol < res[j].Position.Symbol })
	return res
}
