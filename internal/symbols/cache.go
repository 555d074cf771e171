// Package symbols keeps the exchange trading rules (step size, tick size,
// precision) used to round quantities and prices before orders are built.
package symbols

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/BirdFarmer/BinanceRepo-sub002/pkg/exchanges/common"
)

var ErrBootstrapFailed = errors.New("symbol metadata bootstrap failed")

const (
	DefaultAttempts = 3
	DefaultBackoff  = time.Second
)

// Info is the immutable rounding metadata of one symbol.
type Info struct {
	Symbol            string
	StepSize          decimal.Decimal
	TickSize          decimal.Decimal
	MinQty            decimal.Decimal
	PricePrecision    int
	QuantityPrecision int
}

// Cache holds the symbol table. A refresh builds a fresh map and swaps it
// in under the write lock, so readers never observe a partial table.
type Cache struct {
	src      common.SymbolSource
	attempts int
	backoff  time.Duration

	mu      sync.RWMutex
	symbols map[string]Info

	ready     chan struct{}
	readyOnce sync.Once
}

// Option tunes a Cache.
type Option func(*Cache)

// WithRetry overrides the attempt count and the base backoff (attempt × backoff).
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(c *Cache) {
		if attempts > 0 {
			c.attempts = attempts
		}
		if backoff >= 0 {
			c.backoff = backoff
		}
	}
}

// NewCache creates an empty cache backed by src.
func NewCache(src common.SymbolSource, opts ...Option) *Cache {
	c := &Cache{
		src:      src,
		attempts: DefaultAttempts,
		backoff:  DefaultBackoff,
		symbols:  make(map[string]Info),
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start runs the bootstrap refresh and marks the cache ready on success.
func (c *Cache) Start(ctx context.Context) error {
	if err := c.Refresh(ctx); err != nil {
		return err
	}
	c.readyOnce.Do(func() { close(c.ready) })
	return nil
}

// Ready is closed once Start has succeeded.
func (c *Cache) Ready() <-chan struct{} {
	return c.ready
}

// IsReady reports whether Start has succeeded.
func (c *Cache) IsReady() bool {
	select {
	case <-c.ready:
		return true
	default:
		return false
	}
}

// Refresh fetches the symbol table with bounded retries.
func (c *Cache) Refresh(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		filters, err := c.src.SymbolFilters(ctx)
		if err == nil {
			c.swap(filters)
			return nil
		}
		lastErr = err
		log.Printf("symbols: fetch attempt %d/%d failed: %v", attempt, c.attempts, err)
		if attempt == c.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrBootstrapFailed, ctx.Err())
		case <-time.After(time.Duration(attempt) * c.backoff):
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrBootstrapFailed, c.attempts, lastErr)
}

func (c *Cache) swap(filters []common.SymbolFilters) {
	next := make(map[string]Info, len(filters))
	for _, f := range filters {
		info, err := parseFilters(f)
		if err != nil {
			log.Printf("symbols: skip %s: %v", f.Symbol, err)
			continue
		}
		next[info.Symbol] = info
	}

	c.mu.Lock()
	c.symbols = next
	c.mu.Unlock()
	log.Printf("symbols: loaded %d symbols", len(next))
}

func parseFilters(f common.SymbolFilters) (Info, error) {
	if f.Symbol == "" {
		return Info{}, errors.New("empty symbol")
	}
	step, err := decimal.NewFromString(f.StepSize)
	if err != nil {
		return Info{}, fmt.Errorf("step size %q: %w", f.StepSize, err)
	}
	tick, err := decimal.NewFromString(f.TickSize)
	if err != nil {
		return Info{}, fmt.Errorf("tick size %q: %w", f.TickSize, err)
	}
	if !step.IsPositive() || !tick.IsPositive() {
		return Info{}, fmt.Errorf("non-positive step %s / tick %s", step, tick)
	}
	minQty := decimal.Zero
	if f.MinQty != "" {
		if minQty, err = decimal.NewFromString(f.MinQty); err != nil {
			return Info{}, fmt.Errorf("min qty %q: %w", f.MinQty, err)
		}
	}
	return Info{
		Symbol:            f.Symbol,
		StepSize:          step,
		TickSize:          tick,
		MinQty:            minQty,
		PricePrecision:    f.PricePrecision,
		QuantityPrecision: f.QuantityPrecision,
	}, nil
}

// Get returns the metadata of a symbol.
func (c *Cache) Get(symbol string) (Info, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.symbols[symbol]
	return info, ok
}

// Len returns the number of cached symbols.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.symbols)
}

// RoundQty floors qty to the symbol step size. Unknown symbols return qty
// unchanged and false.
func (c *Cache) RoundQty(symbol string, qty float64) (float64, bool) {
	info, ok := c.Get(symbol)
	if !ok {
		return qty, false
	}
	return info.FloorQty(qty), true
}

// RoundPrice rounds price to the nearest tick. Unknown symbols return price
// unchanged and false.
func (c *Cache) RoundPrice(symbol string, price float64) (float64, bool) {
	info, ok := c.Get(symbol)
	if !ok {
		return price, false
	}
	return info.RoundPrice(price), true
}

// FloorQty floors qty to a multiple of the step size.
func (i Info) FloorQty(qty float64) float64 {
	d := decimal.NewFromFloat(qty).Div(i.StepSize).Floor().Mul(i.StepSize)
	f, _ := d.Float64()
	return f
}

// RoundPrice rounds price to the nearest multiple of the tick size.
func (i Info) RoundPrice(price float64) float64 {
	d := decimal.NewFromFloat(price).Div(i.TickSize).Round(0).Mul(i.TickSize)
	if i.PricePrecision > 0 {
		d = d.Round(int32(i.PricePrecision))
	}
	f, _ := d.Float64()
	return f
}
