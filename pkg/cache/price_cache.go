// Package cache holds the last observed price per symbol.
package cache

import (
	"hash/fnv"
	"math"
	"sync"
	"time"
)

const numShards = 16

// PriceCache is a sharded last-price cache. Timestamps are supplied by the
// caller so replayed sessions can stamp entries with candle time.
type PriceCache struct {
	shards [numShards]*priceShard
}

type priceShard struct {
	mu    sync.RWMutex
	items map[string]priceEntry
}

type priceEntry struct {
	price     float64
	updatedAt time.Time
}

func NewPriceCache() *PriceCache {
	c := &PriceCache{}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &priceShard{items: make(map[string]priceEntry)}
	}
	return c
}

func (c *PriceCache) getShard(key string) *priceShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores price for symbol. Non-positive or non-finite prices are ignored
// and reported as false.
func (c *PriceCache) Set(symbol string, price float64, at time.Time) bool {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return false
	}
	shard := c.getShard(symbol)
	shard.mu.Lock()
	shard.items[symbol] = priceEntry{price: price, updatedAt: at}
	shard.mu.Unlock()
	return true
}

// SetAll stores every valid price of prices.
func (c *PriceCache) SetAll(prices map[string]float64, at time.Time) {
	for sym, p := range prices {
		c.Set(sym, p, at)
	}
}

// Get returns the last price of symbol.
func (c *PriceCache) Get(symbol string) (float64, bool) {
	shard := c.getShard(symbol)
	shard.mu.RLock()
	entry, ok := shard.items[symbol]
	shard.mu.RUnlock()
	return entry.price, ok
}

// Age reports how old the price of symbol is relative to now.
func (c *PriceCache) Age(symbol string, now time.Time) (time.Duration, bool) {
	shard := c.getShard(symbol)
	shard.mu.RLock()
	entry, ok := shard.items[symbol]
	shard.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return now.Sub(entry.updatedAt), true
}

// Snapshot copies all cached prices.
func (c *PriceCache) Snapshot() map[string]float64 {
	result := make(map[string]float64)
	for _, shard := range c.shards {
		shard.mu.RLock()
		for sym, entry := range shard.items {
			result[sym] = entry.price
		}
		shard.mu.RUnlock()
	}
	return result
}

// Len returns total items across all shards.
func (c *PriceCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.items)
		shard.mu.RUnlock()
	}
	return total
}

// Prune drops entries updated before cutoff and returns how many went.
func (c *PriceCache) Prune(cutoff time.Time) int {
	removed := 0
	for _, shard := range c.shards {
		shard.mu.Lock()
		for sym, entry := range shard.items {
			if entry.updatedAt.Before(cutoff) {
				delete(shard.items, sym)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}
