// Package cache keeps the latest market quote per symbol.
package cache

import (
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

const numShards = 16

// Quote is the last observed trade price for a symbol.
type Quote struct {
	Price float64   `json:"price"`
	At    time.Time `json:"at"`
}

// Quotes is a sharded last-price cache fed by the market feed.
type Quotes struct {
	shards [numShards]*quoteShard
}

type quoteShard struct {
	mu    sync.RWMutex
	items map[string]Quote
}

func NewQuotes() *Quotes {
	c := &Quotes{}
	for i := range c.shards {
		c.shards[i] = &quoteShard{items: make(map[string]Quote)}
	}
	return c
}

func (c *Quotes) shard(symbol string) *quoteShard {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return c.shards[h.Sum32()%numShards]
}

// Set records a price. Out-of-order ticks older than the cached one are ignored.
func (c *Quotes) Set(symbol string, price float64, at time.Time) {
	if price <= 0 {
		return
	}
	symbol = strings.ToUpper(symbol)
	s := c.shard(symbol)
	s.mu.Lock()
	if prev, ok := s.items[symbol]; !ok || !at.Before(prev.At) {
		s.items[symbol] = Quote{Price: price, At: at}
	}
	s.mu.Unlock()
}

func (c *Quotes) Get(symbol string) (Quote, bool) {
	symbol = strings.ToUpper(symbol)
	s := c.shard(symbol)
	s.mu.RLock()
	q, ok := s.items[symbol]
	s.mu.RUnlock()
	return q, ok
}

// Snapshot copies every cached quote.
func (c *Quotes) Snapshot() map[string]Quote {
	out := make(map[string]Quote)
	for _, s := range c.shards {
		s.mu.RLock()
		for sym, q := range s.items {
			out[sym] = q
		}
		s.mu.RUnlock()
	}
	return out
}

// Prune drops quotes older than maxAge and returns how many were removed.
func (c *Quotes) Prune(now time.Time, maxAge time.Duration) int {
	cutoff := now.Add(-maxAge)
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for sym, q := range s.items {
			if q.At.Before(cutoff) {
				delete(s.items, sym)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}
