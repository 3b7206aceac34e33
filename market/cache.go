package market

import (
	"sync"
	"time"

	"github.com/niftyalgo/trader/internal/clock"
)

// quoteCache is a process-wide TTL cache for batch quotes. Ticks from
// every account funnel through it, so a burst of accounts monitoring the
// same strikes costs one upstream call.
type quoteCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	clk     clock.Clock
	entries map[string]cachedQuote
}

type cachedQuote struct {
	quote   Quote
	fetched time.Time
}

func newQuoteCache(ttl time.Duration, clk clock.Clock) *quoteCache {
	return &quoteCache{
		ttl:     ttl,
		clk:     clk,
		entries: make(map[string]cachedQuote),
	}
}

// get returns the cached quote for token if it is younger than the TTL.
func (c *quoteCache) get(token string) (Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[token]
	if !ok || c.clk.Now().Sub(e.fetched) >= c.ttl {
		return Quote{}, false
	}
	return e.quote, true
}

func (c *quoteCache) put(quotes map[string]Quote) {
	now := c.clk.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	for token, q := range quotes {
		c.entries[token] = cachedQuote{quote: q, fetched: now}
	}
}

// vixCache holds the last VIX reading plus a rolling hour of history for
// momentum. Stale-while-revalidate: a reading older than the TTL is still
// served if the refresh fails.
type vixCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	clk     clock.Clock
	value   *float64
	fetched time.Time
	history []vixPoint
}

type vixPoint struct {
	at    time.Time
	value float64
}

func newVIXCache(ttl time.Duration, clk clock.Clock) *vixCache {
	return &vixCache{ttl: ttl, clk: clk}
}

// fresh returns the cached value if it is younger than the TTL.
func (c *vixCache) fresh() (*float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.value == nil || c.clk.Now().Sub(c.fetched) >= c.ttl {
		return c.value, false
	}
	return c.value, true
}

func (c *vixCache) set(v float64) {
	now := c.clk.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.value = &v
	c.fetched = now
	c.history = append(c.history, vixPoint{at: now, value: v})

	// Keep one hour of readings for momentum.
	cutoff := now.Add(-time.Hour)
	for len(c.history) > 0 && c.history[0].at.Before(cutoff) {
		c.history = c.history[1:]
	}
}

// Momentum classifies the VIX slope over the last three readings.
type Momentum string

const (
	MomentumRising  Momentum = "rising"
	MomentumFalling Momentum = "falling"
	MomentumStable  Momentum = "stable"
	MomentumUnknown Momentum = "unknown"
)

func (c *vixCache) momentum() Momentum {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.history) < 3 {
		return MomentumUnknown
	}

	recent := c.history[len(c.history)-3:]
	first, last := recent[0].value, recent[2].value
	if first == 0 {
		return MomentumUnknown
	}

	changePct := (last - first) / first * 100
	switch {
	case changePct > 2:
		return MomentumRising
	case changePct < -2:
		return MomentumFalling
	default:
		return MomentumStable
	}
}
