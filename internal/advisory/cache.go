package advisory

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"futures-trading-agent/internal/market"
)

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Entries int     `json:"entries"`
	HitRate float64 `json:"hit_rate"`
}

type cacheEntry struct {
	verdict  Verdict
	price    float64
	storedAt time.Time
}

// Cache short-circuits repeated advisory calls for near-identical requests.
// An entry serves a request only within the TTL and while price has drifted
// less than the tolerance.
type Cache struct {
	ttl       time.Duration
	tolerance float64
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
	hits    int64
	misses  int64
}

// NewCache creates a cache. Zero values fall back to 90s and 0.1%.
func NewCache(ttl time.Duration, priceTolerance float64) *Cache {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	if priceTolerance <= 0 {
		priceTolerance = 0.001
	}
	return &Cache{
		ttl:       ttl,
		tolerance: priceTolerance,
		now:       time.Now,
		entries:   make(map[string]cacheEntry),
	}
}

// Get returns a cached verdict for req.
func (c *Cache) Get(req Request) (Verdict, bool) {
	key := cacheKey(req)
	price := requestPrice(req)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return Verdict{}, false
	}
	if c.now().Sub(e.storedAt) >= c.ttl {
		delete(c.entries, key)
		c.misses++
		return Verdict{}, false
	}
	if e.price > 0 && math.Abs(price-e.price)/e.price > c.tolerance {
		c.misses++
		return Verdict{}, false
	}
	c.hits++
	return e.verdict, true
}

// Put stores a parsed verdict. Timeouts and errors are never cached.
func (c *Cache) Put(req Request, v Verdict) {
	switch v.Outcome {
	case OutcomeTimeout, OutcomeError, OutcomeCanceled, OutcomeSkipped:
		return
	}
	key := cacheKey(req)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{verdict: v, price: requestPrice(req), storedAt: now}
	c.cleanupLocked(now)
}

func (c *Cache) cleanupLocked(now time.Time) {
	for k, e := range c.entries {
		if now.Sub(e.storedAt) >= c.ttl {
			delete(c.entries, k)
		}
	}
}

// Stats returns hit/miss counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := CacheStats{Hits: c.hits, Misses: c.misses, Entries: len(c.entries)}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// Clear drops all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

func requestPrice(req Request) float64 {
	if req.Snapshot != nil && req.Snapshot.Price > 0 {
		return req.Snapshot.Price
	}
	return req.Signal.Price
}

func cacheKey(req Request) string {
	sig := req.Signal
	return strings.Join([]string{
		sig.Symbol,
		string(sig.Action),
		string(sig.Style),
		fmt.Sprintf("%.1f", math.Round(sig.Confidence*10)/10),
		fmt.Sprintf("%.6f", req.PositionSize),
		fingerprint(req.Snapshot),
	}, "|")
}

// fingerprint summarises the indicators the advisory weighs most, coarsely
// enough that noise does not defeat the cache.
func fingerprint(snap *market.Snapshot) string {
	if snap == nil {
		return "-"
	}
	ind := snap.Indicators
	return fmt.Sprintf("%s/%s/%s/rsi%.0f/ema%s/vol%.1f",
		ind.Label("trend_1d", market.Neutral),
		ind.Label("trend_4h", market.Neutral),
		ind.Label("trend_1h", market.Neutral),
		ind.Float("rsi_14", 50),
		significant(ind.Float("ema_50", 0), 3),
		ind.Float("volume_ratio_1h", 1))
}

func significant(v float64, digits int) string {
	if v == 0 {
		return "0"
	}
	mag := math.Pow(10, float64(digits)-math.Ceil(math.Log10(math.Abs(v))))
	return fmt.Sprintf("%g", math.Round(v*mag)/mag)
}
