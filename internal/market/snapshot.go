package market

import (
	"context"
	"errors"
	"time"
)

// ErrNoSnapshot is returned when a symbol has never produced a good snapshot.
var ErrNoSnapshot = errors.New("no snapshot available")

// Trend labels used by the indicator map.
const (
	Bullish = "bullish"
	Bearish = "bearish"
	Neutral = "neutral"
)

// Kline is one OHLCV candle.
type Kline struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Indicators is a flat key/value map. Values are float64 or string.
// 1h values carry no suffix; other timeframes use _1m, _5m, _15m, _4h, _1d.
type Indicators map[string]interface{}

// Float returns the numeric value for key, or def when absent or non-numeric.
func (i Indicators) Float(key string, def float64) float64 {
	switch v := i[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// Label returns the string value for key, or def.
func (i Indicators) Label(key, def string) string {
	if v, ok := i[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Has reports whether key is present.
func (i Indicators) Has(key string) bool {
	_, ok := i[key]
	return ok
}

// Microstructure summarises the order book at snapshot time.
type Microstructure struct {
	Imbalance       float64 `json:"imbalance"` // -1 (all asks) .. +1 (all bids)
	SpreadBP        float64 `json:"spread_bp"`
	ZonePrice       float64 `json:"zone_price"`
	ZoneType        string  `json:"zone_type"` // "bid" or "ask"
	ZoneDistancePct float64 `json:"zone_distance_pct"`
	SweepDetected   bool    `json:"sweep_detected"`
	SweepDirection  string  `json:"sweep_direction"` // "up" or "down"
	SweepConfidence float64 `json:"sweep_confidence"`
}

// Regime classifies the market condition.
type Regime struct {
	Session    string `json:"session"`    // asia, europe, us
	Volatility string `json:"volatility"` // low, medium, high
	Condition  string `json:"condition"`  // trend, range
}

// Snapshot is the per-cycle market fact for one symbol. Never mutated after
// construction; use WithStale to derive a marked copy.
type Snapshot struct {
	Symbol     string             `json:"symbol"`
	Timestamp  time.Time          `json:"timestamp"`
	Price      float64            `json:"price"`
	Bid        float64            `json:"bid"`
	Ask        float64            `json:"ask"`
	Candles    map[string][]Kline `json:"-"`
	Indicators Indicators         `json:"indicators"`
	Micro      *Microstructure    `json:"microstructure,omitempty"`
	Regime     *Regime            `json:"regime,omitempty"`
	Stale      bool               `json:"stale"`
}

// WithStale returns a shallow copy flagged as served from cache.
func (s *Snapshot) WithStale() *Snapshot {
	cp := *s
	cp.Stale = true
	return &cp
}

// Provider produces market snapshots.
type Provider interface {
	Snapshot(ctx context.Context, symbol string) (*Snapshot, error)
}
