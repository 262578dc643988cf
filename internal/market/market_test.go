package market

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"futures-trading-agent/internal/logging"
)

func risingSeries(n int, start, step float64) []Kline {
	out := make([]Kline, n)
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		c := start + float64(i)*step
		out[i] = Kline{
			OpenTime: t.Add(time.Duration(i) * time.Minute),
			Open:     c - step/2,
			High:     c + 1,
			Low:      c - 1,
			Close:    c,
			Volume:   100 + float64(i),
		}
	}
	return out
}

func TestKey(t *testing.T) {
	tests := []struct {
		base, tf, want string
	}{
		{"ema_50", "1h", "ema_50"},
		{"ema_50", "15m", "ema_50_15m"},
		{"keltner_upper", "5m", "keltner_upper_5m"},
		{"atr_14", "1d", "atr_14_1d"},
	}
	for _, tt := range tests {
		if got := Key(tt.base, tt.tf); got != tt.want {
			t.Errorf("Key(%q, %q) = %q, want %q", tt.base, tt.tf, got, tt.want)
		}
	}
}

func TestEMA(t *testing.T) {
	flat := []float64{10, 10, 10, 10, 10}
	if got := EMA(flat, 3); math.Abs(got-10) > 1e-9 {
		t.Errorf("EMA of flat series = %v, want 10", got)
	}
	if got := EMA([]float64{1, 2}, 3); got != 0 {
		t.Errorf("EMA with insufficient data = %v, want 0", got)
	}
}

func TestRSIBounds(t *testing.T) {
	up := make([]float64, 30)
	for i := range up {
		up[i] = float64(i)
	}
	rsi, ok := RSI(up, 14)
	if !ok || rsi != 100 {
		t.Errorf("RSI of strictly rising series = %v (ok=%v), want 100", rsi, ok)
	}
	if _, ok := RSI(up[:10], 14); ok {
		t.Error("RSI should report insufficient data")
	}
}

func TestComputeTrendAndKeys(t *testing.T) {
	candles := map[string][]Kline{
		"1h": risingSeries(120, 100, 0.5),
		"5m": risingSeries(120, 100, 0.1),
	}
	ind := Compute(candles, 160)

	if got := ind.Label("trend", ""); got != Bullish {
		t.Errorf("1h trend = %q, want bullish", got)
	}
	if got := ind.Label("trend_1h", ""); got != Bullish {
		t.Errorf("trend_1h alias = %q, want bullish", got)
	}
	for _, key := range []string{"ema_50", "atr_14", "keltner_upper", "vwap_5m", "ema_50_5m", "support_1", "swing_high"} {
		if !ind.Has(key) {
			t.Errorf("missing indicator %q", key)
		}
	}
	if ind.Has("ema_50_4h") {
		t.Error("4h keys must be absent when 4h candles were not supplied")
	}
	if ind.Float("keltner_upper", 0) <= ind.Float("keltner_lower", 0) {
		t.Error("keltner upper must be above lower")
	}
}

func TestIndicatorsAccessors(t *testing.T) {
	ind := Indicators{"a": 1.5, "b": "bullish", "c": 3}
	if ind.Float("a", 0) != 1.5 || ind.Float("c", 0) != 3 || ind.Float("missing", 7) != 7 {
		t.Error("Float accessor returned unexpected values")
	}
	if ind.Float("b", 9) != 9 {
		t.Error("Float on a label should return the default")
	}
	if ind.Label("b", "") != "bullish" || ind.Label("a", "neutral") != "neutral" {
		t.Error("Label accessor returned unexpected values")
	}
}

func TestVolatilityRegime(t *testing.T) {
	tests := []struct {
		vol  float64
		want string
	}{
		{0.005, "low"},
		{0.01, "medium"},
		{0.019, "medium"},
		{0.02, "high"},
	}
	for _, tt := range tests {
		if got := VolatilityRegime(tt.vol); got != tt.want {
			t.Errorf("VolatilityRegime(%v) = %q, want %q", tt.vol, got, tt.want)
		}
	}
}

func TestClassifyRegime(t *testing.T) {
	ind := Indicators{"trend_4h": Bullish, "trend_1h": Bullish, "atr_14_1d": 300.0, "close_1d": 10000.0}
	r := ClassifyRegime(ind, time.Date(2024, 1, 1, 15, 0, 0, 0, time.UTC))
	if r.Condition != "trend" || r.Volatility != "high" || r.Session != "us" {
		t.Errorf("unexpected regime %+v", r)
	}
}

func TestAnalyzeBook(t *testing.T) {
	bids := []BookLevel{{Price: 99.9, Quantity: 5}, {Price: 99.8, Quantity: 30}}
	asks := []BookLevel{{Price: 100.1, Quantity: 5}, {Price: 100.2, Quantity: 5}}

	m := AnalyzeBook(bids, asks, 0)
	if m == nil {
		t.Fatal("expected microstructure")
	}
	if m.Imbalance <= 0 {
		t.Errorf("imbalance = %v, want bid-heavy (>0)", m.Imbalance)
	}
	if m.ZoneType != "bid" || m.ZonePrice != 99.8 {
		t.Errorf("zone = %s@%v, want bid@99.8", m.ZoneType, m.ZonePrice)
	}
	if math.Abs(m.SpreadBP-20) > 0.01 {
		t.Errorf("spread = %v bp, want 20", m.SpreadBP)
	}
	if AnalyzeBook(nil, asks, 0) != nil {
		t.Error("empty bids should yield nil")
	}
}

type stubProvider struct {
	snap *Snapshot
	err  error
}

func (s *stubProvider) Snapshot(ctx context.Context, symbol string) (*Snapshot, error) {
	return s.snap, s.err
}

func TestCachingProviderFallback(t *testing.T) {
	inner := &stubProvider{snap: &Snapshot{Symbol: "BTCUSDT", Price: 100, Timestamp: time.Now()}}
	p := NewCachingProvider(inner, logging.Nop())
	ctx := context.Background()

	got, err := p.Snapshot(ctx, "BTCUSDT")
	if err != nil || got.Stale {
		t.Fatalf("first fetch: err=%v stale=%v", err, got != nil && got.Stale)
	}

	inner.snap, inner.err = nil, errors.New("timeout")
	got, err = p.Snapshot(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("expected fallback, got error %v", err)
	}
	if !got.Stale || got.Price != 100 {
		t.Errorf("fallback snapshot = %+v, want stale copy at price 100", got)
	}
	if p.FetchErrors()["BTCUSDT"] == "" {
		t.Error("fetch error should be recorded for presentation")
	}

	if _, err := p.Snapshot(ctx, "ETHUSDT"); !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("expected ErrNoSnapshot for unseen symbol, got %v", err)
	}
}

func TestCachingProviderDoesNotMutateCached(t *testing.T) {
	orig := &Snapshot{Symbol: "BTCUSDT", Price: 100, Timestamp: time.Now()}
	inner := &stubProvider{snap: orig}
	p := NewCachingProvider(inner, logging.Nop())
	ctx := context.Background()
	if _, err := p.Snapshot(ctx, "BTCUSDT"); err != nil {
		t.Fatal(err)
	}
	inner.snap, inner.err = nil, errors.New("down")
	if _, err := p.Snapshot(ctx, "BTCUSDT"); err != nil {
		t.Fatal(err)
	}
	if orig.Stale {
		t.Error("cached snapshot was mutated")
	}
}
