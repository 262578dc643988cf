package qualifier

import (
	"fmt"
	"math"

	"futures-trading-agent/internal/market"
	"futures-trading-agent/internal/strategy"
)

// Breakdown is the per-factor contribution to an entry quality score.
type Breakdown struct {
	VWAP           float64
	Timeframes     float64
	OrderFlow      float64
	Microstructure float64
	MeanDistance   float64
	Volatility     float64

	Total float64
	Grade string
}

func (b Breakdown) String() string {
	return fmt.Sprintf("VWAP=%.2f MTF=%.2f OBV=%.2f Micro=%.2f EMA=%.2f Vol=%.2f => %.2f (%s)",
		b.VWAP, b.Timeframes, b.OrderFlow, b.Microstructure, b.MeanDistance, b.Volatility, b.Total, b.Grade)
}

// Timeframe weights required per style, highest timeframe first.
var stackWeights = map[strategy.Style][]struct {
	tf     string
	weight float64
}{
	strategy.StyleScalp: {{"15m", 0.10}, {"5m", 0.10}, {"1m", 0.10}},
	strategy.StyleSwing: {{"1d", 0.10}, {"4h", 0.08}, {"1h", 0.06}, {"15m", 0.04}},
}

const (
	vwapWeightScalp = 0.25
	vwapWeightSwing = 0.15
	obvWeight       = 0.10
	imbalanceWeight = 0.15
	imbalanceMin    = 0.15
	spreadWeight    = 0.05
	tightSpreadBP   = 5.0
	zoneWeight      = 0.05
	sweepWeight     = 0.10
	meanWeight      = 0.05
	meanMaxDistance = 0.02
	volWeight       = 0.05
	minScalpATRPct  = 0.0003
)

// Score rates a candidate entry in [0, 1] independently of the strategy's
// own confidence. Non-directional actions score 0.
func Score(snap *market.Snapshot, style strategy.Style, dir strategy.Action) float64 {
	return Explain(snap, style, dir).Total
}

// Explain returns the full factor breakdown behind Score.
func Explain(snap *market.Snapshot, style strategy.Style, dir strategy.Action) Breakdown {
	var b Breakdown
	if snap == nil || !dir.IsEntry() {
		b.Grade = grade(0)
		return b
	}
	ind := snap.Indicators
	price := snap.Price
	long := dir == strategy.ActionLong

	want := market.Bullish
	if !long {
		want = market.Bearish
	}

	vwap := ind.Float("vwap_5m", price)
	if (long && price >= vwap) || (!long && price <= vwap) {
		b.VWAP = vwapWeightSwing
		if style == strategy.StyleScalp {
			b.VWAP = vwapWeightScalp
		}
	}

	for _, w := range stackWeights[style] {
		if ind.Label("trend_"+w.tf, market.Neutral) == want {
			b.Timeframes += w.weight
		}
	}

	obv := ind.Label("obv_trend_1h", ind.Label("obv_trend", market.Neutral))
	if obv == want {
		b.OrderFlow = obvWeight
	}

	if m := snap.Micro; m != nil {
		if (long && m.Imbalance > imbalanceMin) || (!long && m.Imbalance < -imbalanceMin) {
			b.Microstructure += imbalanceWeight
		}
		if m.SpreadBP <= tightSpreadBP {
			b.Microstructure += spreadWeight
		}
		if m.ZoneDistancePct >= 0.3 && m.ZoneDistancePct <= 2.0 {
			b.Microstructure += zoneWeight
		}
		if m.SweepDetected && ((long && m.SweepDirection == "up") || (!long && m.SweepDirection == "down")) {
			b.Microstructure += sweepWeight
		}
	}

	switch style {
	case strategy.StyleSwing:
		if ema50 := ind.Float("ema_50", 0); ema50 > 0 && price > 0 && math.Abs(price-ema50)/price <= meanMaxDistance {
			b.MeanDistance = meanWeight
		}
	case strategy.StyleScalp:
		atr := ind.Float("atr_14_5m", ind.Float("atr_14", 0))
		if price > 0 && atr/price >= minScalpATRPct {
			b.Volatility = volWeight
		}
	}

	total := b.VWAP + b.Timeframes + b.OrderFlow + b.Microstructure + b.MeanDistance + b.Volatility
	b.Total = math.Max(0, math.Min(1, total))
	b.Grade = grade(b.Total)
	return b
}

// Fuse blends strategy (or advisory) confidence with the quality score.
func Fuse(confidence, score float64) float64 {
	return math.Max(0, math.Min(1, 0.7*confidence+0.3*score))
}

func grade(score float64) string {
	switch {
	case score >= 0.85:
		return "A+"
	case score >= 0.75:
		return "A"
	case score >= 0.65:
		return "B"
	case score >= 0.50:
		return "C"
	case score >= 0.35:
		return "D"
	default:
		return "F"
	}
}
