package strategy

import (
	"fmt"
	"math"

	"futures-trading-agent/internal/market"
)

// Alignment grades multi-timeframe trend agreement for one direction.
type Alignment int

const (
	AlignNeutral Alignment = iota
	AlignWeak
	AlignPartial
	AlignStrong
)

func (a Alignment) String() string {
	switch a {
	case AlignStrong:
		return "strong"
	case AlignPartial:
		return "partial"
	case AlignWeak:
		return "weak"
	default:
		return "neutral"
	}
}

const (
	srProximity       = 0.005
	bandMaxDeviation  = 0.15
	bandFallbackWidth = 0.03
	nearBandTolerance = 0.005
)

// TrendAlignment grades 1d/4h trend and price against the 1h EMA50.
func TrendAlignment(ind market.Indicators, dir Action, price float64) Alignment {
	want := market.Bullish
	if dir == ActionShort {
		want = market.Bearish
	}
	t1d := ind.Label("trend_1d", market.Neutral)
	t4h := ind.Label("trend_4h", market.Neutral)
	ema50 := ind.Float("ema_50", 0)

	primary := false
	if ema50 > 0 {
		if dir == ActionShort {
			primary = price < ema50
		} else {
			primary = price > ema50
		}
	}

	switch {
	case primary && t1d == want && t4h == want:
		return AlignStrong
	case primary && t4h == want:
		return AlignPartial
	case primary:
		return AlignWeak
	}
	return AlignNeutral
}

func trendInfo(ind market.Indicators) string {
	return fmt.Sprintf("Trend: 1D=%s, 4H=%s, 1H=%s, 15M=%s",
		ind.Label("trend_1d", market.Neutral),
		ind.Label("trend_4h", market.Neutral),
		ind.Label("trend_1h", market.Neutral),
		ind.Label("trend_15m", market.Neutral))
}

// Levels reports proximity (within 0.5%) to support or resistance and the
// reference level for each side.
type Levels struct {
	NearSupport    bool
	NearResistance bool
	Support        float64
	Resistance     float64
}

// SupportResistance checks S1/S2/swing low and R1/R2/swing high.
func SupportResistance(ind market.Indicators, price float64) Levels {
	near := func(level float64) bool {
		return level > 0 && math.Abs(price-level)/level < srProximity
	}
	sups := []float64{ind.Float("support_1", 0), ind.Float("support_2", 0), ind.Float("swing_low", 0)}
	ress := []float64{ind.Float("resistance_1", 0), ind.Float("resistance_2", 0), ind.Float("swing_high", 0)}

	lv := Levels{Support: price, Resistance: price}
	minSup, maxRes := 0.0, 0.0
	for _, s := range sups {
		if near(s) {
			lv.NearSupport = true
		}
		if s > 0 && (minSup == 0 || s < minSup) {
			minSup = s
		}
	}
	for _, r := range ress {
		if near(r) {
			lv.NearResistance = true
		}
		if r > maxRes {
			maxRes = r
		}
	}
	if minSup > 0 {
		lv.Support = minSup
	}
	if maxRes > 0 {
		lv.Resistance = maxRes
	}
	return lv
}

// KeltnerBands returns the bands for tf. Bands more than 15% from price are
// replaced by EMA20 +/- 3% of price.
func KeltnerBands(ind market.Indicators, price float64, tf string) (upper, lower float64) {
	upper = ind.Float(market.Key("keltner_upper", tf), 0)
	lower = ind.Float(market.Key("keltner_lower", tf), 0)
	if upper > 0 && price > 0 && math.Abs(upper-price)/price > bandMaxDeviation {
		ema20 := ind.Float(market.Key("ema_20", tf), price)
		upper = ema20 + price*bandFallbackWidth
		lower = ema20 - price*bandFallbackWidth
	}
	return upper, lower
}

// Breakout reports a close beyond the tf band in direction dir.
func Breakout(ind market.Indicators, price float64, dir Action, tf string) (bool, float64, string) {
	upper, lower := KeltnerBands(ind, price, tf)
	if dir == ActionShort {
		return lower > 0 && price < lower, lower, fmt.Sprintf("%s < Keltner $%.2f", tf, lower)
	}
	return upper > 0 && price > upper, upper, fmt.Sprintf("%s > Keltner $%.2f", tf, upper)
}

// NearBand reports price within 0.5% of the tf band edge in direction dir.
func NearBand(ind market.Indicators, price float64, dir Action, tf string) bool {
	upper, lower := KeltnerBands(ind, price, tf)
	if dir == ActionShort {
		return lower > 0 && price < lower*(1+nearBandTolerance)
	}
	return upper > 0 && price > upper*(1-nearBandTolerance)
}

// ScalpBias is the 15m directional bias.
func ScalpBias(ind market.Indicators, price float64, dir Action) bool {
	t15 := ind.Label("trend_15m", market.Neutral)
	ema50 := ind.Float("ema_50_15m", 0)
	if dir == ActionShort {
		return t15 == market.Bearish || (ema50 > 0 && price < ema50)
	}
	return t15 == market.Bullish || (ema50 > 0 && price > ema50)
}

// ScalpVolatilityThreshold is the minimum 5m ATR/price ratio for the daily
// volatility regime.
func ScalpVolatilityThreshold(dailyVol float64) float64 {
	switch market.VolatilityRegime(dailyVol) {
	case "high":
		return 0.0010
	case "medium":
		return 0.0005
	default:
		return 0.0003
	}
}

func obvAgrees(obv string, dir Action) bool {
	if dir == ActionShort {
		return obv == market.Bearish
	}
	return obv == market.Bullish
}

func volumeDescription(ratio float64) string {
	switch {
	case ratio >= 1.5:
		return fmt.Sprintf("Vol: %.2fx [STRONG]", ratio)
	case ratio >= 1.3:
		return fmt.Sprintf("Vol: %.2fx [GOOD]", ratio)
	case ratio >= 1.1:
		return fmt.Sprintf("Vol: %.2fx [OK]", ratio)
	case ratio >= 1.0:
		return fmt.Sprintf("Vol: %.2fx [AVG]", ratio)
	}
	return fmt.Sprintf("Vol: %.2fx [LOW]", ratio)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
