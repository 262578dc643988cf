package market

import (
	"math"
)

// Timeframes fetched for every snapshot, shortest first.
var Timeframes = []string{"1m", "5m", "15m", "1h", "4h", "1d"}

const (
	keltnerATRMult = 1.5
	levelLookback  = 24
	swingLookback  = 20
	vwapLookback   = 50
	obvLookback    = 10
	volumeLookback = 20
)

// Key returns the indicator key for base on timeframe tf. 1h is the
// unsuffixed primary timeframe.
func Key(base, tf string) string {
	if tf == "1h" || tf == "" {
		return base
	}
	return base + "_" + tf
}

// Compute derives the flat indicator map from candles keyed by timeframe.
// Timeframes with too little history are skipped rather than zero-filled.
func Compute(candles map[string][]Kline, price float64) Indicators {
	ind := Indicators{"price": price}
	for _, tf := range Timeframes {
		series := candles[tf]
		if len(series) < 2 {
			continue
		}
		values := computeTimeframe(series)
		for base, v := range values {
			ind[Key(base, tf)] = v
			if tf == "1h" {
				ind[base+"_1h"] = v
			}
		}
	}
	return ind
}

func computeTimeframe(series []Kline) map[string]interface{} {
	closes := make([]float64, len(series))
	for i, k := range series {
		closes[i] = k.Close
	}
	last := closes[len(closes)-1]

	out := map[string]interface{}{
		"close": last,
	}

	ema20 := EMA(closes, 20)
	ema50 := EMA(closes, 50)
	if ema20 > 0 {
		out["ema_20"] = ema20
	}
	if ema50 > 0 {
		out["ema_50"] = ema50
	}
	if rsi, ok := RSI(closes, 14); ok {
		out["rsi_14"] = rsi
	}
	atr := ATR(series, 14)
	if atr > 0 {
		out["atr_14"] = atr
	}
	if ema20 > 0 && atr > 0 {
		out["keltner_upper"] = ema20 + keltnerATRMult*atr
		out["keltner_lower"] = ema20 - keltnerATRMult*atr
	}
	if vwap := VWAP(series, vwapLookback); vwap > 0 {
		out["vwap"] = vwap
	}

	ratio, volTrend := volumeStats(series)
	out["volume_ratio"] = ratio
	out["volume_trend"] = volTrend
	out["obv_trend"] = OBVTrend(series, obvLookback)
	out["trend"] = trendLabel(last, ema20, ema50)

	hi, lo := swingRange(series, swingLookback)
	out["swing_high"] = hi
	out["swing_low"] = lo

	s1, s2, r1, r2 := pivotLevels(series, levelLookback)
	out["support_1"] = s1
	out["support_2"] = s2
	out["resistance_1"] = r1
	out["resistance_2"] = r2

	return out
}

// EMA returns the exponential moving average of the last value, seeded with
// an SMA. Returns 0 with insufficient data.
func EMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	sum := 0.0
	for _, v := range values[:period] {
		sum += v
	}
	ema := sum / float64(period)
	k := 2.0 / float64(period+1)
	for _, v := range values[period:] {
		ema = v*k + ema*(1-k)
	}
	return ema
}

// RSI computes Wilder's relative strength index.
func RSI(closes []float64, period int) (float64, bool) {
	if len(closes) <= period {
		return 0, false
	}
	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	for i := period + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
	}
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50, true
		}
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// ATR computes Wilder's average true range.
func ATR(series []Kline, period int) float64 {
	if len(series) <= period {
		return 0
	}
	tr := func(i int) float64 {
		h, l, pc := series[i].High, series[i].Low, series[i-1].Close
		return math.Max(h-l, math.Max(math.Abs(h-pc), math.Abs(l-pc)))
	}
	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += tr(i)
	}
	atr := sum / float64(period)
	for i := period + 1; i < len(series); i++ {
		atr = (atr*float64(period-1) + tr(i)) / float64(period)
	}
	return atr
}

// VWAP is the volume-weighted typical price over the last lookback candles.
func VWAP(series []Kline, lookback int) float64 {
	start := 0
	if len(series) > lookback {
		start = len(series) - lookback
	}
	var pv, vol float64
	for _, k := range series[start:] {
		typical := (k.High + k.Low + k.Close) / 3
		pv += typical * k.Volume
		vol += k.Volume
	}
	if vol == 0 {
		return 0
	}
	return pv / vol
}

// OBVTrend labels the direction of on-balance volume over lookback candles.
func OBVTrend(series []Kline, lookback int) string {
	if len(series) < lookback+1 {
		return Neutral
	}
	obv := 0.0
	obvAt := make([]float64, len(series))
	for i := 1; i < len(series); i++ {
		switch {
		case series[i].Close > series[i-1].Close:
			obv += series[i].Volume
		case series[i].Close < series[i-1].Close:
			obv -= series[i].Volume
		}
		obvAt[i] = obv
	}
	delta := obvAt[len(obvAt)-1] - obvAt[len(obvAt)-1-lookback]
	var vol float64
	for _, k := range series[len(series)-lookback:] {
		vol += k.Volume
	}
	if vol == 0 {
		return Neutral
	}
	// require a net flow of at least 10% of window volume
	switch {
	case delta > 0.1*vol:
		return Bullish
	case delta < -0.1*vol:
		return Bearish
	}
	return Neutral
}

func volumeStats(series []Kline) (float64, string) {
	n := len(series)
	lastVol := series[n-1].Volume
	start := n - 1 - volumeLookback
	if start < 0 {
		start = 0
	}
	prior := series[start : n-1]
	if len(prior) == 0 {
		return 1.0, "stable"
	}
	var sum float64
	for _, k := range prior {
		sum += k.Volume
	}
	avg := sum / float64(len(prior))
	if avg == 0 {
		return 1.0, "stable"
	}
	ratio := lastVol / avg

	trend := "stable"
	if n >= 6 {
		recent := (series[n-1].Volume + series[n-2].Volume + series[n-3].Volume) / 3
		earlier := (series[n-4].Volume + series[n-5].Volume + series[n-6].Volume) / 3
		switch {
		case earlier > 0 && recent > earlier*1.2:
			trend = "increasing"
		case earlier > 0 && recent < earlier*0.8:
			trend = "decreasing"
		}
	}
	return ratio, trend
}

func trendLabel(price, ema20, ema50 float64) string {
	if ema20 == 0 || ema50 == 0 {
		return Neutral
	}
	switch {
	case price > ema20 && ema20 > ema50:
		return Bullish
	case price < ema20 && ema20 < ema50:
		return Bearish
	}
	return Neutral
}

func swingRange(series []Kline, lookback int) (float64, float64) {
	start := 0
	if len(series) > lookback {
		start = len(series) - lookback
	}
	hi, lo := series[start].High, series[start].Low
	for _, k := range series[start:] {
		hi = math.Max(hi, k.High)
		lo = math.Min(lo, k.Low)
	}
	return hi, lo
}

// pivotLevels returns classic floor pivots over the lookback window,
// excluding the still-forming last candle.
func pivotLevels(series []Kline, lookback int) (s1, s2, r1, r2 float64) {
	end := len(series) - 1
	start := end - lookback
	if start < 0 {
		start = 0
	}
	window := series[start:end]
	if len(window) == 0 {
		return 0, 0, 0, 0
	}
	hi, lo := window[0].High, window[0].Low
	for _, k := range window {
		hi = math.Max(hi, k.High)
		lo = math.Min(lo, k.Low)
	}
	c := window[len(window)-1].Close
	p := (hi + lo + c) / 3
	r1 = 2*p - lo
	s1 = 2*p - hi
	r2 = p + (hi - lo)
	s2 = p - (hi - lo)
	return s1, s2, r1, r2
}
