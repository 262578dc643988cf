package market

import "time"

// ClassifyRegime derives session, volatility and condition from the
// indicator map at time t.
func ClassifyRegime(ind Indicators, t time.Time) *Regime {
	r := &Regime{
		Session:    Session(t),
		Volatility: VolatilityRegime(DailyVolatility(ind)),
		Condition:  "range",
	}
	t4h := ind.Label("trend_4h", Neutral)
	t1h := ind.Label("trend_1h", Neutral)
	if t4h != Neutral && t4h == t1h {
		r.Condition = "trend"
	}
	return r
}

// Session maps a UTC hour to the dominant trading session.
func Session(t time.Time) string {
	h := t.UTC().Hour()
	switch {
	case h < 8:
		return "asia"
	case h < 13:
		return "europe"
	default:
		return "us"
	}
}

// DailyVolatility is daily ATR over the daily close, falling back to the 1h
// values when daily data is missing.
func DailyVolatility(ind Indicators) float64 {
	atr := ind.Float("atr_14_1d", ind.Float("atr_14", 0))
	ref := ind.Float("close_1d", 0)
	if ref <= 0 {
		ref = ind.Float("price", 0)
	}
	if ref <= 0 {
		return 0
	}
	return atr / ref
}

// VolatilityRegime buckets a daily ATR/price ratio.
func VolatilityRegime(dailyVol float64) string {
	switch {
	case dailyVol >= 0.02:
		return "high"
	case dailyVol >= 0.01:
		return "medium"
	default:
		return "low"
	}
}
