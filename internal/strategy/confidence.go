package strategy

// SwingConfidence scores a swing breakout entry. Clamped to [0.3, 0.95].
func SwingConfidence(volumeRatio float64, obvAligned bool, align Alignment, resistanceBonus bool) float64 {
	c := 0.8
	switch {
	case volumeRatio >= 1.5:
		c += 0.15
	case volumeRatio >= 1.2:
		c += 0.10
	case volumeRatio >= 1.0:
		c += 0.05
	case volumeRatio >= 0.8:
	default:
		c -= 0.10
	}
	if obvAligned {
		c += 0.05
	}
	switch align {
	case AlignStrong:
		c += 0.05
	case AlignPartial:
		c += 0.03
	}
	if resistanceBonus {
		c += 0.05
	}
	return clamp(c, 0.3, 0.95)
}

// SwingLevelConfidence scores a swing entry at support or resistance.
func SwingLevelConfidence(volumeRatio float64, obvAligned bool, align Alignment) float64 {
	c := 0.85
	switch {
	case volumeRatio >= 1.5:
		c += 0.10
	case volumeRatio >= 1.2:
		c += 0.05
	}
	if obvAligned {
		c += 0.05
	}
	if align == AlignStrong {
		c += 0.05
	}
	return clamp(c, 0.3, 0.95)
}

// ScalpConfidence scores a scalp band entry from the stronger of the 5m and
// 1m volume ratios. Clamped to [0.4, 0.85].
func ScalpConfidence(vol5m, vol1m float64, obvAligned, vwapAligned, atLevel bool) float64 {
	c := 0.7
	v := vol5m
	if vol1m > v {
		v = vol1m
	}
	switch {
	case v >= 1.5:
		c += 0.10
	case v >= 1.3:
		c += 0.08
	case v >= 1.1:
		c += 0.05
	case v >= 1.0:
		c += 0.02
	case v >= 0.9:
	default:
		c -= 0.08
	}
	if obvAligned {
		c += 0.03
	}
	if vwapAligned {
		c += 0.03
	}
	if atLevel {
		c += 0.03
	}
	return clamp(c, 0.4, 0.85)
}

// ScalpLevelConfidence scores a scalp entry at support or resistance.
func ScalpLevelConfidence(vol5m, vol1m float64, obvAligned, vwapAligned bool) float64 {
	c := 0.75
	v := vol5m
	if vol1m > v {
		v = vol1m
	}
	switch {
	case v >= 1.5:
		c += 0.10
	case v >= 1.3:
		c += 0.08
	case v >= 1.1:
		c += 0.05
	}
	if obvAligned {
		c += 0.03
	}
	if vwapAligned {
		c += 0.03
	}
	c += 0.03 // at level
	return clamp(c, 0.4, 0.85)
}
