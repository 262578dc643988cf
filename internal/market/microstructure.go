package market

import "math"

// BookLevel is one price level of the order book.
type BookLevel struct {
	Price    float64
	Quantity float64
}

// AnalyzeBook builds a Microstructure from top-of-book depth. prevMid, when
// non-zero, is the mid price from the previous snapshot and is used to flag
// a sweep through the heaviest zone.
func AnalyzeBook(bids, asks []BookLevel, prevMid float64) *Microstructure {
	if len(bids) == 0 || len(asks) == 0 {
		return nil
	}
	bestBid, bestAsk := bids[0].Price, asks[0].Price
	mid := (bestBid + bestAsk) / 2
	if mid <= 0 {
		return nil
	}

	m := &Microstructure{
		SpreadBP: (bestAsk - bestBid) / mid * 10000,
	}

	var bidQty, askQty float64
	zone := BookLevel{}
	zoneType := ""
	for _, b := range bids {
		bidQty += b.Quantity
		if b.Quantity > zone.Quantity {
			zone, zoneType = b, "bid"
		}
	}
	for _, a := range asks {
		askQty += a.Quantity
		if a.Quantity > zone.Quantity {
			zone, zoneType = a, "ask"
		}
	}
	if total := bidQty + askQty; total > 0 {
		m.Imbalance = (bidQty - askQty) / total
	}
	if zone.Price > 0 {
		m.ZonePrice = zone.Price
		m.ZoneType = zoneType
		m.ZoneDistancePct = math.Abs(zone.Price-mid) / mid * 100
	}

	if prevMid > 0 && m.ZonePrice > 0 {
		switch {
		case prevMid < m.ZonePrice && mid > m.ZonePrice:
			m.SweepDetected, m.SweepDirection = true, "up"
		case prevMid > m.ZonePrice && mid < m.ZonePrice:
			m.SweepDetected, m.SweepDirection = true, "down"
		}
		if m.SweepDetected {
			m.SweepConfidence = math.Min(1, math.Abs(mid-prevMid)/mid*200)
		}
	}
	return m
}
