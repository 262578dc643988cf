package strategy

import "math"

// MinOrderNotional is the smallest notional the exchange accepts for a
// futures market order.
const MinOrderNotional = 20.0

// Sizing is the outcome of sizing a directional entry.
type Sizing struct {
	SizePct  float64
	Leverage float64
	Quantity float64
	Capital  float64
	Notional float64
}

// Size converts confidence into an equity fraction, leverage and quantity.
// SizePct is zero when available cash cannot cover the committed capital.
func Size(style Style, confidence, maxEquityPct, price float64, acct Account) Sizing {
	lev := LeverageFor(style, confidence)
	if acct.Equity <= 0 || price <= 0 || lev <= 0 {
		return Sizing{Leverage: lev}
	}
	pct := maxEquityPct * CapitalFraction(style, confidence)
	capital := acct.Equity * pct
	if capital*lev < MinOrderNotional {
		pct = (MinOrderNotional / lev) / acct.Equity
	}
	pct = math.Min(pct, maxEquityPct)
	capital = acct.Equity * pct

	if acct.AvailableCash < capital {
		return Sizing{Leverage: lev}
	}
	notional := capital * lev
	return Sizing{
		SizePct:  pct,
		Leverage: lev,
		Quantity: notional / price,
		Capital:  capital,
		Notional: notional,
	}
}

// applyRisk fills the dollar risk/reward fields from stop and target.
func applyRisk(sig *Signal, qty float64) {
	if qty <= 0 || sig.Price <= 0 {
		return
	}
	if sig.StopLoss > 0 {
		sig.RiskAmount = math.Abs(sig.Price-sig.StopLoss) * qty
	}
	if sig.TakeProfit > 0 {
		sig.RewardAmount = math.Abs(sig.TakeProfit-sig.Price) * qty
	}
}
