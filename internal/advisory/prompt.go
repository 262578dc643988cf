package advisory

import (
	"fmt"
	"strings"

	"futures-trading-agent/internal/market"
)

const systemPrompt = `You are the risk filter for an automated crypto futures trading agent.
Argue against the proposed trade before deciding. You protect capital; you are not trying to agree with the strategy.

Respond with exactly one word on the first line: APPROVE or VETO.
Then, one per line:
CONFIDENCE: <0.00-1.00, your confidence in the trade>
LEVERAGE: <1x, 2x, 3x or 5x> (optional, only for high-conviction setups)
TRAIL: <5%-20%> (optional, trailing stop distance for swing trades)
OPPOSITE CHECK: <the strongest case against the trade>
REASONING: <your balanced assessment>
CONCERNS: <remaining conditions>`

// BuildPrompt renders the system and user prompts for one request.
func BuildPrompt(req Request) (string, string) {
	var b strings.Builder
	sig := req.Signal
	snap := req.Snapshot

	fmt.Fprintf(&b, "SIGNAL TO EVALUATE:\n")
	fmt.Fprintf(&b, "- Action: %s (%s)\n", strings.ToUpper(string(sig.Action)), sig.Style)
	fmt.Fprintf(&b, "- Symbol: %s\n", sig.Symbol)
	fmt.Fprintf(&b, "- Size: %.1f%% of equity at %.1fx leverage\n", sig.SizePct*100, sig.Leverage)
	fmt.Fprintf(&b, "- Strategy confidence: %.2f\n", sig.Confidence)
	if sig.StopLoss > 0 || sig.TakeProfit > 0 {
		fmt.Fprintf(&b, "- Stop: $%.4f, Target: $%.4f\n", sig.StopLoss, sig.TakeProfit)
	}
	fmt.Fprintf(&b, "- Reason: %s\n\n", sig.Reason)

	side := "NONE"
	switch {
	case req.PositionSize > 0:
		side = "LONG"
	case req.PositionSize < 0:
		side = "SHORT"
	}
	available := req.Equity - req.TotalMarginUsed
	if available < 0 {
		available = 0
	}
	fmt.Fprintf(&b, "ACCOUNT:\n")
	fmt.Fprintf(&b, "- Position (%s): %.6f %s\n", sig.Style, req.PositionSize, side)
	fmt.Fprintf(&b, "- Equity $%.2f, margin in use $%.2f, available $%.2f\n", req.Equity, req.TotalMarginUsed, available)
	if len(req.AllSymbols) > 0 {
		fmt.Fprintf(&b, "- Portfolio symbols: %s\n", strings.Join(req.AllSymbols, ", "))
	}
	b.WriteString("\n")

	if snap != nil {
		ind := snap.Indicators
		fmt.Fprintf(&b, "MARKET (%s):\n", snap.Symbol)
		fmt.Fprintf(&b, "- Price: $%.4f (bid %.4f / ask %.4f)\n", snap.Price, snap.Bid, snap.Ask)
		fmt.Fprintf(&b, "- Trend: 1D=%s 4H=%s 1H=%s 15M=%s 5M=%s\n",
			ind.Label("trend_1d", "unknown"), ind.Label("trend_4h", "unknown"),
			ind.Label("trend_1h", "unknown"), ind.Label("trend_15m", "unknown"),
			ind.Label("trend_5m", "unknown"))
		fmt.Fprintf(&b, "- RSI14 %.1f, EMA50 $%.4f, ATR14 $%.4f\n",
			ind.Float("rsi_14", 50), ind.Float("ema_50", 0), ind.Float("atr_14", 0))
		fmt.Fprintf(&b, "- S1 $%.4f, R1 $%.4f, VWAP 5m $%.4f\n",
			ind.Float("support_1", 0), ind.Float("resistance_1", 0), ind.Float("vwap_5m", 0))
		fmt.Fprintf(&b, "- Volume ratio 1H %.2fx, OBV %s\n",
			ind.Float("volume_ratio_1h", 1), ind.Label("obv_trend", market.Neutral))
		if m := snap.Micro; m != nil {
			fmt.Fprintf(&b, "- Order book imbalance %.3f, spread %.2fbp\n", m.Imbalance, m.SpreadBP)
			if m.ZoneType != "" {
				fmt.Fprintf(&b, "- Liquidity zone %s at $%.4f (%.2f%% away)\n", m.ZoneType, m.ZonePrice, m.ZoneDistancePct)
			}
			if m.SweepDetected {
				fmt.Fprintf(&b, "- Sweep detected: %s (confidence %.2f)\n", m.SweepDirection, m.SweepConfidence)
			}
		}
		if r := snap.Regime; r != nil {
			fmt.Fprintf(&b, "- Regime: %s session, %s volatility, %s\n", r.Session, r.Volatility, r.Condition)
		}
		if snap.Stale {
			b.WriteString("- WARNING: market data is stale (served from cache)\n")
		}
	}
	if req.Quality > 0 {
		fmt.Fprintf(&b, "\nEntry quality score: %.2f\n", req.Quality)
	}
	return systemPrompt, b.String()
}
