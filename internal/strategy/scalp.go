package strategy

import (
	"fmt"
	"math"
	"time"

	"futures-trading-agent/internal/logging"
	"futures-trading-agent/internal/market"
)

const (
	scalpMinStopPct    = 0.003
	scalpMaxStopPct    = 0.01
	scalpMinTargetPct  = 0.005
	scalpMaxTargetPct  = 0.02
	scalpNoMoveProfit  = 0.003
	scalpNoMoveWindow  = time.Hour
	scalpReversalVWAP  = 0.002
	scalpMomentumRSI   = 75.0
	scalpDefaultATRPct = 0.002
)

// DefaultScalpMinHold is the hold time after which a stalled scalp is cut.
const DefaultScalpMinHold = 5 * time.Minute

// Scalp trades short-timeframe momentum around VWAP and the 1m/5m bands.
type Scalp struct {
	maxEquityPct float64
	minHold      time.Duration
	logger       *logging.Logger
	now          func() time.Time
}

// NewScalp creates the scalp strategy.
func NewScalp(maxEquityPct float64, minHold time.Duration, logger *logging.Logger) *Scalp {
	if minHold <= 0 {
		minHold = DefaultScalpMinHold
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Scalp{
		maxEquityPct: maxEquityPct,
		minHold:      minHold,
		logger:       logger.WithComponent("scalp"),
		now:          time.Now,
	}
}

func (s *Scalp) Style() Style { return StyleScalp }

// Analyze decides the scalp action. swing is the symbol's swing holding as
// it stands after this cycle's swing evaluation.
func (s *Scalp) Analyze(snap *market.Snapshot, h Holding, acct Account, swing Holding) Signal {
	symbol := snap.Symbol
	ind := snap.Indicators
	price := snap.Price
	if price <= 0 {
		return Hold(symbol, StyleScalp, 0, "no price")
	}

	// The volatility filter gates exit management too; an open scalp in a
	// dead market is left to its stop and target.
	atr := ind.Float("atr_14_5m", ind.Float("atr_14", 0))
	if atr <= 0 {
		atr = price * scalpDefaultATRPct
	}
	atrPct := atr / price
	threshold := ScalpVolatilityThreshold(market.DailyVolatility(ind))
	if atrPct < threshold {
		return Hold(symbol, StyleScalp, 0,
			fmt.Sprintf("volatility too low: ATR %.3f%% < %.3f%%", atrPct*100, threshold*100))
	}

	if !h.Flat() {
		return s.manageOpen(snap, h)
	}

	sig, ok := s.findEntry(snap)
	if !ok {
		return sig
	}

	if !swing.Flat() && (swing.Size > 0) == (sig.Action == ActionLong) {
		side := "LONG"
		if swing.Size < 0 {
			side = "SHORT"
		}
		return Hold(symbol, StyleScalp, sig.Confidence,
			fmt.Sprintf("blocked: same direction as open swing %s (size %.6f)", side, swing.Size))
	}

	sz := Size(StyleScalp, sig.Confidence, s.maxEquityPct, price, acct)
	if sz.SizePct <= 0 {
		return Hold(symbol, StyleScalp, 0,
			fmt.Sprintf("insufficient cash: available $%.2f", acct.AvailableCash))
	}
	sig.SizePct = sz.SizePct
	sig.Leverage = sz.Leverage

	slPct := math.Min(math.Max(scalpMinStopPct, 0.5*atrPct), scalpMaxStopPct)
	tpPct := math.Min(math.Max(scalpMinTargetPct, 0.8*atrPct), scalpMaxTargetPct)
	if sig.Action == ActionLong {
		sig.StopLoss = price * (1 - slPct)
		sig.TakeProfit = price * (1 + tpPct)
	} else {
		sig.StopLoss = price * (1 + slPct)
		sig.TakeProfit = price * (1 - tpPct)
	}
	applyRisk(&sig, sz.Quantity)

	s.logger.Debug("scalp entry", "symbol", symbol, "action", string(sig.Action),
		"confidence", sig.Confidence, "size_pct", sig.SizePct)
	return sig
}

func (s *Scalp) manageOpen(snap *market.Snapshot, h Holding) Signal {
	ind := snap.Indicators
	price := snap.Price
	long := h.Size > 0

	profit := 0.0
	if h.EntryPrice > 0 {
		profit = (price - h.EntryPrice) / h.EntryPrice
		if !long {
			profit = -profit
		}
	}

	if !h.EntryTime.IsZero() {
		held := s.now().Sub(h.EntryTime)
		if held >= s.minHold && held <= scalpNoMoveWindow && profit < scalpNoMoveProfit {
			return Close(snap.Symbol, StyleScalp, 0.7,
				fmt.Sprintf("no meaningful move after %s (P&L %.2f%%)", held.Round(time.Second), profit*100))
		}
	}

	t5 := ind.Label("trend_5m", market.Neutral)
	t1 := ind.Label("trend_1m", market.Neutral)
	vwap := ind.Float("vwap_5m", 0)
	if vwap > 0 {
		if long && t5 == market.Bearish && t1 == market.Bearish && price < vwap*(1-scalpReversalVWAP) {
			return Close(snap.Symbol, StyleScalp, 0.8,
				fmt.Sprintf("strong reversal: 5m/1m bearish, price below VWAP $%.4f flip_to=short", vwap))
		}
		if !long && t5 == market.Bullish && t1 == market.Bullish && price > vwap*(1+scalpReversalVWAP) {
			return Close(snap.Symbol, StyleScalp, 0.8,
				fmt.Sprintf("strong reversal: 5m/1m bullish, price above VWAP $%.4f flip_to=long", vwap))
		}
	}
	return Hold(snap.Symbol, StyleScalp, 0.6, fmt.Sprintf("scalp open, P&L %.2f%%", profit*100))
}

func (s *Scalp) findEntry(snap *market.Snapshot) (Signal, bool) {
	ind := snap.Indicators
	price := snap.Price
	symbol := snap.Symbol

	t5 := ind.Label("trend_5m", market.Neutral)
	vwap := ind.Float("vwap_5m", 0)
	vol5 := ind.Float("volume_ratio_5m", 1)
	vol1 := ind.Float("volume_ratio_1m", 1)
	obv := ind.Label("obv_trend_5m", market.Neutral)
	lv := SupportResistance(ind, price)

	entry := func(dir Action, conf, level float64, reason string) (Signal, bool) {
		return Signal{
			Symbol:     symbol,
			Style:      StyleScalp,
			Action:     dir,
			Confidence: conf,
			Price:      price,
			EntryLevel: level,
			Reason:     fmt.Sprintf("%s | %s", reason, volumeDescription(math.Max(vol5, vol1))),
		}, true
	}

	longSetup := t5 == market.Bullish && vwap > 0 && price > vwap && ScalpBias(ind, price, ActionLong)
	shortSetup := t5 == market.Bearish && vwap > 0 && price < vwap && ScalpBias(ind, price, ActionShort)

	if longSetup && lv.NearSupport {
		conf := ScalpLevelConfidence(vol5, vol1, obvAgrees(obv, ActionLong), true)
		return entry(ActionLong, conf, lv.Support, fmt.Sprintf("LONG scalp at support $%.4f, above VWAP", lv.Support))
	}
	if shortSetup && lv.NearResistance {
		conf := ScalpLevelConfidence(vol5, vol1, obvAgrees(obv, ActionShort), true)
		return entry(ActionShort, conf, lv.Resistance, fmt.Sprintf("SHORT scalp at resistance $%.4f, below VWAP", lv.Resistance))
	}

	t4h := ind.Label("trend_4h", market.Neutral)
	t1h := ind.Label("trend_1h", market.Neutral)

	if longSetup && t4h != market.Bearish && t1h != market.Bearish {
		momentum := price > ind.Float("ema_20_1m", math.Inf(1)) && ind.Float("rsi_14_1m", 50) < scalpMomentumRSI
		b1, band1, _ := Breakout(ind, price, ActionLong, "1m")
		b5, band5, _ := Breakout(ind, price, ActionLong, "5m")
		if (b1 || b5 || NearBand(ind, price, ActionLong, "1m")) && momentum {
			conf := ScalpConfidence(vol5, vol1, obvAgrees(obv, ActionLong), true, lv.NearSupport)
			level := band1
			if b5 && !b1 {
				level = band5
			}
			return entry(ActionLong, conf, level, fmt.Sprintf("LONG scalp momentum above VWAP $%.4f", vwap))
		}
	}
	if shortSetup && t4h != market.Bullish && t1h != market.Bullish {
		momentum := price < ind.Float("ema_20_1m", 0) && ind.Float("rsi_14_1m", 50) > 100-scalpMomentumRSI
		b1, band1, _ := Breakout(ind, price, ActionShort, "1m")
		b5, band5, _ := Breakout(ind, price, ActionShort, "5m")
		if (b1 || b5 || NearBand(ind, price, ActionShort, "1m")) && momentum {
			conf := ScalpConfidence(vol5, vol1, obvAgrees(obv, ActionShort), true, lv.NearResistance)
			level := band1
			if b5 && !b1 {
				level = band5
			}
			return entry(ActionShort, conf, level, fmt.Sprintf("SHORT scalp momentum below VWAP $%.4f", vwap))
		}
	}

	return Hold(symbol, StyleScalp, 0, fmt.Sprintf("no scalp setup (5m %s)", t5)), false
}
