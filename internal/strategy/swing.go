package strategy

import (
	"fmt"
	"math"
	"sync"

	"futures-trading-agent/internal/logging"
	"futures-trading-agent/internal/market"
)

const (
	swingStopATR      = 2.0
	swingTargetATR    = 4.0
	swingMinStopPct   = 0.005
	antiChopPct       = 0.005
	swingMomentumRSI  = 75.0
	swingExitConf     = 0.9
	swingHoldOpenConf = 0.7
)

// Swing trades 1h trend breakouts and S/R bounces confirmed by the daily and
// 4h trend.
type Swing struct {
	maxEquityPct float64
	logger       *logging.Logger

	mu         sync.Mutex
	lastSignal map[string]float64
}

// NewSwing creates the swing strategy. maxEquityPct bounds the committed
// capital fraction.
func NewSwing(maxEquityPct float64, logger *logging.Logger) *Swing {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Swing{
		maxEquityPct: maxEquityPct,
		logger:       logger.WithComponent("swing"),
		lastSignal:   make(map[string]float64),
	}
}

func (s *Swing) Style() Style { return StyleSwing }

// Analyze decides the swing action for one symbol.
func (s *Swing) Analyze(snap *market.Snapshot, h Holding, acct Account) Signal {
	symbol := snap.Symbol
	ind := snap.Indicators
	price := snap.Price

	ema50 := ind.Float("ema_50", 0)
	atr := ind.Float("atr_14", 0)
	if ema50 <= 0 || atr <= 0 || price <= 0 {
		return Hold(symbol, StyleSwing, 0, "insufficient indicator data")
	}

	if !h.Flat() {
		return s.manageOpen(snap, h)
	}

	sig, ok := s.findEntry(snap)
	if !ok {
		return sig
	}

	if last := s.last(symbol); last > 0 && math.Abs(price-last)/last < antiChopPct {
		return Hold(symbol, StyleSwing, 0.3,
			fmt.Sprintf("anti-chop: price $%.4f within %.1f%% of last signal $%.4f", price, antiChopPct*100, last))
	}

	sz := Size(StyleSwing, sig.Confidence, s.maxEquityPct, price, acct)
	if sz.SizePct <= 0 {
		return Hold(symbol, StyleSwing, 0,
			fmt.Sprintf("insufficient cash: available $%.2f", acct.AvailableCash))
	}
	sig.SizePct = sz.SizePct
	sig.Leverage = sz.Leverage

	slDist := math.Max(swingStopATR*atr, price*swingMinStopPct)
	tpDist := math.Max(swingTargetATR*atr, 2*slDist)
	if sig.Action == ActionLong {
		sig.StopLoss = price - slDist
		sig.TakeProfit = price + tpDist
	} else {
		sig.StopLoss = price + slDist
		sig.TakeProfit = price - tpDist
	}
	sig.TrailPct = TrailPct(sig.Confidence, 0)
	applyRisk(&sig, sz.Quantity)

	s.remember(symbol, price)
	s.logger.Debug("swing entry", "symbol", symbol, "action", string(sig.Action),
		"confidence", sig.Confidence, "size_pct", sig.SizePct, "leverage", sig.Leverage)
	return sig
}

func (s *Swing) manageOpen(snap *market.Snapshot, h Holding) Signal {
	ind := snap.Indicators
	price := snap.Price
	ema50 := ind.Float("ema_50", 0)

	if h.Size > 0 {
		align := TrendAlignment(ind, ActionLong, price)
		if align < AlignPartial || price < ema50 {
			return Close(snap.Symbol, StyleSwing, swingExitConf,
				fmt.Sprintf("long trend degraded (%s), price $%.4f vs EMA50 $%.4f", align, price, ema50))
		}
		return Hold(snap.Symbol, StyleSwing, swingHoldOpenConf, "long trend intact, "+trendInfo(ind))
	}
	align := TrendAlignment(ind, ActionShort, price)
	if align < AlignPartial || price > ema50 {
		return Close(snap.Symbol, StyleSwing, swingExitConf,
			fmt.Sprintf("short trend degraded (%s), price $%.4f vs EMA50 $%.4f", align, price, ema50))
	}
	return Hold(snap.Symbol, StyleSwing, swingHoldOpenConf, "short trend intact, "+trendInfo(ind))
}

// findEntry returns an unsized directional signal, or a hold with ok=false.
func (s *Swing) findEntry(snap *market.Snapshot) (Signal, bool) {
	ind := snap.Indicators
	price := snap.Price
	symbol := snap.Symbol

	longAlign := TrendAlignment(ind, ActionLong, price)
	shortAlign := TrendAlignment(ind, ActionShort, price)
	lv := SupportResistance(ind, price)
	vol := ind.Float("volume_ratio_1h", ind.Float("volume_ratio", 1))
	obv := ind.Label("obv_trend", market.Neutral)

	entry := func(dir Action, conf, level float64, reason string) (Signal, bool) {
		return Signal{
			Symbol:     symbol,
			Style:      StyleSwing,
			Action:     dir,
			Confidence: conf,
			Price:      price,
			EntryLevel: level,
			Reason:     fmt.Sprintf("%s | %s | %s", reason, volumeDescription(vol), trendInfo(ind)),
		}, true
	}

	if lv.NearSupport && longAlign >= AlignPartial {
		conf := SwingLevelConfidence(vol, obvAgrees(obv, ActionLong), longAlign)
		return entry(ActionLong, conf, lv.Support,
			fmt.Sprintf("LONG at support $%.4f (%s alignment)", lv.Support, longAlign))
	}
	if lv.NearResistance && shortAlign >= AlignPartial {
		conf := SwingLevelConfidence(vol, obvAgrees(obv, ActionShort), shortAlign)
		return entry(ActionShort, conf, lv.Resistance,
			fmt.Sprintf("SHORT at resistance $%.4f (%s alignment)", lv.Resistance, shortAlign))
	}

	if longAlign >= AlignPartial && !lv.NearResistance {
		if broke, band, desc := Breakout(ind, price, ActionLong, "1h"); broke {
			if level, timing, ok := swingTiming(ind, price, ActionLong); ok {
				conf := SwingConfidence(vol, obvAgrees(obv, ActionLong), longAlign, false)
				if level <= 0 {
					level = band
				}
				return entry(ActionLong, conf, level, fmt.Sprintf("LONG breakout %s, %s", desc, timing))
			}
		}
	}
	if shortAlign >= AlignPartial && !lv.NearSupport {
		if broke, band, desc := Breakout(ind, price, ActionShort, "1h"); broke {
			if level, timing, ok := swingTiming(ind, price, ActionShort); ok {
				conf := SwingConfidence(vol, obvAgrees(obv, ActionShort), shortAlign, lv.NearResistance)
				if level <= 0 {
					level = band
				}
				return entry(ActionShort, conf, level, fmt.Sprintf("SHORT breakdown %s, %s", desc, timing))
			}
		}
	}

	return Hold(symbol, StyleSwing, 0, "no setup, "+trendInfo(ind)), false
}

// swingTiming confirms a 1h breakout on 15m, either as a pullback held above
// (below) the 15m EMA50 or as momentum at the 15m band.
func swingTiming(ind market.Indicators, price float64, dir Action) (float64, string, bool) {
	ema50 := ind.Float("ema_50_15m", 0)
	t15 := ind.Label("trend_15m", market.Neutral)
	rsi := ind.Float("rsi_14_15m", 50)

	if dir == ActionShort {
		if ema50 > 0 && price < ema50 && t15 == market.Bearish {
			return ema50, fmt.Sprintf("15m pullback below EMA50 $%.4f", ema50), true
		}
		if NearBand(ind, price, ActionShort, "15m") && rsi > 100-swingMomentumRSI {
			return 0, fmt.Sprintf("15m momentum, RSI %.1f", rsi), true
		}
		return 0, "", false
	}
	if ema50 > 0 && price > ema50 && t15 == market.Bullish {
		return ema50, fmt.Sprintf("15m pullback above EMA50 $%.4f", ema50), true
	}
	if NearBand(ind, price, ActionLong, "15m") && rsi < swingMomentumRSI {
		return 0, fmt.Sprintf("15m momentum, RSI %.1f", rsi), true
	}
	return 0, "", false
}

func (s *Swing) last(symbol string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSignal[symbol]
}

func (s *Swing) remember(symbol string, price float64) {
	s.mu.Lock()
	s.lastSignal[symbol] = price
	s.mu.Unlock()
}
