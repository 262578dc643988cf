package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"futures-trading-agent/internal/logging"
	"futures-trading-agent/internal/market"
	"futures-trading-agent/internal/strategy"
)

// SanityLimit is the number of consecutive full-size (size_pct >= 1.0)
// decisions that trips the sanity breaker.
const SanityLimit = 3

// Config holds the gate's limits.
type Config struct {
	MaxEquityUsagePct float64       // fraction of equity, 0-1
	MaxLeverage       float64       // hard ceiling for every tier
	DailyLossCapPct   float64       // fraction, 0 disables
	Cooldown          time.Duration // minimum gap between entries, 0 disables
}

// Verdict is the gate's answer. Rejections are values, not errors.
type Verdict struct {
	Approved bool   `json:"approved"`
	Check    string `json:"check,omitempty"` // failing check, empty when approved
	Reason   string `json:"reason"`
}

func approve(reason string) Verdict { return Verdict{Approved: true, Reason: reason} }

func reject(check, format string, args ...interface{}) Verdict {
	return Verdict{Approved: false, Check: check, Reason: fmt.Sprintf(format, args...)}
}

// Stats is a point-in-time view of the gate's counters.
type Stats struct {
	DayStartEquity      float64              `json:"day_start_equity"`
	Day                 string               `json:"day"`
	LastOpen            time.Time            `json:"last_open"`
	ConsecutiveFullSize int                  `json:"consecutive_full_size"`
	Approved            int64                `json:"approved"`
	Rejected            int64                `json:"rejected"`
	LastClose           map[string]time.Time `json:"last_close"`
}

// Gate validates every trade decision before it reaches the allocator.
type Gate struct {
	config Config
	now    func() time.Time
	logger *logging.Logger

	mu             sync.Mutex
	day            string
	dayStartEquity float64
	lastOpen       time.Time
	fullSizeStreak int
	approved       int64
	rejected       int64
	lastClose      map[string]time.Time
}

// NewGate creates a gate.
func NewGate(config Config, logger *logging.Logger) *Gate {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Gate{
		config:    config,
		now:       time.Now,
		logger:    logger.WithComponent("risk"),
		lastClose: make(map[string]time.Time),
	}
}

// SetClock replaces the gate's time source.
func (g *Gate) SetClock(now func() time.Time) {
	g.mu.Lock()
	g.now = now
	g.mu.Unlock()
}

// SmartLeverageCap returns the effective leverage ceiling for an equity
// level. Smaller accounts get less room.
func SmartLeverageCap(equity, maxLeverage float64) float64 {
	var tier float64
	switch {
	case equity < 500:
		tier = 1.0
	case equity < 1000:
		tier = 1.5
	case equity < 5000:
		tier = 2.0
	case equity < 10000:
		tier = 2.5
	default:
		tier = maxLeverage
	}
	return math.Min(tier, maxLeverage)
}

// Validate runs the ordered checks against one decision. signedPosition is
// the current position for the decision's (symbol, style).
func (g *Gate) Validate(decision strategy.Signal, snap *market.Snapshot, signedPosition, equity float64, symbol string) Verdict {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.rollDayLocked(now, equity)

	v := g.validateLocked(decision, snap, signedPosition, equity, now)
	if v.Approved {
		g.approved++
		if decision.Action.IsEntry() {
			g.lastOpen = now
		}
	} else {
		g.rejected++
		g.logger.Warn("decision rejected",
			"symbol", symbol,
			"style", string(decision.Style),
			"action", string(decision.Action),
			"check", v.Check,
			"reason", v.Reason)
	}
	return v
}

func (g *Gate) validateLocked(d strategy.Signal, snap *market.Snapshot, position, equity float64, now time.Time) Verdict {
	switch d.Action {
	case strategy.ActionHold:
		return approve("hold")
	case strategy.ActionClose:
		if position == 0 {
			return reject("close", "no %s position to close", d.Style)
		}
		return approve("close")
	}

	// Scaling into an open position is not supported.
	if position != 0 {
		return reject("open", "%s position already open (size %.6f)", d.Style, position)
	}

	if snap == nil || snap.Price <= 0 {
		price := 0.0
		if snap != nil {
			price = snap.Price
		}
		return reject("price", "invalid snapshot price %.8f", price)
	}
	price := snap.Price
	if equity <= 0 {
		return reject("price", "no equity")
	}

	proposed := equity * d.SizePct / price
	maxSize := equity * g.config.MaxEquityUsagePct / price
	if proposed > maxSize+1e-12 {
		return reject("equity_usage", "size %.2f%% of equity exceeds max usage %.2f%%",
			d.SizePct*100, g.config.MaxEquityUsagePct*100)
	}

	smartCap := SmartLeverageCap(equity, g.config.MaxLeverage)
	if d.Leverage > smartCap+1e-9 {
		return reject("leverage", "leverage %.1fx exceeds smart cap %.1fx for equity $%.2f", d.Leverage, smartCap, equity)
	}
	lev := math.Max(d.Leverage, 1)
	exposure := (math.Abs(position)*price + d.SizePct*equity*lev) / equity
	if exposure > smartCap+1e-9 {
		return reject("leverage", "resulting leverage %.2fx exceeds smart cap %.1fx", exposure, smartCap)
	}

	if g.config.DailyLossCapPct > 0 && g.dayStartEquity > 0 {
		floor := g.dayStartEquity * (1 - g.config.DailyLossCapPct)
		if equity < floor {
			return reject("daily_loss", "daily loss cap hit: equity $%.2f below $%.2f", equity, floor)
		}
	}

	if g.config.Cooldown > 0 && !g.lastOpen.IsZero() {
		if elapsed := now.Sub(g.lastOpen); elapsed < g.config.Cooldown {
			return reject("cooldown", "cooldown: %s since last entry, need %s",
				elapsed.Round(time.Second), g.config.Cooldown)
		}
	}

	if d.SizePct >= 1.0 {
		g.fullSizeStreak++
		if g.fullSizeStreak >= SanityLimit {
			return reject("sanity", "sanity breaker: %d consecutive full-size decisions", g.fullSizeStreak)
		}
	} else {
		g.fullSizeStreak = 0
	}

	return approve(fmt.Sprintf("%s approved (%.1f%% of equity, %.1fx)", d.Action, d.SizePct*100, lev))
}

// rollDayLocked resets the daily starting equity at the UTC day boundary.
func (g *Gate) rollDayLocked(now time.Time, equity float64) {
	day := now.UTC().Format("2006-01-02")
	if day != g.day || g.dayStartEquity <= 0 {
		if day != g.day && g.day != "" {
			g.logger.Info("daily equity reset", "day", day, "equity", equity)
		}
		g.day = day
		g.dayStartEquity = equity
	}
}

// RecordClose notes when a (symbol, style) position was closed.
func (g *Gate) RecordClose(symbol string, style strategy.Style) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastClose[symbol+":"+string(style)] = g.now()
}

// LastClose returns when the (symbol, style) position was last closed.
func (g *Gate) LastClose(symbol string, style strategy.Style) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.lastClose[symbol+":"+string(style)]
	return t, ok
}

// Stats returns a copy of the gate's counters.
func (g *Gate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	closes := make(map[string]time.Time, len(g.lastClose))
	for k, v := range g.lastClose {
		closes[k] = v
	}
	return Stats{
		DayStartEquity:      g.dayStartEquity,
		Day:                 g.day,
		LastOpen:            g.lastOpen,
		ConsecutiveFullSize: g.fullSizeStreak,
		Approved:            g.approved,
		Rejected:            g.rejected,
		LastClose:           closes,
	}
}
