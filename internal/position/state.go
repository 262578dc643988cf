package position

import (
	"math"
	"time"

	"futures-trading-agent/internal/strategy"
)

// State is one open position for a (symbol, style). Size is signed: positive
// is long, negative is short. A State with zero size is never stored.
type State struct {
	Symbol        string         `json:"symbol"`
	Style         strategy.Style `json:"style"`
	Size          float64        `json:"size"`
	EntryPrice    float64        `json:"entry_price"`
	EntryTime     time.Time      `json:"entry_time"`
	StopLoss      float64        `json:"stop_loss"`
	TakeProfit    float64        `json:"take_profit"`
	Leverage      float64        `json:"leverage"`
	CapitalUsed   float64        `json:"capital_used"`
	Confidence    float64        `json:"confidence"`
	TrailExtreme  float64        `json:"trail_extreme"` // highest price for longs, lowest for shorts
	AdvisoryTrail float64        `json:"advisory_trail,omitempty"`
	RiskAmount    float64        `json:"risk_amount,omitempty"`
	RewardAmount  float64        `json:"reward_amount,omitempty"`
	OrderID       string         `json:"order_id,omitempty"`
}

// IsLong reports whether the position is long.
func (s State) IsLong() bool { return s.Size > 0 }

// Side returns LONG or SHORT.
func (s State) Side() string {
	if s.Size < 0 {
		return "SHORT"
	}
	return "LONG"
}

// Margin is the capital committed at entry. It never depends on the
// current price.
func (s State) Margin() float64 {
	lev := s.Leverage
	if lev <= 0 {
		lev = 1
	}
	return math.Abs(s.Size) * s.EntryPrice / lev
}

// Notional is the position value at price.
func (s State) Notional(price float64) float64 {
	return math.Abs(s.Size) * price
}

// UnrealizedPnL is always derived from the live price.
func (s State) UnrealizedPnL(price float64) float64 {
	if price <= 0 {
		return 0
	}
	return (price - s.EntryPrice) * s.Size
}

// Holding is the strategy's view of the position.
func (s State) Holding() strategy.Holding {
	return strategy.Holding{Size: s.Size, EntryPrice: s.EntryPrice, EntryTime: s.EntryTime}
}

// SymbolPositions holds the two independent style slots for a symbol.
type SymbolPositions struct {
	Swing *State `json:"swing,omitempty"`
	Scalp *State `json:"scalp,omitempty"`
}

// Get returns the slot for style.
func (p *SymbolPositions) Get(style strategy.Style) *State {
	if style == strategy.StyleScalp {
		return p.Scalp
	}
	return p.Swing
}

func (p *SymbolPositions) set(style strategy.Style, s *State) {
	if style == strategy.StyleScalp {
		p.Scalp = s
		return
	}
	p.Swing = s
}

// Empty reports whether both slots are flat.
func (p *SymbolPositions) Empty() bool {
	return p.Swing == nil && p.Scalp == nil
}

func (p *SymbolPositions) clone() SymbolPositions {
	var out SymbolPositions
	if p.Swing != nil {
		s := *p.Swing
		out.Swing = &s
	}
	if p.Scalp != nil {
		s := *p.Scalp
		out.Scalp = &s
	}
	return out
}

// ClosedTrade is a completed round trip.
type ClosedTrade struct {
	ID         string         `json:"id"`
	Symbol     string         `json:"symbol"`
	Style      strategy.Style `json:"style"`
	Side       string         `json:"side"`
	Size       float64        `json:"size"`
	EntryPrice float64        `json:"entry_price"`
	ExitPrice  float64        `json:"exit_price"`
	EntryTime  time.Time      `json:"entry_time"`
	ExitTime   time.Time      `json:"exit_time"`
	Leverage   float64        `json:"leverage"`
	PnL        float64        `json:"pnl"`
	PnLPct     float64        `json:"pnl_pct"` // of committed margin
	Reason     string         `json:"reason"`
}

// ExitKind names what triggered a protective exit.
type ExitKind string

const (
	ExitStopLoss   ExitKind = "stop_loss"
	ExitTakeProfit ExitKind = "take_profit"
)

// Exit is the close instruction returned by CheckSLTP. State is the
// position as it was just before it was cleared.
type Exit struct {
	State        State    `json:"state"`
	Kind         ExitKind `json:"kind"`
	TriggerPrice float64  `json:"trigger_price"`
}

// StopUpdate reports a trailing stop move.
type StopUpdate struct {
	Symbol   string  `json:"symbol"`
	OldStop  float64 `json:"old_stop"`
	NewStop  float64 `json:"new_stop"`
	Extreme  float64 `json:"extreme"`
	TrailPct float64 `json:"trail_pct"`
}
