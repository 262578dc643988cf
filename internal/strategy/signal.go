package strategy

import (
	"fmt"
	"time"
)

// Action is the proposed trade action.
type Action string

const (
	ActionLong  Action = "long"
	ActionShort Action = "short"
	ActionClose Action = "close"
	ActionHold  Action = "hold"
)

// IsEntry reports whether a opens a new position.
func (a Action) IsEntry() bool {
	return a == ActionLong || a == ActionShort
}

// Style tags the two independent position styles per symbol.
type Style string

const (
	StyleSwing Style = "swing"
	StyleScalp Style = "scalp"
)

// Styles lists styles in evaluation order. Swing must run before scalp.
var Styles = []Style{StyleSwing, StyleScalp}

// ParseStyle validates a style string.
func ParseStyle(s string) (Style, error) {
	switch Style(s) {
	case StyleSwing, StyleScalp:
		return Style(s), nil
	}
	return "", fmt.Errorf("unknown style %q", s)
}

// Signal is a strategy's proposal for one (symbol, style). Zero-valued
// StopLoss, TakeProfit and TrailPct mean unset.
type Signal struct {
	Symbol       string  `json:"symbol"`
	Style        Style   `json:"style"`
	Action       Action  `json:"action"`
	SizePct      float64 `json:"size_pct"`
	Confidence   float64 `json:"confidence"`
	Reason       string  `json:"reason"`
	Price        float64 `json:"price"`
	EntryLevel   float64 `json:"entry_level,omitempty"`
	StopLoss     float64 `json:"stop_loss,omitempty"`
	TakeProfit   float64 `json:"take_profit,omitempty"`
	TrailPct     float64 `json:"trail_pct,omitempty"`
	Leverage     float64 `json:"leverage"`
	RiskAmount   float64 `json:"risk_amount,omitempty"`
	RewardAmount float64 `json:"reward_amount,omitempty"`
}

// Hold builds a hold signal.
func Hold(symbol string, style Style, confidence float64, reason string) Signal {
	return Signal{
		Symbol:     symbol,
		Style:      style,
		Action:     ActionHold,
		Confidence: confidence,
		Reason:     reason,
		Leverage:   1,
	}
}

// Close builds a full-close signal.
func Close(symbol string, style Style, confidence float64, reason string) Signal {
	return Signal{
		Symbol:     symbol,
		Style:      style,
		Action:     ActionClose,
		SizePct:    1.0,
		Confidence: confidence,
		Reason:     reason,
		Leverage:   1,
	}
}

// Holding is the strategy's read-only view of its own open position.
// Size is signed; zero means flat.
type Holding struct {
	Size       float64
	EntryPrice float64
	EntryTime  time.Time
}

// Flat reports whether no position is held.
func (h Holding) Flat() bool { return h.Size == 0 }

// Account carries the equity figures sizing needs.
type Account struct {
	Equity        float64
	AvailableCash float64
}
