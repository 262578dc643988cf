package portfolio

import (
	"math"

	"futures-trading-agent/internal/strategy"
)

// CashBuffer is the headroom kept on top of committed margin when checking
// available cash.
const CashBuffer = 1.1

// Config holds allocation limits. Percentages are fractions of equity.
type Config struct {
	MaxEquityUsagePct float64
	SwingTargetPct    float64
	ScalpTargetPct    float64
	MinAllocationUSD  float64
}

// DefaultConfig mirrors the shipped defaults.
func DefaultConfig() Config {
	return Config{
		MaxEquityUsagePct: 0.30,
		SwingTargetPct:    0.25,
		ScalpTargetPct:    0.15,
		MinAllocationUSD:  3.0,
	}
}

// MarginSource reports margin currently committed across all positions.
type MarginSource interface {
	TotalMargin() float64
}

// Allocation is the outcome of capping one entry.
type Allocation struct {
	Requested float64 `json:"requested"`
	Capital   float64 `json:"capital"`
	Ceiling   float64 `json:"ceiling"`
	Remaining float64 `json:"remaining"`
	Hold      bool    `json:"hold"`
}

// Allocator caps requested capital by the per-style ceiling, then the
// remaining portfolio budget, then available cash, and drops anything under
// the minimum allocation.
type Allocator struct {
	config Config
	margin MarginSource
}

// NewAllocator creates an allocator reading committed margin from margin.
func NewAllocator(config Config, margin MarginSource) *Allocator {
	return &Allocator{config: config, margin: margin}
}

// Ceiling is the per-trade capital ceiling for style.
func (a *Allocator) Ceiling(style strategy.Style, equity float64) float64 {
	pct := a.config.SwingTargetPct
	if style == strategy.StyleScalp {
		pct = a.config.ScalpTargetPct
	}
	return math.Max(0, pct*equity)
}

// Remaining is the unused part of the global budget.
func (a *Allocator) Remaining(equity float64) float64 {
	return math.Max(0, equity*a.config.MaxEquityUsagePct-a.margin.TotalMargin())
}

// Cap applies every limit to requestedCapital. Hold is set when nothing
// usable is left.
func (a *Allocator) Cap(style strategy.Style, requestedCapital, equity float64) Allocation {
	alloc := Allocation{
		Requested: math.Max(0, requestedCapital),
		Ceiling:   a.Ceiling(style, equity),
		Remaining: a.Remaining(equity),
	}
	capped := math.Min(alloc.Requested, alloc.Ceiling)
	capped = math.Min(capped, alloc.Remaining)

	cash := math.Max(0, equity-a.margin.TotalMargin())
	capped = math.Min(capped, cash/CashBuffer)

	if capped < a.config.MinAllocationUSD || capped <= 0 {
		alloc.Hold = true
		return alloc
	}
	alloc.Capital = capped
	return alloc
}

// Apply caps sig in place: SizePct is rescaled to the allocated capital, or
// the signal becomes a hold when nothing is left. Non-entries pass through.
func (a *Allocator) Apply(sig *strategy.Signal, equity float64) Allocation {
	if !sig.Action.IsEntry() || equity <= 0 {
		return Allocation{}
	}
	alloc := a.Cap(sig.Style, sig.SizePct*equity, equity)
	if alloc.Hold {
		prev := sig.Action
		sig.Action = strategy.ActionHold
		sig.SizePct = 0
		sig.Reason = "no allocation left for " + string(prev) + ": " + sig.Reason
		return alloc
	}
	sig.SizePct = alloc.Capital / equity
	return alloc
}
