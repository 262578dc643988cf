package strategy

import "futures-trading-agent/internal/market"

// SwingAnalyzer evaluates the swing style for one symbol.
type SwingAnalyzer interface {
	// Analyze returns the swing signal given the symbol's swing holding.
	Analyze(snap *market.Snapshot, h Holding, acct Account) Signal
}

// ScalpAnalyzer evaluates the scalp style for one symbol. swing is read after
// the swing style has been processed in the same cycle.
type ScalpAnalyzer interface {
	Analyze(snap *market.Snapshot, h Holding, acct Account, swing Holding) Signal
}

var (
	_ SwingAnalyzer = (*Swing)(nil)
	_ ScalpAnalyzer = (*Scalp)(nil)
)
