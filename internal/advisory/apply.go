package advisory

import (
	"fmt"

	"futures-trading-agent/internal/qualifier"
	"futures-trading-agent/internal/strategy"
)

// Apply folds an advisory result into sig. quality is the entry qualifier
// score computed before the advisory call.
//
// Order: confidence override, qualifier fusion for entries, leverage and
// trail overrides, then veto.
func Apply(sig *strategy.Signal, res Result, quality float64) {
	if res.Confidence != nil {
		sig.Confidence = *res.Confidence
	}
	if sig.Action.IsEntry() {
		fused := qualifier.Fuse(sig.Confidence, quality)
		sig.Reason = fmt.Sprintf("%s | quality=%.2f fused=%.2f", sig.Reason, quality, fused)
		sig.Confidence = fused
	}

	if !res.Approved {
		if sig.Action != strategy.ActionHold {
			prev := sig.Action
			sig.Action = strategy.ActionHold
			sig.SizePct = 0
			if res.Confidence == nil {
				sig.Confidence = 0
			}
			sig.Reason = fmt.Sprintf("advisory vetoed %s (%s, confidence %.2f): %s", prev, res.Outcome, sig.Confidence, sig.Reason)
		}
		return
	}

	if sig.Action.IsEntry() {
		if res.Leverage > 0 {
			sig.Leverage = res.Leverage
		}
		if sig.Style == strategy.StyleSwing {
			sig.TrailPct = strategy.TrailPct(sig.Confidence, res.TrailPct)
		}
	}
}
