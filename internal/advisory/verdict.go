package advisory

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Outcome tags how an advisory result was produced.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeVetoed   Outcome = "vetoed"
	OutcomeUnclear  Outcome = "unclear"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeError    Outcome = "error"
	OutcomeCanceled Outcome = "canceled"
	OutcomeSkipped  Outcome = "skipped"
)

// LeverageWhitelist lists the only leverage suggestions accepted.
var LeverageWhitelist = []float64{1, 2, 3, 5}

const (
	// Leverage suggestions are ignored below this input confidence.
	leverageMinConfidence = 0.75
	minTrail              = 0.05
	maxTrail              = 0.20
	fallbackScanChars     = 100
)

// Verdict is the parsed advisory response. Raw text never leaves this
// package.
type Verdict struct {
	Approved   bool
	Outcome    Outcome
	Confidence *float64
	Leverage   float64 // 0 = no suggestion
	TrailPct   float64 // 0 = no suggestion
	Reasoning  string
}

// Result is what the filter returns to the pipeline.
type Result struct {
	Verdict
	Cached  bool
	Latency time.Duration
	Err     error
}

var (
	confidenceRe = regexp.MustCompile(`(?i)confidence\s*[:=]\s*([0-9]*\.?[0-9]+)\s*(%?)`)
	leverageRe   = regexp.MustCompile(`(?i)leverage\s*[:=]\s*([0-9]*\.?[0-9]+)\s*x?`)
	trailRe      = regexp.MustCompile(`(?i)trail(?:ing)?(?:[ _]stop)?\s*[:=]\s*([0-9]*\.?[0-9]+)\s*(%?)`)
	reasoningRe  = regexp.MustCompile(`(?im)^\s*reasoning\s*:\s*(.+)$`)
)

// ParseVerdict turns the free-text response into a Verdict. inputConfidence
// is the confidence of the signal that was submitted.
func ParseVerdict(text string, inputConfidence float64) Verdict {
	text = strings.TrimSpace(text)
	v := Verdict{}

	switch firstWord(text) {
	case "approve", "approved":
		v.Approved, v.Outcome = true, OutcomeApproved
	case "veto", "vetoed", "reject", "rejected", "no":
		v.Approved, v.Outcome = false, OutcomeVetoed
	default:
		head := strings.ToLower(text)
		if len(head) > fallbackScanChars {
			head = head[:fallbackScanChars]
		}
		if strings.Contains(head, "veto") || strings.Contains(head, "reject") {
			v.Approved, v.Outcome = false, OutcomeVetoed
		} else {
			v.Approved, v.Outcome = true, OutcomeUnclear
		}
	}

	if m := confidenceRe.FindStringSubmatch(text); m != nil {
		if c, ok := parseFraction(m[1], m[2] == "%"); ok {
			v.Confidence = &c
		}
	}

	if inputConfidence >= leverageMinConfidence {
		if m := leverageRe.FindStringSubmatch(text); m != nil {
			if lev, err := strconv.ParseFloat(m[1], 64); err == nil && whitelisted(lev) {
				v.Leverage = lev
			}
		}
	}

	if m := trailRe.FindStringSubmatch(text); m != nil {
		if tr, ok := parseFraction(m[1], m[2] == "%"); ok && tr >= minTrail && tr <= maxTrail {
			v.TrailPct = tr
		}
	}

	if m := reasoningRe.FindStringSubmatch(text); m != nil {
		v.Reasoning = strings.TrimSpace(m[1])
	} else {
		v.Reasoning = firstLine(text)
	}
	return v
}

func firstWord(text string) string {
	fields := strings.Fields(firstLine(text))
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(strings.TrimFunc(fields[0], func(r rune) bool {
		return !unicode.IsLetter(r)
	}))
}

func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return strings.TrimSpace(text[:i])
	}
	return text
}

// parseFraction accepts 0-1 or 0-100 values. Anything else is implausible.
func parseFraction(raw string, percent bool) (float64, bool) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || f < 0 {
		return 0, false
	}
	if percent || f > 1 {
		f /= 100
	}
	if f > 1 {
		return 0, false
	}
	return f, true
}

func whitelisted(lev float64) bool {
	for _, w := range LeverageWhitelist {
		if lev == w {
			return true
		}
	}
	return false
}
