package strategy

// Tier maps a minimum confidence to a value. Tables are ordered by
// descending MinConfidence; the last row must have MinConfidence 0.
type Tier struct {
	MinConfidence float64
	Value         float64
}

var capitalTiers = map[Style][]Tier{
	StyleSwing: {
		{0.8, 0.833},
		{0.6, 0.40},
		{0, 0.20},
	},
	StyleScalp: {
		{0.8, 0.50},
		{0.6, 0.333},
		{0, 0.167},
	},
}

var leverageTiers = []Tier{
	{0.9, 1.0},
	{0.8, 0.9},
	{0.7, 0.8},
	{0.6, 0.7},
	{0, 0.5},
}

var baseLeverage = map[Style]float64{
	StyleSwing: 3.0,
	StyleScalp: 2.0,
}

// Trail tiers for swing trailing stops. Tighter trail at higher confidence.
var trailTiers = []Tier{
	{0.9, 0.10},
	{0.75, 0.12},
	{0, 0.15},
}

// Advisory trail suggestions outside this band are ignored.
const (
	MinAdvisoryTrail = 0.05
	MaxAdvisoryTrail = 0.20
)

func lookup(tiers []Tier, confidence float64) float64 {
	for _, t := range tiers {
		if confidence >= t.MinConfidence {
			return t.Value
		}
	}
	return tiers[len(tiers)-1].Value
}

// CapitalFraction is the share of the max-equity budget a signal of this
// confidence may commit.
func CapitalFraction(style Style, confidence float64) float64 {
	return lookup(capitalTiers[style], confidence)
}

// LeverageFor returns the strategy leverage for a confidence level. Risk
// limits may lower it further downstream.
func LeverageFor(style Style, confidence float64) float64 {
	return baseLeverage[style] * lookup(leverageTiers, confidence)
}

// TrailPct returns the trailing distance as a fraction of price. A valid
// advisory suggestion wins over the confidence tier.
func TrailPct(confidence, advisoryTrail float64) float64 {
	if advisoryTrail >= MinAdvisoryTrail && advisoryTrail <= MaxAdvisoryTrail {
		return advisoryTrail
	}
	return lookup(trailTiers, confidence)
}
