package osm

// Tier is the 5-bucket color classification of a composite score, plus a
// distinct bucket for features whose accessibility is unknown.
type Tier string

const (
	TierExcellent Tier = "excellent" // composite >= 80
	TierGood      Tier = "good"      // composite >= 60
	TierModerate  Tier = "moderate"  // composite >= 40
	TierPoor      Tier = "poor"      // composite >= 20
	TierBad       Tier = "bad"       // composite < 20
	TierUnknown   Tier = "unknown"   // composite absent
)

// Score is the composite accessibility rating of a feature together with the
// per-factor sub-scores and effective weights that produced it.
type Score struct {
	Composite int              `json:"composite"` // 0-100
	Tier      Tier             `json:"tier"`
	Breakdown []FactorScore    `json:"breakdown"`
	Adjusted  []AdjustmentNote `json:"adjusted,omitempty"`
}

// FactorScore is one factor's contribution to the composite: the 0-100
// sub-score and the renormalized weight actually applied to it.
type FactorScore struct {
	Factor string  `json:"factor"`
	Value  float64 `json:"value"`
	Weight float64 `json:"weight"`
}

// AdjustmentNote records a flat bonus or penalty applied after the weighted
// average (lighting, tactile paving, ramp, missing kerb).
type AdjustmentNote struct {
	Reason string `json:"reason"`
	Delta  int    `json:"delta"`
}

// RenderHint is the presentation-facing summary of a feature's state: a
// color keyed by tier and a dashed stroke when any attribute is predicted
// rather than observed.
type RenderHint struct {
	Tier   Tier `json:"tier"`
	Dashed bool `json:"dashed"`
}
