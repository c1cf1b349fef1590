// Package scoring computes the 0-100 composite accessibility score of a
// feature from its canonical attributes. The scorer is a pure function of
// its inputs: identical attributes always produce identical scores.
package scoring

import (
	"math"

	"github.com/rollnav/accesscore/osm"
)

// Weights are the relative factor weights of the composite score. Weights of
// factors whose sub-score is missing are dropped and the remainder is
// renormalized to sum to 1.
type Weights struct {
	Surface    float64
	Incline    float64
	Width      float64
	Smoothness float64
}

// DefaultWeights returns the standard factor weighting.
func DefaultWeights() Weights {
	return Weights{
		Surface:    0.30,
		Incline:    0.35,
		Width:      0.20,
		Smoothness: 0.15,
	}
}

// Thresholds are the tier cut-offs for the 5-bucket classification.
type Thresholds struct {
	Excellent int
	Good      int
	Moderate  int
	Poor      int
}

// DefaultThresholds returns the standard tier cut-offs.
func DefaultThresholds() Thresholds {
	return Thresholds{Excellent: 80, Good: 60, Moderate: 40, Poor: 20}
}

// Flat adjustments applied after the weighted average, in this order.
const (
	bonusLit           = 3
	bonusTactilePaving = 5
	bonusRamp          = 10
	penaltyKerbAbsent  = 10
)

// stepsComposite is the hard score for steps without a usable ramp. Steps a
// wheelchair cannot pass override every other factor.
const stepsComposite = 5

// surfaceScores maps canonical surface values to 0-100 sub-scores.
var surfaceScores = map[string]float64{
	"asphalt":       100,
	"paved":         95,
	"concrete":      95,
	"paving_stones": 80,
	"wood":          75,
	"metal":         75,
	"compacted":     70,
	"fine_gravel":   60,
	"sett":          50,
	"unpaved":       40,
	"gravel":        35,
	"ground":        30,
	"cobblestone":   25,
	"grass":         20,
	"mud":           5,
	"sand":          5,
	"unknown":       40,
}

// smoothnessScores maps canonical smoothness grades to 0-100 sub-scores.
var smoothnessScores = map[string]float64{
	"excellent":     100,
	"good":          85,
	"intermediate":  60,
	"bad":           35,
	"very_bad":      20,
	"horrible":      10,
	"very_horrible": 5,
	"impassable":    0,
	"unknown":       40,
}

// Scorer turns canonical attributes into composite scores. The zero value is
// not usable; construct with New.
type Scorer struct {
	weights    Weights
	thresholds Thresholds
}

// New creates a scorer. Zero-valued weights or thresholds fall back to the
// defaults.
func New(w Weights, t Thresholds) *Scorer {
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	if t == (Thresholds{}) {
		t = DefaultThresholds()
	}
	return &Scorer{weights: w, thresholds: t}
}

// Compute scores a feature's canonical attributes. It returns nil when no
// sub-score is available: unknown accessibility is not the same as bad
// accessibility. It never panics on absent or odd inputs.
func (s *Scorer) Compute(attrs osm.CanonicalAttributes, flags osm.Flags) *osm.Score {
	// Steps without a ramp are not wheelchair-passable, full stop.
	if flags.Steps && !flags.Ramp {
		return &osm.Score{
			Composite: stepsComposite,
			Tier:      s.TierFor(stepsComposite),
			Adjusted: []osm.AdjustmentNote{
				{Reason: "steps_without_ramp", Delta: 0},
			},
		}
	}

	type factor struct {
		name   string
		value  *float64
		weight float64
	}
	factors := []factor{
		{osm.FieldSurface, scoreSurface(attrs.Surface), s.weights.Surface},
		{osm.FieldIncline, scoreIncline(attrs.InclinePercent), s.weights.Incline},
		{osm.FieldWidth, scoreWidth(attrs.WidthMeters), s.weights.Width},
		{osm.FieldSmoothness, scoreSmoothness(attrs.Smoothness), s.weights.Smoothness},
	}

	var totalWeight float64
	for _, f := range factors {
		if f.value != nil {
			totalWeight += f.weight
		}
	}
	if totalWeight == 0 {
		return nil
	}

	var weighted float64
	breakdown := make([]osm.FactorScore, 0, len(factors))
	for _, f := range factors {
		if f.value == nil {
			continue
		}
		effective := f.weight / totalWeight
		weighted += *f.value * effective
		breakdown = append(breakdown, osm.FactorScore{
			Factor: f.name,
			Value:  *f.value,
			Weight: effective,
		})
	}

	// Flat adjustments in fixed order: bonuses, then the kerb penalty,
	// clamped to [0,100] before rounding.
	var notes []osm.AdjustmentNote
	if flags.Lit {
		weighted += bonusLit
		notes = append(notes, osm.AdjustmentNote{Reason: "lit", Delta: bonusLit})
	}
	if flags.TactilePaving {
		weighted += bonusTactilePaving
		notes = append(notes, osm.AdjustmentNote{Reason: "tactile_paving", Delta: bonusTactilePaving})
	}
	if flags.Ramp {
		weighted += bonusRamp
		notes = append(notes, osm.AdjustmentNote{Reason: "ramp", Delta: bonusRamp})
	}
	if flags.KerbAbsent {
		weighted -= penaltyKerbAbsent
		notes = append(notes, osm.AdjustmentNote{Reason: "kerb_absent", Delta: -penaltyKerbAbsent})
	}

	composite := int(math.Round(clamp(weighted, 0, 100)))
	return &osm.Score{
		Composite: composite,
		Tier:      s.TierFor(composite),
		Breakdown: breakdown,
		Adjusted:  notes,
	}
}

// TierFor classifies a composite score into its color tier.
func (s *Scorer) TierFor(composite int) osm.Tier {
	switch {
	case composite >= s.thresholds.Excellent:
		return osm.TierExcellent
	case composite >= s.thresholds.Good:
		return osm.TierGood
	case composite >= s.thresholds.Moderate:
		return osm.TierModerate
	case composite >= s.thresholds.Poor:
		return osm.TierPoor
	default:
		return osm.TierBad
	}
}

// RenderHintFor derives the presentation hint of a feature: tier color from
// the score (or the unknown bucket when there is none), dashed stroke when
// any attribute is predicted.
func (s *Scorer) RenderHintFor(score *osm.Score, predicted bool) osm.RenderHint {
	tier := osm.TierUnknown
	if score != nil {
		tier = score.Tier
	}
	return osm.RenderHint{Tier: tier, Dashed: predicted}
}

// Rescore recomputes a feature's score and render hint in place from its
// current canonical attributes.
func (s *Scorer) Rescore(f *osm.Feature) {
	f.Score = s.Compute(f.Attrs, f.AttrFlags)
	f.Hint = s.RenderHintFor(f.Score, len(f.Predicted) > 0)
}

func scoreSurface(v *string) *float64 {
	if v == nil {
		return nil
	}
	if sc, ok := surfaceScores[*v]; ok {
		return &sc
	}
	sc := surfaceScores["unknown"]
	return &sc
}

// scoreIncline maps a percent grade (absolute value; direction does not
// matter for passability) through the ordinal incline table.
func scoreIncline(v *float64) *float64 {
	if v == nil {
		return nil
	}
	grade := math.Abs(*v)
	var sc float64
	switch {
	case grade <= 2:
		sc = 100
	case grade <= 5:
		sc = 80
	case grade <= 8:
		sc = 50
	case grade <= 12:
		sc = 20
	default:
		sc = 5
	}
	return &sc
}

func scoreWidth(v *float64) *float64 {
	if v == nil {
		return nil
	}
	var sc float64
	switch {
	case *v >= 1.8:
		sc = 100
	case *v >= 1.2:
		sc = 80
	case *v >= 0.9:
		sc = 55
	case *v >= 0.7:
		sc = 25
	default:
		sc = 5
	}
	return &sc
}

func scoreSmoothness(v *string) *float64 {
	if v == nil {
		return nil
	}
	if sc, ok := smoothnessScores[*v]; ok {
		return &sc
	}
	sc := smoothnessScores["unknown"]
	return &sc
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
