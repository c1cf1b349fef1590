// Package tags turns free-text accessibility tag values into canonical
// numeric and categorical attributes. Parsers never fail: anything
// unparsable comes back nil, so "unknown" stays distinguishable from any
// real value.
package tags

import (
	"math"
	"strconv"
	"strings"

	"github.com/rollnav/accesscore/osm"
)

// SurfaceUnknown and SmoothnessUnknown are the buckets unknown categorical
// values map into. Unknown vocabulary is classified, never silently dropped.
const (
	SurfaceUnknown    = "unknown"
	SmoothnessUnknown = "unknown"
)

// surfaceVocabulary is the fixed set of recognized surface values.
var surfaceVocabulary = map[string]string{
	"asphalt":            "asphalt",
	"paved":              "paved",
	"concrete":           "concrete",
	"concrete:plates":    "concrete",
	"concrete:lanes":     "concrete",
	"paving_stones":      "paving_stones",
	"sett":               "sett",
	"cobblestone":        "cobblestone",
	"unhewn_cobblestone": "cobblestone",
	"compacted":          "compacted",
	"fine_gravel":        "fine_gravel",
	"gravel":             "gravel",
	"pebblestone":        "gravel",
	"wood":               "wood",
	"metal":              "metal",
	"ground":             "ground",
	"dirt":               "ground",
	"earth":              "ground",
	"mud":                "mud",
	"grass":              "grass",
	"sand":               "sand",
	"unpaved":            "unpaved",
}

// smoothnessVocabulary is the fixed set of recognized smoothness grades.
var smoothnessVocabulary = map[string]string{
	"excellent":     "excellent",
	"good":          "good",
	"intermediate":  "intermediate",
	"bad":           "bad",
	"very_bad":      "very_bad",
	"horrible":      "horrible",
	"very_horrible": "very_horrible",
	"impassable":    "impassable",
}

// ParseIncline parses an incline encoding into a percent grade. Accepted
// forms: "N%", "-N%", ratio "a:b" (→ a/b·100), degrees "N°" (→ tan·100) and
// a bare number (treated as percent). Direction-only tokens like "up" carry
// no magnitude and yield nil.
func ParseIncline(raw string) *float64 {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return nil
	}

	switch s {
	case "up", "down", "steep", "yes", "no":
		return nil
	}

	// Ratio form "a:b".
	if a, b, ok := strings.Cut(s, ":"); ok {
		num, err1 := parseFloat(a)
		den, err2 := parseFloat(b)
		if err1 != nil || err2 != nil || den == 0 {
			return nil
		}
		v := num / den * 100
		return &v
	}

	// Degree form "N°" or "N deg".
	for _, suffix := range []string{"°", "deg"} {
		if rest, ok := strings.CutSuffix(s, suffix); ok {
			d, err := parseFloat(rest)
			if err != nil {
				return nil
			}
			v := math.Tan(d*math.Pi/180) * 100
			return &v
		}
	}

	// Percent form "N%" or bare number.
	s = strings.TrimSuffix(s, "%")
	v, err := parseFloat(s)
	if err != nil {
		return nil
	}
	return &v
}

// ParseWidth parses a width encoding into meters. A leading numeric token is
// required; unit suffixes cm, mm, ft/', in/" are converted and the default
// unit is meters.
func ParseWidth(raw string) *float64 {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return nil
	}

	// Split the leading numeric token from whatever follows.
	numEnd := 0
	for numEnd < len(s) {
		c := s[numEnd]
		if (c >= '0' && c <= '9') || c == '.' || c == ',' || (numEnd == 0 && c == '-') {
			numEnd++
			continue
		}
		break
	}
	if numEnd == 0 {
		return nil
	}

	v, err := parseFloat(s[:numEnd])
	if err != nil || v < 0 {
		return nil
	}

	unit := strings.TrimSpace(s[numEnd:])
	switch unit {
	case "", "m", "meter", "meters", "metre", "metres":
		// meters already
	case "cm":
		v /= 100
	case "mm":
		v /= 1000
	case "km":
		v *= 1000
	case "ft", "'", "feet", "foot":
		v *= 0.3048
	case "in", `"`, "inch", "inches":
		v *= 0.0254
	default:
		return nil
	}
	return &v
}

// NormalizeSurface maps a raw surface value into the fixed vocabulary,
// case-insensitively. Unknown values land in the SurfaceUnknown bucket.
func NormalizeSurface(raw string) *string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return nil
	}
	if canonical, ok := surfaceVocabulary[s]; ok {
		return &canonical
	}
	unknown := SurfaceUnknown
	return &unknown
}

// NormalizeSmoothness maps a raw smoothness value into the fixed grade
// vocabulary. Unknown values land in the SmoothnessUnknown bucket.
func NormalizeSmoothness(raw string) *string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return nil
	}
	if canonical, ok := smoothnessVocabulary[s]; ok {
		return &canonical
	}
	unknown := SmoothnessUnknown
	return &unknown
}

// Normalize derives the canonical attributes of a feature from its raw tags.
func Normalize(t osm.RawTags) osm.CanonicalAttributes {
	var attrs osm.CanonicalAttributes
	if v, ok := t["surface"]; ok {
		attrs.Surface = NormalizeSurface(v)
	}
	if v, ok := t["incline"]; ok {
		attrs.InclinePercent = ParseIncline(v)
	}
	if v, ok := t["width"]; ok {
		attrs.WidthMeters = ParseWidth(v)
	}
	if v, ok := t["smoothness"]; ok {
		attrs.Smoothness = NormalizeSmoothness(v)
	}
	return attrs
}

// ExtractFlags derives the boolean accessibility facts from raw tags.
func ExtractFlags(t osm.RawTags) osm.Flags {
	return osm.Flags{
		Steps:         t["highway"] == "steps",
		Ramp:          truthy(t["ramp"]) || truthy(t["ramp:wheelchair"]) || truthy(t["wheelchair:ramp"]),
		Lit:           truthy(t["lit"]),
		TactilePaving: truthy(t["tactile_paving"]),
		KerbAbsent:    strings.EqualFold(strings.TrimSpace(t["kerb"]), "no"),
	}
}

// truthy interprets the common affirmative tag values.
func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "true", "1", "designated":
		return true
	}
	return false
}

// parseFloat parses a float accepting a comma decimal separator.
func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	return strconv.ParseFloat(s, 64)
}
