// Package osm holds the domain model shared by every other package: map
// features, their raw and canonical attributes, accessibility scores and
// prediction metadata.
package osm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rollnav/accesscore/geo"
)

// Kind identifies the class of a map feature.
type Kind string

const (
	KindNode     Kind = "node"
	KindWay      Kind = "way"
	KindRelation Kind = "relation"
	KindCustom   Kind = "custom" // user-authored, not from the upstream service
)

// ElementID is the stable identity of a feature: kind plus upstream numeric id.
type ElementID struct {
	Kind Kind  `json:"kind"`
	Ref  int64 `json:"ref"`
}

// String renders the identity in its canonical "kind/ref" form. This string
// is the only valid cache key for a feature.
func (id ElementID) String() string {
	return string(id.Kind) + "/" + strconv.FormatInt(id.Ref, 10)
}

// ParseElementID parses a "kind/ref" stable identity string.
func ParseElementID(s string) (ElementID, error) {
	kind, ref, ok := strings.Cut(s, "/")
	if !ok {
		return ElementID{}, fmt.Errorf("invalid stable id %q: missing separator", s)
	}
	switch Kind(kind) {
	case KindNode, KindWay, KindRelation, KindCustom:
	default:
		return ElementID{}, fmt.Errorf("invalid stable id %q: unknown kind %q", s, kind)
	}
	n, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return ElementID{}, fmt.Errorf("invalid stable id %q: %w", s, err)
	}
	return ElementID{Kind: Kind(kind), Ref: n}, nil
}

// RawTags is the free-text key/value tagging of a feature as received from
// the upstream service. Values are uninterpreted; only the tags package may
// derive canonical attributes from them.
type RawTags map[string]string

// Has reports whether a tag is present with a non-empty value.
func (t RawTags) Has(key string) bool {
	return t[key] != ""
}

// CanonicalAttributes are the normalized accessibility attributes of a
// feature. Each field is nil when the source data carried nothing usable;
// nil is "unknown", which downstream scoring must keep distinct from "bad".
type CanonicalAttributes struct {
	Surface        *string  `json:"surface,omitempty"`
	InclinePercent *float64 `json:"inclinePercent,omitempty"`
	WidthMeters    *float64 `json:"widthMeters,omitempty"`
	Smoothness     *string  `json:"smoothness,omitempty"`
}

// Missing returns the names of attribute fields that are still nil. A
// feature with a non-empty Missing set is a prediction candidate.
func (a CanonicalAttributes) Missing() []string {
	var fields []string
	if a.Surface == nil {
		fields = append(fields, FieldSurface)
	}
	if a.InclinePercent == nil {
		fields = append(fields, FieldIncline)
	}
	if a.WidthMeters == nil {
		fields = append(fields, FieldWidth)
	}
	if a.Smoothness == nil {
		fields = append(fields, FieldSmoothness)
	}
	return fields
}

// Canonical attribute field names, used as prediction cache keys and in
// per-field prediction metadata.
const (
	FieldSurface    = "surface"
	FieldIncline    = "incline"
	FieldWidth      = "width"
	FieldSmoothness = "smoothness"
)

// Flags are the boolean accessibility facts extracted from raw tags.
type Flags struct {
	Steps         bool `json:"steps,omitempty"`
	Ramp          bool `json:"ramp,omitempty"`
	Lit           bool `json:"lit,omitempty"`
	TactilePaving bool `json:"tactilePaving,omitempty"`
	KerbAbsent    bool `json:"kerbAbsent,omitempty"` // kerb explicitly tagged "no"
}

// PredictionMeta records that a canonical attribute value was back-filled by
// the inference engine rather than parsed from raw tags.
type PredictionMeta struct {
	Confidence   float64       `json:"confidence"`
	Alternatives []Alternative `json:"alternatives,omitempty"`
}

// Alternative is one candidate value with its probability, ordered most
// likely first.
type Alternative struct {
	Value       string  `json:"value"`
	Probability float64 `json:"probability"`
}

// Snapshot preserves a feature's derived state as it was before the first
// prediction was applied, so that disabling predictions restores the
// pre-prediction appearance exactly without re-querying or re-scoring.
type Snapshot struct {
	Attrs CanonicalAttributes `json:"attrs"`
	Score *Score              `json:"score,omitempty"`
	Hint  RenderHint          `json:"hint"`
}

// Feature is one geographic map feature: a point or an ordered coordinate
// sequence, its raw tags, and everything derived from them.
type Feature struct {
	ID       ElementID   `json:"id"`
	Geometry []geo.Point `json:"geometry"` // len 1 = point feature
	Tags     RawTags     `json:"tags,omitempty"`

	Attrs     CanonicalAttributes       `json:"attrs"`
	AttrFlags Flags                     `json:"flags"`
	Score     *Score                    `json:"score,omitempty"` // nil = unknown
	Predicted map[string]PredictionMeta `json:"predicted,omitempty"`
	Hint      RenderHint                `json:"hint"`

	// Original is the pre-prediction snapshot, set once when the first
	// prediction is applied and cleared when predictions are rolled back.
	Original *Snapshot `json:"original,omitempty"`
}

// StableID returns the feature's cache key.
func (f *Feature) StableID() string {
	return f.ID.String()
}

// IsPoint reports whether the feature is a single-coordinate point feature.
func (f *Feature) IsPoint() bool {
	return len(f.Geometry) == 1
}

// Center returns a representative point for the feature: the point itself,
// or the centroid of its coordinate sequence.
func (f *Feature) Center() geo.Point {
	if len(f.Geometry) == 0 {
		return geo.Point{}
	}
	var sumLat, sumLon float64
	for _, p := range f.Geometry {
		sumLat += p.Lat
		sumLon += p.Lon
	}
	n := float64(len(f.Geometry))
	return geo.Point{Lat: sumLat / n, Lon: sumLon / n}
}

// IntersectsBounds reports whether any part of the feature's geometry lies
// within the box.
func (f *Feature) IntersectsBounds(b geo.Bounds) bool {
	if len(f.Geometry) == 0 {
		return false
	}
	if f.IsPoint() {
		return b.Contains(f.Geometry[0])
	}
	return geo.BoundsOf(f.Geometry).Intersects(b)
}

// IsPredictedField reports whether the named canonical field currently holds
// a predicted value.
func (f *Feature) IsPredictedField(field string) bool {
	_, ok := f.Predicted[field]
	return ok
}
