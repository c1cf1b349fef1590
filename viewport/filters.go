package viewport

import (
	"github.com/rollnav/accesscore/osm"
)

// FilterSet is the active presentation-side filtering: feature categories
// and accessibility tiers to keep. Empty slices mean "no restriction".
// Changing filters re-filters the cached result set; it never costs a
// network round trip.
type FilterSet struct {
	// Categories keeps features whose category tag value matches. A feature
	// matches when its "highway" or "amenity" tag value is listed.
	Categories []string

	// Tiers keeps features whose render-hint tier is listed.
	Tiers []osm.Tier
}

// Empty reports whether the set imposes no restriction at all.
func (f FilterSet) Empty() bool {
	return len(f.Categories) == 0 && len(f.Tiers) == 0
}

// Matches reports whether the feature passes every active filter.
func (f FilterSet) Matches(feat *osm.Feature) bool {
	if len(f.Categories) > 0 {
		matched := false
		for _, c := range f.Categories {
			if feat.Tags["highway"] == c || feat.Tags["amenity"] == c {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if len(f.Tiers) > 0 {
		matched := false
		for _, t := range f.Tiers {
			if feat.Hint.Tier == t {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// Apply returns the subset of features passing the filter set, preserving
// order.
func (f FilterSet) Apply(features []*osm.Feature) []*osm.Feature {
	if f.Empty() {
		return features
	}
	out := make([]*osm.Feature, 0, len(features))
	for _, feat := range features {
		if f.Matches(feat) {
			out = append(out, feat)
		}
	}
	return out
}
