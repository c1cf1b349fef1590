package overpass

import (
	"fmt"
	"strings"

	"github.com/rollnav/accesscore/geo"
	"github.com/rollnav/accesscore/osm"
)

// DefaultSelectors are the tag-selector expressions for features the
// accessibility view cares about: anything walkable plus tagged points of
// interest.
func DefaultSelectors() []string {
	return []string{
		`["highway"~"footway|path|pedestrian|steps|cycleway|living_street|track"]`,
		`["wheelchair"]`,
		`["amenity"]`,
	}
}

// BuildIDQuery renders the lightweight identity-only query: every feature
// matching a selector within bounds, ids only, no tags or geometry.
func BuildIDQuery(bounds geo.Bounds, selectors []string) string {
	var b strings.Builder
	b.WriteString("[out:json][timeout:20];\n(\n")
	bbox := bounds.BBox()
	for _, sel := range selectors {
		fmt.Fprintf(&b, "  node%s(%s);\n", sel, bbox)
		fmt.Fprintf(&b, "  way%s(%s);\n", sel, bbox)
	}
	b.WriteString(");\nout ids;")
	return b.String()
}

// BuildFullQuery renders the full-record query for a set of ids: tags plus
// geometry, so way features carry their coordinate sequences without a
// second member-node fetch.
func BuildFullQuery(ids []osm.ElementID) string {
	var nodes, ways, relations []string
	for _, id := range ids {
		ref := fmt.Sprintf("%d", id.Ref)
		switch id.Kind {
		case osm.KindNode:
			nodes = append(nodes, ref)
		case osm.KindWay:
			ways = append(ways, ref)
		case osm.KindRelation:
			relations = append(relations, ref)
		}
	}

	var b strings.Builder
	b.WriteString("[out:json][timeout:30];\n(\n")
	if len(nodes) > 0 {
		fmt.Fprintf(&b, "  node(id:%s);\n", strings.Join(nodes, ","))
	}
	if len(ways) > 0 {
		fmt.Fprintf(&b, "  way(id:%s);\n", strings.Join(ways, ","))
	}
	if len(relations) > 0 {
		fmt.Fprintf(&b, "  relation(id:%s);\n", strings.Join(relations, ","))
	}
	b.WriteString(");\nout body geom;")
	return b.String()
}
