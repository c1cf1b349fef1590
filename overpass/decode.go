package overpass

import (
	"encoding/json"
	"fmt"

	"github.com/rollnav/accesscore/geo"
	"github.com/rollnav/accesscore/osm"
)

// element is one entry of the upstream "elements" array. Identity-only
// responses carry just type and id; full responses add tags plus lat/lon,
// center or geometry depending on the element type.
type element struct {
	Type     string            `json:"type"`
	ID       int64             `json:"id"`
	Lat      float64           `json:"lat"`
	Lon      float64           `json:"lon"`
	Center   *latLon           `json:"center,omitempty"`
	Geometry []latLon          `json:"geometry,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
}

type latLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type response struct {
	Elements []element `json:"elements"`
}

// decodeResponse parses a raw payload into resp. A payload the decoder
// cannot read is an ErrParse-wrapped error, which the gateway treats as an
// endpoint failure.
func decodeResponse(body []byte, resp *response) error {
	if err := json.Unmarshal(body, resp); err != nil {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}
	return nil
}

// decodeIDs extracts the identities of an identity-only response.
func decodeIDs(resp response) []osm.ElementID {
	ids := make([]osm.ElementID, 0, len(resp.Elements))
	for _, el := range resp.Elements {
		kind, ok := elementKind(el.Type)
		if !ok {
			continue
		}
		ids = append(ids, osm.ElementID{Kind: kind, Ref: el.ID})
	}
	return ids
}

// decodeFeatures converts a full-record response into raw features: tags and
// geometry set, derived fields untouched for the scoring pipeline.
func decodeFeatures(resp response) []*osm.Feature {
	features := make([]*osm.Feature, 0, len(resp.Elements))
	for _, el := range resp.Elements {
		kind, ok := elementKind(el.Type)
		if !ok {
			continue
		}

		f := &osm.Feature{
			ID:   osm.ElementID{Kind: kind, Ref: el.ID},
			Tags: osm.RawTags(el.Tags),
		}

		switch {
		case len(el.Geometry) > 0:
			f.Geometry = make([]geo.Point, len(el.Geometry))
			for i, c := range el.Geometry {
				f.Geometry[i] = geo.Point{Lat: c.Lat, Lon: c.Lon}
			}
		case el.Center != nil:
			f.Geometry = []geo.Point{{Lat: el.Center.Lat, Lon: el.Center.Lon}}
		case kind == osm.KindNode:
			f.Geometry = []geo.Point{{Lat: el.Lat, Lon: el.Lon}}
		default:
			// A way or relation without geometry is unusable; skip it.
			continue
		}

		features = append(features, f)
	}
	return features
}

func elementKind(t string) (osm.Kind, bool) {
	switch t {
	case "node":
		return osm.KindNode, true
	case "way":
		return osm.KindWay, true
	case "relation":
		return osm.KindRelation, true
	default:
		return "", false
	}
}
