// Package geo provides the small amount of spherical geometry the library
// needs: points, bounding boxes, viewport quantization and distances.
package geo

import (
	"fmt"
	"math"

	"github.com/golang/geo/s2"
)

// EarthRadiusMeters is Earth's mean radius in meters.
const EarthRadiusMeters = 6371000.0

// Point is a geographic coordinate in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Bounds is a latitude/longitude axis-aligned bounding box in degrees.
// Min is the south-west corner, Max the north-east corner.
type Bounds struct {
	MinLat float64 `json:"minLat"`
	MinLon float64 `json:"minLon"`
	MaxLat float64 `json:"maxLat"`
	MaxLon float64 `json:"maxLon"`
}

// Valid reports whether the box has positive extent and sane coordinates.
func (b Bounds) Valid() bool {
	return b.MinLat < b.MaxLat && b.MinLon < b.MaxLon &&
		b.MinLat >= -90 && b.MaxLat <= 90 &&
		b.MinLon >= -180 && b.MaxLon <= 180
}

// rect converts the box to an s2.Rect for spherical predicates.
func (b Bounds) rect() s2.Rect {
	r := s2.RectFromLatLng(s2.LatLngFromDegrees(b.MinLat, b.MinLon))
	return r.AddPoint(s2.LatLngFromDegrees(b.MaxLat, b.MaxLon))
}

// Contains reports whether the point lies inside the box (edges inclusive).
func (b Bounds) Contains(p Point) bool {
	return b.rect().ContainsLatLng(s2.LatLngFromDegrees(p.Lat, p.Lon))
}

// Intersects reports whether the two boxes share any area.
func (b Bounds) Intersects(o Bounds) bool {
	return b.rect().Intersects(o.rect())
}

// Center returns the midpoint of the box.
func (b Bounds) Center() Point {
	return Point{
		Lat: (b.MinLat + b.MaxLat) / 2,
		Lon: (b.MinLon + b.MaxLon) / 2,
	}
}

// Pad grows the box by frac of its own extent on every side. Useful for
// prefetching slightly beyond the visible viewport.
func (b Bounds) Pad(frac float64) Bounds {
	dLat := (b.MaxLat - b.MinLat) * frac
	dLon := (b.MaxLon - b.MinLon) * frac
	return Bounds{
		MinLat: math.Max(b.MinLat-dLat, -90),
		MinLon: math.Max(b.MinLon-dLon, -180),
		MaxLat: math.Min(b.MaxLat+dLat, 90),
		MaxLon: math.Min(b.MaxLon+dLon, 180),
	}
}

// BBox renders the box in the "south,west,north,east" order the upstream
// query language expects.
func (b Bounds) BBox() string {
	return fmt.Sprintf("%f,%f,%f,%f", b.MinLat, b.MinLon, b.MaxLat, b.MaxLon)
}

// BoundsOf computes the bounding box of a set of points. The zero Bounds is
// returned for an empty set.
func BoundsOf(points []Point) Bounds {
	if len(points) == 0 {
		return Bounds{}
	}

	b := Bounds{
		MinLat: points[0].Lat, MaxLat: points[0].Lat,
		MinLon: points[0].Lon, MaxLon: points[0].Lon,
	}
	for _, p := range points[1:] {
		if p.Lat < b.MinLat {
			b.MinLat = p.Lat
		}
		if p.Lat > b.MaxLat {
			b.MaxLat = p.Lat
		}
		if p.Lon < b.MinLon {
			b.MinLon = p.Lon
		}
		if p.Lon > b.MaxLon {
			b.MaxLon = p.Lon
		}
	}
	return b
}

// Distance calculates the great-circle distance between two points in meters.
func Distance(a, b Point) float64 {
	p1 := s2.LatLngFromDegrees(a.Lat, a.Lon)
	p2 := s2.LatLngFromDegrees(b.Lat, b.Lon)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}
