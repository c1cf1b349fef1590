package geo

// Base32 alphabet for geohash encoding.
const base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// Encode encodes latitude and longitude into a geohash string.
// precision: number of characters in the geohash (1-12).
func Encode(lat, lon float64, precision int) string {
	if precision < 1 {
		precision = 1
	}
	if precision > 12 {
		precision = 12
	}

	latRange := []float64{-90.0, 90.0}
	lonRange := []float64{-180.0, 180.0}

	geohash := make([]byte, 0, precision)
	bits := 0
	bit := 0
	ch := 0

	for len(geohash) < precision {
		if bit%2 == 0 {
			// Longitude
			mid := (lonRange[0] + lonRange[1]) / 2
			if lon > mid {
				ch |= 1 << (4 - bits)
				lonRange[0] = mid
			} else {
				lonRange[1] = mid
			}
		} else {
			// Latitude
			mid := (latRange[0] + latRange[1]) / 2
			if lat > mid {
				ch |= 1 << (4 - bits)
				latRange[0] = mid
			} else {
				latRange[1] = mid
			}
		}

		bits++
		if bits == 5 {
			geohash = append(geohash, base32[ch])
			bits = 0
			ch = 0
		}
		bit++
	}

	return string(geohash)
}

// CellBounds returns the bounding box of a geohash cell.
func CellBounds(geohash string) Bounds {
	latRange := []float64{-90.0, 90.0}
	lonRange := []float64{-180.0, 180.0}

	isLon := true
	for i := 0; i < len(geohash); i++ {
		idx := indexOfBase32(geohash[i])
		if idx == -1 {
			continue
		}

		for mask := 16; mask > 0; mask >>= 1 {
			if isLon {
				mid := (lonRange[0] + lonRange[1]) / 2
				if idx&mask != 0 {
					lonRange[0] = mid
				} else {
					lonRange[1] = mid
				}
			} else {
				mid := (latRange[0] + latRange[1]) / 2
				if idx&mask != 0 {
					latRange[0] = mid
				} else {
					latRange[1] = mid
				}
			}
			isLon = !isLon
		}
	}

	return Bounds{
		MinLat: latRange[0], MinLon: lonRange[0],
		MaxLat: latRange[1], MaxLon: lonRange[1],
	}
}

// QuantizePrecision maps a map zoom level to a geohash precision coarse
// enough that sub-pixel panning lands in the same cell.
func QuantizePrecision(zoom int) int {
	switch {
	case zoom <= 8:
		return 3
	case zoom <= 11:
		return 4
	case zoom <= 14:
		return 5
	case zoom <= 17:
		return 6
	default:
		return 7
	}
}

// QuantizeBounds snaps the box's corners to geohash cells at the precision
// for zoom and returns the snapped box together with its cell key. Two
// viewports within the same corner cells quantize to the same key, so minor
// panning never looks like a new region.
func QuantizeBounds(b Bounds, zoom int) (Bounds, string) {
	precision := QuantizePrecision(zoom)
	swCell := Encode(b.MinLat, b.MinLon, precision)
	neCell := Encode(b.MaxLat, b.MaxLon, precision)

	sw := CellBounds(swCell)
	ne := CellBounds(neCell)

	quantized := Bounds{
		MinLat: sw.MinLat, MinLon: sw.MinLon,
		MaxLat: ne.MaxLat, MaxLon: ne.MaxLon,
	}
	return quantized, swCell + ":" + neCell
}

// indexOfBase32 finds the index of a character in the base32 alphabet.
func indexOfBase32(ch byte) int {
	for i := 0; i < len(base32); i++ {
		if base32[i] == ch {
			return i
		}
	}
	return -1
}
