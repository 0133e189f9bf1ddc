package geo

import (
	"math"
	"sort"
)

const (
	// GridMeters is the placement grid pitch. Dropped items snap to it so
	// repeated drops in the same block land on the same cell.
	GridMeters = 200.0

	// HalvingDistanceMeters controls the exponential falloff used when
	// ranking which zones a placement affects.
	HalvingDistanceMeters = 1500.0

	NearMeters   = 800.0
	MediumMeters = 2500.0

	earthRadiusMeters = 6371000.0
)

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Converter holds the local tangent-plane scale factors for a scenario's
// reference latitude. All grid math goes through a Converter so the module
// works for any city, not just the one it was first deployed in.
type Converter struct {
	metersPerDegLat float64
	metersPerDegLng float64
}

// NewConverter builds a Converter for the given reference latitude using the
// standard WGS84 series expansion for meridian/parallel arc length.
func NewConverter(refLat float64) Converter {
	phi := refLat * math.Pi / 180
	return Converter{
		metersPerDegLat: 111132.92 - 559.82*math.Cos(2*phi) + 1.175*math.Cos(4*phi) - 0.0023*math.Cos(6*phi),
		metersPerDegLng: 111412.84*math.Cos(phi) - 93.5*math.Cos(3*phi) + 0.118*math.Cos(5*phi),
	}
}

// SnapToGrid rounds p to the nearest point on the placement grid.
// Idempotent: snapping an already-snapped point returns it unchanged.
func (c Converter) SnapToGrid(p Point) Point {
	cellLat := GridMeters / c.metersPerDegLat
	cellLng := GridMeters / c.metersPerDegLng
	return Point{
		Lat: math.Round(p.Lat/cellLat) * cellLat,
		Lng: math.Round(p.Lng/cellLng) * cellLng,
	}
}

// DistanceMeters returns the haversine great-circle distance between a and b.
func DistanceMeters(a, b Point) float64 {
	latA := a.Lat * math.Pi / 180
	latB := b.Lat * math.Pi / 180
	dLat := latB - latA
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(latA)*math.Cos(latB)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

// ProximityWeight maps a distance in meters to a 0..1 influence weight with
// exponential decay. Weight is 1.0 at zero distance and 1/e at the halving
// distance constant.
func ProximityWeight(distanceMeters float64) float64 {
	if distanceMeters <= 0 {
		return 1.0
	}
	return math.Exp(-distanceMeters / HalvingDistanceMeters)
}

// DistanceBucket coarsens a distance into the three labels the UI shows.
func DistanceBucket(distanceMeters float64) string {
	switch {
	case distanceMeters < NearMeters:
		return "near"
	case distanceMeters < MediumMeters:
		return "medium"
	default:
		return "far"
	}
}

// Centroid returns the area-weighted centroid of a polygon ring. Falls back
// to the vertex mean for degenerate (zero-area) rings.
func Centroid(ring []Point) Point {
	if len(ring) == 0 {
		return Point{}
	}
	var area, cx, cy float64
	n := len(ring)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		cross := ring[i].Lng*ring[j].Lat - ring[j].Lng*ring[i].Lat
		area += cross
		cx += (ring[i].Lng + ring[j].Lng) * cross
		cy += (ring[i].Lat + ring[j].Lat) * cross
	}
	if area == 0 {
		var sumLat, sumLng float64
		for _, p := range ring {
			sumLat += p.Lat
			sumLng += p.Lng
		}
		return Point{Lat: sumLat / float64(n), Lng: sumLng / float64(n)}
	}
	area /= 2
	return Point{Lat: cy / (6 * area), Lng: cx / (6 * area)}
}

// ContainsPoint reports whether p lies inside the polygon ring, using
// ray casting. Intended for small zone sets (tens of polygons).
func ContainsPoint(ring []Point, p Point) bool {
	inside := false
	n := len(ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		vi, vj := ring[i], ring[j]
		if (vi.Lat > p.Lat) != (vj.Lat > p.Lat) &&
			p.Lng < (vj.Lng-vi.Lng)*(p.Lat-vi.Lat)/(vj.Lat-vi.Lat)+vi.Lng {
			inside = !inside
		}
	}
	return inside
}

// ZoneRef is the minimal zone view the ranking functions need.
type ZoneRef struct {
	ID       string
	Name     string
	Centroid Point
	Ring     []Point
}

// ZoneDistance is one entry of a proximity ranking.
type ZoneDistance struct {
	ZoneID         string  `json:"zone_id"`
	ZoneName       string  `json:"zone_name"`
	DistanceMeters float64 `json:"distance_m"`
	Weight         float64 `json:"weight"`
	DistanceBucket string  `json:"distance_bucket"`
}

// RankZonesByDistance orders zones by centroid distance from p, nearest
// first, attaching the proximity weight and bucket for each.
func RankZonesByDistance(zones []ZoneRef, p Point) []ZoneDistance {
	out := make([]ZoneDistance, 0, len(zones))
	for _, z := range zones {
		d := DistanceMeters(p, z.Centroid)
		out = append(out, ZoneDistance{
			ZoneID:         z.ID,
			ZoneName:       z.Name,
			DistanceMeters: d,
			Weight:         ProximityWeight(d),
			DistanceBucket: DistanceBucket(d),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceMeters < out[j].DistanceMeters })
	return out
}

// FindContainingZone returns the id of the first zone whose polygon contains
// p, or "" if no zone does.
func FindContainingZone(zones []ZoneRef, p Point) string {
	for _, z := range zones {
		if ContainsPoint(z.Ring, p) {
			return z.ID
		}
	}
	return ""
}
