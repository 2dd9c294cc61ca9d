// Package geo holds the spherical-distance and route-polyline math shared by
// the validation pipeline, the metrics aggregator and the ETA calculator.
package geo

import (
	"fmt"
	"math"

	"googlemaps.github.io/maps"
)

const earthRadiusM = 6371000

// Point is a WGS84 coordinate, optionally with elevation in meters.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Elevation float64 `json:"elevation,omitempty"`
}

// Haversine returns the great-circle distance between two coordinates in
// meters.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*
			math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusM * c
}

// Bearing returns the initial bearing from the first coordinate to the
// second, in degrees [0, 360).
func Bearing(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)
	deg := math.Atan2(y, x) * 180 / math.Pi

	return math.Mod(deg+360, 360)
}

// Route is a planned route polyline with precomputed cumulative segment
// lengths. Immutable after construction.
type Route struct {
	points []Point
	cum    []float64 // cum[i] = distance from start to points[i]
}

// NewRoute builds a route from an ordered point sequence.
func NewRoute(points []Point) *Route {
	r := &Route{
		points: append([]Point(nil), points...),
		cum:    make([]float64, len(points)),
	}
	for i := 1; i < len(points); i++ {
		seg := Haversine(points[i-1].Latitude, points[i-1].Longitude, points[i].Latitude, points[i].Longitude)
		r.cum[i] = r.cum[i-1] + seg
	}
	return r
}

// DecodeRoute builds a route from a Google encoded polyline string.
func DecodeRoute(encoded string) (*Route, error) {
	latlngs, err := maps.DecodePolyline(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode route polyline: %w", err)
	}
	points := make([]Point, len(latlngs))
	for i, ll := range latlngs {
		points[i] = Point{Latitude: ll.Lat, Longitude: ll.Lng}
	}
	return NewRoute(points), nil
}

// Len returns the number of polyline points.
func (r *Route) Len() int { return len(r.points) }

// TotalM returns the full route length in meters.
func (r *Route) TotalM() float64 {
	if len(r.cum) == 0 {
		return 0
	}
	return r.cum[len(r.cum)-1]
}

// Points returns a copy of the route points.
func (r *Route) Points() []Point {
	return append([]Point(nil), r.points...)
}

// NearestIndex returns the index of the route point nearest to the given
// coordinate, or -1 for an empty route.
func (r *Route) NearestIndex(lat, lon float64) int {
	best := -1
	bestDist := math.MaxFloat64
	for i, p := range r.points {
		d := Haversine(lat, lon, p.Latitude, p.Longitude)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

// RemainingFrom sums segment lengths from the given point index to the route
// end.
func (r *Route) RemainingFrom(idx int) float64 {
	if idx < 0 || idx >= len(r.points) {
		return 0
	}
	return r.cum[len(r.cum)-1] - r.cum[idx]
}

// RemainingGainLoss sums positive and negative elevation deltas from the
// given index to the route end. Zero for routes without elevation data.
func (r *Route) RemainingGainLoss(idx int) (gain, loss float64) {
	if idx < 0 {
		return 0, 0
	}
	for i := idx + 1; i < len(r.points); i++ {
		d := r.points[i].Elevation - r.points[i-1].Elevation
		if d > 0 {
			gain += d
		} else {
			loss += -d
		}
	}
	return gain, loss
}

// HasElevation reports whether any route point carries elevation data.
func (r *Route) HasElevation() bool {
	for _, p := range r.points {
		if p.Elevation != 0 {
			return true
		}
	}
	return false
}
