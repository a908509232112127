// Package geo resolves WGS84 points to the named neighborhood polygon that contains them.
//
// Containment is boundary-inclusive: a point on an edge or vertex of a polygon,
// including the edge of one of its holes, belongs to that polygon. When several
// records contain a point, the first one in collection order wins.
package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// ErrInvalidPoint is returned by Point.Validate for non-finite or out-of-range coordinates.
var ErrInvalidPoint = errors.New("invalid point")

// Point represents a geographic coordinate (WGS84 degrees).
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate checks that both coordinates are finite and inside the WGS84 ranges.
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || math.IsNaN(p.Lon) || math.IsInf(p.Lon, 0) {
		return fmt.Errorf("%w: coordinates must be finite", ErrInvalidPoint)
	}
	if p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("%w: longitude %.6f outside [-180, 180]", ErrInvalidPoint, p.Lon)
	}
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: latitude %.6f outside [-90, 90]", ErrInvalidPoint, p.Lat)
	}
	return nil
}

// String formats the point as "lat, lon" with 6 decimals.
func (p Point) String() string {
	return fmt.Sprintf("%.6f, %.6f", p.Lat, p.Lon)
}

// Orb returns the point in orb's [lon, lat] order.
func (p Point) Orb() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

// FromOrb converts an orb point ([lon, lat]) back to a Point.
func FromOrb(p orb.Point) Point {
	return Point{Lat: p[1], Lon: p[0]}
}

// Distance calculates the Haversine distance between two points in meters.
func Distance(p1, p2 Point) float64 {
	const R = 6371000 // Earth radius in meters
	dLat := (p2.Lat - p1.Lat) * (math.Pi / 180.0)
	dLon := (p2.Lon - p1.Lon) * (math.Pi / 180.0)
	lat1 := p1.Lat * (math.Pi / 180.0)
	lat2 := p2.Lat * (math.Pi / 180.0)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLon/2)*math.Sin(dLon/2)*math.Cos(lat1)*math.Cos(lat2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return R * c
}
