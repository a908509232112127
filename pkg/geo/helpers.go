package geo

import (
	"strings"
	"unicode"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// boundaryTolerance is the distance (degrees) under which a point counts as lying on an edge.
// About 0.1 micrometer on the ground.
const boundaryTolerance = 1e-12

// Covers reports whether the boundary contains the point, edges and vertices included.
func Covers(boundary orb.MultiPolygon, point orb.Point) bool {
	for _, poly := range boundary {
		if polygonCovers(poly, point) {
			return true
		}
	}
	return false
}

// polygonCovers checks a single polygon. planar.PolygonContains treats a point on a hole's
// edge as outside, so hole edges are checked explicitly.
func polygonCovers(poly orb.Polygon, point orb.Point) bool {
	if len(poly) == 0 || len(poly[0]) < 3 {
		return false
	}
	if onRing(poly[0], point) {
		return true
	}
	if !planar.RingContains(poly[0], point) {
		return false
	}
	for _, hole := range poly[1:] {
		if len(hole) < 3 {
			continue
		}
		if onRing(hole, point) {
			return true
		}
		if planar.RingContains(hole, point) {
			return false
		}
	}
	return true
}

// onRing reports whether the point lies on any segment of the ring, closing segment included.
func onRing(ring orb.Ring, point orb.Point) bool {
	n := len(ring)
	for i := 0; i < n; i++ {
		a := ring[i]
		b := ring[(i+1)%n]
		if distanceToSegment(point, a, b) <= boundaryTolerance {
			return true
		}
	}
	return false
}

// distanceToBoundary calculates the minimum planar distance from a point to any ring of the
// boundary and returns the closest point found.
func distanceToBoundary(point orb.Point, boundary orb.MultiPolygon) (float64, orb.Point) {
	minDist := -1.0
	var closest orb.Point

	for _, poly := range boundary {
		for _, ring := range poly {
			n := len(ring)
			for i := 0; i < n; i++ {
				c := closestOnSegment(point, ring[i], ring[(i+1)%n])
				d := planar.Distance(point, c)
				if minDist < 0 || d < minDist {
					minDist = d
					closest = c
				}
			}
		}
	}

	return minDist, closest
}

// distanceToSegment calculates the minimum distance from a point to a line segment.
func distanceToSegment(p, a, b orb.Point) float64 {
	return planar.Distance(p, closestOnSegment(p, a, b))
}

// closestOnSegment projects p onto segment ab, clamped to the segment ends.
func closestOnSegment(p, a, b orb.Point) orb.Point {
	// Vector from a to b
	dx := b[0] - a[0]
	dy := b[1] - a[1]

	if dx == 0 && dy == 0 {
		// Segment is a point
		return a
	}

	// Parameter t for the projection of p onto the line
	t := ((p[0]-a[0])*dx + (p[1]-a[1])*dy) / (dx*dx + dy*dy)

	if t <= 0 {
		return a
	} else if t >= 1 {
		return b
	}

	return orb.Point{a[0] + t*dx, a[1] + t*dy}
}

// FoldName normalizes a neighborhood name for lookups: accents removed, lowercased, trimmed,
// inner whitespace collapsed.
func FoldName(s string) string {
	s, _, _ = transform.String(
		transform.Chain(
			norm.NFD,
			runes.Remove(runes.In(unicode.Mn)),
			norm.NFC,
		),
		strings.TrimSpace(strings.ToLower(s)),
	)
	return strings.Join(strings.Fields(s), " ")
}
