package geo

// Nearest returns the record whose boundary is closest to the point and the distance in
// meters. It is meant for misses: a covered point reports its own record at distance 0.
// Ties keep the earlier record.
func Nearest(c *Collection, p Point) (Match, float64, bool) {
	if c.Len() == 0 {
		return Match{}, 0, false
	}
	if m, ok := c.Locate(p); ok {
		return m, 0, true
	}

	op := p.Orb()
	best := -1
	bestDeg := 0.0
	var bestPoint Point
	for i, r := range c.records {
		d, closest := distanceToBoundary(op, r.Boundary)
		if d < 0 {
			continue
		}
		if best < 0 || d < bestDeg {
			best = i
			bestDeg = d
			bestPoint = FromOrb(closest)
		}
	}
	if best < 0 {
		return Match{}, 0, false
	}
	return Match{Index: best, Record: c.records[best]}, Distance(p, bestPoint), true
}
