package geo

// Resolver finds the record containing a point.
// Implementations must return the same match as a linear scan in collection order.
type Resolver interface {
	Locate(p Point) (Match, bool)
}

// Locate scans the collection in order and returns the first record that covers the point.
func (c *Collection) Locate(p Point) (Match, bool) {
	if c == nil {
		return Match{}, false
	}
	for i := range c.records {
		if c.records[i].Covers(p) {
			return Match{Index: i, Record: c.records[i]}, true
		}
	}
	return Match{}, false
}

// Resolve returns the name of the first record containing the point, or false when no
// record does. The point is assumed to be validated by the caller.
func Resolve(r Resolver, p Point) (string, bool) {
	m, ok := Locate(r, p)
	if !ok {
		return "", false
	}
	return m.Record.Name, true
}

// Locate is the Match-returning form of Resolve.
func Locate(r Resolver, p Point) (Match, bool) {
	if r == nil {
		return Match{}, false
	}
	return r.Locate(p)
}
