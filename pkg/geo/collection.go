package geo

import (
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
)

// ErrUnsupportedGeometry is returned when a record boundary is not a Polygon or MultiPolygon.
var ErrUnsupportedGeometry = errors.New("unsupported geometry")

// Record is one named neighborhood boundary in WGS84 lon/lat.
type Record struct {
	Name     string
	Boundary orb.MultiPolygon

	bound orb.Bound
}

// NewRecord builds a record from a Polygon or MultiPolygon geometry.
func NewRecord(name string, g orb.Geometry) (Record, error) {
	var mp orb.MultiPolygon
	switch v := g.(type) {
	case orb.Polygon:
		mp = orb.MultiPolygon{v}
	case orb.MultiPolygon:
		mp = v
	default:
		return Record{}, fmt.Errorf("%w: %T for %q", ErrUnsupportedGeometry, g, name)
	}
	r := Record{Name: strings.TrimSpace(name), Boundary: mp}
	r.bound = mp.Bound().Pad(boundaryTolerance)
	return r, nil
}

// Bound returns the record's bounding box, padded by the edge tolerance. Records built as
// struct literals get it computed from the boundary.
func (r Record) Bound() orb.Bound {
	if r.bound.IsZero() {
		return r.Boundary.Bound().Pad(boundaryTolerance)
	}
	return r.bound
}

// Covers reports whether the record contains the point (boundary-inclusive).
func (r Record) Covers(p Point) bool {
	op := p.Orb()
	if !r.Bound().Contains(op) {
		return false
	}
	return Covers(r.Boundary, op)
}

// Match is the outcome of a successful lookup: the matched record and its position in the
// collection.
type Match struct {
	Index  int
	Record Record
}

// Name returns the matched neighborhood name.
func (m Match) Name() string {
	return m.Record.Name
}

// Collection is an ordered, immutable set of records. Order defines the tie-break when
// records overlap.
type Collection struct {
	records []Record
	byName  map[string]int
	bound   orb.Bound
}

// NewCollection copies the records into a new Collection. Records with an empty bound
// (built by hand without NewRecord) get their bound computed here.
func NewCollection(records []Record) *Collection {
	c := &Collection{
		records: make([]Record, len(records)),
		byName:  make(map[string]int, len(records)),
	}
	copy(c.records, records)

	for i := range c.records {
		r := &c.records[i]
		if r.bound.IsZero() && len(r.Boundary) > 0 {
			r.bound = r.Boundary.Bound().Pad(boundaryTolerance)
		}
		if i == 0 {
			c.bound = r.bound
		} else {
			c.bound = c.bound.Union(r.bound)
		}
		key := FoldName(r.Name)
		if _, dup := c.byName[key]; !dup {
			c.byName[key] = i
		}
	}
	return c
}

// Len returns the number of records.
func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.records)
}

// At returns the i-th record.
func (c *Collection) At(i int) Record {
	return c.records[i]
}

// Records returns a copy of the records in collection order.
func (c *Collection) Records() []Record {
	if c == nil {
		return nil
	}
	out := make([]Record, len(c.records))
	copy(out, c.records)
	return out
}

// Names returns the record names in collection order.
func (c *Collection) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, len(c.records))
	for i, r := range c.records {
		names[i] = r.Name
	}
	return names
}

// Bound returns the union of all record bounds.
func (c *Collection) Bound() orb.Bound {
	if c == nil {
		return orb.Bound{}
	}
	return c.bound
}

// Lookup finds a record by name, ignoring case and accents. Duplicate names resolve to the
// first record carrying them.
func (c *Collection) Lookup(name string) (Match, bool) {
	if c == nil {
		return Match{}, false
	}
	i, ok := c.byName[FoldName(name)]
	if !ok {
		return Match{}, false
	}
	return Match{Index: i, Record: c.records[i]}, true
}
