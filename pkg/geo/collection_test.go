package geo

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecord_RejectsNonPolygon(t *testing.T) {
	_, err := NewRecord("Linha", orb.LineString{{0, 0}, {1, 1}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedGeometry))
}

func TestNewRecord_TrimsName(t *testing.T) {
	r, err := NewRecord("  Centro ", orb.Polygon{square(0, 0, 1, 1)})
	require.NoError(t, err)
	assert.Equal(t, "Centro", r.Name)
	assert.True(t, r.Bound().Contains(orb.Point{1, 1}))
}

func TestCollection_NamesAndLookup(t *testing.T) {
	c := NewCollection([]Record{
		mustRecord(t, "Água Verde", orb.Polygon{square(0, 0, 1, 1)}),
		mustRecord(t, "Batel", orb.Polygon{square(1, 0, 2, 1)}),
		mustRecord(t, "agua verde", orb.Polygon{square(2, 0, 3, 1)}),
	})

	if diff := cmp.Diff([]string{"Água Verde", "Batel", "agua verde"}, c.Names()); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}

	m, ok := c.Lookup("AGUA VERDE")
	require.True(t, ok)
	assert.Equal(t, 0, m.Index, "duplicates resolve to the first record")

	_, ok = c.Lookup("Portão")
	assert.False(t, ok)
}

func TestCollection_CopiesInput(t *testing.T) {
	records := []Record{mustRecord(t, "Centro", orb.Polygon{square(0, 0, 1, 1)})}
	c := NewCollection(records)
	records[0].Name = "Alterado"

	assert.Equal(t, "Centro", c.At(0).Name)

	out := c.Records()
	out[0].Name = "Outro"
	assert.Equal(t, "Centro", c.At(0).Name)
}

func TestCollection_HandBuiltRecordGetsBound(t *testing.T) {
	c := NewCollection([]Record{{Name: "Manual", Boundary: orb.MultiPolygon{{square(0, 0, 1, 1)}}}})
	name, ok := Resolve(c, Point{Lat: 0.5, Lon: 0.5})
	assert.True(t, ok)
	assert.Equal(t, "Manual", name)
	assert.True(t, c.Bound().Contains(orb.Point{0.5, 0.5}))
}

func TestRecord_HandBuiltCovers(t *testing.T) {
	r := Record{Name: "Manual", Boundary: orb.MultiPolygon{{square(0, 0, 1, 1)}}}
	assert.True(t, r.Covers(Point{Lat: 0.5, Lon: 0.5}))
	assert.True(t, r.Covers(Point{Lat: 0, Lon: 0.5}), "edge is inside")
	assert.False(t, r.Covers(Point{Lat: 2, Lon: 2}))
	assert.True(t, r.Bound().Contains(orb.Point{1, 1}))
}
