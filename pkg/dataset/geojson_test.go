package dataset

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bairrosgo/pkg/geo"
)

const curitibaGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"nome": "Centro", "codigo": 1},
     "geometry": {"type": "Polygon", "coordinates": [[[-49.28,-25.44],[-49.26,-25.44],[-49.26,-25.42],[-49.28,-25.42],[-49.28,-25.44]]]}},
    {"type": "Feature", "properties": {"nome": "Marco zero"},
     "geometry": {"type": "Point", "coordinates": [-49.27,-25.43]}},
    {"type": "Feature", "properties": {"nome": "Batel"},
     "geometry": {"type": "MultiPolygon", "coordinates": [[[[-49.30,-25.45],[-49.28,-25.45],[-49.28,-25.43],[-49.30,-25.43],[-49.30,-25.45]]]]}}
  ]
}`

func TestReadGeoJSON(t *testing.T) {
	records, err := ReadGeoJSON([]byte(curitibaGeoJSON), "NOME", "")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Centro", records[0].Name)
	assert.Equal(t, "Batel", records[1].Name)

	name, ok := geo.Resolve(geo.NewCollection(records), geo.Point{Lon: -49.29, Lat: -25.44})
	assert.True(t, ok)
	assert.Equal(t, "Batel", name)
}

func TestReadGeoJSON_Errors(t *testing.T) {
	_, err := ReadGeoJSON([]byte(curitibaGeoJSON), "BAIRRO", "")
	assert.ErrorIs(t, err, ErrNameField)

	_, err = ReadGeoJSON([]byte(`{"type":"FeatureCollection","features":[]}`), "nome", "")
	assert.ErrorIs(t, err, ErrEmptyDataset)

	_, err = ReadGeoJSON([]byte(`not json`), "nome", "")
	assert.Error(t, err)
}

func TestReadGeoJSON_Projected(t *testing.T) {
	grid := sirgas22S(t)
	x0, y0 := grid.FromWGS84(-49.28, -25.44)
	x1, y1 := grid.FromWGS84(-49.26, -25.42)
	poly := orb.Polygon{orb.Ring{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}}
	rec, err := geo.NewRecord("Centro", poly)
	require.NoError(t, err)
	data, err := WriteGeoJSON([]geo.Record{rec}, "nome")
	require.NoError(t, err)

	_, err = ReadGeoJSON(data, "nome", "")
	assert.ErrorIs(t, err, ErrUnknownCRS)

	records, err := ReadGeoJSON(data, "nome", "EPSG:31982")
	require.NoError(t, err)
	assert.InDelta(t, -49.28, records[0].Bound().Min.Lon(), 1e-3)
}

func TestWriteGeoJSON(t *testing.T) {
	records, err := ReadGeoJSON([]byte(curitibaGeoJSON), "nome", "")
	require.NoError(t, err)

	data, err := WriteGeoJSON(records, "NOME")
	require.NoError(t, err)

	again, err := ReadGeoJSON(data, "NOME", "")
	require.NoError(t, err)
	require.Len(t, again, len(records))
	for i := range records {
		assert.Equal(t, records[i].Name, again[i].Name)
		assert.Equal(t, records[i].Bound(), again[i].Bound())
	}
}
