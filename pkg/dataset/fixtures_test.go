package dataset

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/require"
)

const sad6922SPrj = `PROJCS["SAD_1969_UTM_Zone_22S",GEOGCS["GCS_South_American_1969",DATUM["D_South_American_1969",SPHEROID["GRS_1967_Truncated",6378160.0,298.25]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],PROJECTION["Transverse_Mercator"],PARAMETER["False_Easting",500000.0],PARAMETER["False_Northing",10000000.0],PARAMETER["Central_Meridian",-51.0],PARAMETER["Scale_Factor",0.9996],PARAMETER["Latitude_Of_Origin",0.0],UNIT["Meter",1.0]]`

const sirgas22SPrj = `PROJCS["SIRGAS_2000_UTM_Zone_22S",GEOGCS["GCS_SIRGAS_2000",DATUM["D_SIRGAS_2000",SPHEROID["GRS_1980",6378137.0,298.257222101]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],PROJECTION["Transverse_Mercator"],PARAMETER["False_Easting",500000.0],PARAMETER["False_Northing",10000000.0],PARAMETER["Central_Meridian",-51.0],PARAMETER["Scale_Factor",0.9996],PARAMETER["Latitude_Of_Origin",0.0],UNIT["Meter",1.0]]`

type fixtureRecord struct {
	name  string
	rings [][]shp.Point
}

// box returns a closed clockwise ring.
func box(minX, minY, maxX, maxY float64) []shp.Point {
	return []shp.Point{
		{X: minX, Y: minY},
		{X: minX, Y: maxY},
		{X: maxX, Y: maxY},
		{X: maxX, Y: minY},
		{X: minX, Y: minY},
	}
}

// reversed returns the ring with the opposite winding, as holes are stored.
func reversed(ring []shp.Point) []shp.Point {
	out := make([]shp.Point, len(ring))
	for i, p := range ring {
		out[len(ring)-1-i] = p
	}
	return out
}

// sirgas22S returns SIRGAS 2000 / UTM zone 22S.
func sirgas22S(t *testing.T) CRS {
	t.Helper()
	p, err := ParseEPSG("EPSG:31982")
	require.NoError(t, err)
	c, ok := p.(CRS)
	require.True(t, ok)
	return c
}

// projected converts a lon/lat ring to the given grid.
func projected(c CRS, ring []shp.Point) []shp.Point {
	out := make([]shp.Point, len(ring))
	for i, p := range ring {
		x, y := c.FromWGS84(p.X, p.Y)
		out[i] = shp.Point{X: x, Y: y}
	}
	return out
}

// writeShapefile writes a polygon shapefile with a single NOME column plus optional
// .prj and .cpg sidecars and returns the .shp path.
func writeShapefile(t *testing.T, dir, stem string, recs []fixtureRecord, prj, cpg string) string {
	t.Helper()
	path := filepath.Join(dir, stem+".shp")

	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{shp.StringField("NOME", 50)}))
	for i, r := range recs {
		poly := shp.Polygon(*shp.NewPolyLine(r.rings))
		row := w.Write(&poly)
		require.NoError(t, w.WriteAttribute(int(row), 0, r.name), "record %d", i)
	}
	w.Close()

	if prj != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, stem+".prj"), []byte(prj), 0o644))
	}
	if cpg != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, stem+".cpg"), []byte(cpg), 0o644))
	}
	return path
}

func curitibaRecords() []fixtureRecord {
	return []fixtureRecord{
		{name: "CENTRO", rings: [][]shp.Point{box(-49.28, -25.44, -49.26, -25.42)}},
		{name: "BATEL", rings: [][]shp.Point{box(-49.30, -25.45, -49.28, -25.43)}},
	}
}

// zipDir packs every file of dir (flat) into an archive, each under prefix.
func zipDir(t *testing.T, dir, prefix string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		f, err := zw.Create(prefix + e.Name())
		require.NoError(t, err)
		_, err = f.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}
