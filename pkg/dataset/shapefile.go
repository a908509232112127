package dataset

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"bairrosgo/pkg/geo"
)

// ShapefileOptions control how a shapefile is turned into records.
type ShapefileOptions struct {
	NameField string // DBF column holding the neighborhood name
	SourceCRS string // EPSG code; overrides the .prj when set
	Encoding  string // DBF code page when neither UTF-8 nor declared by a .cpg
}

// ReadShapefile reads the polygons of a shapefile in file order, reprojects them to WGS84
// and names them from the configured DBF column.
func ReadShapefile(path string, opts ShapefileOptions) ([]geo.Record, error) {
	proj, err := projectionFor(path, opts.SourceCRS)
	if err != nil {
		return nil, err
	}

	shape, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open shapefile: %w", err)
	}
	defer shape.Close()

	nameIdx, err := fieldIndex(shape.Fields(), opts.NameField)
	if err != nil {
		return nil, err
	}
	dec := newTextDecoder(sidecar(path, ".cpg"), opts.Encoding)

	var records []geo.Record
	skipped := 0
	for shape.Next() {
		n, p := shape.Shape()
		parts, points, ok := polygonParts(p)
		if !ok {
			skipped++
			continue
		}
		rings := splitRings(parts, points, proj)
		mp := assemblePolygons(rings)
		if len(mp) == 0 {
			skipped++
			continue
		}
		name := dec.Decode(shape.ReadAttribute(n, nameIdx))
		rec, err := geo.NewRecord(name, mp)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := shape.Err(); err != nil {
		return nil, fmt.Errorf("error iterating shapes: %w", err)
	}
	if skipped > 0 {
		slog.Warn("Skipped non-polygon shapes", "path", path, "count", skipped)
	}
	if err := checkCoordinates(records, proj); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrEmptyDataset
	}
	return records, nil
}

// FieldNames lists the DBF columns of a shapefile.
func FieldNames(path string) ([]string, error) {
	shape, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open shapefile: %w", err)
	}
	defer shape.Close()
	fields := shape.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.String()
	}
	return names, nil
}

func fieldIndex(fields []shp.Field, name string) (int, error) {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.String()
		if strings.EqualFold(names[i], name) {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %q (available: %s)", ErrNameField, name, strings.Join(names, ", "))
}

// sidecar returns the path of a companion file (.prj, .cpg, .dbf), trying the upper-case
// extension when the lower-case one is absent.
func sidecar(path, ext string) string {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	p := base + ext
	if _, err := os.Stat(p); err == nil {
		return p
	}
	if up := base + strings.ToUpper(ext); fileExists(up) {
		return up
	}
	return p
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// projectionFor returns nil when the shapefile has no CRS information; coordinates are then
// checked to be plausible lon/lat.
func projectionFor(path, sourceCRS string) (Projection, error) {
	if sourceCRS != "" {
		return ParseEPSG(sourceCRS)
	}
	data, err := os.ReadFile(sidecar(path, ".prj"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read projection file: %w", err)
	}
	proj, err := ParseWKT(string(data))
	if err != nil {
		return nil, err
	}
	if _, ok := proj.(Geographic); ok {
		return nil, nil
	}
	return proj, nil
}

// checkCoordinates rejects unprojected data that is not lon/lat, and projected data that did
// not land on the globe.
func checkCoordinates(records []geo.Record, proj Projection) error {
	if proj == nil {
		return checkGeographic(records)
	}
	return checkProjected(records, proj)
}

func checkProjected(records []geo.Record, proj Projection) error {
	for _, r := range records {
		for _, poly := range r.Boundary {
			for _, ring := range poly {
				for _, p := range ring {
					if !validLonLat(p) {
						return fmt.Errorf("%w: %q has %v under %s", ErrInvalidCoordinates, r.Name, p, proj)
					}
				}
			}
		}
	}
	return nil
}

func validLonLat(p orb.Point) bool {
	lon, lat := p[0], p[1]
	if math.IsNaN(lon) || math.IsNaN(lat) {
		return false
	}
	return lon >= -180 && lon <= 180 && lat >= -90 && lat <= 90
}

func checkGeographic(records []geo.Record) error {
	for _, r := range records {
		b := r.Boundary.Bound()
		if b.Min.Lon() < -180 || b.Max.Lon() > 180 || b.Min.Lat() < -90 || b.Max.Lat() > 90 {
			return fmt.Errorf("%w: %q spans %v; set dataset.source_crs", ErrUnknownCRS, r.Name, b)
		}
	}
	return nil
}

func polygonParts(p shp.Shape) ([]int32, []shp.Point, bool) {
	switch s := p.(type) {
	case *shp.Polygon:
		return s.Parts, s.Points, true
	case *shp.PolygonZ:
		return s.Parts, s.Points, true
	case *shp.PolygonM:
		return s.Parts, s.Points, true
	}
	return nil, nil, false
}

// splitRings cuts the flat point array at the part offsets and projects every vertex.
func splitRings(parts []int32, points []shp.Point, proj Projection) []orb.Ring {
	rings := make([]orb.Ring, 0, len(parts))
	for i, start := range parts {
		end := int32(len(points))
		if i < len(parts)-1 {
			end = parts[i+1]
		}
		if start < 0 || end > int32(len(points)) || end-start < 3 {
			continue
		}
		ring := make(orb.Ring, 0, end-start)
		for _, pt := range points[start:end] {
			x, y := pt.X, pt.Y
			if proj != nil {
				x, y = proj.ToWGS84(x, y)
			}
			ring = append(ring, orb.Point{x, y})
		}
		rings = append(rings, ring)
	}
	return rings
}

// assemblePolygons groups rings into polygons. The largest ring sets the winding of outer
// rings (clockwise in conforming files); rings of the opposite winding are holes and are
// attached to the first outer ring containing them.
func assemblePolygons(rings []orb.Ring) orb.MultiPolygon {
	if len(rings) == 0 {
		return nil
	}
	largest, largestArea := 0, -1.0
	for i, r := range rings {
		if a := math.Abs(planar.Area(r)); a > largestArea {
			largest, largestArea = i, a
		}
	}
	outer := rings[largest].Orientation()

	var mp orb.MultiPolygon
	var holes []orb.Ring
	for _, r := range rings {
		if r.Orientation() == outer {
			mp = append(mp, orb.Polygon{r})
		} else {
			holes = append(holes, r)
		}
	}
	for _, h := range holes {
		attached := false
		for i := range mp {
			if planar.RingContains(mp[i][0], h[0]) {
				mp[i] = append(mp[i], h)
				attached = true
				break
			}
		}
		if !attached {
			mp = append(mp, orb.Polygon{h})
		}
	}
	return mp
}
