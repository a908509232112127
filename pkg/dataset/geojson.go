package dataset

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"bairrosgo/pkg/geo"
)

// ReadGeoJSON parses a FeatureCollection. Features without polygon geometry are skipped.
// Coordinates are WGS84 unless sourceCRS names a projected system.
func ReadGeoJSON(data []byte, nameField, sourceCRS string) ([]geo.Record, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse GeoJSON: %w", err)
	}

	var proj Projection
	if sourceCRS != "" {
		if proj, err = ParseEPSG(sourceCRS); err != nil {
			return nil, err
		}
		if _, ok := proj.(Geographic); ok {
			proj = nil
		}
	}

	var records []geo.Record
	named, skipped := 0, 0
	for _, f := range fc.Features {
		g := f.Geometry
		switch g.(type) {
		case orb.Polygon, orb.MultiPolygon:
		default:
			skipped++
			continue
		}
		if proj != nil {
			g = project(g, proj)
		}
		name, ok := propString(f.Properties, nameField)
		if ok {
			named++
		}
		rec, err := geo.NewRecord(name, g)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if skipped > 0 {
		slog.Warn("Skipped non-polygon features", "count", skipped)
	}
	if len(records) == 0 {
		return nil, ErrEmptyDataset
	}
	if named == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNameField, nameField)
	}
	if err := checkCoordinates(records, proj); err != nil {
		return nil, err
	}
	return records, nil
}

// ReadGeoJSONFile is ReadGeoJSON for a file on disk.
func ReadGeoJSONFile(path, nameField, sourceCRS string) ([]geo.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read GeoJSON: %w", err)
	}
	return ReadGeoJSON(data, nameField, sourceCRS)
}

// propString matches the property key case-insensitively.
func propString(props geojson.Properties, key string) (string, bool) {
	v, ok := props[key]
	if !ok {
		for k, val := range props {
			if strings.EqualFold(k, key) {
				v, ok = val, true
				break
			}
		}
	}
	if !ok || v == nil {
		return "", false
	}
	if s, isStr := v.(string); isStr {
		return s, true
	}
	return fmt.Sprint(v), true
}

func project(g orb.Geometry, proj Projection) orb.Geometry {
	ring := func(r orb.Ring) orb.Ring {
		out := make(orb.Ring, len(r))
		for i, p := range r {
			lon, lat := proj.ToWGS84(p[0], p[1])
			out[i] = orb.Point{lon, lat}
		}
		return out
	}
	poly := func(p orb.Polygon) orb.Polygon {
		out := make(orb.Polygon, len(p))
		for i, r := range p {
			out[i] = ring(r)
		}
		return out
	}
	switch v := g.(type) {
	case orb.Polygon:
		return poly(v)
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(v))
		for i, p := range v {
			out[i] = poly(p)
		}
		return out
	}
	return g
}

// WriteGeoJSON encodes records as a FeatureCollection with the name under nameField.
func WriteGeoJSON(records []geo.Record, nameField string) ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	for _, r := range records {
		var g orb.Geometry = r.Boundary
		if len(r.Boundary) == 1 {
			g = r.Boundary[0]
		}
		f := geojson.NewFeature(g)
		f.Properties[nameField] = r.Name
		fc.Append(f)
	}
	return fc.MarshalJSON()
}
