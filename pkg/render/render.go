// Package render turns a resolve result into a map view: polygon layers with their
// styles, a marker for the query point, and the camera position.
package render

import (
	"fmt"
	"html"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"bairrosgo/pkg/config"
	"bairrosgo/pkg/geo"
)

// Layer names.
const (
	LayerAll   = "bairros"
	LayerFound = "found"
)

// Style is the Leaflet path style of a layer.
type Style struct {
	Fill        string  `json:"fillColor"`
	Stroke      string  `json:"color"`
	FillOpacity float64 `json:"fillOpacity"`
	Weight      int     `json:"weight"`
}

// Styles enumerates the two polygon styles of a view.
type Styles struct {
	Matched   Style
	Unmatched Style
}

// DefaultStyles returns grey context polygons and a red highlight.
func DefaultStyles() Styles {
	return Styles{
		Matched:   Style{Fill: "#ff0000", Stroke: "#ff0000", FillOpacity: 0.5, Weight: 2},
		Unmatched: Style{Fill: "#cccccc", Stroke: "#666666", FillOpacity: 0.2, Weight: 1},
	}
}

// StylesFromConfig converts the map section of the config.
func StylesFromConfig(m config.MapConfig) Styles {
	conv := func(s config.StyleConfig) Style {
		return Style{Fill: s.Fill, Stroke: s.Stroke, FillOpacity: s.FillOpacity, Weight: s.Weight}
	}
	return Styles{Matched: conv(m.Matched), Unmatched: conv(m.Unmatched)}
}

// Layer is one GeoJSON overlay.
type Layer struct {
	Name     string                     `json:"name"`
	Title    string                     `json:"title"`
	Style    Style                      `json:"style"`
	Features *geojson.FeatureCollection `json:"features"`
}

// Marker pins the query point.
type Marker struct {
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Popup string  `json:"popup"`
}

// View is everything the map page needs to draw one result.
type View struct {
	Found  bool       `json:"found"`
	Name   string     `json:"name,omitempty"`
	Center [2]float64 `json:"center"` // lat, lon
	Zoom   int        `json:"zoom"`
	Tiles  string     `json:"tiles"`
	Marker Marker     `json:"marker"`
	Layers []Layer    `json:"layers"`
}

// Options carry the camera and tile settings.
type Options struct {
	Styles   Styles
	ZoomHit  int
	ZoomMiss int
	Tiles    string
}

// OptionsFromConfig builds Options from the map section of the config.
func OptionsFromConfig(m config.MapConfig) Options {
	return Options{
		Styles:   StylesFromConfig(m),
		ZoomHit:  m.ZoomHit,
		ZoomMiss: m.ZoomMiss,
		Tiles:    m.Base,
	}
}

// BuildView renders the result of a lookup. On a hit every polygon is drawn in the
// unmatched style with the match repeated on top; a miss shows only the marker.
func BuildView(c *geo.Collection, query geo.Point, match *geo.Match, opts Options) View {
	v := View{
		Center: [2]float64{query.Lat, query.Lon},
		Zoom:   opts.ZoomMiss,
		Tiles:  opts.Tiles,
		Marker: Marker{Lat: query.Lat, Lon: query.Lon},
		Layers: []Layer{},
	}
	if match == nil || c == nil {
		v.Marker.Popup = fmt.Sprintf("Ponto: %.4f, %.4f<br>Fora dos bairros", query.Lat, query.Lon)
		return v
	}

	v.Found = true
	v.Name = match.Name()
	v.Zoom = opts.ZoomHit
	v.Marker.Popup = fmt.Sprintf("Ponto: %.4f, %.4f<br>Bairro: %s", query.Lat, query.Lon, html.EscapeString(v.Name))

	all := geojson.NewFeatureCollection()
	for i, r := range c.Records() {
		all.Append(Feature(r, i))
	}
	found := geojson.NewFeatureCollection()
	found.Append(Feature(match.Record, match.Index))

	v.Layers = append(v.Layers,
		Layer{Name: LayerAll, Title: "Bairros", Style: opts.Styles.Unmatched, Features: all},
		Layer{Name: LayerFound, Title: "Bairro encontrado", Style: opts.Styles.Matched, Features: found},
	)
	return v
}

// Feature converts a record to a GeoJSON feature carrying its name and position.
func Feature(r geo.Record, index int) *geojson.Feature {
	var g orb.Geometry = r.Boundary
	if len(r.Boundary) == 1 {
		g = r.Boundary[0]
	}
	f := geojson.NewFeature(g)
	f.Properties["name"] = r.Name
	f.Properties["index"] = index
	return f
}
