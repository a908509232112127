package dataset

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/wroge/wgs84"
)

// Projection converts source coordinates to WGS84 lon/lat degrees.
type Projection interface {
	ToWGS84(x, y float64) (lon, lat float64)
	String() string
}

// Geographic is the identity projection for lon/lat sources whose datum agrees with WGS84
// to well under a meter (EPSG:4326, EPSG:4674).
type Geographic struct {
	Name string
}

func (g Geographic) ToWGS84(x, y float64) (lon, lat float64) { return x, y }

func (g Geographic) String() string {
	if g.Name == "" {
		return "geographic"
	}
	return g.Name
}

// EPSG codes of the geographic systems.
const (
	codeWGS84  = 4326
	codeSIRGAS = 4674
	codeSAD69  = 4618
)

var epsg = wgs84.EPSG()

// CRS is a registered coordinate reference system transformed to WGS84 with its datum shift.
type CRS struct {
	Code int

	to   func(a, b, c float64) (float64, float64, float64)
	from func(a, b, c float64) (float64, float64, float64)
}

func (c CRS) String() string {
	return "EPSG:" + strconv.Itoa(c.Code)
}

// ToWGS84 returns lon/lat on the WGS84 datum.
func (c CRS) ToWGS84(x, y float64) (lon, lat float64) {
	lon, lat, _ = c.to(x, y, 0)
	return lon, lat
}

// FromWGS84 is the inverse of ToWGS84.
func (c CRS) FromWGS84(lon, lat float64) (x, y float64) {
	x, y, _ = c.from(lon, lat, 0)
	return x, y
}

// supportedCode reports whether code is one of the systems Brazilian municipal data comes in:
// WGS84, SIRGAS 2000 and SAD69, geographic or UTM.
func supportedCode(code int) bool {
	switch {
	case code == codeWGS84, code == codeSIRGAS, code == codeSAD69:
		return true
	case code >= 32601 && code <= 32660, code >= 32701 && code <= 32760: // WGS 84 / UTM
		return true
	case code >= 31965 && code <= 31985: // SIRGAS 2000 / UTM 11N..22N, 17S..25S
		return true
	case code >= 29168 && code <= 29172, code >= 29187 && code <= 29195: // SAD69 / UTM 18N..22N, 17S..25S
		return true
	}
	return false
}

// projectionForCode returns the identity for WGS84-compatible lon/lat systems and a
// datum-aware transform otherwise.
func projectionForCode(code int) (Projection, error) {
	if !supportedCode(code) {
		return nil, fmt.Errorf("%w: EPSG:%d", ErrUnknownCRS, code)
	}
	if code == codeWGS84 || code == codeSIRGAS {
		return Geographic{Name: "EPSG:" + strconv.Itoa(code)}, nil
	}
	src, dst := epsg.Code(code), epsg.Code(codeWGS84)
	c := CRS{Code: code, to: wgs84.Transform(src, dst), from: wgs84.Transform(dst, src)}
	if lon, lat := c.ToWGS84(500000, 7000000); math.IsNaN(lon) || math.IsNaN(lat) {
		return nil, fmt.Errorf("%w: EPSG:%d has no usable transform", ErrUnknownCRS, code)
	}
	return c, nil
}

// ParseEPSG accepts "EPSG:31982", "epsg:31982" or "31982".
func ParseEPSG(code string) (Projection, error) {
	s := strings.TrimSpace(strings.ToUpper(code))
	s = strings.TrimPrefix(s, "EPSG:")
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCRS, code)
	}
	return projectionForCode(n)
}

type datum int

const (
	datumUnknown datum = iota
	datumWGS84
	datumSIRGAS
	datumSAD69
)

var (
	reDatum     = regexp.MustCompile(`(?i)DATUM\[\s*"([^"]*)"`)
	reAuthority = regexp.MustCompile(`(?i)AUTHORITY\[\s*"EPSG"\s*,\s*"?(\d+)"?\s*\]\s*\]\s*$`)
	reUTMZone   = regexp.MustCompile(`(?i)UTM[ _]zone[ _](\d{1,2})\s*([NS])`)
	reParameter = regexp.MustCompile(`(?i)PARAMETER\[\s*"([^"]+)"\s*,\s*([0-9.eE+-]+)\s*\]`)
	reNonAlnum  = regexp.MustCompile(`[^A-Z0-9]`)
)

func parseDatum(wkt string) (datum, string) {
	m := reDatum.FindStringSubmatch(wkt)
	if m == nil {
		return datumUnknown, ""
	}
	key := reNonAlnum.ReplaceAllString(strings.ToUpper(m[1]), "")
	switch {
	case strings.Contains(key, "SIRGAS"):
		return datumSIRGAS, m[1]
	case strings.Contains(key, "SOUTHAMERICAN1969"), strings.Contains(key, "SAD69"), strings.Contains(key, "SAD1969"):
		return datumSAD69, m[1]
	case strings.Contains(key, "WGS1984"), strings.Contains(key, "WGS84"):
		return datumWGS84, m[1]
	}
	return datumUnknown, m[1]
}

func geographicCode(d datum) int {
	switch d {
	case datumSIRGAS:
		return codeSIRGAS
	case datumSAD69:
		return codeSAD69
	}
	return codeWGS84
}

// utmCode returns the EPSG code of a UTM zone on the datum, or 0 when none is registered.
func utmCode(d datum, zone int, south bool) int {
	switch d {
	case datumWGS84:
		if zone < 1 || zone > 60 {
			return 0
		}
		if south {
			return 32700 + zone
		}
		return 32600 + zone
	case datumSIRGAS:
		if south && zone >= 17 && zone <= 25 {
			return 31977 + zone - 17
		}
		if !south && zone >= 11 && zone <= 22 {
			return 31965 + zone - 11
		}
	case datumSAD69:
		if south && zone >= 17 && zone <= 25 {
			return 29187 + zone - 17
		}
		if !south && zone >= 18 && zone <= 22 {
			return 29168 + zone - 18
		}
	}
	return 0
}

// ParseWKT reads an ESRI/OGC WKT (.prj) and returns the matching projection.
// Only WGS84, SIRGAS 2000 and SAD69 datums are accepted, either geographic or as a UTM zone.
// A trailing EPSG authority wins over the parsed parameters.
func ParseWKT(wkt string) (Projection, error) {
	s := strings.TrimSpace(wkt)
	if s == "" {
		return nil, fmt.Errorf("%w: empty .prj", ErrUnknownCRS)
	}
	if m := reAuthority.FindStringSubmatch(s); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && supportedCode(n) {
			return projectionForCode(n)
		}
	}

	upper := strings.ToUpper(s)
	geographic := strings.HasPrefix(upper, "GEOGCS") || strings.HasPrefix(upper, "GEOGCRS")
	if !geographic && !strings.HasPrefix(upper, "PROJCS") && !strings.HasPrefix(upper, "PROJCRS") {
		return nil, fmt.Errorf("%w: unrecognised WKT", ErrUnknownCRS)
	}

	d, name := parseDatum(s)
	if d == datumUnknown {
		return nil, fmt.Errorf("%w: datum %q is not WGS84, SIRGAS 2000 or SAD69", ErrUnknownCRS, name)
	}
	if geographic {
		return projectionForCode(geographicCode(d))
	}

	zone, south, err := utmZone(s)
	if err != nil {
		return nil, err
	}
	code := utmCode(d, zone, south)
	if code == 0 {
		return nil, fmt.Errorf("%w: no EPSG code for UTM zone %d on %q", ErrUnknownCRS, zone, name)
	}
	return projectionForCode(code)
}

// utmZone takes the zone from the CRS name, or derives it from the Transverse Mercator
// parameters when they describe a UTM grid.
func utmZone(wkt string) (zone int, south bool, err error) {
	if m := reUTMZone.FindStringSubmatch(wkt); m != nil {
		zone, _ = strconv.Atoi(m[1])
		return zone, strings.EqualFold(m[2], "S"), nil
	}

	upper := strings.ToUpper(wkt)
	if !strings.Contains(upper, "TRANSVERSE_MERCATOR") && !strings.Contains(upper, "TRANSVERSE MERCATOR") {
		return 0, false, fmt.Errorf("%w: only UTM projections are supported", ErrUnknownCRS)
	}
	params := map[string]float64{}
	for _, m := range reParameter.FindAllStringSubmatch(wkt, -1) {
		if v, err := strconv.ParseFloat(m[2], 64); err == nil {
			params[strings.ToLower(strings.ReplaceAll(m[1], " ", "_"))] = v
		}
	}
	cm, okCM := params["central_meridian"]
	if !okCM {
		cm, okCM = params["longitude_of_natural_origin"]
	}
	k := params["scale_factor"]
	if k == 0 {
		k = params["scale_factor_at_natural_origin"]
	}
	zf := (cm + 183) / 6
	if !okCM || zf != math.Trunc(zf) || k != 0.9996 || params["false_easting"] != 500000 {
		return 0, false, fmt.Errorf("%w: Transverse Mercator parameters are not a UTM zone", ErrUnknownCRS)
	}
	switch params["false_northing"] {
	case 0:
		return int(zf), false, nil
	case 10000000:
		return int(zf), true, nil
	}
	return 0, false, fmt.Errorf("%w: unexpected false northing %v", ErrUnknownCRS, params["false_northing"])
}
