// =============================================================================
// SHP/CSV/KML Converter - Geometry Module
// =============================================================================
//
// This package converts geometries between the shapes stored in shapefiles,
// the go-geom model used internally, and the text encodings that can live in
// a single table cell:
//   - kml     : a KML geometry fragment, e.g. <Point><coordinates>1,2</coordinates></Point>
//   - wkt     : Well-Known Text, e.g. POINT (1 2)
//   - geojson : a GeoJSON geometry object, e.g. {"type":"Point","coordinates":[1,2]}
//
// Decoding auto-detects the encoding from the first non-blank character, so
// a table written with any of the three formats can be read back.
//
// =============================================================================

package geometry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/encoding/wkt"
)

var (
	// ErrUnsupportedShape is returned for shapes and geometries that have no
	// equivalent in the target model (MultiPatch, nested collections).
	ErrUnsupportedShape = errors.New("unsupported geometry type")

	// ErrEmptyGeometry is returned when a geometry element carries no
	// coordinates.
	ErrEmptyGeometry = errors.New("empty geometry")
)

// =============================================================================
// CELL FORMATS
// =============================================================================

// Format names a text encoding for geometry cells.
type Format string

const (
	FormatKML     Format = "kml"
	FormatWKT     Format = "wkt"
	FormatGeoJSON Format = "geojson"
)

// ParseFormat validates a format name. Matching is case-insensitive.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatKML, FormatWKT, FormatGeoJSON:
		return f, nil
	case "json":
		return FormatGeoJSON, nil
	default:
		return "", fmt.Errorf("unknown geometry format %q (want kml, wkt or geojson)", s)
	}
}

// Marshal encodes g in the given format. A nil geometry encodes as "".
func Marshal(g geom.T, f Format) (string, error) {
	if g == nil {
		return "", nil
	}

	switch f {
	case FormatKML, "":
		return MarshalKML(g)
	case FormatWKT:
		return wkt.Marshal(g)
	case FormatGeoJSON:
		data, err := geojson.Marshal(g)
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("unknown geometry format %q", f)
	}
}

// Unmarshal decodes a geometry cell. Blank cells decode to a nil geometry.
//
// DETECTION:
//   - '<' : KML or GML fragment
//   - '{' : GeoJSON geometry
//   - otherwise WKT
func Unmarshal(s string) (geom.T, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	switch s[0] {
	case '<':
		return UnmarshalKML(s)
	case '{':
		var g geom.T
		if err := geojson.Unmarshal([]byte(s), &g); err != nil {
			return nil, err
		}
		return g, nil
	default:
		return wkt.Unmarshal(s)
	}
}

// dim returns the number of ordinates written to KML for a layout.
// KML has no measure ordinate, so M values are dropped.
func dim(l geom.Layout) int {
	switch l {
	case geom.XY, geom.XYM:
		return 2
	default:
		return 3
	}
}
