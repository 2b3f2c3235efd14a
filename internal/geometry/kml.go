package geometry

import (
	"encoding/xml"
	"fmt"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-kml"
)

// =============================================================================
// KML ENCODING
// =============================================================================

// EncodeKML builds the KML element for a geometry.
//
// MAPPING:
//   - Point                      -> <Point>
//   - LineString                 -> <LineString>
//   - Polygon                    -> <Polygon> with outer/inner boundaries
//   - Multi* and collections     -> <MultiGeometry>
func EncodeKML(g geom.T) (kml.Element, error) {
	switch g := g.(type) {
	case *geom.Point:
		return kmlPoint(g.FlatCoords(), 0, len(g.FlatCoords()), g.Layout()), nil
	case *geom.LineString:
		flat := g.FlatCoords()
		return kml.LineString(kml.CoordinatesFlat(flat, 0, len(flat), g.Stride(), dim(g.Layout()))), nil
	case *geom.LinearRing:
		flat := g.FlatCoords()
		return kml.LinearRing(kml.CoordinatesFlat(flat, 0, len(flat), g.Stride(), dim(g.Layout()))), nil
	case *geom.Polygon:
		return kmlPolygon(g.FlatCoords(), 0, g.Ends(), g.Layout()), nil
	case *geom.MultiPoint:
		flat := g.FlatCoords()
		stride := g.Stride()
		points := make([]kml.Element, 0, g.NumPoints())
		for offset := 0; offset < len(flat); offset += stride {
			points = append(points, kmlPoint(flat, offset, offset+stride, g.Layout()))
		}
		return kml.MultiGeometry(points...), nil
	case *geom.MultiLineString:
		flat := g.FlatCoords()
		lines := make([]kml.Element, 0, g.NumLineStrings())
		offset := 0
		for _, end := range g.Ends() {
			lines = append(lines, kml.LineString(kml.CoordinatesFlat(flat, offset, end, g.Stride(), dim(g.Layout()))))
			offset = end
		}
		return kml.MultiGeometry(lines...), nil
	case *geom.MultiPolygon:
		flat := g.FlatCoords()
		polygons := make([]kml.Element, 0, g.NumPolygons())
		offset := 0
		for _, ends := range g.Endss() {
			polygons = append(polygons, kmlPolygon(flat, offset, ends, g.Layout()))
			if len(ends) > 0 {
				offset = ends[len(ends)-1]
			}
		}
		return kml.MultiGeometry(polygons...), nil
	case *geom.GeometryCollection:
		children := make([]kml.Element, 0, g.NumGeoms())
		for _, child := range g.Geoms() {
			el, err := EncodeKML(child)
			if err != nil {
				return nil, err
			}
			children = append(children, el)
		}
		return kml.MultiGeometry(children...), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedShape, g)
	}
}

// MarshalKML renders the KML fragment of a geometry, without an XML header or
// namespace, the way it is stored in the kmlgeometry column.
func MarshalKML(g geom.T) (string, error) {
	if g == nil {
		return "", nil
	}
	el, err := EncodeKML(g)
	if err != nil {
		return "", err
	}
	data, err := xml.Marshal(el)
	if err != nil {
		return "", fmt.Errorf("failed to marshal KML geometry: %w", err)
	}
	return string(data), nil
}

func kmlPoint(flat []float64, offset, end int, layout geom.Layout) kml.Element {
	return kml.Point(kml.CoordinatesFlat(flat, offset, end, layout.Stride(), dim(layout)))
}

func kmlPolygon(flat []float64, offset int, ends []int, layout geom.Layout) kml.Element {
	boundaries := make([]kml.Element, 0, len(ends))
	for i, end := range ends {
		ring := kml.LinearRing(kml.CoordinatesFlat(flat, offset, end, layout.Stride(), dim(layout)))
		if i == 0 {
			boundaries = append(boundaries, kml.OuterBoundaryIs(ring))
		} else {
			boundaries = append(boundaries, kml.InnerBoundaryIs(ring))
		}
		offset = end
	}
	return kml.Polygon(boundaries...)
}
