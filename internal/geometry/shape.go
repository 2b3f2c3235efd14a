package geometry

import (
	"fmt"

	"github.com/jonas-p/go-shp"
	"github.com/twpayne/go-geom"
)

// =============================================================================
// SHAPEFILE -> GO-GEOM
// =============================================================================

// FromShape converts a shapefile shape into a go-geom geometry.
//
// RETURNS:
//   - nil for Null shapes.
//   - Point, MultiPoint, LineString/MultiLineString or Polygon/MultiPolygon.
//   - ErrUnsupportedShape for MultiPatch.
//
// Z shapes keep their Z ordinate (XYZ) and M shapes keep their measure (XYM).
// Polylines with a single part become LineStrings. Polygon rings are grouped
// into polygons by orientation (see assemblePolygons).
func FromShape(s shp.Shape) (geom.T, error) {
	switch s := s.(type) {
	case nil, *shp.Null:
		return nil, nil

	case *shp.Point:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y}), nil
	case *shp.PointZ:
		return geom.NewPointFlat(geom.XYZ, []float64{s.X, s.Y, s.Z}), nil
	case *shp.PointM:
		return geom.NewPointFlat(geom.XYM, []float64{s.X, s.Y, s.M}), nil

	case *shp.MultiPoint:
		return multiPoint(geom.XY, flatten(s.Points, nil))
	case *shp.MultiPointZ:
		return multiPoint(geom.XYZ, flatten(s.Points, s.ZArray))
	case *shp.MultiPointM:
		return multiPoint(geom.XYM, flatten(s.Points, s.MArray))

	case *shp.PolyLine:
		return lineal(geom.XY, flatten(s.Points, nil), partEnds(s.Parts, len(s.Points), 2))
	case *shp.PolyLineZ:
		return lineal(geom.XYZ, flatten(s.Points, s.ZArray), partEnds(s.Parts, len(s.Points), 3))
	case *shp.PolyLineM:
		return lineal(geom.XYM, flatten(s.Points, s.MArray), partEnds(s.Parts, len(s.Points), 3))

	case *shp.Polygon:
		return polygonal(geom.XY, flatten(s.Points, nil), partEnds(s.Parts, len(s.Points), 2))
	case *shp.PolygonZ:
		return polygonal(geom.XYZ, flatten(s.Points, s.ZArray), partEnds(s.Parts, len(s.Points), 3))
	case *shp.PolygonM:
		return polygonal(geom.XYM, flatten(s.Points, s.MArray), partEnds(s.Parts, len(s.Points), 3))

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedShape, s)
	}
}

// flatten interleaves points with an optional third ordinate array.
func flatten(points []shp.Point, third []float64) []float64 {
	stride := 2
	if third != nil {
		stride = 3
	}
	flat := make([]float64, 0, len(points)*stride)
	for i, p := range points {
		flat = append(flat, p.X, p.Y)
		if third != nil {
			var v float64
			if i < len(third) {
				v = third[i]
			}
			flat = append(flat, v)
		}
	}
	return flat
}

// partEnds turns shapefile part start indexes into go-geom flat ends.
func partEnds(parts []int32, numPoints, stride int) []int {
	if len(parts) == 0 && numPoints > 0 {
		return []int{numPoints * stride}
	}
	ends := make([]int, 0, len(parts))
	for i := range parts {
		end := numPoints
		if i+1 < len(parts) {
			end = int(parts[i+1])
		}
		if end > numPoints {
			end = numPoints
		}
		ends = append(ends, end*stride)
	}
	return ends
}

func multiPoint(layout geom.Layout, flat []float64) (geom.T, error) {
	if len(flat) == 0 {
		return nil, nil
	}
	return geom.NewMultiPointFlat(layout, flat), nil
}

func lineal(layout geom.Layout, flat []float64, ends []int) (geom.T, error) {
	switch len(ends) {
	case 0:
		return nil, nil
	case 1:
		return geom.NewLineStringFlat(layout, flat[:ends[0]]), nil
	default:
		return geom.NewMultiLineStringFlat(layout, flat, ends), nil
	}
}

func polygonal(layout geom.Layout, flat []float64, ends []int) (geom.T, error) {
	if len(ends) == 0 {
		return nil, nil
	}
	rings := make([][]float64, 0, len(ends))
	offset := 0
	for _, end := range ends {
		if end > offset {
			rings = append(rings, flat[offset:end])
		}
		offset = end
	}
	return assemblePolygons(layout, rings), nil
}

// =============================================================================
// GO-GEOM -> SHAPEFILE
// =============================================================================

// ShapeTypeOf returns the 2D shapefile type that stores g.
func ShapeTypeOf(g geom.T) (shp.ShapeType, error) {
	switch g.(type) {
	case *geom.Point:
		return shp.POINT, nil
	case *geom.MultiPoint:
		return shp.MULTIPOINT, nil
	case *geom.LineString, *geom.MultiLineString:
		return shp.POLYLINE, nil
	case *geom.Polygon, *geom.MultiPolygon:
		return shp.POLYGON, nil
	default:
		return shp.NULL, fmt.Errorf("%w: %T", ErrUnsupportedShape, g)
	}
}

// ToShape converts g into a 2D shape of type t. Z and M ordinates are
// dropped. A Point may be stored in a MULTIPOINT file; any other mismatch
// between g and t is an error.
//
// Polygon rings are re-oriented to the shapefile convention: outer rings
// clockwise, holes counter-clockwise.
func ToShape(g geom.T, t shp.ShapeType) (shp.Shape, error) {
	switch t {
	case shp.POINT:
		if p, ok := g.(*geom.Point); ok {
			c := p.Coords()
			return &shp.Point{X: c.X(), Y: c.Y()}, nil
		}
	case shp.MULTIPOINT:
		switch g := g.(type) {
		case *geom.Point, *geom.MultiPoint:
			points := toPoints(g.FlatCoords(), g.Stride())
			return &shp.MultiPoint{
				Box:       shp.BBoxFromPoints(points),
				NumPoints: int32(len(points)),
				Points:    points,
			}, nil
		}
	case shp.POLYLINE:
		switch g := g.(type) {
		case *geom.LineString:
			return shp.NewPolyLine([][]shp.Point{toPoints(g.FlatCoords(), g.Stride())}), nil
		case *geom.MultiLineString:
			return shp.NewPolyLine(splitParts(g.FlatCoords(), g.Ends(), g.Stride())), nil
		}
	case shp.POLYGON:
		switch g := g.(type) {
		case *geom.Polygon:
			return newPolygon(orientRings(g.Layout(), g.FlatCoords(), [][]int{g.Ends()})), nil
		case *geom.MultiPolygon:
			return newPolygon(orientRings(g.Layout(), g.FlatCoords(), g.Endss())), nil
		}
	}
	return nil, fmt.Errorf("%w: cannot store %T in a %s shapefile", ErrUnsupportedShape, g, ShapeTypeName(t))
}

func newPolygon(rings [][]shp.Point) *shp.Polygon {
	p := shp.Polygon(*shp.NewPolyLine(rings))
	return &p
}

func toPoints(flat []float64, stride int) []shp.Point {
	points := make([]shp.Point, 0, len(flat)/stride)
	for i := 0; i+1 < len(flat); i += stride {
		points = append(points, shp.Point{X: flat[i], Y: flat[i+1]})
	}
	return points
}

func splitParts(flat []float64, ends []int, stride int) [][]shp.Point {
	parts := make([][]shp.Point, 0, len(ends))
	offset := 0
	for _, end := range ends {
		parts = append(parts, toPoints(flat[offset:end], stride))
		offset = end
	}
	return parts
}

// ShapeTypeName returns a readable name for a shapefile type.
func ShapeTypeName(t shp.ShapeType) string {
	switch t {
	case shp.NULL:
		return "Null"
	case shp.POINT:
		return "Point"
	case shp.POLYLINE:
		return "PolyLine"
	case shp.POLYGON:
		return "Polygon"
	case shp.MULTIPOINT:
		return "MultiPoint"
	case shp.POINTZ:
		return "PointZ"
	case shp.POLYLINEZ:
		return "PolyLineZ"
	case shp.POLYGONZ:
		return "PolygonZ"
	case shp.MULTIPOINTZ:
		return "MultiPointZ"
	case shp.POINTM:
		return "PointM"
	case shp.POLYLINEM:
		return "PolyLineM"
	case shp.POLYGONM:
		return "PolygonM"
	case shp.MULTIPOINTM:
		return "MultiPointM"
	case shp.MULTIPATCH:
		return "MultiPatch"
	default:
		return fmt.Sprintf("ShapeType(%d)", int32(t))
	}
}
