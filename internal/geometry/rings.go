package geometry

import (
	"github.com/jonas-p/go-shp"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
)

// assemblePolygons groups shapefile polygon rings into polygons.
//
// Shapefiles store every ring of a (multi)polygon in one flat list. Outer
// rings are clockwise and holes counter-clockwise. Each hole belongs to the
// first outer ring containing its first vertex. A hole that no outer ring
// contains is promoted to an outer ring, and if the file carries no clockwise
// ring at all every ring is treated as an outer ring.
func assemblePolygons(layout geom.Layout, rings [][]float64) geom.T {
	stride := layout.Stride()

	var polygons [][][]float64
	var holes [][]float64
	for _, ring := range rings {
		if xy.SignedArea(layout, ring) < 0 {
			holes = append(holes, ring)
			continue
		}
		polygons = append(polygons, [][]float64{ring})
	}

	if len(polygons) == 0 {
		for _, ring := range holes {
			polygons = append(polygons, [][]float64{ring})
		}
		holes = nil
	}

	for _, hole := range holes {
		first := geom.Coord(hole[:stride])
		placed := false
		for i := range polygons {
			if xy.IsPointInRing(layout, first, polygons[i][0]) {
				polygons[i] = append(polygons[i], hole)
				placed = true
				break
			}
		}
		if !placed {
			polygons = append(polygons, [][]float64{hole})
		}
	}

	var flat []float64
	endss := make([][]int, 0, len(polygons))
	for _, polygon := range polygons {
		ends := make([]int, 0, len(polygon))
		for _, ring := range polygon {
			flat = append(flat, ring...)
			ends = append(ends, len(flat))
		}
		endss = append(endss, ends)
	}

	if len(endss) == 1 {
		return geom.NewPolygonFlat(layout, flat, endss[0])
	}
	return geom.NewMultiPolygonFlat(layout, flat, endss)
}

// orientRings converts polygon rings into shapefile parts, reversing rings
// as needed so that the first ring of each polygon is clockwise and the rest
// are counter-clockwise.
func orientRings(layout geom.Layout, flat []float64, endss [][]int) [][]shp.Point {
	stride := layout.Stride()
	var parts [][]shp.Point
	offset := 0
	for _, ends := range endss {
		for i, end := range ends {
			ring := flat[offset:end]
			offset = end
			if len(ring) == 0 {
				continue
			}
			points := toPoints(ring, stride)
			area := xy.SignedArea(layout, ring)
			if (i == 0 && area < 0) || (i > 0 && area > 0) {
				reversePoints(points)
			}
			parts = append(parts, points)
		}
	}
	return parts
}

func reversePoints(points []shp.Point) {
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
}
