package geometry

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/twpayne/go-geom"
)

// =============================================================================
// KML / GML FRAGMENT DECODING
// =============================================================================
//
// Geometry cells hold a bare geometry element. KML and GML2 share most element
// names (Point, LineString, Polygon, coordinates, outerBoundaryIs), so one
// decoder reads both. Element names are matched on their local part, which
// also covers prefixed GML such as <gml:Point>.
//
// SUPPORTED ELEMENTS:
//   Geometries : Point, LineString, LinearRing, Polygon, MultiGeometry,
//                MultiPoint, MultiLineString, MultiCurve, MultiPolygon,
//                MultiSurface, GeometryCollection
//   Boundaries : outerBoundaryIs, innerBoundaryIs, exterior, interior
//   Coordinates: coordinates (with cs/ts/decimal), pos, posList, coord

// node is a generic XML element tree.
type node struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Text    string     `xml:",chardata"`
	Nodes   []node     `xml:",any"`
}

func (n *node) attr(local string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// UnmarshalKML decodes a KML or GML geometry fragment.
func UnmarshalKML(fragment string) (geom.T, error) {
	var root node
	if err := xml.Unmarshal([]byte(fragment), &root); err != nil {
		return nil, fmt.Errorf("failed to parse geometry XML: %w", err)
	}

	d := &decoder{layout: geom.XY}
	if hasThirdOrdinate(&root) {
		d.layout = geom.XYZ
	}
	return d.geometry(&root)
}

type decoder struct {
	layout geom.Layout
}

func isCollection(local string) bool {
	switch local {
	case "MultiGeometry", "MultiPoint", "MultiLineString", "MultiCurve",
		"MultiPolygon", "MultiSurface", "GeometryCollection":
		return true
	}
	return false
}

func isGeometry(local string) bool {
	switch local {
	case "Point", "LineString", "LinearRing", "Polygon":
		return true
	}
	return isCollection(local)
}

func (d *decoder) geometry(n *node) (geom.T, error) {
	local := n.XMLName.Local
	switch {
	case local == "Point":
		flat, err := d.coords(n)
		if err != nil {
			return nil, err
		}
		stride := d.layout.Stride()
		if len(flat) != stride {
			return nil, fmt.Errorf("%w: Point needs exactly one coordinate, got %d", ErrEmptyGeometry, len(flat)/stride)
		}
		return geom.NewPointFlat(d.layout, flat), nil

	case local == "LineString", local == "LinearRing":
		flat, err := d.coords(n)
		if err != nil {
			return nil, err
		}
		if len(flat) == 0 {
			return nil, fmt.Errorf("%w: %s has no coordinates", ErrEmptyGeometry, local)
		}
		return geom.NewLineStringFlat(d.layout, flat), nil

	case local == "Polygon":
		return d.polygon(n)

	case isCollection(local):
		return d.collection(n)

	default:
		return nil, fmt.Errorf("%w: <%s>", ErrUnsupportedShape, local)
	}
}

func (d *decoder) polygon(n *node) (*geom.Polygon, error) {
	var outer []float64
	var inner [][]float64

	for i := range n.Nodes {
		child := &n.Nodes[i]
		switch child.XMLName.Local {
		case "outerBoundaryIs", "exterior":
			rings, err := d.rings(child)
			if err != nil {
				return nil, err
			}
			if len(rings) > 0 {
				outer = rings[0]
			}
		case "innerBoundaryIs", "interior":
			rings, err := d.rings(child)
			if err != nil {
				return nil, err
			}
			inner = append(inner, rings...)
		}
	}

	if len(outer) == 0 {
		return nil, fmt.Errorf("%w: Polygon has no outer boundary", ErrEmptyGeometry)
	}

	flat := append([]float64{}, outer...)
	ends := []int{len(flat)}
	for _, ring := range inner {
		flat = append(flat, ring...)
		ends = append(ends, len(flat))
	}
	return geom.NewPolygonFlat(d.layout, flat, ends), nil
}

// rings reads every LinearRing below a boundary element.
func (d *decoder) rings(boundary *node) ([][]float64, error) {
	var rings [][]float64
	for i := range boundary.Nodes {
		child := &boundary.Nodes[i]
		if child.XMLName.Local != "LinearRing" {
			continue
		}
		flat, err := d.coords(child)
		if err != nil {
			return nil, err
		}
		if len(flat) > 0 {
			rings = append(rings, flat)
		}
	}
	return rings, nil
}

func (d *decoder) collection(n *node) (geom.T, error) {
	var members []geom.T
	for i := range n.Nodes {
		child := &n.Nodes[i]
		local := child.XMLName.Local
		switch {
		case isGeometry(local):
			g, err := d.geometry(child)
			if err != nil {
				return nil, err
			}
			members = append(members, g)
		case strings.HasSuffix(local, "Member") || strings.HasSuffix(local, "Members"):
			for j := range child.Nodes {
				grandchild := &child.Nodes[j]
				if !isGeometry(grandchild.XMLName.Local) {
					continue
				}
				g, err := d.geometry(grandchild)
				if err != nil {
					return nil, err
				}
				members = append(members, g)
			}
		}
	}

	if len(members) == 0 {
		return nil, fmt.Errorf("%w: <%s> has no members", ErrEmptyGeometry, n.XMLName.Local)
	}
	return d.homogenize(members)
}

// homogenize folds members of a single kind into the matching Multi*
// geometry and falls back to a GeometryCollection for mixed members.
func (d *decoder) homogenize(members []geom.T) (geom.T, error) {
	var points, lines, polygons int
	for _, m := range members {
		switch m.(type) {
		case *geom.Point, *geom.MultiPoint:
			points++
		case *geom.LineString, *geom.MultiLineString:
			lines++
		case *geom.Polygon, *geom.MultiPolygon:
			polygons++
		}
	}

	var flat []float64
	switch len(members) {
	case points:
		for _, m := range members {
			flat = append(flat, m.FlatCoords()...)
		}
		return geom.NewMultiPointFlat(d.layout, flat), nil

	case lines:
		var ends []int
		for _, m := range members {
			base := len(flat)
			flat = append(flat, m.FlatCoords()...)
			if mls, ok := m.(*geom.MultiLineString); ok {
				for _, e := range mls.Ends() {
					ends = append(ends, base+e)
				}
				continue
			}
			ends = append(ends, len(flat))
		}
		return geom.NewMultiLineStringFlat(d.layout, flat, ends), nil

	case polygons:
		var endss [][]int
		for _, m := range members {
			base := len(flat)
			flat = append(flat, m.FlatCoords()...)
			var polygonEndss [][]int
			if mp, ok := m.(*geom.MultiPolygon); ok {
				polygonEndss = mp.Endss()
			} else {
				polygonEndss = [][]int{m.Ends()}
			}
			for _, ends := range polygonEndss {
				shifted := make([]int, len(ends))
				for i, e := range ends {
					shifted[i] = base + e
				}
				endss = append(endss, shifted)
			}
		}
		return geom.NewMultiPolygonFlat(d.layout, flat, endss), nil

	default:
		gc := geom.NewGeometryCollection()
		if err := gc.Push(members...); err != nil {
			return nil, fmt.Errorf("failed to build geometry collection: %w", err)
		}
		return gc, nil
	}
}

// =============================================================================
// COORDINATES
// =============================================================================

// coords collects the coordinates held directly by a geometry element as a
// flat slice in the decoder's layout.
func (d *decoder) coords(n *node) ([]float64, error) {
	stride := d.layout.Stride()
	var flat []float64
	appendTuple := func(tuple []float64) {
		for i := 0; i < stride; i++ {
			var v float64
			if i < len(tuple) {
				v = tuple[i]
			}
			flat = append(flat, v)
		}
	}

	for i := range n.Nodes {
		child := &n.Nodes[i]
		switch child.XMLName.Local {
		case "coordinates":
			tuples, err := parseCoordinates(child)
			if err != nil {
				return nil, err
			}
			for _, t := range tuples {
				appendTuple(t)
			}
		case "pos":
			values, err := parseNumbers(strings.Fields(child.Text))
			if err != nil {
				return nil, err
			}
			if len(values) < 2 {
				return nil, fmt.Errorf("pos needs at least two ordinates, got %q", child.Text)
			}
			appendTuple(values)
		case "posList":
			values, err := parseNumbers(strings.Fields(child.Text))
			if err != nil {
				return nil, err
			}
			size := posListDimension(child)
			if len(values)%size != 0 {
				return nil, fmt.Errorf("posList has %d ordinates, not a multiple of %d", len(values), size)
			}
			for j := 0; j < len(values); j += size {
				appendTuple(values[j : j+size])
			}
		case "coord":
			tuple, err := parseCoord(child)
			if err != nil {
				return nil, err
			}
			appendTuple(tuple)
		}
	}
	return flat, nil
}

// parseCoordinates splits a <coordinates> body into tuples. The tuple and
// ordinate separators default to whitespace and ',' and may be overridden by
// the GML ts/cs/decimal attributes.
func parseCoordinates(n *node) ([][]float64, error) {
	cs := n.attr("cs")
	if cs == "" {
		cs = ","
	}
	ts := n.attr("ts")
	decimal := n.attr("decimal")

	text := strings.TrimSpace(n.Text)
	if text == "" {
		return nil, nil
	}
	// Tolerate "x, y" written with a blank after the separator.
	text = strings.ReplaceAll(text, cs+" ", cs)

	var raw []string
	if ts == "" || strings.TrimSpace(ts) == "" {
		raw = strings.Fields(text)
	} else {
		raw = strings.Split(text, ts)
	}

	tuples := make([][]float64, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		parts := strings.Split(r, cs)
		if decimal != "" && decimal != "." {
			for i := range parts {
				parts[i] = strings.ReplaceAll(parts[i], decimal, ".")
			}
		}
		values, err := parseNumbers(parts)
		if err != nil {
			return nil, err
		}
		if len(values) < 2 {
			return nil, fmt.Errorf("coordinate tuple %q needs at least two ordinates", r)
		}
		tuples = append(tuples, values)
	}
	return tuples, nil
}

func parseCoord(n *node) ([]float64, error) {
	var tuple [3]float64
	size := 0
	for i := range n.Nodes {
		child := &n.Nodes[i]
		idx := strings.Index("XYZ", child.XMLName.Local)
		if idx < 0 || len(child.XMLName.Local) != 1 {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(child.Text), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ordinate %q: %w", child.Text, err)
		}
		tuple[idx] = v
		if idx+1 > size {
			size = idx + 1
		}
	}
	if size < 2 {
		return nil, fmt.Errorf("coord needs X and Y")
	}
	return tuple[:size], nil
}

func parseNumbers(fields []string) ([]float64, error) {
	values := make([]float64, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ordinate %q: %w", f, err)
		}
		values = append(values, v)
	}
	return values, nil
}

func posListDimension(n *node) int {
	for _, name := range []string{"srsDimension", "dimension"} {
		if v, err := strconv.Atoi(n.attr(name)); err == nil && v >= 2 {
			return v
		}
	}
	return 2
}

// hasThirdOrdinate reports whether any coordinate below n carries a Z value.
// The whole geometry is then decoded as XYZ so all members share one layout.
func hasThirdOrdinate(n *node) bool {
	switch n.XMLName.Local {
	case "coordinates":
		cs := n.attr("cs")
		if cs == "" {
			cs = ","
		}
		text := strings.ReplaceAll(strings.TrimSpace(n.Text), cs+" ", cs)
		for _, tuple := range strings.Fields(text) {
			if strings.Count(tuple, cs) >= 2 {
				return true
			}
		}
		return false
	case "pos":
		return len(strings.Fields(n.Text)) >= 3
	case "posList":
		return posListDimension(n) >= 3
	case "coord":
		for i := range n.Nodes {
			if n.Nodes[i].XMLName.Local == "Z" {
				return true
			}
		}
		return false
	}
	for i := range n.Nodes {
		if hasThirdOrdinate(&n.Nodes[i]) {
			return true
		}
	}
	return false
}
