package geometry

import (
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func square(x0, y0, x1, y1 float64, clockwise bool) []shp.Point {
	if clockwise {
		return []shp.Point{{X: x0, Y: y0}, {X: x0, Y: y1}, {X: x1, Y: y1}, {X: x1, Y: y0}, {X: x0, Y: y0}}
	}
	return []shp.Point{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}, {X: x0, Y: y0}}
}

func TestFromShape_Points(t *testing.T) {
	g, err := FromShape(&shp.Point{X: 1.5, Y: 2})
	require.NoError(t, err)
	require.IsType(t, &geom.Point{}, g)
	assert.Equal(t, geom.XY, g.Layout())
	assert.Equal(t, []float64{1.5, 2}, g.FlatCoords())

	g, err = FromShape(&shp.PointZ{X: 1, Y: 2, Z: 3, M: 4})
	require.NoError(t, err)
	assert.Equal(t, geom.XYZ, g.Layout())
	assert.Equal(t, []float64{1, 2, 3}, g.FlatCoords())

	g, err = FromShape(&shp.MultiPoint{NumPoints: 2, Points: []shp.Point{{X: 1, Y: 1}, {X: 2, Y: 2}}})
	require.NoError(t, err)
	require.IsType(t, &geom.MultiPoint{}, g)
	assert.Equal(t, 2, g.(*geom.MultiPoint).NumPoints())
}

func TestFromShape_NullAndUnsupported(t *testing.T) {
	g, err := FromShape(&shp.Null{})
	require.NoError(t, err)
	assert.Nil(t, g)

	_, err = FromShape(&shp.MultiPatch{})
	assert.ErrorIs(t, err, ErrUnsupportedShape)
}

func TestFromShape_PolyLineParts(t *testing.T) {
	single := shp.NewPolyLine([][]shp.Point{{{X: 0, Y: 0}, {X: 1, Y: 1}}})
	g, err := FromShape(single)
	require.NoError(t, err)
	assert.IsType(t, &geom.LineString{}, g)

	double := shp.NewPolyLine([][]shp.Point{
		{{X: 0, Y: 0}, {X: 1, Y: 1}},
		{{X: 5, Y: 5}, {X: 6, Y: 6}, {X: 7, Y: 5}},
	})
	g, err = FromShape(double)
	require.NoError(t, err)
	require.IsType(t, &geom.MultiLineString{}, g)
	assert.Equal(t, []int{4, 10}, g.Ends())
}

func TestFromShape_PolygonRingClassification(t *testing.T) {
	outer := square(0, 0, 10, 10, true)
	hole := square(2, 2, 4, 4, false)
	second := square(20, 20, 30, 30, true)

	single := shp.Polygon(*shp.NewPolyLine([][]shp.Point{outer, hole}))
	g, err := FromShape(&single)
	require.NoError(t, err)
	require.IsType(t, &geom.Polygon{}, g)
	assert.Equal(t, 2, g.(*geom.Polygon).NumLinearRings())

	multi := shp.Polygon(*shp.NewPolyLine([][]shp.Point{outer, hole, second}))
	g, err = FromShape(&multi)
	require.NoError(t, err)
	require.IsType(t, &geom.MultiPolygon{}, g)
	mp := g.(*geom.MultiPolygon)
	require.Equal(t, 2, mp.NumPolygons())
	assert.Equal(t, 2, mp.Polygon(0).NumLinearRings())
	assert.Equal(t, 1, mp.Polygon(1).NumLinearRings())
}

func TestFromShape_OrphanHoleBecomesOuter(t *testing.T) {
	outer := square(0, 0, 10, 10, true)
	orphan := square(50, 50, 60, 60, false)

	p := shp.Polygon(*shp.NewPolyLine([][]shp.Point{outer, orphan}))
	g, err := FromShape(&p)
	require.NoError(t, err)
	require.IsType(t, &geom.MultiPolygon{}, g)
	assert.Equal(t, 2, g.(*geom.MultiPolygon).NumPolygons())
}

func TestMarshalKML(t *testing.T) {
	tests := []struct {
		name string
		g    geom.T
		want string
	}{
		{
			name: "point",
			g:    geom.NewPointFlat(geom.XY, []float64{1.5, 2}),
			want: "<Point><coordinates>1.5,2</coordinates></Point>",
		},
		{
			name: "point with altitude",
			g:    geom.NewPointFlat(geom.XYZ, []float64{1, 2, 3}),
			want: "<Point><coordinates>1,2,3</coordinates></Point>",
		},
		{
			name: "line string",
			g:    geom.NewLineStringFlat(geom.XY, []float64{0, 0, 1, 1}),
			want: "<LineString><coordinates>0,0 1,1</coordinates></LineString>",
		},
		{
			name: "polygon with hole",
			g: geom.NewPolygonFlat(geom.XY,
				[]float64{0, 0, 0, 10, 10, 10, 10, 0, 0, 0, 2, 2, 4, 2, 4, 4, 2, 2},
				[]int{10, 18}),
			want: "<Polygon>" +
				"<outerBoundaryIs><LinearRing><coordinates>0,0 0,10 10,10 10,0 0,0</coordinates></LinearRing></outerBoundaryIs>" +
				"<innerBoundaryIs><LinearRing><coordinates>2,2 4,2 4,4 2,2</coordinates></LinearRing></innerBoundaryIs>" +
				"</Polygon>",
		},
		{
			name: "multi point",
			g:    geom.NewMultiPointFlat(geom.XY, []float64{1, 2, 3, 4}),
			want: "<MultiGeometry><Point><coordinates>1,2</coordinates></Point><Point><coordinates>3,4</coordinates></Point></MultiGeometry>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalKML(tt.g)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMarshalKML_Nil(t *testing.T) {
	got, err := MarshalKML(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestUnmarshalKML(t *testing.T) {
	tests := []struct {
		name     string
		fragment string
		wantType geom.T
		layout   geom.Layout
		flat     []float64
	}{
		{
			name:     "kml point",
			fragment: "<Point><coordinates>-103.5,47.25</coordinates></Point>",
			wantType: &geom.Point{},
			layout:   geom.XY,
			flat:     []float64{-103.5, 47.25},
		},
		{
			name:     "kml point with altitude",
			fragment: "<Point><coordinates>1,2,3</coordinates></Point>",
			wantType: &geom.Point{},
			layout:   geom.XYZ,
			flat:     []float64{1, 2, 3},
		},
		{
			name:     "blank after separator",
			fragment: "<LineString><coordinates>0, 0 1, 1</coordinates></LineString>",
			wantType: &geom.LineString{},
			layout:   geom.XY,
			flat:     []float64{0, 0, 1, 1},
		},
		{
			name:     "gml2 point",
			fragment: `<gml:Point xmlns:gml="http://www.opengis.net/gml"><gml:coordinates>5,6</gml:coordinates></gml:Point>`,
			wantType: &geom.Point{},
			layout:   geom.XY,
			flat:     []float64{5, 6},
		},
		{
			name: "gml3 polygon",
			fragment: `<gml:Polygon xmlns:gml="http://www.opengis.net/gml"><gml:exterior><gml:LinearRing>` +
				`<gml:posList>0 0 0 1 1 1 0 0</gml:posList></gml:LinearRing></gml:exterior></gml:Polygon>`,
			wantType: &geom.Polygon{},
			layout:   geom.XY,
			flat:     []float64{0, 0, 0, 1, 1, 1, 0, 0},
		},
		{
			name: "multi geometry of points",
			fragment: "<MultiGeometry><Point><coordinates>1,2</coordinates></Point>" +
				"<Point><coordinates>3,4</coordinates></Point></MultiGeometry>",
			wantType: &geom.MultiPoint{},
			layout:   geom.XY,
			flat:     []float64{1, 2, 3, 4},
		},
		{
			name: "mixed dimensions promote to xyz",
			fragment: "<MultiGeometry><LineString><coordinates>0,0 1,1</coordinates></LineString>" +
				"<LineString><coordinates>2,2,5 3,3,5</coordinates></LineString></MultiGeometry>",
			wantType: &geom.MultiLineString{},
			layout:   geom.XYZ,
			flat:     []float64{0, 0, 0, 1, 1, 0, 2, 2, 5, 3, 3, 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := UnmarshalKML(tt.fragment)
			require.NoError(t, err)
			assert.IsType(t, tt.wantType, g)
			assert.Equal(t, tt.layout, g.Layout())
			assert.Equal(t, tt.flat, g.FlatCoords())
		})
	}
}

func TestUnmarshalKML_Errors(t *testing.T) {
	_, err := UnmarshalKML("<Point><coordinates></coordinates></Point>")
	assert.ErrorIs(t, err, ErrEmptyGeometry)

	_, err = UnmarshalKML("<Model><Location/></Model>")
	assert.ErrorIs(t, err, ErrUnsupportedShape)

	_, err = UnmarshalKML("<Point><coordinates>a,b</coordinates></Point>")
	assert.Error(t, err)

	_, err = UnmarshalKML("<Point>")
	assert.Error(t, err)
}

func TestKMLRoundTrip(t *testing.T) {
	p := shp.Polygon(*shp.NewPolyLine([][]shp.Point{
		square(0, 0, 10, 10, true),
		square(2, 2, 4, 4, false),
		square(20, 20, 30, 30, true),
	}))
	g, err := FromShape(&p)
	require.NoError(t, err)

	fragment, err := MarshalKML(g)
	require.NoError(t, err)

	back, err := UnmarshalKML(fragment)
	require.NoError(t, err)
	require.IsType(t, &geom.MultiPolygon{}, back)
	assert.Equal(t, g.FlatCoords(), back.FlatCoords())
	assert.Equal(t, g.Endss(), back.Endss())
}

func TestUnmarshal_DetectsFormat(t *testing.T) {
	g, err := Unmarshal("  ")
	require.NoError(t, err)
	assert.Nil(t, g)

	g, err = Unmarshal("POINT (1 2)")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, g.FlatCoords())

	g, err = Unmarshal(`{"type":"Point","coordinates":[3,4]}`)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4}, g.FlatCoords())

	g, err = Unmarshal("<Point><coordinates>5,6</coordinates></Point>")
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 6}, g.FlatCoords())
}

func TestMarshal_Formats(t *testing.T) {
	p := geom.NewPointFlat(geom.XY, []float64{1, 2})

	s, err := Marshal(p, FormatWKT)
	require.NoError(t, err)
	assert.Equal(t, "POINT (1 2)", s)

	s, err = Marshal(p, FormatGeoJSON)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"Point","coordinates":[1,2]}`, s)

	s, err = Marshal(nil, FormatWKT)
	require.NoError(t, err)
	assert.Empty(t, s)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("KML")
	require.NoError(t, err)
	assert.Equal(t, FormatKML, f)

	f, err = ParseFormat("json")
	require.NoError(t, err)
	assert.Equal(t, FormatGeoJSON, f)

	_, err = ParseFormat("gpx")
	assert.Error(t, err)
}

func TestToShape(t *testing.T) {
	s, err := ToShape(geom.NewPointFlat(geom.XYZ, []float64{1, 2, 3}), shp.POINT)
	require.NoError(t, err)
	assert.Equal(t, &shp.Point{X: 1, Y: 2}, s)

	s, err = ToShape(geom.NewPointFlat(geom.XY, []float64{1, 2}), shp.MULTIPOINT)
	require.NoError(t, err)
	assert.Equal(t, int32(1), s.(*shp.MultiPoint).NumPoints)

	_, err = ToShape(geom.NewLineStringFlat(geom.XY, []float64{0, 0, 1, 1}), shp.POINT)
	assert.ErrorIs(t, err, ErrUnsupportedShape)
}

func TestToShape_ReorientsRings(t *testing.T) {
	// counter-clockwise outer ring and clockwise hole, the KML convention
	g := geom.NewPolygonFlat(geom.XY,
		[]float64{0, 0, 10, 0, 10, 10, 0, 10, 0, 0, 2, 2, 2, 4, 4, 4, 4, 2, 2, 2},
		[]int{10, 20})

	s, err := ToShape(g, shp.POLYGON)
	require.NoError(t, err)
	poly := s.(*shp.Polygon)
	require.Equal(t, int32(2), poly.NumParts)

	back, err := FromShape(poly)
	require.NoError(t, err)
	require.IsType(t, &geom.Polygon{}, back)
	assert.Equal(t, 2, back.(*geom.Polygon).NumLinearRings())
}

func TestShapeTypeOf(t *testing.T) {
	typ, err := ShapeTypeOf(geom.NewMultiLineStringFlat(geom.XY, []float64{0, 0, 1, 1}, []int{4}))
	require.NoError(t, err)
	assert.Equal(t, shp.ShapeType(shp.POLYLINE), typ)

	_, err = ShapeTypeOf(geom.NewGeometryCollection())
	assert.ErrorIs(t, err, ErrUnsupportedShape)
	assert.Equal(t, "PolygonZ", ShapeTypeName(shp.POLYGONZ))
}
