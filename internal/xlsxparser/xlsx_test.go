package xlsxparser

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap/zaptest"

	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/config"
	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/types"
)

func TestWriteThenRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wells.xlsx")
	settings := config.Default().CSV
	schema := types.StringSchema("wells", []string{"Name", "Depth"})

	w, err := NewWriter(path, schema, settings)
	require.NoError(t, err)
	require.NoError(t, w.Write(&types.Feature{
		Attributes: []string{"W-1", "0042"},
		Geometry:   geom.NewPointFlat(geom.XY, []float64{10, 20}),
	}))
	require.NoError(t, w.Write(&types.Feature{Index: 1, Attributes: []string{"W-2", ""}}))
	assert.Equal(t, 2, w.Count())
	require.NoError(t, w.Close())

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	assert.Equal(t, "wells", f.GetSheetName(0))
	header, err := f.GetCellValue("wells", "C1")
	require.NoError(t, err)
	assert.Equal(t, "kmlgeometry", header)
	require.NoError(t, f.Close())

	r, err := Open(path, settings, false, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []string{"Name", "Depth"}, r.Schema().Names())
	assert.Equal(t, "kmlgeometry", r.GeometryColumn())

	var features []types.Feature
	for r.Next() {
		features = append(features, *r.Feature())
	}
	require.NoError(t, r.Err())
	require.Len(t, features, 2)

	assert.Equal(t, []string{"W-1", "0042"}, features[0].Attributes)
	assert.Equal(t, []float64{10, 20}, features[0].Geometry.FlatCoords())
	assert.Equal(t, []string{"W-2", ""}, features[1].Attributes)
	assert.Nil(t, features[1].Geometry)
}

func TestOpen_SkipsInvalidGeometry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mixed.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"Name", "geom"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{"bad", "POINT (x y)"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A4", &[]interface{}{"good", "POINT (1 2)"}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	r, err := Open(path, config.Default().CSV, false, nil)
	require.NoError(t, err)
	assert.False(t, r.Next())
	assert.True(t, errors.Is(r.Err(), types.ErrInvalidGeometry))
	require.NoError(t, r.Close())

	r, err = Open(path, config.Default().CSV, true, nil)
	require.NoError(t, err)
	defer r.Close()

	require.True(t, r.Next())
	assert.Equal(t, []string{"good"}, r.Feature().Attributes)
	assert.Equal(t, 1, r.Feature().Index)
	assert.False(t, r.Next())
	require.NoError(t, r.Err())
	assert.Equal(t, 1, r.Skipped())
}

func TestOpen_CountsBlankRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gaps.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"Name", "geom"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{"first", "POINT (1 2)"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]interface{}{"  ", " "}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A4", &[]interface{}{"second", "POINT (3 4)"}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	r, err := Open(path, config.Default().CSV, false, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer r.Close()

	var names []string
	for r.Next() {
		names = append(names, r.Feature().Attributes[0])
	}
	require.NoError(t, r.Err())
	assert.Equal(t, []string{"first", "second"}, names)
	assert.Equal(t, 1, r.BlankRows())
	assert.Equal(t, 0, r.Skipped())
}

func TestOpen_EmptyWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	_, err := Open(path, config.Default().CSV, false, nil)
	assert.ErrorContains(t, err, "empty")
}

func TestWrite_GeometryTooLarge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.xlsx")
	settings := config.Default().CSV
	settings.GeometryFormat = "wkt"

	w, err := NewWriter(path, types.StringSchema("big", nil), settings)
	require.NoError(t, err)

	flat := make([]float64, 0, 20000)
	for i := 0; i < 10000; i++ {
		flat = append(flat, float64(i)+0.123456, float64(i)+0.654321)
	}
	err = w.Write(&types.Feature{Geometry: geom.NewLineStringFlat(geom.XY, flat)})
	assert.True(t, errors.Is(err, types.ErrInvalidGeometry))
	require.NoError(t, w.Close())
}

func TestSheetName(t *testing.T) {
	assert.Equal(t, "roads", SheetName("roads"))
	assert.Equal(t, "a_b_c", SheetName("a/b:c"))
	assert.Equal(t, "Sheet1", SheetName(""))
	assert.Equal(t, strings.Repeat("x", 31), SheetName(strings.Repeat("x", 40)))
}
