package validation

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap/zaptest"

	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/config"
	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/shapefile"
	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/types"
)

func newValidator(t *testing.T) *Validator {
	return NewValidator(DefaultValidationOptions(), zaptest.NewLogger(t))
}

func writeWells(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "wells.shp")
	schema := types.StringSchema("wells", []string{"Name"})
	w, err := shapefile.Create(path, schema, config.Default().Shapefile, zaptest.NewLogger(t))
	require.NoError(t, err)
	for i, name := range []string{"alpha", "beta"} {
		require.NoError(t, w.Write(&types.Feature{
			Index:      i,
			Attributes: []string{name},
			Geometry:   geom.NewPointFlat(geom.XY, []float64{float64(i), float64(i) + 0.5}),
		}))
	}
	require.NoError(t, w.Close())
	return path
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func messages(errs []*ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Error()
	}
	return out
}

func TestValidateShapefile_Valid(t *testing.T) {
	path := writeWells(t, t.TempDir())

	result, err := newValidator(t).Validate(path)
	require.NoError(t, err)

	assert.True(t, result.IsValid, messages(result.Errors))
	assert.Equal(t, 0, result.ErrorCount)
	assert.Equal(t, 1, result.WarningCount)
	assert.Equal(t, ".prj", result.Errors[0].Field)
	assert.Equal(t, 2, result.RecordsChecked)
	assert.Equal(t, "Point", result.GeometryType)
	require.NotNil(t, result.BBox)
	assert.Equal(t, 1.5, result.BBox.MaxY)
}

func TestValidateShapefile_ProjectedCRS(t *testing.T) {
	dir := t.TempDir()
	path := writeWells(t, dir)
	writeFile(t, dir, "wells.prj", `PROJCS["NAD_1983_UTM_Zone_14N",GEOGCS["GCS_North_American_1983"]]`)

	result, err := newValidator(t).Validate(path)
	require.NoError(t, err)
	assert.True(t, result.IsValid)
	require.Equal(t, 1, result.WarningCount)
	assert.Contains(t, result.Errors[0].Message, "projected coordinate system")
}

func TestValidateShapefile_MissingSidecars(t *testing.T) {
	dir := t.TempDir()
	path := writeWells(t, dir)
	require.NoError(t, os.Remove(filepath.Join(dir, "wells.dbf")))
	require.NoError(t, os.Remove(filepath.Join(dir, "wells.shx")))
	require.NoError(t, os.Remove(filepath.Join(dir, "wells.cpg")))

	result, err := newValidator(t).Validate(path)
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Equal(t, 2, result.ErrorCount)
	assert.Equal(t, 2, result.WarningCount)

	log := FormatErrors(result.Errors)
	assert.Contains(t, log, "[ERROR] wells.shp, field '.shx': missing shape index")
	assert.Contains(t, log, "[ERROR] wells.shp, field '.dbf': missing attribute table")
	assert.Contains(t, log, "[WARNING] wells.shp, field '.cpg'")
}

func TestValidateShapefile_UpperCaseNames(t *testing.T) {
	dir := t.TempDir()
	writeWells(t, dir)
	for _, ext := range []string{".shp", ".shx", ".dbf", ".cpg"} {
		require.NoError(t, os.Rename(filepath.Join(dir, "wells"+ext), filepath.Join(dir, "WELLS"+strings.ToUpper(ext))))
	}

	result, err := newValidator(t).Validate(filepath.Join(dir, "WELLS.SHP"))
	require.NoError(t, err)
	assert.True(t, result.IsValid, messages(result.Errors))
	assert.Equal(t, 0, result.ErrorCount)
	assert.Equal(t, 2, result.RecordsChecked)
	assert.Equal(t, "Point", result.GeometryType)
}

func TestValidateShapefile_Zipped(t *testing.T) {
	dir := t.TempDir()
	writeWells(t, dir)
	writeFile(t, dir, "wells.prj", `PROJCS["NAD_1983_UTM_Zone_14N",GEOGCS["GCS_North_American_1983"]]`)

	zipPath := filepath.Join(dir, "wells.zip")
	out, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(out)
	for _, ext := range []string{".shp", ".shx", ".dbf", ".cpg", ".prj"} {
		data, err := os.ReadFile(filepath.Join(dir, "wells"+ext))
		require.NoError(t, err)
		entry, err := zw.Create("Wells/WELLS" + strings.ToUpper(ext))
		require.NoError(t, err)
		_, err = entry.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())

	result, err := newValidator(t).Validate(zipPath)
	require.NoError(t, err)
	assert.True(t, result.IsValid, messages(result.Errors))
	assert.Equal(t, 2, result.RecordsChecked)
	require.Equal(t, 1, result.WarningCount)
	assert.Contains(t, FormatErrors(result.Errors), "[WARNING] wells.zip, field '.prj': projected coordinate system")
}

func TestValidateShapefile_Missing(t *testing.T) {
	result, err := newValidator(t).Validate(filepath.Join(t.TempDir(), "nothing.shp"))
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Contains(t, result.Errors[0].Message, "cannot open shapefile")
}

func TestValidateTable_CSV(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sites.csv", "Name,Description,geom\n"+
		"A,first,\"<Point><coordinates>1,2</coordinates></Point>\"\n"+
		"B,second,<Point><coordinates>oops</coordinates></Point>\n"+
		"C,,\n"+
		"\n"+
		"D,fourth,POINT (3 4),extra\n")

	result, err := newValidator(t).Validate(path)
	require.NoError(t, err)

	assert.False(t, result.IsValid)
	assert.Equal(t, 4, result.RecordsChecked)
	assert.Equal(t, 1, result.NullGeometries)
	assert.Equal(t, 1, result.ErrorCount)
	assert.Equal(t, "geom", result.GeometryType)

	var invalid *ValidationError
	for _, e := range result.Errors {
		if e.Severity == SeverityError {
			invalid = e
		}
	}
	require.NotNil(t, invalid)
	assert.Equal(t, 3, invalid.Record)
	assert.Equal(t, "geom", invalid.Field)
	assert.Contains(t, invalid.Message, "invalid geometry")

	log := FormatErrors(result.Errors)
	assert.Contains(t, log, `no "kmlgeometry" column`)
	assert.Contains(t, log, "Description")
	assert.Contains(t, log, "1 row(s) have no geometry")
	assert.Contains(t, log, "row has 4 cells but the header has 3")
}

func TestValidateTable_TSV(t *testing.T) {
	path := writeFile(t, t.TempDir(), "sites.tsv", "Name\tkmlgeometry\nA\tPOINT (1 2)\n")

	result, err := newValidator(t).Validate(path)
	require.NoError(t, err)
	assert.True(t, result.IsValid, messages(result.Errors))
	assert.Equal(t, 0, result.WarningCount)
	assert.Equal(t, 1, result.RecordsChecked)
}

func TestValidateTable_Empty(t *testing.T) {
	path := writeFile(t, t.TempDir(), "empty.csv", "\n\n")

	result, err := newValidator(t).Validate(path)
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Equal(t, "table is empty", result.Errors[0].Message)
}

func TestValidateTable_MaxErrors(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.csv", "Name,kmlgeometry\n"+
		"A,<Point/>\n"+
		"B,<Point/>\n"+
		"C,<Point/>\n")

	opts := DefaultValidationOptions()
	opts.MaxErrors = 1
	result, err := NewValidator(opts, nil).Validate(path)
	require.NoError(t, err)

	assert.Equal(t, 3, result.ErrorCount)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, "2 more error(s) not shown", result.Errors[1].Message)
}

func TestValidateTable_XLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.xlsx")
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]interface{}{"Name", "kmlgeometry"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]interface{}{"A", "<Point><coordinates>1,2</coordinates></Point>"}))
	require.NoError(t, f.SetSheetRow(sheet, "A3", &[]interface{}{"B", "not a geometry"}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	result, err := newValidator(t).Validate(path)
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Equal(t, 2, result.RecordsChecked)
	assert.Equal(t, 1, result.ErrorCount)
}

func TestValidate_TreatWarningsAsErrors(t *testing.T) {
	path := writeWells(t, t.TempDir())
	opts := DefaultValidationOptions()
	opts.TreatWarningsAsErrors = true

	result, err := NewValidator(opts, nil).Validate(path)
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Equal(t, 0, result.ErrorCount)
}

func TestValidate_UnsupportedExtension(t *testing.T) {
	_, err := newValidator(t).Validate("doc.kml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot validate .kml files")
}

func TestValidationError_Error(t *testing.T) {
	e := &ValidationError{
		Severity: SeverityError,
		Path:     "/data/wells.csv",
		Record:   7,
		Field:    "kmlgeometry",
		Value:    strings.Repeat("x", 70),
		Message:  "invalid geometry",
	}
	assert.Equal(t,
		"[ERROR] wells.csv, record 7, field 'kmlgeometry': invalid geometry (value: '"+strings.Repeat("x", 60)+"...')",
		e.Error())
}

func TestFormatErrors_Empty(t *testing.T) {
	assert.Equal(t, "No validation errors.", FormatErrors(nil))
}

func TestWriteErrorLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "validation.log")
	errs := []*ValidationError{
		{Severity: SeverityWarning, Path: "a.shp", Field: ".prj", Message: "no projection file"},
	}
	require.NoError(t, WriteErrorLog(errs, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "Validation log written "))
	assert.Contains(t, string(data), "1. [WARNING] a.shp, field '.prj': no projection file")
}
