package converter

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/config"
	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/types"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path string
		want Format
	}{
		{"wells.shp", FormatShapefile},
		{"WELLS.SHP", FormatShapefile},
		{"wells.zip", FormatZip},
		{"/data/wells.csv", FormatCSV},
		{"wells.tsv", FormatTSV},
		{"wells.xlsx", FormatXLSX},
		{"wells.kml", FormatKML},
		{"wells.KMZ", FormatKMZ},
	}
	for _, tt := range tests {
		got, err := DetectFormat(tt.path)
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}

	_, err := DetectFormat("wells.gpkg")
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
	_, err = DetectFormat("wells")
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestFormatCapabilities(t *testing.T) {
	assert.True(t, FormatZip.CanRead())
	assert.False(t, FormatZip.CanWrite())
	assert.False(t, FormatKML.CanRead())
	assert.True(t, FormatKMZ.CanWrite())
	assert.True(t, FormatShapefile.CanRead())
	assert.True(t, FormatShapefile.CanWrite())
	assert.Equal(t, "SHP", FormatZip.Label())
	assert.Equal(t, "XLSX", FormatXLSX.Label())
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "SHP to CSV conversion...", Title(FormatShapefile, []Format{FormatCSV}))
	assert.Equal(t, "CSV to KML conversion...", Title(FormatCSV, []Format{FormatKML}))
	assert.Equal(t, "SHP to KML and CSV conversion...", Title(FormatShapefile, []Format{FormatKML, FormatCSV}))
	assert.Equal(t, "SHP to KML, CSV and XLSX conversion...", Title(FormatZip, []Format{FormatKML, FormatCSV, FormatXLSX}))
}

func TestOpenSource_RejectsWriteOnlyFormats(t *testing.T) {
	_, f, err := OpenSource(filepath.Join(t.TempDir(), "doc.kml"), config.Default(), zaptest.NewLogger(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.Equal(t, FormatKML, f)
}

func TestOpenSink_TSVUsesTabs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.tsv")
	schema := types.StringSchema("out", []string{"a", "b"})

	sink, f, err := OpenSink(path, schema, config.Default(), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, FormatTSV, f)
	require.NoError(t, sink.Write(&types.Feature{Attributes: []string{"1", "2"}}))
	require.NoError(t, sink.Close())

	assert.Equal(t, "a\tb\tkmlgeometry\n1\t2\t\n", readFile(t, path))
}

func TestProgress(t *testing.T) {
	var out bytes.Buffer
	p := NewProgress(&out, 0)
	p.Start("SHP to CSV conversion...")
	for rows := 1; rows <= 2500; rows++ {
		p.Row(rows)
	}
	p.Finish(2500)

	want := "\n" +
		"========================\n" +
		"SHP to CSV conversion...\n" +
		"------------------------\n" +
		"Rows: 1,000\n" +
		"Rows: 2,000\n" +
		"------------\n" +
		"Rows: 2,500\n" +
		"\n"
	assert.Equal(t, want, out.String())
}

func TestProgress_NilWriter(t *testing.T) {
	p := NewProgress(nil, 10)
	assert.NotPanics(t, func() {
		p.Start("x")
		p.Row(10)
		p.Finish(10)
	})
}
