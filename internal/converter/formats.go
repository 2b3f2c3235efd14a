package converter

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/config"
	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/csvparser"
	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/shapefile"
	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/types"
	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/xlsxparser"
	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/xmlwriter"
)

// ErrUnsupportedFormat is returned for file extensions no reader or writer
// handles.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// =============================================================================
// FORMATS
// =============================================================================

// Format identifies a dataset encoding by its file extension.
type Format string

const (
	FormatShapefile Format = "shp"
	FormatZip       Format = "zip"
	FormatCSV       Format = "csv"
	FormatTSV       Format = "tsv"
	FormatXLSX      Format = "xlsx"
	FormatKML       Format = "kml"
	FormatKMZ       Format = "kmz"
)

// Label is the upper-case name used in banners, e.g. "SHP".
// A zipped shapefile is labelled SHP.
func (f Format) Label() string {
	if f == FormatZip {
		return "SHP"
	}
	return strings.ToUpper(string(f))
}

// CanRead reports whether a Source exists for the format.
func (f Format) CanRead() bool {
	switch f {
	case FormatShapefile, FormatZip, FormatCSV, FormatTSV, FormatXLSX:
		return true
	}
	return false
}

// CanWrite reports whether a Sink exists for the format.
func (f Format) CanWrite() bool {
	switch f {
	case FormatShapefile, FormatCSV, FormatTSV, FormatXLSX, FormatKML, FormatKMZ:
		return true
	}
	return false
}

// DetectFormat maps a path's extension to a Format. Matching is
// case-insensitive.
func DetectFormat(path string) (Format, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch f := Format(ext); f {
	case FormatShapefile, FormatZip, FormatCSV, FormatTSV, FormatXLSX, FormatKML, FormatKMZ:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// Title builds a banner title such as "SHP to KML and CSV conversion...".
func Title(input Format, outputs []Format) string {
	labels := make([]string, len(outputs))
	for i, f := range outputs {
		labels[i] = f.Label()
	}

	var targets string
	switch n := len(labels); n {
	case 0:
		targets = "nothing"
	case 1:
		targets = labels[0]
	default:
		targets = strings.Join(labels[:n-1], ", ") + " and " + labels[n-1]
	}

	return input.Label() + " to " + targets + " conversion..."
}

// =============================================================================
// FACTORY
// =============================================================================

// Source is a stream of features read from a dataset.
type Source interface {
	Schema() *types.Schema
	Next() bool
	Feature() *types.Feature
	Err() error
	Skipped() int
	Close() error
}

// blankCounter is implemented by table sources, which pass over rows whose
// cells are all blank.
type blankCounter interface {
	BlankRows() int
}

// Sink receives features and writes them to a dataset. Accept checks that
// a feature can be stored without writing anything; the converter only
// writes a feature once every sink has accepted it.
type Sink interface {
	Accept(f *types.Feature) error
	Write(f *types.Feature) error
	Close() error
}

// tableSettings returns the CSV settings for a table format. TSV files are
// always tab separated.
func tableSettings(f Format, s config.CSVSettings) config.CSVSettings {
	if f == FormatTSV {
		s.Delimiter = "tab"
	}
	return s
}

// OpenSource opens the reader matching the path's extension.
//
// PARAMETERS:
//   - path: The input dataset.
//   - cfg: The application configuration.
//   - logger: Logger handed to the reader.
//
// RETURNS:
//   - The Source and its detected Format.
//   - An error if the format cannot be read or the file cannot be opened.
func OpenSource(path string, cfg *config.Config, logger *zap.Logger) (Source, Format, error) {
	f, err := DetectFormat(path)
	if err != nil {
		return nil, "", err
	}
	if !f.CanRead() {
		return nil, f, fmt.Errorf("%w: cannot read %s files", ErrUnsupportedFormat, f.Label())
	}

	var src Source
	switch f {
	case FormatShapefile, FormatZip:
		src, err = shapefile.Open(path, cfg.Shapefile, cfg.ContinueOnError, logger)
	case FormatCSV, FormatTSV:
		src, err = csvparser.NewStreamingParser(path, tableSettings(f, cfg.CSV), cfg.ContinueOnError, logger)
	case FormatXLSX:
		src, err = xlsxparser.Open(path, cfg.CSV, cfg.ContinueOnError, logger)
	}
	if err != nil {
		return nil, f, err
	}
	return src, f, nil
}

// OpenSink creates the writer matching the path's extension.
func OpenSink(path string, schema *types.Schema, cfg *config.Config, logger *zap.Logger) (Sink, Format, error) {
	f, err := DetectFormat(path)
	if err != nil {
		return nil, "", err
	}
	if !f.CanWrite() {
		return nil, f, fmt.Errorf("%w: cannot write %s files", ErrUnsupportedFormat, f.Label())
	}

	var sink Sink
	switch f {
	case FormatShapefile:
		sink, err = shapefile.Create(path, schema, cfg.Shapefile, logger)
	case FormatCSV, FormatTSV:
		sink, err = csvparser.NewWriter(path, schema, tableSettings(f, cfg.CSV))
	case FormatXLSX:
		sink, err = xlsxparser.NewWriter(path, schema, cfg.CSV)
	case FormatKML, FormatKMZ:
		sink, err = xmlwriter.NewKMLWriter(path, schema, xmlwriter.OptionsFromSettings(cfg.KML))
	}
	if err != nil {
		return nil, f, err
	}
	return sink, f, nil
}
