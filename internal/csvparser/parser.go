// =============================================================================
// SHP/CSV/KML Converter - CSV Parser Module
// =============================================================================
//
// This module reads and writes the flattened CSV layout: one column per
// attribute followed by a geometry column holding an encoded geometry.
//
// Example:
//   Name,Description,kmlgeometry
//   Depot,Main depot,<Point><coordinates>-77.03,38.89</coordinates></Point>
//
// FEATURES:
//   - Streaming, one row at a time, for large files
//   - Configurable delimiter (comma, tab, pipe, semicolon)
//   - The geometry column is found by name, or is the last column
//   - Geometry cells may be KML/GML, WKT or GeoJSON
//
// =============================================================================

package csvparser

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/config"
	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/geometry"
	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/types"
)

// =============================================================================
// STREAMING PARSER
// =============================================================================

// StreamingParser reads features from a flattened CSV file one row at a
// time.
//
// USAGE:
//
//	parser, err := NewStreamingParser(filePath, cfg.CSV, false, logger)
//	if err != nil {
//	    return err
//	}
//	defer parser.Close()
//
//	for parser.Next() {
//	    feature := parser.Feature()
//	    // Process the feature...
//	}
//
//	if err := parser.Err(); err != nil {
//	    return err
//	}
type StreamingParser struct {
	path        string
	file        *os.File
	reader      *csv.Reader
	headers     []string
	schema      *types.Schema
	geomIndex   int
	skipInvalid bool
	logger      *zap.Logger

	current   types.Feature
	rowNumber int
	index     int
	skipped   int
	blank     int
	err       error
}

// NewStreamingParser opens a CSV file and reads its header row.
//
// PARAMETERS:
//   - filePath: The path to the CSV file.
//   - settings: Delimiter and geometry column settings.
//   - skipInvalid: Skip rows whose geometry cannot be parsed instead of
//     failing.
//   - logger: Receives warnings for skipped rows. May be nil.
//
// RETURNS:
//   - A pointer to the StreamingParser.
//   - An error if the file cannot be opened or has no header row.
func NewStreamingParser(filePath string, settings config.CSVSettings, skipInvalid bool, logger *zap.Logger) (*StreamingParser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	reader := csv.NewReader(bufio.NewReader(file))
	if err := configureReader(reader, settings); err != nil {
		file.Close()
		return nil, err
	}

	parser := &StreamingParser{
		path:        filePath,
		file:        file,
		reader:      reader,
		skipInvalid: skipInvalid,
		logger:      logger,
	}

	if err := parser.readHeaders(settings.GeometryColumn); err != nil {
		file.Close()
		return nil, err
	}

	return parser, nil
}

// configureReader configures the CSV reader based on the settings.
func configureReader(reader *csv.Reader, settings config.CSVSettings) error {
	comma, err := settings.DelimiterRune()
	if err != nil {
		return err
	}
	reader.Comma = comma

	// Allow a variable number of fields per row; short rows are padded.
	reader.FieldsPerRecord = -1

	// Allow quotes that don't follow strict CSV rules.
	reader.LazyQuotes = true

	// Values are kept verbatim, leading spaces included.
	reader.TrimLeadingSpace = false

	reader.ReuseRecord = false
	return nil
}

// readHeaders reads the header row and locates the geometry column.
func (p *StreamingParser) readHeaders(geometryColumn string) error {
	row, err := p.reader.Read()
	if err == io.EOF {
		return fmt.Errorf("CSV file is empty")
	}
	if err != nil {
		return fmt.Errorf("error reading header row: %w", err)
	}
	p.rowNumber++

	var names []string
	p.headers, names, p.geomIndex = ResolveHeaders(row, geometryColumn)

	layer := strings.TrimSuffix(filepath.Base(p.path), filepath.Ext(p.path))
	p.schema = types.StringSchema(layer, names)
	return nil
}

// ResolveHeaders cleans a header row and locates the geometry column: the
// column named geometryColumn (case-insensitive) when present, otherwise the
// last column.
//
// RETURNS:
//   - headers: Every cleaned header, geometry column included.
//   - names: The attribute headers, geometry column excluded.
//   - geomIndex: The position of the geometry column in headers.
func ResolveHeaders(row []string, geometryColumn string) (headers, names []string, geomIndex int) {
	if len(row) > 0 {
		row[0] = strings.TrimPrefix(row[0], "\ufeff")
	}
	headers = cleanHeaders(row)

	geomIndex = len(headers) - 1
	for i, h := range headers {
		if strings.EqualFold(h, geometryColumn) {
			geomIndex = i
			break
		}
	}

	names = make([]string, 0, len(headers))
	for i, h := range headers {
		if i != geomIndex {
			names = append(names, h)
		}
	}
	return headers, names, geomIndex
}

// SplitRow separates a data row into its attribute values and geometry
// cell. Missing trailing cells read as empty.
func SplitRow(row []string, width, geomIndex int) (attrs []string, cell string) {
	attrs = make([]string, 0, width)
	for i := 0; i <= width; i++ {
		var v string
		if i < len(row) {
			v = row[i]
		}
		if i == geomIndex {
			cell = v
			continue
		}
		attrs = append(attrs, v)
	}
	return attrs, cell
}

// cleanHeaders trims header values and names empty headers by position.
func cleanHeaders(headers []string) []string {
	cleaned := make([]string, len(headers))
	for i, header := range headers {
		header = strings.TrimSpace(header)
		if header == "" {
			header = fmt.Sprintf("Column_%d", i+1)
		}
		cleaned[i] = header
	}
	return cleaned
}

// Next advances to the next feature. Returns false when there are no more
// rows or an error occurred.
func (p *StreamingParser) Next() bool {
	if p.err != nil {
		return false
	}

	for {
		row, err := p.reader.Read()
		if err == io.EOF {
			return false
		}
		if err != nil {
			p.err = fmt.Errorf("error reading row %d: %w", p.rowNumber+1, err)
			return false
		}
		p.rowNumber++

		if isRowEmpty(row) {
			p.blank++
			p.logger.Debug("Skipping blank row", zap.String("path", p.path), zap.Int("row", p.rowNumber))
			continue
		}

		index := p.index
		p.index++

		attrs, cell := SplitRow(row, len(p.schema.Fields), p.geomIndex)
		g, err := geometry.Unmarshal(cell)
		if err != nil {
			err = fmt.Errorf("%w: row %d: %w", types.ErrInvalidGeometry, p.rowNumber, err)
			if p.skipInvalid {
				p.skipped++
				p.logger.Warn("Skipping row", zap.String("path", p.path), zap.Error(err))
				continue
			}
			p.err = err
			return false
		}

		p.current = types.Feature{Index: index, Attributes: attrs, Geometry: g}
		return true
	}
}

// isRowEmpty checks if a row contains only empty values.
func isRowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// Schema returns the attribute columns, excluding the geometry column.
func (p *StreamingParser) Schema() *types.Schema {
	return p.schema
}

// Feature returns the current feature.
func (p *StreamingParser) Feature() *types.Feature {
	return &p.current
}

// Headers returns every header, including the geometry column.
func (p *StreamingParser) Headers() []string {
	return p.headers
}

// GeometryColumn returns the header of the column read as geometry.
func (p *StreamingParser) GeometryColumn() string {
	return p.headers[p.geomIndex]
}

// RowNumber returns the current row number (1-indexed, header included).
func (p *StreamingParser) RowNumber() int {
	return p.rowNumber
}

// Skipped returns the number of rows dropped for invalid geometry.
func (p *StreamingParser) Skipped() int {
	return p.skipped
}

// BlankRows returns the number of rows passed over because every cell was
// blank.
func (p *StreamingParser) BlankRows() int {
	return p.blank
}

// Err returns any error that occurred during parsing.
func (p *StreamingParser) Err() error {
	return p.err
}

// Close closes the underlying file.
func (p *StreamingParser) Close() error {
	return p.file.Close()
}
