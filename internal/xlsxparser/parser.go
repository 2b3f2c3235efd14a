// =============================================================================
// SHP/CSV/KML Converter - XLSX Table Module
// =============================================================================
//
// This module reads and writes the flattened table as an XLSX workbook. The
// layout is the same as the CSV one:
//
//   | Column A | Column B    | ... | Last column (kmlgeometry)                 |
//   |----------|-------------|-----|-------------------------------------------|
//   | Name     | Description | ... | kmlgeometry                               |
//   | Depot    | Main depot  | ... | <Point><coordinates>1,2</coordinates>...  |
//
// Only the first worksheet is read. Written workbooks hold one worksheet
// named after the layer.
//
// =============================================================================

package xlsxparser

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/config"
	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/csvparser"
	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/geometry"
	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/types"
)

// =============================================================================
// WORKBOOK READER
// =============================================================================

// Reader streams features from the first worksheet of a workbook.
type Reader struct {
	path        string
	file        *excelize.File
	rows        *excelize.Rows
	sheet       string
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

// Open opens a workbook and reads the header row of its first sheet.
//
// PARAMETERS:
//   - path: The path to the XLSX file.
//   - settings: Geometry column settings. The delimiter is not used.
//   - skipInvalid: Skip rows whose geometry cannot be parsed.
//   - logger: Receives warnings for skipped rows. May be nil.
//
// RETURNS:
//   - A pointer to the Reader.
//   - An error if the workbook cannot be opened or has no header row.
func Open(path string, settings config.CSVSettings, skipInvalid bool, logger *zap.Logger) (*Reader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}

	sheet := f.GetSheetName(0)
	if sheet == "" {
		f.Close()
		return nil, fmt.Errorf("workbook has no sheets")
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	r := &Reader{
		path:        path,
		file:        f,
		rows:        rows,
		sheet:       sheet,
		skipInvalid: skipInvalid,
		logger:      logger,
	}

	if err := r.readHeaders(settings.GeometryColumn); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// readHeaders uses the first non-empty row as the header row.
func (r *Reader) readHeaders(geometryColumn string) error {
	for r.rows.Next() {
		r.rowNumber++
		row, err := r.rows.Columns()
		if err != nil {
			return fmt.Errorf("error reading header row: %w", err)
		}
		if isRowEmpty(row) {
			continue
		}

		var names []string
		r.headers, names, r.geomIndex = csvparser.ResolveHeaders(row, geometryColumn)
		layer := strings.TrimSuffix(filepath.Base(r.path), filepath.Ext(r.path))
		r.schema = types.StringSchema(layer, names)
		return nil
	}
	if err := r.rows.Error(); err != nil {
		return fmt.Errorf("error reading header row: %w", err)
	}
	return fmt.Errorf("sheet %s is empty", r.sheet)
}

// Next advances to the next feature.
func (r *Reader) Next() bool {
	if r.err != nil {
		return false
	}

	for r.rows.Next() {
		r.rowNumber++
		row, err := r.rows.Columns()
		if err != nil {
			r.err = fmt.Errorf("error reading row %d: %w", r.rowNumber, err)
			return false
		}
		if isRowEmpty(row) {
			r.blank++
			r.logger.Debug("Skipping blank row", zap.String("path", r.path), zap.Int("row", r.rowNumber))
			continue
		}

		index := r.index
		r.index++

		attrs, cell := csvparser.SplitRow(row, len(r.schema.Fields), r.geomIndex)
		g, err := geometry.Unmarshal(cell)
		if err != nil {
			err = fmt.Errorf("%w: row %d: %w", types.ErrInvalidGeometry, r.rowNumber, err)
			if r.skipInvalid {
				r.skipped++
				r.logger.Warn("Skipping row", zap.String("path", r.path), zap.Error(err))
				continue
			}
			r.err = err
			return false
		}

		r.current = types.Feature{Index: index, Attributes: attrs, Geometry: g}
		return true
	}

	if err := r.rows.Error(); err != nil {
		r.err = fmt.Errorf("failed to read %s: %w", r.path, err)
	}
	return false
}

// Schema returns the attribute columns, excluding the geometry column.
func (r *Reader) Schema() *types.Schema {
	return r.schema
}

// Headers returns every header, including the geometry column.
func (r *Reader) Headers() []string {
	return r.headers
}

// GeometryColumn returns the header of the column read as geometry.
func (r *Reader) GeometryColumn() string {
	return r.headers[r.geomIndex]
}

// RowNumber returns the current worksheet row (1-indexed).
func (r *Reader) RowNumber() int {
	return r.rowNumber
}

// Feature returns the current feature.
func (r *Reader) Feature() *types.Feature {
	return &r.current
}

// Skipped returns the number of rows dropped for invalid geometry.
func (r *Reader) Skipped() int {
	return r.skipped
}

// BlankRows returns the number of rows passed over because every cell was
// blank.
func (r *Reader) BlankRows() int {
	return r.blank
}

// Err returns any error that occurred while reading.
func (r *Reader) Err() error {
	return r.err
}

// Close releases the workbook.
func (r *Reader) Close() error {
	var rowsErr error
	if r.rows != nil {
		rowsErr = r.rows.Close()
	}
	if err := r.file.Close(); err != nil {
		return err
	}
	return rowsErr
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
