package xlsxparser

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/config"
	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/geometry"
	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/types"
)

// maxSheetName is the longest worksheet name Excel accepts.
const maxSheetName = 31

// =============================================================================
// WORKBOOK WRITER
// =============================================================================

// Writer streams features into a new workbook.
type Writer struct {
	path   string
	file   *excelize.File
	stream *excelize.StreamWriter
	sheet  string
	format geometry.Format
	row    int
	values []interface{}
	count  int
	cell   types.Prepared[string]
}

// NewWriter creates a workbook with one worksheet, named after the output
// file, and writes the header row.
func NewWriter(path string, schema *types.Schema, settings config.CSVSettings) (*Writer, error) {
	format, err := geometry.ParseFormat(settings.GeometryFormat)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	sheet := SheetName(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to name worksheet: %w", err)
	}

	stream, err := f.NewStreamWriter(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create worksheet writer: %w", err)
	}

	w := &Writer{
		path:   path,
		file:   f,
		stream: stream,
		sheet:  sheet,
		format: format,
		values: make([]interface{}, len(schema.Fields)+1),
	}

	header := make([]interface{}, 0, len(schema.Fields)+1)
	for _, name := range schema.Names() {
		header = append(header, name)
	}
	header = append(header, settings.GeometryColumn)
	if err := w.setRow(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	return w, nil
}

// SheetName makes a layer name usable as a worksheet name.
func SheetName(layer string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '[', ']', ':', '*', '?', '/', '\\':
			return '_'
		}
		return r
	}, layer)
	name = strings.Trim(name, "'")
	if utf8.RuneCountInString(name) > maxSheetName {
		name = string([]rune(name)[:maxSheetName])
	}
	if name == "" {
		name = "Sheet1"
	}
	return name
}

func (w *Writer) setRow(values []interface{}) error {
	w.row++
	cell, err := excelize.CoordinatesToCellName(1, w.row)
	if err != nil {
		return err
	}
	return w.stream.SetRow(cell, values)
}

// Accept encodes the geometry cell of f without writing the row.
//
// RETURNS:
//   - An error wrapping types.ErrInvalidGeometry when the encoded geometry
//     does not fit in a single cell.
func (w *Writer) Accept(f *types.Feature) error {
	cell, err := geometry.Marshal(f.Geometry, w.format)
	if err != nil {
		return fmt.Errorf("%w: record %d: %w", types.ErrInvalidGeometry, f.Index, err)
	}
	if utf8.RuneCountInString(cell) > excelize.TotalCellChars {
		return fmt.Errorf("%w: record %d: encoded geometry exceeds %d characters",
			types.ErrInvalidGeometry, f.Index, excelize.TotalCellChars)
	}
	w.cell.Store(f, cell)
	return nil
}

// Write appends one feature as a worksheet row.
func (w *Writer) Write(f *types.Feature) error {
	cell, ok := w.cell.Take(f)
	if !ok {
		if err := w.Accept(f); err != nil {
			return err
		}
		cell, _ = w.cell.Take(f)
	}

	last := len(w.values) - 1
	for i := 0; i < last; i++ {
		w.values[i] = f.Value(i)
	}
	w.values[last] = cell

	if err := w.setRow(w.values); err != nil {
		return fmt.Errorf("failed to write row %d: %w", w.row, err)
	}
	w.count++
	return nil
}

// Count returns the number of rows written, header excluded.
func (w *Writer) Count() int {
	return w.count
}

// Close flushes the worksheet and saves the workbook.
func (w *Writer) Close() error {
	if err := w.stream.Flush(); err != nil {
		return errors.Join(fmt.Errorf("failed to flush worksheet: %w", err), w.file.Close())
	}
	if err := w.file.SaveAs(w.path); err != nil {
		return errors.Join(fmt.Errorf("failed to save workbook: %w", err), w.file.Close())
	}
	return w.file.Close()
}
