package csvparser

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"os"

	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/config"
	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/geometry"
	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/types"
)

// =============================================================================
// CSV WRITER
// =============================================================================

// Writer writes features as flattened CSV rows.
type Writer struct {
	file   *os.File
	buf    *bufio.Writer
	csv    *csv.Writer
	format geometry.Format
	record []string
	count  int
	cell   types.Prepared[string]
}

// NewWriter creates the CSV file and writes the header row: the schema's
// field names followed by the geometry column.
func NewWriter(path string, schema *types.Schema, settings config.CSVSettings) (*Writer, error) {
	comma, err := settings.DelimiterRune()
	if err != nil {
		return nil, err
	}
	format, err := geometry.ParseFormat(settings.GeometryFormat)
	if err != nil {
		return nil, err
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	buf := bufio.NewWriter(file)
	w := &Writer{
		file:   file,
		buf:    buf,
		csv:    csv.NewWriter(buf),
		format: format,
		record: make([]string, len(schema.Fields)+1),
	}
	w.csv.Comma = comma

	header := append(schema.Names(), settings.GeometryColumn)
	if err := w.csv.Write(header); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	return w, nil
}

// Accept encodes the geometry cell of f without writing the row.
func (w *Writer) Accept(f *types.Feature) error {
	cell, err := geometry.Marshal(f.Geometry, w.format)
	if err != nil {
		return fmt.Errorf("%w: record %d: %w", types.ErrInvalidGeometry, f.Index, err)
	}
	w.cell.Store(f, cell)
	return nil
}

// Write appends one feature. A feature without geometry gets an empty
// geometry cell.
func (w *Writer) Write(f *types.Feature) error {
	cell, ok := w.cell.Take(f)
	if !ok {
		if err := w.Accept(f); err != nil {
			return err
		}
		cell, _ = w.cell.Take(f)
	}

	last := len(w.record) - 1
	for i := 0; i < last; i++ {
		w.record[i] = f.Value(i)
	}
	w.record[last] = cell

	if err := w.csv.Write(w.record); err != nil {
		return fmt.Errorf("failed to write row: %w", err)
	}
	w.count++
	return nil
}

// Count returns the number of rows written, header excluded.
func (w *Writer) Count() int {
	return w.count
}

// Close flushes buffered rows and closes the file.
func (w *Writer) Close() error {
	w.csv.Flush()
	return errors.Join(
		w.csv.Error(),
		w.buf.Flush(),
		w.file.Close(),
	)
}
