// =============================================================================
// SHP/CSV/KML Converter - Validation Engine
// =============================================================================
//
// This module checks a dataset before it is converted and reports every
// problem it finds instead of stopping at the first one.
//
// SHAPEFILES:
//   - The .shx index and .dbf attribute table must exist
//   - A missing .prj or .cpg sidecar is a warning
//   - A projected coordinate system is a warning (KML expects WGS 84)
//   - Null shapes are a warning; MultiPatch and malformed shapes are errors
//   - The attribute table must have one row per shape
//
// TABLES (CSV, TSV, XLSX):
//   - The header must have at least one column
//   - The geometry column is resolved the way the converter resolves it
//   - Every non-empty geometry cell must parse
//
// ERROR HANDLING:
//   - Errors are collected, not returned immediately
//   - Each error carries the dataset, record, field and offending value
//   - Warnings never make a dataset invalid unless TreatWarningsAsErrors
//
// =============================================================================

package validation

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jonas-p/go-shp"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/config"
	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/csvparser"
	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/geometry"
	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/shapefile"
)

// Severity levels.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// maxShapefileFieldName is the longest DBF field name.
const maxShapefileFieldName = 10

// =============================================================================
// VALIDATION ERROR TYPES
// =============================================================================

// ValidationError represents a single validation finding.
type ValidationError struct {
	// Severity is SeverityError or SeverityWarning.
	Severity string

	// Path is the dataset the finding belongs to.
	Path string

	// Record is the 1-based record or row number, 0 for dataset-level
	// findings.
	Record int

	// Field is the field or sidecar involved, if any.
	Field string

	// Value is the offending value, if any.
	Value string

	// Message is a human-readable description.
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", strings.ToUpper(e.Severity), filepath.Base(e.Path))
	if e.Record > 0 {
		fmt.Fprintf(&b, ", record %d", e.Record)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, ", field '%s'", e.Field)
	}
	fmt.Fprintf(&b, ": %s", e.Message)
	if e.Value != "" {
		fmt.Fprintf(&b, " (value: '%s')", shorten(e.Value, 60))
	}
	return b.String()
}

// =============================================================================
// VALIDATION RESULT
// =============================================================================

// ValidationResult contains the results of validating one dataset.
type ValidationResult struct {
	// Path is the validated dataset.
	Path string

	// IsValid is true if there are no errors.
	IsValid bool

	// Errors contains all findings, warnings included.
	Errors []*ValidationError

	// ErrorCount is the number of errors found, including the ones past
	// MaxErrors that were not kept.
	ErrorCount int

	// WarningCount is the number of warnings.
	WarningCount int

	// RecordsChecked is the number of records or rows inspected.
	RecordsChecked int

	// NullGeometries counts records without geometry.
	NullGeometries int

	// GeometryType is the shapefile shape type, or the geometry column for
	// tables.
	GeometryType string

	// BBox is the shapefile header's bounding box.
	BBox *shp.Box
}

func (r *ValidationResult) add(e *ValidationError, limit int) {
	if e.Severity == SeverityError {
		r.ErrorCount++
		r.IsValid = false
		if limit > 0 && r.ErrorCount > limit {
			return
		}
	} else {
		r.WarningCount++
	}
	r.Errors = append(r.Errors, e)
}

// finish notes the errors dropped past limit.
func (r *ValidationResult) finish(limit int) {
	if limit > 0 && r.ErrorCount > limit {
		r.Errors = append(r.Errors, &ValidationError{
			Severity: SeverityError,
			Path:     r.Path,
			Message:  fmt.Sprintf("%d more error(s) not shown", r.ErrorCount-limit),
		})
	}
}

// =============================================================================
// VALIDATOR
// =============================================================================

// ValidationOptions contains options for validation.
type ValidationOptions struct {
	// TreatWarningsAsErrors makes any warning invalidate the dataset.
	// Default: false
	TreatWarningsAsErrors bool

	// MaxErrors caps the record-level errors kept per dataset. The count
	// keeps going past the cap. 0 keeps everything. Default: 100
	MaxErrors int

	// CSV resolves delimiters and the geometry column of tables.
	CSV config.CSVSettings
}

// DefaultValidationOptions returns the default validation options.
func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{
		MaxErrors: 100,
		CSV:       config.Default().CSV,
	}
}

// OptionsFromConfig builds validation options from the application config.
func OptionsFromConfig(cfg *config.Config) ValidationOptions {
	opts := DefaultValidationOptions()
	opts.CSV = cfg.CSV
	return opts
}

// Validator checks datasets.
type Validator struct {
	options ValidationOptions
	logger  *zap.Logger
}

// NewValidator creates a new Validator instance.
func NewValidator(options ValidationOptions, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{options: options, logger: logger}
}

// =============================================================================
// MAIN VALIDATION FUNCTION
// =============================================================================

// Validate checks one dataset, dispatching on its extension.
//
// PARAMETERS:
//   - path: A .shp, zipped shapefile, .csv, .tsv or .xlsx file.
//
// RETURNS:
//   - The findings. A dataset that cannot be opened at all is reported as
//     an invalid result, not as an error.
//   - An error only for unsupported extensions.
func (v *Validator) Validate(path string) (*ValidationResult, error) {
	var result *ValidationResult

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".shp", ".zip":
		result = v.ValidateShapefile(path)
	case ".csv", ".tsv", ".xlsx":
		result = v.ValidateTable(path)
	default:
		return nil, fmt.Errorf("cannot validate %s files: %s", ext, path)
	}

	if v.options.TreatWarningsAsErrors && result.WarningCount > 0 {
		result.IsValid = false
	}

	v.logger.Debug("Validated dataset",
		zap.String("input", path),
		zap.Bool("valid", result.IsValid),
		zap.Int("errors", result.ErrorCount),
		zap.Int("warnings", result.WarningCount))
	return result, nil
}

// =============================================================================
// SHAPEFILE VALIDATION
// =============================================================================

// ValidateShapefile checks a shapefile, plain or zipped, and its sidecars.
func (v *Validator) ValidateShapefile(path string) *ValidationResult {
	result := &ValidationResult{Path: path, IsValid: true}
	fail := func(record int, field, value, msg string) {
		result.add(&ValidationError{Severity: SeverityError, Path: path, Record: record, Field: field, Value: value, Message: msg}, v.options.MaxErrors)
	}
	warn := func(field, msg string) {
		result.add(&ValidationError{Severity: SeverityWarning, Path: path, Field: field, Message: msg}, 0)
	}

	if _, err := os.Stat(path); err != nil {
		fail(0, "", "", fmt.Sprintf("cannot open shapefile: %v", err))
		return result
	}

	hasSHX := shapefile.HasSidecar(path, ".shx")
	hasDBF := shapefile.HasSidecar(path, ".dbf")
	if !hasSHX {
		fail(0, ".shx", "", "missing shape index")
	}
	if !hasDBF {
		fail(0, ".dbf", "", "missing attribute table")
	}
	if !shapefile.HasSidecar(path, ".cpg") {
		warn(".cpg", "no code page file; attribute text is decoded as UTF-8 with a Windows-1252 fallback")
	}
	switch prj, err := shapefile.ReadSidecar(path, ".prj"); {
	case errors.Is(err, fs.ErrNotExist):
		warn(".prj", "no projection file; coordinates are assumed to be WGS 84 longitude/latitude")
	case err != nil:
		warn(".prj", fmt.Sprintf("cannot read projection file: %v", err))
	case strings.Contains(strings.ToUpper(string(prj)), "PROJCS"):
		warn(".prj", "projected coordinate system; KML expects WGS 84 longitude/latitude and no reprojection is done")
	}
	if !hasDBF {
		result.finish(v.options.MaxErrors)
		return result
	}

	sr, header, _, err := shapefile.OpenSequential(path)
	if err != nil {
		fail(0, "", "", fmt.Sprintf("cannot open shapefile: %v", err))
		result.finish(v.options.MaxErrors)
		return result
	}
	defer func() {
		if err := sr.Close(); err != nil {
			v.logger.Debug("Failed to close shapefile", zap.String("input", path), zap.Error(err))
		}
	}()

	result.GeometryType = geometry.ShapeTypeName(header.ShapeType)
	box := header.BBox
	result.BBox = &box
	if header.ShapeType == shp.MULTIPATCH {
		fail(0, "", result.GeometryType, "MultiPatch shapes are not supported")
		result.finish(v.options.MaxErrors)
		return result
	}

	shapes := 0
	for sr.Next() {
		n, shape := sr.Shape()
		shapes++
		if _, ok := shape.(*shp.Null); ok {
			result.NullGeometries++
			continue
		}
		if _, err := geometry.FromShape(shape); err != nil {
			fail(n+1, "", "", fmt.Sprintf("invalid shape: %v", err))
		}
	}
	if err := sr.Err(); err != nil {
		fail(shapes+1, "", "", fmt.Sprintf("cannot read shape: %v", err))
	}
	result.RecordsChecked = shapes

	if header.Records != shapes {
		fail(0, ".dbf", "", fmt.Sprintf("attribute table has %d rows but the shapefile has %d shapes", header.Records, shapes))
	}
	if result.NullGeometries > 0 {
		warn("", fmt.Sprintf("%d record(s) have no geometry", result.NullGeometries))
	}
	for _, name := range duplicateNames(fieldNames(sr.Fields())) {
		warn(name, "duplicate field name")
	}

	result.finish(v.options.MaxErrors)
	return result
}

func fieldNames(fields []shp.Field) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.String()
	}
	return names
}

// =============================================================================
// TABLE VALIDATION
// =============================================================================

// rowSource yields the raw rows of a CSV or XLSX table.
type rowSource interface {
	next() ([]string, error)
	close() error
}

// ValidateTable checks a flattened CSV, TSV or XLSX table.
func (v *Validator) ValidateTable(path string) *ValidationResult {
	result := &ValidationResult{Path: path, IsValid: true}
	fail := func(record int, field, value, msg string) {
		result.add(&ValidationError{Severity: SeverityError, Path: path, Record: record, Field: field, Value: value, Message: msg}, v.options.MaxErrors)
	}
	warn := func(record int, field, msg string) {
		result.add(&ValidationError{Severity: SeverityWarning, Path: path, Record: record, Field: field, Message: msg}, 0)
	}

	rows, err := v.openTable(path)
	if err != nil {
		fail(0, "", "", err.Error())
		return result
	}
	defer rows.close()

	// Header
	var header []string
	line := 0
	for {
		row, err := rows.next()
		if err == io.EOF {
			fail(0, "", "", "table is empty")
			return result
		}
		if err != nil {
			fail(line+1, "", "", fmt.Sprintf("cannot read header: %v", err))
			return result
		}
		line++
		if !isBlank(row) {
			header = row
			break
		}
	}

	headers, names, geomIndex := csvparser.ResolveHeaders(header, v.options.CSV.GeometryColumn)
	if geomIndex < 0 {
		fail(line, "", "", "header has no columns")
		return result
	}
	column := headers[geomIndex]
	result.GeometryType = column
	if !strings.EqualFold(column, v.options.CSV.GeometryColumn) {
		warn(line, column, fmt.Sprintf("no %q column; the last column is used as geometry", v.options.CSV.GeometryColumn))
	}
	for _, name := range duplicateNames(names) {
		warn(line, name, "duplicate column name")
	}
	for _, name := range names {
		if utf8.RuneCountInString(name) > maxShapefileFieldName {
			warn(line, name, fmt.Sprintf("longer than %d characters; shapefile output shortens it", maxShapefileFieldName))
		}
	}

	// Rows
	for {
		row, err := rows.next()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			fail(line, "", "", fmt.Sprintf("cannot read row: %v", err))
			break
		}
		if isBlank(row) {
			continue
		}
		result.RecordsChecked++

		if len(row) > len(headers) {
			warn(line, "", fmt.Sprintf("row has %d cells but the header has %d; extra cells are dropped", len(row), len(headers)))
		}
		_, cell := csvparser.SplitRow(row, len(names), geomIndex)
		g, err := geometry.Unmarshal(cell)
		switch {
		case err != nil:
			fail(line, column, cell, fmt.Sprintf("invalid geometry: %v", err))
		case g == nil:
			result.NullGeometries++
		}
	}

	if result.NullGeometries > 0 {
		warn(0, column, fmt.Sprintf("%d row(s) have no geometry", result.NullGeometries))
	}
	result.finish(v.options.MaxErrors)
	return result
}

func (v *Validator) openTable(path string) (rowSource, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return openSheet(path)
	}

	settings := v.options.CSV
	if strings.EqualFold(filepath.Ext(path), ".tsv") {
		settings.Delimiter = "tab"
	}
	delimiter, err := settings.DelimiterRune()
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open table: %w", err)
	}
	reader := csv.NewReader(bufio.NewReader(file))
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	return &csvRows{file: file, reader: reader}, nil
}

type csvRows struct {
	file   *os.File
	reader *csv.Reader
}

func (c *csvRows) next() ([]string, error) { return c.reader.Read() }
func (c *csvRows) close() error           { return c.file.Close() }

type sheetRows struct {
	file *excelize.File
	rows *excelize.Rows
}

// openSheet reads the first worksheet, like the XLSX reader.
func openSheet(path string) (*sheetRows, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open workbook: %w", err)
	}
	sheet := f.GetSheetName(0)
	rows, err := f.Rows(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("cannot read sheet %s: %w", sheet, err)
	}
	return &sheetRows{file: f, rows: rows}, nil
}

func (s *sheetRows) next() ([]string, error) {
	if !s.rows.Next() {
		if err := s.rows.Error(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return s.rows.Columns()
}

func (s *sheetRows) close() error {
	return errors.Join(s.rows.Close(), s.file.Close())
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// duplicateNames returns names that appear more than once, ignoring case.
func duplicateNames(names []string) []string {
	seen := make(map[string]int, len(names))
	var dups []string
	for _, name := range names {
		key := strings.ToLower(name)
		seen[key]++
		if seen[key] == 2 {
			dups = append(dups, name)
		}
	}
	return dups
}

func shorten(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

// =============================================================================
// ERROR OUTPUT
// =============================================================================

// FormatErrors formats validation findings for display or logging.
//
// PARAMETERS:
//   - errors: The findings to format.
//
// RETURNS:
//   - A formatted string containing all findings.
func FormatErrors(errors []*ValidationError) string {
	if len(errors) == 0 {
		return "No validation errors."
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("Validation completed with %d finding(s):\n\n", len(errors)))
	for i, err := range errors {
		builder.WriteString(fmt.Sprintf("%d. %s\n", i+1, err.Error()))
	}
	return builder.String()
}

// WriteErrorLog writes validation findings to a log file, with a header
// carrying a timestamp and the finding count.
func WriteErrorLog(errors []*ValidationError, filePath string) error {
	if dir := filepath.Dir(filePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create error log: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	fmt.Fprintf(writer, "Validation log written %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(writer, "%s\n\n", strings.Repeat("=", 40))
	writer.WriteString(FormatErrors(errors))
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("failed to write error log: %w", err)
	}
	return file.Close()
}
