// =============================================================================
// SHP/CSV/KML Converter - Shared Types
// =============================================================================
//
// This package contains the feature model shared by every reader and writer.
// Types defined here are used by:
//   - shapefile
//   - csvparser
//   - xlsxparser
//   - xmlwriter
//   - converter
//
// A dataset is a Schema (ordered attribute fields) plus a stream of Features.
// Attribute values always travel as strings; geometry travels as a go-geom
// value so that every format can re-encode it.
//
// =============================================================================

package types

import (
	"errors"
	"strings"

	"github.com/twpayne/go-geom"
)

// ErrInvalidGeometry marks a feature whose geometry could not be decoded or
// cannot be stored by the target format. With continue_on_error enabled the
// converter skips such features instead of aborting.
var ErrInvalidGeometry = errors.New("invalid geometry")

// =============================================================================
// SCHEMA TYPES
// =============================================================================

// Field type codes, as used by dBASE tables.
const (
	FieldCharacter byte = 'C'
	FieldNumber    byte = 'N'
	FieldFloat     byte = 'F'
	FieldDate      byte = 'D'
	FieldLogical   byte = 'L'
)

// Field describes a single attribute column.
type Field struct {
	// Name is the column name as it appears in the source.
	Name string

	// Type is the dBASE type code. Sources without typing (CSV, XLSX)
	// report FieldCharacter.
	Type byte

	// Size and Precision are only meaningful for shapefile sources.
	Size      int
	Precision int
}

// Schema is the ordered list of attribute fields of a layer.
type Schema struct {
	// Layer is the layer name, usually the source file's base name.
	Layer string

	// Fields holds the attribute columns, excluding the geometry column.
	Fields []Field
}

// Names returns the field names in order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Index returns the position of the named field, or -1. Matching is
// case-insensitive, the way shapefile field names are compared.
func (s *Schema) Index(name string) int {
	for i, f := range s.Fields {
		if strings.EqualFold(f.Name, name) {
			return i
		}
	}
	return -1
}

// StringSchema builds a schema of character fields from a header row.
func StringSchema(layer string, names []string) *Schema {
	fields := make([]Field, len(names))
	for i, n := range names {
		fields[i] = Field{Name: n, Type: FieldCharacter}
	}
	return &Schema{Layer: layer, Fields: fields}
}

// =============================================================================
// FEATURE TYPES
// =============================================================================

// Feature is one record of a layer.
type Feature struct {
	// Index is the zero-based record number in the source.
	Index int

	// Attributes holds one value per schema field, in schema order.
	Attributes []string

	// Geometry is nil for records without geometry.
	Geometry geom.T
}

// Value returns the attribute at position i, or "" when out of range.
func (f *Feature) Value(i int) string {
	if i < 0 || i >= len(f.Attributes) {
		return ""
	}
	return f.Attributes[i]
}

// =============================================================================
// PREPARED VALUES
// =============================================================================

// Prepared keeps the value a writer encoded for a feature while the feature
// is checked by every output, so Write does not encode it twice. Sources
// reuse one Feature per row; the record index and geometry identify it.
type Prepared[T any] struct {
	index int
	geom  geom.T
	value T
	set   bool
}

// Store records v as the encoding of f.
func (p *Prepared[T]) Store(f *Feature, v T) {
	p.index, p.geom, p.value, p.set = f.Index, f.Geometry, v, true
}

// Take returns the value stored for f and clears it.
func (p *Prepared[T]) Take(f *Feature) (T, bool) {
	var zero T
	if !p.set || p.index != f.Index || p.geom != f.Geometry {
		return zero, false
	}
	v := p.value
	p.value, p.geom, p.set = zero, nil, false
	return v, true
}
