package shapefile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/jonas-p/go-shp"
	"go.uber.org/zap"

	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/config"
	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/geometry"
	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/types"
)

// maxFieldName is the length of a dBASE field name.
const maxFieldName = 10

// =============================================================================
// WRITER
// =============================================================================

// Writer writes features to a new shapefile.
//
// The .shp/.shx/.dbf files are created when the first feature arrives, since
// the shape type of the file is taken from that feature's geometry. Closing a
// writer that received no features produces an empty Null shapefile.
type Writer struct {
	path   string
	base   string
	codec  *Codec
	width  int
	logger *zap.Logger

	names  []string
	fields []shp.Field

	w         *shp.Writer
	shapeType shp.ShapeType
	count     int
	shape     types.Prepared[preparedShape]
}

// preparedShape is a converted geometry and the file type it was built for.
type preparedShape struct {
	shape     shp.Shape
	shapeType shp.ShapeType
}

// Create prepares a shapefile writer.
//
// PARAMETERS:
//   - path: The .shp file to create. Sidecars are written next to it.
//   - schema: The attribute fields. Names are shortened to 10 characters
//     and made unique.
//   - settings: Encoding selects the DBF code page (default UTF-8) and
//     FieldWidth the width of every character field.
//   - logger: Receives renamed-field notices. May be nil.
func Create(path string, schema *types.Schema, settings config.ShapefileSettings, logger *zap.Logger) (*Writer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	codec := UTF8Codec()
	if settings.Encoding != "" {
		var err error
		codec, err = LookupCodec(settings.Encoding)
		if err != nil {
			return nil, err
		}
		if codec.Name() == "" {
			codec = UTF8Codec()
		}
	}

	width := settings.FieldWidth
	if width < 1 || width > 254 {
		width = 254
	}

	w := &Writer{
		path:   path,
		base:   strings.TrimSuffix(path, filepath.Ext(path)),
		codec:  codec,
		width:  width,
		logger: logger,
	}

	w.names = launderNames(schema.Names())
	for i, name := range w.names {
		if name != schema.Fields[i].Name {
			logger.Info("Renamed field for DBF",
				zap.String("field", schema.Fields[i].Name),
				zap.String("dbf_field", name))
		}
		w.fields = append(w.fields, shp.StringField(name, uint8(width)))
	}

	return w, nil
}

// FieldNames returns the DBF field names, in schema order.
func (w *Writer) FieldNames() []string {
	return w.names
}

// Accept converts the geometry of f without writing it. Before the first
// Write the shape type is taken from f itself.
//
// RETURNS:
//   - An error wrapping types.ErrInvalidGeometry when the feature has no
//     geometry or its geometry does not fit the file's shape type.
func (w *Writer) Accept(f *types.Feature) error {
	if f.Geometry == nil {
		return fmt.Errorf("%w: record %d has no geometry", types.ErrInvalidGeometry, f.Index)
	}

	t := w.shapeType
	if w.w == nil {
		var err error
		if t, err = geometry.ShapeTypeOf(f.Geometry); err != nil {
			return fmt.Errorf("%w: record %d: %w", types.ErrInvalidGeometry, f.Index, err)
		}
	}

	shape, err := geometry.ToShape(f.Geometry, t)
	if err != nil {
		return fmt.Errorf("%w: record %d: %w", types.ErrInvalidGeometry, f.Index, err)
	}
	w.shape.Store(f, preparedShape{shape: shape, shapeType: t})
	return nil
}

// Write appends one feature.
//
// RETURNS:
//   - An error wrapping types.ErrInvalidGeometry when the feature has no
//     geometry or its geometry does not fit the file's shape type.
func (w *Writer) Write(f *types.Feature) error {
	p, ok := w.shape.Take(f)
	if !ok {
		if err := w.Accept(f); err != nil {
			return err
		}
		p, _ = w.shape.Take(f)
	}

	if w.w == nil {
		if err := w.create(p.shapeType); err != nil {
			return err
		}
	}

	row := int(w.w.Write(p.shape))
	for i := range w.fields {
		value := truncate(w.codec.Encode(f.Value(i)), w.width, w.codec.isUTF8())
		if err := w.w.WriteAttribute(row, i, value); err != nil {
			return fmt.Errorf("failed to write field %s of record %d: %w", w.names[i], f.Index, err)
		}
	}
	w.count++
	return nil
}

func (w *Writer) create(t shp.ShapeType) error {
	sw, err := shp.Create(w.base+".shp", t)
	if err != nil {
		return fmt.Errorf("failed to create shapefile: %w", err)
	}
	if err := sw.SetFields(w.fields); err != nil {
		return fmt.Errorf("failed to create attribute table: %w", err)
	}
	w.w = sw
	w.shapeType = t
	w.logger.Debug("Created shapefile",
		zap.String("path", w.path),
		zap.String("shape_type", geometry.ShapeTypeName(t)))
	return nil
}

// Count returns the number of features written.
func (w *Writer) Count() int {
	return w.count
}

// Close writes the file headers and the .cpg sidecar.
func (w *Writer) Close() error {
	if w.w == nil {
		if err := w.create(shp.NULL); err != nil {
			return err
		}
	}
	w.w.Close()

	// The DBF is created as "<base>dbf"; move it next to the .shp.
	var errs []error
	if err := os.Rename(w.base+"dbf", w.base+".dbf"); err != nil {
		errs = append(errs, fmt.Errorf("failed to finalise attribute table: %w", err))
	}
	if err := os.WriteFile(w.base+".cpg", []byte(w.codec.Name()), 0644); err != nil {
		errs = append(errs, fmt.Errorf("failed to write code page file: %w", err))
	}
	return errors.Join(errs...)
}

// =============================================================================
// HELPERS
// =============================================================================

// launderNames shortens names to the dBASE limit, replaces characters
// outside [A-Za-z0-9_] and resolves case-insensitive duplicates with a
// numeric suffix: "population_2020" -> "population", "population_1".
func launderNames(names []string) []string {
	out := make([]string, len(names))
	seen := make(map[string]bool, len(names))

	for i, name := range names {
		var b strings.Builder
		for _, c := range name {
			switch {
			case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '_':
				b.WriteRune(c)
			default:
				b.WriteByte('_')
			}
		}
		clean := b.String()
		if clean == "" {
			clean = "FIELD"
		}
		if len(clean) > maxFieldName {
			clean = clean[:maxFieldName]
		}

		candidate := clean
		for k := 1; seen[strings.ToUpper(candidate)]; k++ {
			suffix := "_" + strconv.Itoa(k)
			stem := clean
			if len(stem)+len(suffix) > maxFieldName {
				stem = stem[:maxFieldName-len(suffix)]
			}
			candidate = stem + suffix
		}
		seen[strings.ToUpper(candidate)] = true
		out[i] = candidate
	}
	return out
}

// truncate cuts s to at most width bytes, on a rune boundary for UTF-8.
func truncate(s string, width int, isUTF8 bool) string {
	if len(s) <= width {
		return s
	}
	cut := width
	if isUTF8 {
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
	}
	return s[:cut]
}
