// =============================================================================
// SHP/CSV/KML Converter - Shapefile Module
// =============================================================================
//
// This package reads and writes ESRI shapefiles as feature streams.
//
// READING:
//   - A plain .shp is read together with its .dbf (required) and .cpg
//     (optional) sidecars.
//   - A .zip holding exactly one shapefile is read in place.
//   - Shapes are converted to go-geom geometries; DBF values are decoded to
//     UTF-8 and normalised (numbers canonicalised, dates as YYYY-MM-DD).
//
// WRITING:
//   - Every attribute is stored as a character field.
//   - The shape type is fixed by the first feature.
//   - A .cpg sidecar records the code page of the DBF text.
//
// =============================================================================

package shapefile

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"go.uber.org/zap"

	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/config"
	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/geometry"
	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/types"
)

// =============================================================================
// READER
// =============================================================================

// Reader streams the features of a shapefile.
//
// USAGE:
//
//	r, err := shapefile.Open("parcels.shp", cfg.Shapefile, false, logger)
//	if err != nil { ... }
//	defer r.Close()
//	for r.Next() {
//	    f := r.Feature()
//	    ...
//	}
//	if err := r.Err(); err != nil { ... }
type Reader struct {
	path        string
	sr          shp.SequentialReader
	header      Header
	schema      *types.Schema
	codec       *Codec
	skipInvalid bool
	logger      *zap.Logger

	current types.Feature
	err     error
	skipped int
}

// Open opens a .shp or a zipped shapefile for reading.
//
// PARAMETERS:
//   - path: The .shp or .zip file.
//   - settings: Shapefile settings; Encoding overrides the .cpg sidecar.
//   - skipInvalid: Skip shapes that cannot be converted instead of failing.
//   - logger: Receives warnings for skipped shapes. May be nil.
//
// RETURNS:
//   - A Reader positioned before the first feature.
//   - An error if a required file is missing or unreadable.
func Open(path string, settings config.ShapefileSettings, skipInvalid bool, logger *zap.Logger) (*Reader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	sr, header, codec, err := OpenSequential(path)
	if err != nil {
		return nil, err
	}

	if settings.Encoding != "" {
		codec, err = LookupCodec(settings.Encoding)
		if err != nil {
			sr.Close()
			return nil, err
		}
	}

	if err := sr.Err(); err != nil {
		sr.Close()
		return nil, fmt.Errorf("failed to read shapefile header %s: %w", path, err)
	}

	r := &Reader{
		path:        path,
		sr:          sr,
		header:      header,
		codec:       codec,
		skipInvalid: skipInvalid,
		logger:      logger,
	}
	r.schema = r.buildSchema()

	logger.Debug("Opened shapefile",
		zap.String("path", path),
		zap.String("shape_type", geometry.ShapeTypeName(header.ShapeType)),
		zap.Int("records", header.Records),
		zap.Int("fields", len(r.schema.Fields)),
		zap.String("encoding", codec.Name()))

	return r, nil
}

func (r *Reader) buildSchema() *types.Schema {
	layer := strings.TrimSuffix(filepath.Base(r.path), filepath.Ext(r.path))
	dbfFields := r.sr.Fields()
	fields := make([]types.Field, len(dbfFields))
	for i, f := range dbfFields {
		fields[i] = types.Field{
			Name:      r.codec.Decode(f.String()),
			Type:      f.Fieldtype,
			Size:      int(f.Size),
			Precision: int(f.Precision),
		}
	}
	return &types.Schema{Layer: layer, Fields: fields}
}

// =============================================================================
// ITERATION
// =============================================================================

// Header returns the shape type, extent and record count read when the
// file was opened.
func (r *Reader) Header() Header {
	return r.header
}

// Schema returns the attribute fields of the DBF table.
func (r *Reader) Schema() *types.Schema {
	return r.schema
}

// Next advances to the next feature. It returns false at the end of the
// file or on error; check Err afterwards.
func (r *Reader) Next() bool {
	if r.err != nil {
		return false
	}

	for r.sr.Next() {
		index, shape := r.sr.Shape()

		g, err := geometry.FromShape(shape)
		if err != nil {
			err = fmt.Errorf("%w: record %d: %w", types.ErrInvalidGeometry, index, err)
			if r.skipInvalid {
				r.skipped++
				r.logger.Warn("Skipping record", zap.String("path", r.path), zap.Error(err))
				continue
			}
			r.err = err
			return false
		}

		attrs := make([]string, len(r.schema.Fields))
		for i, field := range r.schema.Fields {
			attrs[i] = normalizeValue(field, r.codec.Decode(trimRaw(r.sr.Attribute(i))))
		}

		r.current = types.Feature{Index: index, Attributes: attrs, Geometry: g}
		return true
	}

	if err := r.sr.Err(); err != nil {
		r.err = fmt.Errorf("failed to read %s: %w", r.path, err)
	}
	return false
}

// Feature returns the feature read by the last call to Next.
func (r *Reader) Feature() *types.Feature {
	return &r.current
}

// Err returns the first error that stopped iteration.
func (r *Reader) Err() error {
	return r.err
}

// Skipped returns the number of records dropped because their shape could
// not be converted.
func (r *Reader) Skipped() int {
	return r.skipped
}

// Close releases the underlying files.
func (r *Reader) Close() error {
	if err := r.sr.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", r.path, err)
	}
	return nil
}

// =============================================================================
// VALUE NORMALISATION
// =============================================================================

func trimRaw(s string) string {
	return strings.TrimSpace(strings.Trim(s, "\x00"))
}

// normalizeValue renders a DBF value the way it is written to text formats.
//
//   - N/F : canonical number ("007" -> "7", "1.500" -> "1.5"); "****" -> ""
//   - D   : "20240131" -> "2024-01-31"; blank or zero dates -> ""
//   - L   : "T"/"Y" -> "True", "F"/"N" -> "False", "?" -> ""
func normalizeValue(field types.Field, v string) string {
	switch field.Type {
	case types.FieldNumber, types.FieldFloat:
		if strings.Trim(v, "*") == "" {
			return ""
		}
		if field.Precision == 0 {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return strconv.FormatInt(n, 10)
			}
		}
		if x, err := strconv.ParseFloat(v, 64); err == nil {
			return strconv.FormatFloat(x, 'f', -1, 64)
		}
		return v

	case types.FieldDate:
		if strings.Trim(v, "0") == "" {
			return ""
		}
		if len(v) == 8 && isDigits(v) {
			return v[0:4] + "-" + v[4:6] + "-" + v[6:8]
		}
		return v

	case types.FieldLogical:
		switch strings.ToUpper(v) {
		case "T", "Y":
			return "True"
		case "F", "N":
			return "False"
		default:
			return ""
		}
	}
	return v
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
