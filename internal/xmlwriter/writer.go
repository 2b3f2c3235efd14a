// =============================================================================
// SHP/CSV/KML Converter - KML Writer Module
// =============================================================================
//
// This module streams features into a KML document. Features are encoded one
// Placemark at a time, so memory use does not grow with the layer size.
//
// KML STRUCTURE:
//
//   <kml xmlns="http://www.opengis.net/kml/2.2">
//     <Document id="root_doc">
//       <Schema id="parcels" name="parcels">       <!-- one per layer -->
//         <SimpleField name="OWNER" type="string"></SimpleField>
//       </Schema>
//       <Folder>
//         <name>parcels</name>
//         <Placemark>
//           <name>Lot 7</name>                     <!-- from the name field -->
//           <ExtendedData>
//             <SchemaData schemaUrl="#parcels">
//               <SimpleData name="OWNER">Smith</SimpleData>
//             </SchemaData>
//           </ExtendedData>
//           <Polygon>...</Polygon>
//         </Placemark>
//       </Folder>
//     </Document>
//   </kml>
//
// The layer is named after the output file. A .kmz output is a zip archive
// holding the document as doc.kml.
//
// =============================================================================

package xmlwriter

import (
	"bufio"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/twpayne/go-kml"

	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/config"
	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/geometry"
	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/types"
)

// KMZEntry is the name of the document inside a .kmz archive.
const KMZEntry = "doc.kml"

// =============================================================================
// KML GENERATION OPTIONS
// =============================================================================

// Options contains options for KML generation.
type Options struct {
	// Indent is the string used for indentation. Empty writes the document
	// on one line.
	// Default: "  " (two spaces)
	Indent string

	// IncludeXMLDeclaration determines whether to include the XML declaration.
	// Default: true
	IncludeXMLDeclaration bool

	// NameField is the attribute written as each Placemark's <name>.
	// Default: "Name"
	NameField string

	// DescriptionField is the attribute written as <description>.
	// Default: "Description"
	DescriptionField string
}

// DefaultOptions returns the default generation options.
func DefaultOptions() Options {
	return Options{
		Indent:                "  ",
		IncludeXMLDeclaration: true,
		NameField:             "Name",
		DescriptionField:      "Description",
	}
}

// OptionsFromSettings builds the options for the kml configuration section.
func OptionsFromSettings(s config.KMLSettings) Options {
	opts := DefaultOptions()
	if !s.Indent {
		opts.Indent = ""
	}
	opts.NameField = s.NameField
	opts.DescriptionField = s.DescriptionField
	return opts
}

// =============================================================================
// KML WRITER
// =============================================================================

// KMLWriter streams features into a .kml or .kmz file.
type KMLWriter struct {
	file *os.File
	buf  *bufio.Writer
	zip  *zip.Writer
	enc  *xml.Encoder

	layer     string
	schemaURL string
	names     []string
	dataIdx   []int
	nameIdx   int
	descIdx   int
	count     int
	geometry  types.Prepared[kml.Element]
}

var (
	kmlName      = xml.Name{Space: kml.Namespace, Local: "kml"}
	documentName = xml.Name{Local: "Document"}
	folderName   = xml.Name{Local: "Folder"}
)

// NewKMLWriter creates the output file and writes the document header, the
// layer schema and the opening of the layer folder.
//
// PARAMETERS:
//   - path: The .kml or .kmz file to create.
//   - schema: The attribute fields of the features to be written.
//   - options: Formatting and Placemark name/description options.
//
// RETURNS:
//   - The writer, ready for Write calls.
//   - An error if the file cannot be created.
func NewKMLWriter(path string, schema *types.Schema, options Options) (*KMLWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	w := &KMLWriter{
		file:  file,
		buf:   bufio.NewWriter(file),
		layer: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
	}

	var out io.Writer = w.buf
	if strings.EqualFold(filepath.Ext(path), ".kmz") {
		w.zip = zip.NewWriter(w.buf)
		out, err = w.zip.Create(KMZEntry)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to create %s in archive: %w", KMZEntry, err)
		}
	}

	w.bindFields(schema, options)

	if err := w.start(out, options); err != nil {
		file.Close()
		return nil, err
	}
	return w, nil
}

// bindFields maps the name and description fields to Placemark elements.
// Every other field is carried as SimpleData.
func (w *KMLWriter) bindFields(schema *types.Schema, options Options) {
	w.nameIdx, w.descIdx = -1, -1
	if options.NameField != "" {
		w.nameIdx = schema.Index(options.NameField)
	}
	if options.DescriptionField != "" {
		w.descIdx = schema.Index(options.DescriptionField)
	}

	for i, f := range schema.Fields {
		if i == w.nameIdx || i == w.descIdx {
			continue
		}
		w.names = append(w.names, f.Name)
		w.dataIdx = append(w.dataIdx, i)
	}
}

func (w *KMLWriter) start(out io.Writer, options Options) error {
	if options.IncludeXMLDeclaration {
		if _, err := io.WriteString(out, xml.Header); err != nil {
			return fmt.Errorf("failed to write XML declaration: %w", err)
		}
	}

	w.enc = xml.NewEncoder(out)
	if options.Indent != "" {
		w.enc.Indent("", options.Indent)
	}

	if err := w.enc.EncodeToken(xml.StartElement{Name: kmlName}); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	doc := xml.StartElement{
		Name: documentName,
		Attr: []xml.Attr{{Name: xml.Name{Local: "id"}, Value: "root_doc"}},
	}
	if err := w.enc.EncodeToken(doc); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}

	fields := make([]kml.Element, len(w.names))
	for i, name := range w.names {
		fields[i] = kml.SimpleField(name, "string")
	}
	layerSchema := kml.Schema(w.layer, w.layer, fields...)
	w.schemaURL = layerSchema.URL()
	if err := w.enc.Encode(layerSchema); err != nil {
		return fmt.Errorf("failed to write schema: %w", err)
	}

	if err := w.enc.EncodeToken(xml.StartElement{Name: folderName}); err != nil {
		return fmt.Errorf("failed to write folder: %w", err)
	}
	if err := w.enc.Encode(kml.Name(w.layer)); err != nil {
		return fmt.Errorf("failed to write folder: %w", err)
	}
	return nil
}

// Layer returns the layer name used for the schema and folder.
func (w *KMLWriter) Layer() string {
	return w.layer
}

// Accept encodes the geometry of f without writing the Placemark.
func (w *KMLWriter) Accept(f *types.Feature) error {
	var g kml.Element
	if f.Geometry != nil {
		var err error
		if g, err = geometry.EncodeKML(f.Geometry); err != nil {
			return fmt.Errorf("%w: record %d: %w", types.ErrInvalidGeometry, f.Index, err)
		}
	}
	w.geometry.Store(f, g)
	return nil
}

// Write appends one Placemark. Features without geometry produce a
// Placemark with attributes only.
func (w *KMLWriter) Write(f *types.Feature) error {
	g, ok := w.geometry.Take(f)
	if !ok {
		if err := w.Accept(f); err != nil {
			return err
		}
		g, _ = w.geometry.Take(f)
	}

	var children []kml.Element

	if w.nameIdx >= 0 {
		if v := f.Value(w.nameIdx); v != "" {
			children = append(children, kml.Name(v))
		}
	}
	if w.descIdx >= 0 {
		if v := f.Value(w.descIdx); v != "" {
			children = append(children, kml.Description(v))
		}
	}

	if len(w.dataIdx) > 0 {
		data := make([]kml.Element, len(w.dataIdx))
		for i, idx := range w.dataIdx {
			data[i] = kml.SimpleData(w.names[i], f.Value(idx))
		}
		children = append(children, kml.ExtendedData(kml.SchemaData(w.schemaURL, data...)))
	}

	if g != nil {
		children = append(children, g)
	}

	if err := w.enc.Encode(kml.Placemark(children...)); err != nil {
		return fmt.Errorf("failed to write placemark %d: %w", f.Index, err)
	}
	w.count++
	return nil
}

// Count returns the number of Placemarks written.
func (w *KMLWriter) Count() int {
	return w.count
}

// Close ends the document and closes the file.
func (w *KMLWriter) Close() error {
	var errs []error
	for _, name := range []xml.Name{folderName, documentName, kmlName} {
		if err := w.enc.EncodeToken(xml.EndElement{Name: name}); err != nil {
			errs = append(errs, fmt.Errorf("failed to end document: %w", err))
			break
		}
	}
	errs = append(errs, w.enc.Flush())
	if w.zip != nil {
		errs = append(errs, w.zip.Close())
	}
	errs = append(errs, w.buf.Flush(), w.file.Close())
	return errors.Join(errs...)
}
