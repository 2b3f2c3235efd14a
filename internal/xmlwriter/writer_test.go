package xmlwriter

import (
	"encoding/xml"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/config"
	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/types"
)

func sitesSchema() *types.Schema {
	return types.StringSchema("ignored", []string{"Name", "Kind", "Description"})
}

func TestKMLWriter_CompactDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.kml")
	opts := DefaultOptions()
	opts.Indent = ""
	opts.IncludeXMLDeclaration = false

	w, err := NewKMLWriter(path, sitesSchema(), opts)
	require.NoError(t, err)
	assert.Equal(t, "sites", w.Layer())

	require.NoError(t, w.Write(&types.Feature{
		Attributes: []string{"A", "well", ""},
		Geometry:   geom.NewPointFlat(geom.XY, []float64{1, 2}),
	}))
	require.NoError(t, w.Write(&types.Feature{
		Index:      1,
		Attributes: []string{"", "pump", "no location"},
	}))
	assert.Equal(t, 2, w.Count())
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	want := `<kml xmlns="http://www.opengis.net/kml/2.2">` +
		`<Document id="root_doc">` +
		`<Schema id="sites" name="sites"><SimpleField name="Kind" type="string"></SimpleField></Schema>` +
		`<Folder><name>sites</name>` +
		`<Placemark><name>A</name>` +
		`<ExtendedData><SchemaData schemaUrl="#sites"><SimpleData name="Kind">well</SimpleData></SchemaData></ExtendedData>` +
		`<Point><coordinates>1,2</coordinates></Point></Placemark>` +
		`<Placemark><description>no location</description>` +
		`<ExtendedData><SchemaData schemaUrl="#sites"><SimpleData name="Kind">pump</SimpleData></SchemaData></ExtendedData>` +
		`</Placemark>` +
		`</Folder></Document></kml>`
	assert.Equal(t, want, string(data))
}

// kmlDoc is the subset of a KML document the tests inspect.
type kmlDoc struct {
	XMLName  xml.Name `xml:"kml"`
	Document struct {
		ID     string `xml:"id,attr"`
		Schema struct {
			Name   string `xml:"name,attr"`
			Fields []struct {
				Name string `xml:"name,attr"`
				Type string `xml:"type,attr"`
			} `xml:"SimpleField"`
		} `xml:"Schema"`
		Folder struct {
			Name       string `xml:"name"`
			Placemarks []struct {
				Name string `xml:"name"`
				Data []struct {
					Name  string `xml:"name,attr"`
					Value string `xml:",chardata"`
				} `xml:"ExtendedData>SchemaData>SimpleData"`
				Polygon *struct{} `xml:"Polygon"`
			} `xml:"Placemark"`
		} `xml:"Folder"`
	} `xml:"Document"`
}

func TestKMLWriter_IndentedParses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parcels.kml")
	settings := config.Default().KML
	settings.NameField = "OWNER"

	schema := types.StringSchema("parcels", []string{"OWNER", "Name", "Area"})
	w, err := NewKMLWriter(path, schema, OptionsFromSettings(settings))
	require.NoError(t, err)

	polygon := geom.NewPolygonFlat(geom.XY, []float64{0, 0, 0, 1, 1, 1, 0, 0}, []int{8})
	require.NoError(t, w.Write(&types.Feature{Attributes: []string{"Smith & Co", "Lot 7", "12.5"}, Geometry: polygon}))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), xml.Header))
	assert.Contains(t, string(data), "\n  <Document")

	var doc kmlDoc
	require.NoError(t, xml.Unmarshal(data, &doc))
	assert.Equal(t, "root_doc", doc.Document.ID)
	assert.Equal(t, "parcels", doc.Document.Schema.Name)
	require.Len(t, doc.Document.Schema.Fields, 2)
	assert.Equal(t, "Name", doc.Document.Schema.Fields[0].Name)
	assert.Equal(t, "string", doc.Document.Schema.Fields[0].Type)

	require.Len(t, doc.Document.Folder.Placemarks, 1)
	pm := doc.Document.Folder.Placemarks[0]
	assert.Equal(t, "Smith & Co", pm.Name)
	require.Len(t, pm.Data, 2)
	assert.Equal(t, "Area", pm.Data[1].Name)
	assert.Equal(t, "12.5", pm.Data[1].Value)
	assert.NotNil(t, pm.Polygon)
}

func TestKMLWriter_KMZ(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.kmz")
	w, err := NewKMLWriter(path, sitesSchema(), DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, w.Write(&types.Feature{
		Attributes: []string{"A", "well", ""},
		Geometry:   geom.NewPointFlat(geom.XYZ, []float64{1, 2, 3}),
	}))
	require.NoError(t, w.Close())

	archive, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer archive.Close()

	require.Len(t, archive.File, 1)
	assert.Equal(t, KMZEntry, archive.File[0].Name)

	rc, err := archive.File[0].Open()
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)

	var doc kmlDoc
	require.NoError(t, xml.Unmarshal(data, &doc))
	assert.Equal(t, "sites", doc.Document.Folder.Name)
	assert.Contains(t, string(data), "<coordinates>1,2,3</coordinates>")
}

func TestOptionsFromSettings(t *testing.T) {
	opts := OptionsFromSettings(config.KMLSettings{NameField: "N", DescriptionField: "D"})
	assert.Equal(t, "", opts.Indent)
	assert.True(t, opts.IncludeXMLDeclaration)
	assert.Equal(t, "N", opts.NameField)
	assert.Equal(t, "D", opts.DescriptionField)
}
