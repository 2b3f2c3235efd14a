package shapefile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/klauspost/compress/zip"
)

const (
	// shpHeaderSize is the length of the .shp main file header.
	shpHeaderSize = 100

	// dbfPrefixSize covers the version, date and record count of a .dbf.
	dbfPrefixSize = 8
)

// =============================================================================
// DATASET HEADERS
// =============================================================================

// Header holds what the .shp and .dbf headers say about a dataset.
type Header struct {
	ShapeType shp.ShapeType
	BBox      shp.Box

	// Records is the row count stored in the attribute table header.
	Records int
}

// OpenSequential opens a .shp, or a .zip holding one shapefile, for
// reading in order. Sidecar extensions match in any case.
//
// RETURNS:
//   - The record reader, positioned before the first record.
//   - The dataset header.
//   - The code page from the .cpg sidecar, or the automatic codec.
//   - An error if the .shp or .dbf is missing or its header is unreadable.
func OpenSequential(path string) (shp.SequentialReader, Header, *Codec, error) {
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		return openZip(path)
	}
	return openFiles(path)
}

// newSequential reads both headers and hands the streams to go-shp.
func newSequential(shpRC, dbfRC io.ReadCloser) (shp.SequentialReader, Header, error) {
	var h Header

	shpHead, shpRC, err := peek(shpRC, shpHeaderSize)
	if err != nil {
		return nil, h, fmt.Errorf("failed to read shapefile header: %w", err)
	}
	dbfHead, dbfRC, err := peek(dbfRC, dbfPrefixSize)
	if err != nil {
		shpRC.Close()
		return nil, h, fmt.Errorf("failed to read attribute table header: %w", err)
	}

	h.ShapeType = shp.ShapeType(binary.LittleEndian.Uint32(shpHead[32:36]))
	h.BBox = shp.Box{
		MinX: float64At(shpHead, 36),
		MinY: float64At(shpHead, 44),
		MaxX: float64At(shpHead, 52),
		MaxY: float64At(shpHead, 60),
	}
	h.Records = int(binary.LittleEndian.Uint32(dbfHead[4:8]))

	return shp.SequentialReaderFromExt(shpRC, dbfRC), h, nil
}

func float64At(b []byte, offset int) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b[offset : offset+8]))
}

// peekedReader replays a consumed prefix before the rest of the stream.
type peekedReader struct {
	io.Reader
	io.Closer
}

// peek reads the first n bytes of rc and returns them with a reader that
// still yields the whole stream. rc is closed on error.
func peek(rc io.ReadCloser, n int) ([]byte, io.ReadCloser, error) {
	head := make([]byte, n)
	if _, err := io.ReadFull(rc, head); err != nil {
		rc.Close()
		return nil, nil, err
	}
	return head, peekedReader{Reader: io.MultiReader(bytes.NewReader(head), rc), Closer: rc}, nil
}

// =============================================================================
// PLAIN FILES
// =============================================================================

// openFiles opens the .shp and .dbf files next to each other.
func openFiles(shpPath string) (shp.SequentialReader, Header, *Codec, error) {
	base := strings.TrimSuffix(shpPath, filepath.Ext(shpPath))

	shpFile, err := os.Open(shpPath)
	if err != nil {
		return nil, Header{}, nil, fmt.Errorf("failed to open shapefile: %w", err)
	}

	dbfPath, ok := findSidecar(base, ".dbf")
	if !ok {
		shpFile.Close()
		return nil, Header{}, nil, fmt.Errorf("failed to open shapefile: missing attribute table %s.dbf", base)
	}
	dbfFile, err := os.Open(dbfPath)
	if err != nil {
		shpFile.Close()
		return nil, Header{}, nil, fmt.Errorf("failed to open attribute table: %w", err)
	}

	codec := AutoCodec()
	if cpgPath, ok := findSidecar(base, ".cpg"); ok {
		if codec, err = ReadCPG(cpgPath); err != nil {
			shpFile.Close()
			dbfFile.Close()
			return nil, Header{}, nil, err
		}
	}

	sr, h, err := newSequential(shpFile, dbfFile)
	if err != nil {
		return nil, h, nil, fmt.Errorf("%s: %w", shpPath, err)
	}
	return sr, h, codec, nil
}

// findSidecar looks for base+ext in lower and upper case.
func findSidecar(base, ext string) (string, bool) {
	for _, candidate := range []string{base + ext, base + strings.ToUpper(ext)} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
	}
	return "", false
}

// =============================================================================
// ZIP ARCHIVES
// =============================================================================

// archiveShapefile is the single shapefile found in an archive.
type archiveShapefile struct {
	shp     *zip.File
	prefix  string
	entries map[string]*zip.File
}

// sidecar returns the entry with the given extension, matched in any case.
func (a *archiveShapefile) sidecar(ext string) (*zip.File, bool) {
	f, ok := a.entries[a.prefix+strings.ToLower(ext)]
	return f, ok
}

// locateShapefile finds the one .shp in archive. Extensions match in any
// case; macOS resource forks (__MACOSX/, ._*) are ignored.
func locateShapefile(archive *zip.ReadCloser, zipPath string) (*archiveShapefile, error) {
	entries := make(map[string]*zip.File, len(archive.File))
	var shapes []*zip.File
	for _, f := range archive.File {
		if resourceFork(f.Name) || f.FileInfo().IsDir() {
			continue
		}
		entries[strings.ToLower(f.Name)] = f
		if strings.EqualFold(path.Ext(f.Name), ".shp") {
			shapes = append(shapes, f)
		}
	}

	switch len(shapes) {
	case 0:
		return nil, fmt.Errorf("archive %s does not contain a .shp file", zipPath)
	case 1:
	default:
		return nil, fmt.Errorf("archive %s contains %d .shp files, expected one", zipPath, len(shapes))
	}

	name := shapes[0].Name
	return &archiveShapefile{
		shp:     shapes[0],
		prefix:  strings.ToLower(strings.TrimSuffix(name, path.Ext(name))),
		entries: entries,
	}, nil
}

// resourceFork reports whether an archive entry is macOS metadata.
func resourceFork(name string) bool {
	return strings.HasPrefix(name, "__MACOSX/") || strings.HasPrefix(path.Base(name), "._")
}

// openZip opens the single shapefile stored in a zip archive.
func openZip(zipPath string) (shp.SequentialReader, Header, *Codec, error) {
	archive, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, Header{}, nil, fmt.Errorf("failed to open archive: %w", err)
	}
	fail := func(err error) (shp.SequentialReader, Header, *Codec, error) {
		archive.Close()
		return nil, Header{}, nil, err
	}

	found, err := locateShapefile(archive, zipPath)
	if err != nil {
		return fail(err)
	}
	dbf, ok := found.sidecar(".dbf")
	if !ok {
		return fail(fmt.Errorf("archive %s is missing the .dbf of %s", zipPath, found.shp.Name))
	}

	codec := AutoCodec()
	if cpg, ok := found.sidecar(".cpg"); ok {
		if codec, err = readZipCPG(cpg); err != nil {
			return fail(err)
		}
	}

	shpRC, err := found.shp.Open()
	if err != nil {
		return fail(fmt.Errorf("failed to open %s in archive: %w", found.shp.Name, err))
	}
	dbfRC, err := dbf.Open()
	if err != nil {
		shpRC.Close()
		return fail(fmt.Errorf("failed to open %s in archive: %w", dbf.Name, err))
	}

	sr, h, err := newSequential(shpRC, dbfRC)
	if err != nil {
		return fail(fmt.Errorf("%s: %w", zipPath, err))
	}
	return &zipSequentialReader{SequentialReader: sr, archive: archive}, h, codec, nil
}

// zipSequentialReader closes the archive together with its entries.
type zipSequentialReader struct {
	shp.SequentialReader
	archive *zip.ReadCloser
}

func (z *zipSequentialReader) Close() error {
	return errors.Join(z.SequentialReader.Close(), z.archive.Close())
}

func readZipCPG(f *zip.File) (*Codec, error) {
	data, err := readEntry(f, 256)
	if err != nil {
		return nil, err
	}
	return LookupCodec(string(data))
}

func readEntry(f *zip.File, limit int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.Name, err)
	}
	return data, nil
}

// =============================================================================
// SIDECARS
// =============================================================================

// maxSidecarSize bounds how much of a text sidecar is read.
const maxSidecarSize = 1 << 20

// HasSidecar reports whether the shapefile at path (a .shp or a .zip) has a
// companion file with extension ext, such as ".shx" or ".prj".
func HasSidecar(path, ext string) bool {
	_, err := sidecar(path, ext, false)
	return err == nil
}

// ReadSidecar returns the contents of a text sidecar such as ".prj" or
// ".cpg". A missing sidecar yields an error wrapping fs.ErrNotExist.
func ReadSidecar(path, ext string) ([]byte, error) {
	return sidecar(path, ext, true)
}

// sidecar locates base+ext next to a .shp or inside a .zip and, when read
// is set, returns its contents.
func sidecar(shpPath, ext string, read bool) ([]byte, error) {
	if !strings.EqualFold(filepath.Ext(shpPath), ".zip") {
		p, ok := findSidecar(strings.TrimSuffix(shpPath, filepath.Ext(shpPath)), ext)
		if !ok {
			return nil, fmt.Errorf("%s sidecar of %s: %w", ext, shpPath, fs.ErrNotExist)
		}
		if !read {
			return nil, nil
		}
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(io.LimitReader(f, maxSidecarSize))
	}

	archive, err := zip.OpenReader(shpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer archive.Close()

	found, err := locateShapefile(archive, shpPath)
	if err != nil {
		return nil, err
	}
	entry, ok := found.sidecar(ext)
	if !ok {
		return nil, fmt.Errorf("%s sidecar in %s: %w", ext, shpPath, fs.ErrNotExist)
	}
	if !read {
		return nil, nil
	}
	return readEntry(entry, maxSidecarSize)
}
