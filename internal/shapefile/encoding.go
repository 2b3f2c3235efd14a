package shapefile

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// codePages maps the numeric code page identifiers found in .cpg files to
// WHATWG encoding labels.
var codePages = map[string]string{
	"65001": "utf-8",
	"874":   "windows-874",
	"1250":  "windows-1250",
	"1251":  "windows-1251",
	"1252":  "windows-1252",
	"1253":  "windows-1253",
	"1254":  "windows-1254",
	"1255":  "windows-1255",
	"1256":  "windows-1256",
	"1257":  "windows-1257",
	"1258":  "windows-1258",
	"866":   "ibm866",
	"932":   "shift_jis",
	"936":   "gbk",
	"949":   "euc-kr",
	"950":   "big5",
	"20866": "koi8-r",
	"28591": "iso-8859-1",
	"28592": "iso-8859-2",
	"28595": "iso-8859-5",
}

// dosCodePages are not part of the WHATWG index.
var dosCodePages = map[string]encoding.Encoding{
	"437": charmap.CodePage437,
	"850": charmap.CodePage850,
	"852": charmap.CodePage852,
}

// Codec converts DBF text between its stored code page and UTF-8.
//
// The zero Codec (see AutoCodec) has no declared code page: values that are
// valid UTF-8 pass through and anything else is decoded as Windows-1252.
type Codec struct {
	name string
	enc  encoding.Encoding
}

// AutoCodec returns the codec used when no code page is known.
func AutoCodec() *Codec {
	return &Codec{}
}

// UTF8Codec returns the codec used for written shapefiles by default.
func UTF8Codec() *Codec {
	return &Codec{name: "UTF-8", enc: unicode.UTF8}
}

// LookupCodec resolves an encoding name as it appears in a .cpg file or in
// configuration: "UTF-8", "1252", "CP1252", "ANSI 1252", "windows-1252",
// "GBK", "ISO-8859-1" and so on. An empty name returns the auto codec.
func LookupCodec(name string) (*Codec, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return AutoCodec(), nil
	}

	label := strings.ToLower(name)
	code := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(label, "ansi"), "cp"))
	code = strings.TrimSpace(strings.TrimPrefix(code, "windows-"))
	if enc, ok := dosCodePages[code]; ok {
		return &Codec{name: name, enc: enc}, nil
	}
	if mapped, ok := codePages[code]; ok {
		label = mapped
	}

	if label == "utf-8" || label == "utf8" {
		return &Codec{name: "UTF-8", enc: unicode.UTF8}, nil
	}

	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unknown DBF encoding %q: %w", name, err)
	}
	return &Codec{name: name, enc: enc}, nil
}

// ReadCPG resolves the codec declared by a .cpg sidecar. A missing file
// returns the auto codec.
func ReadCPG(path string) (*Codec, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return AutoCodec(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return LookupCodec(string(data))
}

// Name returns the label written to .cpg files, or "" for the auto codec.
func (c *Codec) Name() string {
	return c.name
}

// Decode converts a stored DBF value to UTF-8.
func (c *Codec) Decode(s string) string {
	if c.enc == nil {
		if utf8.ValidString(s) {
			return s
		}
		out, err := charmap.Windows1252.NewDecoder().String(s)
		if err != nil {
			return s
		}
		return out
	}
	out, err := c.enc.NewDecoder().String(s)
	if err != nil {
		return s
	}
	return out
}

// Encode converts a UTF-8 value to the stored code page. Characters the code
// page cannot represent are replaced.
func (c *Codec) Encode(s string) string {
	if c.enc == nil || c.enc == unicode.UTF8 {
		return s
	}
	out, err := encoding.ReplaceUnsupported(c.enc.NewEncoder()).String(s)
	if err != nil {
		return s
	}
	return out
}

// isUTF8 reports whether encoded values are UTF-8 and must be cut on rune
// boundaries.
func (c *Codec) isUTF8() bool {
	return c.enc == nil || c.enc == unicode.UTF8
}
