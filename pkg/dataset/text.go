package dataset

import (
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// DefaultEncoding is assumed for DBF text that is not valid UTF-8 and has no .cpg file.
const DefaultEncoding = "windows-1252"

// textDecoder turns raw DBF attribute bytes into UTF-8.
type textDecoder struct {
	enc    encoding.Encoding
	forced bool // set when a .cpg declared the code page
}

// lookupEncoding resolves labels such as "UTF-8", "ISO-8859-1", "windows-1252" or the bare
// ANSI code page numbers written in .cpg files ("1252").
func lookupEncoding(label string) encoding.Encoding {
	l := strings.ToLower(strings.TrimSpace(label))
	switch l {
	case "":
		return nil
	case "1252", "ansi_1252", "cp1252":
		return charmap.Windows1252
	case "88591", "8859_1", "iso88591":
		return charmap.ISO8859_1
	case "65001", "utf8":
		return unicode.UTF8
	}
	if e, err := htmlindex.Get(l); err == nil {
		return e
	}
	return nil
}

// newTextDecoder reads the optional .cpg next to the shapefile; fallback is used otherwise.
func newTextDecoder(cpgPath, fallback string) *textDecoder {
	if data, err := os.ReadFile(cpgPath); err == nil {
		if e := lookupEncoding(string(data)); e != nil {
			return &textDecoder{enc: e, forced: true}
		}
	}
	e := lookupEncoding(fallback)
	if e == nil {
		e = charmap.Windows1252
	}
	return &textDecoder{enc: e}
}

// Decode trims DBF padding and converts to UTF-8. Without a .cpg, text that is already
// valid UTF-8 is kept as is.
func (d *textDecoder) Decode(raw string) string {
	s := strings.Trim(raw, " \x00")
	if s == "" {
		return s
	}
	if !d.forced && utf8.ValidString(s) {
		return s
	}
	if d.enc == unicode.UTF8 {
		return strings.ToValidUTF8(s, "�")
	}
	out, err := d.enc.NewDecoder().String(s)
	if err != nil {
		return strings.ToValidUTF8(s, "�")
	}
	return out
}
