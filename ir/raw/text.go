package raw

import (
	"bytes"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

var (
	bomUTF16BE = []byte{0xFE, 0xFF}
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
)

// TextString decodes a PDF text string. UTF-16BE and UTF-8 are recognised by
// their byte order marks; anything else is read as Latin-1, which matches
// PDFDocEncoding outside the 0x80-0x9F range.
func TextString(b []byte) string {
	switch {
	case bytes.HasPrefix(b, bomUTF16BE):
		dec := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder()
		out, err := dec.Bytes(b)
		if err != nil {
			return string(b[2:])
		}
		return string(out)
	case bytes.HasPrefix(b, bomUTF8):
		return string(b[3:])
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}
