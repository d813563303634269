package extractor

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"docqa/internal/domain"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type candidate struct {
	name   string
	decode func([]byte) (string, bool)
}

var candidates = []candidate{
	{"utf-8", decodeUTF8},
	{"utf-16", decodeUTF16},
	{"latin-1", decodeLatin1},
	{"cp1252", decodeCP1252},
}

// Decode tries utf-8, utf-16 (BOM required), latin-1 and cp1252 in order and
// returns the text with the name of the first encoding that fits.
func Decode(data []byte) (string, string, error) {
	for _, c := range candidates {
		if text, ok := c.decode(data); ok {
			return text, c.name, nil
		}
	}
	return "", "", domain.ErrDecoding
}

func decodeUTF8(data []byte) (string, bool) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return "", false
	}
	return string(data), true
}

func decodeUTF16(data []byte) (string, bool) {
	if len(data) < 2 {
		return "", false
	}
	bom := data[:2]
	if !bytes.Equal(bom, []byte{0xFF, 0xFE}) && !bytes.Equal(bom, []byte{0xFE, 0xFF}) {
		return "", false
	}
	return decodeWith(unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM), data)
}

// latin-1 maps every byte, so it is only accepted when no C1 control
// characters appear; those bytes are printable in cp1252.
func decodeLatin1(data []byte) (string, bool) {
	text, ok := decodeWith(charmap.ISO8859_1, data)
	if !ok || hasC1(text) {
		return "", false
	}
	return text, true
}

// bytes left unassigned by cp1252 decode to C1 controls or U+FFFD
func decodeCP1252(data []byte) (string, bool) {
	text, ok := decodeWith(charmap.Windows1252, data)
	if !ok || hasC1(text) || strings.ContainsRune(text, utf8.RuneError) {
		return "", false
	}
	return text, true
}

func hasC1(text string) bool {
	for _, r := range text {
		if r >= 0x80 && r <= 0x9F {
			return true
		}
	}
	return false
}

func decodeWith(enc encoding.Encoding, data []byte) (string, bool) {
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", false
	}
	return string(out), true
}
