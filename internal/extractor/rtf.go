package extractor

import (
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// groups whose content is formatting data, not document text
var rtfSkipDestinations = map[string]bool{
	"fonttbl": true, "colortbl": true, "stylesheet": true, "info": true,
	"pict": true, "header": true, "footer": true, "listtable": true,
	"listoverridetable": true, "rsidtbl": true, "generator": true,
}

// StripRTF removes RTF control words and groups, keeping the visible text.
// Input without an RTF header is returned unchanged.
func StripRTF(src string) string {
	if !strings.HasPrefix(strings.TrimSpace(src), `{\rtf`) {
		return src
	}
	var (
		out       strings.Builder
		depth     int
		skipDepth = -1
		runes     = []rune(src)
	)
	skipping := func() bool { return skipDepth >= 0 && depth >= skipDepth }

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch r {
		case '{':
			depth++
			if !skipping() && i+2 < len(runes) && runes[i+1] == '\\' && runes[i+2] == '*' {
				skipDepth = depth
			}
			continue
		case '}':
			if skipDepth == depth {
				skipDepth = -1
			}
			depth--
			continue
		case '\r', '\n':
			continue
		case '\\':
		default:
			if !skipping() {
				out.WriteRune(r)
			}
			continue
		}

		// control sequence
		if i+1 >= len(runes) {
			break
		}
		next := runes[i+1]
		switch {
		case next == '\\' || next == '{' || next == '}':
			if !skipping() {
				out.WriteRune(next)
			}
			i++
		case next == '\'' && i+3 < len(runes):
			if !skipping() {
				out.WriteString(decodeRTFHex(string(runes[i+2 : i+4])))
			}
			i += 3
		case isASCIILetter(next):
			j := i + 1
			for j < len(runes) && isASCIILetter(runes[j]) {
				j++
			}
			word := string(runes[i+1 : j])
			if j < len(runes) && (runes[j] == '-' || isASCIIDigit(runes[j])) {
				j++
				for j < len(runes) && isASCIIDigit(runes[j]) {
					j++
				}
			}
			if j < len(runes) && runes[j] == ' ' {
				j++
			}
			i = j - 1
			if rtfSkipDestinations[word] && !skipping() {
				skipDepth = depth
			}
			if skipping() {
				continue
			}
			switch word {
			case "par", "line", "sect", "page":
				out.WriteString("\n")
			case "tab", "cell":
				out.WriteString("\t")
			case "row":
				out.WriteString("\n")
			}
		default:
			i++
		}
	}
	return strings.TrimSpace(out.String())
}

func decodeRTFHex(h string) string {
	var b byte
	for _, c := range h {
		b <<= 4
		switch {
		case c >= '0' && c <= '9':
			b |= byte(c - '0')
		case c >= 'a' && c <= 'f':
			b |= byte(c-'a') + 10
		case c >= 'A' && c <= 'F':
			b |= byte(c-'A') + 10
		default:
			return ""
		}
	}
	return string(charmap.Windows1252.DecodeByte(b))
}

func isASCIILetter(r rune) bool { return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') }

func isASCIIDigit(r rune) bool { return r >= '0' && r <= '9' }
