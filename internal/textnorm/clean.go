// Package textnorm normalizes extracted text before chunking.
package textnorm

import (
	"regexp"
	"strings"
	"unicode"
)

const allowedPunct = "-.,!?:;()[]{}\"'/\\@#$%^&*+=<>~_`"

var (
	horizontalSpaceRe = regexp.MustCompile(` {2,}`)
	spaceAroundNLRe   = regexp.MustCompile(` *\n *`)
	blankLinesRe      = regexp.MustCompile(`\n{3,}`)
)

// Clean returns a normalized copy of text. Clean(Clean(x)) == Clean(x).
func Clean(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.Map(func(r rune) rune {
		if r != '\n' && unicode.IsSpace(r) {
			return ' '
		}
		if allowed(r) {
			return r
		}
		return ' '
	}, text)
	text = horizontalSpaceRe.ReplaceAllString(text, " ")
	text = spaceAroundNLRe.ReplaceAllString(text, "\n")
	text = blankLinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func allowed(r rune) bool {
	switch {
	case r == '\n':
		return true
	case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsMark(r):
		return true
	}
	return strings.ContainsRune(allowedPunct, r)
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
