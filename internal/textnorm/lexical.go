package textnorm

import (
	"math"
	"regexp"
	"strings"
)

var wordRe = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}\p{N}]+)*`)

// Tokens returns the lowercase word tokens of s.
func Tokens(s string) []string {
	return wordRe.FindAllString(strings.ToLower(s), -1)
}

// TokenSet returns the distinct lowercase tokens of s.
func TokenSet(s string) map[string]struct{} {
	tokens := Tokens(s)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

// Ochiai scores the token overlap of a query set with text:
// |A∩B| / sqrt(|A||B|).
func Ochiai(qset map[string]struct{}, text string) float64 {
	seen := TokenSet(text)
	if len(qset) == 0 || len(seen) == 0 {
		return 0
	}
	inter := 0
	for t := range seen {
		if _, ok := qset[t]; ok {
			inter++
		}
	}
	return float64(inter) / math.Sqrt(float64(len(qset))*float64(len(seen)))
}

var sentenceRe = regexp.MustCompile(`(?m)[^.!?\n]+(?:[.!?]+|$)`)

// Sentences splits text on terminal punctuation and newlines, dropping blanks.
func Sentences(text string) []string {
	var out []string
	for _, s := range sentenceRe.FindAllString(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// FirstSentence returns the text up to and including the first '.', or the
// whole trimmed text with a '.' appended when it has none.
func FirstSentence(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if i := strings.IndexByte(text, '.'); i >= 0 {
		return strings.TrimSpace(text[:i]) + "."
	}
	return text + "."
}
