package chunker

import "strings"

// Reconstruct joins ordered chunks back into one text, dropping the prefix of
// each chunk that repeats the tail of the text assembled so far. Whitespace
// trimmed at chunk boundaries is restored as a single space.
func Reconstruct(chunks []string, overlap int) string {
	if len(chunks) == 0 {
		return ""
	}
	var sb strings.Builder
	acc := []rune(chunks[0])
	sb.WriteString(chunks[0])
	for _, c := range chunks[1:] {
		next := []rune(c)
		k := sharedEdge(acc, next, overlap)
		rest := next[k:]
		if k == 0 {
			sb.WriteString(" ")
			acc = append(acc, ' ')
		}
		sb.WriteString(string(rest))
		acc = append(acc, rest...)
	}
	return sb.String()
}

// sharedEdge returns the longest k <= limit such that tail ends with head[:k].
func sharedEdge(tail, head []rune, limit int) int {
	if limit > len(head) {
		limit = len(head)
	}
	if limit > len(tail) {
		limit = len(tail)
	}
	for k := limit; k > 0; k-- {
		if equalRunes(tail[len(tail)-k:], head[:k]) {
			return k
		}
	}
	return 0
}

func equalRunes(a, b []rune) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
