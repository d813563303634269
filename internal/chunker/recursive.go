package chunker

import (
	"strings"
	"unicode/utf8"
)

var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// RecursiveSplitter breaks long text on the coarsest separator that keeps
// pieces under size, falling back to finer separators for oversized pieces.
type RecursiveSplitter struct {
	size       int
	overlap    int
	separators []string
}

// NewRecursiveSplitter returns a splitter using paragraph, line, sentence and
// word separators in that order.
func NewRecursiveSplitter(size, overlap int) (*RecursiveSplitter, error) {
	if err := validate(size, overlap); err != nil {
		return nil, err
	}
	return &RecursiveSplitter{size: size, overlap: overlap, separators: defaultSeparators}, nil
}

// Split returns trimmed, non-empty pieces of at most size runes.
func (s *RecursiveSplitter) Split(text string) []string {
	var out []string
	for _, piece := range s.split(text, s.separators) {
		if piece = strings.TrimSpace(piece); piece != "" {
			out = append(out, piece)
		}
	}
	return out
}

func (s *RecursiveSplitter) split(text string, separators []string) []string {
	if utf8.RuneCountInString(text) <= s.size {
		return []string{text}
	}
	sep, rest := pickSeparator(text, separators)
	if sep == "" {
		return s.hardSplit(text)
	}

	var (
		out     []string
		current []string
		curLen  int
	)
	sepLen := utf8.RuneCountInString(sep)
	flush := func() {
		if len(current) == 0 {
			return
		}
		out = append(out, strings.Join(current, sep))
		// keep a tail of whole parts as overlap for the next piece
		for len(current) > 0 && curLen > s.overlap {
			curLen -= utf8.RuneCountInString(current[0])
			if len(current) > 1 {
				curLen -= sepLen
			}
			current = current[1:]
		}
	}

	for _, part := range strings.Split(text, sep) {
		partLen := utf8.RuneCountInString(part)
		if partLen > s.size {
			flush()
			current, curLen = nil, 0
			out = append(out, s.split(part, rest)...)
			continue
		}
		added := partLen
		if len(current) > 0 {
			added += sepLen
		}
		if curLen+added > s.size {
			flush()
			for len(current) > 0 && curLen+sepLen+partLen > s.size {
				curLen -= utf8.RuneCountInString(current[0])
				if len(current) > 1 {
					curLen -= sepLen
				}
				current = current[1:]
			}
			added = partLen
			if len(current) > 0 {
				added += sepLen
			}
		}
		current = append(current, part)
		curLen += added
	}
	if len(current) > 0 {
		out = append(out, strings.Join(current, sep))
	}
	return out
}

func (s *RecursiveSplitter) hardSplit(text string) []string {
	runes := []rune(text)
	step := s.size - s.overlap
	var out []string
	for start := 0; start < len(runes); start += step {
		end := start + s.size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}

func pickSeparator(text string, separators []string) (string, []string) {
	for i, sep := range separators {
		if sep == "" || strings.Contains(text, sep) {
			return sep, separators[i+1:]
		}
	}
	return "", nil
}
