package sections

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"docqa/internal/domain"
)

type mdHeading struct {
	title     string
	lineStart int
	lineEnd   int
}

// DetectMarkdown uses markdown heading nodes as section boundaries. Lines
// that only look like headings, such as '#' inside code fences, are body
// text. Markdown without headings goes through Detect.
func (d *Detector) DetectMarkdown(source string) []domain.Section {
	src := []byte(source)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var headings []mdHeading
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		h, ok := node.(*ast.Heading)
		if !ok || h.Lines().Len() == 0 {
			continue
		}
		first := h.Lines().At(0)
		last := h.Lines().At(h.Lines().Len() - 1)
		start := strings.LastIndexByte(source[:first.Start], '\n') + 1
		stop := last.Stop - 1
		if stop < first.Start {
			stop = first.Start
		}
		end := lineEnd(source, stop)
		if isSetext(source, first.Start) {
			// the underline sits on the following line
			end = lineEnd(source, end+1)
		}
		headings = append(headings, mdHeading{
			title:     strings.TrimSpace(string(h.Text(src))),
			lineStart: start,
			lineEnd:   end,
		})
	}
	if len(headings) == 0 {
		return d.Detect(source)
	}

	b := newBuilder(LeadTitle)
	b.add(source[:headings[0].lineStart])
	for i, h := range headings {
		b.start(h.title)
		next := len(source)
		if i+1 < len(headings) {
			next = headings[i+1].lineStart
		}
		if h.lineEnd < next {
			b.add(source[h.lineEnd:next])
		}
	}
	return b.finish(source)
}

func lineEnd(s string, from int) int {
	if from >= len(s) {
		return len(s)
	}
	if i := strings.IndexByte(s[from:], '\n'); i >= 0 {
		return from + i
	}
	return len(s)
}

func isSetext(s string, textStart int) bool {
	lineStart := strings.LastIndexByte(s[:textStart], '\n') + 1
	return !strings.HasPrefix(strings.TrimLeft(s[lineStart:textStart], " "), "#")
}
