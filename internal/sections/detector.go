// Package sections partitions document text into titled sections.
package sections

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"docqa/internal/domain"
)

const (
	// DocumentTitle names the single section of a text without headers.
	DocumentTitle = "Document"
	// LeadTitle names text that precedes the first detected header.
	LeadTitle = "Introduction"
)

var defaultKeywords = []string{
	"introduction", "abstract", "executive summary", "overview",
	"background", "literature review", "methodology", "methods",
	"results", "findings", "discussion", "analysis", "conclusion",
	"recommendations", "implications", "future work", "references",
	"bibliography", "appendix", "acknowledgments", "summary",
	"challenges", "opportunities", "impact", "benefits", "risks",
	"implementation", "strategy", "approach", "framework", "model",
	"case study", "examples", "applications", "limitations",
}

// Config holds the header heuristics' thresholds.
type Config struct {
	Keywords       []string `yaml:"keywords"`
	HeaderMaxChars int      `yaml:"header_max_chars"`
	UpperMaxChars  int      `yaml:"upper_max_chars"`
	TitleMaxChars  int      `yaml:"title_max_chars"`
	TitleMaxWords  int      `yaml:"title_max_words"`
	TitleCaseRatio float64  `yaml:"title_case_ratio"`
	StyledMinFont  float64  `yaml:"styled_min_font"`
}

func DefaultConfig() Config {
	return Config{
		Keywords:       append([]string(nil), defaultKeywords...),
		HeaderMaxChars: 100,
		UpperMaxChars:  50,
		TitleMaxChars:  80,
		TitleMaxWords:  5,
		TitleCaseRatio: 0.7,
		StyledMinFont:  13,
	}
}

var (
	numberedRe = regexp.MustCompile(`^\d+[.)]\s+\S`)
	romanRe    = regexp.MustCompile(`^[IVX]+\.\s+[A-Z]`)
)

// Detector applies header heuristics line by line. It never fails.
type Detector struct {
	cfg Config
}

// New fills unset thresholds in cfg with defaults.
func New(cfg Config) *Detector {
	def := DefaultConfig()
	if len(cfg.Keywords) == 0 {
		cfg.Keywords = def.Keywords
	}
	if cfg.HeaderMaxChars <= 0 {
		cfg.HeaderMaxChars = def.HeaderMaxChars
	}
	if cfg.UpperMaxChars <= 0 {
		cfg.UpperMaxChars = def.UpperMaxChars
	}
	if cfg.TitleMaxChars <= 0 {
		cfg.TitleMaxChars = def.TitleMaxChars
	}
	if cfg.TitleMaxWords <= 0 {
		cfg.TitleMaxWords = def.TitleMaxWords
	}
	if cfg.TitleCaseRatio <= 0 {
		cfg.TitleCaseRatio = def.TitleCaseRatio
	}
	if cfg.StyledMinFont <= 0 {
		cfg.StyledMinFont = def.StyledMinFont
	}
	keywords := make([]string, len(cfg.Keywords))
	for i, k := range cfg.Keywords {
		keywords[i] = strings.ToLower(k)
	}
	cfg.Keywords = keywords
	return &Detector{cfg: cfg}
}

// Detect splits text into sections. Text before the first header becomes a
// LeadTitle section; text without any header becomes one DocumentTitle section.
func (d *Detector) Detect(text string) []domain.Section {
	b := newBuilder(LeadTitle)
	for _, line := range strings.Split(text, "\n") {
		if d.IsHeader(line) {
			b.start(strings.TrimSpace(line))
			continue
		}
		b.add(line)
	}
	return b.finish(text)
}

// IsHeader reports whether a single line looks like a section header.
func (d *Detector) IsHeader(line string) bool {
	s := strings.TrimSpace(line)
	if s == "" {
		return false
	}
	n := utf8.RuneCountInString(s)
	if n < d.cfg.HeaderMaxChars {
		lower := strings.ToLower(s)
		for _, k := range d.cfg.Keywords {
			if strings.Contains(lower, k) {
				return true
			}
		}
	}
	if numberedRe.MatchString(s) || romanRe.MatchString(s) {
		return true
	}
	if n < d.cfg.UpperMaxChars && isUpper(s) {
		return true
	}
	return d.looksLikeTitle(s, n)
}

func (d *Detector) looksLikeTitle(s string, n int) bool {
	if n >= d.cfg.TitleMaxChars || isDigits(s) ||
		strings.HasSuffix(s, ".") || strings.HasSuffix(s, ":") || strings.HasSuffix(s, ";") {
		return false
	}
	first, _ := utf8.DecodeRuneInString(s)
	if !unicode.IsUpper(first) {
		return false
	}
	words := strings.Fields(s)
	if len(words) > d.cfg.TitleMaxWords {
		return false
	}
	capitalized := 0
	for _, w := range words {
		r, _ := utf8.DecodeRuneInString(w)
		if unicode.IsUpper(r) {
			capitalized++
		}
	}
	return float64(capitalized) >= float64(len(words))*d.cfg.TitleCaseRatio
}

// DetectParagraphs uses formatting hints: heading styles, bold text at or
// above StyledMinFont points, and short title-cased lines.
func (d *Detector) DetectParagraphs(paras []domain.Paragraph) []domain.Section {
	b := newBuilder(LeadTitle)
	var all []string
	for _, p := range paras {
		text := strings.TrimSpace(p.Text)
		if text == "" {
			continue
		}
		all = append(all, text)
		heading := strings.Contains(strings.ToLower(p.Style), "heading")
		if heading || (p.Bold && p.FontSize >= d.cfg.StyledMinFont) ||
			(utf8.RuneCountInString(text) < d.cfg.TitleMaxChars && isTitle(text)) {
			b.start(text)
			continue
		}
		b.add(text)
	}
	return b.finish(strings.Join(all, "\n"))
}

type builder struct {
	sections []domain.Section
	title    string
	body     []string
	headers  int
}

func newBuilder(leadTitle string) *builder {
	return &builder{title: leadTitle}
}

func (b *builder) start(title string) {
	b.flush()
	b.title = title
	b.body = nil
	b.headers++
}

func (b *builder) add(line string) { b.body = append(b.body, line) }

func (b *builder) flush() {
	if body := strings.TrimSpace(strings.Join(b.body, "\n")); body != "" {
		b.sections = append(b.sections, domain.Section{Title: b.title, Body: body})
	}
}

func (b *builder) finish(full string) []domain.Section {
	b.flush()
	if b.headers == 0 || len(b.sections) == 0 {
		return []domain.Section{{Title: DocumentTitle, Body: full}}
	}
	return b.sections
}

// isUpper: at least one cased letter and no lower-case letters.
func isUpper(s string) bool {
	cased := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) || unicode.IsTitle(r) {
			cased = true
		}
	}
	return cased
}

// isTitle: every word starts upper-case and continues lower-case.
func isTitle(s string) bool {
	cased, prevCased := false, false
	for _, r := range s {
		switch {
		case unicode.IsUpper(r) || unicode.IsTitle(r):
			if prevCased {
				return false
			}
			prevCased, cased = true, true
		case unicode.IsLower(r):
			if !prevCased {
				return false
			}
			prevCased, cased = true, true
		default:
			prevCased = false
		}
	}
	return cased
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
