// Package summarizer produces plain and section-aware summaries through a
// generation backend, degrading to each segment's first sentence whenever
// the backend fails or returns nothing.
package summarizer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"docqa/internal/chunker"
	"docqa/internal/domain"
	"docqa/internal/generation"
	"docqa/internal/logger"
	"docqa/internal/sections"
	"docqa/internal/textnorm"
)

type Config struct {
	MinWords     int           `yaml:"min_words"`
	MaxWords     int           `yaml:"max_words"`
	MaxTokens    int           `yaml:"max_tokens"`
	Temperature  float64       `yaml:"temperature"`
	Timeout      time.Duration `yaml:"timeout"`
	ChunkSize    int           `yaml:"chunk_size"`
	ChunkOverlap int           `yaml:"chunk_overlap"`
	ExcerptChars int           `yaml:"excerpt_chars"`
	CacheSize    int           `yaml:"cache_size"`
	Parallelism  int           `yaml:"parallelism"`
}

func DefaultConfig() Config {
	return Config{
		MinWords:     40,
		MaxWords:     150,
		MaxTokens:    150,
		Temperature:  0.2,
		Timeout:      30 * time.Second,
		ChunkSize:    2000,
		ChunkOverlap: 200,
		ExcerptChars: 600,
		CacheSize:    256,
		Parallelism:  4,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.MinWords <= 0 {
		c.MinWords = def.MinWords
	}
	if c.MaxWords < c.MinWords {
		c.MaxWords = def.MaxWords
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = c.MaxWords
	}
	if c.Temperature < 0 {
		c.Temperature = def.Temperature
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = def.ChunkSize
	}
	if c.ChunkOverlap <= 0 || c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = def.ChunkOverlap
	}
	if c.ExcerptChars <= 0 {
		c.ExcerptChars = def.ExcerptChars
	}
	if c.CacheSize <= 0 {
		c.CacheSize = def.CacheSize
	}
	if c.Parallelism <= 0 {
		c.Parallelism = def.Parallelism
	}
}

var _ domain.Summarizer = (*Summarizer)(nil)

type Summarizer struct {
	gen       generation.Generator
	cfg       Config
	splitter  *chunker.RecursiveSplitter
	detector  *sections.Detector
	plain     *lru.Cache[string, string]
	sectioned *lru.Cache[string, *domain.SectionedSummary]
}

// New wraps gen with the configured timeout. A nil detector uses default
// heuristics.
func New(gen generation.Generator, detector *sections.Detector, cfg Config) (*Summarizer, error) {
	if gen == nil {
		return nil, fmt.Errorf("summarizer: generator is required")
	}
	cfg.applyDefaults()
	splitter, err := chunker.NewRecursiveSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	plain, err := lru.New[string, string](cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	sectioned, err := lru.New[string, *domain.SectionedSummary](cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	if detector == nil {
		detector = sections.New(sections.DefaultConfig())
	}
	return &Summarizer{
		gen:       generation.WithTimeout(gen, cfg.Timeout),
		cfg:       cfg,
		splitter:  splitter,
		detector:  detector,
		plain:     plain,
		sectioned: sectioned,
	}, nil
}

// Summarize splits long text into pieces, summarizes each and joins the
// results with single spaces. It never fails; empty input yields "".
func (s *Summarizer) Summarize(ctx context.Context, text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	key := digest("plain", text)
	if v, ok := s.plain.Get(key); ok {
		return v
	}
	pieces := s.splitter.Split(text)
	parts := make([]string, len(pieces))
	degraded := make([]bool, len(pieces))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)
	for i, piece := range pieces {
		g.Go(func() error {
			prompt := fmt.Sprintf(
				"You are a helpful assistant. Summarize the following passage in %d-%d words, keeping all key facts:\n\n%s",
				s.cfg.MinWords, s.cfg.MaxWords, piece)
			var ok bool
			parts[i], ok = s.generate(gctx, prompt, piece)
			degraded[i] = !ok
			return nil
		})
	}
	_ = g.Wait()

	summary := strings.TrimSpace(strings.ReplaceAll(strings.Join(parts, " "), "  ", " "))
	if !anyTrue(degraded) {
		s.plain.Add(key, summary)
	}
	return summary
}

// SummarizeWithSections detects sections in text, then summarizes the whole
// document and every non-empty section.
func (s *Summarizer) SummarizeWithSections(ctx context.Context, text string) *domain.SectionedSummary {
	if strings.TrimSpace(text) == "" {
		return &domain.SectionedSummary{Sections: []domain.SectionSummary{}}
	}
	return s.summarizeSections(ctx, text, s.detector.Detect(text))
}

// SummarizeSections summarizes sections that were detected elsewhere, for
// example from DOCX paragraph styles or markdown headings.
func (s *Summarizer) SummarizeSections(ctx context.Context, secs []domain.Section) *domain.SectionedSummary {
	bodies := make([]string, 0, len(secs))
	for _, sec := range secs {
		if b := strings.TrimSpace(sec.Body); b != "" {
			bodies = append(bodies, b)
		}
	}
	if len(bodies) == 0 {
		return &domain.SectionedSummary{Sections: []domain.SectionSummary{}}
	}
	return s.summarizeSections(ctx, strings.Join(bodies, "\n\n"), secs)
}

func (s *Summarizer) summarizeSections(ctx context.Context, text string, secs []domain.Section) *domain.SectionedSummary {
	var kb strings.Builder
	kb.WriteString(text)
	for _, sec := range secs {
		kb.WriteString("\x00" + sec.Title + "\x00" + sec.Body)
	}
	key := digest("sections", kb.String())
	if v, ok := s.sectioned.Get(key); ok {
		return cloneSectioned(v)
	}

	var kept []domain.Section
	for _, sec := range secs {
		if strings.TrimSpace(sec.Body) != "" {
			kept = append(kept, sec)
		}
	}
	out := &domain.SectionedSummary{
		Sections:      make([]domain.SectionSummary, len(kept)),
		TotalSections: len(kept),
	}
	degraded := make([]bool, len(kept)+1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)
	g.Go(func() error {
		prompt := fmt.Sprintf("Provide an executive summary of the following document in %d-%d words:\n\n%s",
			s.cfg.MinWords, s.cfg.MaxWords, text)
		var ok bool
		out.OverallSummary, ok = s.generate(gctx, prompt, text)
		degraded[len(kept)] = !ok
		return nil
	})
	for i, sec := range kept {
		g.Go(func() error {
			body := strings.TrimSpace(sec.Body)
			prompt := fmt.Sprintf("Summarize the section titled '%s' in %d-%d words:\n\n%s",
				sec.Title, s.cfg.MinWords, s.cfg.MaxWords, body)
			summary, ok := s.generate(gctx, prompt, body)
			degraded[i] = !ok
			out.Sections[i] = domain.SectionSummary{
				Title:     sec.Title,
				Excerpt:   excerpt(body, s.cfg.ExcerptChars),
				Summary:   summary,
				WordCount: textnorm.WordCount(body),
				CharCount: utf8.RuneCountInString(body),
			}
			return nil
		})
	}
	_ = g.Wait()

	if !anyTrue(degraded) {
		s.sectioned.Add(key, cloneSectioned(out))
	}
	return out
}

// generate returns the backend output, or the segment's first sentence and
// false when the backend fails or answers with nothing.
func (s *Summarizer) generate(ctx context.Context, prompt, segment string) (string, bool) {
	out, err := s.gen.Generate(ctx, generation.Request{
		Prompt:      prompt,
		Input:       segment,
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
	})
	if out = strings.TrimSpace(out); err == nil && out != "" {
		return out, true
	}
	fields := []zap.Field{zap.String("backend", s.gen.Name()), zap.Int("segment_chars", len(segment))}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	logger.FromContext(ctx).Warn("summary generation degraded to first sentence", fields...)
	return textnorm.FirstSentence(segment), false
}

func excerpt(body string, n int) string {
	if utf8.RuneCountInString(body) <= n {
		return body
	}
	return string([]rune(body)[:n]) + "…"
}

func digest(kind, text string) string {
	sum := sha256.Sum256([]byte(kind + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func cloneSectioned(v *domain.SectionedSummary) *domain.SectionedSummary {
	c := *v
	c.Sections = append([]domain.SectionSummary(nil), v.Sections...)
	return &c
}

func anyTrue(v []bool) bool {
	for _, b := range v {
		if b {
			return true
		}
	}
	return false
}
