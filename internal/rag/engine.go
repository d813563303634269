package rag

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"docqa/internal/domain"
	"docqa/internal/generation"
	"docqa/internal/logger"
)

const (
	UnknownSource = "Unknown document"
	NoAnswer      = "I couldn't find a relevant answer."
	errorPrefix   = "Sorry, I encountered an error: "
)

type Config struct {
	TopK         int           `yaml:"top_k"`
	MaxSources   int           `yaml:"max_sources"`
	ExcerptChars int           `yaml:"excerpt_chars"`
	MaxTokens    int           `yaml:"max_tokens"`
	Temperature  float64       `yaml:"temperature"`
	Timeout      time.Duration `yaml:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		TopK:         4,
		MaxSources:   3,
		ExcerptChars: 200,
		MaxTokens:    512,
		Temperature:  0.3,
		Timeout:      30 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.TopK <= 0 {
		c.TopK = def.TopK
	}
	if c.MaxSources <= 0 {
		c.MaxSources = def.MaxSources
	}
	if c.ExcerptChars <= 0 {
		c.ExcerptChars = def.ExcerptChars
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = def.MaxTokens
	}
	if c.Temperature < 0 {
		c.Temperature = def.Temperature
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
}

// Stats reports engine activity.
type Stats struct {
	TotalQueries int64 `json:"total_queries"`
	IndexSize    int   `json:"index_size"`
}

// Engine answers questions over one Retriever. Ask never returns an error;
// failures become the answer text.
type Engine struct {
	retriever *Retriever
	gen       generation.Generator
	cfg       Config
	queries   atomic.Int64
	now       func() time.Time
}

func NewEngine(retriever *Retriever, gen generation.Generator, cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{
		retriever: retriever,
		gen:       generation.WithTimeout(gen, cfg.Timeout),
		cfg:       cfg,
		now:       time.Now,
	}
}

func (e *Engine) Ask(ctx context.Context, question string) domain.RAGResponse {
	e.queries.Add(1)
	log := logger.FromContext(ctx)
	resp := domain.RAGResponse{Sources: []domain.Source{}, Timestamp: e.now().UTC()}

	results, err := e.retriever.Query(ctx, question, e.cfg.TopK)
	if err != nil {
		log.Warn("retrieval failed", zap.Error(err))
		resp.Answer = errorPrefix + err.Error()
		return resp
	}
	grounding := JoinContext(results)
	answer, err := e.gen.Generate(ctx, generation.Request{
		Prompt:      BuildPrompt(question, grounding),
		Input:       grounding,
		Query:       question,
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
	})
	if err != nil {
		log.Warn("answer generation failed", zap.String("backend", e.gen.Name()), zap.Error(err))
		resp.Answer = errorPrefix + err.Error()
		return resp
	}
	if answer = strings.TrimSpace(answer); answer == "" {
		answer = NoAnswer
	}
	resp.Answer = answer
	resp.Sources = e.sources(results)
	return resp
}

func (e *Engine) sources(results []domain.SearchResult) []domain.Source {
	n := min(len(results), e.cfg.MaxSources)
	out := make([]domain.Source, 0, n)
	for i, r := range results[:n] {
		src := r.Chunk.Source
		if src == "" {
			src = UnknownSource
		}
		out = append(out, domain.Source{
			Source:  src,
			Excerpt: excerpt(r.Chunk.Text, e.cfg.ExcerptChars),
			Index:   i + 1,
		})
	}
	return out
}

func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	size, err := e.retriever.Size(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{TotalQueries: e.queries.Load(), IndexSize: size}, nil
}

// JoinContext concatenates retrieved chunk texts, best first.
func JoinContext(results []domain.SearchResult) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = r.Chunk.Text
	}
	return strings.Join(parts, "\n\n")
}

func BuildPrompt(question, grounding string) string {
	return fmt.Sprintf("Answer the question based on the context.\n\nContext: %s\n\nQuestion: %s\n\nAnswer:", grounding, question)
}

func excerpt(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n]) + "..."
}
