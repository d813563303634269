package generation

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"

	"docqa/internal/textnorm"
)

const ExtractiveName = "extractive"

// Extractive answers without a language model. With a query it returns the
// input sentences that best overlap the query; without one it ranks sentences
// by normalized term frequency and keeps the top few in document order.
type Extractive struct {
	maxSentences int
	stopwords    map[string]struct{}
}

func NewExtractive() *Extractive {
	return &Extractive{maxSentences: 3, stopwords: defaultStopwords()}
}

func (e *Extractive) Name() string { return ExtractiveName }

func (e *Extractive) Generate(_ context.Context, req Request) (string, error) {
	input := req.Input
	if strings.TrimSpace(input) == "" {
		input = req.Prompt
	}
	sentences := textnorm.Sentences(input)
	if len(sentences) == 0 {
		return "", errors.New("extractive: empty input")
	}
	if strings.TrimSpace(req.Query) != "" {
		return e.answer(sentences, req.Query), nil
	}
	return e.summarize(sentences), nil
}

type scored struct {
	idx   int
	score float64
}

func (e *Extractive) answer(sentences []string, query string) string {
	qset := map[string]struct{}{}
	for _, tok := range textnorm.Tokens(query) {
		if _, stop := e.stopwords[tok]; !stop {
			qset[tok] = struct{}{}
		}
	}
	scores := make([]scored, 0, len(sentences))
	for i, sent := range sentences {
		if s := textnorm.Ochiai(qset, sent); s > 0 {
			scores = append(scores, scored{i, s})
		}
	}
	return e.pick(sentences, scores, 2)
}

func (e *Extractive) summarize(sentences []string) string {
	freq := map[string]float64{}
	for _, sent := range sentences {
		for _, tok := range textnorm.Tokens(sent) {
			if _, ok := e.stopwords[tok]; ok {
				continue
			}
			freq[tok]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		if v > maxF {
			maxF = v
		}
	}
	if maxF > 0 {
		for k, v := range freq {
			freq[k] = v / maxF
		}
	}
	scores := make([]scored, len(sentences))
	for i, sent := range sentences {
		toks := textnorm.Tokens(sent)
		s := 0.0
		for _, tok := range toks {
			s += freq[tok]
		}
		// length normalization keeps long sentences from dominating
		if l := float64(len(toks)); l > 0 {
			s /= math.Sqrt(l)
		}
		scores[i] = scored{i, s}
	}
	return e.pick(sentences, scores, e.maxSentences)
}

// pick keeps the n best scores and returns those sentences in input order.
func (e *Extractive) pick(sentences []string, scores []scored, n int) string {
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if n > len(scores) {
		n = len(scores)
	}
	selected := make([]int, n)
	for i := 0; i < n; i++ {
		selected[i] = scores[i].idx
	}
	sort.Ints(selected)
	out := make([]string, 0, n)
	for _, idx := range selected {
		out = append(out, sentences[idx])
	}
	return strings.Join(out, " ")
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"what", "which", "who", "whom", "how", "why", "when", "where", "do", "does", "did", "tell", "me",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

func init() {
	Register(ExtractiveName, func(ProviderConfig) (Generator, error) {
		return NewExtractive(), nil
	})
}
