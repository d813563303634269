package tfidf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"
)

const DefaultMaxFeatures = 384

// ErrEmptyVocabulary is returned when the fitting corpus has no usable terms.
var ErrEmptyVocabulary = errors.New("tfidf: empty vocabulary; corpus contains only stop words or no terms")

// ErrAlreadyFitted is returned by Restore once a vocabulary is in place.
var ErrAlreadyFitted = errors.New("tfidf: embedder already fitted")

// State is the fitted vocabulary. Terms[i] owns dimension i.
type State struct {
	Terms []string  `json:"terms"`
	IDF   []float64 `json:"idf"`
}

// Embedder is a TF-IDF vectorizer. It is unfitted until the first Encode or
// Fit call and keeps that vocabulary for the rest of its life.
type Embedder struct {
	mu          sync.RWMutex
	maxFeatures int
	vocabulary  map[string]int
	idf         []float64
	terms       []string
	fitted      bool
	stopwords   map[string]struct{}
	onFit       func(State)
}

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}\p{N}]+)*`)

// NewEmbedder creates an unfitted embedder limited to maxFeatures terms.
func NewEmbedder(maxFeatures int) *Embedder {
	if maxFeatures <= 0 {
		maxFeatures = DefaultMaxFeatures
	}
	return &Embedder{maxFeatures: maxFeatures, stopwords: defaultStopwords()}
}

// OnFit registers a callback invoked once, right after fitting.
func (e *Embedder) OnFit(fn func(State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFit = fn
}

// Name returns the identifier of this embedder implementation.
func (e *Embedder) Name() string { return "tfidf" }

// Dimension is zero while unfitted.
func (e *Embedder) Dimension() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.terms)
}

// Fitted reports whether a vocabulary is in place.
func (e *Embedder) Fitted() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fitted
}

// Fit builds the vocabulary from corpus. It is a no-op once fitted.
func (e *Embedder) Fit(corpus []string) error {
	e.mu.Lock()
	if e.fitted {
		e.mu.Unlock()
		return nil
	}
	if err := e.fitLocked(corpus); err != nil {
		e.mu.Unlock()
		return err
	}
	state, hook := e.stateLocked(), e.onFit
	e.mu.Unlock()
	if hook != nil {
		hook(state)
	}
	return nil
}

func (e *Embedder) fitLocked(corpus []string) error {
	df := make(map[string]int)
	tf := make(map[string]int)
	for _, text := range corpus {
		seen := make(map[string]struct{})
		for _, tok := range e.tokenize(text) {
			tf[tok]++
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}
	if len(tf) == 0 {
		return ErrEmptyVocabulary
	}
	terms := make([]string, 0, len(tf))
	for term := range tf {
		terms = append(terms, term)
	}
	// keep the terms with the highest count over the whole corpus, not the
	// highest document frequency; ties broken alphabetically
	sort.Slice(terms, func(i, j int) bool {
		if tf[terms[i]] != tf[terms[j]] {
			return tf[terms[i]] > tf[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > e.maxFeatures {
		terms = terms[:e.maxFeatures]
	}
	sort.Strings(terms)

	n := float64(len(corpus))
	idf := make([]float64, len(terms))
	for i, term := range terms {
		// Smoothed IDF
		idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1.0
	}
	e.setLocked(terms, idf)
	return nil
}

func (e *Embedder) setLocked(terms []string, idf []float64) {
	e.terms = terms
	e.idf = idf
	e.vocabulary = make(map[string]int, len(terms))
	for i, t := range terms {
		e.vocabulary[t] = i
	}
	e.fitted = true
}

// State returns a copy of the fitted vocabulary.
func (e *Embedder) State() (State, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.fitted {
		return State{}, false
	}
	return e.stateLocked(), true
}

func (e *Embedder) stateLocked() State {
	return State{
		Terms: append([]string(nil), e.terms...),
		IDF:   append([]float64(nil), e.idf...),
	}
}

// Restore installs a previously fitted vocabulary into an unfitted embedder.
func (e *Embedder) Restore(s State) error {
	if len(s.Terms) == 0 || len(s.Terms) != len(s.IDF) {
		return fmt.Errorf("tfidf: invalid state: %d terms, %d idf values", len(s.Terms), len(s.IDF))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fitted {
		return ErrAlreadyFitted
	}
	e.setLocked(append([]string(nil), s.Terms...), append([]float64(nil), s.IDF...))
	return nil
}

// MarshalState encodes the fitted vocabulary as JSON.
func (e *Embedder) MarshalState() ([]byte, error) {
	s, ok := e.State()
	if !ok {
		return nil, errors.New("tfidf: embedder not fitted")
	}
	return json.Marshal(s)
}

// RestoreJSON installs a vocabulary produced by MarshalState.
func (e *Embedder) RestoreJSON(data []byte) error {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("tfidf: decode state: %w", err)
	}
	return e.Restore(s)
}

// Encode fits on texts when unfitted, then returns one L2-normalized vector
// per text. Texts without known terms map to the zero vector.
func (e *Embedder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := e.Fit(texts); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embedLocked(text)
	}
	return out, nil
}

func (e *Embedder) embedLocked(text string) []float32 {
	vec := make([]float32, len(e.terms))
	tf := make(map[int]int)
	total := 0
	for _, tok := range e.tokenize(text) {
		if idx, ok := e.vocabulary[tok]; ok {
			tf[idx]++
			total++
		}
	}
	if total == 0 {
		return vec
	}
	weights := make([]float64, len(e.terms))
	norm := 0.0
	for idx, count := range tf {
		w := float64(count) / float64(total) * e.idf[idx]
		weights[idx] = w
		norm += w * w
	}
	norm = math.Sqrt(norm)
	for idx := range tf {
		vec[idx] = float32(weights[idx] / norm)
	}
	return vec
}

func (e *Embedder) tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if utf8.RuneCountInString(t) < 2 {
			continue
		}
		if _, isStop := e.stopwords[t]; isStop {
			continue
		}
		out = append(out, t)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "its", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"what", "which", "who", "whom", "how", "why", "when", "where", "do", "does", "did", "has", "have", "had", "not", "no", "nor", "we", "you", "he", "she", "they", "them", "our", "your", "their", "his", "her", "my", "me", "us", "all", "any", "each", "few", "more", "most", "other", "some", "only", "also",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
