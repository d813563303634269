package generation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"docqa/internal/domain"
)

type stubGenerator struct {
	name  string
	text  string
	err   error
	delay time.Duration
	calls int
}

func (s *stubGenerator) Name() string { return s.name }

func (s *stubGenerator) Generate(ctx context.Context, _ Request) (string, error) {
	s.calls++
	if s.delay > 0 {
		// ignores ctx on purpose to prove the wrapper abandons it
		time.Sleep(s.delay)
	}
	return s.text, s.err
}

func TestWithTimeoutAbandonsSlowBackend(t *testing.T) {
	g := WithTimeout(&stubGenerator{name: "slow", text: "late", delay: 500 * time.Millisecond}, 20*time.Millisecond)
	start := time.Now()
	_, err := g.Generate(context.Background(), Request{Prompt: "p"})
	assert.ErrorIs(t, err, domain.ErrBackendTimeout)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestWithTimeoutClassifiesFailures(t *testing.T) {
	g := WithTimeout(&stubGenerator{name: "broken", err: errors.New("boom")}, time.Second)
	_, err := g.Generate(context.Background(), Request{})
	assert.ErrorIs(t, err, domain.ErrBackendUnavailable)
	assert.Contains(t, err.Error(), "boom")

	g = WithTimeout(&stubGenerator{name: "ok", text: "fine"}, time.Second)
	out, err := g.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "fine", out)
	assert.Equal(t, "ok", g.Name())
}

func TestGroupFallsBack(t *testing.T) {
	first := &stubGenerator{name: "a", err: errors.New("down")}
	second := &stubGenerator{name: "b", text: "answer"}
	g := NewGroup([]Entry{{Name: "a", Generator: first}, {Name: "b", Generator: second}})
	assert.Equal(t, "a|b", g.Name())
	out, err := g.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "answer", out)
	assert.Equal(t, 1, first.calls)

	bad := NewGroup([]Entry{{Name: "a", Generator: first}, {Name: "c", Generator: &stubGenerator{err: errors.New("last")}}})
	_, err = bad.Generate(context.Background(), Request{})
	assert.EqualError(t, err, "last")

	assert.Nil(t, NewGroup(nil))
	assert.Same(t, second, NewGroup([]Entry{{Generator: second}}))
}

func TestWithRateLimit(t *testing.T) {
	inner := &stubGenerator{name: "x", text: "ok"}
	assert.Same(t, inner, WithRateLimit(inner, nil))

	g := WithRateLimit(inner, rate.NewLimiter(rate.Every(time.Hour), 1))
	_, err := g.Generate(context.Background(), Request{})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = g.Generate(ctx, Request{})
	assert.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestRegistry(t *testing.T) {
	_, err := New(ProviderConfig{})
	assert.Error(t, err)
	_, err = New(ProviderConfig{Type: "nope"})
	assert.Error(t, err)
	g, err := New(ProviderConfig{Type: "Extractive"})
	require.NoError(t, err)
	assert.Equal(t, ExtractiveName, g.Name())
	_, err = New(ProviderConfig{Type: "openai"})
	assert.Error(t, err)
}

func TestProviderKey(t *testing.T) {
	t.Setenv("DOCQA_TEST_KEY", " from-env ")
	assert.Equal(t, "literal", ProviderConfig{APIKey: "literal", APIKeyEnv: "DOCQA_TEST_KEY"}.Key())
	assert.Equal(t, "from-env", ProviderConfig{APIKeyEnv: "DOCQA_TEST_KEY"}.Key())
	assert.Empty(t, ProviderConfig{}.Key())
}

func TestNewChain(t *testing.T) {
	g, err := NewChain(
		ProviderConfig{Type: "ollama", BaseURL: "http://127.0.0.1:1", Timeout: time.Second},
		[]ProviderConfig{{Type: "extractive"}},
		RateLimit{RPS: 100},
	)
	require.NoError(t, err)
	assert.Equal(t, "ollama:llama3.2|extractive", g.Name())
	out, err := g.Generate(context.Background(), Request{Prompt: "p", Input: "Alpha beta gamma. Delta.", Query: "gamma"})
	require.NoError(t, err)
	assert.Equal(t, "Alpha beta gamma.", out)

	_, err = NewChain(ProviderConfig{Type: "bogus"}, nil, RateLimit{})
	assert.Error(t, err)
}

func TestOpenAIGenerate(t *testing.T) {
	var got openAIChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" || r.Header.Get("Authorization") != "Bearer sk" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  generated  "}}]}`))
	}))
	defer srv.Close()

	g, err := NewOpenAI(ProviderConfig{APIKey: "sk", BaseURL: srv.URL + "/v1/", Model: "m"})
	require.NoError(t, err)
	out, err := g.Generate(context.Background(), Request{Prompt: "hello", MaxTokens: 512, Temperature: 0.3})
	require.NoError(t, err)
	assert.Equal(t, "generated", out)
	assert.Equal(t, "m", got.Model)
	assert.Equal(t, 512, got.MaxTokens)
	assert.InDelta(t, 0.3, got.Temperature, 1e-9)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hello", got.Messages[0].Content)

	bad, err := NewOpenAI(ProviderConfig{APIKey: "wrong", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)
	_, err = bad.Generate(context.Background(), Request{Prompt: "x"})
	assert.ErrorContains(t, err, "401")
}

func TestOllamaGenerate(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		if got.Model == "missing" {
			_, _ = w.Write([]byte(`{"error":"model not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"response":"local answer\n","done":true}`))
	}))
	defer srv.Close()

	g, err := NewOllama(ProviderConfig{BaseURL: srv.URL})
	require.NoError(t, err)
	out, err := g.Generate(context.Background(), Request{Prompt: "q", MaxTokens: 150, Temperature: 0.2})
	require.NoError(t, err)
	assert.Equal(t, "local answer", out)
	assert.False(t, got.Stream)
	assert.Equal(t, 150, got.Options.NumPredict)

	g, _ = NewOllama(ProviderConfig{BaseURL: srv.URL, Model: "missing"})
	_, err = g.Generate(context.Background(), Request{Prompt: "q"})
	assert.ErrorContains(t, err, "model not found")
}

func TestGeminiGenerate(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"gemini says hi "}]}}]}`))
	}))
	defer srv.Close()

	g, err := NewGemini(context.Background(), ProviderConfig{APIKey: "k", BaseURL: srv.URL + "/"})
	require.NoError(t, err)
	out, err := g.Generate(context.Background(), Request{Prompt: "hi", MaxTokens: 10})
	require.NoError(t, err)
	assert.Equal(t, "gemini says hi", out)
	assert.True(t, strings.HasSuffix(path, defaultGeminiModel+":generateContent"), path)

	_, err = NewGemini(context.Background(), ProviderConfig{})
	assert.Error(t, err)
}

func TestExtractiveAnswer(t *testing.T) {
	g := NewExtractive()
	ctx := context.Background()
	input := "Our lab studies networks. X is a protocol for Y. The weather was nice."
	out, err := g.Generate(ctx, Request{Input: input, Query: "What is X?"})
	require.NoError(t, err)
	assert.Equal(t, "X is a protocol for Y.", out)

	out, err = g.Generate(ctx, Request{Input: input, Query: "zebra migration"})
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = g.Generate(ctx, Request{Input: "  "})
	assert.Error(t, err)
}

func TestExtractiveSummary(t *testing.T) {
	g := NewExtractive()
	text := "Search engines index documents. " +
		"Indexing documents lets search engines answer queries. " +
		"Lunch was pasta. " +
		"Search quality depends on indexing documents well. " +
		"The cat slept."
	out, err := g.Generate(context.Background(), Request{Input: text})
	require.NoError(t, err)
	assert.NotContains(t, out, "Lunch")
	assert.NotContains(t, out, "cat")
	assert.True(t, strings.HasPrefix(out, "Search engines index documents."), out)
}
