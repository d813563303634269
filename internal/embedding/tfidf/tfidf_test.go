package tfidf

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func norm(v []float32) float64 {
	s := 0.0
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func dot(a, b []float32) float64 {
	s := 0.0
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func TestEncodeFitsOnce(t *testing.T) {
	e := NewEmbedder(0)
	assert.False(t, e.Fitted())
	assert.Zero(t, e.Dimension())

	corpus := []string{"raft consensus replicates logs", "gossip protocols spread membership"}
	vecs, err := e.Encode(context.Background(), corpus)
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.True(t, e.Fitted())
	dim := e.Dimension()
	assert.Equal(t, 8, dim)
	for _, v := range vecs {
		assert.Len(t, v, dim)
		assert.InDelta(t, 1.0, norm(v), 1e-5)
	}

	// later corpora are transformed with the first vocabulary
	later, err := e.Encode(context.Background(), []string{"completely unrelated vocabulary words"})
	require.NoError(t, err)
	assert.Equal(t, dim, e.Dimension())
	assert.Zero(t, norm(later[0]))
}

func TestEncodeSimilarity(t *testing.T) {
	e := NewEmbedder(0)
	docs := []string{
		"raft is a consensus protocol for replicated logs",
		"bread recipes need flour water and yeast",
	}
	vecs, err := e.Encode(context.Background(), docs)
	require.NoError(t, err)
	q, err := e.Encode(context.Background(), []string{"which protocol gives consensus"})
	require.NoError(t, err)
	assert.Greater(t, dot(q[0], vecs[0]), dot(q[0], vecs[1]))
}

func TestMaxFeatures(t *testing.T) {
	e := NewEmbedder(3)
	require.NoError(t, e.Fit([]string{"alpha alpha alpha beta beta gamma delta", "alpha beta epsilon"}))
	s, ok := e.State()
	require.True(t, ok)
	assert.Equal(t, []string{"alpha", "beta", "delta"}, s.Terms)
}

func TestMaxFeaturesRanksByCorpusCount(t *testing.T) {
	e := NewEmbedder(2)
	require.NoError(t, e.Fit([]string{"zeta zeta zeta zeta", "alpha beta", "alpha beta"}))
	s, ok := e.State()
	require.True(t, ok)
	// zeta is in one document only but occurs most often
	assert.Equal(t, []string{"alpha", "zeta"}, s.Terms)
}

func TestEmptyVocabulary(t *testing.T) {
	e := NewEmbedder(0)
	_, err := e.Encode(context.Background(), []string{"the and of", "a"})
	assert.ErrorIs(t, err, ErrEmptyVocabulary)
	assert.False(t, e.Fitted())
}

func TestStateRoundTrip(t *testing.T) {
	var hooked State
	a := NewEmbedder(0)
	a.OnFit(func(s State) { hooked = s })
	_, err := a.Encode(context.Background(), []string{"vector search with cosine similarity"})
	require.NoError(t, err)
	assert.NotEmpty(t, hooked.Terms)

	data, err := a.MarshalState()
	require.NoError(t, err)

	b := NewEmbedder(0)
	require.NoError(t, b.RestoreJSON(data))
	assert.ErrorIs(t, b.RestoreJSON(data), ErrAlreadyFitted)

	va, err := a.Encode(context.Background(), []string{"cosine search"})
	require.NoError(t, err)
	vb, err := b.Encode(context.Background(), []string{"cosine search"})
	require.NoError(t, err)
	assert.Equal(t, va, vb)

	_, err = NewEmbedder(0).MarshalState()
	assert.Error(t, err)
}

func TestConcurrentEncode(t *testing.T) {
	e := NewEmbedder(0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.Encode(context.Background(), []string{fmt.Sprintf("document number %d about storage engines", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.True(t, e.Fitted())
}
