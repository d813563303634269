package embedding

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorCodec(t *testing.T) {
	v := []float32{0, 1.5, -2.25, 3.4028235e38}
	b := MarshalVector(v)
	assert.Len(t, b, 16)
	assert.Equal(t, []byte{0, 0, 0xC0, 0x3F}, b[4:8])

	got, err := UnmarshalVector(b)
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = UnmarshalVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 3}), 1e-9)
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 1}))
	assert.True(t, IsZero([]float32{0, 0}))
	assert.False(t, IsZero([]float32{0, 1e-9}))
}

type countingEmbedder struct {
	seen [][]string
}

func (c *countingEmbedder) Name() string   { return "counting" }
func (c *countingEmbedder) Dimension() int { return 1 }

func (c *countingEmbedder) Encode(_ context.Context, texts []string) ([][]float32, error) {
	c.seen = append(c.seen, texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func TestWithCache(t *testing.T) {
	inner := &countingEmbedder{}
	e := WithCache(inner, 10, time.Minute)

	first, err := e.Encode(context.Background(), []string{"a", "bb"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1}, {2}}, first)

	second, err := e.Encode(context.Background(), []string{"bb", "ccc", "a"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2}, {3}, {1}}, second)
	assert.Equal(t, [][]string{{"a", "bb"}, {"ccc"}}, inner.seen)

	// cached values are copies
	second[0][0] = 99
	third, err := e.Encode(context.Background(), []string{"bb"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2}}, third)

	assert.Same(t, inner, WithCache(inner, 0, time.Minute))
	assert.Equal(t, "counting", e.Name())
}
