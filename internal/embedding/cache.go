package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"docqa/internal/domain"
	"docqa/internal/logger"
)

// WithCache wraps e with an expiring LRU keyed by embedder name and text.
// Only texts missing from the cache reach e.
func WithCache(e domain.Embedder, size int, ttl time.Duration) domain.Embedder {
	if e == nil || size <= 0 || ttl <= 0 {
		return e
	}
	return &cachedEmbedder{
		next:  e,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

type cachedEmbedder struct {
	next  domain.Embedder
	cache *expirable.LRU[string, []float32]
}

// Unwrap returns the wrapped embedder.
func (c *cachedEmbedder) Unwrap() domain.Embedder { return c.next }

func (c *cachedEmbedder) Name() string { return c.next.Name() }

func (c *cachedEmbedder) Dimension() int { return c.next.Dimension() }

func (c *cachedEmbedder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var (
		missTexts []string
		missIdx   []int
	)
	for i, t := range texts {
		keys[i] = c.key(t)
		if v, ok := c.cache.Get(keys[i]); ok {
			out[i] = clone(v)
			continue
		}
		missTexts = append(missTexts, t)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		logger.FromContext(ctx).Debug("embedding cache hit", zap.Int("texts", len(texts)))
		return out, nil
	}
	vecs, err := c.next.Encode(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		c.cache.Add(keys[i], clone(vecs[j]))
	}
	return out, nil
}

func (c *cachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(c.next.Name() + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func clone(v []float32) []float32 {
	if len(v) == 0 {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
